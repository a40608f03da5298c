// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main contains the setup and initialization logic for the server's
// state: configuration, Google Cloud clients, the face detector and the
// session services the API and listeners share.
//
// Functions:
//   - SetupOS: Points the configuration loader at the configs directory.
//   - GetConfig: Loads and validates the configuration once.
//   - InitState: Creates every client and service and starts the listeners.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/cloud"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/services"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/vision/cascade"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/workflow"
)

// StateManager holds the dependencies shared by the handlers and listeners.
type StateManager struct {
	once           sync.Once
	config         *cloud.Config
	cloud          *cloud.ServiceClients
	detector       *cascade.Detector
	sessionService *services.SessionService
	heartWorkflow  *workflow.HeartSessionWorkflow
}

var state = &StateManager{}

// SetupOS sets the environment variables the configuration loader reads.
// An existing GCP_RUNTIME is kept, so deployments pick their own overrides;
// otherwise ".env.local.toml" is layered over ".env.toml".
func SetupOS() (err error) {
	if os.Getenv(cloud.EnvConfigFilePrefix) == "" {
		if err = os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
			return err
		}
	}
	if os.Getenv(cloud.EnvConfigRuntime) == "" {
		err = os.Setenv(cloud.EnvConfigRuntime, "local")
	}
	return err
}

// GetConfig loads the configuration on first use and returns the cached copy.
// The server refuses to start on a configuration it cannot run with.
func GetConfig() *cloud.Config {
	state.once.Do(func() {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup os: %v\n", err)
		}
		config := cloud.NewConfig()
		if err := cloud.LoadConfig(config); err != nil {
			log.Fatalf("failed to load configuration: %v\n", err)
		}
		if err := config.Validate(); err != nil {
			log.Fatalf("invalid configuration: %v\n", err)
		}
		state.config = config
	})
	return state.config
}

// InitState creates the cloud clients, the cascade detector, the session
// service and the heart session workflow, then starts the Pub/Sub listeners.
func InitState(ctx context.Context) error {
	config := GetConfig()

	cloudClients, err := cloud.NewCloudServiceClients(ctx, config)
	if err != nil {
		return err
	}
	state.cloud = cloudClients

	detector, err := cascade.NewDetector(cascade.Config{
		File:         config.Vision.CascadeFile,
		ScaleFactor:  config.Vision.ScaleFactor,
		MinNeighbors: config.Vision.MinNeighbors,
		MinSize:      config.Vision.MinFaceSize,
		PoolSize:     config.Application.ThreadPoolSize,
	})
	if err != nil {
		return fmt.Errorf("face detector: %w", err)
	}
	state.detector = detector

	state.sessionService = &services.SessionService{
		BigqueryClient:   cloudClients.BigQueryClient,
		StorageClient:    cloudClients.StorageClient,
		IAMClient:        cloudClients.IAMClient,
		SignerEmail:      config.Application.SignerServiceAccountEmail,
		DatasetName:      config.BigQueryDataSource.DatasetName,
		SessionTable:     config.BigQueryDataSource.SessionTable,
		RecordingsBucket: config.Storage.RecordingsBucket,
	}

	deps := NewDependencies(config, cloudClients, detector, state.sessionService)
	if state.heartWorkflow, err = workflow.NewHeartSessionWorkflow(config, deps); err != nil {
		return err
	}

	return SetupListeners(ctx, config, cloudClients, deps)
}

// NewDependencies collects the workflow collaborators. The insight model is
// only set when application.insight_model names a registered model.
func NewDependencies(
	config *cloud.Config,
	cloudClients *cloud.ServiceClients,
	detector *cascade.Detector,
	sessions *services.SessionService) workflow.Dependencies {

	deps := workflow.Dependencies{
		Detector: detector,
		Sessions: sessions,
		Storage:  cloudClients.StorageClient,
	}
	if model, ok := cloudClients.AgentModels[config.Application.InsightModel]; ok && model != nil {
		deps.InsightModel = model
	}
	return deps
}

// Close releases the detector and the cloud clients.
func (s *StateManager) Close() {
	if s.detector != nil {
		_ = s.detector.Close()
	}
	if s.cloud != nil {
		s.cloud.Close()
	}
}
