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

// Package workflow assembles commands into the chains the service runs.
// This file defines the heart session workflow, which analyses frames posted
// to the API while the request waits, and the pieces it shares with the
// recording workflow.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"text/template"

	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/cloud"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/commands"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/cor"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/model"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/vision"
)

// Context keys shared by the commands of a workflow run.
const (
	SessionParamName = "__session__"
	ReportParamName  = "__sampling_report__"
)

var (
	// ErrInvalidBatch is returned for batches that cannot be analysed at all.
	ErrInvalidBatch = errors.New("invalid frame batch")
	// ErrTooManyFrames is returned, before any frame is decoded, for batches
	// larger than server.max_frames.
	ErrTooManyFrames = errors.New("too many frames")
)

// Dependencies are the collaborators a workflow needs beyond its config.
type Dependencies struct {
	Detector     vision.Detector        // Required.
	Sessions     commands.SessionWriter // Nil skips persistence.
	InsightModel cloud.ContentGenerator // Nil skips the stress insight.
	Storage      *storage.Client        // Recordings and reports; recording workflow only.
}

// HeartSessionWorkflow turns a *model.FrameBatch into a finished session:
// open the session, sample the foreheads, estimate, optionally explain, store.
type HeartSessionWorkflow struct {
	cor.BaseCommand
	config *cloud.Config
	deps   Dependencies
	chain  cor.Chain
}

func (w *HeartSessionWorkflow) Execute(context cor.Context) {
	w.chain.Execute(context)
}

// Analyze runs the workflow for one batch and returns the session. On
// vision.ErrInsufficientValidFrames the session is still returned so the
// caller can report the frame counts.
func (w *HeartSessionWorkflow) Analyze(ctx context.Context, batch *model.FrameBatch) (*model.HeartSession, error) {
	if err := w.validate(batch); err != nil {
		return nil, err
	}

	chCtx := cor.NewBaseContext()
	defer chCtx.Close()
	chCtx.SetContext(ctx)
	chCtx.Add(cor.CtxIn, batch)

	w.Execute(chCtx)

	session, _ := chCtx.Get(SessionParamName).(*model.HeartSession)
	if err := chCtx.Err(); err != nil {
		return session, err
	}
	if session == nil {
		return nil, fmt.Errorf("%s produced no session", w.GetName())
	}
	return session, nil
}

func (w *HeartSessionWorkflow) validate(batch *model.FrameBatch) error {
	switch {
	case batch == nil:
		return fmt.Errorf("%w: no batch", ErrInvalidBatch)
	case batch.UserId == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidBatch)
	case len(batch.Frames) == 0:
		return fmt.Errorf("%w: no frames", ErrInvalidBatch)
	case batch.FPS < 0:
		return fmt.Errorf("%w: fps must be positive, got %v", ErrInvalidBatch, batch.FPS)
	case len(batch.Frames) > w.config.Server.MaxFrames:
		return fmt.Errorf("%w: %d frames, at most %d accepted", ErrTooManyFrames, len(batch.Frames), w.config.Server.MaxFrames)
	}
	return nil
}

func (w *HeartSessionWorkflow) initializeChain() error {
	out := cor.NewBaseChain(w.GetName())
	out.AddCommand(commands.NewSessionFromFrameBatch("session-from-frame-batch", SessionParamName, sessionDefaults(w.config)))
	if err := addAnalysisCommands(out, w.config, w.deps, true); err != nil {
		return err
	}
	w.chain = out
	return nil
}

// NewHeartSessionWorkflow fails when the heart configuration cannot produce
// a filter or the insight template does not parse.
func NewHeartSessionWorkflow(config *cloud.Config, deps Dependencies) (*HeartSessionWorkflow, error) {
	if deps.Detector == nil {
		return nil, errors.New("heart session workflow needs a face detector")
	}
	w := &HeartSessionWorkflow{
		BaseCommand: *cor.NewBaseCommand("heart-session-workflow"),
		config:      config,
		deps:        deps,
	}
	if err := w.initializeChain(); err != nil {
		return nil, err
	}
	return w, nil
}

func sessionDefaults(config *cloud.Config) commands.SessionDefaults {
	return commands.SessionDefaults{FPS: config.Heart.FPS, Channel: config.Vision.Channel}
}

// addAnalysisCommands appends everything from forehead sampling to
// persistence. A strict sampler fails the run on too few valid frames.
func addAnalysisCommands(out cor.Chain, config *cloud.Config, deps Dependencies, strict bool) error {
	samplerConfig := vision.SamplerConfig{
		Workers:        config.Application.ThreadPoolSize,
		MinValidFrames: config.Vision.MinValidFrames,
	}
	out.AddCommand(commands.NewForeheadSampler("forehead-sampler", deps.Detector, samplerConfig, SessionParamName, ReportParamName, strict))

	estimator, err := commands.NewHeartMetricsEstimator("heart-metrics-estimator", config.Heart, SessionParamName)
	if err != nil {
		return err
	}
	out.AddCommand(estimator)

	if deps.InsightModel != nil {
		insightTemplate, err := template.New("insight-template").Parse(config.PromptTemplates.InsightPrompt)
		if err != nil {
			return fmt.Errorf("failed to parse insight prompt: %w", err)
		}
		out.AddCommand(commands.NewStressInsightCreator("stress-insight-creator", deps.InsightModel, insightTemplate, SessionParamName))
		out.AddCommand(commands.NewStressInsightJsonToStruct("stress-insight-json-to-struct", SessionParamName))
	}

	if deps.Sessions != nil {
		out.AddCommand(commands.NewSessionPersistToBigQuery("session-persist-to-bigquery", deps.Sessions, SessionParamName))
	}
	return nil
}
