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

// Package main contains the logic for setting up and starting the Pub/Sub
// message listeners. A finalize notification for a webcam recording starts
// the recording analysis workflow.
package main

import (
	"context"
	"log/slog"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/cloud"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/workflow"
)

// RecordingTopic is the topic_subscriptions key for recording notifications.
const RecordingTopic = "RecordingTopic"

// SetupListeners attaches the recording analysis workflow to its listener
// and starts it. Without a RecordingTopic subscription, recordings are
// accepted but never analysed, which is logged rather than fatal.
func SetupListeners(ctx context.Context, config *cloud.Config, cloudClients *cloud.ServiceClients, deps workflow.Dependencies) error {
	listener, ok := cloudClients.PubSubListeners[RecordingTopic]
	if !ok {
		slog.Warn("no recording subscription configured, uploads will not be analysed", "key", RecordingTopic)
		return nil
	}

	recordingAnalysis, err := workflow.NewRecordingAnalysisWorkflow(config, deps)
	if err != nil {
		return err
	}
	listener.SetCommand(recordingAnalysis)
	listener.Listen(ctx)
	return nil
}
