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

package workflow

import (
	"errors"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/cloud"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/commands"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/cor"
)

// RecordingAnalysisWorkflow analyses a webcam recording announced by a
// Cloud Storage notification. It is attached to the recording topic's
// PubSubListener, which acks the message only when the run has no errors.
//
// Chain: parse the notification, download the recording, extract frames
// with ffmpeg, open the session, then the shared analysis steps, and finally
// publish the JSON report. A recording with too few usable frames is not an
// error here; its session is stored with that status so the message is acked.
type RecordingAnalysisWorkflow struct {
	cor.BaseCommand
	config *cloud.Config
	deps   Dependencies
	chain  cor.Chain
}

func (w *RecordingAnalysisWorkflow) Execute(context cor.Context) {
	w.chain.Execute(context)
}

func (w *RecordingAnalysisWorkflow) initializeChain() error {
	out := cor.NewBaseChain(w.GetName())
	out.AddCommand(commands.NewRecordingTriggerReader("recording-trigger-reader", w.config.Storage.RecordingsBucket))
	out.AddCommand(commands.NewGCSToTempFile("gcs-to-temp-file", w.deps.Storage, "recording-"))
	out.AddCommand(commands.NewFrameExtractor("frame-extractor", w.config.Vision.FFmpegPath, w.config.Heart.FPS, w.config.Server.MaxFrames))
	out.AddCommand(commands.NewSessionFromRecording("session-from-recording", SessionParamName, sessionDefaults(w.config)))
	if err := addAnalysisCommands(out, w.config, w.deps, false); err != nil {
		return err
	}
	if w.config.Storage.ReportsBucket != "" {
		out.AddCommand(commands.NewReportUpload("report-upload", w.deps.Storage, w.config.Storage.ReportsBucket, SessionParamName))
	}
	w.chain = out
	return nil
}

// NewRecordingAnalysisWorkflow needs a detector and a storage client.
func NewRecordingAnalysisWorkflow(config *cloud.Config, deps Dependencies) (*RecordingAnalysisWorkflow, error) {
	if deps.Detector == nil || deps.Storage == nil {
		return nil, errors.New("recording workflow needs a face detector and a storage client")
	}
	w := &RecordingAnalysisWorkflow{
		BaseCommand: *cor.NewBaseCommand("recording-analysis-workflow"),
		config:      config,
		deps:        deps,
	}
	if err := w.initializeChain(); err != nil {
		return nil, err
	}
	return w, nil
}
