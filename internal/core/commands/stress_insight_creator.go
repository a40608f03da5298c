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

// Package commands provides the concrete implementations of the Chain of
// Responsibility (COR) pattern's Command interface. This file defines the
// command that asks a generative model to explain a session's metrics in
// plain language.
//
//  1. The session's metrics are rendered into the insight prompt template,
//     together with an example of the JSON answer expected back.
//  2. The prompt is sent through cloud.GenerateMultiModalResponse, which
//     retries and records token usage.
//  3. The raw JSON text becomes the input of StressInsightJsonToStruct.
//
// The insight is an optional extra. A failed model call is logged and
// counted, but never fails the session.
package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"text/template"

	"go.opentelemetry.io/otel/metric"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/cloud"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/cor"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/heart"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/model"
)

// StressInsightCreator prompts the model with a finished session.
type StressInsightCreator struct {
	cor.BaseCommand
	generativeAIModel        cloud.ContentGenerator
	template                 *template.Template
	sessionParam             string
	geminiInputTokenCounter  metric.Int64Counter
	geminiOutputTokenCounter metric.Int64Counter
	geminiRetryCounter       metric.Int64Counter
}

func NewStressInsightCreator(
	name string,
	generativeAIModel cloud.ContentGenerator,
	template *template.Template,
	sessionParam string) *StressInsightCreator {

	out := &StressInsightCreator{
		BaseCommand:       *cor.NewBaseCommand(name),
		generativeAIModel: generativeAIModel,
		template:          template,
		sessionParam:      sessionParam,
	}
	out.geminiInputTokenCounter, _ = out.GetMeter().Int64Counter(fmt.Sprintf("%s.gemini.token.input", out.GetName()))
	out.geminiOutputTokenCounter, _ = out.GetMeter().Int64Counter(fmt.Sprintf("%s.gemini.token.output", out.GetName()))
	out.geminiRetryCounter, _ = out.GetMeter().Int64Counter(fmt.Sprintf("%s.gemini.token.retry", out.GetName()))
	return out
}

// IsExecutable only runs for sessions with a complete estimate.
func (t *StressInsightCreator) IsExecutable(context cor.Context) bool {
	if context == nil || context.GetContext() == nil {
		return false
	}
	session, ok := context.Get(t.sessionParam).(*model.HeartSession)
	return ok && session.Status == string(heart.StatusOK)
}

// GenerateParams exposes the session to the prompt template. Interval
// metrics are given in milliseconds, the unit clinicians read them in.
func (t *StressInsightCreator) GenerateParams(session *model.HeartSession) map[string]interface{} {
	params := make(map[string]interface{})
	params["AVG_HEART_RATE"] = fmt.Sprintf("%.1f", session.Metrics.AvgHeartRate)
	params["SDNN_MS"] = fmt.Sprintf("%.1f", session.Metrics.SDNN*1000)
	params["RMSSD_MS"] = fmt.Sprintf("%.1f", session.Metrics.RMSSD*1000)
	params["STRESS_INDEX"] = fmt.Sprintf("%.2f", session.Metrics.StressIndex)
	params["LF_HF_RATIO"] = fmt.Sprintf("%.2f", session.Metrics.LFHFRatio)
	params["VALID_FRAMES"] = session.Frames.Valid
	params["DURATION_SECONDS"] = fmt.Sprintf("%.0f", float64(session.Frames.Valid)/session.FPS)

	example, _ := json.Marshal(model.GetExampleInsight())
	params["EXAMPLE_JSON"] = string(example)
	return params
}

func (t *StressInsightCreator) Execute(context cor.Context) {
	ctx := context.GetContext()
	session := context.Get(t.sessionParam).(*model.HeartSession)

	var buffer bytes.Buffer
	if err := t.template.Execute(&buffer, t.GenerateParams(session)); err != nil {
		t.skip(context, session, fmt.Errorf("failed to execute prompt template: %w", err))
		return
	}

	out, err := cloud.GenerateMultiModalResponse(ctx, t.geminiInputTokenCounter, t.geminiOutputTokenCounter,
		t.geminiRetryCounter, t.generativeAIModel, cloud.NewTextPart(buffer.String()))
	if err != nil {
		t.skip(context, session, fmt.Errorf("gemini request failed: %w", err))
		return
	}

	t.GetSuccessCounter().Add(ctx, 1)
	context.Add(t.GetOutputParam(), out)
}

func (t *StressInsightCreator) skip(context cor.Context, session *model.HeartSession, err error) {
	t.GetErrorCounter().Add(context.GetContext(), 1)
	slog.WarnContext(context.GetContext(), "stress insight skipped", "session_id", session.Id, "error", err)
}
