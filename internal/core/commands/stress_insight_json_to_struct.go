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

package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/cor"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/model"
)

// InsightLevels are the stress levels the model may answer with.
var InsightLevels = map[string]bool{"low": true, "moderate": true, "high": true}

// StressInsightJsonToStruct parses the model's answer and attaches it to the
// session. Like the creator it never fails the session; an answer that does
// not parse or names an unknown level is dropped.
type StressInsightJsonToStruct struct {
	cor.BaseCommand
	sessionParam string
}

func NewStressInsightJsonToStruct(name string, sessionParam string) *StressInsightJsonToStruct {
	return &StressInsightJsonToStruct{BaseCommand: *cor.NewBaseCommand(name), sessionParam: sessionParam}
}

func (s *StressInsightJsonToStruct) IsExecutable(context cor.Context) bool {
	if !s.BaseCommand.IsExecutable(context) || context.Get(s.sessionParam) == nil {
		return false
	}
	_, ok := context.Get(s.GetInputParam()).(string)
	return ok
}

func (s *StressInsightJsonToStruct) Execute(context cor.Context) {
	in := context.Get(s.GetInputParam()).(string)
	session := context.Get(s.sessionParam).(*model.HeartSession)

	insight, err := ParseStressInsight(in)
	if err != nil {
		s.GetErrorCounter().Add(context.GetContext(), 1)
		slog.WarnContext(context.GetContext(), "stress insight dropped", "session_id", session.Id, "error", err)
		return
	}

	s.GetSuccessCounter().Add(context.GetContext(), 1)
	session.Insight = *insight
	context.Add(s.GetOutputParam(), insight)
}

// ParseStressInsight decodes and normalises a model answer.
func ParseStressInsight(in string) (*model.StressInsight, error) {
	doc := &model.StressInsight{}
	if err := json.Unmarshal([]byte(in), doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stress insight JSON: %w", err)
	}
	doc.Level = strings.ToLower(strings.TrimSpace(doc.Level))
	if !InsightLevels[doc.Level] {
		return nil, fmt.Errorf("unknown stress level %q", doc.Level)
	}
	doc.Summary = strings.TrimSpace(doc.Summary)
	if doc.Suggestions == nil {
		doc.Suggestions = make([]string, 0)
	}
	return doc, nil
}
