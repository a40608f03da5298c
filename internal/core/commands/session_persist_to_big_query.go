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
// command that stores a finished session in the session table.
package commands

import (
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/cor"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/model"
)

// SessionPersistToBigQuery saves the session found under the session
// parameter and outputs it.
type SessionPersistToBigQuery struct {
	cor.BaseCommand
	writer       SessionWriter
	sessionParam string
}

func NewSessionPersistToBigQuery(name string, writer SessionWriter, sessionParam string) *SessionPersistToBigQuery {
	return &SessionPersistToBigQuery{BaseCommand: *cor.NewBaseCommand(name), writer: writer, sessionParam: sessionParam}
}

// IsExecutable only needs the session; the chain input may be empty when an
// earlier step had nothing to pass on.
func (s *SessionPersistToBigQuery) IsExecutable(context cor.Context) bool {
	return context != nil && context.GetContext() != nil && context.Get(s.sessionParam) != nil
}

func (s *SessionPersistToBigQuery) Execute(context cor.Context) {
	session := context.Get(s.sessionParam).(*model.HeartSession)

	if err := s.writer.Save(context.GetContext(), session); err != nil {
		s.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(s.GetName(), fmt.Errorf("bigquery insert failed for session %s: %w", session.Id, err))
		return
	}

	s.GetSuccessCounter().Add(context.GetContext(), 1)
	slog.InfoContext(context.GetContext(), "session persisted",
		"session_id", session.Id, "user_id", session.UserId, "status", session.Status)
	context.Add(s.GetOutputParam(), session)
}
