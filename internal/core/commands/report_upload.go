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
// command that publishes a session as a JSON report in Cloud Storage, next
// to the user's other reports: gs://<reports bucket>/<user_id>/<session_id>.json.
package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/cor"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/model"
)

// ReportUpload writes the session under the session parameter to the
// reports bucket.
type ReportUpload struct {
	cor.BaseCommand
	client       *storage.Client
	bucket       string
	sessionParam string
}

func NewReportUpload(name string, client *storage.Client, bucket string, sessionParam string) *ReportUpload {
	return &ReportUpload{BaseCommand: *cor.NewBaseCommand(name), client: client, bucket: bucket, sessionParam: sessionParam}
}

func (c *ReportUpload) IsExecutable(context cor.Context) bool {
	return context != nil && context.GetContext() != nil && context.Get(c.sessionParam) != nil
}

// ReportObjectName is where a session's report is stored.
func ReportObjectName(session *model.HeartSession) string {
	return fmt.Sprintf("%s/%s.json", session.UserId, session.Id)
}

func (c *ReportUpload) Execute(context cor.Context) {
	session := context.Get(c.sessionParam).(*model.HeartSession)

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), fmt.Errorf("failed to marshal report for %s: %w", session.Id, err))
		return
	}

	obj := c.client.Bucket(c.bucket).Object(ReportObjectName(session))
	writer := obj.NewWriter(context.GetContext())
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), fmt.Errorf("failed to write report gs://%s/%s: %w", c.bucket, obj.ObjectName(), err))
		return
	}
	if err := writer.Close(); err != nil {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), fmt.Errorf("failed to finalize report gs://%s/%s: %w", c.bucket, obj.ObjectName(), err))
		return
	}

	c.GetSuccessCounter().Add(context.GetContext(), 1)
	slog.InfoContext(context.GetContext(), "report uploaded", "bucket", c.bucket, "object", obj.ObjectName())
	context.Add(c.GetOutputParam(), session)
}
