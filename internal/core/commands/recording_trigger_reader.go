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
// first command of the recording workflow.
//
// Cloud Storage publishes an OBJECT_FINALIZE notification when a browser
// finishes uploading a recording. This command parses that message and
// reduces it to a cloud.GCSObject that names the recording and its owner:
//
//  1. The raw JSON message is read from the input parameter.
//  2. It is unmarshalled into a cloud.GCSPubSubNotification.
//  3. The owner is taken from the user_id metadata, or failing that from the
//     first segment of the object name (<user_id>/<file>).
//  4. The GCSObject is stored under cloud.GetGCSObjectName() for later
//     commands and passed on as the next command's input.
package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/cloud"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/cor"
)

// RecordingTriggerReader parses a GCS Pub/Sub notification for an uploaded
// recording.
type RecordingTriggerReader struct {
	cor.BaseCommand
	bucket string // Only notifications for this bucket are accepted; empty accepts any.
}

// NewRecordingTriggerReader is the constructor for the RecordingTriggerReader command.
func NewRecordingTriggerReader(name string, bucket string) *RecordingTriggerReader {
	return &RecordingTriggerReader{BaseCommand: *cor.NewBaseCommand(name), bucket: bucket}
}

func (c *RecordingTriggerReader) Execute(context cor.Context) {
	in, ok := context.Get(c.GetInputParam()).(string)
	if !ok {
		c.fail(context, fmt.Errorf("expected a notification string, got %T", context.Get(c.GetInputParam())))
		return
	}

	var out cloud.GCSPubSubNotification
	if err := json.Unmarshal([]byte(in), &out); err != nil {
		c.fail(context, fmt.Errorf("failed to unmarshal GCS notification: %w", err))
		return
	}
	if out.Bucket == "" || out.Name == "" {
		c.fail(context, fmt.Errorf("notification has no bucket or object name"))
		return
	}
	// Another bucket's notification can never succeed here; leave the output
	// empty so the rest of the chain is skipped and the message is acked.
	if c.bucket != "" && out.Bucket != c.bucket {
		slog.InfoContext(context.GetContext(), "ignoring notification for another bucket",
			"bucket", out.Bucket, "expected", c.bucket, "object", out.Name)
		return
	}

	userID := RecordingOwner(out.Name, out.MetaData)
	if userID == "" {
		c.fail(context, fmt.Errorf("no user id for gs://%s/%s", out.Bucket, out.Name))
		return
	}

	c.GetSuccessCounter().Add(context.GetContext(), 1)
	msg := &cloud.GCSObject{
		Bucket:    out.Bucket,
		Name:      out.Name,
		MIMEType:  out.ContentType,
		UserID:    userID,
		LectureID: out.MetaData["lecture_id"],
	}
	context.Add(cloud.GetGCSObjectName(), msg)
	context.Add(c.GetOutputParam(), msg)
}

func (c *RecordingTriggerReader) fail(context cor.Context, err error) {
	c.GetErrorCounter().Add(context.GetContext(), 1)
	context.AddError(c.GetName(), err)
}

// RecordingOwner returns the user a recording belongs to: the user_id
// metadata when set, otherwise the first segment of a nested object name.
func RecordingOwner(objectName string, metadata map[string]string) string {
	if id := strings.TrimSpace(metadata["user_id"]); id != "" {
		return id
	}
	if owner, _, found := strings.Cut(objectName, "/"); found {
		return owner
	}
	return ""
}
