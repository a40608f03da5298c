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
// Responsibility (COR) pattern's Command interface. This file defines a
// command that downloads a recording from Cloud Storage to a local temporary
// file so ffmpeg can read it.
//
// The temp file keeps the object's extension, which helps ffmpeg pick a
// demuxer, and is registered with the context so it is removed when the
// workflow run closes.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/cloud"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/cor"
)

// GCSToTempFile downloads the input cloud.GCSObject and outputs the local path.
type GCSToTempFile struct {
	cor.BaseCommand
	client         *storage.Client
	tempFilePrefix string // e.g. "recording-".
}

// NewGCSToTempFile is the constructor for creating a new GCSToTempFile command.
func NewGCSToTempFile(name string, client *storage.Client, tempFilePrefix string) *GCSToTempFile {
	return &GCSToTempFile{
		BaseCommand:    *cor.NewBaseCommand(name),
		client:         client,
		tempFilePrefix: tempFilePrefix,
	}
}

func (c *GCSToTempFile) Execute(context cor.Context) {
	msg := context.Get(c.GetInputParam()).(*cloud.GCSObject)

	reader, err := c.client.Bucket(msg.Bucket).Object(msg.Name).NewReader(context.GetContext())
	if err != nil {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), fmt.Errorf("failed to create GCS reader for gs://%s/%s: %w", msg.Bucket, msg.Name, err))
		return
	}
	defer func() {
		if err := reader.Close(); err != nil {
			slog.Warn("failed to close GCS reader", "object", msg.Name, "error", err)
		}
	}()

	written, tempFile, err := CopyToTemp(reader, c.tempFilePrefix+"*"+path.Ext(msg.Name))
	if tempFile != "" {
		context.AddTempFile(tempFile)
	}
	if err != nil {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), fmt.Errorf("failed to download gs://%s/%s after %d bytes: %w", msg.Bucket, msg.Name, written, err))
		return
	}

	c.GetSuccessCounter().Add(context.GetContext(), 1)
	slog.Info("downloaded recording", "bucket", msg.Bucket, "object", msg.Name, "path", tempFile, "bytes", written)
	context.Add(c.GetOutputParam(), tempFile)
}

// CopyToTemp streams r into a new temporary file named by pattern (see
// os.CreateTemp). The path is returned whenever the file was created, even
// on a failed copy, so the caller can clean it up.
func CopyToTemp(r io.Reader, pattern string) (int64, string, error) {
	tempFile, err := os.CreateTemp("", pattern)
	if err != nil {
		return 0, "", fmt.Errorf("could not create temp file: %w", err)
	}
	written, err := io.Copy(tempFile, r)
	if cerr := tempFile.Close(); err == nil {
		err = cerr
	}
	return written, tempFile.Name(), err
}
