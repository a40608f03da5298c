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

// Package test provides shared fixtures for the test suite: the cached test
// configuration, sample Pub/Sub payloads, synthetic rPPG signals and frames,
// and fake face detectors.
package test

import (
	"log"
	"os"
	"sync"
	"testing"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/cloud"
)

// StateManager caches the test configuration across tests.
type StateManager struct {
	once   sync.Once
	config *cloud.Config
}

var state = &StateManager{}

// HandleErr fails the test when err is set.
func HandleErr(err error, t *testing.T) {
	t.Helper()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// GetTestRecordingMessageText is a finalize notification for a webcam
// recording uploaded by user "student-42".
func GetTestRecordingMessageText() string {
	return `{
  "kind": "storage#object",
  "id": "lecture_pulse_recordings/student-42/2024-10-11T03-04-08.webm/1728615848664286",
  "selfLink": "https://www.googleapis.com/storage/v1/b/lecture_pulse_recordings/o/student-42%2F2024-10-11T03-04-08.webm",
  "name": "student-42/2024-10-11T03-04-08.webm",
  "bucket": "lecture_pulse_recordings",
  "generation": "1728615848664286",
  "metageneration": "1",
  "contentType": "video/webm",
  "timeCreated": "2024-10-11T03:04:08.672Z",
  "updated": "2024-10-11T03:04:08.672Z",
  "storageClass": "STANDARD",
  "size": "5934803",
  "md5Hash": "67c1rAU+1RYZzK5zp8iBkA==",
  "mediaLink": "https://storage.googleapis.com/download/storage/v1/b/lecture_pulse_recordings/o/student-42%2F2024-10-11T03-04-08.webm?generation=1728615848664286&alt=media",
  "metadata": { "lecture_id": "lin-alg-07" },
  "crc32c": "IYeSTw==",
  "etag": "CN658+yrhYkDEAE="
}`
}

// SetupOS points the configuration loader at configs/.env.test.toml.
func SetupOS() (err error) {
	if err = os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
		return err
	}
	return os.Setenv(cloud.EnvConfigRuntime, "test")
}

// GetConfig loads the test configuration once and returns the cached copy.
// Tests run from their package directory, so the configs directory must be
// reachable from there (see SetupOS).
func GetConfig() *cloud.Config {
	state.once.Do(func() {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup environment for test: %v\n", err)
		}
		config := cloud.NewConfig()
		if err := cloud.LoadConfig(config); err != nil {
			log.Fatalf("failed to load test configuration: %v\n", err)
		}
		state.config = config
	})
	return state.config
}
