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

// Package model defines the core data structures for the application.
// The structs in this file only live for the length of a request or a
// workflow run and are never written to the dataset as-is.
package model

import "time"

// FrameBatch is a capture posted by the browser: base64 frames in capture
// order plus what is needed to interpret them.
type FrameBatch struct {
	UserId    string   `json:"user_id"`
	LectureId string   `json:"lecture_id,omitempty"`
	FPS       float64  `json:"fps,omitempty"`     // Defaults to the configured rate.
	Channel   string   `json:"channel,omitempty"` // green or luma.
	Frames    []string `json:"frames"`
}

// RecordingFrames is the ordered list of frame images extracted from a
// recording, and the rate they were extracted at.
type RecordingFrames struct {
	Dir   string
	Paths []string
	FPS   float64
}

// UserStats aggregates a user's session history.
type UserStats struct {
	UserId          string    `json:"user_id" bigquery:"user_id"`
	SessionCount    int64     `json:"session_count" bigquery:"session_count"`
	AvgHeartRate    float64   `json:"avg_heart_rate" bigquery:"avg_heart_rate"`
	AvgRMSSD        float64   `json:"avg_rmssd" bigquery:"avg_rmssd"`
	AvgStressIndex  float64   `json:"avg_stress_index" bigquery:"avg_stress_index"`
	LastSessionDate time.Time `json:"last_session_date" bigquery:"last_session_date"`
}
