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

// Package model defines the data structures shared by the workflows, the
// services and the HTTP API. This file holds the records persisted to
// BigQuery; the field tags give both the JSON and the table column names.
package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/heart"
)

// Session sources.
const (
	SourceFrames    = "frames"    // Frames posted to the API.
	SourceRecording = "recording" // A webcam recording uploaded to Cloud Storage.
)

// StatusInsufficientValidFrames marks a session whose capture had too few
// usable frames to analyse. The other statuses are heart.Status values.
const StatusInsufficientValidFrames = "insufficient_valid_frames"

// DropCount is the number of frames dropped for one reason.
type DropCount struct {
	Reason string `json:"reason" bigquery:"reason"`
	Count  int    `json:"count" bigquery:"count"`
}

// FrameCounts summarises frame sampling for a session.
type FrameCounts struct {
	Total   int         `json:"total" bigquery:"total"`
	Valid   int         `json:"valid" bigquery:"valid"`
	Dropped []DropCount `json:"dropped" bigquery:"dropped"` // Sorted by reason.
}

// NewFrameCounts flattens a reason to count map into a stable order.
func NewFrameCounts(total, valid int, dropped map[string]int) FrameCounts {
	out := FrameCounts{Total: total, Valid: valid, Dropped: make([]DropCount, 0, len(dropped))}
	for reason, count := range dropped {
		out.Dropped = append(out.Dropped, DropCount{Reason: reason, Count: count})
	}
	sort.Slice(out.Dropped, func(i, j int) bool { return out.Dropped[i].Reason < out.Dropped[j].Reason })
	return out
}

// StressInsight is the model's plain-language reading of a session. An
// empty Level means no insight was produced.
type StressInsight struct {
	Summary     string   `json:"summary" bigquery:"summary"`
	Level       string   `json:"level" bigquery:"level"` // low, moderate or high.
	Suggestions []string `json:"suggestions" bigquery:"suggestions"`
}

// IsEmpty reports whether the insight carries anything.
func (s StressInsight) IsEmpty() bool {
	return s.Level == "" && s.Summary == ""
}

// HeartSession is one analysed capture: who, what was sampled and the
// resulting metrics. It is the row type of the session table.
type HeartSession struct {
	Id         string        `json:"session_id" bigquery:"id"`
	UserId     string        `json:"user_id" bigquery:"user_id"`
	LectureId  string        `json:"lecture_id,omitempty" bigquery:"lecture_id"`
	Source     string        `json:"source" bigquery:"source"`
	SourceUri  string        `json:"source_uri,omitempty" bigquery:"source_uri"`
	FPS        float64       `json:"fps" bigquery:"fps"`
	Channel    string        `json:"channel" bigquery:"channel"`
	Status     string        `json:"status" bigquery:"status"`
	Metrics    heart.Metrics `json:"metrics" bigquery:"metrics"`
	Frames     FrameCounts   `json:"frames" bigquery:"frames"`
	Insight    StressInsight `json:"insight" bigquery:"insight"`
	CreateDate time.Time     `json:"create_date" bigquery:"create_date"`
}

// NewHeartSession starts a session record. Sessions analysed from a stored
// object get an ID derived from its URI, so a redelivered notification
// reuses the same ID and readers can collapse the rows; all others get a
// random ID.
func NewHeartSession(userID, source, sourceURI string) *HeartSession {
	id := uuid.New()
	if sourceURI != "" {
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceURI))
	}
	return &HeartSession{
		Id:         id.String(),
		UserId:     userID,
		Source:     source,
		SourceUri:  sourceURI,
		Frames:     FrameCounts{Dropped: make([]DropCount, 0)},
		CreateDate: time.Now().UTC(),
	}
}
