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
	"fmt"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/cloud"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/cor"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/model"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/vision"
)

// SessionDefaults fill in what a capture leaves unset.
type SessionDefaults struct {
	FPS     float64
	Channel string
}

// SessionFromFrameBatch opens a session for a *model.FrameBatch. The
// session is stored under the session parameter and the encoded frames
// become the next command's input.
type SessionFromFrameBatch struct {
	cor.BaseCommand
	sessionParam string
	defaults     SessionDefaults
}

func NewSessionFromFrameBatch(name string, sessionParam string, defaults SessionDefaults) *SessionFromFrameBatch {
	return &SessionFromFrameBatch{BaseCommand: *cor.NewBaseCommand(name), sessionParam: sessionParam, defaults: defaults}
}

func (c *SessionFromFrameBatch) Execute(context cor.Context) {
	batch := context.Get(c.GetInputParam()).(*model.FrameBatch)

	channel, err := resolveChannel(batch.Channel, c.defaults.Channel)
	if err != nil {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), err)
		return
	}

	session := model.NewHeartSession(batch.UserId, model.SourceFrames, "")
	session.LectureId = batch.LectureId
	session.FPS = c.defaults.FPS
	if batch.FPS > 0 {
		session.FPS = batch.FPS
	}
	session.Channel = string(channel)
	session.Frames.Total = len(batch.Frames)

	c.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(c.sessionParam, session)
	context.Add(c.GetOutputParam(), batch.Frames)
}

// SessionFromRecording opens a session for frames extracted from the
// recording stored under cloud.GetGCSObjectName(). The input
// *model.RecordingFrames is passed through.
type SessionFromRecording struct {
	cor.BaseCommand
	sessionParam string
	defaults     SessionDefaults
}

func NewSessionFromRecording(name string, sessionParam string, defaults SessionDefaults) *SessionFromRecording {
	return &SessionFromRecording{BaseCommand: *cor.NewBaseCommand(name), sessionParam: sessionParam, defaults: defaults}
}

func (c *SessionFromRecording) Execute(context cor.Context) {
	frames := context.Get(c.GetInputParam()).(*model.RecordingFrames)
	obj, ok := context.Get(cloud.GetGCSObjectName()).(*cloud.GCSObject)
	if !ok {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), fmt.Errorf("no recording object in context"))
		return
	}
	channel, err := resolveChannel("", c.defaults.Channel)
	if err != nil {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), err)
		return
	}

	session := model.NewHeartSession(obj.UserID, model.SourceRecording, fmt.Sprintf("gs://%s/%s", obj.Bucket, obj.Name))
	session.LectureId = obj.LectureID
	session.FPS = frames.FPS
	if session.FPS <= 0 {
		session.FPS = c.defaults.FPS
	}
	session.Channel = string(channel)
	session.Frames.Total = len(frames.Paths)

	c.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(c.sessionParam, session)
	context.Add(c.GetOutputParam(), frames)
}

func resolveChannel(requested, fallback string) (vision.Channel, error) {
	if requested == "" {
		requested = fallback
	}
	return vision.ParseChannel(requested)
}
