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
// command that reduces a capture to its forehead intensity series.
//
// The input is either the base64 frames of an API request ([]string) or the
// frame files of a recording (*model.RecordingFrames). Sampling runs on the
// vision.Sampler worker pool with the session's channel. The frame counts
// are written onto the session and the series becomes the next input.
//
// When too few frames survive, the session is marked
// model.StatusInsufficientValidFrames. In strict mode that is also recorded
// as an error wrapping vision.ErrInsufficientValidFrames, which ends the
// chain; otherwise the chain carries on without a series so the outcome can
// still be stored.
package commands

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/cor"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/model"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/vision"
)

// ForeheadSampler turns frames into an intensity series.
type ForeheadSampler struct {
	cor.BaseCommand
	detector       vision.Detector
	config         vision.SamplerConfig // Channel is taken from the session.
	sessionParam   string
	reportParam    string // Receives the vision.SamplingReport.
	strict         bool
	droppedCounter metric.Int64Counter
}

func NewForeheadSampler(name string, detector vision.Detector, config vision.SamplerConfig, sessionParam string, reportParam string, strict bool) *ForeheadSampler {
	out := &ForeheadSampler{
		BaseCommand:  *cor.NewBaseCommand(name),
		detector:     detector,
		config:       config,
		sessionParam: sessionParam,
		reportParam:  reportParam,
		strict:       strict,
	}
	out.droppedCounter, _ = out.GetMeter().Int64Counter(fmt.Sprintf("%s.frames.dropped", out.GetName()))
	return out
}

func (c *ForeheadSampler) IsExecutable(context cor.Context) bool {
	return c.BaseCommand.IsExecutable(context) && context.Get(c.sessionParam) != nil
}

func (c *ForeheadSampler) Execute(context cor.Context) {
	ctx := context.GetContext()
	session := context.Get(c.sessionParam).(*model.HeartSession)

	config := c.config
	config.Channel = vision.Channel(session.Channel)
	sampler := vision.NewSampler(c.detector, config)

	var report vision.SamplingReport
	var err error
	switch in := context.Get(c.GetInputParam()).(type) {
	case []string:
		report, err = sampler.SampleEncoded(ctx, in)
	case *model.RecordingFrames:
		report, err = sampler.SampleFiles(ctx, in.Paths)
	default:
		err = fmt.Errorf("cannot sample frames from %T", in)
	}

	for reason, n := range report.Dropped {
		c.droppedCounter.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", string(reason))))
	}
	session.Frames = frameCounts(report)
	context.Add(c.reportParam, report)

	if errors.Is(err, vision.ErrInsufficientValidFrames) {
		session.Status = model.StatusInsufficientValidFrames
		c.GetErrorCounter().Add(ctx, 1)
		if c.strict {
			context.AddError(c.GetName(), err)
		}
		return
	}
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), err)
		return
	}

	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(c.GetOutputParam(), report.Series)
}

func frameCounts(report vision.SamplingReport) model.FrameCounts {
	dropped := make(map[string]int, len(report.Dropped))
	for reason, n := range report.Dropped {
		dropped[string(reason)] = n
	}
	return model.NewFrameCounts(report.Total, report.Valid, dropped)
}
