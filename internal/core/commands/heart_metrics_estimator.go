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
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/cor"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/heart"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/model"
)

// HeartMetricsEstimator runs the heart calculator over the intensity series
// and records the metrics and status on the session. The calculator for the
// configured rate is built once; sessions captured at another rate get their
// own filter design per run.
type HeartMetricsEstimator struct {
	cor.BaseCommand
	calculator   *heart.Calculator
	sessionParam string
	bpmHistogram metric.Float64Histogram
}

// NewHeartMetricsEstimator fails when config cannot produce a valid filter.
func NewHeartMetricsEstimator(name string, config heart.Config, sessionParam string) (*HeartMetricsEstimator, error) {
	calculator, err := heart.NewCalculator(config)
	if err != nil {
		return nil, err
	}
	out := &HeartMetricsEstimator{
		BaseCommand:  *cor.NewBaseCommand(name),
		calculator:   calculator,
		sessionParam: sessionParam,
	}
	out.bpmHistogram, _ = out.GetMeter().Float64Histogram(
		fmt.Sprintf("%s.heart_rate", out.GetName()),
		metric.WithUnit("{beat}/min"),
		metric.WithDescription("Average heart rate of sessions with a full estimate"))
	return out, nil
}

func (c *HeartMetricsEstimator) IsExecutable(context cor.Context) bool {
	return c.BaseCommand.IsExecutable(context) && context.Get(c.sessionParam) != nil
}

func (c *HeartMetricsEstimator) Execute(context cor.Context) {
	ctx := context.GetContext()
	series := context.Get(c.GetInputParam()).([]float64)
	session := context.Get(c.sessionParam).(*model.HeartSession)

	calculator, err := c.calculatorFor(session.FPS)
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), fmt.Errorf("session %s: %w", session.Id, err))
		return
	}

	analysis := calculator.Analyze(series)
	session.Metrics = analysis.Metrics
	session.Status = string(analysis.Status)
	if analysis.Status == heart.StatusOK {
		c.bpmHistogram.Record(ctx, analysis.Metrics.AvgHeartRate)
	}
	slog.DebugContext(ctx, "heart metrics estimated",
		"session_id", session.Id,
		"status", analysis.Status,
		"samples", analysis.SampleCount,
		"peaks", analysis.PeakCount,
		"avg_heart_rate", analysis.Metrics.AvgHeartRate)

	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(c.GetOutputParam(), &analysis)
}

func (c *HeartMetricsEstimator) calculatorFor(fps float64) (*heart.Calculator, error) {
	if fps == c.calculator.Config().FPS {
		return c.calculator, nil
	}
	return heart.NewCalculator(c.calculator.Config().WithFPS(fps))
}
