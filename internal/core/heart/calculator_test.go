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

package heart_test

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/heart"
	test "github.com/jaycherian/gcp-go-lecture-pulse/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newCalculator(t *testing.T, fps float64) *heart.Calculator {
	t.Helper()
	calc, err := heart.NewCalculator(heart.DefaultConfig(fps))
	require.NoError(t, err)
	return calc
}

func assertValidMetrics(t *testing.T, m heart.Metrics) {
	t.Helper()
	for name, v := range map[string]float64{
		"avg_heart_rate": m.AvgHeartRate,
		"sdnn":           m.SDNN,
		"rmssd":          m.RMSSD,
		"stress_index":   m.StressIndex,
		"lf_hf_ratio":    m.LFHFRatio,
	} {
		assert.False(t, math.IsNaN(v), "%s is NaN", name)
		assert.False(t, math.IsInf(v, 0), "%s is infinite", name)
		assert.GreaterOrEqual(t, v, 0.0, "%s is negative", name)
	}
}

func TestShortSeriesYieldZeroMetrics(t *testing.T) {
	calc := newCalculator(t, 30)
	for _, series := range [][]float64{nil, {}, {128}, {128, 129}} {
		analysis := calc.Analyze(series)
		assert.True(t, analysis.Metrics.IsZero())
		assert.Equal(t, heart.StatusInsufficientSamples, analysis.Status)
		assert.Equal(t, len(series), analysis.SampleCount)
	}
}

func TestMinimumLengthSeriesDoesNotPanic(t *testing.T) {
	calc := newCalculator(t, 30)
	assert.NotPanics(t, func() {
		m := calc.Estimate([]float64{1, 5, 2})
		assertValidMetrics(t, m)
	})
}

func TestSinusoidHeartRate(t *testing.T) {
	const fps = 30.0
	calc := newCalculator(t, fps)

	for _, freq := range []float64{0.9, 1.2, 1.5, 2.0} {
		t.Run(fmt.Sprintf("%.1fHz", freq), func(t *testing.T) {
			series := test.SyntheticPulse(600, fps, freq, 10, 0, 0)
			m := calc.Estimate(series)
			assert.InDelta(t, freq*60, m.AvgHeartRate, 5)
			assertValidMetrics(t, m)
		})
	}
}

// 10 s of a 72 BPM pulse on a bright forehead with sensor noise.
func TestNoisyPulseScenario(t *testing.T) {
	const fps = 30.0
	calc := newCalculator(t, fps)

	series := test.SyntheticPulse(300, fps, 1.2, 10, 2, 42)
	analysis := calc.Analyze(series)

	assert.Equal(t, heart.StatusOK, analysis.Status)
	assert.InDelta(t, 72, analysis.Metrics.AvgHeartRate, 5)
	assert.Greater(t, analysis.Metrics.SDNN, 0.0)
	assert.Greater(t, analysis.Metrics.RMSSD, 0.0)
	assertValidMetrics(t, analysis.Metrics)
}

func TestIntervalCountMatchesPeakCount(t *testing.T) {
	calc := newCalculator(t, 30)
	for seed := int64(1); seed <= 5; seed++ {
		analysis := calc.Analyze(test.SyntheticPulse(450, 30, 1.4, 6, 1.5, seed))
		require.GreaterOrEqual(t, analysis.PeakCount, 2)
		assert.Len(t, analysis.Intervals, analysis.PeakCount-1)
	}
}

func TestVaryingBeatProducesVariability(t *testing.T) {
	const fps = 30.0
	calc := newCalculator(t, fps)

	// Instantaneous rate drifts between 60 and 90 BPM over the session.
	series := make([]float64, 900)
	phase := 0.0
	for i := range series {
		rate := 1.25 + 0.25*math.Sin(2*math.Pi*0.1*float64(i)/fps)
		phase += 2 * math.Pi * rate / fps
		series[i] = 100 + 8*math.Sin(phase)
	}

	analysis := calc.Analyze(series)
	require.Equal(t, heart.StatusOK, analysis.Status)
	assert.Greater(t, analysis.Metrics.SDNN, 0.0)
	assert.Greater(t, analysis.Metrics.RMSSD, 0.0)
	assert.InDelta(t, 1/analysis.Metrics.RMSSD, analysis.Metrics.StressIndex, 1e-9)
	assertValidMetrics(t, analysis.Metrics)
}

func TestEstimateIsIdempotent(t *testing.T) {
	calc := newCalculator(t, 30)
	series := test.SyntheticPulse(300, 30, 1.2, 10, 2, 7)
	original := append([]float64(nil), series...)

	first := calc.Estimate(series)
	second := calc.Estimate(series)
	assert.Equal(t, first, second)
	assert.Equal(t, original, series, "input must not be modified")
}

func TestFiveFramesAtTenFPS(t *testing.T) {
	calc := newCalculator(t, 10)
	m := calc.Estimate([]float64{120, 124, 119, 126, 121})
	assert.True(t, m.IsZero())
}

func TestConstantSeriesIsQuiet(t *testing.T) {
	calc := newCalculator(t, 30)
	series := make([]float64, 300)
	for i := range series {
		series[i] = 128
	}
	analysis := calc.Analyze(series)
	assert.True(t, analysis.Metrics.IsZero())
	assert.Equal(t, heart.StatusInsufficientPeaks, analysis.Status)
}

func TestEstimateFramesUsesSpatialMeans(t *testing.T) {
	const fps = 30.0
	calc := newCalculator(t, fps)
	series := test.SyntheticPulse(300, fps, 1.2, 10, 0, 0)

	frames := make([]mat.Matrix, len(series))
	for i, v := range series {
		frames[i] = mat.NewDense(1, 2, []float64{v, v})
	}
	assert.Equal(t, calc.Estimate(series), calc.EstimateFrames(frames))
}

func TestSpatialMeansSkipsNil(t *testing.T) {
	means := heart.SpatialMeans([]mat.Matrix{
		mat.NewDense(1, 2, []float64{2, 4}),
		nil,
		mat.NewDense(2, 2, []float64{1, 1, 1, 5}),
	})
	assert.Equal(t, []float64{3, 2}, means)
}

func TestSanitize(t *testing.T) {
	m := heart.Sanitize(heart.Metrics{
		AvgHeartRate: math.NaN(),
		SDNN:         math.Inf(1),
		RMSSD:        -1e-18,
		StressIndex:  math.Inf(-1),
		LFHFRatio:    1.5,
	})
	assert.Equal(t, heart.Metrics{LFHFRatio: 1.5}, m)
}

func TestInvalidFilterConfig(t *testing.T) {
	cases := map[string]heart.Config{
		"zero fps":            heart.DefaultConfig(0),
		"negative fps":        heart.DefaultConfig(-30),
		"high cut at nyquist": heart.DefaultConfig(6),
		"inverted band": func() heart.Config {
			c := heart.DefaultConfig(30)
			c.LowCutHz, c.HighCutHz = 3, 0.5
			return c
		}(),
		"zero order": func() heart.Config {
			c := heart.DefaultConfig(30)
			c.FilterOrder = 0
			return c
		}(),
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := heart.NewCalculator(cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, heart.ErrInvalidFilterConfig))
		})
	}
}

func TestConcurrentUse(t *testing.T) {
	calc := newCalculator(t, 30)
	series := test.SyntheticPulse(300, 30, 1.2, 10, 2, rand.Int63())
	want := calc.Estimate(series)

	done := make(chan heart.Metrics, 8)
	for i := 0; i < cap(done); i++ {
		go func() { done <- calc.Estimate(series) }()
	}
	for i := 0; i < cap(done); i++ {
		assert.Equal(t, want, <-done)
	}
}
