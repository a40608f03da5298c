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

package heart

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// MinSamples is the shortest series the calculator will condition.
const MinSamples = 3

// Status records how far the estimate got before data ran out. Each step up
// the ladder implies every step below it succeeded.
type Status string

const (
	StatusInsufficientSamples   Status = "insufficient_samples"
	StatusInsufficientPeaks     Status = "insufficient_peaks"
	StatusInsufficientIntervals Status = "insufficient_intervals"
	StatusOK                    Status = "ok"
)

// Metrics is the heart-rate and variability result for one session. Every
// field is finite and non-negative.
type Metrics struct {
	AvgHeartRate float64 `json:"avg_heart_rate" bigquery:"avg_heart_rate"` // Beats per minute.
	SDNN         float64 `json:"sdnn" bigquery:"sdnn"`                     // Seconds.
	RMSSD        float64 `json:"rmssd" bigquery:"rmssd"`                   // Seconds.
	StressIndex  float64 `json:"stress_index" bigquery:"stress_index"`     // Beat stability index, 1/RMSSD.
	LFHFRatio    float64 `json:"lf_hf_ratio" bigquery:"lf_hf_ratio"`
}

// IsZero reports whether no metric could be computed.
func (m Metrics) IsZero() bool {
	return m == Metrics{}
}

// Analysis is Metrics plus the intermediate values that produced them.
type Analysis struct {
	Metrics         Metrics   `json:"metrics"`
	Status          Status    `json:"status"`
	SampleCount     int       `json:"sample_count"`
	PeakCount       int       `json:"peak_count"`
	Intervals       []float64 `json:"intervals,omitempty"`
	WindowEstimates []float64 `json:"window_estimates,omitempty"`
}

// Calculator estimates heart metrics from intensity series sampled at a fixed
// rate. It holds no per-call state and is safe for concurrent use.
type Calculator struct {
	config Config
	filter *bandPass
}

// NewCalculator validates the configuration and designs the band-pass filter.
// An unrealisable filter is reported here rather than on first use.
func NewCalculator(config Config) (*Calculator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	filter, err := designBandPass(config.FilterOrder, config.LowCutHz, config.HighCutHz, config.FPS)
	if err != nil {
		return nil, err
	}
	return &Calculator{config: config, filter: filter}, nil
}

// Config returns the configuration the calculator was built with.
func (c *Calculator) Config() Config {
	return c.config
}

// Estimate returns the metrics for a pre-reduced intensity series.
func (c *Calculator) Estimate(series []float64) Metrics {
	return c.Analyze(series).Metrics
}

// EstimateFrames reduces each single-channel patch to its spatial mean and
// estimates on the resulting series. Nil patches are skipped.
func (c *Calculator) EstimateFrames(frames []mat.Matrix) Metrics {
	return c.Analyze(SpatialMeans(frames)).Metrics
}

// Analyze runs the full pipeline and keeps the diagnostics.
func (c *Calculator) Analyze(series []float64) Analysis {
	out := Analysis{SampleCount: len(series), Status: StatusInsufficientSamples}
	if len(series) < MinSamples {
		return out
	}

	conditioned := c.Condition(series)

	var raw Metrics
	raw.AvgHeartRate, out.WindowEstimates = c.windowedHeartRate(conditioned)

	peaks := FindPeaks(conditioned.Filtered, c.config.peakDistance(),
		peakHeight(conditioned.Filtered, c.config.PeakHeightRatio))
	out.PeakCount = len(peaks)
	out.Intervals = Intervals(peaks, c.config.FPS)

	switch {
	case len(peaks) < 2:
		out.Status = StatusInsufficientPeaks
	case len(out.Intervals) < 2:
		out.Status = StatusInsufficientIntervals
		raw.SDNN = SDNN(out.Intervals)
	default:
		out.Status = StatusOK
		raw.SDNN = SDNN(out.Intervals)
		raw.RMSSD = RMSSD(out.Intervals)
		raw.StressIndex = BeatStabilityIndex(raw.RMSSD)
		raw.LFHFRatio = LFHFRatio(out.Intervals, c.config.LFBand, c.config.HFBand)
	}

	out.Metrics = Sanitize(raw)
	return out
}

// windowedHeartRate scans the smoothed signal left to right. Trailing windows
// may be shorter than the window length. A window contributes only when it
// holds at least two peaks.
func (c *Calculator) windowedHeartRate(conditioned Conditioned) (float64, []float64) {
	if conditioned.Degenerate {
		return 0, nil
	}
	signal := conditioned.Smoothed
	length, step := c.config.windowLength(), c.config.stepSize()
	distance := c.config.peakDistance()

	var estimates []float64
	for start := 0; start < len(signal); start += step {
		window := signal[start:min(start+length, len(signal))]
		peaks := FindPeaks(window, distance, peakHeight(window, c.config.PeakHeightRatio))
		if len(peaks) < 2 {
			continue
		}
		estimates = append(estimates, 60/stat.Mean(Intervals(peaks, c.config.FPS), nil))
	}
	if len(estimates) == 0 {
		return 0, nil
	}
	return stat.Mean(estimates, nil), estimates
}

// Sanitize replaces every NaN, infinite or negative field with zero.
func Sanitize(m Metrics) Metrics {
	return Metrics{
		AvgHeartRate: finite(m.AvgHeartRate),
		SDNN:         finite(m.SDNN),
		RMSSD:        finite(m.RMSSD),
		StressIndex:  finite(m.StressIndex),
		LFHFRatio:    finite(m.LFHFRatio),
	}
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// SpatialMeans reduces each patch to the mean of its elements.
func SpatialMeans(frames []mat.Matrix) []float64 {
	out := make([]float64, 0, len(frames))
	for _, f := range frames {
		if f == nil {
			continue
		}
		r, c := f.Dims()
		if r == 0 || c == 0 {
			continue
		}
		out = append(out, mat.Sum(f)/float64(r*c))
	}
	return out
}
