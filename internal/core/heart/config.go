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

// Package heart estimates heart rate and heart-rate-variability metrics from a
// remote photoplethysmography (rPPG) intensity series: one scalar sample per
// captured video frame, in capture order.
//
// The pipeline is:
//
//  1. Condition: remove the linear trend, apply a zero-phase Butterworth
//     band-pass and smooth with a short moving average.
//  2. Windowed heart rate: slide fixed windows across the smoothed signal and
//     average the per-window rate derived from peak spacing.
//  3. Variability: detect peaks on the whole filtered signal, derive the
//     inter-beat intervals and compute SDNN, RMSSD, the beat stability index
//     and the LF/HF spectral ratio.
//
// Every computation is a pure function of the input series and the Config the
// Calculator was built with. Insufficient data never produces an error; it
// degrades to zero-valued metrics and a Status describing where the data ran out.
package heart

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidFilterConfig is returned when the band-pass cutoffs are not
// realisable at the configured sampling rate.
var ErrInvalidFilterConfig = errors.New("invalid filter configuration")

// Band is a half-open frequency interval [Low, High) in Hz.
type Band struct {
	Low  float64 `toml:"low"`
	High float64 `toml:"high"`
}

// Contains reports whether f lies in the band.
func (b Band) Contains(f float64) bool {
	return f >= b.Low && f < b.High
}

// Config holds every tunable of the calculator. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	FPS                    float64 `toml:"fps"`                      // Samples per second of the intensity series.
	WindowLengthMultiplier float64 `toml:"window_length_multiplier"` // Window length in seconds for the heart-rate scan.
	StepSizeMultiplier     float64 `toml:"step_size_multiplier"`     // Hop between windows in seconds.
	LowCutHz               float64 `toml:"low_cut_hz"`               // Lower band-pass edge.
	HighCutHz              float64 `toml:"high_cut_hz"`              // Upper band-pass edge, must stay below Nyquist.
	FilterOrder            int     `toml:"filter_order"`             // Butterworth prototype order.
	PeakHeightRatio        float64 `toml:"peak_height_ratio"`        // Minimum peak height as a fraction of the segment maximum.
	RefractoryDivisor      float64 `toml:"refractory_divisor"`       // Minimum peak spacing is FPS / RefractoryDivisor samples.
	SmoothingDivisor       float64 `toml:"smoothing_divisor"`        // Moving-average width is round(FPS / SmoothingDivisor) samples.
	LFBand                 Band    `toml:"lf_band"`
	HFBand                 Band    `toml:"hf_band"`
}

// DefaultConfig returns the standard rPPG settings for the given sampling rate:
// a 0.5 to 3.0 Hz order-5 band-pass (30 to 180 BPM), 2 s windows with a 1 s
// hop, 60% peak height and a one-third-second refractory period.
func DefaultConfig(fps float64) Config {
	return Config{
		FPS:                    fps,
		WindowLengthMultiplier: 2,
		StepSizeMultiplier:     1,
		LowCutHz:               0.5,
		HighCutHz:              3.0,
		FilterOrder:            5,
		PeakHeightRatio:        0.6,
		RefractoryDivisor:      3,
		SmoothingDivisor:       3,
		LFBand:                 Band{Low: 0.04, High: 0.15},
		HFBand:                 Band{Low: 0.15, High: 0.4},
	}
}

// WithFPS returns a copy of the config running at a different sampling rate.
func (c Config) WithFPS(fps float64) Config {
	c.FPS = fps
	return c
}

// Nyquist is half the sampling rate.
func (c Config) Nyquist() float64 {
	return c.FPS / 2
}

// Validate checks that the filter can be designed. All failures wrap
// ErrInvalidFilterConfig.
func (c Config) Validate() error {
	switch {
	case !(c.FPS > 0) || math.IsInf(c.FPS, 0):
		return fmt.Errorf("%w: fps must be positive, got %v", ErrInvalidFilterConfig, c.FPS)
	case c.FilterOrder < 1:
		return fmt.Errorf("%w: filter order must be at least 1, got %d", ErrInvalidFilterConfig, c.FilterOrder)
	case !(c.LowCutHz > 0):
		return fmt.Errorf("%w: low cut must be positive, got %v", ErrInvalidFilterConfig, c.LowCutHz)
	case c.LowCutHz >= c.HighCutHz:
		return fmt.Errorf("%w: low cut %v must be below high cut %v", ErrInvalidFilterConfig, c.LowCutHz, c.HighCutHz)
	case c.HighCutHz >= c.Nyquist():
		return fmt.Errorf("%w: high cut %v must be below the Nyquist frequency %v (fps %v)",
			ErrInvalidFilterConfig, c.HighCutHz, c.Nyquist(), c.FPS)
	case !(c.WindowLengthMultiplier > 0) || !(c.StepSizeMultiplier > 0):
		return fmt.Errorf("%w: window and step multipliers must be positive", ErrInvalidFilterConfig)
	case !(c.RefractoryDivisor > 0) || !(c.SmoothingDivisor > 0):
		return fmt.Errorf("%w: refractory and smoothing divisors must be positive", ErrInvalidFilterConfig)
	case c.PeakHeightRatio < 0 || c.PeakHeightRatio > 1:
		return fmt.Errorf("%w: peak height ratio must be within [0, 1], got %v", ErrInvalidFilterConfig, c.PeakHeightRatio)
	}
	return nil
}

// windowLength is the heart-rate scan window in samples.
func (c Config) windowLength() int {
	return atLeastOne(math.Round(c.FPS * c.WindowLengthMultiplier))
}

func (c Config) stepSize() int {
	return atLeastOne(math.Round(c.FPS * c.StepSizeMultiplier))
}

func (c Config) smoothingWindow() int {
	return atLeastOne(math.Round(c.FPS / c.SmoothingDivisor))
}

// peakDistance is the refractory period in samples.
func (c Config) peakDistance() float64 {
	return math.Max(1, c.FPS/c.RefractoryDivisor)
}

func atLeastOne(v float64) int {
	if v < 1 {
		return 1
	}
	return int(v)
}
