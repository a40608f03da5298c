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
	"gonum.org/v1/gonum/stat"
)

// Conditioned is the intensity series after conditioning.
type Conditioned struct {
	// Filtered is the detrended, band-passed series. Same length as the input.
	Filtered []float64
	// Smoothed is Filtered after a valid-mode moving average, so it is
	// shorter by the smoothing window minus one. Nil when Degenerate.
	Smoothed []float64
	// Degenerate is set when Filtered is shorter than the smoothing window.
	Degenerate bool
}

// Detrend subtracts the least-squares line through the samples (indexed
// 0..n-1). Fewer than three samples are returned unchanged as a copy.
func Detrend(series []float64) []float64 {
	out := make([]float64, len(series))
	copy(out, series)
	if len(series) < 3 {
		return out
	}
	xs := make([]float64, len(series))
	for i := range xs {
		xs[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(xs, series, nil, false)
	for i := range out {
		out[i] -= alpha + beta*xs[i]
	}
	return out
}

// MovingAverage returns the valid-mode convolution of series with a box of
// the given width: len(series)-width+1 samples, or nil when the series is
// shorter than the window.
func MovingAverage(series []float64, width int) []float64 {
	if width < 1 || len(series) < width {
		return nil
	}
	out := make([]float64, len(series)-width+1)
	sum := 0.0
	for i := 0; i < width; i++ {
		sum += series[i]
	}
	out[0] = sum / float64(width)
	for i := width; i < len(series); i++ {
		sum += series[i] - series[i-width]
		out[i-width+1] = sum / float64(width)
	}
	return out
}

// Condition detrends, band-passes and smooths the series. Callers guarantee
// at least three samples; shorter input is still handled without panicking.
func (c *Calculator) Condition(series []float64) Conditioned {
	filtered := c.filter.filtFilt(Detrend(series))
	smoothed := MovingAverage(filtered, c.config.smoothingWindow())
	return Conditioned{
		Filtered:   filtered,
		Smoothed:   smoothed,
		Degenerate: smoothed == nil,
	}
}
