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
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

// Intervals converts peak indices into inter-beat intervals in seconds.
// The result always has len(peaks)-1 entries, or none for fewer than two peaks.
func Intervals(peaks []int, fps float64) []float64 {
	if len(peaks) < 2 {
		return nil
	}
	out := make([]float64, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		out[i-1] = float64(peaks[i]-peaks[i-1]) / fps
	}
	return out
}

// SDNN is the population standard deviation of the intervals.
func SDNN(ibi []float64) float64 {
	if len(ibi) < 1 {
		return 0
	}
	return stat.PopStdDev(ibi, nil)
}

// RMSSD is the root mean square of successive interval differences.
// It needs at least two intervals.
func RMSSD(ibi []float64) float64 {
	if len(ibi) < 2 {
		return 0
	}
	sq := make([]float64, len(ibi)-1)
	for i := 1; i < len(ibi); i++ {
		d := ibi[i] - ibi[i-1]
		sq[i-1] = d * d
	}
	return math.Sqrt(stat.Mean(sq, nil))
}

// BeatStabilityIndex is 1/RMSSD. It is a stress proxy, not a clinical index,
// and is zero whenever RMSSD is.
func BeatStabilityIndex(rmssd float64) float64 {
	if rmssd > 0 {
		return 1 / rmssd
	}
	return 0
}

// LFHFRatio is the ratio of spectral power of the interval series in the
// low and high frequency bands. The series is treated as uniformly sampled
// with a spacing of its own mean interval. Only the non-negative half of the
// spectrum is summed; for even lengths the Nyquist bin belongs to the
// negative half and is left out.
func LFHFRatio(ibi []float64, lf, hf Band) float64 {
	n := len(ibi)
	if n < 2 {
		return 0
	}
	spacing := stat.Mean(ibi, nil)
	if !(spacing > 0) {
		return 0
	}

	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, ibi)

	var lfPower, hfPower float64
	for k, c := range coeff {
		if n%2 == 0 && k == n/2 {
			continue
		}
		freq := fft.Freq(k) / spacing
		power := math.Pow(cmplx.Abs(c), 2)
		switch {
		case lf.Contains(freq):
			lfPower += power
		case hf.Contains(freq):
			hfPower += power
		}
	}
	if hfPower == 0 {
		return 0
	}
	return lfPower / hfPower
}
