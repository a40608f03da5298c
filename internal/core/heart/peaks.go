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
	"sort"

	"gonum.org/v1/gonum/floats"
)

// FindPeaks returns the indices of local maxima in signal, in increasing
// order. A flat top counts once, at its middle sample; the first and last
// samples are never peaks. Peaks below minHeight are discarded. Of any two
// peaks closer than minDistance samples (rounded up, at least 1) only the
// higher survives, evaluated from the highest peak down.
func FindPeaks(signal []float64, minDistance float64, minHeight float64) []int {
	candidates := localMaxima(signal)

	peaks := candidates[:0]
	for _, p := range candidates {
		if signal[p] >= minHeight {
			peaks = append(peaks, p)
		}
	}

	distance := int(math.Ceil(minDistance))
	if distance <= 1 || len(peaks) < 2 {
		return peaks
	}

	order := make([]int, len(peaks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return signal[peaks[order[i]]] < signal[peaks[order[j]]]
	})

	keep := make([]bool, len(peaks))
	for i := range keep {
		keep[i] = true
	}
	for i := len(order) - 1; i >= 0; i-- {
		j := order[i]
		if !keep[j] {
			continue
		}
		for k := j - 1; k >= 0 && peaks[j]-peaks[k] < distance; k-- {
			keep[k] = false
		}
		for k := j + 1; k < len(peaks) && peaks[k]-peaks[j] < distance; k++ {
			keep[k] = false
		}
	}

	out := make([]int, 0, len(peaks))
	for i, p := range peaks {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}

func localMaxima(x []float64) []int {
	var out []int
	last := len(x) - 1
	for i := 1; i < last; i++ {
		if x[i-1] >= x[i] {
			continue
		}
		ahead := i + 1
		for ahead < last && x[ahead] == x[i] {
			ahead++
		}
		if x[ahead] < x[i] {
			out = append(out, (i+ahead-1)/2)
			i = ahead
		}
	}
	return out
}

// peakHeight is the minimum peak height for a segment: a fraction of its
// maximum, or zero when the segment never rises above zero.
func peakHeight(segment []float64, ratio float64) float64 {
	if len(segment) == 0 {
		return 0
	}
	if m := floats.Max(segment); m > 0 {
		return ratio * m
	}
	return 0
}
