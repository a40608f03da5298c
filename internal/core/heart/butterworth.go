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
	"fmt"
	"math"
	"math/cmplx"
	"slices"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// biquad is one second-order section with a0 normalised to 1.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// bandPass is a digital Butterworth band-pass stored as cascaded biquads,
// together with the steady-state initial conditions of a unit step.
type bandPass struct {
	sections []biquad
	zi       [][2]float64
}

// designBandPass builds an order-n Butterworth band-pass for [lowHz, highHz]
// at the given sampling rate. The analog prototype is frequency-transformed
// and mapped with the bilinear transform (pre-warped, fs normalised to 2),
// then the poles are paired into sections. Every section carries one zero at
// z = 1 and one at z = -1, which is where the band-pass zeros land.
func designBandPass(order int, lowHz, highHz, fps float64) (*bandPass, error) {
	nyquist := fps / 2
	w1 := 4 * math.Tan(math.Pi*(lowHz/nyquist)/2)
	w2 := 4 * math.Tan(math.Pi*(highHz/nyquist)/2)
	bw := w2 - w1
	wo2 := complex(w1*w2, 0)

	analog := make([]complex128, 0, 2*order)
	for m := -order + 1; m < order; m += 2 {
		p := -cmplx.Exp(complex(0, math.Pi*float64(m)/float64(2*order)))
		lp := p * complex(bw/2, 0)
		root := cmplx.Sqrt(lp*lp - wo2)
		analog = append(analog, lp+root, lp-root)
	}

	// Bilinear transform. The n analog zeros sit at the origin.
	den := complex(1, 0)
	digital := make([]complex128, len(analog))
	for i, p := range analog {
		den *= 4 - p
		digital[i] = (4 + p) / (4 - p)
	}
	gain := real(complex(math.Pow(bw, float64(order))*math.Pow(4, float64(order)), 0) / den)

	var upper []complex128
	var reals []float64
	for _, p := range digital {
		switch {
		case math.Abs(imag(p)) <= 1e-12*(1+cmplx.Abs(p)):
			reals = append(reals, real(p))
		case imag(p) > 0:
			upper = append(upper, p)
		}
	}
	if len(reals)%2 != 0 || len(upper)+len(reals)/2 != order {
		return nil, fmt.Errorf("%w: could not pair %d poles into %d sections", ErrInvalidFilterConfig, len(digital), order)
	}
	sort.Float64s(reals)

	f := &bandPass{}
	for _, p := range upper {
		f.sections = append(f.sections, biquad{b0: 1, b2: -1, a1: -2 * real(p), a2: real(p)*real(p) + imag(p)*imag(p)})
	}
	for i := 0; i < len(reals); i += 2 {
		f.sections = append(f.sections, biquad{b0: 1, b2: -1, a1: -(reals[i] + reals[i+1]), a2: reals[i] * reals[i+1]})
	}
	f.sections[0].b0 *= gain
	f.sections[0].b1 *= gain
	f.sections[0].b2 *= gain

	if err := f.initSteadyState(); err != nil {
		return nil, err
	}
	return f, nil
}

// initSteadyState computes, per section, the delay-line state the cascade
// settles in after an infinitely long unit step. Each section's state is
// scaled by the DC gain of the sections in front of it.
func (f *bandPass) initSteadyState() error {
	f.zi = make([][2]float64, len(f.sections))
	scale := 1.0
	for i, s := range f.sections {
		iMinusA := mat.NewDense(2, 2, []float64{
			1 + s.a1, -1,
			s.a2, 1,
		})
		rhs := mat.NewVecDense(2, []float64{s.b1 - s.a1*s.b0, s.b2 - s.a2*s.b0})
		var zi mat.VecDense
		if err := zi.SolveVec(iMinusA, rhs); err != nil {
			return fmt.Errorf("%w: section %d has a pole on the unit circle: %v", ErrInvalidFilterConfig, i, err)
		}
		f.zi[i] = [2]float64{scale * zi.AtVec(0), scale * zi.AtVec(1)}
		scale *= (s.b0 + s.b1 + s.b2) / (1 + s.a1 + s.a2)
	}
	return nil
}

// filter runs the cascade in place over x (direct form II transposed),
// starting every section from its steady state for a step of height x0.
func (f *bandPass) filter(x []float64, x0 float64) {
	for i, s := range f.sections {
		z0, z1 := f.zi[i][0]*x0, f.zi[i][1]*x0
		for n, in := range x {
			out := s.b0*in + z0
			z0 = s.b1*in - s.a1*out + z1
			z1 = s.b2*in - s.a2*out
			x[n] = out
		}
	}
}

// padLength is the odd-extension length used at each end by filtFilt.
func (f *bandPass) padLength() int {
	return 3 * (2*len(f.sections) + 1)
}

// filtFilt applies the filter forward and backward so the output has no phase
// shift. The input is extended at both ends by odd reflection to suppress
// edge transients; the extension is clamped to len(x)-1 so short series are
// still filtered.
func (f *bandPass) filtFilt(x []float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	pad := min(f.padLength(), n-1)
	ext := oddExtend(x, pad)

	f.filter(ext, ext[0])
	slices.Reverse(ext)
	f.filter(ext, ext[0])
	slices.Reverse(ext)

	return ext[pad : pad+n]
}

func oddExtend(x []float64, pad int) []float64 {
	n := len(x)
	ext := make([]float64, 0, n+2*pad)
	for i := pad; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := n - 2; i >= n-1-pad; i-- {
		ext = append(ext, 2*x[n-1]-x[i])
	}
	return ext
}
