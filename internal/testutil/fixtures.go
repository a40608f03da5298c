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

package test

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"math/rand"
	"sync/atomic"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/vision"
)

// SyntheticPulse is an rPPG-like intensity series: a sinusoid at freq Hz
// riding on a level of 128 with Gaussian noise of the given deviation.
// The same seed always yields the same series.
func SyntheticPulse(n int, fps, freq, amplitude, noise float64, seed int64) []float64 {
	r := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = 128 + amplitude*math.Sin(2*math.Pi*freq*(float64(i)+0.5)/fps)
		if noise != 0 {
			out[i] += noise * r.NormFloat64()
		}
	}
	return out
}

// FrameSize and TestFace describe the frames produced by PulseFrames.
const FrameSize = 64

var TestFace = vision.Face{X: 16, Y: 8, W: 32, H: 40}

// PulseFrames renders one uniform frame per sample with the green channel
// set to the sample value, so forehead sampling recovers the series up to
// 8-bit rounding.
func PulseFrames(series []float64) []image.Image {
	frames := make([]image.Image, len(series))
	for i, v := range series {
		img := image.NewRGBA(image.Rect(0, 0, FrameSize, FrameSize))
		g := uint8(math.Round(math.Max(0, math.Min(255, v))))
		fill := color.RGBA{R: 90, G: g, B: 60, A: 255}
		for p := 0; p < len(img.Pix); p += 4 {
			img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = fill.R, fill.G, fill.B, fill.A
		}
		frames[i] = img
	}
	return frames
}

// EncodePNG returns img as base64 PNG, optionally with a data URI prefix.
func EncodePNG(img image.Image, dataURI bool) string {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return encode(buf.Bytes(), "image/png", dataURI)
}

// EncodeJPEG returns img as base64 JPEG at the highest quality.
func EncodeJPEG(img image.Image, dataURI bool) string {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
		panic(err)
	}
	return encode(buf.Bytes(), "image/jpeg", dataURI)
}

func encode(data []byte, mime string, dataURI bool) string {
	s := base64.StdEncoding.EncodeToString(data)
	if dataURI {
		return "data:" + mime + ";base64," + s
	}
	return s
}

// DetectorFunc adapts a function to vision.Detector.
type DetectorFunc func(img image.Image) ([]vision.Face, error)

func (f DetectorFunc) Detect(img image.Image) ([]vision.Face, error) {
	return f(img)
}

// StaticDetector reports the same faces for every frame.
func StaticDetector(faces ...vision.Face) vision.Detector {
	return DetectorFunc(func(image.Image) ([]vision.Face, error) {
		return faces, nil
	})
}

// ErrDetector is returned by FailingDetector.
var ErrDetector = errors.New("detector unavailable")

// FailingDetector fails every detection.
func FailingDetector() vision.Detector {
	return DetectorFunc(func(image.Image) ([]vision.Face, error) {
		return nil, ErrDetector
	})
}

// CountingDetector wraps d and counts calls; safe for concurrent use.
type CountingDetector struct {
	vision.Detector
	Calls atomic.Int64
}

func (c *CountingDetector) Detect(img image.Image) ([]vision.Face, error) {
	c.Calls.Add(1)
	return c.Detector.Detect(img)
}
