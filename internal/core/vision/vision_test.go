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

package vision_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/heart"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/vision"
	test "github.com/jaycherian/gcp-go-lecture-pulse/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForeheadROI(t *testing.T) {
	bounds := image.Rect(0, 0, 640, 480)

	roi, ok := vision.ForeheadROI(vision.Face{X: 300, Y: 120, W: 120, H: 160}, bounds)
	require.True(t, ok)
	assert.Equal(t, image.Rect(340, 140, 380, 160), roi)

	// Clipped at the frame edge.
	roi, ok = vision.ForeheadROI(vision.Face{X: 580, Y: -60, W: 120, H: 320}, bounds)
	require.True(t, ok)
	assert.Equal(t, image.Rect(620, 0, 640, 20), roi)

	// Tiny boxes collapse.
	_, ok = vision.ForeheadROI(vision.Face{X: 10, Y: 10, W: 2, H: 3}, bounds)
	assert.False(t, ok)

	// Entirely outside the frame.
	_, ok = vision.ForeheadROI(vision.Face{X: 700, Y: 10, W: 90, H: 90}, bounds)
	assert.False(t, ok)

	// Inverted and empty boxes are never normalised into a band.
	for _, face := range []vision.Face{
		{X: 300, Y: 300, W: -90, H: -120},
		{X: 300, Y: 100, W: -90, H: 120},
		{X: 300, Y: 100, W: 90, H: -120},
		{X: 300, Y: 100, W: 0, H: 120},
		{X: 300, Y: 100, W: 90, H: 0},
	} {
		_, ok = vision.ForeheadROI(face, bounds)
		assert.False(t, ok, "%+v", face)
		_, ok = vision.ForeheadBand(face)
		assert.False(t, ok, "%+v", face)
	}
}

func TestForeheadBandIsUnclipped(t *testing.T) {
	band, ok := vision.ForeheadBand(vision.Face{X: 700, Y: 10, W: 90, H: 80})
	require.True(t, ok)
	assert.Equal(t, image.Rect(730, 20, 760, 30), band)
}

func TestMeanIntensity(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for x := 0; x < 4; x++ {
		img.Set(x, 0, color.RGBA{R: 200, G: 100, B: 0, A: 255})
		img.Set(x, 1, color.RGBA{R: 200, G: 50, B: 0, A: 255})
	}

	green, ok := vision.MeanIntensity(img, img.Bounds(), vision.ChannelGreen)
	require.True(t, ok)
	assert.InDelta(t, 75, green, 1e-9)

	luma, ok := vision.MeanIntensity(img, image.Rect(0, 0, 4, 1), vision.ChannelLuma)
	require.True(t, ok)
	assert.InDelta(t, 0.299*200+0.587*100, luma, 1e-9)

	_, ok = vision.MeanIntensity(img, image.Rect(10, 10, 12, 12), vision.ChannelGreen)
	assert.False(t, ok)
}

func TestExtractPatchShape(t *testing.T) {
	img := test.PulseFrames([]float64{140})[0]
	patch, ok := vision.ExtractPatch(img, image.Rect(2, 3, 7, 5), vision.ChannelGreen)
	require.True(t, ok)
	r, c := patch.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 5, c)
	assert.Equal(t, 140.0, patch.At(1, 4))
}

func TestParseChannel(t *testing.T) {
	c, err := vision.ParseChannel("")
	require.NoError(t, err)
	assert.Equal(t, vision.ChannelGreen, c)
	c, err = vision.ParseChannel("luma")
	require.NoError(t, err)
	assert.Equal(t, vision.ChannelLuma, c)
	_, err = vision.ParseChannel("infrared")
	assert.ErrorIs(t, err, vision.ErrUnknownChannel)
}

func TestDecodeFrame(t *testing.T) {
	img := test.PulseFrames([]float64{131})[0]

	for name, encoded := range map[string]string{
		"png":          test.EncodePNG(img, false),
		"png data uri": test.EncodePNG(img, true),
		"jpeg":         test.EncodeJPEG(img, true),
	} {
		t.Run(name, func(t *testing.T) {
			decoded, err := vision.DecodeFrame(encoded)
			require.NoError(t, err)
			assert.Equal(t, img.Bounds(), decoded.Bounds())
			_, g, _, _ := decoded.At(5, 5).RGBA()
			assert.InDelta(t, 131, float64(g>>8), 3)
		})
	}
}

func TestDecodeFrameRejectsMalformed(t *testing.T) {
	for name, encoded := range map[string]string{
		"empty":         "",
		"not base64":    "%%%",
		"no payload":    "data:image/png;base64",
		"text":          "aGVsbG8gd29ybGQ=",
		"gif":           "R0lGODlhAQABAAAAACw=",
		"truncated png": test.EncodePNG(test.PulseFrames([]float64{1})[0], false)[:40],
	} {
		t.Run(name, func(t *testing.T) {
			_, err := vision.DecodeFrame(encoded)
			require.Error(t, err)
			assert.True(t, errors.Is(err, vision.ErrMalformedFrame))
		})
	}
}

func TestSamplerPreservesOrder(t *testing.T) {
	series := test.SyntheticPulse(120, 30, 1.2, 20, 0, 0)
	frames := test.PulseFrames(series)
	detector := &test.CountingDetector{Detector: test.StaticDetector(test.TestFace)}

	sampler := vision.NewSampler(detector, vision.SamplerConfig{Workers: 7})
	report, err := sampler.SampleImages(context.Background(), frames)
	require.NoError(t, err)

	assert.Equal(t, 120, report.Total)
	assert.Equal(t, 120, report.Valid)
	assert.Zero(t, report.DroppedCount())
	assert.Equal(t, int64(120), detector.Calls.Load())
	require.Len(t, report.Series, len(series))
	for i := range series {
		assert.InDelta(t, math.Round(series[i]), report.Series[i], 1e-9, "frame %d", i)
	}
}

func TestSamplerDropsUnusableFrames(t *testing.T) {
	series := test.SyntheticPulse(40, 30, 1.2, 20, 0, 0)
	frames := test.PulseFrames(series)
	encoded := make([]string, len(frames))
	for i, f := range frames {
		encoded[i] = test.EncodePNG(f, i%2 == 0)
	}
	encoded[3] = "garbage"

	// Frames are told apart by their green level: the detector sees one face
	// on most frames, none on the darkest and two on the brightest.
	lo, hi := 118.0, 138.0
	detector := test.DetectorFunc(func(img image.Image) ([]vision.Face, error) {
		_, g, _, _ := img.At(0, 0).RGBA()
		switch v := float64(g >> 8); {
		case v < lo:
			return nil, nil
		case v > hi:
			return []vision.Face{test.TestFace, test.TestFace}, nil
		default:
			return []vision.Face{test.TestFace}, nil
		}
	})

	wantNone, wantMany := 0, 0
	for i, v := range series {
		if i == 3 {
			continue
		}
		switch r := math.Round(v); {
		case r < lo:
			wantNone++
		case r > hi:
			wantMany++
		}
	}

	sampler := vision.NewSampler(detector, vision.SamplerConfig{Workers: 3, MinValidFrames: 1})
	report, err := sampler.SampleEncoded(context.Background(), encoded)
	require.NoError(t, err)

	assert.Equal(t, 40, report.Total)
	assert.Equal(t, 1, report.Dropped[vision.DropMalformed])
	assert.Equal(t, wantNone, report.Dropped[vision.DropNoFace])
	assert.Equal(t, wantMany, report.Dropped[vision.DropMultipleFaces])
	assert.Equal(t, 40-report.DroppedCount(), report.Valid)
	for _, v := range report.Series {
		assert.GreaterOrEqual(t, v, lo)
		assert.LessOrEqual(t, v, hi)
	}
}

func TestSamplerNoFaceIsInsufficient(t *testing.T) {
	frames := test.PulseFrames(test.SyntheticPulse(30, 30, 1.2, 10, 0, 0))
	sampler := vision.NewSampler(test.StaticDetector(), vision.SamplerConfig{})

	report, err := sampler.SampleImages(context.Background(), frames)
	require.Error(t, err)
	assert.True(t, errors.Is(err, vision.ErrInsufficientValidFrames))
	assert.Equal(t, 30, report.Dropped[vision.DropNoFace])
	assert.Empty(t, report.Series)
}

func TestSamplerDetectorErrorsAreCounted(t *testing.T) {
	frames := test.PulseFrames(make([]float64, 12))
	sampler := vision.NewSampler(test.FailingDetector(), vision.SamplerConfig{MinValidFrames: 1})
	report, err := sampler.SampleImages(context.Background(), frames)
	assert.True(t, errors.Is(err, vision.ErrInsufficientValidFrames))
	assert.Equal(t, 12, report.Dropped[vision.DropDetectorError])
}

func TestSamplerDegenerateROI(t *testing.T) {
	frames := test.PulseFrames(make([]float64, 10))
	sampler := vision.NewSampler(test.StaticDetector(vision.Face{X: 1, Y: 1, W: 2, H: 3}), vision.SamplerConfig{MinValidFrames: 1})
	report, err := sampler.SampleImages(context.Background(), frames)
	assert.Error(t, err)
	assert.Equal(t, 10, report.Dropped[vision.DropDegenerateROI])
}

func TestSamplerInvertedBoxIsDegenerate(t *testing.T) {
	frames := test.PulseFrames(make([]float64, 10))
	sampler := vision.NewSampler(test.StaticDetector(vision.Face{X: 50, Y: 50, W: -30, H: -40}), vision.SamplerConfig{MinValidFrames: 1})
	report, err := sampler.SampleImages(context.Background(), frames)
	assert.ErrorIs(t, err, vision.ErrInsufficientValidFrames)
	assert.Equal(t, 10, report.Dropped[vision.DropDegenerateROI])
}

func TestSamplerFaceOutsideFrameIsEmptyCrop(t *testing.T) {
	frames := test.PulseFrames(make([]float64, 10))
	outside := vision.Face{X: test.FrameSize + 10, Y: 0, W: 32, H: 40}
	sampler := vision.NewSampler(test.StaticDetector(outside), vision.SamplerConfig{MinValidFrames: 1})
	report, err := sampler.SampleImages(context.Background(), frames)
	assert.ErrorIs(t, err, vision.ErrInsufficientValidFrames)
	assert.Equal(t, 10, report.Dropped[vision.DropEmptyCrop])
	assert.Zero(t, report.Dropped[vision.DropDegenerateROI])
}

func TestSamplerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sampler := vision.NewSampler(test.StaticDetector(test.TestFace), vision.SamplerConfig{Workers: 1})
	_, err := sampler.SampleImages(ctx, test.PulseFrames(make([]float64, 500)))
	assert.True(t, errors.Is(err, context.Canceled))
}

// End to end: frames of a 72 BPM pulse through sampling and estimation.
func TestSampledPulseHeartRate(t *testing.T) {
	const fps = 30.0
	frames := test.PulseFrames(test.SyntheticPulse(300, fps, 1.2, 10, 2, 42))
	sampler := vision.NewSampler(test.StaticDetector(test.TestFace), vision.SamplerConfig{})
	report, err := sampler.SampleImages(context.Background(), frames)
	require.NoError(t, err)

	calc, err := heart.NewCalculator(heart.DefaultConfig(fps))
	require.NoError(t, err)
	analysis := calc.Analyze(report.Series)
	assert.Equal(t, heart.StatusOK, analysis.Status)
	assert.InDelta(t, 72, analysis.Metrics.AvgHeartRate, 5)
}
