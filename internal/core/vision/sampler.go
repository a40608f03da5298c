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

package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"runtime"
	"sync"
)

// ErrInsufficientValidFrames is returned when fewer frames than the
// configured minimum survive sampling.
var ErrInsufficientValidFrames = errors.New("insufficient valid frames")

// DropReason says why a frame contributed no sample.
type DropReason string

const (
	DropMalformed     DropReason = "malformed"
	DropNoFace        DropReason = "no_face"
	DropMultipleFaces DropReason = "multiple_faces"
	DropDegenerateROI DropReason = "degenerate_roi"
	DropEmptyCrop     DropReason = "empty_crop"
	DropDetectorError DropReason = "detector_error"
)

// DefaultMinFrames is the minimum number of usable frames per session.
const DefaultMinFrames = 10

// SamplingReport is the intensity series of the usable frames, in capture
// order, with counts of the frames that were dropped.
type SamplingReport struct {
	Series  []float64          `json:"-"`
	Total   int                `json:"total"`
	Valid   int                `json:"valid"`
	Dropped map[DropReason]int `json:"dropped"`
}

// DroppedCount is the number of frames that produced no sample.
func (r SamplingReport) DroppedCount() int {
	n := 0
	for _, v := range r.Dropped {
		n += v
	}
	return n
}

// SamplerConfig tunes a Sampler. Zero values select the defaults.
type SamplerConfig struct {
	Channel        Channel
	Workers        int // Concurrent detections; defaults to GOMAXPROCS.
	MinValidFrames int // Defaults to DefaultMinFrames.
}

// Sampler reduces frames to forehead intensities on a bounded worker pool.
// Workers only ever touch their own frame, and results are written back by
// frame index, so the series keeps capture order whatever the scheduling.
type Sampler struct {
	detector Detector
	config   SamplerConfig
}

func NewSampler(detector Detector, config SamplerConfig) *Sampler {
	if config.Channel == "" {
		config.Channel = ChannelGreen
	}
	if config.Workers < 1 {
		config.Workers = runtime.GOMAXPROCS(0)
	}
	if config.MinValidFrames < 1 {
		config.MinValidFrames = DefaultMinFrames
	}
	return &Sampler{detector: detector, config: config}
}

// MinValidFrames is the configured minimum.
func (s *Sampler) MinValidFrames() int {
	return s.config.MinValidFrames
}

// SampleImages samples already decoded frames.
func (s *Sampler) SampleImages(ctx context.Context, frames []image.Image) (SamplingReport, error) {
	return s.sample(ctx, len(frames), func(i int) (image.Image, error) {
		if frames[i] == nil {
			return nil, fmt.Errorf("%w: frame %d is nil", ErrMalformedFrame, i)
		}
		return frames[i], nil
	})
}

// SampleEncoded decodes and samples base64 frames.
func (s *Sampler) SampleEncoded(ctx context.Context, frames []string) (SamplingReport, error) {
	return s.sample(ctx, len(frames), func(i int) (image.Image, error) {
		return DecodeFrame(frames[i])
	})
}

// SampleFiles reads and samples image files, e.g. frames extracted from a
// recording. Paths must already be in capture order.
func (s *Sampler) SampleFiles(ctx context.Context, paths []string) (SamplingReport, error) {
	return s.sample(ctx, len(paths), func(i int) (image.Image, error) {
		data, err := os.ReadFile(paths[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return DecodeFrameBytes(data)
	})
}

type sample struct {
	value  float64
	reason DropReason // Empty when value is usable.
}

func (s *Sampler) sample(ctx context.Context, total int, load func(int) (image.Image, error)) (SamplingReport, error) {
	results := make([]sample, total)
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < min(s.config.Workers, total); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = s.sampleOne(load, i)
			}
		}()
	}

	var cancelled error
feed:
	for i := 0; i < total; i++ {
		select {
		case jobs <- i:
		case <-ctx.Done():
			cancelled = ctx.Err()
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	report := SamplingReport{Total: total, Dropped: make(map[DropReason]int)}
	if cancelled != nil {
		return report, fmt.Errorf("sampling cancelled: %w", cancelled)
	}
	report.Series = make([]float64, 0, total)
	for _, r := range results {
		if r.reason != "" {
			report.Dropped[r.reason]++
			continue
		}
		report.Series = append(report.Series, r.value)
	}
	report.Valid = len(report.Series)

	if report.Valid < s.config.MinValidFrames {
		return report, fmt.Errorf("%w: %d of %d frames usable, need %d",
			ErrInsufficientValidFrames, report.Valid, total, s.config.MinValidFrames)
	}
	return report, nil
}

func (s *Sampler) sampleOne(load func(int) (image.Image, error), i int) sample {
	img, err := load(i)
	if err != nil {
		return sample{reason: DropMalformed}
	}
	faces, err := s.detector.Detect(img)
	switch {
	case err != nil:
		return sample{reason: DropDetectorError}
	case len(faces) == 0:
		return sample{reason: DropNoFace}
	case len(faces) > 1:
		return sample{reason: DropMultipleFaces}
	}
	band, ok := ForeheadBand(faces[0])
	if !ok {
		return sample{reason: DropDegenerateROI}
	}
	// A band lying outside the frame leaves an empty crop.
	value, ok := MeanIntensity(img, band, s.config.Channel)
	if !ok {
		return sample{reason: DropEmptyCrop}
	}
	return sample{value: value}
}
