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

// Package cascade detects faces with an OpenCV Haar cascade through gocv.
package cascade

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"runtime"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/vision"
	"gocv.io/x/gocv"
)

// Config describes the cascade model and detection parameters.
type Config struct {
	File         string  // Cascade XML, e.g. haarcascade_frontalface_default.xml.
	ScaleFactor  float64 // Pyramid step; defaults to 1.1.
	MinNeighbors int     // Defaults to 5.
	MinSize      int     // Smallest face edge in pixels; defaults to 30.
	PoolSize     int     // Classifiers loaded; defaults to GOMAXPROCS.
}

// Detector is a vision.Detector backed by a pool of cascade classifiers.
// An OpenCV classifier is not safe for concurrent use, so each Detect call
// borrows one for its duration.
type Detector struct {
	config Config
	pool   chan *gocv.CascadeClassifier
}

var _ vision.Detector = (*Detector)(nil)

// NewDetector loads the cascade file once per pool slot.
func NewDetector(config Config) (*Detector, error) {
	if config.ScaleFactor <= 1 {
		config.ScaleFactor = 1.1
	}
	if config.MinNeighbors < 1 {
		config.MinNeighbors = 5
	}
	if config.MinSize < 1 {
		config.MinSize = 30
	}
	if config.PoolSize < 1 {
		config.PoolSize = runtime.GOMAXPROCS(0)
	}

	d := &Detector{config: config, pool: make(chan *gocv.CascadeClassifier, config.PoolSize)}
	for i := 0; i < config.PoolSize; i++ {
		classifier := gocv.NewCascadeClassifier()
		if !classifier.Load(config.File) {
			_ = classifier.Close()
			return nil, errors.Join(fmt.Errorf("loading cascade %q failed", config.File), d.Close())
		}
		d.pool <- &classifier
	}
	return d, nil
}

// Detect returns every face box found in img, in img's coordinate space.
func (d *Detector) Detect(img image.Image) ([]vision.Face, error) {
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, img, bounds.Min, draw.Src)

	mat, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, fmt.Errorf("converting frame: %w", err)
	}
	defer mat.Close()

	classifier := <-d.pool
	defer func() { d.pool <- classifier }()

	minSize := image.Pt(d.config.MinSize, d.config.MinSize)
	rects := classifier.DetectMultiScaleWithParams(mat, d.config.ScaleFactor, d.config.MinNeighbors, 0, minSize, image.Point{})

	faces := make([]vision.Face, 0, len(rects))
	for _, r := range rects {
		r = r.Add(bounds.Min)
		faces = append(faces, vision.Face{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()})
	}
	return faces, nil
}

// Close releases every classifier currently in the pool. It must not be
// called while detections are in flight.
func (d *Detector) Close() error {
	var errs []error
	for {
		select {
		case c := <-d.pool:
			errs = append(errs, c.Close())
		default:
			return errors.Join(errs...)
		}
	}
}
