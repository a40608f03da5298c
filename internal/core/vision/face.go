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

// Package vision turns face-video frames into the scalar intensity series the
// heart package consumes. For every frame it finds the single face, takes a
// forehead patch and reduces it to one mean channel value. Frames that cannot
// be sampled are dropped and counted, never zero-filled.
package vision

import (
	"image"
)

// Face is a detected face bounding box in image coordinates.
type Face struct {
	X, Y, W, H int
}

// Rect returns the face box as an image.Rectangle.
func (f Face) Rect() image.Rectangle {
	return image.Rect(f.X, f.Y, f.X+f.W, f.Y+f.H)
}

// Detector finds faces in a frame. Implementations must be safe for
// concurrent use by the Sampler's workers.
type Detector interface {
	Detect(img image.Image) ([]Face, error)
}

// ForeheadBand is the forehead of a face box, unclipped: the middle third
// horizontally and from one eighth to one quarter of the face height
// vertically. Boxes with a non-positive width or height, and boxes too small
// to leave a band, report false.
func ForeheadBand(face Face) (image.Rectangle, bool) {
	if face.W <= 0 || face.H <= 0 {
		return image.Rectangle{}, false
	}
	band := image.Rectangle{
		Min: image.Point{X: face.X + face.W/3, Y: face.Y + face.H/8},
		Max: image.Point{X: face.X + 2*face.W/3, Y: face.Y + face.H/4},
	}
	if band.Min.X >= band.Max.X || band.Min.Y >= band.Max.Y {
		return image.Rectangle{}, false
	}
	return band, true
}

// ForeheadROI is the forehead band clipped to bounds. It reports false for a
// degenerate box and when nothing of the band is left inside bounds.
func ForeheadROI(face Face, bounds image.Rectangle) (image.Rectangle, bool) {
	band, ok := ForeheadBand(face)
	if !ok {
		return image.Rectangle{}, false
	}
	roi := band.Intersect(bounds)
	return roi, !roi.Empty()
}
