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
	"errors"
	"fmt"
	"image"

	"gonum.org/v1/gonum/mat"
)

// ErrUnknownChannel is returned for channel names other than green or luma.
var ErrUnknownChannel = errors.New("unknown channel")

// Channel selects the per-pixel value sampled from the forehead.
type Channel string

const (
	ChannelGreen Channel = "green" // Strongest plethysmographic signal.
	ChannelLuma  Channel = "luma"  // BT.601 luma, for sources without usable chroma.
)

// ParseChannel validates a configured channel name.
func ParseChannel(name string) (Channel, error) {
	switch c := Channel(name); c {
	case ChannelGreen, ChannelLuma:
		return c, nil
	case "":
		return ChannelGreen, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownChannel, name)
	}
}

func (c Channel) value(r, g, b uint32) float64 {
	// RGBA() returns 16-bit components; scale back to 0..255.
	if c == ChannelLuma {
		return (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257
	}
	return float64(g) / 257
}

// ExtractPatch copies the channel values inside rect into a matrix with one
// row per pixel row. It reports false when rect does not overlap img.
func ExtractPatch(img image.Image, rect image.Rectangle, channel Channel) (*mat.Dense, bool) {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return nil, false
	}
	patch := mat.NewDense(rect.Dy(), rect.Dx(), nil)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			patch.Set(y-rect.Min.Y, x-rect.Min.X, channel.value(r, g, b))
		}
	}
	return patch, true
}

// MeanIntensity is the spatial mean of the channel over rect.
func MeanIntensity(img image.Image, rect image.Rectangle, channel Channel) (float64, bool) {
	patch, ok := ExtractPatch(img, rect, channel)
	if !ok {
		return 0, false
	}
	r, c := patch.Dims()
	return mat.Sum(patch) / float64(r*c), true
}
