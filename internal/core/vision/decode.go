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
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"
)

// ErrMalformedFrame marks a frame that could not be decoded into an image.
var ErrMalformedFrame = errors.New("malformed frame")

// DecodeFrame decodes a base64 frame as sent by browsers, with or without a
// "data:image/...;base64," prefix.
func DecodeFrame(encoded string) (image.Image, error) {
	payload := strings.TrimSpace(encoded)
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 {
			return nil, fmt.Errorf("%w: data URI without payload", ErrMalformedFrame)
		}
		payload = payload[comma+1:]
	}
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedFrame)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some encoders drop the padding.
		if data, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
	}
	return DecodeFrameBytes(data)
}

// DecodeFrameBytes sniffs the image type from its magic bytes and decodes
// JPEG or PNG. Anything else is malformed.
func DecodeFrameBytes(data []byte) (image.Image, error) {
	kind, err := filetype.Match(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var img image.Image
	switch kind {
	case matchers.TypeJpeg:
		img, err = jpeg.Decode(bytes.NewReader(data))
	case matchers.TypePng:
		img, err = png.Decode(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", ErrMalformedFrame, kind.MIME.Value)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, kind.Extension, err)
	}
	return img, nil
}
