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

package cascade_test

import (
	"image"
	"os"
	"testing"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/vision/cascade"
	test "github.com/jaycherian/gcp-go-lecture-pulse/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Set CASCADE_FILE to an OpenCV frontal face cascade to run the detection tests.
func cascadeFile(t *testing.T) string {
	file := os.Getenv("CASCADE_FILE")
	if file == "" {
		t.Skip("CASCADE_FILE not set")
	}
	return file
}

func TestMissingCascadeFile(t *testing.T) {
	_, err := cascade.NewDetector(cascade.Config{File: "does-not-exist.xml", PoolSize: 2})
	assert.ErrorContains(t, err, "does-not-exist.xml")
}

func TestBlankFrameHasNoFace(t *testing.T) {
	detector, err := cascade.NewDetector(cascade.Config{File: cascadeFile(t), PoolSize: 1})
	require.NoError(t, err)
	defer func() { assert.NoError(t, detector.Close()) }()

	frame := test.PulseFrames([]float64{128})[0]
	faces, err := detector.Detect(frame)
	require.NoError(t, err)
	assert.Empty(t, faces)

	// Offset bounds are handled.
	sub := frame.(interface {
		SubImage(image.Rectangle) image.Image
	}).SubImage(image.Rect(8, 8, 60, 60))
	faces, err = detector.Detect(sub)
	require.NoError(t, err)
	assert.Empty(t, faces)
}
