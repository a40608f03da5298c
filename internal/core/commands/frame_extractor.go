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

// Package commands provides the concrete implementations of the Chain of
// Responsibility (COR) pattern's Command interface. This file defines the
// command that runs ffmpeg to turn a recording into still frames.
//
//  1. Get the path of the downloaded recording from the input parameter.
//  2. Create a temporary directory and register it for cleanup.
//  3. Run ffmpeg, resampling the video to the analysis frame rate and writing
//     one zero-padded PNG per frame, so lexical order is capture order.
//  4. Output a model.RecordingFrames listing the frames in order.
package commands

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/cor"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/model"
)

const (
	// FramePattern is the ffmpeg output pattern inside the frame directory.
	FramePattern   = "frame_%06d.png"
	TempDirPrefix  = "frames-"
	stderrTailSize = 512
)

// FrameExtractor wraps the ffmpeg binary.
type FrameExtractor struct {
	cor.BaseCommand
	commandPath string  // The path to the ffmpeg executable.
	fps         float64 // Extraction rate; the heart calculator's sampling rate.
	maxFrames   int     // Frames kept from the start of the recording; 0 keeps all.
}

// NewFrameExtractor is the constructor for creating a new FrameExtractor.
func NewFrameExtractor(name string, commandPath string, fps float64, maxFrames int) *FrameExtractor {
	return &FrameExtractor{
		BaseCommand: *cor.NewBaseCommand(name),
		commandPath: commandPath,
		fps:         fps,
		maxFrames:   maxFrames,
	}
}

// FFmpegArgs builds the argument list for one extraction.
func FFmpegArgs(input string, outputDir string, fps float64, maxFrames int) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", input,
		"-vf", "fps=" + strconv.FormatFloat(fps, 'f', -1, 64),
	}
	if maxFrames > 0 {
		args = append(args, "-frames:v", strconv.Itoa(maxFrames))
	}
	return append(args, filepath.Join(outputDir, FramePattern))
}

func (c *FrameExtractor) Execute(context cor.Context) {
	input := context.Get(c.GetInputParam()).(string)

	dir, err := os.MkdirTemp("", TempDirPrefix)
	if err != nil {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), fmt.Errorf("could not create frame directory: %w", err))
		return
	}
	context.AddTempFile(dir)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(context.GetContext(), c.commandPath, FFmpegArgs(input, dir, c.fps, c.maxFrames)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), fmt.Errorf("error running ffmpeg: %w: %s", err, tail(stderr.String(), stderrTailSize)))
		return
	}

	paths, err := filepath.Glob(filepath.Join(dir, "frame_*.png"))
	if err == nil && len(paths) == 0 {
		err = fmt.Errorf("ffmpeg produced no frames for %s", filepath.Base(input))
	}
	if err != nil {
		c.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(c.GetName(), err)
		return
	}

	sort.Strings(paths)

	c.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(c.GetOutputParam(), &model.RecordingFrames{Dir: dir, Paths: paths, FPS: c.fps})
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return "..." + s[len(s)-n:]
	}
	return s
}
