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

package cor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/cor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type appendCommand struct {
	cor.BaseCommand
	suffix string
	fail   bool
}

func newAppend(name, suffix string, fail bool) *appendCommand {
	return &appendCommand{BaseCommand: *cor.NewBaseCommand(name), suffix: suffix, fail: fail}
}

func (c *appendCommand) Execute(context cor.Context) {
	if c.fail {
		context.AddError(c.GetName(), errors.New("boom"))
		return
	}
	context.Add(c.GetOutputParam(), context.Get(c.GetInputParam()).(string)+c.suffix)
}

func newContext(ctx context.Context, in string) cor.Context {
	chCtx := cor.NewBaseContext()
	chCtx.SetContext(ctx)
	chCtx.Add(cor.CtxIn, in)
	return chCtx
}

func TestChainPipesOutputToInput(t *testing.T) {
	chain := cor.NewBaseChain("pipe")
	chain.AddCommand(newAppend("a", "-a", false)).AddCommand(newAppend("b", "-b", false))

	chCtx := newContext(context.Background(), "frame")
	chain.Execute(chCtx)

	require.NoError(t, chCtx.Err())
	assert.Equal(t, "frame-a-b", chCtx.Get(cor.CtxIn))
	assert.Nil(t, chCtx.Get(cor.CtxOut))
}

func TestChainStopsAtFirstError(t *testing.T) {
	chain := cor.NewBaseChain("stop")
	chain.AddCommand(newAppend("a", "-a", true)).AddCommand(newAppend("b", "-b", false))

	chCtx := newContext(context.Background(), "frame")
	chain.Execute(chCtx)

	assert.True(t, chCtx.HasErrors())
	assert.Contains(t, chCtx.GetErrors(), "a")
	assert.ErrorContains(t, chCtx.Err(), "a: boom")
	assert.Nil(t, chCtx.Get(cor.CtxIn), "b must not run")
}

func TestChainContinueOnFailure(t *testing.T) {
	chain := cor.NewBaseChain("continue")
	chain.ContinueOnFailure(true)
	chain.AddCommand(newAppend("a", "-a", false)).
		AddCommand(newAppend("b", "", true)).
		AddCommand(newAppend("c", "-c", false))

	chCtx := newContext(context.Background(), "x")
	chain.Execute(chCtx)

	assert.Len(t, chCtx.GetErrors(), 1)
	// b produced nothing, so c has no input and is skipped.
	assert.Nil(t, chCtx.Get(cor.CtxIn))
}

func TestChainHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chain := cor.NewBaseChain("cancelled")
	chain.AddCommand(newAppend("a", "-a", false))
	chCtx := newContext(ctx, "x")
	chain.Execute(chCtx)

	assert.True(t, errors.Is(chCtx.Err(), context.Canceled))
}

func TestContextCloseRemovesTempPaths(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "clip.webm")
	frames := filepath.Join(dir, "frames")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	require.NoError(t, os.MkdirAll(frames, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(frames, "000001.png"), []byte("x"), 0o600))

	chCtx := cor.NewBaseContext()
	chCtx.AddTempFile(file)
	chCtx.AddTempFile(frames)
	chCtx.Close()

	assert.NoFileExists(t, file)
	assert.NoDirExists(t, frames)
	assert.Empty(t, chCtx.GetTempFiles())
}
