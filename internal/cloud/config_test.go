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

package cloud_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"text/template"
	"time"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/cloud"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/heart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"google.golang.org/genai"
)

const baseToml = `
[application]
name = "lecture-pulse"
google_project_id = "base-project"
thread_pool_size = 8

[heart]
fps = 30.0
filter_order = 4

[vision]
min_valid_frames = 12

[topic_subscriptions.RecordingTopic]
name = "recordings-sub"
timeout_in_seconds = 600
`

const overrideToml = `
[application]
google_project_id = "test-project"

[heart]
fps = 15.0
`

func writeConfigs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func TestLoadConfigLayersRuntimeOverBase(t *testing.T) {
	dir := writeConfigs(t, map[string]string{".env.toml": baseToml, ".env.unit.toml": overrideToml})
	t.Setenv(cloud.EnvConfigFilePrefix, dir)
	t.Setenv(cloud.EnvConfigRuntime, "unit")

	config := cloud.NewConfig()
	require.NoError(t, cloud.LoadConfig(config))

	assert.Equal(t, "lecture-pulse", config.Application.Name)
	assert.Equal(t, "test-project", config.Application.GoogleProjectId)
	assert.Equal(t, 8, config.Application.ThreadPoolSize)
	assert.Equal(t, 15.0, config.Heart.FPS)
	assert.Equal(t, 4, config.Heart.FilterOrder)
	// Untouched keys keep their defaults.
	assert.Equal(t, 3.0, config.Heart.HighCutHz)
	assert.Equal(t, 1800, config.Server.MaxFrames)
	assert.Equal(t, 12, config.Vision.MinValidFrames)
	assert.Equal(t, "recordings-sub", config.TopicSubscriptions["RecordingTopic"].Name)
	assert.NoError(t, config.Validate())
}

func TestShippedConfigIsValid(t *testing.T) {
	t.Setenv(cloud.EnvConfigFilePrefix, filepath.Join("..", "..", "configs"))
	t.Setenv(cloud.EnvConfigRuntime, "test")

	config := cloud.NewConfig()
	require.NoError(t, cloud.LoadConfig(config))
	require.NoError(t, config.Validate())
	assert.Equal(t, "lecture_pulse_test", config.BigQueryDataSource.DatasetName)

	prompt := config.PromptTemplates.InsightPrompt
	assert.Contains(t, prompt, "Beat stability index (1/RMSSD")
	assert.NotContains(t, strings.ToLower(prompt), "baevsky")

	tmpl, err := template.New("insight").Parse(prompt)
	require.NoError(t, err)
	var sb strings.Builder
	require.NoError(t, tmpl.Execute(&sb, map[string]interface{}{
		"AVG_HEART_RATE": 72.0, "SDNN_MS": 40.0, "RMSSD_MS": 30.0, "STRESS_INDEX": 33.3,
		"LF_HF_RATIO": 1.2, "VALID_FRAMES": 300, "DURATION_SECONDS": 10.0, "EXAMPLE_JSON": "{}",
	}))
	assert.Contains(t, sb.String(), "a proxy, not a clinical index): 33.3")
}

func TestLoadConfigMissingFilesKeepsDefaults(t *testing.T) {
	t.Setenv(cloud.EnvConfigFilePrefix, t.TempDir())
	t.Setenv(cloud.EnvConfigRuntime, "")

	config := cloud.NewConfig()
	require.NoError(t, cloud.LoadConfig(config))
	assert.Equal(t, heart.DefaultConfig(30), config.Heart)
}

func TestLoadConfigRejectsMalformedToml(t *testing.T) {
	dir := writeConfigs(t, map[string]string{".env.toml": "[application\nname ="})
	t.Setenv(cloud.EnvConfigFilePrefix, dir)

	err := cloud.LoadConfig(cloud.NewConfig())
	assert.ErrorContains(t, err, ".env.toml")
}

func TestValidate(t *testing.T) {
	config := cloud.NewConfig()
	config.Heart.FPS = 4
	assert.True(t, errors.Is(config.Validate(), heart.ErrInvalidFilterConfig))

	config = cloud.NewConfig()
	config.Server.MaxFrames = 0
	config.Vision.Channel = "blue"
	config.Application.InsightModel = "missing"
	err := config.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "max_frames")
	assert.ErrorContains(t, err, "channel")
	assert.ErrorContains(t, err, "missing")
}

type scriptedModel struct {
	failures int
	calls    int
	text     string
}

func (m *scriptedModel) GenerateContent(_ context.Context, _ []*genai.Content) (*genai.GenerateContentResponse, error) {
	m.calls++
	if m.calls <= m.failures {
		return nil, errors.New("quota exceeded")
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: m.text}}}}},
	}, nil
}

func TestGenerateMultiModalResponseRetries(t *testing.T) {
	backoff := cloud.RetryBackoff
	cloud.RetryBackoff = time.Millisecond
	t.Cleanup(func() { cloud.RetryBackoff = backoff })

	meter := noop.NewMeterProvider().Meter("test")
	counter, err := meter.Int64Counter("c")
	require.NoError(t, err)

	model := &scriptedModel{failures: 2, text: "```json\n{\"level\":\"low\"}\n```"}
	value, err := cloud.GenerateMultiModalResponse(context.Background(), counter, counter, counter,
		model, cloud.NewTextPart("prompt"))
	require.NoError(t, err)
	assert.Equal(t, `{"level":"low"}`, value)
	assert.Equal(t, 3, model.calls)

	model = &scriptedModel{failures: 10}
	_, err = cloud.GenerateMultiModalResponse(context.Background(), counter, counter, counter,
		model, cloud.NewTextPart("prompt"))
	assert.ErrorContains(t, err, "quota exceeded")
	assert.Equal(t, cloud.MaxRetries+1, model.calls)
}
