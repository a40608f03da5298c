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

package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/genai"
)

const (
	ConfigFileBaseName  = ".env"              // The base name for configuration files (e.g., ".env.toml").
	ConfigFileExtension = ".toml"             // The file extension for configuration files.
	ConfigSeparator     = "."                 // The separator used in config file names (e.g., ".env.local.toml").
	EnvConfigFilePrefix = "GCP_CONFIG_PREFIX" // The environment variable for specifying the config directory.
	EnvConfigRuntime    = "GCP_RUNTIME"       // The runtime context (e.g., "local", "test", "prod").
	MaxRetries          = 3                   // Retries after the first failed model call.
)

// RetryBackoff is the base delay between model retries; attempt n waits n times as long.
var RetryBackoff = 2 * time.Second

func fileExists(in string) bool {
	_, err := os.Stat(in)
	return !errors.Is(err, os.ErrNotExist)
}

// LoadConfig decodes the base configuration file and then the runtime
// specific one on top of it, so the latter only needs the keys it overrides.
// The directory comes from GCP_CONFIG_PREFIX and the runtime from
// GCP_RUNTIME (default "test"). Missing files are skipped; malformed ones
// are an error.
func LoadConfig(baseConfig interface{}) error {
	prefix := os.Getenv(EnvConfigFilePrefix)
	if len(prefix) > 0 && !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix = prefix + string(os.PathSeparator)
	}

	runtimeEnvironment := os.Getenv(EnvConfigRuntime)
	if runtimeEnvironment == "" {
		runtimeEnvironment = "test"
	}

	files := []string{
		prefix + ConfigFileBaseName + ConfigFileExtension,
		prefix + ConfigFileBaseName + ConfigSeparator + runtimeEnvironment + ConfigFileExtension,
	}
	for _, name := range files {
		if !fileExists(name) {
			slog.Debug("configuration file not found, skipping", "file", name)
			continue
		}
		if _, err := toml.DecodeFile(name, baseConfig); err != nil {
			return fmt.Errorf("failed to decode configuration file %s: %w", name, err)
		}
		slog.Info("loaded configuration file", "file", name, "runtime", runtimeEnvironment)
	}
	return nil
}

// GenerateMultiModalResponse calls the model, retrying up to MaxRetries
// times with a linear backoff, and returns the concatenated text of every
// candidate with any Markdown code fence removed. Token usage and retries are
// recorded on the supplied counters.
func GenerateMultiModalResponse(
	ctx context.Context,
	inputTokenCounter metric.Int64Counter,
	outputTokenCounter metric.Int64Counter,
	retryCounter metric.Int64Counter,
	model ContentGenerator,
	content []*genai.Content) (string, error) {

	var resp *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			retryCounter.Add(ctx, 1)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("generation cancelled after %d attempts: %w", attempt, errors.Join(err, ctx.Err()))
			case <-time.After(time.Duration(attempt) * RetryBackoff):
			}
		}
		resp, err = model.GenerateContent(ctx, content)
		if err == nil {
			break
		}
		slog.WarnContext(ctx, "model call failed", "attempt", attempt+1, "error", err)
	}
	if err != nil {
		return "", fmt.Errorf("generation failed after %d attempts: %w", MaxRetries+1, err)
	}

	if resp.UsageMetadata != nil {
		inputTokenCounter.Add(ctx, int64(resp.UsageMetadata.PromptTokenCount))
		outputTokenCounter.Add(ctx, int64(resp.UsageMetadata.CandidatesTokenCount))
	}

	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	value := strings.TrimSpace(sb.String())
	value = strings.TrimPrefix(value, "```json")
	value = strings.TrimSuffix(value, "```")
	return strings.TrimSpace(value), nil
}

// NewTextPart wraps a prompt string as user content.
func NewTextPart(in string) []*genai.Content {
	return genai.Text(in)
}
