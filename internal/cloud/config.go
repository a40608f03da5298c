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

// Package cloud defines the application configuration, loaded from TOML
// files, and the Google Cloud clients built from it.
//
// Structs:
//   - Server: HTTP listener settings and request limits.
//   - Telemetry: Logging level and the OpenTelemetry switch.
//   - Vision: Face detection and frame sampling settings.
//   - Storage: Buckets for webcam recordings and analysis reports.
//   - BigQueryDataSource: Dataset and table holding heart sessions.
//   - PromptTemplates: Templates for prompts sent to GenAI models.
//   - VertexAiLLMModel: Configuration for a Vertex AI Large Language Model (LLM).
//   - TopicSubscription: Configuration for a single Pub/Sub topic subscription.
//   - Config: The top-level struct that aggregates all other configuration structs.
package cloud

import (
	"errors"
	"fmt"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/heart"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/vision"
	"google.golang.org/genai"
)

// DefaultSafetySettings leaves every harm category unblocked. Prompts only
// ever carry numeric heart metrics.
var DefaultSafetySettings = []*genai.SafetySetting{
	{
		Category:  genai.HarmCategoryDangerousContent,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHarassment,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHateSpeech,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategorySexuallyExplicit,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
}

// Server holds the HTTP listener settings and request limits.
type Server struct {
	Port           string   `toml:"port"`             // Listen port, overridden by $PORT.
	MaxFrames      int      `toml:"max_frames"`       // Frames accepted per session request; more is rejected with 413.
	MaxUploadMB    int64    `toml:"max_upload_mb"`    // Multipart memory limit for recording uploads.
	AllowedOrigins []string `toml:"allowed_origins"`  // CORS origins; empty allows all.
	ShutdownGrace  int      `toml:"shutdown_seconds"` // Drain time on SIGINT/SIGTERM.
}

// Telemetry controls logging and the OpenTelemetry exporters.
type Telemetry struct {
	Enabled  bool   `toml:"enabled"`   // Export traces and metrics to Google Cloud.
	LogLevel string `toml:"log_level"` // debug, info, warn or error.
	LogFile  string `toml:"log_file"`  // Optional file mirrored alongside stdout.
}

// Vision configures forehead sampling.
type Vision struct {
	MinValidFrames int     `toml:"min_valid_frames"` // Fewer usable frames fail the session.
	Channel        string  `toml:"channel"`          // green or luma.
	CascadeFile    string  `toml:"cascade_file"`     // Haar cascade XML for face detection.
	ScaleFactor    float64 `toml:"scale_factor"`
	MinNeighbors   int     `toml:"min_neighbors"`
	MinFaceSize    int     `toml:"min_face_size"` // Pixels.
	FFmpegPath     string  `toml:"ffmpeg_path"`   // Extracts frames from recordings.
}

// Storage names the buckets used for recordings.
type Storage struct {
	RecordingsBucket   string `toml:"recordings_bucket"`     // Webcam recordings; finalize events trigger analysis.
	ReportsBucket      string `toml:"reports_bucket"`        // JSON analysis reports.
	SignedURLExpiryMin int    `toml:"signed_url_expiry_min"` // Lifetime of upload URLs.
}

// BigQueryDataSource represents the configuration for a BigQuery data source.
type BigQueryDataSource struct {
	DatasetName  string `toml:"dataset"`       // The name of the BigQuery dataset.
	SessionTable string `toml:"session_table"` // Heart session history.
}

// PromptTemplates holds the templates for different types of prompts.
type PromptTemplates struct {
	InsightPrompt string `toml:"insight"` // Go text/template rendered with the session metrics.
}

// VertexAiLLMModel represents the configuration for a Vertex AI large language model (LLM).
type VertexAiLLMModel struct {
	Model              string  `toml:"model"`               // The name of the Vertex AI LLM.
	SystemInstructions string  `toml:"system_instructions"` // The system instructions for the LLM.
	Temperature        float32 `toml:"temperature"`         // The temperature parameter for the LLM.
	TopP               float32 `toml:"top_p"`               // The top_p parameter for the LLM.
	TopK               float32 `toml:"top_k"`               // The top_k parameter for the LLM.
	MaxTokens          int32   `toml:"max_tokens"`          // The maximum number of tokens for the LLM output.
	OutputFormat       string  `toml:"output_format"`       // The desired output format for the LLM.
	RateLimit          int     `toml:"rate_limit"`          // Burst size; tokens refill at one per second.
}

// TopicSubscription represents the configuration for a Pub/Sub topic subscription.
type TopicSubscription struct {
	Name             string `toml:"name"`               // The name of the Pub/Sub subscription.
	DeadLetterTopic  string `toml:"dead_letter_topic"`  // The name of the dead-letter topic for the subscription.
	TimeoutInSeconds int    `toml:"timeout_in_seconds"` // Upper bound for processing one message.
}

// Config represents the overall configuration for the application, loaded from TOML files.
type Config struct {
	Application struct {
		Name                      string `toml:"name"`                         // The name of the application.
		GoogleProjectId           string `toml:"google_project_id"`            // The Google Cloud project ID.
		GoogleLocation            string `toml:"location"`                     // The Google Cloud location.
		ThreadPoolSize            int    `toml:"thread_pool_size"`             // Face detection workers per session.
		SignerServiceAccountEmail string `toml:"signer_service_account_email"` // The service account email used for signing GCS URLs.
		InsightModel              string `toml:"insight_model"`                // Key into AgentModels; empty disables insights.
	} `toml:"application"`
	Server             Server                       `toml:"server"`
	Telemetry          Telemetry                    `toml:"telemetry"`
	Heart              heart.Config                 `toml:"heart"`
	Vision             Vision                       `toml:"vision"`
	Storage            Storage                      `toml:"storage"`
	BigQueryDataSource BigQueryDataSource           `toml:"big_query_data_source"`
	PromptTemplates    PromptTemplates              `toml:"prompt_templates"`
	TopicSubscriptions map[string]TopicSubscription `toml:"topic_subscriptions"` // Keyed by a logical name such as "RecordingTopic".
	AgentModels        map[string]VertexAiLLMModel  `toml:"agent_models"`        // Keyed by a logical name such as "insight-flash".
}

// NewConfig returns a Config holding the built-in defaults with its maps
// initialized. TOML files loaded on top only override the keys they set.
func NewConfig() *Config {
	c := &Config{
		Server: Server{
			Port:          "8080",
			MaxFrames:     1800,
			MaxUploadMB:   256,
			ShutdownGrace: 5,
		},
		Telemetry: Telemetry{LogLevel: "info"},
		Heart:     heart.DefaultConfig(30),
		Vision: Vision{
			MinValidFrames: 10,
			Channel:        "green",
			ScaleFactor:    1.1,
			MinNeighbors:   5,
			MinFaceSize:    30,
			FFmpegPath:     "ffmpeg",
		},
		Storage:            Storage{SignedURLExpiryMin: 15},
		TopicSubscriptions: make(map[string]TopicSubscription),
		AgentModels:        make(map[string]VertexAiLLMModel),
	}
	c.Application.ThreadPoolSize = 4
	return c
}

// Validate rejects configurations the server cannot start with. Filter
// problems wrap heart.ErrInvalidFilterConfig.
func (c *Config) Validate() error {
	if err := c.Heart.Validate(); err != nil {
		return err
	}
	var errs []error
	if c.Server.MaxFrames < 1 {
		errs = append(errs, fmt.Errorf("server.max_frames must be positive, got %d", c.Server.MaxFrames))
	}
	if c.Vision.MinValidFrames < 1 {
		errs = append(errs, fmt.Errorf("vision.min_valid_frames must be positive, got %d", c.Vision.MinValidFrames))
	}
	if _, err := vision.ParseChannel(c.Vision.Channel); err != nil {
		errs = append(errs, fmt.Errorf("vision.channel: %w", err))
	}
	if c.Application.InsightModel != "" {
		if _, ok := c.AgentModels[c.Application.InsightModel]; !ok {
			errs = append(errs, fmt.Errorf("application.insight_model %q has no [agent_models] entry", c.Application.InsightModel))
		}
	}
	return errors.Join(errs...)
}
