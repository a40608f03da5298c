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

// Package api exposes the heart session service over HTTP with gin. Route
// groups are registered by small functions that take the services they need,
// so the handlers can be exercised with in-memory fakes.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/heart"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/model"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/services"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/vision"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/workflow"
)

// SessionAnalyzer runs a capture through the heart session workflow.
type SessionAnalyzer interface {
	Analyze(ctx context.Context, batch *model.FrameBatch) (*model.HeartSession, error)
}

// SessionReader answers history queries.
type SessionReader interface {
	List(ctx context.Context, userID string, limit int) ([]*model.HeartSession, error)
	Get(ctx context.Context, id string) (*model.HeartSession, error)
	Stats(ctx context.Context, userID string) (*model.UserStats, error)
}

// RecordingStore accepts webcam recordings for asynchronous analysis.
type RecordingStore interface {
	GenerateUploadURL(ctx context.Context, userID, contentType string, expires time.Duration) (string, string, error)
	UploadRecording(ctx context.Context, userID, contentType string, r io.Reader) (string, error)
}

// Services are the handlers' collaborators. Nil members leave their routes
// answering 503.
type Services struct {
	Analyzer        SessionAnalyzer
	Sessions        SessionReader
	Recordings      RecordingStore
	UploadURLExpiry time.Duration
	MaxBodyBytes    int64 // Request body limit for frame batches and uploads.
}

// NewRouter builds the engine with tracing, CORS and every route group.
// API responses are gzipped for clients that accept it.
// An empty origin list allows all origins.
func NewRouter(name string, s *Services, allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(name))
	if len(allowedOrigins) == 0 {
		r.Use(cors.Default())
	} else {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = allowedOrigins
		r.Use(cors.New(corsConfig))
	}
	if s.MaxBodyBytes > 0 {
		r.MaxMultipartMemory = s.MaxBodyBytes
	}

	Health(r)
	apiV1 := r.Group("/api/v1", gzip.Gzip(gzip.DefaultCompression))
	{
		HeartRouter(apiV1, s)
		Dashboard(apiV1, s)
	}
	return r
}

// Health registers the liveness check.
func Health(r gin.IRoutes) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// StatusFor maps a service error onto an HTTP status.
func StatusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, workflow.ErrTooManyFrames), errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, vision.ErrInsufficientValidFrames):
		return http.StatusUnprocessableEntity
	case errors.Is(err, workflow.ErrInvalidBatch),
		errors.Is(err, vision.ErrUnknownChannel),
		errors.Is(err, heart.ErrInvalidFilterConfig),
		errors.Is(err, services.ErrInvalidUserId),
		errors.Is(err, services.ErrUnsupportedRecording):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// abort answers with {"error": ...}. Server errors are logged and their
// detail kept out of the response.
func abort(c *gin.Context, err error) {
	status := StatusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		message = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

func unavailable(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service not configured"})
}
