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

package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/h2non/filetype"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/heart"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/model"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/services"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/vision"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/workflow"
)

// sniffSize is how much of an upload is read to detect its type.
const sniffSize = 262

// SessionResponse is the body returned for an analysed or stored session.
type SessionResponse struct {
	SessionId  string               `json:"session_id"`
	UserId     string               `json:"user_id"`
	LectureId  string               `json:"lecture_id,omitempty"`
	Source     string               `json:"source"`
	Status     string               `json:"status"`
	FPS        float64              `json:"fps"`
	Channel    string               `json:"channel"`
	Metrics    heart.Metrics        `json:"metrics"`
	Frames     model.FrameCounts    `json:"frames"`
	Insight    *model.StressInsight `json:"insight,omitempty"`
	CreateDate time.Time            `json:"create_date"`
}

// NewSessionResponse converts a session, leaving out an empty insight.
func NewSessionResponse(s *model.HeartSession) *SessionResponse {
	out := &SessionResponse{
		SessionId:  s.Id,
		UserId:     s.UserId,
		LectureId:  s.LectureId,
		Source:     s.Source,
		Status:     s.Status,
		FPS:        s.FPS,
		Channel:    s.Channel,
		Metrics:    s.Metrics,
		Frames:     s.Frames,
		CreateDate: s.CreateDate,
	}
	if !s.Insight.IsEmpty() {
		insight := s.Insight
		out.Insight = &insight
	}
	return out
}

// UploadURLRequest asks for a signed recording upload URL.
type UploadURLRequest struct {
	UserId      string `json:"user_id" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

// UploadURLResponse tells the browser how to PUT the recording.
type UploadURLResponse struct {
	URL       string            `json:"url"`
	Object    string            `json:"object"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"` // Must be sent exactly as given.
	ExpiresAt time.Time         `json:"expires_at"`
}

// HeartRouter registers the session and recording routes.
func HeartRouter(r *gin.RouterGroup, s *Services) {
	heartGroup := r.Group("/heart")
	{
		heartGroup.POST("/sessions", func(c *gin.Context) {
			if s.Analyzer == nil {
				unavailable(c)
				return
			}
			if s.MaxBodyBytes > 0 {
				c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.MaxBodyBytes)
			}
			batch := &model.FrameBatch{}
			if err := c.ShouldBindJSON(batch); err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					abort(c, err)
					return
				}
				abort(c, fmt.Errorf("%w: %v", workflow.ErrInvalidBatch, err))
				return
			}

			session, err := s.Analyzer.Analyze(c.Request.Context(), batch)
			if errors.Is(err, vision.ErrInsufficientValidFrames) && session != nil {
				c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
					"error":      err.Error(),
					"session_id": session.Id,
					"status":     session.Status,
					"frames":     session.Frames,
				})
				return
			}
			if err != nil {
				abort(c, err)
				return
			}
			c.JSON(http.StatusOK, NewSessionResponse(session))
		})

		heartGroup.GET("/sessions", func(c *gin.Context) {
			if s.Sessions == nil {
				unavailable(c)
				return
			}
			userID := c.Query("user_id")
			if userID == "" {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
				return
			}
			limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(services.DefaultListLimit)))
			if err != nil {
				limit = services.DefaultListLimit
			}
			sessions, err := s.Sessions.List(c.Request.Context(), userID, limit)
			if err != nil {
				abort(c, err)
				return
			}
			out := make([]*SessionResponse, 0, len(sessions))
			for _, session := range sessions {
				out = append(out, NewSessionResponse(session))
			}
			c.JSON(http.StatusOK, out)
		})

		heartGroup.GET("/sessions/:id", func(c *gin.Context) {
			if s.Sessions == nil {
				unavailable(c)
				return
			}
			session, err := s.Sessions.Get(c.Request.Context(), c.Param("id"))
			if err != nil {
				abort(c, err)
				return
			}
			c.JSON(http.StatusOK, NewSessionResponse(session))
		})

		heartGroup.POST("/recordings/upload-url", func(c *gin.Context) {
			if s.Recordings == nil {
				unavailable(c)
				return
			}
			req := &UploadURLRequest{}
			if err := c.ShouldBindJSON(req); err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			expires := s.UploadURLExpiry
			if expires <= 0 {
				expires = 15 * time.Minute
			}
			url, object, err := s.Recordings.GenerateUploadURL(c.Request.Context(), req.UserId, req.ContentType, expires)
			if err != nil {
				abort(c, err)
				return
			}
			c.JSON(http.StatusOK, &UploadURLResponse{
				URL:    url,
				Object: object,
				Method: http.MethodPut,
				Headers: map[string]string{
					"Content-Type": req.ContentType,
					"x-goog-meta-" + services.UserMetadataKey: req.UserId,
				},
				ExpiresAt: time.Now().Add(expires).UTC(),
			})
		})

		heartGroup.POST("/recordings", func(c *gin.Context) {
			if s.Recordings == nil {
				unavailable(c)
				return
			}
			if s.MaxBodyBytes > 0 {
				c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.MaxBodyBytes)
			}
			form, err := c.MultipartForm()
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					abort(c, err)
					return
				}
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("get form err: %s", err)})
				return
			}
			userID := c.PostForm("user_id")
			files := form.File["files"]
			if len(files) == 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "no files uploaded"})
				return
			}

			objects := make([]string, 0, len(files))
			for _, file := range files {
				object, err := uploadRecording(c, s.Recordings, userID, file)
				if err != nil {
					abort(c, err)
					return
				}
				objects = append(objects, object)
			}
			c.JSON(http.StatusAccepted, gin.H{"objects": objects})
		})
	}
}

// uploadRecording sniffs the file's real type from its first bytes and
// streams it to the store. The client's declared content type is ignored.
func uploadRecording(c *gin.Context, store RecordingStore, userID string, file *multipart.FileHeader) (string, error) {
	f, err := file.Open()
	if err != nil {
		return "", err
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close upload", "file", file.Filename, "error", err)
		}
	}()

	head := make([]byte, sniffSize)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	head = head[:n]
	if !filetype.IsVideo(head) {
		return "", fmt.Errorf("%w: %s is not a video", services.ErrUnsupportedRecording, file.Filename)
	}
	kind, err := filetype.Match(head)
	if err != nil {
		return "", fmt.Errorf("%w: %v", services.ErrUnsupportedRecording, err)
	}
	return store.UploadRecording(c.Request.Context(), userID, kind.MIME.Value, io.MultiReader(bytes.NewReader(head), f))
}
