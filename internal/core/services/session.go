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

// Package services contains the business logic for interacting with data sources.
// This file, `session.go`, defines the SessionService, which stores and reads
// heart sessions in BigQuery and hands out time-limited URLs that let a
// browser upload a webcam recording straight to Cloud Storage.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/model"
	"google.golang.org/api/iterator"
)

// DefaultListLimit is the number of sessions List returns when the caller
// does not ask for a specific number.
const DefaultListLimit = 10

// MaxListLimit caps a single page of history.
const MaxListLimit = 100

var (
	// ErrSessionNotFound is returned by Get when no row matches.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidUserId is returned when a user ID is empty or could not be
	// used as an object name prefix.
	ErrInvalidUserId = errors.New("invalid user id")
	// ErrUnsupportedRecording is returned for content types that are not a
	// recording format the frame extractor understands.
	ErrUnsupportedRecording = errors.New("unsupported recording type")
)

// recordingExtensions maps accepted recording MIME types to the extension
// given to the stored object.
var recordingExtensions = map[string]string{
	"video/webm":       ".webm",
	"video/mp4":        ".mp4",
	"video/quicktime":  ".mov",
	"video/x-matroska": ".mkv",
}

// RecordingExtension returns the object extension for a recording MIME type.
func RecordingExtension(contentType string) (string, bool) {
	ext, ok := recordingExtensions[strings.ToLower(strings.TrimSpace(contentType))]
	return ext, ok
}

// UserMetadataKey is the custom object metadata key carrying the uploader.
const UserMetadataKey = "user_id"

// SessionService is the data access layer for heart sessions. It wraps the
// BigQuery session table and the recordings bucket.
type SessionService struct {
	BigqueryClient   *bigquery.Client                  // Client for the session table.
	StorageClient    *storage.Client                   // Client for the recordings bucket.
	IAMClient        *credentials.IamCredentialsClient // Signs upload URLs as SignerEmail.
	SignerEmail      string                            // The service account email used to sign URLs.
	DatasetName      string                            // The BigQuery dataset, e.g. "lecture_pulse".
	SessionTable     string                            // The table holding one row per session.
	RecordingsBucket string                            // Where browsers upload recordings.
}

// GetFQN (Get Fully Qualified Name) returns the session table name in the
// dotted form standard SQL expects, e.g. `project.lecture_pulse.heart_sessions`.
func (s *SessionService) GetFQN() string {
	fqn := s.BigqueryClient.Dataset(s.DatasetName).Table(s.SessionTable).FullyQualifiedName()
	return strings.Replace(fqn, ":", ".", -1)
}

// Save streams one session into the table. The session ID doubles as the
// insert ID so BigQuery can drop a retried insert of the same session.
func (s *SessionService) Save(ctx context.Context, session *model.HeartSession) error {
	inserter := s.BigqueryClient.Dataset(s.DatasetName).Table(s.SessionTable).Inserter()
	saver := &bigquery.StructSaver{Struct: session, InsertID: session.Id}
	if err := inserter.Put(ctx, saver); err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.Id, err)
	}
	return nil
}

// List returns up to limit sessions for a user, newest first. A limit below
// one selects DefaultListLimit.
func (s *SessionService) List(ctx context.Context, userID string, limit int) ([]*model.HeartSession, error) {
	if limit < 1 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)

	q := s.BigqueryClient.Query(fmt.Sprintf(QryListSessions, s.GetFQN()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "limit", Value: limit},
	}
	itr, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for %s: %w", userID, err)
	}
	out := make([]*model.HeartSession, 0)
	for {
		session := &model.HeartSession{}
		err := itr.Next(session)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read session row: %w", err)
		}
		out = append(out, session)
	}
	return out, nil
}

// Get retrieves a single session by ID.
func (s *SessionService) Get(ctx context.Context, id string) (*model.HeartSession, error) {
	q := s.BigqueryClient.Query(fmt.Sprintf(QryFindSessionById, s.GetFQN()))
	q.Parameters = []bigquery.QueryParameter{{Name: "id", Value: id}}
	itr, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	session := &model.HeartSession{}
	err = itr.Next(session)
	if err == iterator.Done {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	return session, nil
}

// Stats aggregates a user's history. A user without sessions gets zero
// stats rather than an error.
func (s *SessionService) Stats(ctx context.Context, userID string) (*model.UserStats, error) {
	q := s.BigqueryClient.Query(fmt.Sprintf(QryUserStats, s.GetFQN()))
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: userID}}
	itr, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sessions for %s: %w", userID, err)
	}
	stats := &model.UserStats{}
	err = itr.Next(stats)
	if err == iterator.Done {
		return &model.UserStats{UserId: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stats for %s: %w", userID, err)
	}
	return stats, nil
}

// RecordingObjectName builds the object name for a new recording. The user
// ID is the first path segment, which is how the recording workflow finds
// the owner when the object carries no metadata.
func RecordingObjectName(userID, contentType string, now time.Time) (string, error) {
	if err := validateUserId(userID); err != nil {
		return "", err
	}
	ext, ok := RecordingExtension(contentType)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedRecording, contentType)
	}
	return fmt.Sprintf("%s/%s-%s%s", userID, now.UTC().Format("2006-01-02T15-04-05"),
		uuid.NewString()[:8], ext), nil
}

func validateUserId(userID string) error {
	if strings.TrimSpace(userID) == "" || strings.ContainsAny(userID, "/\\") || userID == "." || userID == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidUserId, userID)
	}
	return nil
}

// GenerateUploadURL creates a V4 signed URL a browser can PUT a recording
// to. The signature covers the content type and the user metadata header,
// so the client must send both exactly as returned:
//
//	Content-Type: <contentType>
//	x-goog-meta-user_id: <userID>
//
// Signing goes through the IAM Credentials API so no key file is needed.
func (s *SessionService) GenerateUploadURL(ctx context.Context, userID, contentType string, expires time.Duration) (url string, objectName string, err error) {
	objectName, err = RecordingObjectName(userID, contentType, time.Now())
	if err != nil {
		return "", "", err
	}
	opts := &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         "PUT",
		Expires:        time.Now().Add(expires),
		ContentType:    contentType,
		Headers:        []string{fmt.Sprintf("x-goog-meta-%s:%s", UserMetadataKey, userID)},
		GoogleAccessID: s.SignerEmail,
		SignBytes: func(b []byte) ([]byte, error) {
			req := &credentialspb.SignBlobRequest{
				Name:    fmt.Sprintf("projects/-/serviceAccounts/%s", s.SignerEmail),
				Payload: b,
			}
			resp, err := s.IAMClient.SignBlob(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("IAMClient.SignBlob: %w", err)
			}
			return resp.SignedBlob, nil
		},
	}
	url, err = s.StorageClient.Bucket(s.RecordingsBucket).SignedURL(objectName, opts)
	if err != nil {
		return "", "", fmt.Errorf("Bucket(%q).SignedURL(%q): %w", s.RecordingsBucket, objectName, err)
	}
	return url, objectName, nil
}

// UploadRecording streams a recording into the recordings bucket on behalf
// of a user. The finalize notification then starts the recording workflow.
func (s *SessionService) UploadRecording(ctx context.Context, userID, contentType string, r io.Reader) (string, error) {
	objectName, err := RecordingObjectName(userID, contentType, time.Now())
	if err != nil {
		return "", err
	}
	w := s.StorageClient.Bucket(s.RecordingsBucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{UserMetadataKey: userID}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to upload %s: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize %s: %w", objectName, err)
	}
	return objectName, nil
}
