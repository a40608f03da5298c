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

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/api"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/cloud"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/heart"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/model"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/services"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/vision"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/workflow"
	test "github.com/jaycherian/gcp-go-lecture-pulse/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRecordings struct {
	mu       sync.Mutex
	uploads  map[string][]byte
	types    []string
	expiries []time.Duration
}

func (f *fakeRecordings) GenerateUploadURL(_ context.Context, userID, contentType string, expires time.Duration) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	object, err := services.RecordingObjectName(userID, contentType, time.Now())
	if err != nil {
		return "", "", err
	}
	f.expiries = append(f.expiries, expires)
	return "https://storage.googleapis.com/recordings/" + object + "?X-Goog-Signature=abc", object, nil
}

func (f *fakeRecordings) UploadRecording(_ context.Context, userID, contentType string, r io.Reader) (string, error) {
	object, err := services.RecordingObjectName(userID, contentType, time.Now())
	if err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploads == nil {
		f.uploads = make(map[string][]byte)
	}
	f.uploads[object] = data
	f.types = append(f.types, contentType)
	return object, nil
}

type analyzerFunc func(ctx context.Context, batch *model.FrameBatch) (*model.HeartSession, error)

func (f analyzerFunc) Analyze(ctx context.Context, batch *model.FrameBatch) (*model.HeartSession, error) {
	return f(ctx, batch)
}

type fixture struct {
	router     *gin.Engine
	store      *test.MemorySessionStore
	recordings *fakeRecordings
}

func newFixture(t *testing.T, detector vision.Detector) *fixture {
	t.Helper()
	config := cloud.NewConfig()
	config.Server.MaxFrames = 400
	store := &test.MemorySessionStore{}
	analyzer, err := workflow.NewHeartSessionWorkflow(config, workflow.Dependencies{Detector: detector, Sessions: store})
	require.NoError(t, err)

	recordings := &fakeRecordings{}
	router := api.NewRouter("test", &api.Services{
		Analyzer:        analyzer,
		Sessions:        store,
		Recordings:      recordings,
		UploadURLExpiry: 10 * time.Minute,
		MaxBodyBytes:    64 << 20,
	}, nil)
	return &fixture{router: router, store: store, recordings: recordings}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) postJSON(path string, body interface{}) *httptest.ResponseRecorder {
	data, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return f.do(req)
}

func pulseFrames(n int) []string {
	series := test.SyntheticPulse(n, 30, 1.2, 10, 0, 0)
	out := make([]string, n)
	for i, img := range test.PulseFrames(series) {
		out[i] = test.EncodePNG(img, false)
	}
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, test.StaticDetector(test.TestFace))
	w := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestPostSession(t *testing.T) {
	f := newFixture(t, test.StaticDetector(test.TestFace))
	w := f.postJSON("/api/v1/heart/sessions", map[string]interface{}{
		"user_id": "student-42",
		"frames":  pulseFrames(300),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out api.SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.NotEmpty(t, out.SessionId)
	assert.Equal(t, string(heart.StatusOK), out.Status)
	assert.InDelta(t, 72, out.Metrics.AvgHeartRate, 5)
	assert.Equal(t, 300, out.Frames.Total)
	assert.Equal(t, 300, out.Frames.Valid)
	assert.Nil(t, out.Insight)
	assert.NotContains(t, w.Body.String(), `"insight"`)

	require.Len(t, f.store.Saved(), 1)
	assert.Equal(t, out.SessionId, f.store.Saved()[0].Id)
}

func TestPostSessionErrors(t *testing.T) {
	f := newFixture(t, test.StaticDetector())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/heart/sessions", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, f.do(req).Code)

	w := f.postJSON("/api/v1/heart/sessions", map[string]interface{}{"user_id": "u", "frames": make([]string, 401)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = f.postJSON("/api/v1/heart/sessions", map[string]interface{}{"user_id": "u", "frames": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.postJSON("/api/v1/heart/sessions", map[string]interface{}{"user_id": "u", "channel": "infrared", "frames": pulseFrames(12)})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.postJSON("/api/v1/heart/sessions", map[string]interface{}{"user_id": "u", "frames": pulseFrames(12)})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	faces := newFixture(t, test.StaticDetector(test.TestFace))
	w = faces.postJSON("/api/v1/heart/sessions", map[string]interface{}{"user_id": "u", "fps": 4, "frames": pulseFrames(40)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, faces.store.Saved())
}

func TestPostSessionWithoutFaces(t *testing.T) {
	f := newFixture(t, test.StaticDetector())
	w := f.postJSON("/api/v1/heart/sessions", map[string]interface{}{"user_id": "u", "frames": pulseFrames(20)})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var out struct {
		Error  string            `json:"error"`
		Status string            `json:"status"`
		Frames model.FrameCounts `json:"frames"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Contains(t, out.Error, "insufficient valid frames")
	assert.Equal(t, model.StatusInsufficientValidFrames, out.Status)
	assert.Equal(t, model.FrameCounts{
		Total: 20, Valid: 0,
		Dropped: []model.DropCount{{Reason: "no_face", Count: 20}},
	}, out.Frames)
	assert.Empty(t, f.store.Saved())
}

func TestPostSessionBodyLimit(t *testing.T) {
	router := api.NewRouter("test", &api.Services{
		Analyzer: analyzerFunc(func(context.Context, *model.FrameBatch) (*model.HeartSession, error) {
			t.Fatal("analyzer must not run")
			return nil, nil
		}),
		MaxBodyBytes: 1024,
	}, nil)
	body := fmt.Sprintf(`{"user_id": "u", "frames": [%q]}`, strings.Repeat("A", 4096))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/heart/sessions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestServerErrorsAreHidden(t *testing.T) {
	router := api.NewRouter("test", &api.Services{
		Analyzer: analyzerFunc(func(context.Context, *model.FrameBatch) (*model.HeartSession, error) {
			return nil, errors.New("bigquery: secret table name")
		}),
	}, nil)
	body := `{"user_id": "u", "frames": ["x"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/heart/sessions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestSessionHistory(t *testing.T) {
	f := newFixture(t, test.StaticDetector(test.TestFace))
	base := time.Date(2024, 10, 11, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		s := model.NewHeartSession("student-42", model.SourceFrames, "")
		s.Status = string(heart.StatusOK)
		s.Metrics.AvgHeartRate = float64(60 + i)
		s.CreateDate = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, f.store.Save(context.Background(), s))
	}

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/heart/sessions?user_id=student-42", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list []api.SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, services.DefaultListLimit)
	assert.Equal(t, 71.0, list[0].Metrics.AvgHeartRate)
	assert.True(t, list[0].CreateDate.After(list[1].CreateDate))

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/heart/sessions?user_id=student-42&limit=3", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 3)

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/heart/sessions", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/heart/sessions/"+list[0].SessionId, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var one api.SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	assert.Equal(t, list[0].SessionId, one.SessionId)

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/heart/sessions/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/stats?user_id=student-42", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var stats model.UserStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(12), stats.SessionCount)
	assert.InDelta(t, 65.5, stats.AvgHeartRate, 1e-9)

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHistoryCollapsesDuplicateRows(t *testing.T) {
	f := newFixture(t, test.StaticDetector())
	ctx := context.Background()
	s := model.NewHeartSession("student-42", model.SourceRecording, "gs://lecture_pulse_recordings/student-42/a.webm")
	s.Status = string(heart.StatusOK)
	s.Metrics.AvgHeartRate = 70
	require.NoError(t, f.store.Save(ctx, s))
	redelivered := *s
	redelivered.CreateDate = s.CreateDate.Add(time.Minute)
	redelivered.Metrics.AvgHeartRate = 74
	require.NoError(t, f.store.Save(ctx, &redelivered))
	require.Len(t, f.store.Saved(), 2)

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/heart/sessions?user_id=student-42", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list []api.SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, 74.0, list[0].Metrics.AvgHeartRate)

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/heart/sessions/"+s.Id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var one api.SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	assert.Equal(t, 74.0, one.Metrics.AvgHeartRate)

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/stats?user_id=student-42", nil))
	var stats model.UserStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.SessionCount)
	assert.Equal(t, 74.0, stats.AvgHeartRate)
}

func TestUploadURL(t *testing.T) {
	f := newFixture(t, test.StaticDetector())
	w := f.postJSON("/api/v1/heart/recordings/upload-url", map[string]string{
		"user_id": "student-42", "content_type": "video/webm",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out api.UploadURLResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, http.MethodPut, out.Method)
	assert.True(t, strings.HasPrefix(out.Object, "student-42/"))
	assert.Contains(t, out.URL, out.Object)
	assert.Equal(t, "student-42", out.Headers["x-goog-meta-user_id"])
	assert.Equal(t, "video/webm", out.Headers["Content-Type"])
	assert.Equal(t, []time.Duration{10 * time.Minute}, f.recordings.expiries)

	w = f.postJSON("/api/v1/heart/recordings/upload-url", map[string]string{"user_id": "student-42", "content_type": "image/gif"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.postJSON("/api/v1/heart/recordings/upload-url", map[string]string{"content_type": "video/webm"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// mp4Header is the start of an ISO base media file with the isom brand.
var mp4Header = []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0, 0, 2, 0, 'i', 's', 'o', 'm', 'm', 'p', '4', '1'}

func multipartUpload(t *testing.T, userID string, files map[string][]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if userID != "" {
		require.NoError(t, mw.WriteField("user_id", userID))
	}
	for name, data := range files {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/heart/recordings", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadRecording(t *testing.T) {
	f := newFixture(t, test.StaticDetector())
	recording := append(append([]byte{}, mp4Header...), bytes.Repeat([]byte{7}, 2048)...)

	w := f.do(multipartUpload(t, "student-42", map[string][]byte{"lecture.bin": recording}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var out struct {
		Objects []string `json:"objects"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Objects, 1)
	assert.True(t, strings.HasSuffix(out.Objects[0], ".mp4"))
	assert.Equal(t, recording, f.recordings.uploads[out.Objects[0]])
	assert.Equal(t, []string{"video/mp4"}, f.recordings.types)
}

func TestUploadRecordingRejects(t *testing.T) {
	f := newFixture(t, test.StaticDetector())

	w := f.do(multipartUpload(t, "student-42", map[string][]byte{"notes.txt": []byte("hello")}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(multipartUpload(t, "", map[string][]byte{"lecture.mp4": mp4Header}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(multipartUpload(t, "student-42", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, f.recordings.uploads)
}

func TestCompressedResponses(t *testing.T) {
	f := newFixture(t, test.StaticDetector())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats?user_id=student-42", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/stats?user_id=student-42", nil))
	assert.Empty(t, w.Header().Get("Content-Encoding"))
}

func TestUnconfiguredServices(t *testing.T) {
	router := api.NewRouter("test", &api.Services{}, []string{"https://lectures.example.edu"})
	for _, path := range []string{"/api/v1/heart/sessions?user_id=u", "/api/v1/stats?user_id=u"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		workflow.ErrTooManyFrames:                              http.StatusRequestEntityTooLarge,
		fmt.Errorf("x: %w", vision.ErrInsufficientValidFrames): http.StatusUnprocessableEntity,
		workflow.ErrInvalidBatch:                               http.StatusBadRequest,
		heart.ErrInvalidFilterConfig:                           http.StatusBadRequest,
		services.ErrSessionNotFound:                            http.StatusNotFound,
		context.DeadlineExceeded:                               http.StatusServiceUnavailable,
		errors.New("boom"):                                     http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, api.StatusFor(err), err.Error())
	}
}
