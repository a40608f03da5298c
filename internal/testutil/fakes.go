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

package test

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/heart"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/model"
	"github.com/jaycherian/gcp-go-lecture-pulse/internal/core/services"
	"google.golang.org/genai"
)

// MemorySessionStore keeps sessions in memory and answers the same queries
// as services.SessionService. Like the streaming table, Save appends; reads
// see only the newest row per session ID. Setting Err makes every call fail
// with it.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions []*model.HeartSession
	Err      error
}

func (m *MemorySessionStore) Save(_ context.Context, session *model.HeartSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	copied := *session
	m.sessions = append(m.sessions, &copied)
	return nil
}

// Saved returns every inserted row in insertion order, duplicates included.
func (m *MemorySessionStore) Saved() []*model.HeartSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.HeartSession(nil), m.sessions...)
}

func (m *MemorySessionStore) List(_ context.Context, userID string, limit int) ([]*model.HeartSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if limit < 1 {
		limit = services.DefaultListLimit
	}
	out := m.latest(userID)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreateDate.After(out[j].CreateDate) })
	return out[:min(limit, len(out))], nil
}

func (m *MemorySessionStore) Get(_ context.Context, id string) (*model.HeartSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var found *model.HeartSession
	for _, s := range m.sessions {
		if s.Id == id && (found == nil || !s.CreateDate.Before(found.CreateDate)) {
			found = s
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", services.ErrSessionNotFound, id)
	}
	return found, nil
}

// latest is the newest row of every session a user owns, caller holds mu.
func (m *MemorySessionStore) latest(userID string) []*model.HeartSession {
	byID := make(map[string]*model.HeartSession)
	order := make([]string, 0)
	for _, s := range m.sessions {
		if s.UserId != userID {
			continue
		}
		prev, ok := byID[s.Id]
		if !ok {
			order = append(order, s.Id)
		}
		if !ok || !s.CreateDate.Before(prev.CreateDate) {
			byID[s.Id] = s
		}
	}
	out := make([]*model.HeartSession, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

func (m *MemorySessionStore) Stats(_ context.Context, userID string) (*model.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	stats := &model.UserStats{UserId: userID}
	var ok float64
	for _, s := range m.latest(userID) {
		stats.SessionCount++
		if s.CreateDate.After(stats.LastSessionDate) {
			stats.LastSessionDate = s.CreateDate
		}
		if s.Status != string(heart.StatusOK) {
			continue
		}
		ok++
		stats.AvgHeartRate += s.Metrics.AvgHeartRate
		stats.AvgRMSSD += s.Metrics.RMSSD
		stats.AvgStressIndex += s.Metrics.StressIndex
	}
	if ok > 0 {
		stats.AvgHeartRate /= ok
		stats.AvgRMSSD /= ok
		stats.AvgStressIndex /= ok
	}
	return stats, nil
}

// ScriptedGenerator answers GenerateContent with Text, after failing the
// first Failures calls with Err.
type ScriptedGenerator struct {
	mu       sync.Mutex
	Text     string
	Failures int
	Err      error
	Calls    int
	Prompts  []string
}

func (g *ScriptedGenerator) GenerateContent(_ context.Context, content []*genai.Content) (*genai.GenerateContentResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls++
	for _, c := range content {
		for _, p := range c.Parts {
			g.Prompts = append(g.Prompts, p.Text)
		}
	}
	if g.Calls <= g.Failures {
		return nil, g.Err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(g.Text, genai.RoleModel)}},
	}, nil
}
