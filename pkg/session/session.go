// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package session provides the in-process Session/Service implementation
// consumed by pkg/checkpoint (checkpoint storage lives in session state)
// and pkg/tool/agenttool (isolated child sessions for the Task tool).
//
// A Session is the one-per-agent-run store for conversation state and
// event history described in spec §3 ("Conversation lives for one agent
// run"); this package is the concrete, in-memory Service behind the
// agent.Session/agent.State interfaces declared in pkg/agent.
package session

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/google/uuid"

	"github.com/loopwright/agentcore/pkg/agent"
)

// Session is the interface this package's sessions satisfy; callers outside
// the package (checkpoint, agenttool) reference it as session.Session.
type Session = agent.Session

// Service creates, retrieves, and lists sessions.
type Service interface {
	Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error)
	Get(ctx context.Context, req *GetRequest) (*GetResponse, error)
	List(ctx context.Context, req *ListRequest) (*ListResponse, error)
	Delete(ctx context.Context, appName, userID, sessionID string) error
}

// CreateRequest creates a new session, optionally seeded with initial state.
type CreateRequest struct {
	AppName   string
	UserID    string
	SessionID string // optional; generated if empty
	State     map[string]any
}

// CreateResponse wraps the created session.
type CreateResponse struct {
	Session agent.Session
}

// GetRequest fetches one session by ID.
type GetRequest struct {
	AppName   string
	UserID    string
	SessionID string
}

// GetResponse wraps the retrieved session.
type GetResponse struct {
	Session agent.Session
}

// ListRequest lists sessions for an app/user. Empty UserID lists across all
// users of the app (used by checkpoint recovery on startup).
type ListRequest struct {
	AppName  string
	UserID   string
	PageSize int
}

// ListResponse is a page of sessions.
type ListResponse struct {
	Sessions []agent.Session
}

// inMemoryService stores sessions in a process-local map. This is the
// default backing store for single-process runs; a durable backend would
// implement the same Service interface against a database.
type inMemoryService struct {
	mu       sync.RWMutex
	sessions map[string]*session // keyed by appName + "/" + userID + "/" + sessionID
}

// InMemoryService constructs a Service backed by an in-process map.
func InMemoryService() Service {
	return &inMemoryService{sessions: make(map[string]*session)}
}

func key(appName, userID, sessionID string) string {
	return appName + "/" + userID + "/" + sessionID
}

func (s *inMemoryService) Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error) {
	if req == nil || req.AppName == "" {
		return nil, fmt.Errorf("session: AppName is required")
	}
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	sess := newSession(id, req.AppName, req.UserID)
	for k, v := range req.State {
		_ = sess.state.Set(k, v)
	}

	s.mu.Lock()
	s.sessions[key(req.AppName, req.UserID, id)] = sess
	s.mu.Unlock()

	return &CreateResponse{Session: sess}, nil
}

func (s *inMemoryService) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("session: request is required")
	}
	s.mu.RLock()
	sess, ok := s.sessions[key(req.AppName, req.UserID, req.SessionID)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session: no session %s/%s/%s", req.AppName, req.UserID, req.SessionID)
	}
	return &GetResponse{Session: sess}, nil
}

func (s *inMemoryService) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("session: request is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []agent.Session
	for _, sess := range s.sessions {
		if sess.appName != req.AppName {
			continue
		}
		if req.UserID != "" && sess.userID != req.UserID {
			continue
		}
		out = append(out, sess)
		if req.PageSize > 0 && len(out) >= req.PageSize {
			break
		}
	}
	return &ListResponse{Sessions: out}, nil
}

func (s *inMemoryService) Delete(ctx context.Context, appName, userID, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, key(appName, userID, sessionID))
	s.mu.Unlock()
	return nil
}

// session is the concrete agent.Session implementation.
type session struct {
	id      string
	appName string
	userID  string
	state   *memState
	events  *eventLog
}

func newSession(id, appName, userID string) *session {
	return &session{
		id:      id,
		appName: appName,
		userID:  userID,
		state:   newMemState(),
		events:  newEventLog(),
	}
}

func (s *session) ID() string             { return s.id }
func (s *session) AppName() string        { return s.appName }
func (s *session) UserID() string         { return s.userID }
func (s *session) State() agent.State     { return s.state }
func (s *session) Events() agent.Events   { return s.events }
func (s *session) AppendEvent(e *agent.Event) {
	s.events.append(e)
}

// memState is a thread-safe agent.State.
type memState struct {
	mu sync.RWMutex
	m  map[string]any
}

func newMemState() *memState {
	return &memState{m: make(map[string]any)}
}

func (s *memState) Get(key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		return nil, fmt.Errorf("session: key %q not found", key)
	}
	return v, nil
}

func (s *memState) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

func (s *memState) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *memState) All() iter.Seq2[string, any] {
	s.mu.RLock()
	snapshot := make(map[string]any, len(s.m))
	for k, v := range s.m {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	return func(yield func(string, any) bool) {
		for k, v := range snapshot {
			if !yield(k, v) {
				return
			}
		}
	}
}

// ClearTempKeys removes all "temp:"-prefixed keys, matching
// agent.TempClearable so the runner can wipe scratch state between turns.
func (s *memState) ClearTempKeys() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.m {
		if len(k) >= 5 && k[:5] == "temp:" {
			delete(s.m, k)
		}
	}
}

var _ agent.TempClearable = (*memState)(nil)

// eventLog is a thread-safe, append-only agent.Events.
type eventLog struct {
	mu     sync.RWMutex
	events []*agent.Event
}

func newEventLog() *eventLog {
	return &eventLog{}
}

func (l *eventLog) append(e *agent.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) All() iter.Seq[*agent.Event] {
	l.mu.RLock()
	snapshot := make([]*agent.Event, len(l.events))
	copy(snapshot, l.events)
	l.mu.RUnlock()

	return func(yield func(*agent.Event) bool) {
		for _, e := range snapshot {
			if !yield(e) {
				return
			}
		}
	}
}

func (l *eventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

func (l *eventLog) At(i int) *agent.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i < 0 || i >= len(l.events) {
		return nil
	}
	return l.events[i]
}
