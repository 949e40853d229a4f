// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"sync"

	"go.uber.org/zap"
)

// SessionRegistry maps live SSE session IDs to their transports so inbound
// POSTs can be routed to the dispatcher instance behind the right stream.
// Entries are removed when their transport closes.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*SSEServerTransport
	logger   *zap.Logger
}

// NewSessionRegistry creates an empty session registry. Logger may be nil.
func NewSessionRegistry(logger *zap.Logger) *SessionRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionRegistry{
		sessions: make(map[string]*SSEServerTransport),
		logger:   logger,
	}
}

// Add registers a session transport.
func (r *SessionRegistry) Add(t *SSEServerTransport) {
	r.mu.Lock()
	r.sessions[t.SessionID()] = t
	r.mu.Unlock()
	r.logger.Debug("session registered", zap.String("session_id", t.SessionID()))
}

// Get looks up a session by ID.
func (r *SessionRegistry) Get(sessionID string) (*SSEServerTransport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.sessions[sessionID]
	return t, ok
}

// Remove deregisters a session.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	_, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if ok {
		r.logger.Debug("session removed", zap.String("session_id", sessionID))
	}
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
