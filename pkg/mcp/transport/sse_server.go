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
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/teradata-labs/shuttle/pkg/mcp/protocol"
	"go.uber.org/zap"
)

// maxPostBody bounds inbound POST bodies.
const maxPostBody = 10 * 1024 * 1024

// sseOutboundBuffer is the per-session queue between Send callers and the
// streaming goroutine that owns the http.ResponseWriter.
const sseOutboundBuffer = 64

// SSEServer hosts the server side of the SSE+POST transport. Each GET on the
// SSE handler opens a session: the first event is `endpoint`, publishing the
// per-session POST URL; every outbound JSON-RPC envelope follows as a
// `message` event. Inbound envelopes arrive as POSTs on the message handler
// and are routed to the owning session by the sessionId query parameter.
//
// Security: this transport has no authentication. Bind it to localhost or
// put it behind an authenticating proxy.
type SSEServer struct {
	messagePath string
	sessions    *SessionRegistry
	onSession   func(t *SSEServerTransport)
	logger      *zap.Logger
}

// SSEServerConfig configures the SSE server.
type SSEServerConfig struct {
	// MessagePath is the path the endpoint event advertises for POSTs,
	// e.g. "/message". The sessionId query parameter is appended.
	MessagePath string

	// OnSession is invoked for each new SSE session before the endpoint
	// event is written. Wire a dispatcher to the transport here: set
	// handlers, then Start. Required.
	OnSession func(t *SSEServerTransport)

	Logger *zap.Logger
}

// NewSSEServer creates an SSE server transport host.
func NewSSEServer(config SSEServerConfig) (*SSEServer, error) {
	if config.OnSession == nil {
		return nil, fmt.Errorf("OnSession is required")
	}
	if config.MessagePath == "" {
		config.MessagePath = "/message"
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &SSEServer{
		messagePath: config.MessagePath,
		sessions:    NewSessionRegistry(config.Logger),
		onSession:   config.OnSession,
		logger:      config.Logger,
	}, nil
}

// SessionCount returns the number of live SSE sessions.
func (s *SSEServer) SessionCount() int {
	return s.sessions.Count()
}

// SSEHandler returns the http.Handler for the long-lived GET stream.
func (s *SSEServer) SSEHandler() http.Handler {
	return http.HandlerFunc(s.handleSSE)
}

// MessageHandler returns the http.Handler for inbound POSTs.
func (s *SSEServer) MessageHandler() http.Handler {
	return http.HandlerFunc(s.handleMessage)
}

func (s *SSEServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	t := newSSEServerTransport(uuid.New().String())
	s.sessions.Add(t)
	defer s.sessions.Remove(t.SessionID())

	// Let the host wire a dispatcher (handlers + Start) before the client
	// learns where to POST.
	s.onSession(t)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	endpoint := fmt.Sprintf("%s?sessionId=%s", s.messagePath, t.SessionID())
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpoint)
	flusher.Flush()

	s.logger.Info("SSE session opened", zap.String("session_id", t.SessionID()))
	defer s.logger.Info("SSE session closed", zap.String("session_id", t.SessionID()))

	for {
		select {
		case <-r.Context().Done():
			_ = t.Close()
			return
		case <-t.done:
			return
		case msg := <-t.outbound:
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg); err != nil {
				t.reportError(fmt.Errorf("sse write: %w", err))
				_ = t.Close()
				return
			}
			flusher.Flush()
		}
	}
}

func (s *SSEServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, _ := mime.ParseMediaType(ct)
		if mediaType != "application/json" {
			http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
			return
		}
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "sessionId query parameter required", http.StatusBadRequest)
		return
	}

	t, ok := s.sessions.Get(sessionID)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPostBody))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if _, err := protocol.DecodeMessage(body); err != nil {
		http.Error(w, "Invalid JSON-RPC message", http.StatusBadRequest)
		return
	}

	if err := t.receive(body); err != nil {
		// Session registered but its stream is gone.
		http.Error(w, "SSE stream closed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// SSEServerTransport is the per-session transport behind one SSE stream.
// Send enqueues `message` events for the streaming goroutine; inbound POST
// bodies arrive via the message handler.
type SSEServerTransport struct {
	callbacks

	sessionID string
	outbound  chan []byte
	done      chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool
}

func newSSEServerTransport(sessionID string) *SSEServerTransport {
	return &SSEServerTransport{
		sessionID: sessionID,
		outbound:  make(chan []byte, sseOutboundBuffer),
		done:      make(chan struct{}),
	}
}

// SessionID returns the session's opaque identifier.
func (t *SSEServerTransport) SessionID() string {
	return t.sessionID
}

// Start marks the session ready for traffic. Valid exactly once.
func (t *SSEServerTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return protocol.ErrAlreadyStarted
	}
	if t.closed {
		return protocol.ErrNotConnected
	}
	t.started = true
	return nil
}

// Send enqueues one envelope as an SSE `message` event.
func (t *SSEServerTransport) Send(ctx context.Context, message []byte) error {
	t.mu.Lock()
	if !t.started || t.closed {
		t.mu.Unlock()
		return protocol.ErrNotConnected
	}
	t.mu.Unlock()

	msg := make([]byte, len(message))
	copy(msg, message)

	select {
	case t.outbound <- msg:
		return nil
	case <-t.done:
		return protocol.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the session down. Safe to call multiple times.
func (t *SSEServerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	t.fireClose()
	return nil
}

// receive delivers an inbound POST body to the message handler.
func (t *SSEServerTransport) receive(message []byte) error {
	t.mu.Lock()
	if !t.started || t.closed {
		t.mu.Unlock()
		return protocol.ErrNotConnected
	}
	t.mu.Unlock()

	t.deliverMessage(message)
	return nil
}
