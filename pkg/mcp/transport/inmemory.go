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
	"sync"

	"github.com/teradata-labs/shuttle/pkg/mcp/protocol"
)

// InMemoryTransport is one end of an in-process transport pair. Send
// delivers directly to the peer's message handler. Messages sent before the
// peer has started are buffered in order and flushed when it starts. Used
// for tests and same-process client/server wiring.
type InMemoryTransport struct {
	callbacks

	peer *InMemoryTransport

	mu      sync.Mutex
	started bool
	closed  bool
	backlog [][]byte
}

// NewInMemoryPair creates two linked in-memory transports. Closing either
// end closes both.
func NewInMemoryPair() (*InMemoryTransport, *InMemoryTransport) {
	a := &InMemoryTransport{}
	b := &InMemoryTransport{}
	a.peer = b
	b.peer = a
	return a, b
}

// Start marks the transport ready and flushes any messages the peer sent
// before this end was listening.
func (t *InMemoryTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return protocol.ErrAlreadyStarted
	}
	if t.closed {
		t.mu.Unlock()
		return protocol.ErrNotConnected
	}
	t.started = true
	backlog := t.backlog
	t.backlog = nil
	t.mu.Unlock()

	for _, msg := range backlog {
		t.deliverMessage(msg)
	}
	return nil
}

// Send hands the message to the peer, buffering when the peer has not
// started yet.
func (t *InMemoryTransport) Send(ctx context.Context, message []byte) error {
	t.mu.Lock()
	if !t.started || t.closed {
		t.mu.Unlock()
		return protocol.ErrNotConnected
	}
	t.mu.Unlock()

	// Hand off a copy so callers can reuse their buffer.
	msg := make([]byte, len(message))
	copy(msg, message)

	return t.peer.receive(msg)
}

// receive accepts a message from the peer, delivering or buffering it.
func (t *InMemoryTransport) receive(message []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return protocol.ErrNotConnected
	}
	if !t.started {
		t.backlog = append(t.backlog, message)
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	t.deliverMessage(message)
	return nil
}

// Close shuts down both ends of the pair. Safe to call multiple times.
func (t *InMemoryTransport) Close() error {
	if !t.markClosed() {
		return nil
	}
	t.fireClose()

	if t.peer.markClosed() {
		t.peer.fireClose()
	}
	return nil
}

// markClosed flips the closed flag, reporting whether this call did the flip.
func (t *InMemoryTransport) markClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.closed = true
	return true
}
