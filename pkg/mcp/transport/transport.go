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
// Package transport implements the communication layer for the MCP protocol:
// stdio (including subprocess), SSE+POST, WebSocket, and an in-memory pair
// for tests and in-process wiring.
package transport

import (
	"context"
	"sync"
)

// MessageHandler receives one complete JSON-RPC envelope from the peer.
// Handlers are invoked in wire order.
type MessageHandler func(message []byte)

// CloseHandler is invoked exactly once when the transport closes, for any
// reason.
type CloseHandler func()

// ErrorHandler is invoked for non-fatal decoding or I/O errors. The transport
// decides whether an error also closes the connection.
type ErrorHandler func(err error)

// Transport is a duplex JSON-RPC message channel. Handlers must be set
// before Start. Start is valid exactly once per instance; Send fails until
// Start has succeeded and after the connection closes; Close is idempotent.
// All implementations serialize writes, so wire order equals the order
// concurrent callers are observed at Send.
type Transport interface {
	// Start acquires the transport's resources and begins delivering
	// inbound messages. Calling Start twice returns ErrAlreadyStarted.
	Start(ctx context.Context) error

	// Send transmits one JSON-RPC envelope. Returns ErrNotConnected when
	// the transport has not been started or has closed.
	Send(ctx context.Context, message []byte) error

	// Close releases resources. Safe to call multiple times; the close
	// handler fires exactly once.
	Close() error

	SetMessageHandler(handler MessageHandler)
	SetCloseHandler(handler CloseHandler)
	SetErrorHandler(handler ErrorHandler)
}

// callbacks holds the shared handler plumbing embedded by every transport.
type callbacks struct {
	mu        sync.RWMutex
	onMessage MessageHandler
	onClose   CloseHandler
	onError   ErrorHandler
	closeOnce sync.Once
}

// SetMessageHandler registers the inbound message handler.
func (c *callbacks) SetMessageHandler(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = handler
}

// SetCloseHandler registers the close handler.
func (c *callbacks) SetCloseHandler(handler CloseHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = handler
}

// SetErrorHandler registers the error handler.
func (c *callbacks) SetErrorHandler(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// deliverMessage invokes the message handler if one is registered.
func (c *callbacks) deliverMessage(message []byte) {
	c.mu.RLock()
	handler := c.onMessage
	c.mu.RUnlock()
	if handler != nil {
		handler(message)
	}
}

// reportError invokes the error handler if one is registered.
func (c *callbacks) reportError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()
	if handler != nil {
		handler(err)
	}
}

// fireClose invokes the close handler exactly once across all callers.
func (c *callbacks) fireClose() {
	c.closeOnce.Do(func() {
		c.mu.RLock()
		handler := c.onClose
		c.mu.RUnlock()
		if handler != nil {
			handler()
		}
	})
}
