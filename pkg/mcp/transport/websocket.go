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
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teradata-labs/shuttle/pkg/mcp/protocol"
	"go.uber.org/zap"
)

// WebSocketSubprotocol is the mandatory MCP WebSocket subprotocol.
const WebSocketSubprotocol = "mcp"

// WebSocketTransport implements Transport over a WebSocket connection.
// Each text frame carries one JSON-RPC envelope; binary frames are a
// protocol error. The connection must be negotiated with the `mcp`
// subprotocol on both sides.
type WebSocketTransport struct {
	callbacks

	conn   *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewWebSocketTransport wraps an already-negotiated connection. Use
// DialWebSocket or UpgradeWebSocket to obtain one with the subprotocol
// enforced.
func NewWebSocketTransport(conn *websocket.Conn, logger *zap.Logger) *WebSocketTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketTransport{conn: conn, logger: logger}
}

// DialWebSocket connects to a WebSocket MCP endpoint, requiring the server
// to select the `mcp` subprotocol.
func DialWebSocket(ctx context.Context, urlStr string, header http.Header, logger *zap.Logger) (*WebSocketTransport, error) {
	dialer := websocket.Dialer{Subprotocols: []string{WebSocketSubprotocol}}
	conn, resp, err := dialer.DialContext(ctx, urlStr, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", urlStr, err)
	}
	if conn.Subprotocol() != WebSocketSubprotocol {
		_ = conn.Close()
		return nil, fmt.Errorf("server did not select subprotocol %q (got %q)", WebSocketSubprotocol, conn.Subprotocol())
	}
	return NewWebSocketTransport(conn, logger), nil
}

// wsUpgrader negotiates only the MCP subprotocol. CheckOrigin admits any
// origin; the transport carries no authentication by design.
var wsUpgrader = websocket.Upgrader{
	Subprotocols: []string{WebSocketSubprotocol},
	CheckOrigin:  func(*http.Request) bool { return true },
}

// UpgradeWebSocket upgrades an HTTP request to a WebSocket MCP connection,
// rejecting clients that do not offer the `mcp` subprotocol before any frame
// is processed.
func UpgradeWebSocket(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (*WebSocketTransport, error) {
	if !clientOffersSubprotocol(r, WebSocketSubprotocol) {
		http.Error(w, fmt.Sprintf("subprotocol %q required", WebSocketSubprotocol), http.StatusBadRequest)
		return nil, fmt.Errorf("client did not offer subprotocol %q", WebSocketSubprotocol)
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return NewWebSocketTransport(conn, logger), nil
}

// clientOffersSubprotocol reports whether the handshake request offers the
// given subprotocol.
func clientOffersSubprotocol(r *http.Request, proto string) bool {
	for _, offered := range websocket.Subprotocols(r) {
		if offered == proto {
			return true
		}
	}
	return false
}

// Start begins the frame read loop. Valid exactly once.
func (t *WebSocketTransport) Start(ctx context.Context) error {
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
	t.mu.Unlock()

	go t.readLoop()
	return nil
}

// Send writes one envelope as a text frame. Writes are serialized.
func (t *WebSocketTransport) Send(ctx context.Context, message []byte) error {
	t.mu.Lock()
	if !t.started || t.closed {
		t.mu.Unlock()
		return protocol.ErrNotConnected
	}
	t.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close sends a close frame and tears the connection down. Safe to call
// multiple times.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		closeDeadline())
	t.writeMu.Unlock()

	err := t.conn.Close()
	t.fireClose()
	return err
}

// readLoop delivers inbound text frames until the peer closes.
func (t *WebSocketTransport) readLoop() {
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			if !t.isClosed() && !websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.reportError(fmt.Errorf("websocket read: %w", err))
			}
			t.markClosed()
			t.fireClose()
			return
		}

		if messageType != websocket.TextMessage {
			t.reportError(fmt.Errorf("unexpected %s frame; MCP uses text frames only", frameTypeName(messageType)))
			continue
		}

		t.deliverMessage(data)
	}
}

func (t *WebSocketTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *WebSocketTransport) markClosed() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// closeDeadline bounds the courtesy close-frame write.
func closeDeadline() time.Time {
	return time.Now().Add(time.Second)
}

func frameTypeName(messageType int) string {
	switch messageType {
	case websocket.BinaryMessage:
		return "binary"
	case websocket.TextMessage:
		return "text"
	default:
		return fmt.Sprintf("type-%d", messageType)
	}
}
