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
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/shuttle/pkg/mcp/protocol"
	"github.com/teradata-labs/shuttle/pkg/mcp/transport"
)

// scriptedPeer drives the far end of an in-memory pair with raw JSON, so
// tests control the peer's exact wire behavior.
type scriptedPeer struct {
	tr *transport.InMemoryTransport

	mu       sync.Mutex
	received []json.RawMessage
	notify   chan json.RawMessage
}

func newScriptedPeer(t *testing.T, tr *transport.InMemoryTransport) *scriptedPeer {
	t.Helper()
	p := &scriptedPeer{tr: tr, notify: make(chan json.RawMessage, 16)}
	tr.SetMessageHandler(func(msg []byte) {
		raw := json.RawMessage(append([]byte(nil), msg...))
		p.mu.Lock()
		p.received = append(p.received, raw)
		p.mu.Unlock()
		p.notify <- raw
	})
	require.NoError(t, tr.Start(context.Background()))
	return p
}

func (p *scriptedPeer) send(t *testing.T, msg string) {
	t.Helper()
	require.NoError(t, p.tr.Send(context.Background(), []byte(msg)))
}

func (p *scriptedPeer) next(t *testing.T) json.RawMessage {
	t.Helper()
	select {
	case msg := <-p.notify:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message at peer")
		return nil
	}
}

// connectedDispatcher returns a dispatcher wired to a scripted peer.
func connectedDispatcher(t *testing.T, opts Options) (*Dispatcher, *scriptedPeer) {
	t.Helper()
	local, remote := transport.NewInMemoryPair()
	peer := newScriptedPeer(t, remote)

	d := New(opts)
	require.NoError(t, d.Connect(context.Background(), local))
	return d, peer
}

func TestDispatcher_RequestResponse(t *testing.T) {
	d, peer := connectedDispatcher(t, Options{})
	defer d.Close()

	done := make(chan struct{})
	var result json.RawMessage
	var reqErr error
	go func() {
		defer close(done)
		result, reqErr = d.Request(context.Background(), protocol.MethodToolsList, nil, nil)
	}()

	sent := peer.next(t)
	var req protocol.Request
	require.NoError(t, json.Unmarshal(sent, &req))
	assert.Equal(t, protocol.MethodToolsList, req.Method)
	require.NotNil(t, req.ID.Num)

	peer.send(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"tools":[]}}`, *req.ID.Num))

	<-done
	require.NoError(t, reqErr)
	assert.JSONEq(t, `{"tools":[]}`, string(result))
}

func TestDispatcher_PeerError(t *testing.T) {
	d, peer := connectedDispatcher(t, Options{})
	defer d.Close()

	done := make(chan error, 1)
	go func() {
		_, err := d.Request(context.Background(), protocol.MethodToolsList, nil, nil)
		done <- err
	}()

	sent := peer.next(t)
	var req protocol.Request
	require.NoError(t, json.Unmarshal(sent, &req))
	peer.send(t, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not found: tools/list"}}`,
		*req.ID.Num))

	err := <-done
	var rpcErr *protocol.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, protocol.MethodNotFound, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "tools/list")
}

func TestDispatcher_UniqueMonotonicIDs(t *testing.T) {
	d, peer := connectedDispatcher(t, Options{})
	defer d.Close()

	const n = 5
	for i := 0; i < n; i++ {
		go func() {
			_, _ = d.Request(context.Background(), protocol.MethodPing, nil, nil)
		}()
	}

	seen := make(map[int64]bool)
	for i := 0; i < n; i++ {
		var req protocol.Request
		require.NoError(t, json.Unmarshal(peer.next(t), &req))
		require.NotNil(t, req.ID.Num)
		assert.False(t, seen[*req.ID.Num], "duplicate request ID %d", *req.ID.Num)
		seen[*req.ID.Num] = true
		peer.send(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{}}`, *req.ID.Num))
	}
}

// TestDispatcher_MethodNotFound covers the reply for unhandled inbound
// requests.
func TestDispatcher_MethodNotFound(t *testing.T) {
	d, peer := connectedDispatcher(t, Options{})
	defer d.Close()

	peer.send(t, `{"jsonrpc":"2.0","id":41,"method":"tools/list"}`)

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(peer.next(t), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.MethodNotFound, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "tools/list")
	require.NotNil(t, resp.ID.Num)
	assert.Equal(t, int64(41), *resp.ID.Num)
}

// TestDispatcher_ZeroTimeout covers the timeout boundary: an explicit zero
// expires immediately, the caller sees ErrRequestTimeout, and the peer
// receives a cancelled notification for the abandoned request.
func TestDispatcher_ZeroTimeout(t *testing.T) {
	d, peer := connectedDispatcher(t, Options{})
	defer d.Close()

	zero := time.Duration(0)
	_, err := d.Request(context.Background(), protocol.MethodResourcesList, nil,
		&RequestOptions{Timeout: &zero})
	require.ErrorIs(t, err, protocol.ErrRequestTimeout)

	// First the request, then the cancellation.
	var req protocol.Request
	require.NoError(t, json.Unmarshal(peer.next(t), &req))
	assert.Equal(t, protocol.MethodResourcesList, req.Method)

	var notif protocol.Notification
	require.NoError(t, json.Unmarshal(peer.next(t), &notif))
	assert.Equal(t, protocol.NotificationCancelled, notif.Method)

	var params protocol.CancelledParams
	require.NoError(t, json.Unmarshal(notif.Params, &params))
	assert.True(t, req.ID.Equal(params.RequestID))
	assert.Equal(t, "timeout", params.Reason)
}

func TestDispatcher_CallerCancel(t *testing.T) {
	d, peer := connectedDispatcher(t, Options{})
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := d.Request(ctx, protocol.MethodResourcesList, nil, nil)
		done <- err
	}()

	peer.next(t) // request reached the peer
	cancel()

	err := <-done
	require.ErrorIs(t, err, context.Canceled)

	var notif protocol.Notification
	require.NoError(t, json.Unmarshal(peer.next(t), &notif))
	assert.Equal(t, protocol.NotificationCancelled, notif.Method)
}

// TestDispatcher_ProgressTokenAndFanOut covers progress registration: the
// outbound request carries _meta.progressToken, and echoed progress
// notifications reach the callback.
func TestDispatcher_ProgressTokenAndFanOut(t *testing.T) {
	d, peer := connectedDispatcher(t, Options{})
	defer d.Close()

	progressCh := make(chan protocol.ProgressParams, 2)
	done := make(chan error, 1)
	go func() {
		_, err := d.Request(context.Background(), protocol.MethodToolsCall,
			map[string]interface{}{"name": "slow"},
			&RequestOptions{OnProgress: func(p protocol.ProgressParams) { progressCh <- p }})
		done <- err
	}()

	var req protocol.Request
	require.NoError(t, json.Unmarshal(peer.next(t), &req))

	var params struct {
		Name string `json:"name"`
		Meta struct {
			ProgressToken int64 `json:"progressToken"`
		} `json:"_meta"`
	}
	require.NoError(t, json.Unmarshal(req.Params, &params))
	assert.Equal(t, "slow", params.Name)
	require.NotNil(t, req.ID.Num)
	assert.Equal(t, *req.ID.Num, params.Meta.ProgressToken, "progress token must be the request ID")

	peer.send(t, fmt.Sprintf(
		`{"jsonrpc":"2.0","method":"notifications/progress","params":{"progressToken":%d,"progress":0.5,"total":1}}`,
		params.Meta.ProgressToken))

	select {
	case p := <-progressCh:
		assert.Equal(t, 0.5, p.Progress)
	case <-time.After(2 * time.Second):
		t.Fatal("progress callback never fired")
	}

	peer.send(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{}}`, *req.ID.Num))
	require.NoError(t, <-done)
}

// TestDispatcher_UnknownProgressToken covers the reported-but-non-fatal
// policy for stray progress notifications.
func TestDispatcher_UnknownProgressToken(t *testing.T) {
	errs := make(chan error, 1)
	local, remote := transport.NewInMemoryPair()
	peer := newScriptedPeer(t, remote)

	d := New(Options{})
	d.OnError = func(err error) { errs <- err }
	require.NoError(t, d.Connect(context.Background(), local))
	defer d.Close()

	peer.send(t, `{"jsonrpc":"2.0","method":"notifications/progress","params":{"progressToken":999,"progress":1}}`)

	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "999")
	case <-time.After(2 * time.Second):
		t.Fatal("unknown progress token not reported")
	}

	// The connection survives.
	assert.NoError(t, d.Notify(context.Background(), "notifications/initialized", nil))
}

// TestDispatcher_CancelInbound covers peer cancellation: the handler's
// context is cancelled and its response suppressed.
func TestDispatcher_CancelInbound(t *testing.T) {
	d, peer := connectedDispatcher(t, Options{})
	defer d.Close()

	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, d.SetRequestHandler("slow/op", func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return protocol.EmptyResult{}, nil
	}))

	peer.send(t, `{"jsonrpc":"2.0","id":7,"method":"slow/op"}`)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	peer.send(t, `{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":7,"reason":"user"}}`)

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler context never cancelled")
	}

	// The handler completed after cancellation; its response must be
	// suppressed.
	select {
	case msg := <-peer.notify:
		t.Fatalf("unexpected message after cancellation: %s", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestDispatcher_HandlerErrorCodes covers handler failures: a
// *protocol.Error keeps its code on the wire, any other error becomes
// InternalError.
func TestDispatcher_HandlerErrorCodes(t *testing.T) {
	d, peer := connectedDispatcher(t, Options{})
	defer d.Close()

	require.NoError(t, d.SetRequestHandler("fail/typed", func(context.Context, *protocol.Request) (interface{}, error) {
		return nil, protocol.NewError(protocol.InvalidParams, "bad args", nil)
	}))
	require.NoError(t, d.SetRequestHandler("fail/plain", func(context.Context, *protocol.Request) (interface{}, error) {
		return nil, errors.New("boom")
	}))

	peer.send(t, `{"jsonrpc":"2.0","id":1,"method":"fail/typed"}`)
	var resp protocol.Response
	require.NoError(t, json.Unmarshal(peer.next(t), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InvalidParams, resp.Error.Code)

	peer.send(t, `{"jsonrpc":"2.0","id":2,"method":"fail/plain"}`)
	require.NoError(t, json.Unmarshal(peer.next(t), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InternalError, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "boom")
}

// TestDispatcher_CloseResolvesPending covers the close invariant: every
// pending request resolves with ErrConnectionClosed and OnClose fires once.
func TestDispatcher_CloseResolvesPending(t *testing.T) {
	closes := make(chan struct{}, 4)
	local, remote := transport.NewInMemoryPair()
	peer := newScriptedPeer(t, remote)

	d := New(Options{})
	d.OnClose = func() { closes <- struct{}{} }
	require.NoError(t, d.Connect(context.Background(), local))

	done := make(chan error, 1)
	go func() {
		_, err := d.Request(context.Background(), protocol.MethodToolsList, nil, nil)
		done <- err
	}()
	peer.next(t) // request is pending at the peer

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	err := <-done
	require.ErrorIs(t, err, protocol.ErrConnectionClosed)

	select {
	case <-closes:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose never fired")
	}
	select {
	case <-closes:
		t.Fatal("OnClose fired more than once")
	case <-time.After(50 * time.Millisecond):
	}

	// Requests after close fail immediately.
	_, err = d.Request(context.Background(), protocol.MethodPing, nil, nil)
	assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
}

// TestDispatcher_OrphanResponse covers orphan handling: reported via
// OnError, connection stays up.
func TestDispatcher_OrphanResponse(t *testing.T) {
	errs := make(chan error, 1)
	local, remote := transport.NewInMemoryPair()
	peer := newScriptedPeer(t, remote)

	d := New(Options{})
	d.OnError = func(err error) { errs <- err }
	require.NoError(t, d.Connect(context.Background(), local))
	defer d.Close()

	peer.send(t, `{"jsonrpc":"2.0","id":12345,"result":{}}`)

	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "orphan")
	case <-time.After(2 * time.Second):
		t.Fatal("orphan response not reported")
	}
}

// TestDispatcher_MalformedInbound covers decode errors: reported, dropped,
// never fatal.
func TestDispatcher_MalformedInbound(t *testing.T) {
	errs := make(chan error, 1)
	local, remote := transport.NewInMemoryPair()
	peer := newScriptedPeer(t, remote)

	d := New(Options{})
	d.OnError = func(err error) { errs <- err }
	require.NoError(t, d.Connect(context.Background(), local))
	defer d.Close()

	peer.send(t, `{"jsonrpc":`)

	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "decode")
	case <-time.After(2 * time.Second):
		t.Fatal("decode error not reported")
	}
}

// TestDispatcher_PingBuiltin covers the built-in liveness handler across two
// real dispatchers.
func TestDispatcher_PingBuiltin(t *testing.T) {
	ta, tb := transport.NewInMemoryPair()
	a := New(Options{})
	b := New(Options{})
	require.NoError(t, a.Connect(context.Background(), ta))
	require.NoError(t, b.Connect(context.Background(), tb))
	defer a.Close()

	require.NoError(t, a.Ping(context.Background()))
	require.NoError(t, b.Ping(context.Background()))
}

func TestDispatcher_NotificationRouting(t *testing.T) {
	d, peer := connectedDispatcher(t, Options{})
	defer d.Close()

	handled := make(chan string, 2)
	d.SetNotificationHandler("custom/event", func(n *protocol.Notification) {
		handled <- n.Method
	})
	d.FallbackNotificationHandler = func(n *protocol.Notification) {
		handled <- "fallback:" + n.Method
	}

	peer.send(t, `{"jsonrpc":"2.0","method":"custom/event"}`)
	assert.Equal(t, "custom/event", <-handled)

	peer.send(t, `{"jsonrpc":"2.0","method":"unrouted/event"}`)
	assert.Equal(t, "fallback:unrouted/event", <-handled)
}

func TestDispatcher_FallbackRequestHandler(t *testing.T) {
	d, peer := connectedDispatcher(t, Options{})
	defer d.Close()

	d.FallbackRequestHandler = func(ctx context.Context, req *protocol.Request) (interface{}, error) {
		return map[string]string{"handled": req.Method}, nil
	}

	peer.send(t, `{"jsonrpc":"2.0","id":5,"method":"vendor/custom"}`)

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(peer.next(t), &resp))
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{"handled":"vendor/custom"}`, string(resp.Result))
}

func TestDispatcher_StrictCapabilityGate(t *testing.T) {
	d, _ := connectedDispatcher(t, Options{EnforceStrictCapabilities: true})
	defer d.Close()

	d.AssertRequestCapability = func(method string) error {
		if method == protocol.MethodToolsList {
			return &protocol.CapabilityError{Capability: "tools", Method: method}
		}
		return nil
	}

	_, err := d.Request(context.Background(), protocol.MethodToolsList, nil, nil)
	var capErr *protocol.CapabilityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "tools", capErr.Capability)
}
