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
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/shuttle/pkg/mcp/protocol"
)

// syncBuffer is a goroutine-safe write sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStdioTransport_FramesInboundStream(t *testing.T) {
	pr, pw := io.Pipe()
	tr := NewStdioTransport(pr, io.Discard, nil)

	messages := make(chan []byte, 4)
	tr.SetMessageHandler(func(msg []byte) { messages <- msg })

	require.NoError(t, tr.Start(context.Background()))
	defer tr.Close()

	payload := "{\"jsonrpc\":\"2.0\",\"method\":\"ping\",\"id\":1}\n" +
		"{\"jsonrpc\":\"2.0\",\"method\":\"notifications/initialized\"}\n"
	_, err := pw.Write([]byte(payload))
	require.NoError(t, err)

	first := waitForMessage(t, messages)
	msg, err := protocol.DecodeMessage(first)
	require.NoError(t, err)
	req, ok := msg.(*protocol.Request)
	require.True(t, ok, "first message must be a request")
	assert.Equal(t, "ping", req.Method)
	require.NotNil(t, req.ID.Num)
	assert.Equal(t, int64(1), *req.ID.Num)

	second := waitForMessage(t, messages)
	msg, err = protocol.DecodeMessage(second)
	require.NoError(t, err)
	notif, ok := msg.(*protocol.Notification)
	require.True(t, ok, "second message must be a notification")
	assert.Equal(t, "notifications/initialized", notif.Method)
}

func TestStdioTransport_SendAppendsNewline(t *testing.T) {
	var out syncBuffer
	pr, pw := io.Pipe()
	defer pw.Close()
	tr := NewStdioTransport(pr, &out, nil)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Close()

	require.NoError(t, tr.Send(context.Background(), []byte(`{"jsonrpc":"2.0","method":"ping","id":1}`)))
	assert.Equal(t, "{\"jsonrpc\":\"2.0\",\"method\":\"ping\",\"id\":1}\n", out.String())
}

func TestStdioTransport_EOFClosesOnce(t *testing.T) {
	pr, pw := io.Pipe()
	tr := NewStdioTransport(pr, io.Discard, nil)

	closed := make(chan struct{}, 4)
	tr.SetCloseHandler(func() { closed <- struct{}{} })

	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, pw.Close())

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close handler not invoked on EOF")
	}

	// Close after EOF and repeat: still exactly one close event.
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	select {
	case <-closed:
		t.Fatal("close handler invoked more than once")
	case <-time.After(50 * time.Millisecond):
	}

	assert.ErrorIs(t, tr.Send(context.Background(), []byte(`{}`)), protocol.ErrNotConnected)
}

func TestStdioTransport_Lifecycle(t *testing.T) {
	tr := NewStdioTransport(bytes.NewReader(nil), io.Discard, nil)

	// Send before Start fails.
	assert.ErrorIs(t, tr.Send(context.Background(), []byte(`{}`)), protocol.ErrNotConnected)

	require.NoError(t, tr.Start(context.Background()))
	assert.ErrorIs(t, tr.Start(context.Background()), protocol.ErrAlreadyStarted)

	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Send(context.Background(), []byte(`{}`)), protocol.ErrNotConnected)
}

func waitForMessage(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}
