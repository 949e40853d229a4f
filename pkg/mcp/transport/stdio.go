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
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/teradata-labs/shuttle/pkg/mcp/protocol"
	"go.uber.org/zap"
)

// readChunkSize is the read granularity of the stdio read loop. Frames are
// reassembled by the FrameBuffer, so the chunk size only affects syscall
// frequency, not message size limits.
const readChunkSize = 64 * 1024

// StdioTransport implements Transport over a byte stream pair with
// newline-delimited JSON framing. One JSON-RPC envelope per line; a trailing
// \r before the \n is tolerated. On EOF the close handler fires and no
// further messages are delivered.
type StdioTransport struct {
	callbacks

	reader io.Reader
	writer io.Writer
	logger *zap.Logger

	writeMu sync.Mutex // serializes writes so wire order equals Send order

	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
}

// NewStdioTransport creates a stdio transport over the given reader and
// writer. Logger may be nil.
func NewStdioTransport(r io.Reader, w io.Writer, logger *zap.Logger) *StdioTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StdioTransport{
		reader: r,
		writer: w,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// NewStdioServerTransport creates a stdio transport bound to the process's
// own stdin and stdout, the serving side of a stdio MCP connection.
func NewStdioServerTransport(logger *zap.Logger) *StdioTransport {
	return NewStdioTransport(os.Stdin, os.Stdout, logger)
}

// Start begins the read loop. Valid exactly once.
func (t *StdioTransport) Start(ctx context.Context) error {
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

// Send writes one envelope followed by a newline. Writes are serialized.
func (t *StdioTransport) Send(ctx context.Context, message []byte) error {
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

	if _, err := t.writer.Write(message); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if _, err := t.writer.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("write delimiter: %w", err)
	}
	return nil
}

// Close shuts the transport down. Safe to call multiple times.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	// Closing the reader unblocks the read loop for pipe-backed streams.
	if c, ok := t.reader.(io.Closer); ok {
		_ = c.Close()
	}
	if c, ok := t.writer.(io.Closer); ok {
		_ = c.Close()
	}

	t.fireClose()
	return nil
}

// readLoop reads stream chunks, reassembles newline-delimited frames, and
// delivers them in wire order.
func (t *StdioTransport) readLoop() {
	var frames FrameBuffer
	chunk := make([]byte, readChunkSize)

	for {
		n, err := t.reader.Read(chunk)
		if n > 0 {
			frames.Write(chunk[:n])
			for {
				frame, ok := frames.Next()
				if !ok {
					break
				}
				t.deliverMessage(frame)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !t.isClosed() {
				t.logger.Debug("stdio read failed", zap.Error(err))
				t.reportError(fmt.Errorf("stdio read: %w", err))
			}
			t.markClosed()
			t.fireClose()
			return
		}
	}
}

func (t *StdioTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *StdioTransport) markClosed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
}

// Done returns a channel closed when the transport has shut down.
func (t *StdioTransport) Done() <-chan struct{} {
	return t.done
}
