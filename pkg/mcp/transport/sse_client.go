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
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/teradata-labs/shuttle/pkg/mcp/protocol"
	"go.uber.org/zap"
	"gopkg.in/cenkalti/backoff.v1"
)

// defaultEndpointWait bounds how long Start waits for the server's endpoint
// event before giving up.
const defaultEndpointWait = 10 * time.Second

// SSEClientTransport is the client side of the SSE+POST transport. It
// subscribes to the server's event stream, waits for the `endpoint` event
// naming the POST URL for this session, and then POSTs outbound envelopes
// there. Every subsequent `message` event is delivered as an inbound
// envelope.
type SSEClientTransport struct {
	callbacks

	sseURL     *url.URL
	headers    map[string]string
	httpClient *http.Client
	logger     *zap.Logger

	endpointWait time.Duration

	mu       sync.Mutex
	started  bool
	closed   bool
	endpoint string
	cancel   context.CancelFunc
}

// SSEClientConfig configures the SSE client transport.
type SSEClientConfig struct {
	// URL of the server's SSE stream. Required.
	URL string

	// Headers to send on the SSE subscription and on every POST.
	Headers map[string]string

	// HTTPClient used for POSTs. Defaults to a client with a 30 s timeout.
	HTTPClient *http.Client

	// EndpointWait bounds how long Start waits for the endpoint event.
	// Defaults to 10 s.
	EndpointWait time.Duration

	Logger *zap.Logger
}

// NewSSEClientTransport creates an SSE client transport. The stream is
// opened by Start.
func NewSSEClientTransport(config SSEClientConfig) (*SSEClientTransport, error) {
	u, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid SSE URL: %w", err)
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if config.EndpointWait == 0 {
		config.EndpointWait = defaultEndpointWait
	}
	return &SSEClientTransport{
		sseURL:       u,
		headers:      config.Headers,
		httpClient:   config.HTTPClient,
		logger:       config.Logger,
		endpointWait: config.EndpointWait,
	}, nil
}

// Start opens the SSE stream and blocks until the endpoint event arrives.
// The endpoint URL must share the stream URL's origin.
func (t *SSEClientTransport) Start(ctx context.Context) error {
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

	subCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.mu.Unlock()

	client := sse.NewClient(t.sseURL.String())
	for k, v := range t.headers {
		client.Headers[k] = v
	}
	// A dropped stream must close the transport, not silently resubscribe
	// into a fresh session with a different endpoint.
	client.ReconnectStrategy = &backoff.StopBackOff{}

	endpointCh := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		err := client.SubscribeRawWithContext(subCtx, func(msg *sse.Event) {
			switch string(msg.Event) {
			case "endpoint":
				select {
				case endpointCh <- string(msg.Data):
				default:
					// A second endpoint event is a protocol violation.
					t.reportError(fmt.Errorf("duplicate endpoint event"))
				}
			case "open", "ping":
				// Stream housekeeping, not protocol traffic.
			default:
				// `message` events and unnamed events carry envelopes.
				if len(msg.Data) == 0 {
					return
				}
				data := make([]byte, len(msg.Data))
				copy(data, msg.Data)
				t.deliverMessage(data)
			}
		})
		if err != nil && subCtx.Err() == nil {
			select {
			case errCh <- err:
			default:
			}
			t.reportError(fmt.Errorf("sse subscription: %w", err))
		}
		t.markClosed()
		t.fireClose()
	}()

	select {
	case raw := <-endpointCh:
		endpoint, err := t.resolveEndpoint(raw)
		if err != nil {
			_ = t.Close()
			return err
		}
		t.mu.Lock()
		t.endpoint = endpoint
		t.mu.Unlock()
		t.logger.Debug("SSE endpoint received", zap.String("endpoint", endpoint))
		return nil

	case err := <-errCh:
		_ = t.Close()
		return fmt.Errorf("sse connect: %w", err)

	case <-time.After(t.endpointWait):
		_ = t.Close()
		return fmt.Errorf("timed out waiting for endpoint event")

	case <-ctx.Done():
		_ = t.Close()
		return ctx.Err()
	}
}

// resolveEndpoint resolves the endpoint event's URL against the stream URL
// and enforces same-origin.
func (t *SSEClientTransport) resolveEndpoint(raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint URL %q: %w", raw, err)
	}
	resolved := t.sseURL.ResolveReference(ref)
	if resolved.Scheme != t.sseURL.Scheme || resolved.Host != t.sseURL.Host {
		return "", fmt.Errorf("endpoint origin %s://%s does not match SSE origin %s://%s",
			resolved.Scheme, resolved.Host, t.sseURL.Scheme, t.sseURL.Host)
	}
	return resolved.String(), nil
}

// Send POSTs one envelope to the session endpoint.
func (t *SSEClientTransport) Send(ctx context.Context, message []byte) error {
	t.mu.Lock()
	endpoint := t.endpoint
	closed := t.closed
	t.mu.Unlock()

	if endpoint == "" || closed {
		return protocol.ErrNotConnected
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("post message: HTTP %d: %s", resp.StatusCode, body)
		t.reportError(err)
		return err
	}
	return nil
}

// Close tears down the subscription. Safe to call multiple times.
func (t *SSEClientTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.fireClose()
	return nil
}

func (t *SSEClientTransport) markClosed() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}
