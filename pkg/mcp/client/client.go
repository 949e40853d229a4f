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
// Package client implements the MCP client role: the side that opens the
// connection, drives the initialize handshake, and consumes the server's
// tools, prompts, and resources.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/teradata-labs/shuttle/pkg/mcp/dispatch"
	"github.com/teradata-labs/shuttle/pkg/mcp/protocol"
	"github.com/teradata-labs/shuttle/pkg/mcp/transport"
	"go.uber.org/zap"
)

// Config configures an MCP client.
type Config struct {
	// Name and Version identify this client to the server.
	Name    string
	Version string

	// Capabilities this client advertises during the handshake.
	Capabilities protocol.ClientCapabilities

	// EnforceStrictCapabilities makes requests fail locally when the server
	// never advertised the capability a method requires.
	EnforceStrictCapabilities bool

	// RequestTimeout is the default per-request timeout. Zero uses the
	// dispatcher default of 60 s.
	RequestTimeout time.Duration

	Logger *zap.Logger
}

// Client is the MCP client role engine. Create with New, then Connect a
// transport; Connect completes the initialize handshake before returning.
type Client struct {
	dispatcher *dispatch.Dispatcher
	config     Config
	logger     *zap.Logger

	mu                 sync.RWMutex
	initialized        bool
	negotiatedVersion  string
	serverInfo         protocol.Implementation
	serverCapabilities protocol.ServerCapabilities
}

// New creates a client with the given configuration.
func New(config Config) *Client {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	c := &Client{
		config: config,
		logger: config.Logger,
	}

	c.dispatcher = dispatch.New(dispatch.Options{
		EnforceStrictCapabilities: config.EnforceStrictCapabilities,
		DefaultTimeout:            config.RequestTimeout,
		Logger:                    config.Logger,
	})
	c.dispatcher.AssertRequestCapability = c.assertServerCapability
	c.dispatcher.AssertNotificationCapability = c.assertLocalNotificationCapability
	c.dispatcher.AssertHandlerCapability = c.assertLocalHandlerCapability

	return c
}

// OnError installs the handler for non-fatal protocol errors. Set before
// Connect.
func (c *Client) OnError(handler func(error)) {
	c.dispatcher.OnError = handler
}

// OnClose installs the connection-close handler. Set before Connect.
func (c *Client) OnClose(handler func()) {
	c.dispatcher.OnClose = handler
}

// Connect attaches the transport, starts it, and performs the initialize
// handshake: the client offers the latest protocol version, verifies the
// server answered with a supported one, records the server's identity and
// capabilities, and emits notifications/initialized. A server that
// negotiates an unsupported version aborts the handshake: the connection is
// closed and an UnsupportedProtocolVersionError returned.
func (c *Client) Connect(ctx context.Context, tr transport.Transport) error {
	if err := c.dispatcher.Connect(ctx, tr); err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}

	params := protocol.InitializeParams{
		ProtocolVersion: protocol.LatestProtocolVersion,
		Capabilities:    c.config.Capabilities,
		ClientInfo: protocol.Implementation{
			Name:    c.config.Name,
			Version: c.config.Version,
		},
	}

	// The initialize request is not cancellable by the caller; only its
	// timeout can abandon it.
	raw, err := c.dispatcher.Request(context.Background(), protocol.MethodInitialize, params, nil)
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		_ = c.Close()
		return fmt.Errorf("parse initialize result: %w", err)
	}

	if !protocol.IsSupportedProtocolVersion(result.ProtocolVersion) {
		_ = c.Close()
		return &protocol.UnsupportedProtocolVersionError{Offered: result.ProtocolVersion}
	}

	c.mu.Lock()
	c.initialized = true
	c.negotiatedVersion = result.ProtocolVersion
	c.serverInfo = result.ServerInfo
	c.serverCapabilities = result.Capabilities
	c.mu.Unlock()

	if err := c.dispatcher.Notify(ctx, protocol.NotificationInitialized, nil); err != nil {
		_ = c.Close()
		return fmt.Errorf("send initialized notification: %w", err)
	}

	c.logger.Info("MCP client initialized",
		zap.String("server", result.ServerInfo.Name),
		zap.String("server_version", result.ServerInfo.Version),
		zap.String("protocol_version", result.ProtocolVersion),
	)
	return nil
}

// Ping checks connection liveness.
func (c *Client) Ping(ctx context.Context) error {
	return c.dispatcher.Ping(ctx)
}

// Request sends an arbitrary request; the custom escape hatch for methods
// outside the well-known registry.
func (c *Client) Request(ctx context.Context, method string, params interface{}, opts *dispatch.RequestOptions) (json.RawMessage, error) {
	return c.dispatcher.Request(ctx, method, params, opts)
}

// Notify sends an arbitrary notification.
func (c *Client) Notify(ctx context.Context, method string, params interface{}) error {
	return c.dispatcher.Notify(ctx, method, params)
}

// SetNotificationHandler registers a handler for a server-emitted
// notification method.
func (c *Client) SetNotificationHandler(method string, handler dispatch.NotificationHandler) {
	c.dispatcher.SetNotificationHandler(method, handler)
}

// ServerInfo returns the server's identity recorded during the handshake.
func (c *Client) ServerInfo() protocol.Implementation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// ServerCapabilities returns the capabilities the server advertised.
func (c *Client) ServerCapabilities() protocol.ServerCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCapabilities
}

// NegotiatedVersion returns the protocol version agreed during the
// handshake.
func (c *Client) NegotiatedVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.negotiatedVersion
}

// Initialized reports whether the handshake completed.
func (c *Client) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// Close closes the connection. Idempotent.
func (c *Client) Close() error {
	return c.dispatcher.Close()
}

// SetLoggingLevel asks the server to emit notifications/message at the given
// minimum level. Requires the server's logging capability.
func (c *Client) SetLoggingLevel(ctx context.Context, level protocol.LoggingLevel) error {
	_, err := c.dispatcher.Request(ctx, protocol.MethodLoggingSetLevel,
		protocol.SetLevelParams{Level: level}, nil)
	return err
}

// assertServerCapability implements the request-side capability table: a
// method may only be sent when the server advertised the capability backing
// it.
func (c *Client) assertServerCapability(method string) error {
	c.mu.RLock()
	caps := c.serverCapabilities
	initialized := c.initialized
	c.mu.RUnlock()

	// Nothing is gated before the handshake has recorded capabilities.
	if !initialized {
		return nil
	}

	switch method {
	case protocol.MethodInitialize, protocol.MethodPing:
		return nil

	case protocol.MethodLoggingSetLevel:
		if caps.Logging == nil {
			return &protocol.CapabilityError{Capability: "logging", Method: method}
		}

	case protocol.MethodPromptsList, protocol.MethodPromptsGet, protocol.MethodCompletionComplete:
		if caps.Prompts == nil {
			return &protocol.CapabilityError{Capability: "prompts", Method: method}
		}

	case protocol.MethodResourcesList, protocol.MethodResourceTemplatesList, protocol.MethodResourcesRead:
		if caps.Resources == nil {
			return &protocol.CapabilityError{Capability: "resources", Method: method}
		}

	case protocol.MethodResourcesSubscribe, protocol.MethodResourcesUnsubscribe:
		if caps.Resources == nil || !caps.Resources.Subscribe {
			return &protocol.CapabilityError{Capability: "resources.subscribe", Method: method}
		}

	case protocol.MethodToolsList, protocol.MethodToolsCall:
		if caps.Tools == nil {
			return &protocol.CapabilityError{Capability: "tools", Method: method}
		}
	}

	// Custom methods pass through; the peer answers MethodNotFound if it
	// does not understand them.
	return nil
}

// assertLocalNotificationCapability gates client-emitted notifications on
// this client's own declared capabilities.
func (c *Client) assertLocalNotificationCapability(method string) error {
	if method == protocol.NotificationRootsListChanged {
		roots := c.config.Capabilities.Roots
		if roots == nil || !roots.ListChanged {
			return &protocol.CapabilityError{Capability: "roots.listChanged", Method: method}
		}
	}
	return nil
}

// assertLocalHandlerCapability gates inbound-request handler registration:
// handling a server-initiated method is only meaningful when this client
// declared the capability that invites it.
func (c *Client) assertLocalHandlerCapability(method string) error {
	switch method {
	case protocol.MethodSamplingCreateMessage:
		if c.config.Capabilities.Sampling == nil {
			return &protocol.CapabilityError{Capability: "sampling", Method: method}
		}
	case protocol.MethodRootsList:
		if c.config.Capabilities.Roots == nil {
			return &protocol.CapabilityError{Capability: "roots", Method: method}
		}
	}
	return nil
}
