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
// Package server implements the MCP server role: in-process catalogues of
// tools, prompts, and resources behind the shared protocol dispatcher. One
// Server instance serves one connection; hosts that accept many sessions
// (SSE, WebSocket) create a Server per session.
package server

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

// ToolHandler executes a tool call. The context is cancelled when the client
// cancels the request or the connection closes.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (*protocol.CallToolResult, error)

// PromptHandler renders a prompt with the given arguments.
type PromptHandler func(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error)

// ResourceReader produces the contents of a resource.
type ResourceReader func(ctx context.Context) ([]protocol.ResourceContents, error)

// Config configures an MCP server.
type Config struct {
	// Name and Version identify this server to clients.
	Name    string
	Version string

	// Capabilities this server advertises. Registering a tool, prompt, or
	// resource whose capability is unset fails at registration time.
	Capabilities protocol.ServerCapabilities

	// Instructions, when set, are returned from initialize as usage hints
	// for the client's model.
	Instructions string

	// EnforceStrictCapabilities gates server-initiated requests
	// (sampling/createMessage, roots/list) on the client's advertised
	// capabilities.
	EnforceStrictCapabilities bool

	// RequestTimeout is the default timeout for server-initiated requests.
	RequestTimeout time.Duration

	// OnInitialized fires after the client's initialized notification.
	OnInitialized func()

	Logger *zap.Logger
}

type registeredTool struct {
	tool    protocol.Tool
	handler ToolHandler
}

type registeredPrompt struct {
	prompt  protocol.Prompt
	handler PromptHandler
}

type registeredResource struct {
	resource protocol.Resource
	reader   ResourceReader
}

// Server is the MCP server role engine.
type Server struct {
	dispatcher *dispatch.Dispatcher
	config     Config
	logger     *zap.Logger

	mu            sync.RWMutex
	tools         map[string]registeredTool
	prompts       map[string]registeredPrompt
	resources     map[string]registeredResource
	templates     []protocol.ResourceTemplate
	subscriptions map[string]bool // resource URIs the client subscribed to
	watchers      []*resourceWatcher

	clientInfo         *protocol.Implementation
	clientCapabilities *protocol.ClientCapabilities
	initialized        bool
	minLogLevel        protocol.LoggingLevel
}

// New creates a server with the given configuration.
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	s := &Server{
		config:        config,
		logger:        config.Logger,
		tools:         make(map[string]registeredTool),
		prompts:       make(map[string]registeredPrompt),
		resources:     make(map[string]registeredResource),
		subscriptions: make(map[string]bool),
	}

	s.dispatcher = dispatch.New(dispatch.Options{
		EnforceStrictCapabilities: config.EnforceStrictCapabilities,
		DefaultTimeout:            config.RequestTimeout,
		Logger:                    config.Logger,
	})
	s.dispatcher.AssertRequestCapability = s.assertClientCapability
	s.dispatcher.AssertNotificationCapability = s.assertLocalNotificationCapability

	s.registerBuiltins()
	return s
}

// registerBuiltins installs the protocol handlers every server answers.
func (s *Server) registerBuiltins() {
	must := func(method string, h dispatch.RequestHandler) {
		// No handler-capability assertion is installed on the server
		// dispatcher, so registration cannot fail here.
		if err := s.dispatcher.SetRequestHandler(method, h); err != nil {
			panic(err)
		}
	}

	must(protocol.MethodInitialize, s.handleInitialize)
	must(protocol.MethodToolsList, s.handleToolsList)
	must(protocol.MethodToolsCall, s.handleToolsCall)
	must(protocol.MethodPromptsList, s.handlePromptsList)
	must(protocol.MethodPromptsGet, s.handlePromptsGet)
	must(protocol.MethodResourcesList, s.handleResourcesList)
	must(protocol.MethodResourcesRead, s.handleResourcesRead)
	must(protocol.MethodResourceTemplatesList, s.handleResourceTemplatesList)
	must(protocol.MethodResourcesSubscribe, s.handleResourcesSubscribe)
	must(protocol.MethodResourcesUnsubscribe, s.handleResourcesUnsubscribe)
	must(protocol.MethodLoggingSetLevel, s.handleLoggingSetLevel)

	s.dispatcher.SetNotificationHandler(protocol.NotificationInitialized,
		func(*protocol.Notification) {
			s.mu.Lock()
			s.initialized = true
			s.mu.Unlock()
			s.logger.Debug("client initialized")
			if s.config.OnInitialized != nil {
				s.config.OnInitialized()
			}
		})
}

// Connect attaches the server to a transport and starts serving. The server
// is ready to answer initialize as soon as Connect returns.
func (s *Server) Connect(ctx context.Context, tr transport.Transport) error {
	return s.dispatcher.Connect(ctx, tr)
}

// OnError installs the handler for non-fatal protocol errors. Set before
// Connect.
func (s *Server) OnError(handler func(error)) {
	s.dispatcher.OnError = handler
}

// OnClose installs the connection-close handler. Set before Connect.
func (s *Server) OnClose(handler func()) {
	s.dispatcher.OnClose = handler
}

// Ping checks connection liveness.
func (s *Server) Ping(ctx context.Context) error {
	return s.dispatcher.Ping(ctx)
}

// SetRequestHandler registers a handler for a custom request method.
func (s *Server) SetRequestHandler(method string, handler dispatch.RequestHandler) error {
	return s.dispatcher.SetRequestHandler(method, handler)
}

// SetNotificationHandler registers a handler for a client-emitted
// notification method.
func (s *Server) SetNotificationHandler(method string, handler dispatch.NotificationHandler) {
	s.dispatcher.SetNotificationHandler(method, handler)
}

// ClientInfo returns the connected client's identity, or nil before
// initialize.
func (s *Server) ClientInfo() *protocol.Implementation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientInfo
}

// ClientCapabilities returns the connected client's capabilities, or nil
// before initialize.
func (s *Server) ClientCapabilities() *protocol.ClientCapabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientCapabilities
}

// Initialized reports whether the client's initialized notification has
// arrived.
func (s *Server) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Close shuts the connection down and stops resource watchers. Idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	watchers := s.watchers
	s.watchers = nil
	s.mu.Unlock()

	for _, w := range watchers {
		_ = w.Close()
	}
	return s.dispatcher.Close()
}

// handleInitialize answers the handshake. The reply echoes the client's
// protocol version when it is supported and offers the latest version
// otherwise.
func (s *Server) handleInitialize(_ context.Context, req *protocol.Request) (interface{}, error) {
	var params protocol.InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, protocol.NewError(protocol.InvalidParams,
				fmt.Sprintf("invalid initialize params: %v", err), nil)
		}
	}

	version := protocol.LatestProtocolVersion
	if protocol.IsSupportedProtocolVersion(params.ProtocolVersion) {
		version = params.ProtocolVersion
	}

	s.mu.Lock()
	caps := params.Capabilities
	s.clientCapabilities = &caps
	if params.ClientInfo.Name != "" {
		info := params.ClientInfo
		s.clientInfo = &info
	}
	s.mu.Unlock()

	s.logger.Info("client connected",
		zap.String("client_name", params.ClientInfo.Name),
		zap.String("client_version", params.ClientInfo.Version),
		zap.String("protocol_version", version),
	)

	return protocol.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    s.config.Capabilities,
		ServerInfo: protocol.Implementation{
			Name:    s.config.Name,
			Version: s.config.Version,
		},
		Instructions: s.config.Instructions,
	}, nil
}

// handleLoggingSetLevel stores the minimum level for notifications/message.
// Answers MethodNotFound when the server did not declare the logging
// capability, and InvalidParams for malformed params or an unknown level.
func (s *Server) handleLoggingSetLevel(_ context.Context, req *protocol.Request) (interface{}, error) {
	if s.config.Capabilities.Logging == nil {
		return nil, protocol.NewError(protocol.MethodNotFound, "logging not supported", nil)
	}

	var params protocol.SetLevelParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, protocol.NewError(protocol.InvalidParams,
			fmt.Sprintf("invalid logging/setLevel params: %v", err), nil)
	}
	if _, ok := logLevelSeverity[params.Level]; !ok {
		return nil, protocol.NewError(protocol.InvalidParams,
			fmt.Sprintf("unknown logging level %q", params.Level), nil)
	}

	s.mu.Lock()
	s.minLogLevel = params.Level
	s.mu.Unlock()
	return protocol.EmptyResult{}, nil
}

// logLevelSeverity orders the syslog-style levels for filtering.
var logLevelSeverity = map[protocol.LoggingLevel]int{
	protocol.LevelDebug:     0,
	protocol.LevelInfo:      1,
	protocol.LevelNotice:    2,
	protocol.LevelWarning:   3,
	protocol.LevelError:     4,
	protocol.LevelCritical:  5,
	protocol.LevelAlert:     6,
	protocol.LevelEmergency: 7,
}

// logLevelEnabled reports whether a message at level passes the client's
// requested minimum. An unset minimum passes everything.
func (s *Server) logLevelEnabled(level protocol.LoggingLevel) bool {
	s.mu.RLock()
	min := s.minLogLevel
	s.mu.RUnlock()

	if min == "" {
		return true
	}
	return logLevelSeverity[level] >= logLevelSeverity[min]
}

// assertClientCapability gates server-initiated requests on the client's
// advertised capabilities.
func (s *Server) assertClientCapability(method string) error {
	s.mu.RLock()
	caps := s.clientCapabilities
	s.mu.RUnlock()

	if caps == nil {
		// Nothing is gated before the handshake.
		return nil
	}

	switch method {
	case protocol.MethodSamplingCreateMessage:
		if caps.Sampling == nil {
			return &protocol.CapabilityError{Capability: "sampling", Method: method}
		}
	case protocol.MethodRootsList:
		if caps.Roots == nil {
			return &protocol.CapabilityError{Capability: "roots", Method: method}
		}
	}
	return nil
}

// assertLocalNotificationCapability gates server-emitted notifications on
// this server's own declared capabilities.
func (s *Server) assertLocalNotificationCapability(method string) error {
	caps := s.config.Capabilities

	switch method {
	case protocol.NotificationMessage:
		if caps.Logging == nil {
			return &protocol.CapabilityError{Capability: "logging", Method: method}
		}
	case protocol.NotificationResourceUpdated:
		if caps.Resources == nil {
			return &protocol.CapabilityError{Capability: "resources", Method: method}
		}
	case protocol.NotificationResourceListChanged:
		if caps.Resources == nil || !caps.Resources.ListChanged {
			return &protocol.CapabilityError{Capability: "resources.listChanged", Method: method}
		}
	case protocol.NotificationToolListChanged:
		if caps.Tools == nil || !caps.Tools.ListChanged {
			return &protocol.CapabilityError{Capability: "tools.listChanged", Method: method}
		}
	case protocol.NotificationPromptListChanged:
		if caps.Prompts == nil || !caps.Prompts.ListChanged {
			return &protocol.CapabilityError{Capability: "prompts.listChanged", Method: method}
		}
	}
	return nil
}
