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
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/shuttle/pkg/mcp/protocol"
	"github.com/teradata-labs/shuttle/pkg/mcp/transport"
)

// fakeClient scripts the client end of the pair with raw JSON.
type fakeClient struct {
	tr     *transport.InMemoryTransport
	notify chan json.RawMessage
}

func newFakeClient(t *testing.T) (*fakeClient, *transport.InMemoryTransport) {
	t.Helper()
	serverEnd, clientEnd := transport.NewInMemoryPair()

	fc := &fakeClient{tr: clientEnd, notify: make(chan json.RawMessage, 16)}
	clientEnd.SetMessageHandler(func(msg []byte) {
		fc.notify <- json.RawMessage(append([]byte(nil), msg...))
	})
	require.NoError(t, clientEnd.Start(context.Background()))
	return fc, serverEnd
}

func (fc *fakeClient) send(t *testing.T, msg string) {
	t.Helper()
	require.NoError(t, fc.tr.Send(context.Background(), []byte(msg)))
}

func (fc *fakeClient) next(t *testing.T) json.RawMessage {
	t.Helper()
	select {
	case msg := <-fc.notify:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server message")
		return nil
	}
}

// initialize runs the handshake from the scripted client side.
func (fc *fakeClient) initialize(t *testing.T, version string, caps protocol.ClientCapabilities) protocol.InitializeResult {
	t.Helper()
	capsJSON, _ := json.Marshal(caps)
	fc.send(t, fmt.Sprintf(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":%q,"capabilities":%s,"clientInfo":{"name":"fake","version":"0"}}}`,
		version, capsJSON))

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(fc.next(t), &resp))
	require.Nil(t, resp.Error)

	var result protocol.InitializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))

	fc.send(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	return result
}

func connectedServer(t *testing.T, config Config) (*Server, *fakeClient) {
	t.Helper()
	fc, serverEnd := newFakeClient(t)
	s := New(config)
	require.NoError(t, s.Connect(context.Background(), serverEnd))
	t.Cleanup(func() { _ = s.Close() })
	return s, fc
}

// TestServer_InitializeEchoPolicy covers the version policy: echo supported
// client versions, otherwise answer with the latest.
func TestServer_InitializeEchoPolicy(t *testing.T) {
	tests := []struct {
		name          string
		clientVersion string
		wantVersion   string
	}{
		{name: "latest echoed", clientVersion: "2024-11-05", wantVersion: "2024-11-05"},
		{name: "legacy echoed", clientVersion: "2024-10-07", wantVersion: "2024-10-07"},
		{name: "unknown answered with latest", clientVersion: "1995-06-13", wantVersion: protocol.LatestProtocolVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, fc := connectedServer(t, Config{Name: "srv", Version: "1"})
			result := fc.initialize(t, tt.clientVersion, protocol.ClientCapabilities{})
			assert.Equal(t, tt.wantVersion, result.ProtocolVersion)
			assert.Equal(t, "srv", result.ServerInfo.Name)
		})
	}
}

func TestServer_OnInitializedHook(t *testing.T) {
	initialized := make(chan struct{}, 1)
	_, fc := connectedServer(t, Config{
		Name: "srv", Version: "1",
		OnInitialized: func() { initialized <- struct{}{} },
	})

	fc.initialize(t, protocol.LatestProtocolVersion, protocol.ClientCapabilities{})

	select {
	case <-initialized:
	case <-time.After(2 * time.Second):
		t.Fatal("OnInitialized hook never fired")
	}
}

func TestServer_RecordsClientIdentity(t *testing.T) {
	s, fc := connectedServer(t, Config{Name: "srv", Version: "1"})
	fc.initialize(t, protocol.LatestProtocolVersion, protocol.ClientCapabilities{
		Sampling: &protocol.SamplingCapability{},
	})

	require.NotNil(t, s.ClientInfo())
	assert.Equal(t, "fake", s.ClientInfo().Name)
	require.NotNil(t, s.ClientCapabilities())
	assert.NotNil(t, s.ClientCapabilities().Sampling)
}

// TestServer_RegistrationCapabilityGates covers the configuration-time
// errors for registering catalogue entries without the matching capability.
func TestServer_RegistrationCapabilityGates(t *testing.T) {
	s := New(Config{Name: "srv", Version: "1"}) // no capabilities at all

	noopTool := func(context.Context, map[string]interface{}) (*protocol.CallToolResult, error) {
		return nil, nil
	}
	noopPrompt := func(context.Context, map[string]string) (*protocol.GetPromptResult, error) {
		return nil, nil
	}
	noopReader := func(context.Context) ([]protocol.ResourceContents, error) {
		return nil, nil
	}

	var capErr *protocol.CapabilityError

	err := s.RegisterTool(protocol.Tool{Name: "t"}, noopTool)
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "tools", capErr.Capability)

	err = s.RegisterPrompt(protocol.Prompt{Name: "p"}, noopPrompt)
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "prompts", capErr.Capability)

	err = s.RegisterResource(protocol.Resource{URI: "x://y"}, noopReader)
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "resources", capErr.Capability)

	err = s.RegisterResourceTemplate(protocol.ResourceTemplate{URITemplate: "x://{id}"})
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "resources", capErr.Capability)
}

func TestServer_DuplicateToolRejected(t *testing.T) {
	s := New(Config{Name: "srv", Version: "1", Capabilities: protocol.ServerCapabilities{
		Tools: &protocol.ToolsCapability{},
	}})

	handler := func(context.Context, map[string]interface{}) (*protocol.CallToolResult, error) {
		return &protocol.CallToolResult{}, nil
	}
	require.NoError(t, s.RegisterTool(protocol.Tool{Name: "dup"}, handler))
	assert.Error(t, s.RegisterTool(protocol.Tool{Name: "dup"}, handler))
}

func TestServer_ToolsListAndCall(t *testing.T) {
	s, fc := connectedServer(t, Config{Name: "srv", Version: "1", Capabilities: protocol.ServerCapabilities{
		Tools: &protocol.ToolsCapability{},
	}})

	require.NoError(t, s.RegisterTool(protocol.Tool{
		Name:        "echo",
		Description: "echoes",
		InputSchema: map[string]interface{}{"type": "object"},
	}, func(ctx context.Context, args map[string]interface{}) (*protocol.CallToolResult, error) {
		text, _ := args["text"].(string)
		return &protocol.CallToolResult{Content: []protocol.Content{protocol.TextContent(text)}}, nil
	}))

	fc.initialize(t, protocol.LatestProtocolVersion, protocol.ClientCapabilities{})

	fc.send(t, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	var resp protocol.Response
	require.NoError(t, json.Unmarshal(fc.next(t), &resp))
	require.Nil(t, resp.Error)

	var list protocol.ToolListResult
	require.NoError(t, json.Unmarshal(resp.Result, &list))
	require.Len(t, list.Tools, 1)
	assert.Equal(t, "echo", list.Tools[0].Name)

	fc.send(t, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`)
	require.NoError(t, json.Unmarshal(fc.next(t), &resp))
	require.Nil(t, resp.Error)

	var call protocol.CallToolResult
	require.NoError(t, json.Unmarshal(resp.Result, &call))
	require.Len(t, call.Content, 1)
	assert.Equal(t, "hi", call.Content[0].Text)
}

func TestServer_ToolsCallErrors(t *testing.T) {
	s, fc := connectedServer(t, Config{Name: "srv", Version: "1", Capabilities: protocol.ServerCapabilities{
		Tools: &protocol.ToolsCapability{},
	}})
	require.NoError(t, s.RegisterTool(protocol.Tool{Name: "t"},
		func(context.Context, map[string]interface{}) (*protocol.CallToolResult, error) {
			return &protocol.CallToolResult{}, nil
		}))
	fc.initialize(t, protocol.LatestProtocolVersion, protocol.ClientCapabilities{})

	// Unknown tool.
	fc.send(t, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"nope"}}`)
	var resp protocol.Response
	require.NoError(t, json.Unmarshal(fc.next(t), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InvalidParams, resp.Error.Code)

	// Params not an object.
	fc.send(t, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":[1,2]}`)
	require.NoError(t, json.Unmarshal(fc.next(t), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InvalidParams, resp.Error.Code)
}

func TestServer_PromptsAndResources(t *testing.T) {
	s, fc := connectedServer(t, Config{Name: "srv", Version: "1", Capabilities: protocol.ServerCapabilities{
		Prompts:   &protocol.PromptsCapability{},
		Resources: &protocol.ResourcesCapability{Subscribe: true},
	}})

	require.NoError(t, s.RegisterPrompt(protocol.Prompt{Name: "greet"},
		func(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error) {
			return &protocol.GetPromptResult{Messages: []protocol.PromptMessage{{
				Role:    "user",
				Content: protocol.TextContent("hello " + args["name"]),
			}}}, nil
		}))
	require.NoError(t, s.RegisterResource(protocol.Resource{URI: "mem://doc", Name: "doc"},
		func(context.Context) ([]protocol.ResourceContents, error) {
			return []protocol.ResourceContents{{URI: "mem://doc", Text: "contents"}}, nil
		}))
	require.NoError(t, s.RegisterResourceTemplate(protocol.ResourceTemplate{
		URITemplate: "mem://{id}", Name: "things",
	}))

	fc.initialize(t, protocol.LatestProtocolVersion, protocol.ClientCapabilities{})

	fc.send(t, `{"jsonrpc":"2.0","id":2,"method":"prompts/get","params":{"name":"greet","arguments":{"name":"x"}}}`)
	var resp protocol.Response
	require.NoError(t, json.Unmarshal(fc.next(t), &resp))
	require.Nil(t, resp.Error)
	var prompt protocol.GetPromptResult
	require.NoError(t, json.Unmarshal(resp.Result, &prompt))
	require.Len(t, prompt.Messages, 1)
	assert.Equal(t, "hello x", prompt.Messages[0].Content.Text)

	fc.send(t, `{"jsonrpc":"2.0","id":3,"method":"resources/read","params":{"uri":"mem://doc"}}`)
	require.NoError(t, json.Unmarshal(fc.next(t), &resp))
	require.Nil(t, resp.Error)
	var read protocol.ReadResourceResult
	require.NoError(t, json.Unmarshal(resp.Result, &read))
	require.Len(t, read.Contents, 1)
	assert.Equal(t, "contents", read.Contents[0].Text)

	fc.send(t, `{"jsonrpc":"2.0","id":4,"method":"resources/templates/list"}`)
	require.NoError(t, json.Unmarshal(fc.next(t), &resp))
	require.Nil(t, resp.Error)
	var templates protocol.ResourceTemplateListResult
	require.NoError(t, json.Unmarshal(resp.Result, &templates))
	require.Len(t, templates.ResourceTemplates, 1)
}

// TestServer_SubscriptionGatesUpdates covers resources/subscribe semantics:
// updates flow only to subscribed URIs and stop after unsubscribe.
func TestServer_SubscriptionGatesUpdates(t *testing.T) {
	s, fc := connectedServer(t, Config{Name: "srv", Version: "1", Capabilities: protocol.ServerCapabilities{
		Resources: &protocol.ResourcesCapability{Subscribe: true},
	}})
	require.NoError(t, s.RegisterResource(protocol.Resource{URI: "mem://doc"},
		func(context.Context) ([]protocol.ResourceContents, error) { return nil, nil }))

	fc.initialize(t, protocol.LatestProtocolVersion, protocol.ClientCapabilities{})

	// Not subscribed: no notification.
	require.NoError(t, s.ResourceUpdated(context.Background(), "mem://doc"))
	select {
	case msg := <-fc.notify:
		t.Fatalf("unexpected message before subscription: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}

	fc.send(t, `{"jsonrpc":"2.0","id":2,"method":"resources/subscribe","params":{"uri":"mem://doc"}}`)
	var resp protocol.Response
	require.NoError(t, json.Unmarshal(fc.next(t), &resp))
	require.Nil(t, resp.Error)

	require.NoError(t, s.ResourceUpdated(context.Background(), "mem://doc"))
	var notif protocol.Notification
	require.NoError(t, json.Unmarshal(fc.next(t), &notif))
	assert.Equal(t, protocol.NotificationResourceUpdated, notif.Method)
	assert.JSONEq(t, `{"uri":"mem://doc"}`, string(notif.Params))

	fc.send(t, `{"jsonrpc":"2.0","id":3,"method":"resources/unsubscribe","params":{"uri":"mem://doc"}}`)
	require.NoError(t, json.Unmarshal(fc.next(t), &resp))
	require.Nil(t, resp.Error)

	require.NoError(t, s.ResourceUpdated(context.Background(), "mem://doc"))
	select {
	case msg := <-fc.notify:
		t.Fatalf("unexpected message after unsubscribe: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestServer_NotificationCapabilityGates covers the emit-side gates on the
// server's own capabilities.
func TestServer_NotificationCapabilityGates(t *testing.T) {
	s, fc := connectedServer(t, Config{Name: "srv", Version: "1"}) // no capabilities
	fc.initialize(t, protocol.LatestProtocolVersion, protocol.ClientCapabilities{})

	var capErr *protocol.CapabilityError

	err := s.LogMessage(context.Background(), protocol.LevelInfo, "test", "hello")
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "logging", capErr.Capability)

	err = s.ResourceListChanged(context.Background())
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "resources.listChanged", capErr.Capability)

	err = s.ToolListChanged(context.Background())
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "tools.listChanged", capErr.Capability)

	err = s.PromptListChanged(context.Background())
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "prompts.listChanged", capErr.Capability)
}

// TestServer_StrictClientCapabilityGate covers server-initiated requests
// against a client that advertised nothing.
func TestServer_StrictClientCapabilityGate(t *testing.T) {
	s, fc := connectedServer(t, Config{
		Name: "srv", Version: "1",
		EnforceStrictCapabilities: true,
	})
	fc.initialize(t, protocol.LatestProtocolVersion, protocol.ClientCapabilities{})

	var capErr *protocol.CapabilityError

	_, err := s.CreateMessage(context.Background(), protocol.SamplingParams{MaxTokens: 10}, nil)
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "sampling", capErr.Capability)

	_, err = s.ListRoots(context.Background())
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "roots", capErr.Capability)
}

// TestServer_LoggingSetLevelFilters covers the stored minimum level: below
// it LogMessage is a no-op, at or above it the notification flows.
func TestServer_LoggingSetLevelFilters(t *testing.T) {
	s, fc := connectedServer(t, Config{Name: "srv", Version: "1", Capabilities: protocol.ServerCapabilities{
		Logging: &protocol.LoggingCapability{},
	}})
	fc.initialize(t, protocol.LatestProtocolVersion, protocol.ClientCapabilities{})

	fc.send(t, `{"jsonrpc":"2.0","id":2,"method":"logging/setLevel","params":{"level":"warning"}}`)
	var resp protocol.Response
	require.NoError(t, json.Unmarshal(fc.next(t), &resp))
	require.Nil(t, resp.Error)

	require.NoError(t, s.LogMessage(context.Background(), protocol.LevelInfo, "test", "quiet"))
	select {
	case msg := <-fc.notify:
		t.Fatalf("info message should have been filtered: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, s.LogMessage(context.Background(), protocol.LevelError, "test", "loud"))
	var notif protocol.Notification
	require.NoError(t, json.Unmarshal(fc.next(t), &notif))
	assert.Equal(t, protocol.NotificationMessage, notif.Method)

	var params protocol.LoggingMessageParams
	require.NoError(t, json.Unmarshal(notif.Params, &params))
	assert.Equal(t, protocol.LevelError, params.Level)

	// An unknown level is rejected.
	fc.send(t, `{"jsonrpc":"2.0","id":3,"method":"logging/setLevel","params":{"level":"shouting"}}`)
	require.NoError(t, json.Unmarshal(fc.next(t), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InvalidParams, resp.Error.Code)
}

func TestServer_PingAnswered(t *testing.T) {
	_, fc := connectedServer(t, Config{Name: "srv", Version: "1"})

	fc.send(t, `{"jsonrpc":"2.0","id":9,"method":"ping"}`)
	var resp protocol.Response
	require.NoError(t, json.Unmarshal(fc.next(t), &resp))
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{}`, string(resp.Result))
}
