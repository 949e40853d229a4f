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
	"sort"

	"github.com/teradata-labs/shuttle/pkg/mcp/protocol"
)

// RegisterTool adds a tool to the catalogue. Fails when the server did not
// declare the tools capability.
func (s *Server) RegisterTool(tool protocol.Tool, handler ToolHandler) error {
	if s.config.Capabilities.Tools == nil {
		return &protocol.CapabilityError{Capability: "tools", Method: protocol.MethodToolsCall}
	}
	if tool.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool handler is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[tool.Name]; exists {
		return fmt.Errorf("tool %q already registered", tool.Name)
	}
	s.tools[tool.Name] = registeredTool{tool: tool, handler: handler}
	return nil
}

// RegisterPrompt adds a prompt to the catalogue. Fails when the server did
// not declare the prompts capability.
func (s *Server) RegisterPrompt(prompt protocol.Prompt, handler PromptHandler) error {
	if s.config.Capabilities.Prompts == nil {
		return &protocol.CapabilityError{Capability: "prompts", Method: protocol.MethodPromptsGet}
	}
	if prompt.Name == "" {
		return fmt.Errorf("prompt name is required")
	}
	if handler == nil {
		return fmt.Errorf("prompt handler is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.prompts[prompt.Name]; exists {
		return fmt.Errorf("prompt %q already registered", prompt.Name)
	}
	s.prompts[prompt.Name] = registeredPrompt{prompt: prompt, handler: handler}
	return nil
}

// RegisterResource adds a resource to the catalogue. Fails when the server
// did not declare the resources capability.
func (s *Server) RegisterResource(resource protocol.Resource, reader ResourceReader) error {
	if s.config.Capabilities.Resources == nil {
		return &protocol.CapabilityError{Capability: "resources", Method: protocol.MethodResourcesRead}
	}
	if resource.URI == "" {
		return fmt.Errorf("resource URI is required")
	}
	if reader == nil {
		return fmt.Errorf("resource reader is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.resources[resource.URI]; exists {
		return fmt.Errorf("resource %q already registered", resource.URI)
	}
	s.resources[resource.URI] = registeredResource{resource: resource, reader: reader}
	return nil
}

// RegisterResourceTemplate adds a dynamic resource template. Fails when the
// server did not declare the resources capability.
func (s *Server) RegisterResourceTemplate(template protocol.ResourceTemplate) error {
	if s.config.Capabilities.Resources == nil {
		return &protocol.CapabilityError{Capability: "resources", Method: protocol.MethodResourceTemplatesList}
	}
	if template.URITemplate == "" {
		return fmt.Errorf("resource template URI is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates = append(s.templates, template)
	return nil
}

func (s *Server) handleToolsList(context.Context, *protocol.Request) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := make([]protocol.Tool, 0, len(s.tools))
	for _, t := range s.tools {
		tools = append(tools, t.tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return protocol.ToolListResult{Tools: tools}, nil
}

func (s *Server) handleToolsCall(ctx context.Context, req *protocol.Request) (interface{}, error) {
	if err := protocol.ValidateParamsObject(req.Params); err != nil {
		return nil, protocol.NewError(protocol.InvalidParams, err.Error(), nil)
	}

	var params protocol.CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, protocol.NewError(protocol.InvalidParams,
			fmt.Sprintf("invalid tools/call params: %v", err), nil)
	}

	s.mu.RLock()
	entry, ok := s.tools[params.Name]
	s.mu.RUnlock()

	if !ok {
		return nil, protocol.NewError(protocol.InvalidParams,
			fmt.Sprintf("unknown tool: %s", params.Name), nil)
	}

	result, err := entry.handler(ctx, params.Arguments)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &protocol.CallToolResult{Content: []protocol.Content{}}
	}
	return result, nil
}

func (s *Server) handlePromptsList(context.Context, *protocol.Request) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prompts := make([]protocol.Prompt, 0, len(s.prompts))
	for _, p := range s.prompts {
		prompts = append(prompts, p.prompt)
	}
	sort.Slice(prompts, func(i, j int) bool { return prompts[i].Name < prompts[j].Name })
	return protocol.PromptListResult{Prompts: prompts}, nil
}

func (s *Server) handlePromptsGet(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var params protocol.GetPromptParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, protocol.NewError(protocol.InvalidParams,
			fmt.Sprintf("invalid prompts/get params: %v", err), nil)
	}

	s.mu.RLock()
	entry, ok := s.prompts[params.Name]
	s.mu.RUnlock()

	if !ok {
		return nil, protocol.NewError(protocol.InvalidParams,
			fmt.Sprintf("unknown prompt: %s", params.Name), nil)
	}
	return entry.handler(ctx, params.Arguments)
}

func (s *Server) handleResourcesList(context.Context, *protocol.Request) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resources := make([]protocol.Resource, 0, len(s.resources))
	for _, r := range s.resources {
		resources = append(resources, r.resource)
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].URI < resources[j].URI })
	return protocol.ResourceListResult{Resources: resources}, nil
}

func (s *Server) handleResourcesRead(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var params protocol.ReadResourceParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, protocol.NewError(protocol.InvalidParams,
			fmt.Sprintf("invalid resources/read params: %v", err), nil)
	}

	s.mu.RLock()
	entry, ok := s.resources[params.URI]
	s.mu.RUnlock()

	if !ok {
		return nil, protocol.NewError(protocol.InvalidParams,
			fmt.Sprintf("unknown resource: %s", params.URI), nil)
	}

	contents, err := entry.reader(ctx)
	if err != nil {
		return nil, err
	}
	return protocol.ReadResourceResult{Contents: contents}, nil
}

func (s *Server) handleResourceTemplatesList(context.Context, *protocol.Request) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	templates := make([]protocol.ResourceTemplate, len(s.templates))
	copy(templates, s.templates)
	return protocol.ResourceTemplateListResult{ResourceTemplates: templates}, nil
}

func (s *Server) handleResourcesSubscribe(_ context.Context, req *protocol.Request) (interface{}, error) {
	if s.config.Capabilities.Resources == nil || !s.config.Capabilities.Resources.Subscribe {
		return nil, protocol.NewError(protocol.MethodNotFound,
			"resource subscriptions not supported", nil)
	}

	var params protocol.SubscribeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, protocol.NewError(protocol.InvalidParams,
			fmt.Sprintf("invalid resources/subscribe params: %v", err), nil)
	}

	s.mu.Lock()
	_, known := s.resources[params.URI]
	if known {
		s.subscriptions[params.URI] = true
	}
	s.mu.Unlock()

	if !known {
		return nil, protocol.NewError(protocol.InvalidParams,
			fmt.Sprintf("unknown resource: %s", params.URI), nil)
	}
	return protocol.EmptyResult{}, nil
}

func (s *Server) handleResourcesUnsubscribe(_ context.Context, req *protocol.Request) (interface{}, error) {
	var params protocol.SubscribeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, protocol.NewError(protocol.InvalidParams,
			fmt.Sprintf("invalid resources/unsubscribe params: %v", err), nil)
	}

	s.mu.Lock()
	delete(s.subscriptions, params.URI)
	s.mu.Unlock()
	return protocol.EmptyResult{}, nil
}
