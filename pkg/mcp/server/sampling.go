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

	"github.com/teradata-labs/shuttle/pkg/mcp/dispatch"
	"github.com/teradata-labs/shuttle/pkg/mcp/protocol"
)

// CreateMessage asks the client for an LLM completion via
// sampling/createMessage. Requires the client's sampling capability when
// strict enforcement is on.
func (s *Server) CreateMessage(ctx context.Context, params protocol.SamplingParams, opts *dispatch.RequestOptions) (*protocol.SamplingResult, error) {
	raw, err := s.dispatcher.Request(ctx, protocol.MethodSamplingCreateMessage, params, opts)
	if err != nil {
		return nil, err
	}

	var result protocol.SamplingResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse sampling/createMessage result: %w", err)
	}
	return &result, nil
}

// ListRoots asks the client for its root list. Requires the client's roots
// capability when strict enforcement is on.
func (s *Server) ListRoots(ctx context.Context) ([]protocol.Root, error) {
	raw, err := s.dispatcher.Request(ctx, protocol.MethodRootsList, nil, nil)
	if err != nil {
		return nil, err
	}

	var result protocol.ListRootsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse roots/list result: %w", err)
	}
	return result.Roots, nil
}
