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

package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/teradata-labs/shuttle/pkg/mcp/dispatch"
	"github.com/teradata-labs/shuttle/pkg/mcp/protocol"
)

// ListTools returns the tools the server exposes.
func (c *Client) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	raw, err := c.dispatcher.Request(ctx, protocol.MethodToolsList, nil, nil)
	if err != nil {
		return nil, err
	}

	var result protocol.ToolListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a tool by name. Pass opts to attach a progress callback
// or a per-call timeout.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]interface{}, opts *dispatch.RequestOptions) (*protocol.CallToolResult, error) {
	params := protocol.CallToolParams{
		Name:      name,
		Arguments: arguments,
	}

	raw, err := c.dispatcher.Request(ctx, protocol.MethodToolsCall, params, opts)
	if err != nil {
		return nil, err
	}

	var result protocol.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse tools/call result: %w", err)
	}
	return &result, nil
}
