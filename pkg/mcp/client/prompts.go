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

	"github.com/teradata-labs/shuttle/pkg/mcp/protocol"
)

// ListPrompts returns the prompts the server exposes.
func (c *Client) ListPrompts(ctx context.Context) ([]protocol.Prompt, error) {
	raw, err := c.dispatcher.Request(ctx, protocol.MethodPromptsList, nil, nil)
	if err != nil {
		return nil, err
	}

	var result protocol.PromptListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse prompts/list result: %w", err)
	}
	return result.Prompts, nil
}

// GetPrompt renders a prompt with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*protocol.GetPromptResult, error) {
	raw, err := c.dispatcher.Request(ctx, protocol.MethodPromptsGet,
		protocol.GetPromptParams{Name: name, Arguments: arguments}, nil)
	if err != nil {
		return nil, err
	}

	var result protocol.GetPromptResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse prompts/get result: %w", err)
	}
	return &result, nil
}

// Complete requests argument completion candidates for a prompt or resource
// template reference.
func (c *Client) Complete(ctx context.Context, ref protocol.CompletionRef, arg protocol.CompletionArgument) (*protocol.CompleteResult, error) {
	raw, err := c.dispatcher.Request(ctx, protocol.MethodCompletionComplete,
		protocol.CompleteParams{Ref: ref, Argument: arg}, nil)
	if err != nil {
		return nil, err
	}

	var result protocol.CompleteResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse completion/complete result: %w", err)
	}
	return &result, nil
}
