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
	"sync"

	"github.com/teradata-labs/shuttle/pkg/mcp/protocol"
)

// SamplingHandler answers a server's sampling/createMessage request by
// producing an LLM completion.
type SamplingHandler func(ctx context.Context, params protocol.SamplingParams) (*protocol.SamplingResult, error)

// SetSamplingHandler registers the handler for server-initiated
// sampling/createMessage requests. Fails unless this client declared the
// sampling capability.
func (c *Client) SetSamplingHandler(handler SamplingHandler) error {
	return c.dispatcher.SetRequestHandler(protocol.MethodSamplingCreateMessage,
		func(ctx context.Context, req *protocol.Request) (interface{}, error) {
			var params protocol.SamplingParams
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return nil, protocol.NewError(protocol.InvalidParams,
					fmt.Sprintf("invalid sampling params: %v", err), nil)
			}
			return handler(ctx, params)
		})
}

// RootsProvider supplies the roots this client exposes to servers.
type RootsProvider struct {
	mu    sync.RWMutex
	roots []protocol.Root
}

// SetRoots installs a static roots list and registers the roots/list
// handler. Fails unless this client declared the roots capability. The
// returned provider updates the list; call RootsListChanged after mutating
// it when the roots.listChanged capability is set.
func (c *Client) SetRoots(roots []protocol.Root) (*RootsProvider, error) {
	p := &RootsProvider{roots: roots}

	err := c.dispatcher.SetRequestHandler(protocol.MethodRootsList,
		func(ctx context.Context, req *protocol.Request) (interface{}, error) {
			p.mu.RLock()
			defer p.mu.RUnlock()
			return protocol.ListRootsResult{Roots: p.roots}, nil
		})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Update replaces the provider's roots list.
func (p *RootsProvider) Update(roots []protocol.Root) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roots = roots
}

// RootsListChanged notifies the server that the roots list changed.
// Requires this client's roots.listChanged capability.
func (c *Client) RootsListChanged(ctx context.Context) error {
	return c.dispatcher.Notify(ctx, protocol.NotificationRootsListChanged, nil)
}
