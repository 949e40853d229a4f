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

// ListResources returns the resources the server exposes.
func (c *Client) ListResources(ctx context.Context) ([]protocol.Resource, error) {
	raw, err := c.dispatcher.Request(ctx, protocol.MethodResourcesList, nil, nil)
	if err != nil {
		return nil, err
	}

	var result protocol.ResourceListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse resources/list result: %w", err)
	}
	return result.Resources, nil
}

// ListResourceTemplates returns the server's dynamic resource templates.
func (c *Client) ListResourceTemplates(ctx context.Context) ([]protocol.ResourceTemplate, error) {
	raw, err := c.dispatcher.Request(ctx, protocol.MethodResourceTemplatesList, nil, nil)
	if err != nil {
		return nil, err
	}

	var result protocol.ResourceTemplateListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse resources/templates/list result: %w", err)
	}
	return result.ResourceTemplates, nil
}

// ReadResource fetches a resource's contents by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]protocol.ResourceContents, error) {
	raw, err := c.dispatcher.Request(ctx, protocol.MethodResourcesRead,
		protocol.ReadResourceParams{URI: uri}, nil)
	if err != nil {
		return nil, err
	}

	var result protocol.ReadResourceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse resources/read result: %w", err)
	}
	return result.Contents, nil
}

// SubscribeResource asks the server to send notifications/resources/updated
// for a URI. Requires the server's resources.subscribe capability.
func (c *Client) SubscribeResource(ctx context.Context, uri string) error {
	_, err := c.dispatcher.Request(ctx, protocol.MethodResourcesSubscribe,
		protocol.SubscribeParams{URI: uri}, nil)
	return err
}

// UnsubscribeResource cancels a resource subscription.
func (c *Client) UnsubscribeResource(ctx context.Context, uri string) error {
	_, err := c.dispatcher.Request(ctx, protocol.MethodResourcesUnsubscribe,
		protocol.SubscribeParams{URI: uri}, nil)
	return err
}

// OnResourceUpdated registers a handler for notifications/resources/updated.
func (c *Client) OnResourceUpdated(handler func(uri string)) {
	c.dispatcher.SetNotificationHandler(protocol.NotificationResourceUpdated,
		func(notif *protocol.Notification) {
			var params protocol.ResourceUpdatedParams
			if err := json.Unmarshal(notif.Params, &params); err != nil {
				return
			}
			handler(params.URI)
		})
}

// OnResourceListChanged registers a handler for
// notifications/resources/list_changed.
func (c *Client) OnResourceListChanged(handler func()) {
	c.dispatcher.SetNotificationHandler(protocol.NotificationResourceListChanged,
		func(*protocol.Notification) { handler() })
}
