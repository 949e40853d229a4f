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

	"github.com/teradata-labs/shuttle/pkg/mcp/protocol"
)

// LogMessage emits notifications/message. Requires this server's logging
// capability.
func (s *Server) LogMessage(ctx context.Context, level protocol.LoggingLevel, loggerName string, data interface{}) error {
	if s.config.Capabilities.Logging != nil && !s.logLevelEnabled(level) {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.dispatcher.Notify(ctx, protocol.NotificationMessage, protocol.LoggingMessageParams{
		Level:  level,
		Logger: loggerName,
		Data:   raw,
	})
}

// ResourceUpdated emits notifications/resources/updated for a URI the
// client subscribed to. Without a subscription this is a no-op.
func (s *Server) ResourceUpdated(ctx context.Context, uri string) error {
	s.mu.RLock()
	subscribed := s.subscriptions[uri]
	s.mu.RUnlock()

	if !subscribed {
		return nil
	}
	return s.dispatcher.Notify(ctx, protocol.NotificationResourceUpdated,
		protocol.ResourceUpdatedParams{URI: uri})
}

// ResourceListChanged emits notifications/resources/list_changed. Requires
// the resources.listChanged capability.
func (s *Server) ResourceListChanged(ctx context.Context) error {
	return s.dispatcher.Notify(ctx, protocol.NotificationResourceListChanged, nil)
}

// ToolListChanged emits notifications/tools/list_changed. Requires the
// tools.listChanged capability.
func (s *Server) ToolListChanged(ctx context.Context) error {
	return s.dispatcher.Notify(ctx, protocol.NotificationToolListChanged, nil)
}

// PromptListChanged emits notifications/prompts/list_changed. Requires the
// prompts.listChanged capability.
func (s *Server) PromptListChanged(ctx context.Context) error {
	return s.dispatcher.Notify(ctx, protocol.NotificationPromptListChanged, nil)
}
