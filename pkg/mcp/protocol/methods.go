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

package protocol

// Request method names.
const (
	MethodInitialize            = "initialize"
	MethodPing                  = "ping"
	MethodToolsList             = "tools/list"
	MethodToolsCall             = "tools/call"
	MethodResourcesList         = "resources/list"
	MethodResourceTemplatesList = "resources/templates/list"
	MethodResourcesRead         = "resources/read"
	MethodResourcesSubscribe    = "resources/subscribe"
	MethodResourcesUnsubscribe  = "resources/unsubscribe"
	MethodPromptsList           = "prompts/list"
	MethodPromptsGet            = "prompts/get"
	MethodLoggingSetLevel       = "logging/setLevel"
	MethodSamplingCreateMessage = "sampling/createMessage"
	MethodCompletionComplete    = "completion/complete"
	MethodRootsList             = "roots/list"
)

// Notification method names.
const (
	NotificationInitialized         = "notifications/initialized"
	NotificationCancelled           = "notifications/cancelled"
	NotificationProgress            = "notifications/progress"
	NotificationMessage             = "notifications/message"
	NotificationResourceUpdated     = "notifications/resources/updated"
	NotificationResourceListChanged = "notifications/resources/list_changed"
	NotificationToolListChanged     = "notifications/tools/list_changed"
	NotificationPromptListChanged   = "notifications/prompts/list_changed"
	NotificationRootsListChanged    = "notifications/roots/list_changed"
)

var knownMethods = map[string]struct{}{
	MethodInitialize:                {},
	MethodPing:                      {},
	MethodToolsList:                 {},
	MethodToolsCall:                 {},
	MethodResourcesList:             {},
	MethodResourceTemplatesList:     {},
	MethodResourcesRead:             {},
	MethodResourcesSubscribe:        {},
	MethodResourcesUnsubscribe:      {},
	MethodPromptsList:               {},
	MethodPromptsGet:                {},
	MethodLoggingSetLevel:           {},
	MethodSamplingCreateMessage:     {},
	MethodCompletionComplete:        {},
	MethodRootsList:                 {},
	NotificationInitialized:         {},
	NotificationCancelled:           {},
	NotificationProgress:            {},
	NotificationMessage:             {},
	NotificationResourceUpdated:     {},
	NotificationResourceListChanged: {},
	NotificationToolListChanged:     {},
	NotificationPromptListChanged:   {},
	NotificationRootsListChanged:    {},
}

// IsKnownMethod reports whether the method name is part of the well-known MCP
// vocabulary. Unknown methods are still legal: they round-trip opaquely as
// custom methods with raw JSON params.
func IsKnownMethod(method string) bool {
	_, ok := knownMethods[method]
	return ok
}
