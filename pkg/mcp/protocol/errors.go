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

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by transports and the dispatcher.
var (
	// ErrConnectionClosed indicates the connection closed while a request was
	// outstanding, or an operation was attempted on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrRequestTimeout indicates a per-request deadline elapsed before the
	// peer responded.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrAlreadyStarted indicates Start was called more than once on a
	// transport.
	ErrAlreadyStarted = errors.New("transport already started")

	// ErrNotConnected indicates Send was called before Start succeeded or
	// after the peer closed.
	ErrNotConnected = errors.New("transport not connected")
)

// CapabilityError reports a local capability assertion failure: either the
// remote side never advertised the capability a method requires, or a handler
// was registered for a method the local side did not declare.
type CapabilityError struct {
	Capability string
	Method     string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %q required for %s is not available", e.Capability, e.Method)
}

// UnsupportedProtocolVersionError reports a handshake rejected because the
// server negotiated a version outside the supported set.
type UnsupportedProtocolVersionError struct {
	Offered string
}

func (e *UnsupportedProtocolVersionError) Error() string {
	return fmt.Sprintf("unsupported protocol version %q (supported: %v)", e.Offered, SupportedProtocolVersions)
}
