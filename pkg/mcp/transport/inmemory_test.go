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
package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/shuttle/pkg/mcp/protocol"
)

func TestInMemoryPair_Delivery(t *testing.T) {
	a, b := NewInMemoryPair()

	var got [][]byte
	b.SetMessageHandler(func(msg []byte) { got = append(got, msg) })

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, a.Send(context.Background(), []byte(`{"n":1}`)))
	require.NoError(t, a.Send(context.Background(), []byte(`{"n":2}`)))

	require.Len(t, got, 2)
	assert.Equal(t, `{"n":1}`, string(got[0]))
	assert.Equal(t, `{"n":2}`, string(got[1]))
}

// TestInMemoryPair_BuffersBeforeStart confirms messages sent before the
// counterpart starts are delivered in order once it does.
func TestInMemoryPair_BuffersBeforeStart(t *testing.T) {
	a, b := NewInMemoryPair()

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Send(context.Background(), []byte(`{"n":1}`)))
	require.NoError(t, a.Send(context.Background(), []byte(`{"n":2}`)))

	var got [][]byte
	b.SetMessageHandler(func(msg []byte) { got = append(got, msg) })
	require.NoError(t, b.Start(context.Background()))

	require.Len(t, got, 2)
	assert.Equal(t, `{"n":1}`, string(got[0]))
	assert.Equal(t, `{"n":2}`, string(got[1]))
}

// TestInMemoryPair_CloseIsIdempotent covers the exactly-one-close guarantee
// on both ends.
func TestInMemoryPair_CloseIsIdempotent(t *testing.T) {
	a, b := NewInMemoryPair()

	var aCloses, bCloses int
	a.SetCloseHandler(func() { aCloses++ })
	b.SetCloseHandler(func() { bCloses++ })

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	assert.Equal(t, 1, aCloses)
	assert.Equal(t, 1, bCloses)

	assert.ErrorIs(t, a.Send(context.Background(), []byte(`{}`)), protocol.ErrNotConnected)
	assert.ErrorIs(t, b.Send(context.Background(), []byte(`{}`)), protocol.ErrNotConnected)
}

func TestInMemoryTransport_StartTwice(t *testing.T) {
	a, _ := NewInMemoryPair()
	require.NoError(t, a.Start(context.Background()))
	assert.ErrorIs(t, a.Start(context.Background()), protocol.ErrAlreadyStarted)
}
