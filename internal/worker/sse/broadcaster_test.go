package sse

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndRemoveClient(t *testing.T) {
	b := NewBroadcaster()
	rec := httptest.NewRecorder()

	client, err := b.AddClient(rec, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", client.UserID)
	assert.Equal(t, 1, b.ClientCount())

	b.RemoveClient(client)
	assert.Equal(t, 0, b.ClientCount())

	select {
	case <-client.Done:
	default:
		t.Fatal("Done channel not closed on removal")
	}
}

// TestBroadcastScopedToUser: events for one user must never reach another
// user's stream.
func TestBroadcastScopedToUser(t *testing.T) {
	b := NewBroadcaster()

	recA := httptest.NewRecorder()
	recB := httptest.NewRecorder()
	clientA, err := b.AddClient(recA, "user-a")
	require.NoError(t, err)
	clientB, err := b.AddClient(recB, "user-b")
	require.NoError(t, err)
	defer b.RemoveClient(clientA)
	defer b.RemoveClient(clientB)

	b.Broadcast("user-a", map[string]string{"type": "navigate", "session_id": "sess-1"})

	assert.Contains(t, recA.Body.String(), `"session_id":"sess-1"`)
	assert.True(t, strings.HasPrefix(recA.Body.String(), "data: "))
	assert.Empty(t, recB.Body.String())
}

func TestBroadcastToMultipleClientsOfOneUser(t *testing.T) {
	b := NewBroadcaster()

	rec1 := httptest.NewRecorder()
	rec2 := httptest.NewRecorder()
	c1, err := b.AddClient(rec1, "user-a")
	require.NoError(t, err)
	c2, err := b.AddClient(rec2, "user-a")
	require.NoError(t, err)
	defer b.RemoveClient(c1)
	defer b.RemoveClient(c2)

	b.Broadcast("user-a", map[string]string{"type": "change"})

	assert.Contains(t, rec1.Body.String(), `"type":"change"`)
	assert.Contains(t, rec2.Body.String(), `"type":"change"`)
}

func TestBroadcastNoClientsIsNoOp(t *testing.T) {
	b := NewBroadcaster()
	b.Broadcast("user-a", map[string]string{"type": "change"})
	assert.Equal(t, 0, b.ClientCount())
}

func TestBroadcastSkipsDisconnectedClient(t *testing.T) {
	b := NewBroadcaster()

	rec := httptest.NewRecorder()
	client, err := b.AddClient(rec, "user-a")
	require.NoError(t, err)
	b.RemoveClient(client)

	b.Broadcast("user-a", map[string]string{"type": "change"})
	assert.Empty(t, rec.Body.String())
}
