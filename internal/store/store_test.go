package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopSender struct{}

func (nopSender) Send([]byte) error { return nil }
func (nopSender) Close() error      { return nil }

func addConn(t *testing.T, s *Store, id string) *Connection {
	t.Helper()
	c := NewConnection(id, nopSender{}, TransportWS)
	require.True(t, s.Add(context.Background(), id, c, ""))
	return c
}

func TestAdd_WithUnknownRoomReturnsFalse(t *testing.T) {
	s := New(100, nil, nil)
	c := NewConnection("a", nopSender{}, TransportWS)
	assert.False(t, s.Add(context.Background(), "a", c, "no-such-room"))
}

func TestAdd_PlacesDirectlyIntoExistingRoom(t *testing.T) {
	s := New(100, nil, nil)
	room := s.CreateRoom(context.Background())

	c := NewConnection("a", nopSender{}, TransportWS)
	require.True(t, s.Add(context.Background(), "a", c, room.ID))

	roomID, ok := s.FindRoomForClient("a")
	require.True(t, ok)
	assert.Equal(t, room.ID, roomID)
	assert.Equal(t, StateJoined, c.State())
}

// AddClientToRoom returns nil for non-existent rooms.
func TestAddClientToRoom_NilForUnknownRoom(t *testing.T) {
	s := New(100, nil, nil)
	addConn(t, s, "a")
	assert.Nil(t, s.AddClientToRoom(context.Background(), "a", "no-such-room"))
}

// A room with capacity 100 admits exactly 100 clients; the 101st
// AddClientToRoom returns nil.
func TestAddClientToRoom_NeverExceedsCapacity(t *testing.T) {
	s := New(100, nil, nil)
	room := s.CreateRoom(context.Background())

	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("c%d", i)
		addConn(t, s, id)
		require.NotNil(t, s.AddClientToRoom(context.Background(), id, room.ID), "client %d must fit", i)
	}

	addConn(t, s, "c100")
	assert.Nil(t, s.AddClientToRoom(context.Background(), "c100", room.ID))
	assert.Equal(t, 100, room.Size())
}

func TestAddClientToRoom_MovesClientBetweenRooms(t *testing.T) {
	s := New(100, nil, nil)
	first := s.CreateRoom(context.Background())
	second := s.CreateRoom(context.Background())
	addConn(t, s, "a")
	addConn(t, s, "b")

	require.NotNil(t, s.AddClientToRoom(context.Background(), "a", first.ID))
	require.NotNil(t, s.AddClientToRoom(context.Background(), "b", first.ID))
	require.NotNil(t, s.AddClientToRoom(context.Background(), "a", second.ID))

	roomID, ok := s.FindRoomForClient("a")
	require.True(t, ok)
	assert.Equal(t, second.ID, roomID)
	assert.False(t, first.Contains("a"))
	assert.True(t, first.Contains("b"))
}

// Removing the last connection from a room deletes the room from the store.
func TestRemove_DeletesEmptiedRoom(t *testing.T) {
	s := New(100, nil, nil)
	room := s.CreateRoom(context.Background())
	addConn(t, s, "a")
	require.NotNil(t, s.AddClientToRoom(context.Background(), "a", room.ID))

	s.Remove(context.Background(), "a")

	assert.False(t, s.Exists("a"))
	_, ok := s.GetRoom(room.ID)
	assert.False(t, ok)
	_, ok = s.FindRoomForClient("a")
	assert.False(t, ok)
}

func TestRemove_KeepsRoomWithRemainingMembers(t *testing.T) {
	s := New(100, nil, nil)
	room := s.CreateRoom(context.Background())
	addConn(t, s, "a")
	addConn(t, s, "b")
	require.NotNil(t, s.AddClientToRoom(context.Background(), "a", room.ID))
	require.NotNil(t, s.AddClientToRoom(context.Background(), "b", room.ID))

	s.Remove(context.Background(), "a")

	got, ok := s.GetRoom(room.ID)
	require.True(t, ok)
	assert.Equal(t, 1, got.Size())
	assert.True(t, got.Contains("b"))
}

func TestLeaveRoom_KeepsConnectionRegistered(t *testing.T) {
	s := New(100, nil, nil)
	room := s.CreateRoom(context.Background())
	c := addConn(t, s, "a")
	require.NotNil(t, s.AddClientToRoom(context.Background(), "a", room.ID))

	left := s.LeaveRoom(context.Background(), "a")

	assert.Equal(t, room.ID, left)
	assert.True(t, s.Exists("a"))
	assert.Equal(t, StateConnected, c.State())
	_, ok := s.GetRoom(room.ID)
	assert.False(t, ok, "emptied room must be deleted")

	assert.Empty(t, s.LeaveRoom(context.Background(), "a"), "second leave is a no-op")
}

func TestFindAvailableRoom_PrefersExistingWithSpace(t *testing.T) {
	s := New(2, nil, nil)
	room := s.CreateRoom(context.Background())

	assert.Equal(t, room.ID, s.FindAvailableRoom(context.Background()).ID)

	addConn(t, s, "a")
	addConn(t, s, "b")
	require.NotNil(t, s.AddClientToRoom(context.Background(), "a", room.ID))
	require.NotNil(t, s.AddClientToRoom(context.Background(), "b", room.ID))

	fresh := s.FindAvailableRoom(context.Background())
	assert.NotEqual(t, room.ID, fresh.ID, "a full room must not be reused")
}

func TestCleanup_RemovesDisconnectedConnections(t *testing.T) {
	s := New(100, nil, nil)
	room := s.CreateRoom(context.Background())
	alive := addConn(t, s, "alive")
	dead := addConn(t, s, "dead")
	require.NotNil(t, s.AddClientToRoom(context.Background(), "dead", room.ID))

	dead.MarkDisconnected()
	removed := s.Cleanup(context.Background())

	assert.Equal(t, 1, removed)
	assert.False(t, s.Exists("dead"))
	assert.True(t, s.Exists("alive"))
	assert.True(t, alive.IsConnected())
	_, ok := s.GetRoom(room.ID)
	assert.False(t, ok, "the dead connection's emptied room goes with it")
}

func TestConnectionsInRoom_SnapshotsMembership(t *testing.T) {
	s := New(100, nil, nil)
	room := s.CreateRoom(context.Background())
	addConn(t, s, "a")
	addConn(t, s, "b")
	require.NotNil(t, s.AddClientToRoom(context.Background(), "a", room.ID))
	require.NotNil(t, s.AddClientToRoom(context.Background(), "b", room.ID))

	ids, ok := s.ConnectionsInRoom(room.ID)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	_, ok = s.ConnectionsInRoom("no-such-room")
	assert.False(t, ok)
}

func TestRoom_AddIsIdempotentForMembers(t *testing.T) {
	r := NewRoom("r", 2)
	require.True(t, r.Add("a"))
	require.True(t, r.Add("b"))
	assert.True(t, r.Add("a"), "re-adding an existing member must not fail on capacity")
	assert.Equal(t, 2, r.Size())
	assert.False(t, r.Add("c"))
}
