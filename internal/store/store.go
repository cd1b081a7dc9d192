package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/altruist-gg/altruist/internal/logger"
)

// Store is the aggregate connection and room registry. It owns the
// process-local connection table, the room table, and the connectionId→roomId
// reverse index, write-through-ing room and connection bookkeeping to an
// optional Redis tier so a second process can answer FindRoomForClient for a
// connection it never locally accepted (the socket itself never leaves its
// owning process — only the membership fact does).
type Store struct {
	connections sync.Map // string -> *Connection

	mu      sync.RWMutex // guards rooms + reverse, which always need joint consistency
	rooms   map[string]*Room
	reverse map[string]string // connectionID -> roomID

	redis           *RedisTier // nil disables the shared tier
	defaultCapacity int
	log             *logger.Logger
}

// New builds an empty Store. redisTier may be nil, in which case the store
// runs single-process (see config.BridgeEnabled).
func New(defaultCapacity int, redisTier *RedisTier, log *logger.Logger) *Store {
	if defaultCapacity <= 0 {
		defaultCapacity = DefaultRoomCapacity
	}
	return &Store{
		rooms:           make(map[string]*Room),
		reverse:         make(map[string]string),
		redis:           redisTier,
		defaultCapacity: defaultCapacity,
		log:             log,
	}
}

// Add registers conn under connectionID, optionally placing it directly into
// roomID (pass "" to leave it unassigned). Returns false if roomID was given
// but doesn't exist or is already full.
func (s *Store) Add(ctx context.Context, connectionID string, conn *Connection, roomID string) bool {
	s.connections.Store(connectionID, conn)
	if roomID == "" {
		return true
	}

	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if !room.Add(connectionID) {
		s.mu.Unlock()
		return false
	}
	s.reverse[connectionID] = roomID
	s.mu.Unlock()

	conn.setRoomID(roomID)
	conn.SetState(StateJoined)
	if s.redis != nil {
		s.redis.SetConnectionRoom(ctx, connectionID, roomID)
	}
	return true
}

// Remove deletes connectionID from the store, its room (deleting the room if
// that empties it), and the reverse index.
func (s *Store) Remove(ctx context.Context, connectionID string) {
	s.connections.Delete(connectionID)

	s.mu.Lock()
	roomID, had := s.reverse[connectionID]
	var deletedRoom string
	if had {
		delete(s.reverse, connectionID)
		if room, ok := s.rooms[roomID]; ok {
			if room.Remove(connectionID) {
				delete(s.rooms, roomID)
				deletedRoom = roomID
			}
		}
	}
	s.mu.Unlock()

	if s.redis != nil {
		s.redis.DeleteConnection(ctx, connectionID)
		if deletedRoom != "" {
			s.redis.DeleteRoom(ctx, deletedRoom)
		}
	}
}

// Get returns the live Connection for connectionID, if registered locally.
func (s *Store) Get(connectionID string) (*Connection, bool) {
	v, ok := s.connections.Load(connectionID)
	if !ok {
		return nil, false
	}
	return v.(*Connection), true
}

// Exists reports whether connectionID is registered locally.
func (s *Store) Exists(connectionID string) bool {
	_, ok := s.connections.Load(connectionID)
	return ok
}

// AllIDs returns every locally-registered connection id.
func (s *Store) AllIDs() []string {
	var ids []string
	s.connections.Range(func(k, _ interface{}) bool {
		ids = append(ids, k.(string))
		return true
	})
	return ids
}

// AllConnections returns every locally-registered Connection.
func (s *Store) AllConnections() []*Connection {
	var conns []*Connection
	s.connections.Range(func(_, v interface{}) bool {
		conns = append(conns, v.(*Connection))
		return true
	})
	return conns
}

// GetRoom returns the room by id.
func (s *Store) GetRoom(roomID string) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	return r, ok
}

// AllRooms returns a snapshot of every room.
func (s *Store) AllRooms() []*Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// ConnectionsInRoom returns the membership of roomID.
func (s *Store) ConnectionsInRoom(roomID string) ([]string, bool) {
	s.mu.RLock()
	room, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return room.ConnectionIDs(), true
}

// FindRoomForClient resolves a connection's current room via the local
// reverse index, falling back to the Redis tier (when enabled) for a
// connection this process does not know. A room found in the Redis tier is
// not copied into the local index.
func (s *Store) FindRoomForClient(clientID string) (string, bool) {
	s.mu.RLock()
	roomID, ok := s.reverse[clientID]
	s.mu.RUnlock()
	if ok || s.redis == nil {
		return roomID, ok
	}
	return s.redis.GetConnectionRoom(context.Background(), clientID)
}

// CreateRoom allocates a fresh room with the store's default capacity.
func (s *Store) CreateRoom(ctx context.Context) *Room {
	room := NewRoom(uuid.NewString(), s.defaultCapacity)
	s.mu.Lock()
	s.rooms[room.ID] = room
	s.mu.Unlock()
	if s.redis != nil {
		s.redis.SaveRoom(ctx, room.ID, room.Capacity)
	}
	return room
}

// FindAvailableRoom does a linear scan for any room with spare capacity,
// creating a fresh room if every existing one is full. Room counts are small
// enough that no auxiliary free-space index is kept.
func (s *Store) FindAvailableRoom(ctx context.Context) *Room {
	s.mu.RLock()
	for _, r := range s.rooms {
		if !r.IsFull() {
			s.mu.RUnlock()
			return r
		}
	}
	s.mu.RUnlock()
	return s.CreateRoom(ctx)
}

// AddClientToRoom moves connectionID into roomID, removing it from any prior
// room first. Returns nil if roomID doesn't exist or is full.
func (s *Store) AddClientToRoom(ctx context.Context, connectionID, roomID string) *Room {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if !room.Add(connectionID) {
		s.mu.Unlock()
		return nil
	}
	if prev, had := s.reverse[connectionID]; had && prev != roomID {
		if prevRoom, ok := s.rooms[prev]; ok {
			if prevRoom.Remove(connectionID) {
				delete(s.rooms, prev)
			}
		}
	}
	s.reverse[connectionID] = roomID
	s.mu.Unlock()

	if conn, ok := s.Get(connectionID); ok {
		conn.setRoomID(roomID)
		conn.SetState(StateJoined)
	}
	if s.redis != nil {
		s.redis.SetConnectionRoom(ctx, connectionID, roomID)
	}
	return room
}

// LeaveRoom removes connectionID from its current room (deleting the room if
// that empties it) while leaving the connection itself registered, so it can
// rejoin or be placed in a different room later. Returns the room id it left,
// or "" if it wasn't in one.
func (s *Store) LeaveRoom(ctx context.Context, connectionID string) string {
	s.mu.Lock()
	roomID, had := s.reverse[connectionID]
	var deletedRoom string
	if had {
		delete(s.reverse, connectionID)
		if room, ok := s.rooms[roomID]; ok {
			if room.Remove(connectionID) {
				delete(s.rooms, roomID)
				deletedRoom = roomID
			}
		}
	}
	s.mu.Unlock()

	if !had {
		return ""
	}
	if conn, ok := s.Get(connectionID); ok {
		conn.setRoomID("")
		conn.SetState(StateConnected)
	}
	if s.redis != nil {
		s.redis.DeleteConnection(ctx, connectionID)
		if deletedRoom != "" {
			s.redis.DeleteRoom(ctx, deletedRoom)
		}
	}
	return roomID
}

// Cleanup sweeps every locally-registered connection and removes any that
// have gone dark. Run as a static tick task at a low cadence.
func (s *Store) Cleanup(ctx context.Context) int {
	removed := 0
	s.connections.Range(func(k, v interface{}) bool {
		conn := v.(*Connection)
		if !conn.IsConnected() {
			s.Remove(ctx, k.(string))
			removed++
		}
		return true
	})
	return removed
}
