// Package store implements the connection and room registry: a two-tier
// store (process-local plus an optional Redis shared tier) that tracks live
// connections, room membership, and the connection→room reverse index. Hot
// per-connection state uses sync.Map and atomics; room/reverse-index
// bookkeeping, which always needs multi-key consistency, uses a
// mutex-guarded map instead.
package store

import (
	"sync/atomic"
	"time"
)

// Sender is the minimal capability the store needs from a transport-layer
// connection: write an already-encoded frame, or close it. The concrete
// implementation (internal/transport/ws) is never imported here.
type Sender interface {
	Send(frame []byte) error
	Close() error
}

// TransportKind identifies the wire transport a Connection was accepted on.
type TransportKind string

const (
	TransportWS  TransportKind = "ws"
	TransportTCP TransportKind = "tcp"
	TransportUDP TransportKind = "udp"
)

// State is the connection lifecycle state: Connected right after handshake,
// Joined once the client has been placed in a room.
type State int32

const (
	StateConnected State = iota
	StateJoined
)

// Connection is one registered client. Hot fields (IsConnected, LastActivity,
// connection state) are accessed from the read/write pumps on every frame, so
// they're plain atomics rather than mutex-guarded.
type Connection struct {
	ID            string
	Sender        Sender
	TransportKind TransportKind
	AuthDetails   string // opaque; the engine never validates it

	isConnected  atomic.Bool
	lastActivity atomic.Int64 // unix nanos
	roomID       atomic.Value // string, "" when unassigned
	state        atomic.Int32
}

// NewConnection wraps sender as a live Connection accepted over transportKind.
func NewConnection(id string, sender Sender, transportKind TransportKind) *Connection {
	c := &Connection{ID: id, Sender: sender, TransportKind: transportKind}
	c.isConnected.Store(true)
	c.lastActivity.Store(time.Now().UnixNano())
	c.roomID.Store("")
	c.state.Store(int32(StateConnected))
	return c
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// SetState transitions the connection's lifecycle state (e.g. to StateJoined
// once it has been placed in a room).
func (c *Connection) SetState(s State) { c.state.Store(int32(s)) }

func (c *Connection) IsConnected() bool { return c.isConnected.Load() }

func (c *Connection) MarkDisconnected() { c.isConnected.Store(false) }

func (c *Connection) Touch() { c.lastActivity.Store(time.Now().UnixNano()) }

func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// RoomID returns the connection's current room, or "" if unassigned.
func (c *Connection) RoomID() string {
	if v, ok := c.roomID.Load().(string); ok {
		return v
	}
	return ""
}

func (c *Connection) setRoomID(id string) { c.roomID.Store(id) }
