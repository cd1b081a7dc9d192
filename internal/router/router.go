// Package router implements the message plane: unicast, room-cast,
// broadcast and delta-sync senders layered on the connection store. Writes
// to a single connection are serialized by the transport layer; the router
// imposes no ordering of its own.
package router

import (
	"context"
	"fmt"

	"github.com/altruist-gg/altruist/internal/codec"
	"github.com/altruist-gg/altruist/internal/logger"
	"github.com/altruist-gg/altruist/internal/monitoring"
	"github.com/altruist-gg/altruist/internal/packet"
	"github.com/altruist-gg/altruist/internal/store"
)

// Bridge is the inter-process fan-out collaborator a ClientSender falls
// back to when its target isn't attached to this process. The concrete
// implementation lives in internal/bridge; accepting the interface here
// keeps the router ignorant of Redis.
type Bridge interface {
	Push(ctx context.Context, p packet.Packet) error
}

// ClientSender is the unicast send primitive.
type ClientSender struct {
	store   *store.Store
	codec   codec.Codec
	bridge  Bridge // nil when no inter-process bridge is configured
	log     *logger.Logger
	metrics *monitoring.Metrics
}

// NewClientSender builds a ClientSender. bridge may be nil.
func NewClientSender(s *store.Store, c codec.Codec, bridge Bridge, log *logger.Logger, metrics *monitoring.Metrics) *ClientSender {
	return &ClientSender{store: s, codec: c, bridge: bridge, log: log, metrics: metrics}
}

// Send resolves clientID in the store; if it's locally attached and
// connected, encodes and writes p directly. Otherwise, if a bridge is
// configured, the packet is handed off for cross-process delivery; with no
// bridge, the send fails.
func (c *ClientSender) Send(ctx context.Context, clientID string, p packet.Packet) error {
	conn, ok := c.store.Get(clientID)
	if ok && conn.IsConnected() {
		frame, err := c.codec.Encode(p)
		if err != nil {
			return fmt.Errorf("router: encode %s for %s: %w", p.Type(), clientID, err)
		}
		if err := conn.Sender.Send(frame); err != nil {
			if c.log != nil {
				c.log.LogDeliveryEvent("client-send", clientID, err)
			}
			return err
		}
		return nil
	}

	if c.bridge == nil {
		return fmt.Errorf("router: client %s not locally attached and no bridge configured", clientID)
	}
	return c.bridge.Push(ctx, p)
}

// SendLocal behaves like Send but never falls back to the bridge — used by
// the bridge's own inbound drain loop to avoid re-bridging a message that
// just arrived from another process and still isn't locally attached.
func (c *ClientSender) SendLocal(clientID string, p packet.Packet) error {
	conn, ok := c.store.Get(clientID)
	if !ok || !conn.IsConnected() {
		return fmt.Errorf("router: client %s not locally attached", clientID)
	}
	frame, err := c.codec.Encode(p)
	if err != nil {
		return fmt.Errorf("router: encode %s for %s: %w", p.Type(), clientID, err)
	}
	return conn.Sender.Send(frame)
}

// RoomSender fans a packet out to every member of one room.
type RoomSender struct {
	store  *store.Store
	client *ClientSender
}

// NewRoomSender builds a RoomSender delegating individual sends to client.
func NewRoomSender(s *store.Store, client *ClientSender) *RoomSender {
	return &RoomSender{store: s, client: client}
}

// Send enumerates roomID's membership and delegates to ClientSender for
// each, stamping each outbound header's receiver so the recipient can tell
// a direct message from fan-out. Returns the number of connections attempted
// and the first error encountered, if any.
func (r *RoomSender) Send(ctx context.Context, roomID string, p packet.Packet) (int, error) {
	ids, ok := r.store.ConnectionsInRoom(roomID)
	if !ok {
		return 0, fmt.Errorf("router: room %s not found", roomID)
	}

	var firstErr error
	for _, id := range ids {
		p.SetReceiver(id)
		if err := r.client.Send(ctx, id, p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return len(ids), firstErr
}

// BroadcastSender fans a packet out to every locally-known connection.
type BroadcastSender struct {
	store  *store.Store
	client *ClientSender
}

// NewBroadcastSender builds a BroadcastSender delegating to client.
func NewBroadcastSender(s *store.Store, client *ClientSender) *BroadcastSender {
	return &BroadcastSender{store: s, client: client}
}

// Send delivers p to every locally-known connection except excludeClientID
// (pass "" to exclude none), stamping each recipient id into the header
// before delegating.
func (b *BroadcastSender) Send(ctx context.Context, p packet.Packet, excludeClientID string) (int, error) {
	ids := b.store.AllIDs()
	sent := 0
	var firstErr error
	for _, id := range ids {
		if id == excludeClientID {
			continue
		}
		p.SetReceiver(id)
		if err := b.client.Send(ctx, id, p); err != nil && firstErr == nil {
			firstErr = err
		}
		sent++
	}
	return sent, firstErr
}
