package router

import (
	"context"

	"github.com/altruist-gg/altruist/internal/packet"
	"github.com/altruist-gg/altruist/internal/syncmeta"
)

// SyncEngine is the subset of syncmeta.Engine the synchronizator depends on.
type SyncEngine interface {
	GetChangedData(entityType, clientID string, entity interface{}, currentTick int64, forceAll bool) (syncmeta.Bitset, map[string]interface{})
}

// TickClock supplies the process-global frequency clock the sync metadata
// engine reads.
type TickClock interface {
	CurrentTick() int64
}

// SyncEntity is any object exposing the connectionId the sync metadata
// engine uses as its per-client cursor key — the entity is considered to
// "belong" to the client it was last synced against.
type SyncEntity interface {
	ConnectionID() string
}

// ClientSynchronizator is the delta-sync sender: it does not address a
// single recipient directly — the diff cursor is keyed by the entity's own
// connection id, and the resulting SyncPacket is broadcast so every other
// recipient reads the same delta.
type ClientSynchronizator struct {
	sync      SyncEngine
	clock     TickClock
	broadcast *BroadcastSender
}

// NewClientSynchronizator builds a ClientSynchronizator.
func NewClientSynchronizator(sync SyncEngine, clock TickClock, broadcast *BroadcastSender) *ClientSynchronizator {
	return &ClientSynchronizator{sync: sync, clock: clock, broadcast: broadcast}
}

// Send computes entity's changed fields since its last sync and, if
// anything changed, broadcasts a SyncPacket carrying just those fields.
// Returns without emitting if the diff is empty.
func (s *ClientSynchronizator) Send(ctx context.Context, entityType string, entity SyncEntity, forceAll bool) error {
	mask, changed := s.sync.GetChangedData(entityType, entity.ConnectionID(), entity, s.clock.CurrentTick(), forceAll)
	if mask == nil || !mask.AnySet() {
		return nil
	}

	p := &packet.SyncPacket{
		Base:       packet.Base{Header: packet.Header{Sender: "server"}},
		EntityType: entityType,
		Data:       changed,
	}
	_, err := s.broadcast.Send(ctx, p, "")
	return err
}
