// Package ws implements the WebSocket transport surface: a handshake that
// assigns a connectionId, a per-connection read/write pump pair, and a gate
// registry binding packet-type discriminators to handler functions.
package ws

import (
	"context"
	"sync"

	"github.com/altruist-gg/altruist/internal/errors"
	"github.com/altruist-gg/altruist/internal/packet"
)

// Gate is a handler bound to one packet type discriminator. connectionID
// identifies the caller.
type Gate func(ctx context.Context, connectionID string, p packet.Packet) error

// GateRegistry maps packet-type discriminators to their bound Gate.
// Registration fails for a duplicate event name.
type GateRegistry struct {
	mu    sync.RWMutex
	gates map[string]Gate
}

// NewGateRegistry builds an empty registry.
func NewGateRegistry() *GateRegistry {
	return &GateRegistry{gates: make(map[string]Gate)}
}

// Register binds fn to eventType, failing if eventType is already bound.
func (r *GateRegistry) Register(eventType string, fn Gate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.gates[eventType]; exists {
		return errors.NewValidationError("DUPLICATE_GATE", "gate already registered", eventType)
	}
	r.gates[eventType] = fn
	return nil
}

// Dispatch invokes the gate bound to p.Type(), if any. ok is false when no
// gate is registered for this packet's discriminator.
func (r *GateRegistry) Dispatch(ctx context.Context, connectionID string, p packet.Packet) (ok bool, err error) {
	r.mu.RLock()
	fn, exists := r.gates[p.Type()]
	r.mu.RUnlock()
	if !exists {
		return false, nil
	}
	return true, fn(ctx, connectionID, p)
}
