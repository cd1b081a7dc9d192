package router

import (
	"context"
	"hash/fnv"
	"strconv"

	"github.com/altruist-gg/altruist/internal/packet"
)

// TaskEngine is the subset of tick.Engine the engine-routed sender depends
// on — SendTask's dedup-by-key semantics.
type TaskEngine interface {
	SendTask(taskID string, fn func(ctx context.Context) error)
}

// EngineRouter is the engine-routed sender: instead of sending immediately,
// Send enqueues a dynamic task keyed by hash(clientId, packet type) into
// the tick engine, so a flurry of updates for the same (client, packet
// type) pair within one tick collapses to the latest.
type EngineRouter struct {
	engine TaskEngine
	client *ClientSender
}

// NewEngineRouter builds an EngineRouter that enqueues sends onto engine and
// executes them via client.
func NewEngineRouter(engine TaskEngine, client *ClientSender) *EngineRouter {
	return &EngineRouter{engine: engine, client: client}
}

// Send enqueues p for delivery to clientID on the tick engine's next
// iteration, deduplicated by (clientID, packet type).
func (r *EngineRouter) Send(clientID string, p packet.Packet) {
	key := dynamicTaskKey(clientID, p.Type())
	r.engine.SendTask(key, func(ctx context.Context) error {
		return r.client.Send(ctx, clientID, p)
	})
}

// dynamicTaskKey hashes the (clientID, packetType) pair into a task key.
func dynamicTaskKey(clientID, packetType string) string {
	h := fnv.New64a()
	h.Write([]byte(clientID))
	h.Write([]byte{0})
	h.Write([]byte(packetType))
	return strconv.FormatUint(h.Sum64(), 16)
}
