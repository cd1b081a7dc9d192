// Package bridge implements the inter-process bridge: a Redis-backed shared
// ingress list plus a wake notification, so a packet addressed to a client
// attached to another process gets ferried across. Delivery is best-effort;
// per-list FIFO is the only ordering guarantee.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/altruist-gg/altruist/internal/codec"
	"github.com/altruist-gg/altruist/internal/errors"
	"github.com/altruist-gg/altruist/internal/logger"
	"github.com/altruist-gg/altruist/internal/monitoring"
	"github.com/altruist-gg/altruist/internal/packet"
)

const (
	ingressListKey     = "altruist:bridge:ingress"
	ingressNotifyTopic = "altruist:bridge:notify"

	// defaultRetryLimit bounds consecutive subscribe failures before Run
	// gives up and returns a fatal error; with the backoff capped at 30s
	// this allows several minutes of outage before the process exits.
	defaultRetryLimit = 15
)

// LocalDeliverer hands an inbound packet to the local router for delivery
// to a client attached to this process. internal/router.ClientSender
// satisfies this via SendLocal.
type LocalDeliverer interface {
	SendLocal(clientID string, p packet.Packet) error
}

// Bridge is the process's inter-process fan-out edge. Outbound pushes go
// through Push; Run drives the inbound subscribe-and-drain loop.
type Bridge struct {
	client    *redis.Client
	codec     codec.Codec
	processID string
	deliverer LocalDeliverer
	readiness *monitoring.Readiness
	log       *logger.Logger
	metrics   *monitoring.Metrics

	retryLimit int

	mu      sync.Mutex
	pending [][]byte // held when Redis is unreachable, flushed on reconnect
}

// New builds a Bridge. deliverer may be nil until wired post-construction
// via SetDeliverer, to break the router/bridge construction cycle.
func New(client *redis.Client, c codec.Codec, processID string, readiness *monitoring.Readiness, log *logger.Logger, metrics *monitoring.Metrics) *Bridge {
	return &Bridge{
		client:     client,
		codec:      c,
		processID:  processID,
		readiness:  readiness,
		log:        log,
		metrics:    metrics,
		retryLimit: defaultRetryLimit,
	}
}

// SetDeliverer installs the local delivery target for inbound messages.
func (b *Bridge) SetDeliverer(d LocalDeliverer) { b.deliverer = d }

// Push wraps p in an InterprocessPacket tagged with this process's id,
// pushes it onto the shared ingress list, and publishes a wake. If Redis is
// unreachable, the frame is held in a local queue and flushed on the next
// successful reconnect.
func (b *Bridge) Push(ctx context.Context, p packet.Packet) error {
	innerFrame, err := b.codec.Encode(p)
	if err != nil {
		return err
	}

	wrapper := &packet.InterprocessPacket{
		ProcessID: b.processID,
		InnerType: p.Type(),
		Inner:     innerFrame,
	}
	frame, err := b.codec.Encode(wrapper)
	if err != nil {
		return err
	}

	if err := b.client.LPush(ctx, ingressListKey, frame).Err(); err != nil {
		b.queuePending(frame)
		if b.log != nil {
			b.log.LogBridgeEvent("push", b.processID, err)
		}
		if b.readiness != nil {
			b.readiness.Set(monitoring.StateFailed, "bridge push failed: "+err.Error())
		}
		return err
	}
	if b.metrics != nil {
		if n, err := b.client.LLen(ctx, ingressListKey).Result(); err == nil {
			b.metrics.BridgeQueueDepth.Set(float64(n))
		}
	}
	return b.client.Publish(ctx, ingressNotifyTopic, "").Err()
}

// isOwnMessage reports whether wrapper was pushed by this same process and
// has now been echoed back.
func (b *Bridge) isOwnMessage(wrapper *packet.InterprocessPacket) bool {
	return wrapper.ProcessID == b.processID
}

func (b *Bridge) queuePending(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, frame)
}

// flushPending re-pushes anything queued while Redis was unreachable, once
// a reconnect is observed.
func (b *Bridge) flushPending(ctx context.Context) {
	b.mu.Lock()
	frames := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, f := range frames {
		if err := b.client.LPush(ctx, ingressListKey, f).Err(); err != nil {
			b.queuePending(f)
			return
		}
	}
	if len(frames) > 0 {
		b.client.Publish(ctx, ingressNotifyTopic, "")
	}
}

// Run subscribes to the ingress notification channel and, on every wake,
// drains the ingress list until empty, decoding and delivering each message
// locally. It blocks until ctx is cancelled, re-subscribing after any Redis
// disconnect with a capped backoff. Once retryLimit consecutive attempts
// fail, Run gives up and returns a fatal error — the caller is expected to
// exit the process non-zero.
func (b *Bridge) Run(ctx context.Context) error {
	backoff := time.Second
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := b.subscribeAndDrain(ctx); err != nil {
			failures++
			if b.log != nil {
				b.log.LogBridgeEvent("subscribe", b.processID,
					errors.NewTransientExternalError("redis", "bridge subscribe failed", err))
			}
			if b.readiness != nil {
				b.readiness.Set(monitoring.StateFailed, "bridge subscribe failed: "+err.Error())
			}
			if b.retryLimit > 0 && failures >= b.retryLimit {
				return errors.NewFatalExternalError("redis", "bridge retry policy exhausted", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}
		failures = 0
		backoff = time.Second
	}
}

func (b *Bridge) subscribeAndDrain(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return err
	}
	if b.readiness != nil {
		b.readiness.Set(monitoring.StateAlive, "bridge connected")
	}
	b.flushPending(ctx)

	sub := b.client.Subscribe(ctx, ingressNotifyTopic)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			b.drain(ctx)
		}
	}
}

// drain right-pops the ingress list until empty, delivering every message
// not originated by this process.
func (b *Bridge) drain(ctx context.Context) {
	for {
		val, err := b.client.RPop(ctx, ingressListKey).Result()
		if err == redis.Nil {
			return
		}
		if err != nil {
			if b.log != nil {
				b.log.LogBridgeEvent("drain", b.processID, err)
			}
			return
		}

		outer, err := b.codec.Decode([]byte(val))
		if err != nil {
			if b.log != nil {
				b.log.LogBridgeEvent("decode", b.processID, err)
			}
			continue
		}
		wrapper, ok := outer.(*packet.InterprocessPacket)
		if !ok {
			continue
		}
		if b.isOwnMessage(wrapper) {
			continue // own message, echoed back
		}

		inner, err := b.codec.Decode(wrapper.Inner)
		if err != nil {
			if b.log != nil {
				b.log.LogBridgeEvent("decode-inner", b.processID, err)
			}
			continue
		}
		if b.deliverer == nil {
			continue
		}
		if err := b.deliverer.SendLocal(inner.GetHeader().Receiver, inner); err != nil && b.log != nil {
			b.log.LogBridgeEvent("deliver-local", b.processID, err)
		}
	}
}
