package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/altruist-gg/altruist/internal/logger"
)

// RedisTier is the shared (cross-process) tier of the two-tier store.
// It only ever records bookkeeping — connection→room membership and
// room capacity — never a live socket, which can't be shared across
// processes. Write-through failures are logged and swallowed: local state
// stays authoritative for the owning process, and the next mutation retries.
type RedisTier struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisTier wraps an existing *redis.Client.
func NewRedisTier(client *redis.Client, log *logger.Logger) *RedisTier {
	return &RedisTier{client: client, log: log}
}

func connKey(id string) string { return "altruist:conn:" + id }
func roomKey(id string) string { return "altruist:room:" + id }

// SetConnectionRoom write-throughs a connection's room assignment.
func (t *RedisTier) SetConnectionRoom(ctx context.Context, connectionID, roomID string) {
	if err := t.client.Set(ctx, connKey(connectionID), roomID, 0).Err(); err != nil {
		t.log.LogDeliveryEvent("redis-set-conn-room", connectionID, err)
	}
}

// DeleteConnection removes a connection's bookkeeping entry.
func (t *RedisTier) DeleteConnection(ctx context.Context, connectionID string) {
	if err := t.client.Del(ctx, connKey(connectionID)).Err(); err != nil {
		t.log.LogDeliveryEvent("redis-del-conn", connectionID, err)
	}
}

// GetConnectionRoom rehydrates a connection's room id from the shared tier.
func (t *RedisTier) GetConnectionRoom(ctx context.Context, connectionID string) (string, bool) {
	val, err := t.client.Get(ctx, connKey(connectionID)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		t.log.LogDeliveryEvent("redis-get-conn-room", connectionID, err)
		return "", false
	}
	return val, true
}

// SaveRoom write-throughs a room's capacity.
func (t *RedisTier) SaveRoom(ctx context.Context, roomID string, capacity int) {
	if err := t.client.Set(ctx, roomKey(roomID), strconv.Itoa(capacity), 0).Err(); err != nil {
		t.log.LogDeliveryEvent("redis-save-room", roomID, err)
	}
}

// GetRoomCapacity rehydrates a room's capacity from the shared tier.
func (t *RedisTier) GetRoomCapacity(ctx context.Context, roomID string) (int, bool) {
	val, err := t.client.Get(ctx, roomKey(roomID)).Result()
	if err == redis.Nil {
		return 0, false
	}
	if err != nil {
		t.log.LogDeliveryEvent("redis-get-room", roomID, err)
		return 0, false
	}
	capacity, convErr := strconv.Atoi(val)
	if convErr != nil {
		return 0, false
	}
	return capacity, true
}

// DeleteRoom removes a room's bookkeeping entry once it empties out.
func (t *RedisTier) DeleteRoom(ctx context.Context, roomID string) {
	if err := t.client.Del(ctx, roomKey(roomID)).Err(); err != nil {
		t.log.LogDeliveryEvent("redis-del-room", roomID, err)
	}
}

// Ping is used by the readiness ComponentCheck for the shared tier.
func (t *RedisTier) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return t.client.Ping(pingCtx).Err()
}
