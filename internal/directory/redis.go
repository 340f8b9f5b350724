package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/1ureka/pairline/internal/util"
)

const defaultTTL = 24 * time.Hour

func statusKey(sessionID string) string { return "session:" + sessionID }
func peersKey(sessionID string) string  { return "session:" + sessionID + ":peers" }

// Redis stores the directory in Redis so several relays and clients share it.
// Keys expire after ttl.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedis wraps client. A zero ttl uses 24h.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) MarkEnded(ctx context.Context, sessionID string) error {
	return r.set(ctx, sessionID, StatusEnded)
}

func (r *Redis) MarkAvailable(ctx context.Context, sessionID string) error {
	return r.set(ctx, sessionID, StatusAvailable)
}

func (r *Redis) set(ctx context.Context, sessionID, status string) error {
	if err := r.client.Set(ctx, statusKey(sessionID), status, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session status: %w", err)
	}
	util.LogDebug("session %s marked %s", sessionID, status)
	return nil
}

// Status returns the recorded availability of sessionID.
func (r *Redis) Status(ctx context.Context, sessionID string) (string, error) {
	status, err := r.client.Get(ctx, statusKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read session status: %w", err)
	}
	return status, nil
}

func (r *Redis) Join(ctx context.Context, sessionID, peerID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, peersKey(sessionID), peerID)
		pipe.Expire(ctx, peersKey(sessionID), r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record peer: %w", err)
	}
	return nil
}

func (r *Redis) Leave(ctx context.Context, sessionID, peerID string) error {
	if err := r.client.SRem(ctx, peersKey(sessionID), peerID).Err(); err != nil {
		return fmt.Errorf("failed to remove peer: %w", err)
	}
	return nil
}
