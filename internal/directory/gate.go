package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrDenied is returned by Wait when the peer was refused admission.
var ErrDenied = errors.New("admission denied")

const (
	verdictAdmit = "admit"
	verdictDeny  = "deny"
)

// Gate blocks until a peer is admitted to a session.
type Gate interface {
	Wait(ctx context.Context, sessionID, peerID string) error
}

// Admitter lists the peers waiting at a gate and posts their verdicts.
type Admitter interface {
	Pending(ctx context.Context, sessionID string) ([]string, error)
	Admit(ctx context.Context, sessionID, peerID string) error
	Deny(ctx context.Context, sessionID, peerID string) error
}

// OpenGate admits everyone immediately.
type OpenGate struct{}

func (OpenGate) Wait(ctx context.Context, _, _ string) error { return ctx.Err() }

// ---------------------------------------------------------------------------
// MemoryGate
// ---------------------------------------------------------------------------

// MemoryGate is an in-process gate. A verdict posted before Wait is kept.
type MemoryGate struct {
	mu       sync.Mutex
	verdicts map[string]chan string
	waiting  map[string]map[string]struct{}
}

func NewMemoryGate() *MemoryGate {
	return &MemoryGate{
		verdicts: make(map[string]chan string),
		waiting:  make(map[string]map[string]struct{}),
	}
}

func (g *MemoryGate) slot(sessionID, peerID string) chan string {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := admitKey(sessionID, peerID)
	ch, ok := g.verdicts[key]
	if !ok {
		ch = make(chan string, 1)
		g.verdicts[key] = ch
	}
	return ch
}

func (g *MemoryGate) Pending(_ context.Context, sessionID string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	peers := make([]string, 0, len(g.waiting[sessionID]))
	for id := range g.waiting[sessionID] {
		peers = append(peers, id)
	}
	sort.Strings(peers)
	return peers, nil
}

func (g *MemoryGate) Admit(_ context.Context, sessionID, peerID string) error {
	g.post(sessionID, peerID, verdictAdmit)
	return nil
}

func (g *MemoryGate) Deny(_ context.Context, sessionID, peerID string) error {
	g.post(sessionID, peerID, verdictDeny)
	return nil
}

func (g *MemoryGate) post(sessionID, peerID, verdict string) {
	select {
	case g.slot(sessionID, peerID) <- verdict:
	default:
	}
}

func (g *MemoryGate) setWaiting(sessionID, peerID string, waiting bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !waiting {
		delete(g.waiting[sessionID], peerID)
		return
	}
	if g.waiting[sessionID] == nil {
		g.waiting[sessionID] = make(map[string]struct{})
	}
	g.waiting[sessionID][peerID] = struct{}{}
}

func (g *MemoryGate) Wait(ctx context.Context, sessionID, peerID string) error {
	g.setWaiting(sessionID, peerID, true)
	defer g.setWaiting(sessionID, peerID, false)

	select {
	case v := <-g.slot(sessionID, peerID):
		return verdictErr(v)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// RedisGate
// ---------------------------------------------------------------------------

func admitKey(sessionID, peerID string) string {
	return "session:" + sessionID + ":admit:" + peerID
}

func pendingKey(sessionID string) string { return "session:" + sessionID + ":pending" }

// RedisGate waits for a verdict pushed to session:<id>:admit:<peer> by the
// host. Waiting peers are listed in the set session:<id>:pending.
type RedisGate struct {
	client *redis.Client
	poll   time.Duration
}

// NewRedisGate creates a gate over client. poll bounds each BLPOP so ctx
// cancellation is noticed; zero uses 5s.
func NewRedisGate(client *redis.Client, poll time.Duration) *RedisGate {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &RedisGate{client: client, poll: poll}
}

func (g *RedisGate) Pending(ctx context.Context, sessionID string) ([]string, error) {
	peers, err := g.client.SMembers(ctx, pendingKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting peers: %w", err)
	}
	sort.Strings(peers)
	return peers, nil
}

func (g *RedisGate) Admit(ctx context.Context, sessionID, peerID string) error {
	return g.push(ctx, sessionID, peerID, verdictAdmit)
}

func (g *RedisGate) Deny(ctx context.Context, sessionID, peerID string) error {
	return g.push(ctx, sessionID, peerID, verdictDeny)
}

func (g *RedisGate) push(ctx context.Context, sessionID, peerID, verdict string) error {
	key := admitKey(sessionID, peerID)
	_, err := g.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, verdict)
		pipe.Expire(ctx, key, defaultTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to post admission verdict: %w", err)
	}
	return nil
}

func (g *RedisGate) Wait(ctx context.Context, sessionID, peerID string) error {
	pending := pendingKey(sessionID)
	_, err := g.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, pending, peerID)
		pipe.Expire(ctx, pending, defaultTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to register as waiting: %w", err)
	}
	defer g.client.SRem(context.WithoutCancel(ctx), pending, peerID)

	key := admitKey(sessionID, peerID)
	for {
		res, err := g.client.BLPop(ctx, g.poll, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to wait for admission: %w", err)
		}
		// BLPOP returns [key, value].
		return verdictErr(res[1])
	}
}

func verdictErr(v string) error {
	if v == verdictAdmit {
		return nil
	}
	return ErrDenied
}
