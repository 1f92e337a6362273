// Package dedupe drops inbound messages the channel delivers more than
// once. Messaging platforms retry webhooks that were slow to acknowledge,
// so the same message id can arrive again while the first copy is still
// being handled.
package dedupe

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a message id is remembered.
const DefaultTTL = 10 * time.Minute

// Deduper remembers message ids.
type Deduper interface {
	// Seen records id and reports whether it had already been recorded
	// within the TTL. An empty id is never a duplicate.
	Seen(ctx context.Context, id string) (bool, error)
	Close() error
}

// Memory is a process-local Deduper.
type Memory struct {
	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex
	seen  map[string]time.Time
	sweep time.Time
}

// NewMemory creates a Deduper remembering ids for ttl (DefaultTTL if <= 0).
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (m *Memory) Seen(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.sweep) > m.ttl {
		for k, at := range m.seen {
			if now.Sub(at) > m.ttl {
				delete(m.seen, k)
			}
		}
		m.sweep = now
	}

	if at, ok := m.seen[id]; ok && now.Sub(at) <= m.ttl {
		return true, nil
	}
	m.seen[id] = now
	return false, nil
}

// Len returns the number of remembered ids, expired ones included until
// the next sweep.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

func (m *Memory) Close() error { return nil }
