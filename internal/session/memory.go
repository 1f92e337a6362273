package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/legalmeet/intake/pkg/protocol"
)

// MemoryStore keeps sessions in process memory. Each session has its own
// mutex so operations on different addresses do not contend beyond a short
// map lookup.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	closed   bool

	turnMu sync.Mutex
	turns  map[string]*turnLock

	now    func() time.Time
	logger *slog.Logger
}

type entry struct {
	mu    sync.Mutex
	s     Session
	gone  bool
	timer *time.Timer
}

type turnLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithClock overrides the time source used for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *MemoryStore) { m.now = now }
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(m *MemoryStore) { m.logger = logger }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	m := &MemoryStore{
		sessions: make(map[string]*entry),
		turns:    make(map[string]*turnLock),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

func mustAddress(address string) {
	if address == "" {
		panic("session: empty address")
	}
}

func (m *MemoryStore) lookup(address string, create bool) *entry {
	m.mu.RLock()
	e := m.sessions[address]
	m.mu.RUnlock()
	if e != nil || !create {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e = m.sessions[address]; e != nil {
		return e
	}
	now := m.now()
	e = &entry{s: Session{
		ID:             uuid.NewString(),
		Address:        address,
		State:          StateChatting,
		StartedAt:      now,
		LastActivityAt: now,
	}}
	m.sessions[address] = e
	m.logger.Debug("session created", "address", address, "session_id", e.s.ID)
	return e
}

// with runs fn on the live session at address under its entry lock. When
// the entry is deleted between lookup and lock, it retries against the
// replacement.
func (m *MemoryStore) with(address string, create bool, fn func(*entry)) bool {
	mustAddress(address)
	for {
		e := m.lookup(address, create)
		if e == nil {
			return false
		}
		e.mu.Lock()
		if e.gone {
			e.mu.Unlock()
			continue
		}
		fn(e)
		e.mu.Unlock()
		return true
	}
}

// Get returns a copy of the session at address, creating it if absent.
func (m *MemoryStore) Get(address string) Session {
	var out Session
	m.with(address, true, func(e *entry) { out = e.s.clone() })
	return out
}

// Append adds a transcript entry and refreshes the activity timestamp.
func (m *MemoryStore) Append(address string, role protocol.Role, content string) {
	m.with(address, true, func(e *entry) {
		e.s.Messages = append(e.s.Messages, protocol.ChatMessage{Role: role, Content: content})
		e.s.LastActivityAt = m.now()
	})
}

// SetState moves the session to state.
func (m *MemoryStore) SetState(address string, state State) {
	m.with(address, true, func(e *entry) {
		e.s.State = state
		e.s.LastActivityAt = m.now()
	})
}

// MergeDraft overwrites draft fields that are non-empty in patch.
func (m *MemoryStore) MergeDraft(address string, patch Draft) {
	m.with(address, true, func(e *entry) {
		e.s.Draft.Merge(patch)
		e.s.LastActivityAt = m.now()
	})
}

// IsNew reports whether the address has no session or an empty transcript.
func (m *MemoryStore) IsNew(address string) bool {
	isNew := true
	m.with(address, false, func(e *entry) { isNew = len(e.s.Messages) == 0 })
	return isNew
}

// Clear deletes the session at address and cancels its pending clear.
func (m *MemoryStore) Clear(address string) {
	mustAddress(address)
	m.mu.Lock()
	e := m.sessions[address]
	delete(m.sessions, address)
	m.mu.Unlock()
	if e == nil {
		return
	}
	e.mu.Lock()
	e.gone = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.mu.Unlock()
	m.logger.Debug("session cleared", "address", address, "session_id", e.s.ID)
}

// ScheduleClear deletes the current session lifetime at address after delay.
// Scheduling again for the same lifetime replaces the earlier timer. A
// session that is gone, or was replaced by a new lifetime, is left alone.
func (m *MemoryStore) ScheduleClear(address string, delay time.Duration) {
	mustAddress(address)
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return
	}
	m.with(address, false, func(e *entry) {
		if e.timer != nil {
			e.timer.Stop()
		}
		id := e.s.ID
		e.timer = time.AfterFunc(delay, func() { m.clearLifetime(address, id) })
	})
}

func (m *MemoryStore) clearLifetime(address, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.sessions[address]
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone || e.s.ID != id {
		return
	}
	delete(m.sessions, address)
	e.gone = true
	e.timer = nil
	m.logger.Info("session cleared after grace delay", "address", address, "session_id", id)
}

// Lock acquires the per-address turn lock. Turn locks are reference counted
// and dropped once no handler holds or waits for them.
func (m *MemoryStore) Lock(address string) func() {
	mustAddress(address)
	m.turnMu.Lock()
	t := m.turns[address]
	if t == nil {
		t = &turnLock{}
		m.turns[address] = t
	}
	t.refs++
	m.turnMu.Unlock()

	t.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Unlock()
			m.turnMu.Lock()
			t.refs--
			if t.refs == 0 {
				delete(m.turns, address)
			}
			m.turnMu.Unlock()
		})
	}
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Snapshot lists every session, most recently active first.
func (m *MemoryStore) Snapshot() []Summary {
	m.mu.RLock()
	out := make([]Summary, 0, len(m.sessions))
	for _, e := range m.sessions {
		e.mu.Lock()
		out = append(out, Summary{
			Address:        e.s.Address,
			Messages:       len(e.s.Messages),
			State:          e.s.State,
			StartedAt:      e.s.StartedAt,
			LastActivityAt: e.s.LastActivityAt,
		})
		e.mu.Unlock()
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out
}

// SweepIdle deletes sessions whose last activity is older than ttl and
// returns how many were removed.
func (m *MemoryStore) SweepIdle(now time.Time, ttl time.Duration) int {
	cutoff := now.Add(-ttl)
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for address, e := range m.sessions {
		e.mu.Lock()
		if e.s.LastActivityAt.Before(cutoff) {
			delete(m.sessions, address)
			e.gone = true
			if e.timer != nil {
				e.timer.Stop()
				e.timer = nil
			}
			removed++
		}
		e.mu.Unlock()
	}
	if removed > 0 {
		m.logger.Info("idle sessions swept", "removed", removed, "remaining", len(m.sessions))
	}
	return removed
}

// SweepStuck resets sessions idle longer than ttl in a non-chatting state
// back to chatting. Transcripts are left intact. It returns the number of
// sessions recovered.
func (m *MemoryStore) SweepStuck(now time.Time, ttl time.Duration) int {
	cutoff := now.Add(-ttl)
	m.mu.RLock()
	defer m.mu.RUnlock()

	recovered := 0
	for address, e := range m.sessions {
		e.mu.Lock()
		if e.s.State != StateChatting && e.s.LastActivityAt.Before(cutoff) {
			m.logger.Warn("stuck session reset",
				"address", address,
				"state", e.s.State,
				"idle", now.Sub(e.s.LastActivityAt).Round(time.Second).String(),
			)
			e.s.State = StateChatting
			recovered++
		}
		e.mu.Unlock()
	}
	return recovered
}

// Close stops every pending delayed clear. Later ScheduleClear calls are
// ignored.
func (m *MemoryStore) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, e := range m.sessions {
		e.mu.Lock()
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.mu.Unlock()
	}
}

var _ Store = (*MemoryStore)(nil)
