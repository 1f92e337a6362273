package logbuf

import (
	"log/slog"
	"sync"
	"time"
)

// AddressKey is the attribute that ties a log entry to a conversation.
const AddressKey = "address"

// DefaultSize is the buffer capacity used when New is given none.
const DefaultSize = 2000

// Entry is a single log entry captured from slog.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Address string         `json:"address,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Filter selects entries in Query. Zero fields match everything.
type Filter struct {
	Since    time.Time
	MinLevel slog.Level
	// Address keeps only entries logged for one conversation.
	Address string
	// Limit keeps the newest Limit matches when > 0.
	Limit int
}

// Buffer is a thread-safe ring buffer for log entries.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	pos     int
	count   int
}

// New creates a new ring buffer that holds up to size entries.
func New(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Buffer{
		entries: make([]Entry, size),
		size:    size,
	}
}

// Write appends an entry to the ring buffer.
func (b *Buffer) Write(e Entry) {
	b.mu.Lock()
	b.entries[b.pos] = e
	b.pos = (b.pos + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	b.mu.Unlock()
}

// Query returns entries matching f, oldest first.
func (b *Buffer) Query(f Filter) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result []Entry

	// Walk the ring buffer oldest-first
	start := 0
	n := b.count
	if b.count == b.size {
		start = b.pos // oldest entry when buffer is full
	}

	for i := 0; i < n; i++ {
		idx := (start + i) % b.size
		e := b.entries[idx]

		if !f.Since.IsZero() && e.Time.Before(f.Since) {
			continue
		}
		if lvl, _ := ParseLevel(e.Level); lvl < f.MinLevel {
			continue
		}
		if f.Address != "" && e.Address != f.Address {
			continue
		}
		result = append(result, e)
	}

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[len(result)-f.Limit:]
	}
	return result
}

// Len returns the number of entries held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// ParseLevel parses a level name as used in query strings ("warn",
// "ERROR"). Unknown names yield Info and false.
func ParseLevel(s string) (slog.Level, bool) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, false
	}
	return l, true
}
