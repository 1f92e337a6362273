// Package random provides the seedable random source shared by components
// that vary their output: reference suffixes, price jitter and reply
// phrasing. Tests pass a fixed seed to get exact output.
package random

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Source is the subset of *rand.Rand the components use.
type Source interface {
	IntN(n int) int
	Float64() float64
}

// Locked is a Source safe for concurrent use.
type Locked struct {
	mu sync.Mutex
	r  *rand.Rand
}

// New returns a source seeded with seed.
func New(seed uint64) *Locked {
	return &Locked{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewTimeSeeded returns a source seeded from the wall clock.
func NewTimeSeeded() *Locked {
	return New(uint64(time.Now().UnixNano()))
}

func (l *Locked) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

func (l *Locked) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// Pick returns one of options. A nil src always picks the first.
func Pick(src Source, options []string) string {
	if len(options) == 0 {
		return ""
	}
	if src == nil {
		return options[0]
	}
	return options[src.IntN(len(options))]
}
