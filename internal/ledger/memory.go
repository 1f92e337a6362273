package ledger

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/legalmeet/intake/pkg/protocol"
)

// MemoryLedger keeps both logs in process memory.
type MemoryLedger struct {
	mu           sync.RWMutex
	cases        []protocol.CaseRecord
	appointments []protocol.Appointment
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (l *MemoryLedger) AppendCase(_ context.Context, rec protocol.CaseRecord) error {
	l.mu.Lock()
	l.cases = append(l.cases, rec)
	l.mu.Unlock()
	return nil
}

func (l *MemoryLedger) ListCases(_ context.Context, limit int) ([]protocol.CaseRecord, error) {
	l.mu.RLock()
	out := slices.Clone(l.cases)
	l.mu.RUnlock()

	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemoryLedger) Stats(_ context.Context, now time.Time) (*Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return ComputeStats(l.cases, now), nil
}

func (l *MemoryLedger) AppendAppointment(_ context.Context, apt protocol.Appointment) error {
	l.mu.Lock()
	l.appointments = append(l.appointments, apt)
	l.mu.Unlock()
	return nil
}

func (l *MemoryLedger) ListAppointments(_ context.Context) ([]protocol.Appointment, error) {
	l.mu.RLock()
	out := slices.Clone(l.appointments)
	l.mu.RUnlock()
	slices.Reverse(out)
	return out, nil
}

func (l *MemoryLedger) FindAppointment(_ context.Context, referenceID string) (*protocol.Appointment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.appointments) - 1; i >= 0; i-- {
		if l.appointments[i].ReferenceID == referenceID {
			apt := l.appointments[i]
			return &apt, nil
		}
	}
	return nil, ErrNotFound
}

func (l *MemoryLedger) AppointmentStats(_ context.Context, now time.Time) (*AppointmentStats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return ComputeAppointmentStats(l.appointments, now), nil
}

func (l *MemoryLedger) Close() error { return nil }

var _ Ledger = (*MemoryLedger)(nil)
