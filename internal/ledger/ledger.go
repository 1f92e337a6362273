// Package ledger holds the append-only logs written when a case is
// registered and when an appointment is booked, plus the aggregate views
// the admin API reads. Entries are never modified once appended.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/legalmeet/intake/pkg/protocol"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("ledger: not found")

// CaseLog records registered cases.
type CaseLog interface {
	AppendCase(ctx context.Context, rec protocol.CaseRecord) error
	// ListCases returns up to limit cases, newest first. limit <= 0 means all.
	ListCases(ctx context.Context, limit int) ([]protocol.CaseRecord, error)
	Stats(ctx context.Context, now time.Time) (*Stats, error)
}

// AppointmentLog records booked appointments.
type AppointmentLog interface {
	AppendAppointment(ctx context.Context, apt protocol.Appointment) error
	// ListAppointments returns every appointment, newest first.
	ListAppointments(ctx context.Context) ([]protocol.Appointment, error)
	// FindAppointment returns the appointment booked for a case reference.
	FindAppointment(ctx context.Context, referenceID string) (*protocol.Appointment, error)
	AppointmentStats(ctx context.Context, now time.Time) (*AppointmentStats, error)
}

// Ledger is both logs behind one backend.
type Ledger interface {
	CaseLog
	AppointmentLog
	Close() error
}
