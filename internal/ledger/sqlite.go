package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/legalmeet/intake/pkg/protocol"
)

// SQLiteLedger implements Ledger using SQLite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens (or creates) a SQLite database and runs migrations.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: wal: %w", err)
	}

	l := &SQLiteLedger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLedger) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS cases (
			seq               INTEGER PRIMARY KEY AUTOINCREMENT,
			reference_id      TEXT NOT NULL UNIQUE,
			category          TEXT NOT NULL,
			urgency           TEXT NOT NULL,
			created_at        TEXT NOT NULL,
			estimated_revenue INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS appointments (
			seq            INTEGER PRIMARY KEY AUTOINCREMENT,
			id             TEXT NOT NULL UNIQUE,
			reference_id   TEXT NOT NULL,
			user_address   TEXT NOT NULL,
			name           TEXT NOT NULL,
			email          TEXT NOT NULL,
			category       TEXT NOT NULL DEFAULT '',
			urgency        TEXT NOT NULL DEFAULT '',
			preferred_date TEXT NOT NULL DEFAULT '',
			preferred_time TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL DEFAULT 'PENDING',
			created_at     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_cases_created_at ON cases(created_at);
		CREATE INDEX IF NOT EXISTS idx_appointments_reference ON appointments(reference_id);
	`)
	if err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) AppendCase(ctx context.Context, rec protocol.CaseRecord) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO cases (reference_id, category, urgency, created_at, estimated_revenue)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ReferenceID, string(rec.Category), string(rec.Urgency),
		rec.CreatedAt.UTC().Format(time.RFC3339), rec.EstimatedRevenue)
	if err != nil {
		return fmt.Errorf("ledger: append case: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) ListCases(ctx context.Context, limit int) ([]protocol.CaseRecord, error) {
	query := "SELECT reference_id, category, urgency, created_at, estimated_revenue FROM cases ORDER BY seq DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list cases: %w", err)
	}
	defer rows.Close()

	var out []protocol.CaseRecord
	for rows.Next() {
		var (
			rec                         protocol.CaseRecord
			category, urgency, createdAt string
		)
		if err := rows.Scan(&rec.ReferenceID, &category, &urgency, &createdAt, &rec.EstimatedRevenue); err != nil {
			return nil, fmt.Errorf("ledger: scan case: %w", err)
		}
		rec.Category = protocol.Category(category)
		rec.Urgency = protocol.Urgency(urgency)
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	cases, err := l.ListCases(ctx, 0)
	if err != nil {
		return nil, err
	}
	return ComputeStats(cases, now), nil
}

func (l *SQLiteLedger) AppendAppointment(ctx context.Context, apt protocol.Appointment) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO appointments (id, reference_id, user_address, name, email, category, urgency,
			preferred_date, preferred_time, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, apt.ID, apt.ReferenceID, apt.UserAddress, apt.Name, apt.Email, string(apt.Category),
		string(apt.Urgency), apt.PreferredDate, apt.PreferredTime, string(apt.Status),
		apt.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("ledger: append appointment: %w", err)
	}
	return nil
}

const appointmentColumns = `id, reference_id, user_address, name, email, category, urgency,
	preferred_date, preferred_time, status, created_at`

func (l *SQLiteLedger) ListAppointments(ctx context.Context) ([]protocol.Appointment, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT "+appointmentColumns+" FROM appointments ORDER BY seq DESC")
	if err != nil {
		return nil, fmt.Errorf("ledger: list appointments: %w", err)
	}
	defer rows.Close()

	var out []protocol.Appointment
	for rows.Next() {
		apt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan appointment: %w", err)
		}
		out = append(out, *apt)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) FindAppointment(ctx context.Context, referenceID string) (*protocol.Appointment, error) {
	row := l.db.QueryRowContext(ctx,
		"SELECT "+appointmentColumns+" FROM appointments WHERE reference_id = ? ORDER BY seq DESC LIMIT 1",
		referenceID)
	apt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ledger: find appointment: %w", err)
	}
	return apt, nil
}

func (l *SQLiteLedger) AppointmentStats(ctx context.Context, now time.Time) (*AppointmentStats, error) {
	apts, err := l.ListAppointments(ctx)
	if err != nil {
		return nil, err
	}
	return ComputeAppointmentStats(apts, now), nil
}

// DB returns the underlying database connection.
func (l *SQLiteLedger) DB() *sql.DB {
	return l.db
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAppointment(s scanner) (*protocol.Appointment, error) {
	var (
		apt                                protocol.Appointment
		category, urgency, status, created string
	)
	err := s.Scan(&apt.ID, &apt.ReferenceID, &apt.UserAddress, &apt.Name, &apt.Email,
		&category, &urgency, &apt.PreferredDate, &apt.PreferredTime, &status, &created)
	if err != nil {
		return nil, err
	}
	apt.Category = protocol.Category(category)
	apt.Urgency = protocol.Urgency(urgency)
	apt.Status = protocol.AppointmentStatus(status)
	apt.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &apt, nil
}

var _ Ledger = (*SQLiteLedger)(nil)
