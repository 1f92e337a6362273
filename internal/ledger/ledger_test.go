package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legalmeet/intake/internal/datetime"
	"github.com/legalmeet/intake/pkg/protocol"
)

func newTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	l, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

// Tuesday 2025-11-18, 09:30 in Bogota.
var now = time.Date(2025, 11, 18, 9, 30, 0, 0, datetime.Location)

func caseAt(ref string, c protocol.Category, u protocol.Urgency, at time.Time, revenue int64) protocol.CaseRecord {
	return protocol.CaseRecord{ReferenceID: ref, Category: c, Urgency: u, CreatedAt: at, EstimatedRevenue: revenue}
}

func backends(t *testing.T) map[string]Ledger {
	return map[string]Ledger{
		"memory": NewMemoryLedger(),
		"sqlite": newTestLedger(t),
	}
}

func TestCasesNewestFirst(t *testing.T) {
	for name, l := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, ref := range []string{"A", "B", "C"} {
				rec := caseAt(ref, protocol.CategoryLabor, protocol.UrgencyLow, now.Add(time.Duration(i)*time.Minute), 100)
				require.NoError(t, l.AppendCase(ctx, rec))
			}

			all, err := l.ListCases(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "C", all[0].ReferenceID)
			assert.Equal(t, "A", all[2].ReferenceID)
			assert.True(t, all[0].CreatedAt.Equal(now.Add(2*time.Minute)))
			assert.Equal(t, int64(100), all[0].EstimatedRevenue)

			two, err := l.ListCases(ctx, 2)
			require.NoError(t, err)
			assert.Len(t, two, 2)
		})
	}
}

func TestAppointments(t *testing.T) {
	for name, l := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := l.FindAppointment(ctx, "LEGAL-LAB-20251118-AB12")
			assert.ErrorIs(t, err, ErrNotFound)

			apt := protocol.Appointment{
				ID:            "7f0c4a52-3e0b-4d8f-9d3e-1c2b3a4d5e6f",
				ReferenceID:   "LEGAL-LAB-20251118-AB12",
				UserAddress:   "whatsapp:+573001112233",
				Name:          "Ana Gómez",
				Email:         "ana@example.com",
				Category:      protocol.CategoryLabor,
				Urgency:       protocol.UrgencyHigh,
				PreferredDate: "mañana",
				PreferredTime: "02:00 PM",
				Status:        protocol.AppointmentPending,
				CreatedAt:     now,
			}
			require.NoError(t, l.AppendAppointment(ctx, apt))

			got, err := l.FindAppointment(ctx, apt.ReferenceID)
			require.NoError(t, err)
			assert.Equal(t, apt.Email, got.Email)
			assert.Equal(t, protocol.AppointmentPending, got.Status)
			assert.True(t, got.CreatedAt.Equal(now))

			list, err := l.ListAppointments(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)

			st, err := l.AppointmentStats(ctx, now)
			require.NoError(t, err)
			assert.Equal(t, 1, st.Total)
			assert.Equal(t, 1, st.Pending)
			assert.Equal(t, 0, st.Today, "mañana is not today")

			st, err = l.AppointmentStats(ctx, now.Add(24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, st.Today)
		})
	}
}

func TestComputeStats(t *testing.T) {
	cases := []protocol.CaseRecord{
		caseAt("1", protocol.CategoryLabor, protocol.UrgencyHigh, now.Add(-time.Hour), 300),
		caseAt("2", protocol.CategoryLabor, protocol.UrgencyLow, now.AddDate(0, 0, -1), 100),
		caseAt("3", protocol.CategoryFamily, protocol.UrgencyMedium, now.AddDate(0, 0, -6), 200),
		caseAt("4", protocol.CategoryCriminal, protocol.UrgencyHigh, now.AddDate(0, 0, -7), 400),
	}

	st := ComputeStats(cases, now)
	assert.Equal(t, 4, st.TotalCases)
	assert.Equal(t, 1, st.CasesToday)
	assert.Equal(t, 3, st.CasesThisWeek)
	assert.Equal(t, int64(1000), st.TotalRevenue)
	assert.Equal(t, 250.0, st.AverageRevenue)

	require.Len(t, st.Categories, 3)
	assert.Equal(t, Bucket{Name: "Labor", Label: protocol.CategoryLabor.Label(), Count: 2}, st.Categories[0])
	assert.Equal(t, string(protocol.CategoryCriminal), st.Categories[1].Name, "ties break by name")

	require.Len(t, st.Urgencies, 3)
	assert.Equal(t, 1, st.Urgencies[0].Count)
	assert.Equal(t, 1, st.Urgencies[1].Count)
	assert.Equal(t, 2, st.Urgencies[2].Count)

	require.Len(t, st.CasesByDay, 7)
	assert.Equal(t, "2025-11-12", st.CasesByDay[0].Day)
	assert.Equal(t, 1, st.CasesByDay[0].Cases)
	assert.Equal(t, "mar 18", st.CasesByDay[6].Label)
	assert.Equal(t, 1, st.CasesByDay[6].Cases)
	assert.Equal(t, 1, st.CasesByDay[5].Cases)

	require.Len(t, st.RecentCases, 4)
	assert.Equal(t, "1", st.RecentCases[0].ReferenceID)
}

func TestComputeStatsEmpty(t *testing.T) {
	st := ComputeStats(nil, now)
	assert.Zero(t, st.TotalCases)
	assert.Zero(t, st.AverageRevenue)
	assert.Len(t, st.CasesByDay, 7)
	assert.Len(t, st.Urgencies, 3)
	assert.Empty(t, st.RecentCases)
}

func TestRecentCasesCapped(t *testing.T) {
	var cases []protocol.CaseRecord
	for i := 0; i < RecentLimit+5; i++ {
		cases = append(cases, caseAt("x", protocol.CategoryCivil, protocol.UrgencyLow, now.Add(-time.Duration(i)*time.Minute), 0))
	}
	st := ComputeStats(cases, now)
	assert.Len(t, st.RecentCases, RecentLimit)
}

func TestSQLiteReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := NewSQLiteLedger(path)
	require.NoError(t, err)
	require.NoError(t, l.AppendCase(context.Background(), caseAt("R1", protocol.CategoryTraffic, protocol.UrgencyLow, now, 50)))
	require.NoError(t, l.Close())

	l, err = NewSQLiteLedger(path)
	require.NoError(t, err)
	defer l.Close()
	all, err := l.ListCases(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, protocol.CategoryTraffic, all[0].Category)
}
