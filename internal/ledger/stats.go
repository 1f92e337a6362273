package ledger

import (
	"sort"
	"time"

	"github.com/legalmeet/intake/internal/datetime"
	"github.com/legalmeet/intake/pkg/protocol"
)

// RecentLimit is how many cases the dashboard lists.
const RecentLimit = 10

// Bucket is one slice of a distribution.
type Bucket struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// DayBucket counts cases registered on one Bogota calendar day.
type DayBucket struct {
	Day   string `json:"day"`   // 2006-01-02
	Label string `json:"label"` // "mar 18"
	Cases int    `json:"cases"`
}

// Stats is the analytics dashboard payload.
type Stats struct {
	TotalCases     int                   `json:"total_cases"`
	CasesToday     int                   `json:"cases_today"`
	CasesThisWeek  int                   `json:"cases_this_week"`
	ActiveSessions int                   `json:"active_sessions"`
	TotalRevenue   int64                 `json:"total_revenue"`
	AverageRevenue float64               `json:"average_revenue"`
	Categories     []Bucket              `json:"categories"`
	Urgencies      []Bucket              `json:"urgencies"`
	CasesByDay     []DayBucket           `json:"cases_by_day"`
	RecentCases    []protocol.CaseRecord `json:"recent_cases"`
}

// AppointmentStats summarizes the appointment log. Today counts bookings
// whose preferred date resolves to the current day.
type AppointmentStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Confirmed int `json:"confirmed"`
	Cancelled int `json:"cancelled"`
	Today     int `json:"today"`
}

var shortDays = [...]string{"dom", "lun", "mar", "mié", "jue", "vie", "sáb"}

func startOfDay(t time.Time) time.Time {
	t = t.In(datetime.Location)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, datetime.Location)
}

// ComputeStats aggregates cases as seen at now. The week is today plus the
// six calendar days before it, matching the per-day series. cases may be in
// any order.
func ComputeStats(cases []protocol.CaseRecord, now time.Time) *Stats {
	today := startOfDay(now)
	weekStart := today.AddDate(0, 0, -6)

	st := &Stats{TotalCases: len(cases)}

	days := make([]DayBucket, 7)
	index := make(map[string]int, 7)
	for i := range days {
		d := weekStart.AddDate(0, 0, i)
		key := d.Format("2006-01-02")
		days[i] = DayBucket{Day: key, Label: shortDays[d.Weekday()] + " " + d.Format("2")}
		index[key] = i
	}

	byCategory := make(map[protocol.Category]int)
	byUrgency := make(map[protocol.Urgency]int)
	for _, c := range cases {
		st.TotalRevenue += c.EstimatedRevenue
		byCategory[c.Category]++
		byUrgency[c.Urgency]++

		created := c.CreatedAt.In(datetime.Location)
		if !created.Before(today) {
			st.CasesToday++
		}
		if !created.Before(weekStart) {
			st.CasesThisWeek++
		}
		if i, ok := index[created.Format("2006-01-02")]; ok {
			days[i].Cases++
		}
	}
	if st.TotalCases > 0 {
		st.AverageRevenue = float64(st.TotalRevenue) / float64(st.TotalCases)
	}

	for c, n := range byCategory {
		st.Categories = append(st.Categories, Bucket{Name: string(c), Label: c.Label(), Count: n})
	}
	sort.Slice(st.Categories, func(i, j int) bool {
		if st.Categories[i].Count != st.Categories[j].Count {
			return st.Categories[i].Count > st.Categories[j].Count
		}
		return st.Categories[i].Name < st.Categories[j].Name
	})

	for _, u := range []protocol.Urgency{protocol.UrgencyLow, protocol.UrgencyMedium, protocol.UrgencyHigh} {
		st.Urgencies = append(st.Urgencies, Bucket{Name: string(u), Label: u.Label(), Count: byUrgency[u]})
	}
	st.CasesByDay = days

	recent := make([]protocol.CaseRecord, len(cases))
	copy(recent, cases)
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].CreatedAt.After(recent[j].CreatedAt) })
	if len(recent) > RecentLimit {
		recent = recent[:RecentLimit]
	}
	st.RecentCases = recent
	return st
}

// ComputeAppointmentStats aggregates appointments as seen at now.
func ComputeAppointmentStats(apts []protocol.Appointment, now time.Time) *AppointmentStats {
	today := startOfDay(now)
	st := &AppointmentStats{Total: len(apts)}
	for _, a := range apts {
		switch a.Status {
		case protocol.AppointmentPending:
			st.Pending++
		case protocol.AppointmentConfirmed:
			st.Confirmed++
		case protocol.AppointmentCancelled:
			st.Cancelled++
		}
		if d, ok := datetime.ParseDate(a.PreferredDate, a.CreatedAt); ok && d.Equal(today) {
			st.Today++
		}
	}
	return st
}
