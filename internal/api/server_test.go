package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/legalmeet/intake/internal/datetime"
	"github.com/legalmeet/intake/internal/fulfillment"
	"github.com/legalmeet/intake/internal/ledger"
	"github.com/legalmeet/intake/internal/logbuf"
	"github.com/legalmeet/intake/internal/scheduler"
	"github.com/legalmeet/intake/internal/session"
	"github.com/legalmeet/intake/pkg/protocol"
)

var now = time.Date(2025, 11, 18, 9, 30, 0, 0, datetime.Location)

type fixture struct {
	srv      *Server
	ledger   *ledger.MemoryLedger
	sessions *session.MemoryStore
	logs     *logbuf.Buffer
}

func newFixture(t *testing.T, key string) *fixture {
	t.Helper()
	l := ledger.NewMemoryLedger()
	sessions := session.NewMemoryStore()
	t.Cleanup(sessions.Close)
	logs := logbuf.New(50)
	sched := scheduler.New(nil)
	if err := sched.RegisterSweeps(sessions, scheduler.SweepConfig{}, nil); err != nil {
		t.Fatal(err)
	}

	svc := fulfillment.NewService(l,
		fulfillment.WithRandom(nil),
		fulfillment.WithClock(func() time.Time { return now }),
	)
	srv := NewServer(Deps{
		Ledger:    l,
		Sessions:  sessions,
		Registrar: svc,
		Logs:      logs,
		Jobs:      sched,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprintln(w, "intake_messages_total 3")
		}),
		Webhook: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	}, Config{Host: "127.0.0.1", Port: 0, Key: key}, nil)
	srv.now = func() time.Time { return now }
	return &fixture{srv: srv, ledger: l, sessions: sessions, logs: logs}
}

func (f *fixture) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func (f *fixture) seedCase(t *testing.T, ref string, cat protocol.Category, at time.Time) {
	t.Helper()
	err := f.ledger.AppendCase(context.Background(), protocol.CaseRecord{
		ReferenceID:      ref,
		Category:         cat,
		Urgency:          protocol.UrgencyHigh,
		CreatedAt:        at,
		EstimatedRevenue: 30000,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "secret")
	f.sessions.Append("whatsapp:1", protocol.RoleUser, "hola")

	w := f.do("GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["status"] != "ok" || body["active_sessions"] != float64(1) {
		t.Errorf("body = %v", body)
	}
}

func TestHeartbeat(t *testing.T) {
	f := newFixture(t, "secret")
	if w := f.do("GET", "/ping", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, "secret")

	if w := f.do("GET", "/api/cases", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no auth: status = %d", w.Code)
	}
	if w := f.do("GET", "/api/cases", "", "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d", w.Code)
	}
	if w := f.do("GET", "/api/cases", "", "Authorization", "Bearer secret"); w.Code != http.StatusOK {
		t.Errorf("correct key: status = %d", w.Code)
	}
}

func TestNoKeyNoAuth(t *testing.T) {
	f := newFixture(t, "")
	if w := f.do("GET", "/api/appointments", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestWebhookMountSkipsAPIAuth(t *testing.T) {
	f := newFixture(t, "secret")
	if w := f.do("POST", "/api/webhook/web", `{"text":"hola"}`); w.Code != http.StatusTeapot {
		t.Errorf("status = %d", w.Code)
	}
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, "secret")
	w := f.do("GET", "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "intake_messages_total") {
		t.Errorf("status = %d body = %s", w.Code, w.Body.String())
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, "")
	f.seedCase(t, "LEGAL-LAB-20251118-AAAA", protocol.CategoryLabor, now.Add(-time.Hour))
	f.seedCase(t, "LEGAL-FAM-20251117-AAAA", protocol.CategoryFamily, now.Add(-24*time.Hour))
	f.sessions.Append("telegram:42", protocol.RoleUser, "hola")
	f.ledger.AppendAppointment(context.Background(), protocol.Appointment{
		ID: "a1", ReferenceID: "LEGAL-LAB-20251118-AAAA", Status: protocol.AppointmentPending,
		PreferredDate: "hoy", CreatedAt: now,
	})

	w := f.do("GET", "/api/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		TotalCases     int                     `json:"total_cases"`
		CasesToday     int                     `json:"cases_today"`
		ActiveSessions int                     `json:"active_sessions"`
		TotalRevenue   int64                   `json:"total_revenue"`
		Appointments   ledger.AppointmentStats `json:"appointments"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.TotalCases != 2 || body.CasesToday != 1 || body.ActiveSessions != 1 || body.TotalRevenue != 60000 {
		t.Errorf("stats = %+v", body)
	}
	if body.Appointments.Total != 1 || body.Appointments.Pending != 1 {
		t.Errorf("appointments = %+v", body.Appointments)
	}
}

func TestListCasesLimit(t *testing.T) {
	f := newFixture(t, "")
	for i := 0; i < 3; i++ {
		f.seedCase(t, fmt.Sprintf("LEGAL-CIV-20251118-AAA%d", i), protocol.CategoryCivil, now.Add(time.Duration(i)*time.Minute))
	}

	cases := decode[[]protocol.CaseRecord](t, f.do("GET", "/api/cases?limit=2", ""))
	if len(cases) != 2 || cases[0].ReferenceID != "LEGAL-CIV-20251118-AAA2" {
		t.Errorf("cases = %+v", cases)
	}

	if w := f.do("GET", "/api/cases?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d", w.Code)
	}
}

func TestListCasesEmptyIsArray(t *testing.T) {
	f := newFixture(t, "")
	w := f.do("GET", "/api/cases", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRegisterCase(t *testing.T) {
	f := newFixture(t, "")

	w := f.do("POST", "/api/cases", `{"contact":"+57 300 123 4567","category":"laboral","urgency":"alta","title":"Despido sin justa causa"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	resp := decode[registerCaseResponse](t, w)
	if resp.ReferenceID != "LM-2025-001000" {
		t.Errorf("reference = %q", resp.ReferenceID)
	}
	if !strings.Contains(resp.Ticket, "LM-2025-001000") || !strings.Contains(resp.Ticket, "+57 300 123 4567") {
		t.Errorf("ticket = %q", resp.Ticket)
	}
	if resp.Estimate.Estimated == 0 {
		t.Errorf("estimate = %+v", resp.Estimate)
	}

	cases, _ := f.ledger.ListCases(context.Background(), 0)
	if len(cases) != 1 || cases[0].Category != protocol.CategoryLabor {
		t.Errorf("ledger = %+v", cases)
	}
}

func TestRegisterCaseValidation(t *testing.T) {
	f := newFixture(t, "")

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing contact", `{"category":"Labor","urgency":"HIGH","title":"x"}`},
		{"unknown category", `{"contact":"1","category":"Space","urgency":"HIGH","title":"x"}`},
		{"missing title", `{"contact":"1","category":"Labor","urgency":"HIGH"}`},
	}
	for _, tt := range tests {
		if w := f.do("POST", "/api/cases", tt.body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", tt.name, w.Code)
		}
	}
}

func TestAppointments(t *testing.T) {
	f := newFixture(t, "")
	apt := protocol.Appointment{
		ID:          "a1",
		ReferenceID: "LEGAL-LAB-20251118-AAAA",
		UserAddress: "whatsapp:573001234567",
		Name:        "Ana Pérez",
		Email:       "ana@example.com",
		Status:      protocol.AppointmentPending,
		CreatedAt:   now,
	}
	f.ledger.AppendAppointment(context.Background(), apt)

	list := decode[[]protocol.Appointment](t, f.do("GET", "/api/appointments", ""))
	if len(list) != 1 || list[0].Name != "Ana Pérez" {
		t.Errorf("list = %+v", list)
	}

	got := decode[protocol.Appointment](t, f.do("GET", "/api/appointments/LEGAL-LAB-20251118-AAAA", ""))
	if got.ID != "a1" {
		t.Errorf("appointment = %+v", got)
	}

	if w := f.do("GET", "/api/appointments/LEGAL-FAM-20251118-ZZZZ", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d", w.Code)
	}
}

func TestSessions(t *testing.T) {
	f := newFixture(t, "")
	f.sessions.Append("whatsapp:1", protocol.RoleUser, "hola")
	f.sessions.Append("whatsapp:1", protocol.RoleAssistant, "¡Hola!")
	f.sessions.SetState("telegram:2", session.StateCollectingName)

	body := decode[struct {
		Active   int               `json:"active"`
		Sessions []session.Summary `json:"sessions"`
	}](t, f.do("GET", "/api/sessions", ""))
	if body.Active != 2 || len(body.Sessions) != 2 {
		t.Fatalf("body = %+v", body)
	}
}

func TestReference(t *testing.T) {
	f := newFixture(t, "")

	tests := []struct {
		ref   string
		valid bool
	}{
		{"LEGAL-LAB-20251118-A1B2", true},
		{"LM-2025-001000", true},
		{"LEGAL-LAB-2025-A1B2", false},
	}
	for _, tt := range tests {
		body := decode[map[string]any](t, f.do("GET", "/api/references/"+tt.ref, ""))
		if body["valid"] != tt.valid || body["reference_id"] != tt.ref {
			t.Errorf("%s: body = %v", tt.ref, body)
		}
	}
}

func TestGetLogs(t *testing.T) {
	f := newFixture(t, "")
	logger := slog.New(logbuf.NewHandler(slog.NewTextHandler(&strings.Builder{}, nil), f.logs))
	logger.Info("message handled", "address", "whatsapp:1")
	logger.Warn("send failed", "address", "whatsapp:1")
	logger.Warn("send failed", "address", "telegram:2")

	entries := decode[[]logbuf.Entry](t, f.do("GET", "/api/logs?level=warn&address=whatsapp:1", ""))
	if len(entries) != 1 || entries[0].Message != "send failed" || entries[0].Address != "whatsapp:1" {
		t.Errorf("entries = %+v", entries)
	}

	all := decode[[]logbuf.Entry](t, f.do("GET", "/api/logs?limit=2", ""))
	if len(all) != 2 {
		t.Errorf("limit: got %d entries", len(all))
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, "secret")
	w := f.do("OPTIONS", "/api/stats", "", "Origin", "https://dashboard.example.com")
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://dashboard.example.com" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestOriginAllowed(t *testing.T) {
	if !originAllowed(nil, "https://a.example") {
		t.Error("empty list allows all")
	}
	if !originAllowed([]string{"https://a.example"}, "https://a.example") {
		t.Error("listed origin should be allowed")
	}
	if originAllowed([]string{"https://a.example"}, "https://b.example") {
		t.Error("unlisted origin should be rejected")
	}
}

func TestJobs(t *testing.T) {
	f := newFixture(t, "")
	w := f.do("GET", "/api/jobs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var jobs []scheduler.JobInfo
	if err := json.Unmarshal(w.Body.Bytes(), &jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 || jobs[0].Name != "sweep_idle" || jobs[1].Name != "sweep_stuck" {
		t.Errorf("jobs = %+v", jobs)
	}
}
