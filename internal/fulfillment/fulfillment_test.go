package fulfillment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legalmeet/intake/internal/datetime"
	"github.com/legalmeet/intake/internal/ledger"
	"github.com/legalmeet/intake/internal/random"
	"github.com/legalmeet/intake/pkg/protocol"
)

// 2025-11-18 22:00 in Bogota, already the 19th in UTC.
var filedAt = time.Date(2025, 11, 19, 3, 0, 0, 0, time.UTC)

func TestReferenceIDRoundTrip(t *testing.T) {
	rnd := random.New(42)
	for _, c := range protocol.Categories() {
		for i := 0; i < 20; i++ {
			ref := ReferenceID(c, filedAt, rnd)
			assert.True(t, ValidReference(ref), ref)
			assert.True(t, strings.HasPrefix(ref, "LEGAL-"+c.Code()+"-20251118-"), ref)
		}
	}

	assert.Equal(t, "LEGAL-GEN-20251118-AAAA", ReferenceID("Maritime", filedAt, nil))
}

func TestValidReference(t *testing.T) {
	valid := []string{"LEGAL-LAB-20251118-AB12", "LEGAL-INM-20240101-0000", "LM-2024-001234"}
	for _, s := range valid {
		assert.True(t, ValidReference(s), s)
	}
	invalid := []string{"", "LEGAL-LA-20251118-AB12", "LEGAL-LAB-2025111-AB12", "LEGAL-LAB-20251118-ab12",
		"LEGAL-LAB-20251118-AB123", "LM-24-001234", "LM-2024-1234", " LM-2024-001234"}
	for _, s := range invalid {
		assert.False(t, ValidReference(s), s)
	}
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator(0)
	assert.Equal(t, "LM-2025-001000", g.Next(filedAt))
	assert.Equal(t, "LM-2025-001001", g.Next(filedAt))
	assert.True(t, ValidReference(g.Next(filedAt)))

	// New year's eve in Bogota is already January in UTC.
	eve := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, "LM-2025-000007", NewSequenceGenerator(7).Next(eve))
}

func TestEstimateMidpoint(t *testing.T) {
	tests := []struct {
		category protocol.Category
		urgency  protocol.Urgency
		want     protocol.Estimate
	}{
		{protocol.CategoryLabor, protocol.UrgencyLow, protocol.Estimate{Min: 80_000, Max: 150_000, Estimated: 115_000}},
		{protocol.CategoryLabor, protocol.UrgencyMedium, protocol.Estimate{Min: 92_000, Max: 172_500, Estimated: 132_250}},
		{protocol.CategoryLabor, protocol.UrgencyHigh, protocol.Estimate{Min: 104_000, Max: 195_000, Estimated: 149_500}},
		{protocol.CategoryCriminal, protocol.UrgencyHigh, protocol.Estimate{Min: 225_000, Max: 450_000, Estimated: 337_500}},
		{protocol.CategoryTraffic, protocol.UrgencyLow, protocol.Estimate{Min: 60_000, Max: 120_000, Estimated: 90_000}},
		{"Maritime", protocol.UrgencyLow, protocol.Estimate{Min: 90_000, Max: 180_000, Estimated: 135_000}},
	}
	for _, tt := range tests {
		t.Run(string(tt.category)+"/"+string(tt.urgency), func(t *testing.T) {
			assert.Equal(t, tt.want, Estimate(tt.category, tt.urgency, nil))
		})
	}
}

func TestEstimateJitterBounded(t *testing.T) {
	rnd := random.New(7)
	for i := 0; i < 200; i++ {
		e := Estimate(protocol.CategoryFamily, protocol.UrgencyHigh, rnd)
		require.Equal(t, int64(120_000), e.Min)
		require.Equal(t, int64(240_000), e.Max)
		assert.GreaterOrEqual(t, e.Estimated, int64(168_000))
		assert.LessOrEqual(t, e.Estimated, int64(192_000))
	}

	a := Estimate(protocol.CategoryCivil, protocol.UrgencyMedium, random.New(99))
	b := Estimate(protocol.CategoryCivil, protocol.UrgencyMedium, random.New(99))
	assert.Equal(t, a, b)
}

func TestRevenue(t *testing.T) {
	assert.Equal(t, int64(22_425), Revenue(protocol.Estimate{Estimated: 149_500}))
	assert.Equal(t, int64(0), Revenue(protocol.Estimate{}))
}

func TestFormatCOP(t *testing.T) {
	assert.Equal(t, "$150.000 COP", FormatCOP(150_000))
	assert.Equal(t, "$337.500 COP", FormatCOP(337_500))
}

func laborCase() protocol.Classification {
	return protocol.Classification{
		Category: protocol.CategoryLabor,
		Urgency:  protocol.UrgencyHigh,
		Title:    "Despido sin justa causa",
		Summary:  "Trabajador despedido tras tres años sin liquidación.",
	}
}

func TestFulfill(t *testing.T) {
	l := ledger.NewMemoryLedger()
	s := NewService(l, WithRandom(nil), WithClock(func() time.Time { return filedAt }))

	res := s.Fulfill(context.Background(), "whatsapp:+573001112233", laborCase())
	assert.Equal(t, "LEGAL-LAB-20251118-AAAA", res.ReferenceID)
	assert.Equal(t, protocol.Estimate{Min: 104_000, Max: 195_000, Estimated: 149_500}, res.Estimate)

	cases, err := l.ListCases(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, res.ReferenceID, cases[0].ReferenceID)
	assert.Equal(t, int64(22_425), cases[0].EstimatedRevenue)
	assert.True(t, cases[0].CreatedAt.Equal(filedAt))

	for _, want := range []string{
		"📋 Radicado: LEGAL-LAB-20251118-AAAA",
		"📱 Contacto: +573001112233",
		"📅 Fecha: " + datetime.FormatShort(filedAt),
		"📂 Categoría: Derecho Laboral",
		"🔴 Urgencia: ALTA",
		"Trabajador despedido tras tres años sin liquidación.",
		"$149.500 COP",
		"Rango: $104.000 COP - $195.000 COP",
		"(Incluye recargo por urgencia)",
		DefaultBranding.SupportEmail,
	} {
		assert.Contains(t, res.TicketText, want)
	}
}

func TestTicketWithoutSurcharge(t *testing.T) {
	c := protocol.Classification{Category: protocol.CategoryTraffic, Urgency: protocol.UrgencyLow, Title: "Comparendo"}
	text, err := RenderTicket("LEGAL-TRA-20251118-ZZ99", "+57300", c, Estimate(c.Category, c.Urgency, nil), filedAt, DefaultBranding)
	require.NoError(t, err)
	assert.NotContains(t, text, "recargo")
	assert.Contains(t, text, "🟢 Urgencia: BAJA")
	assert.Contains(t, text, "Derecho de Tránsito")
	// Title stands in for a missing summary.
	assert.Contains(t, text, "📝 Descripción:\nComparendo")
}

type failingLog struct{ ledger.CaseLog }

func (failingLog) AppendCase(context.Context, protocol.CaseRecord) error {
	return errors.New("disk full")
}

func TestFulfillSurvivesLogFailure(t *testing.T) {
	s := NewService(failingLog{}, WithRandom(random.New(1)))
	res := s.Fulfill(context.Background(), "telegram:42", laborCase())
	assert.True(t, ValidReference(res.ReferenceID))
	assert.NotEmpty(t, res.TicketText)
}

func TestRegisterUsesSequence(t *testing.T) {
	l := ledger.NewMemoryLedger()
	s := NewService(l, WithSequence(NewSequenceGenerator(1234)), WithClock(func() time.Time { return filedAt }))

	res := s.Register(context.Background(), "+573001112233", laborCase())
	assert.Equal(t, "LM-2025-001234", res.ReferenceID)
	assert.Contains(t, res.TicketText, "📱 Contacto: +573001112233")

	cases, _ := l.ListCases(context.Background(), 0)
	require.Len(t, cases, 1)
	assert.Equal(t, "LM-2025-001234", cases[0].ReferenceID)
}

func TestContactOf(t *testing.T) {
	assert.Equal(t, "+573001112233", contactOf("whatsapp:+573001112233"))
	assert.Equal(t, "plain", contactOf("plain"))
	assert.Equal(t, "webhook:", contactOf("webhook:"))
}
