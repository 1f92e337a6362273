package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Transcription("ok")
		m.ProviderCall("openai", "ok", time.Second, 10, 5)
		m.Classification("classified")
		m.CaseRegistered("Labor", 1000)
		m.AppointmentBooked()
		m.MessageHandled("whatsapp", "reply")
		m.SendFailed("whatsapp")
		m.Duplicate()
		m.Swept("idle", 3)
	})
}

func TestCountersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Transcription("timeout")
	m.Transcription("timeout")
	m.Transcription("ok")
	m.CaseRegistered("Labor", 22500)
	m.Swept("stuck", 2)
	m.Swept("idle", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transcriptions.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.casesRegistered.WithLabelValues("Labor")))
	assert.Equal(t, 22500.0, testutil.ToFloat64(m.estimatedRevenue))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sweeps.WithLabelValues("stuck")))

	err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP intake_transcriptions_total Audio transcription attempts by outcome.
# TYPE intake_transcriptions_total counter
intake_transcriptions_total{outcome="ok"} 1
intake_transcriptions_total{outcome="timeout"} 2
`), "intake_transcriptions_total")
	require.NoError(t, err)
}

func TestSessionGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	n := 3
	RegisterSessionGauge(reg, func() int { return n })

	count, err := testutil.GatherAndCount(reg, "intake_sessions_active")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
