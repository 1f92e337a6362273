// Package metrics defines the Prometheus collectors exported by the intake
// daemon. A nil *Metrics is valid and records nothing, so components can be
// built without a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "intake"

// Metrics groups every collector. Create it once per registry with New.
type Metrics struct {
	transcriptions   *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	providerTokens   *prometheus.CounterVec
	classifications  *prometheus.CounterVec
	casesRegistered  *prometheus.CounterVec
	estimatedRevenue prometheus.Counter
	appointments     prometheus.Counter
	messages         *prometheus.CounterVec
	sendFailures     *prometheus.CounterVec
	duplicates       prometheus.Counter
	sweeps           *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transcriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Audio transcription attempts by outcome.",
		}, []string{"outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Latency of LLM provider calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 4, 5, 6, 8, 10, 15, 20, 30},
		}, []string{"provider", "outcome"}),
		providerTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_total",
			Help:      "Tokens consumed by LLM provider calls.",
		}, []string{"provider", "type"}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Classification attempts by outcome.",
		}, []string{"outcome"}),
		casesRegistered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cases",
			Name:      "registered_total",
			Help:      "Cases registered by category.",
		}, []string{"category"}),
		estimatedRevenue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cases",
			Name:      "estimated_revenue_cop_total",
			Help:      "Sum of estimated commission revenue in COP.",
		}),
		appointments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointments_booked_total",
			Help:      "Appointments booked through the chat workflow.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_handled_total",
			Help:      "Inbound messages handled by channel and resulting action.",
		}, []string{"channel", "action"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Outbound sends that failed, by channel.",
		}, []string{"channel"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_messages_total",
			Help:      "Inbound messages dropped as redeliveries.",
		}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "swept_total",
			Help:      "Sessions touched by background sweeps, by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.transcriptions, m.providerLatency, m.providerTokens, m.classifications,
			m.casesRegistered, m.estimatedRevenue, m.appointments, m.messages,
			m.sendFailures, m.duplicates, m.sweeps,
		)
	}
	return m
}

// RegisterSessionGauge exposes the live session count through fn.
func RegisterSessionGauge(reg prometheus.Registerer, fn func() int) {
	if reg == nil {
		return
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Sessions currently held in memory.",
	}, func() float64 { return float64(fn()) }))
}

func (m *Metrics) Transcription(outcome string) {
	if m == nil {
		return
	}
	m.transcriptions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ProviderCall(provider, outcome string, latency time.Duration, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(provider, outcome).Observe(latency.Seconds())
	if promptTokens > 0 {
		m.providerTokens.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.providerTokens.WithLabelValues(provider, "completion").Add(float64(completionTokens))
	}
}

func (m *Metrics) Classification(outcome string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CaseRegistered(category string, revenue int64) {
	if m == nil {
		return
	}
	m.casesRegistered.WithLabelValues(category).Inc()
	m.estimatedRevenue.Add(float64(revenue))
}

func (m *Metrics) AppointmentBooked() {
	if m == nil {
		return
	}
	m.appointments.Inc()
}

func (m *Metrics) MessageHandled(channel, action string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(channel, action).Inc()
}

func (m *Metrics) SendFailed(channel string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(channel).Inc()
}

func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) Swept(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.sweeps.WithLabelValues(kind).Add(float64(n))
}
