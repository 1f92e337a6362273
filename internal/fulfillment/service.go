// Package fulfillment turns a validated classification into a registered
// case: a reference id, a price estimate, an analytics record and the
// ticket text sent to the user.
package fulfillment

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/legalmeet/intake/internal/ledger"
	"github.com/legalmeet/intake/internal/metrics"
	"github.com/legalmeet/intake/internal/random"
	"github.com/legalmeet/intake/pkg/protocol"
)

// Result is what Fulfill hands back to the orchestrator.
type Result struct {
	ReferenceID string
	TicketText  string
	Estimate    protocol.Estimate
	Record      protocol.CaseRecord
}

// Service registers cases. It has no failure path: log errors are logged
// and the user still gets a ticket.
type Service struct {
	cases   ledger.CaseLog
	rnd     random.Source
	seq     *SequenceGenerator
	now     func() time.Time
	brand   Branding
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRandom sets the source for reference suffixes and price jitter.
func WithRandom(rnd random.Source) Option {
	return func(s *Service) { s.rnd = rnd }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithBranding(b Branding) Option {
	return func(s *Service) { s.brand = b }
}

func WithSequence(g *SequenceGenerator) Option {
	return func(s *Service) { s.seq = g }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a fulfillment service appending to cases. Without
// WithRandom it uses a time-seeded source.
func NewService(cases ledger.CaseLog, opts ...Option) *Service {
	s := &Service{
		cases: cases,
		rnd:   random.NewTimeSeeded(),
		now:   time.Now,
		brand: DefaultBranding,
	}
	for _, o := range opts {
		o(s)
	}
	if s.seq == nil {
		s.seq = NewSequenceGenerator(DefaultSequenceStart)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "fulfillment")
	return s
}

// Fulfill registers the case classified from the conversation at address.
func (s *Service) Fulfill(ctx context.Context, address string, c protocol.Classification) Result {
	now := s.now()
	return s.register(ctx, ReferenceID(c.Category, now, s.rnd), contactOf(address), c, now)
}

// Register files a case entered by an operator rather than a chat. It uses
// the legacy sequential reference format.
func (s *Service) Register(ctx context.Context, contact string, c protocol.Classification) Result {
	now := s.now()
	return s.register(ctx, s.seq.Next(now), contact, c, now)
}

func (s *Service) register(ctx context.Context, ref, contact string, c protocol.Classification, now time.Time) Result {
	est := Estimate(c.Category, c.Urgency, s.rnd)
	rec := protocol.CaseRecord{
		ReferenceID:      ref,
		Category:         c.Category,
		Urgency:          c.Urgency,
		CreatedAt:        now,
		EstimatedRevenue: Revenue(est),
	}

	if err := s.cases.AppendCase(ctx, rec); err != nil {
		s.logger.Error("append case record", "reference", ref, "error", err)
	}
	s.metrics.CaseRegistered(string(c.Category), rec.EstimatedRevenue)

	text, err := RenderTicket(ref, contact, c, est, now, s.brand)
	if err != nil {
		s.logger.Error("render ticket", "reference", ref, "error", err)
		text = fallbackTicket(ref, c, est)
	}

	s.logger.Info("case registered",
		"reference", ref,
		"category", c.Category,
		"urgency", c.Urgency,
		"estimate", est.Estimated,
	)
	return Result{ReferenceID: ref, TicketText: text, Estimate: est, Record: rec}
}

// contactOf strips the channel prefix from an address.
func contactOf(address string) string {
	if _, sender, ok := strings.Cut(address, ":"); ok && sender != "" {
		return sender
	}
	return address
}

func fallbackTicket(ref string, c protocol.Classification, est protocol.Estimate) string {
	return "✅ CASO REGISTRADO\n\n📋 Radicado: " + ref +
		"\n📂 Categoría: " + c.Category.Label() +
		"\n" + UrgencyMarker(c.Urgency) + " Urgencia: " + c.Urgency.Label() +
		"\n💵 Costo estimado: " + FormatCOP(est.Estimated)
}
