// Package appointment implements the booking dialogue that follows a
// registered case: a yes/no decision, then name, email, date and time, one
// answer per message.
package appointment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/legalmeet/intake/internal/datetime"
	"github.com/legalmeet/intake/internal/fold"
	"github.com/legalmeet/intake/internal/ledger"
	"github.com/legalmeet/intake/internal/metrics"
	"github.com/legalmeet/intake/internal/session"
	"github.com/legalmeet/intake/pkg/protocol"
)

// Answers accepted in WAITING_APPOINTMENT_DECISION. Yes is checked first.
var (
	YesWords = []string{"si", "yes", "claro", "dale", "ok", "listo", "bueno", "de una", "por supuesto"}
	NoWords  = []string{"no", "nope", "ahora no", "despues", "luego", "mas tarde"}
)

const minAnswerRunes = 3

// Config holds the grace delays and the contact copy of the confirmation.
type Config struct {
	DeclineClearDelay time.Duration // after "no"
	BookedClearDelay  time.Duration // after a booking
	SupportEmail      string
	SupportPhone      string
}

const (
	DefaultDeclineClearDelay = 5 * time.Second
	DefaultBookedClearDelay  = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.DeclineClearDelay <= 0 {
		c.DeclineClearDelay = DefaultDeclineClearDelay
	}
	if c.BookedClearDelay <= 0 {
		c.BookedClearDelay = DefaultBookedClearDelay
	}
	if c.SupportEmail == "" {
		c.SupportEmail = "soporte@legalmeet.co"
	}
	if c.SupportPhone == "" {
		c.SupportPhone = "+57 310 357 6748"
	}
	return c
}

// Outcome describes what one answer does to the session. The orchestrator
// applies it: merge Patch, set Next, send Replies (appending them to the
// transcript when Append is set) and schedule a clear when ClearAfter > 0.
type Outcome struct {
	Next       session.State
	Patch      session.Draft
	Replies    []string
	Append     bool
	Booked     *protocol.Appointment
	ClearAfter time.Duration
	// Action names the transition for logs and metrics.
	Action string
}

// Workflow is stateless apart from its collaborators; all dialogue state
// lives in the session.
type Workflow struct {
	appointments ledger.AppointmentLog
	config       Config
	parser       datetime.Parser
	validate     *validator.Validate
	now          func() time.Time
	newID        func() string
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// Option configures a Workflow.
type Option func(*Workflow)

func WithParser(p datetime.Parser) Option { return func(w *Workflow) { w.parser = p } }

func WithClock(now func() time.Time) Option { return func(w *Workflow) { w.now = now } }

func WithIDs(newID func() string) Option { return func(w *Workflow) { w.newID = newID } }

func WithMetrics(m *metrics.Metrics) Option { return func(w *Workflow) { w.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(w *Workflow) { w.logger = l } }

// New creates a workflow booking into appointments.
func New(appointments ledger.AppointmentLog, cfg Config, opts ...Option) *Workflow {
	w := &Workflow{
		appointments: appointments,
		config:       cfg.withDefaults(),
		parser:       datetime.Standard{},
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, o := range opts {
		o(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("component", "appointment")
	return w
}

// Step handles one answer given while sess is in a booking state.
func (w *Workflow) Step(ctx context.Context, sess session.Session, text string) Outcome {
	answer := strings.TrimSpace(text)
	if answer == "" {
		return w.reprompt(sess)
	}

	switch sess.State {
	case session.StateWaitingAppointmentDecision:
		return w.decide(answer)

	case session.StateCollectingName:
		if utf8.RuneCountInString(answer) < minAnswerRunes {
			return retry(sess.State, invalidName, "name_invalid")
		}
		return Outcome{
			Next:    session.StateCollectingEmail,
			Patch:   session.Draft{Name: answer},
			Replies: []string{fmt.Sprintf(askEmailFormat, answer)},
			Append:  true,
			Action:  "collecting_email",
		}

	case session.StateCollectingEmail:
		if !w.ValidEmail(answer) {
			return retry(sess.State, invalidEmail, "email_invalid")
		}
		return Outcome{
			Next:    session.StateCollectingDate,
			Patch:   session.Draft{Email: answer},
			Replies: []string{askDate},
			Append:  true,
			Action:  "collecting_date",
		}

	case session.StateCollectingDate:
		if utf8.RuneCountInString(answer) < minAnswerRunes {
			return retry(sess.State, invalidDate, "date_invalid")
		}
		return Outcome{
			Next:    session.StateCollectingTime,
			Patch:   session.Draft{PreferredDate: answer},
			Replies: []string{askTime},
			Append:  true,
			Action:  "collecting_time",
		}

	case session.StateCollectingTime:
		return w.book(ctx, sess, answer)
	}

	w.logger.Error("booking step outside the workflow", "address", sess.Address, "state", sess.State)
	return abort(session.Draft{})
}

// reprompt repeats the question of the current step without moving on.
func (w *Workflow) reprompt(sess session.Session) Outcome {
	switch sess.State {
	case session.StateWaitingAppointmentDecision:
		return retry(sess.State, unclearAnswer, "clarification_needed")
	case session.StateCollectingName:
		return retry(sess.State, askName, "reprompt")
	case session.StateCollectingEmail:
		return retry(sess.State, fmt.Sprintf(askEmailFormat, sess.Draft.Name), "reprompt")
	case session.StateCollectingDate:
		return retry(sess.State, askDate, "reprompt")
	case session.StateCollectingTime:
		return retry(sess.State, askTime, "reprompt")
	}
	w.logger.Error("booking step outside the workflow", "address", sess.Address, "state", sess.State)
	return abort(session.Draft{})
}

// ValidEmail reports whether s looks like an email address.
func (w *Workflow) ValidEmail(s string) bool {
	return w.validate.Var(s, "required,email") == nil
}

func (w *Workflow) decide(answer string) Outcome {
	switch {
	case matchesAny(answer, YesWords):
		return Outcome{
			Next:    session.StateCollectingName,
			Replies: []string{askName},
			Append:  true,
			Action:  "collecting_name",
		}
	case matchesAny(answer, NoWords):
		return Outcome{
			Next:       session.StateChatting,
			Replies:    []string{declined},
			Append:     true,
			ClearAfter: w.config.DeclineClearDelay,
			Action:     "appointment_declined",
		}
	}
	return retry(session.StateWaitingAppointmentDecision, unclearAnswer, "clarification_needed")
}

func (w *Workflow) book(ctx context.Context, sess session.Session, answer string) Outcome {
	patch := session.Draft{PreferredTime: answer}
	draft := sess.Draft
	draft.Merge(patch)

	if draft.ReferenceID == "" || draft.Name == "" || draft.Email == "" {
		w.logger.Error("incomplete appointment draft", "address", sess.Address,
			"has_reference", draft.ReferenceID != "", "has_name", draft.Name != "", "has_email", draft.Email != "")
		return abort(patch)
	}

	urgency := draft.Urgency
	if urgency == "" {
		urgency = protocol.UrgencyMedium
	}
	apt := protocol.Appointment{
		ID:            w.newID(),
		ReferenceID:   draft.ReferenceID,
		UserAddress:   sess.Address,
		Name:          draft.Name,
		Email:         draft.Email,
		Category:      draft.Category,
		Urgency:       urgency,
		PreferredDate: draft.PreferredDate,
		PreferredTime: draft.PreferredTime,
		Status:        protocol.AppointmentPending,
		CreatedAt:     w.now(),
	}
	if err := w.validate.Struct(apt); err != nil {
		w.logger.Error("invalid appointment", "address", sess.Address, "reference", apt.ReferenceID, "error", err)
		return abort(patch)
	}

	if err := w.appointments.AppendAppointment(ctx, apt); err != nil {
		w.logger.Error("append appointment", "reference", apt.ReferenceID, "error", err)
	}
	w.metrics.AppointmentBooked()
	w.logger.Info("appointment booked", "address", sess.Address, "reference", apt.ReferenceID, "id", apt.ID)

	return Outcome{
		Next:       session.StateChatting,
		Patch:      patch,
		Replies:    []string{w.Confirmation(apt)},
		Append:     true,
		Booked:     &apt,
		ClearAfter: w.config.BookedClearDelay,
		Action:     "appointment_created",
	}
}

// Confirmation renders the booking summary sent to the user.
func (w *Workflow) Confirmation(apt protocol.Appointment) string {
	category := "General"
	if apt.Category != "" {
		category = apt.Category.Label()
	}
	data := confirmationData{
		ReferenceID:  apt.ReferenceID,
		Name:         apt.Name,
		Email:        apt.Email,
		Contact:      apt.UserAddress,
		Category:     category,
		Urgency:      apt.Urgency.Label(),
		Date:         w.parser.DescribeDate(apt.PreferredDate, apt.CreatedAt),
		Time:         w.parser.ParseTime(apt.PreferredTime),
		CreatedAt:    w.parser.FormatShort(apt.CreatedAt),
		SupportEmail: w.config.SupportEmail,
		SupportPhone: w.config.SupportPhone,
	}
	if _, sender, ok := strings.Cut(apt.UserAddress, ":"); ok && sender != "" {
		data.Contact = sender
	}

	var b strings.Builder
	if err := confirmationTemplate.Execute(&b, data); err != nil {
		w.logger.Error("render confirmation", "reference", apt.ReferenceID, "error", err)
		return fmt.Sprintf("✅ Cita agendada. Radicado: %s", apt.ReferenceID)
	}
	return b.String()
}

func retry(state session.State, reply, action string) Outcome {
	return Outcome{Next: state, Replies: []string{reply}, Action: action}
}

// abort is the non-retryable exit: back to CHATTING with instructions to
// start the booking over.
func abort(patch session.Draft) Outcome {
	return Outcome{
		Next:    session.StateChatting,
		Patch:   patch,
		Replies: []string{incomplete},
		Action:  "appointment_aborted",
	}
}

func matchesAny(answer string, words []string) bool {
	for _, w := range words {
		if fold.ContainsPhrase(answer, w) {
			return true
		}
	}
	return false
}
