// Package orchestrator runs one conversational turn per inbound message:
// transcription of audio, global keywords, the booking dialogue, and the
// decision of when a conversation holds enough to register a case.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/legalmeet/intake/internal/appointment"
	"github.com/legalmeet/intake/internal/dedupe"
	"github.com/legalmeet/intake/internal/fulfillment"
	"github.com/legalmeet/intake/internal/metrics"
	"github.com/legalmeet/intake/internal/random"
	"github.com/legalmeet/intake/internal/session"
	"github.com/legalmeet/intake/pkg/protocol"
)

// ErrNoAddress is returned for messages without channel or sender.
var ErrNoAddress = errors.New("orchestrator: message has no address")

// Transcriber turns a voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, ref protocol.AudioRef) (string, error)
}

// Classifier decides when and how a conversation becomes a case.
type Classifier interface {
	HasEnoughSignal(msgs []protocol.ChatMessage) bool
	Classify(ctx context.Context, msgs []protocol.ChatMessage) (*protocol.Classification, bool)
	Reply(ctx context.Context, msgs []protocol.ChatMessage) string
}

// Fulfiller registers a classified case.
type Fulfiller interface {
	Fulfill(ctx context.Context, address string, c protocol.Classification) fulfillment.Result
}

// Booker runs one step of the appointment dialogue.
type Booker interface {
	Step(ctx context.Context, sess session.Session, text string) appointment.Outcome
}

// Sender delivers a reply on a channel. *Dispatcher implements it.
type Sender interface {
	Send(ctx context.Context, channel, recipient, text string) error
}

// Config tunes the turn timing.
type Config struct {
	// FollowUpDelay separates the ticket from the appointment question.
	FollowUpDelay time.Duration
	// TicketClearDelay is how long a session survives its ticket when
	// appointments are disabled.
	TicketClearDelay time.Duration
	// DisableAppointments skips the booking offer after a ticket.
	DisableAppointments bool
	// LateReplyBudget bounds the conversational reply when the turn's
	// context expired during classification.
	LateReplyBudget time.Duration
}

const (
	DefaultFollowUpDelay    = 2 * time.Second
	DefaultTicketClearDelay = 5 * time.Second
	// DefaultLateReplyBudget is the time a reply gets when classification
	// has already used up the turn's deadline.
	DefaultLateReplyBudget = 3 * time.Second
)

func (c Config) withDefaults() Config {
	if c.FollowUpDelay <= 0 {
		c.FollowUpDelay = DefaultFollowUpDelay
	}
	if c.TicketClearDelay <= 0 {
		c.TicketClearDelay = DefaultTicketClearDelay
	}
	if c.LateReplyBudget <= 0 {
		c.LateReplyBudget = DefaultLateReplyBudget
	}
	return c
}

// Deps are the collaborators of an Orchestrator. Transcriber, Deduper,
// Random, Metrics and Logger are optional.
type Deps struct {
	Sessions    session.Store
	Transcriber Transcriber
	Classifier  Classifier
	Fulfiller   Fulfiller
	Booker      Booker
	Sender      Sender
	Deduper     dedupe.Deduper
	Random      random.Source
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Orchestrator handles inbound messages. Turns for the same address run
// one at a time, in arrival order; different addresses run concurrently.
type Orchestrator struct {
	deps   Deps
	config Config
	logger *slog.Logger
}

// New creates an orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		deps:   deps,
		config: cfg.withDefaults(),
		logger: logger.With("component", "orchestrator"),
	}
}

// turn is the handling of one inbound message.
type turn struct {
	msg     protocol.InboundMessage
	address string
	isNew   bool
	logger  *slog.Logger
}

// HandleInbound runs one turn. User-facing failures are answered with
// scripted replies; the only error returned is ErrNoAddress.
func (o *Orchestrator) HandleInbound(ctx context.Context, msg protocol.InboundMessage) error {
	if msg.Channel == "" || msg.Sender == "" {
		return ErrNoAddress
	}
	t := &turn{msg: msg, address: msg.Address()}
	t.logger = o.logger.With("address", t.address, "message_id", msg.MessageID)

	if o.duplicate(ctx, t) {
		return nil
	}

	unlock := o.deps.Sessions.Lock(t.address)
	defer unlock()
	t.isNew = o.deps.Sessions.IsNew(t.address)

	action := o.handle(ctx, t)
	o.deps.Metrics.MessageHandled(msg.Channel, action)
	t.logger.Info("message handled", "action", action, "audio", msg.HasAudio())
	return nil
}

func (o *Orchestrator) duplicate(ctx context.Context, t *turn) bool {
	if o.deps.Deduper == nil || t.msg.MessageID == "" {
		return false
	}
	dup, err := o.deps.Deduper.Seen(ctx, t.msg.MessageID)
	if err != nil {
		t.logger.Warn("duplicate check failed", "error", err)
		return false
	}
	if dup {
		o.deps.Metrics.Duplicate()
		t.logger.Info("duplicate message dropped")
	}
	return dup
}

func (o *Orchestrator) handle(ctx context.Context, t *turn) string {
	text := strings.TrimSpace(t.msg.Text)

	if t.msg.Audio != nil {
		transcript, err := o.transcribe(ctx, *t.msg.Audio)
		if err != nil {
			t.logger.Warn("audio not transcribed", "error", err)
			if !t.isNew {
				if st := o.deps.Sessions.Get(t.address).State; st != session.StateChatting {
					o.deps.Sessions.SetState(t.address, session.StateChatting)
					t.logger.Info("booking abandoned after audio failure", "state", st)
				}
			}
			o.send(ctx, t, audioFailureReply(err))
			return "audio_failed"
		}
		o.send(ctx, t, echo(o.deps.Random, transcript))
		text = transcript
	}

	if text == "" {
		// Mid-booking, the current step asks its question again.
		if !t.isNew {
			if sess := o.deps.Sessions.Get(t.address); sess.State != session.StateChatting {
				return o.step(ctx, t, sess, "")
			}
		}
		o.send(ctx, t, greeting)
		return "greeting"
	}

	if isKeyword(text, resetKeywords) {
		o.deps.Sessions.Clear(t.address)
		o.deps.Sessions.SetState(t.address, session.StateChatting)
		o.send(ctx, t, resetReply)
		return "reset"
	}

	sess := o.deps.Sessions.Get(t.address)
	if sess.State != session.StateChatting {
		return o.step(ctx, t, sess, text)
	}

	if isKeyword(text, startKeywords) {
		if !t.isNew {
			o.deps.Sessions.Clear(t.address)
		}
		o.deps.Sessions.Append(t.address, protocol.RoleAssistant, greeting)
		o.send(ctx, t, greeting)
		return "greeting"
	}

	o.deps.Sessions.Append(t.address, protocol.RoleUser, text)
	msgs := o.deps.Sessions.Get(t.address).Messages

	if o.deps.Classifier.HasEnoughSignal(msgs) {
		if c, ok := o.deps.Classifier.Classify(ctx, msgs); ok {
			return o.registerCase(ctx, t, *c)
		}
	}

	reply := o.reply(ctx, t, msgs)
	o.deps.Sessions.Append(t.address, protocol.RoleAssistant, reply)
	o.send(ctx, t, reply)
	return "reply"
}

// reply asks for the next conversational message. A turn whose deadline
// passed during classification still owes the user an answer, so the reply
// then runs on its own short budget.
func (o *Orchestrator) reply(ctx context.Context, t *turn, msgs []protocol.ChatMessage) string {
	if ctx.Err() != nil {
		t.logger.Warn("turn deadline passed before reply", "error", ctx.Err())
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), o.config.LateReplyBudget)
		defer cancel()
	}
	return o.deps.Classifier.Reply(ctx, msgs)
}

func (o *Orchestrator) transcribe(ctx context.Context, ref protocol.AudioRef) (string, error) {
	if o.deps.Transcriber == nil {
		return "", errors.New("orchestrator: no transcriber configured")
	}
	return o.deps.Transcriber.Transcribe(ctx, ref)
}

// step hands the turn to the booking dialogue and applies its outcome.
// State changes are applied before replies go out and are kept even if a
// send fails.
func (o *Orchestrator) step(ctx context.Context, t *turn, sess session.Session, text string) string {
	out := o.deps.Booker.Step(ctx, sess, text)

	if !out.Patch.IsZero() {
		o.deps.Sessions.MergeDraft(t.address, out.Patch)
	}
	o.deps.Sessions.SetState(t.address, out.Next)
	for _, r := range out.Replies {
		if out.Append {
			o.deps.Sessions.Append(t.address, protocol.RoleAssistant, r)
		}
		o.send(ctx, t, r)
	}
	if out.ClearAfter > 0 {
		o.deps.Sessions.ScheduleClear(t.address, out.ClearAfter)
	}

	t.logger.Info("booking step", "from", sess.State, "to", out.Next, "action", out.Action)
	return out.Action
}

func (o *Orchestrator) registerCase(ctx context.Context, t *turn, c protocol.Classification) string {
	// The case is already decided; recording it must not depend on what is
	// left of the turn's deadline.
	res := o.deps.Fulfiller.Fulfill(context.WithoutCancel(ctx), t.address, c)
	o.deps.Sessions.Append(t.address, protocol.RoleAssistant, res.TicketText)
	o.send(ctx, t, res.TicketText)

	if o.config.DisableAppointments {
		o.deps.Sessions.ScheduleClear(t.address, o.config.TicketClearDelay)
		return "case_registered"
	}

	o.pause(ctx, o.config.FollowUpDelay)

	question := appointment.Question(c.Category)
	o.deps.Sessions.Append(t.address, protocol.RoleAssistant, question)
	o.send(ctx, t, question)

	o.deps.Sessions.MergeDraft(t.address, session.Draft{
		ReferenceID: res.ReferenceID,
		Category:    c.Category,
		Urgency:     c.Urgency,
	})
	o.deps.Sessions.SetState(t.address, session.StateWaitingAppointmentDecision)
	return "case_registered"
}

// pause waits d or until ctx is done.
func (o *Orchestrator) pause(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// send delivers text detached from the turn's cancellation; each send is
// bounded by the dispatcher's own timeout instead. The dispatcher logs and
// counts failures; the turn carries on.
func (o *Orchestrator) send(ctx context.Context, t *turn, text string) {
	_ = o.deps.Sender.Send(context.WithoutCancel(ctx), t.msg.Channel, t.msg.Sender, text)
}
