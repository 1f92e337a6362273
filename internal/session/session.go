// Package session owns per-user conversation state: the transcript fed to
// classification, the workflow state and the appointment draft.
package session

import (
	"slices"
	"time"

	"github.com/legalmeet/intake/pkg/protocol"
)

// State is the conversation's position in the intake flow. Exactly one
// state is active per session.
type State string

const (
	StateChatting                   State = "CHATTING"
	StateWaitingAppointmentDecision State = "WAITING_APPOINTMENT_DECISION"
	StateCollectingName             State = "COLLECTING_NAME"
	StateCollectingEmail            State = "COLLECTING_EMAIL"
	StateCollectingDate             State = "COLLECTING_DATE"
	StateCollectingTime             State = "COLLECTING_TIME"
)

// Draft is the partially collected appointment.
type Draft struct {
	ReferenceID   string            `json:"reference_id,omitempty"`
	Category      protocol.Category `json:"category,omitempty"`
	Urgency       protocol.Urgency  `json:"urgency,omitempty"`
	Name          string            `json:"name,omitempty"`
	Email         string            `json:"email,omitempty"`
	PreferredDate string            `json:"preferred_date,omitempty"`
	PreferredTime string            `json:"preferred_time,omitempty"`
}

// Merge overwrites the fields of d that are non-empty in patch.
func (d *Draft) Merge(patch Draft) {
	if patch.ReferenceID != "" {
		d.ReferenceID = patch.ReferenceID
	}
	if patch.Category != "" {
		d.Category = patch.Category
	}
	if patch.Urgency != "" {
		d.Urgency = patch.Urgency
	}
	if patch.Name != "" {
		d.Name = patch.Name
	}
	if patch.Email != "" {
		d.Email = patch.Email
	}
	if patch.PreferredDate != "" {
		d.PreferredDate = patch.PreferredDate
	}
	if patch.PreferredTime != "" {
		d.PreferredTime = patch.PreferredTime
	}
}

// IsZero reports whether no field of the draft is set.
func (d Draft) IsZero() bool {
	return d == Draft{}
}

// Session is the conversational context of one user address. ID identifies
// a single lifetime: a cleared and recreated session gets a new ID.
type Session struct {
	ID             string                 `json:"id"`
	Address        string                 `json:"address"`
	Messages       []protocol.ChatMessage `json:"messages"`
	State          State                  `json:"state"`
	Draft          Draft                  `json:"draft"`
	StartedAt      time.Time              `json:"started_at"`
	LastActivityAt time.Time              `json:"last_activity_at"`
}

func (s Session) clone() Session {
	s.Messages = slices.Clone(s.Messages)
	return s
}

// Summary is the admin view of a session.
type Summary struct {
	Address        string    `json:"address"`
	Messages       int       `json:"messages"`
	State          State     `json:"state"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Store is the session storage used by the orchestrator. All operations are
// atomic per address. Operations other than IsNew create the session when
// it does not exist.
type Store interface {
	Get(address string) Session
	Append(address string, role protocol.Role, content string)
	SetState(address string, state State)
	MergeDraft(address string, patch Draft)
	Clear(address string)
	IsNew(address string) bool
	// Lock takes the turn lock for address and returns its release func.
	// The orchestrator holds it for the whole handling of one message.
	Lock(address string) (unlock func())
	// ScheduleClear deletes the current session lifetime at address after
	// delay, unless it was cleared or replaced in the meantime.
	ScheduleClear(address string, delay time.Duration)
	Len() int
	Snapshot() []Summary
}
