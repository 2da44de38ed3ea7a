// Package domain contains the session entities. Meta-data only, no
// transport or storage logic.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type (
	// RoomID is the opaque room identifier generated at booking time.
	// Possessing it is the only credential needed to attempt a join.
	RoomID string

	// SessionID identifies the durable session record.
	SessionID string

	// UserID identifies a participant (mentor or learner).
	UserID string
)

// Status is the session lifecycle state.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are permitted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusOngoing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

const DefaultDurationMinutes = 60

var (
	ErrSameParticipants = errors.New("mentor and learner must differ")
	ErrMissingParty     = errors.New("both mentor and learner are required")
	ErrInvalidDuration  = errors.New("duration must be positive")
	ErrInvalidStatus    = errors.New("unknown session status")
)

// Session is the durable record of a scheduled one-on-one call.
// Exactly two participant identities are fixed for its lifetime.
type Session struct {
	ID             SessionID `json:"id"`
	RoomID         RoomID    `json:"room_id"`
	Mentor         UserID    `json:"mentor"`
	Learner        UserID    `json:"learner"`
	ScheduledStart time.Time `json:"scheduled_start"`
	Duration       int       `json:"duration"` // minutes
	Status         Status    `json:"status"`
	Notes          string    `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewSession builds a scheduled session with a fresh room identifier.
func NewSession(mentor, learner UserID, start time.Time, duration int, notes string) (*Session, error) {
	if mentor == "" || learner == "" {
		return nil, ErrMissingParty
	}
	if mentor == learner {
		return nil, ErrSameParticipants
	}
	if duration == 0 {
		duration = DefaultDurationMinutes
	}
	if duration < 0 {
		return nil, ErrInvalidDuration
	}
	now := time.Now().UTC()
	return &Session{
		ID:             SessionID(uuid.NewString()),
		RoomID:         RoomID(uuid.NewString()),
		Mentor:         mentor,
		Learner:        learner,
		ScheduledStart: start,
		Duration:       duration,
		Status:         StatusScheduled,
		Notes:          notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// IsParticipant reports whether id is one of the two fixed parties.
func (s *Session) IsParticipant(id UserID) bool {
	return id != "" && (id == s.Mentor || id == s.Learner)
}

// ScheduledEnd is the scheduled start plus the booked duration.
func (s *Session) ScheduledEnd() time.Time {
	return s.ScheduledStart.Add(time.Duration(s.Duration) * time.Minute)
}
