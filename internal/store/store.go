// Package store persists session records. The room identifier is the
// lookup key used by the gate on every join attempt.
package store

import (
	"context"
	"errors"

	"github.com/mentorlink/sessiond/internal/domain"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrRoomConflict      = errors.New("room identifier already in use")
	ErrInvalidStatus     = errors.New("invalid status value")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Role selects which side of a session a listing is for.
type Role string

const (
	RoleMentor  Role = "mentor"
	RoleLearner Role = "learner"
)

// SessionStore is the durable record of scheduled sessions.
//
// SetStatus is the single mutation path. Terminal writes are idempotent:
// setting completed or cancelled on an already-terminal session is a
// no-op, because both participants may race to end the same call.
type SessionStore interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByID(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	GetByRoom(ctx context.Context, room domain.RoomID) (*domain.Session, error)
	SetStatus(ctx context.Context, id domain.SessionID, status domain.Status) error
	ListByParticipant(ctx context.Context, user domain.UserID, role Role) ([]*domain.Session, error)
	Close() error
}
