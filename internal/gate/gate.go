// Package gate decides whether a join attempt is permitted and owns the
// session lifecycle transitions. CanJoin is a pure function of the
// session record, the clock, and the caller's identity; it never leaves
// the session in a partially-applied state.
package gate

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mentorlink/sessiond/internal/domain"
	"github.com/mentorlink/sessiond/internal/store"
)

var (
	ErrNotAuthorized    = errors.New("identity is not a party to this session")
	ErrTooEarly         = errors.New("join window has not opened yet")
	ErrSessionCompleted = errors.New("session is already completed or cancelled")
)

// DefaultJoinWindow is how long before the scheduled start a participant
// may enter the room.
const DefaultJoinWindow = 15 * time.Minute

// Decision is the outcome of a permitted join.
type Decision struct {
	// MarkOngoing is set when this is the first join at or after the
	// scheduled start of a still-scheduled session; the caller persists
	// the scheduled->ongoing transition instead of recomputing time math
	// at every read site.
	MarkOngoing bool
}

type Gate struct {
	joinWindow time.Duration
}

func New(joinWindow time.Duration) *Gate {
	if joinWindow <= 0 {
		joinWindow = DefaultJoinWindow
	}
	return &Gate{joinWindow: joinWindow}
}

// CanJoin validates a join attempt against the session record.
//
// Joins stay permitted past the scheduled end while the session is
// non-terminal, so a dropped peer can rejoin an overrunning call.
func (g *Gate) CanJoin(s *domain.Session, now time.Time, id domain.UserID) (Decision, error) {
	if !s.IsParticipant(id) {
		return Decision{}, ErrNotAuthorized
	}
	if s.Status.IsTerminal() {
		return Decision{}, ErrSessionCompleted
	}
	opensAt := s.ScheduledStart.Add(-g.joinWindow)
	if now.Before(opensAt) {
		return Decision{}, ErrTooEarly
	}
	return Decision{
		MarkOngoing: s.Status == domain.StatusScheduled && !now.Before(s.ScheduledStart),
	}, nil
}

// Terminator is the only writer of terminal session status.
type Terminator struct {
	Store store.SessionStore
}

// Terminate moves the session to a terminal state. Idempotent: both
// participants may race to end the same call, and the loser's write is
// a no-op at the store level.
func (t *Terminator) Terminate(ctx context.Context, id domain.SessionID, status domain.Status) error {
	if !status.IsTerminal() {
		return store.ErrIllegalTransition
	}
	if err := t.Store.SetStatus(ctx, id, status); err != nil {
		return err
	}
	log.Info().Str("module", "gate").Str("session", string(id)).Str("status", string(status)).Msg("session terminated")
	return nil
}
