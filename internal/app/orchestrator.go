// Package app coordinates the session gate, the session store and the
// room registry. Adapters call in here; they never touch the registry's
// membership state directly.
package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mentorlink/sessiond/internal/core"
	"github.com/mentorlink/sessiond/internal/domain"
	"github.com/mentorlink/sessiond/internal/gate"
	"github.com/mentorlink/sessiond/internal/metrics"
	"github.com/mentorlink/sessiond/internal/signalmsg"
	"github.com/mentorlink/sessiond/internal/store"
)

type Orchestrator struct {
	Store    store.SessionStore
	Gate     *gate.Gate
	Registry *core.Registry

	// Now is the clock used for join-window decisions. Tests pin it.
	Now func() time.Time
}

func NewOrchestrator(st store.SessionStore, g *gate.Gate, reg *core.Registry) *Orchestrator {
	return &Orchestrator{
		Store:    st,
		Gate:     g,
		Registry: reg,
		Now:      time.Now,
	}
}

// Join runs the full admission path: load the session record, clear the
// attempt with the gate, persist the scheduled->ongoing transition when
// this is the first join after the scheduled start, then admit the
// connection. Refusals are synchronous and leave no partial state.
func (o *Orchestrator) Join(ctx context.Context, roomID domain.RoomID, conn core.Connection) (*domain.Session, error) {
	sess, err := o.Store.GetByRoom(ctx, roomID)
	if err != nil {
		metrics.JoinAttempts.WithLabelValues("unknown-room").Inc()
		return nil, err
	}

	decision, err := o.Gate.CanJoin(sess, o.Now(), conn.Identity())
	if err != nil {
		metrics.JoinAttempts.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}

	if decision.MarkOngoing {
		// Best effort: losing this write to a racing join is fine, both
		// writers set the same value.
		if err := o.Store.SetStatus(ctx, sess.ID, domain.StatusOngoing); err != nil {
			log.Warn().Err(err).Str("module", "app").Str("session", string(sess.ID)).Msg("could not persist ongoing transition")
		} else {
			sess.Status = domain.StatusOngoing
		}
	}

	if err := o.Registry.Join(roomID, conn); err != nil {
		metrics.JoinAttempts.WithLabelValues("room-full").Inc()
		return nil, err
	}

	metrics.JoinAttempts.WithLabelValues("permitted").Inc()
	metrics.ActiveConnections.Inc()
	metrics.ActiveRooms.Set(float64(len(o.Registry.List())))
	return sess, nil
}

// Leave is the unconditional cleanup path, called for explicit leaves
// and transport closes alike. Safe to call more than once.
func (o *Orchestrator) Leave(roomID domain.RoomID, cid core.ConnID) {
	if o.Registry.Leave(roomID, cid) {
		metrics.ActiveConnections.Dec()
	}
	metrics.ActiveRooms.Set(float64(len(o.Registry.List())))
}

// Relay forwards an already-validated signaling frame to the other
// occupant. A lonely sender's message is dropped, never buffered; the
// client retries after it observes peer-joined.
func (o *Orchestrator) Relay(roomID domain.RoomID, from core.ConnID, typ signalmsg.Type, frame core.Frame) {
	delivered := o.Registry.Relay(roomID, from, frame)
	if delivered == 0 {
		metrics.SignalsDropped.Inc()
		log.Debug().Str("module", "app").Str("room", string(roomID)).Str("type", string(typ)).Msg("relay dropped, no other occupant")
		return
	}
	metrics.SignalsRelayed.WithLabelValues(string(typ)).Inc()
}

// Terminate moves a session to a terminal status on behalf of one of
// its parties. Idempotent; the second of two racing calls is a no-op.
func (o *Orchestrator) Terminate(ctx context.Context, id domain.SessionID, status domain.Status, by domain.UserID) error {
	sess, err := o.Store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !sess.IsParticipant(by) {
		return gate.ErrNotAuthorized
	}
	term := gate.Terminator{Store: o.Store}
	if err := term.Terminate(ctx, id, status); err != nil {
		return err
	}
	metrics.SessionsTerminated.WithLabelValues(string(status)).Inc()
	return nil
}

func outcomeLabel(err error) string {
	switch err {
	case gate.ErrNotAuthorized:
		return "not-authorized"
	case gate.ErrTooEarly:
		return "too-early"
	case gate.ErrSessionCompleted:
		return "session-completed"
	}
	return "error"
}
