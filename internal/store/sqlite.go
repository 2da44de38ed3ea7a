package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/mentorlink/sessiond/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	room_id         TEXT NOT NULL UNIQUE,
	mentor          TEXT NOT NULL,
	learner         TEXT NOT NULL,
	scheduled_start INTEGER NOT NULL,
	duration        INTEGER NOT NULL,
	status          TEXT NOT NULL DEFAULT 'scheduled',
	notes           TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_mentor  ON sessions(mentor);
CREATE INDEX IF NOT EXISTS idx_sessions_learner ON sessions(learner);
`

// SQLiteStore implements SessionStore on a local sqlite database.
// WAL mode plus a busy timeout keeps concurrent gate reads cheap while
// the (rare) status writes go through the driver's serialization.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	log.Info().Str("module", "store").Str("path", path).Msg("session store ready")
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Create(ctx context.Context, sess *domain.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, room_id, mentor, learner, scheduled_start, duration, status, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(sess.ID), string(sess.RoomID), string(sess.Mentor), string(sess.Learner),
		sess.ScheduledStart.Unix(), sess.Duration, string(sess.Status), sess.Notes,
		sess.CreatedAt.Unix(), sess.UpdatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrRoomConflict
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetByID(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	return s.getOne(ctx, `WHERE id = ?`, string(id))
}

func (s *SQLiteStore) GetByRoom(ctx context.Context, room domain.RoomID) (*domain.Session, error) {
	return s.getOne(ctx, `WHERE room_id = ?`, string(room))
}

func (s *SQLiteStore) getOne(ctx context.Context, where string, arg any) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, mentor, learner, scheduled_start, duration, status, notes, created_at, updated_at
		FROM sessions `+where, arg)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return sess, nil
}

// SetStatus applies a lifecycle transition.
//
// Terminal targets use a conditional update so that the second of two
// racing terminations falls through to a no-op instead of an error.
// The ongoing transition only applies on top of scheduled.
func (s *SQLiteStore) SetStatus(ctx context.Context, id domain.SessionID, status domain.Status) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	now := time.Now().UTC().Unix()

	var res sql.Result
	var err error
	switch {
	case status.IsTerminal():
		res, err = s.db.ExecContext(ctx, `
			UPDATE sessions SET status = ?, updated_at = ?
			WHERE id = ? AND status NOT IN ('completed', 'cancelled')`,
			string(status), now, string(id))
	case status == domain.StatusOngoing:
		res, err = s.db.ExecContext(ctx, `
			UPDATE sessions SET status = ?, updated_at = ?
			WHERE id = ? AND status = 'scheduled'`,
			string(status), now, string(id))
	default:
		return ErrIllegalTransition
	}
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected > 0 {
		log.Info().Str("module", "store").Str("session", string(id)).Str("status", string(status)).Msg("status updated")
		return nil
	}

	// Nothing changed: either the session is unknown, or the transition
	// was already applied / superseded. The latter is a no-op.
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if status.IsTerminal() && current.Status.IsTerminal() {
		return nil
	}
	if status == domain.StatusOngoing {
		if current.Status == domain.StatusOngoing {
			return nil
		}
		return ErrIllegalTransition
	}
	return ErrIllegalTransition
}

func (s *SQLiteStore) ListByParticipant(ctx context.Context, user domain.UserID, role Role) ([]*domain.Session, error) {
	column := "mentor"
	if role == RoleLearner {
		column = "learner"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, mentor, learner, scheduled_start, duration, status, notes, created_at, updated_at
		FROM sessions WHERE `+column+` = ? ORDER BY scheduled_start DESC`, string(user))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*domain.Session, error) {
	var sess domain.Session
	var id, room, mentor, learner, status string
	var start, created, updated int64
	if err := sc.Scan(&id, &room, &mentor, &learner, &start, &sess.Duration, &status, &sess.Notes, &created, &updated); err != nil {
		return nil, err
	}
	sess.ID = domain.SessionID(id)
	sess.RoomID = domain.RoomID(room)
	sess.Mentor = domain.UserID(mentor)
	sess.Learner = domain.UserID(learner)
	sess.Status = domain.Status(status)
	sess.ScheduledStart = time.Unix(start, 0).UTC()
	sess.CreatedAt = time.Unix(created, 0).UTC()
	sess.UpdatedAt = time.Unix(updated, 0).UTC()
	return &sess, nil
}

func isUniqueViolation(err error) bool {
	// go-sqlite3 exposes sqlite3.ErrConstraintUnique, but matching on the
	// message keeps the driver import surface to the blank registration.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
