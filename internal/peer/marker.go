package peer

import (
	"os"
	"path/filepath"

	"github.com/mentorlink/sessiond/internal/domain"
)

// EndedMarker is the client-local "this call is over" flag written on
// graceful termination. It guards against rejoining through stale UI
// state while the server record catches up; it is never trusted for
// authorization, the server gate decides that on its own.
type EndedMarker struct {
	dir string
}

// NewEndedMarker stores markers under dir, defaulting to the user
// config directory.
func NewEndedMarker(dir string) (*EndedMarker, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(base, "sessiond")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &EndedMarker{dir: dir}, nil
}

func (m *EndedMarker) path(room domain.RoomID) string {
	return filepath.Join(m.dir, "ended_"+string(room))
}

// Mark records that the session behind room ended gracefully.
func (m *EndedMarker) Mark(room domain.RoomID) error {
	return os.WriteFile(m.path(room), []byte("ended\n"), 0o644)
}

// Ended reports whether a graceful end was recorded for room.
func (m *EndedMarker) Ended(room domain.RoomID) bool {
	_, err := os.Stat(m.path(room))
	return err == nil
}
