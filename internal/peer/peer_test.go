package peer

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorlink/sessiond/internal/adapters/httpapi"
	"github.com/mentorlink/sessiond/internal/app"
	"github.com/mentorlink/sessiond/internal/auth"
	"github.com/mentorlink/sessiond/internal/config"
	"github.com/mentorlink/sessiond/internal/core"
	"github.com/mentorlink/sessiond/internal/domain"
	"github.com/mentorlink/sessiond/internal/gate"
	"github.com/mentorlink/sessiond/internal/store"
)

const testSecret = "test-secret"

type relayEnv struct {
	srv   *httptest.Server
	store store.SessionStore
	sess  *domain.Session
}

func newRelayEnv(t *testing.T) *relayEnv {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	start := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	sess, err := domain.NewSession("mentor-1", "learner-1", start, 60, "")
	require.NoError(t, err)
	require.NoError(t, st.Create(context.Background(), sess))

	orch := app.NewOrchestrator(st, gate.New(15*time.Minute), core.NewRegistry())
	orch.Now = func() time.Time { return start }

	cfg := &config.Config{
		Mode:       "release",
		JWTSecret:  testSecret,
		ReadLimit:  65536,
		PingPeriod: 54 * time.Second,
		WriteWait:  10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(httpapi.SetupRouter(ctx, cfg, orch))
	t.Cleanup(srv.Close)

	return &relayEnv{srv: srv, store: st, sess: sess}
}

func (e *relayEnv) peer(t *testing.T, id domain.UserID, cfg Config) *Peer {
	t.Helper()
	token, err := auth.Sign(testSecret, id, "")
	require.NoError(t, err)
	cfg.ServerURL = e.srv.URL
	cfg.Token = token
	cfg.Room = e.sess.RoomID
	cfg.Identity = id
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

func TestNewRequiresRoom(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestRunRefusesMarkedRoom(t *testing.T) {
	e := newRelayEnv(t)

	markers, err := NewEndedMarker(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, markers.Mark(e.sess.RoomID))

	p := e.peer(t, "learner-1", Config{Markers: markers})
	assert.ErrorIs(t, p.Run(context.Background()), ErrSessionEnded)
}

func TestRunRefusesTerminalSession(t *testing.T) {
	e := newRelayEnv(t)
	require.NoError(t, e.store.SetStatus(context.Background(), e.sess.ID, domain.StatusCancelled))

	p := e.peer(t, "learner-1", Config{Media: deniedSource{}})
	// The record check comes before media capture, so the denied source
	// is never opened.
	assert.ErrorIs(t, p.Run(context.Background()), ErrSessionEnded)
}

func TestRunSurfacesMediaDenial(t *testing.T) {
	e := newRelayEnv(t)

	p := e.peer(t, "learner-1", Config{Media: deniedSource{}})
	assert.ErrorIs(t, p.Run(context.Background()), ErrMediaAccessDenied)
}

func TestRunWaitsAloneAndEndsGracefully(t *testing.T) {
	e := newRelayEnv(t)

	states := make(chan State, 8)
	p := e.peer(t, "learner-1", Config{OnState: func(s State) { states <- s }})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case s := <-states:
		assert.Equal(t, StateWaiting, s)
	case <-time.After(3 * time.Second):
		t.Fatal("never reached the waiting state")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	// Ending marks the session completed on the server and writes the
	// local guard marker.
	markers, err := NewEndedMarker(t.TempDir())
	require.NoError(t, err)
	p.cfg.Markers = markers

	endCtx, endCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer endCancel()
	require.NoError(t, p.End(endCtx))

	stored, err := e.store.GetByID(context.Background(), e.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.True(t, markers.Ended(e.sess.RoomID))
}

func TestEndRacesCandidateApplication(t *testing.T) {
	p, err := New(Config{Room: "room-1"})
	require.NoError(t, err)

	// End may fire from a signal handler while the handshake loop is
	// still applying candidates; both touch the same handshake state.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			p.applyCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1"})
			p.teardownPC()
		}
	}()

	endCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, p.End(endCtx))
	wg.Wait()

	assert.True(t, p.isEnded())
}

func TestCandidatesBufferUntilRemoteDescription(t *testing.T) {
	p := &Peer{}

	// No peer connection yet: candidates queue instead of being lost.
	p.applyCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1"})
	p.applyCandidate(webrtc.ICECandidateInit{Candidate: "candidate:2"})
	assert.Len(t, p.pending, 2)

	p.teardownPC()
	assert.Empty(t, p.pending)
}
