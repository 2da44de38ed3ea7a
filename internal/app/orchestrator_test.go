package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorlink/sessiond/internal/core"
	"github.com/mentorlink/sessiond/internal/domain"
	"github.com/mentorlink/sessiond/internal/gate"
	"github.com/mentorlink/sessiond/internal/signalmsg"
	"github.com/mentorlink/sessiond/internal/store"
)

type stubConn struct {
	id       core.ConnID
	identity domain.UserID

	mu     sync.Mutex
	frames []core.Frame
}

func (c *stubConn) ID() core.ConnID         { return c.id }
func (c *stubConn) Identity() domain.UserID { return c.identity }

func (c *stubConn) TrySend(frame core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *stubConn) envelopes(t *testing.T) []*signalmsg.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*signalmsg.Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		env, err := signalmsg.Decode(f)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

type fixture struct {
	orch  *Orchestrator
	store store.SessionStore
	sess  *domain.Session
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	start := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	sess, err := domain.NewSession("mentor-1", "learner-1", start, 60, "")
	require.NoError(t, err)
	require.NoError(t, st.Create(context.Background(), sess))

	f := &fixture{
		orch:  NewOrchestrator(st, gate.New(15*time.Minute), core.NewRegistry()),
		store: st,
		sess:  sess,
		now:   start,
	}
	f.orch.Now = func() time.Time { return f.now }
	return f
}

func TestJoinLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.sess.ScheduledStart

	// Twenty minutes early the window is still shut.
	f.now = start.Add(-20 * time.Minute)
	learner := &stubConn{id: "c-learner", identity: "learner-1"}
	_, err := f.orch.Join(ctx, f.sess.RoomID, learner)
	assert.ErrorIs(t, err, gate.ErrTooEarly)
	assert.Equal(t, 0, f.orch.Registry.Occupancy(f.sess.RoomID))

	// Ten minutes early the learner gets in, and the session stays
	// scheduled because the start has not been reached.
	f.now = start.Add(-10 * time.Minute)
	got, err := f.orch.Join(ctx, f.sess.RoomID, learner)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusScheduled, got.Status)

	stored, err := f.store.GetByID(ctx, f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusScheduled, stored.Status)

	// The mentor joins after the start; that first post-start join
	// flips the record to ongoing.
	f.now = start.Add(2 * time.Minute)
	mentor := &stubConn{id: "c-mentor", identity: "mentor-1"}
	got, err = f.orch.Join(ctx, f.sess.RoomID, mentor)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOngoing, got.Status)

	stored, err = f.store.GetByID(ctx, f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOngoing, stored.Status)

	// The learner, present first, hears peer-joined with the mentor's
	// identity and initiates the handshake.
	envs := learner.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, signalmsg.TypePeerJoined, envs[0].Type)
	assert.Equal(t, domain.UserID("mentor-1"), envs[0].From)
}

func TestJoinRefusals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.Join(ctx, "no-such-room", &stubConn{id: "c1", identity: "learner-1"})
	assert.ErrorIs(t, err, store.ErrSessionNotFound)

	_, err = f.orch.Join(ctx, f.sess.RoomID, &stubConn{id: "c2", identity: "intruder"})
	assert.ErrorIs(t, err, gate.ErrNotAuthorized)

	require.NoError(t, f.orch.Terminate(ctx, f.sess.ID, domain.StatusCancelled, "mentor-1"))
	_, err = f.orch.Join(ctx, f.sess.RoomID, &stubConn{id: "c3", identity: "learner-1"})
	assert.ErrorIs(t, err, gate.ErrSessionCompleted)
}

func TestJoinFullRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.Join(ctx, f.sess.RoomID, &stubConn{id: "c1", identity: "mentor-1"})
	require.NoError(t, err)
	_, err = f.orch.Join(ctx, f.sess.RoomID, &stubConn{id: "c2", identity: "learner-1"})
	require.NoError(t, err)

	// A second device of a legitimate party is still a third occupant.
	_, err = f.orch.Join(ctx, f.sess.RoomID, &stubConn{id: "c3", identity: "mentor-1"})
	assert.ErrorIs(t, err, core.ErrRoomFull)
	assert.Equal(t, 2, f.orch.Registry.Occupancy(f.sess.RoomID))
}

func TestRelayBetweenOccupants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mentor := &stubConn{id: "c-mentor", identity: "mentor-1"}
	learner := &stubConn{id: "c-learner", identity: "learner-1"}
	_, err := f.orch.Join(ctx, f.sess.RoomID, mentor)
	require.NoError(t, err)
	_, err = f.orch.Join(ctx, f.sess.RoomID, learner)
	require.NoError(t, err)

	frame := core.Frame(`{"type":"offer","room":"` + string(f.sess.RoomID) + `","payload":{"type":"offer","sdp":"v=0"}}`)
	f.orch.Relay(f.sess.RoomID, learner.id, signalmsg.TypeOffer, frame)

	envs := mentor.envelopes(t)
	require.Len(t, envs, 2) // peer-joined, then the offer
	assert.Equal(t, signalmsg.TypeOffer, envs[1].Type)
}

func TestLeaveTwiceIsSafe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mentor := &stubConn{id: "c-mentor", identity: "mentor-1"}
	learner := &stubConn{id: "c-learner", identity: "learner-1"}
	_, err := f.orch.Join(ctx, f.sess.RoomID, mentor)
	require.NoError(t, err)
	_, err = f.orch.Join(ctx, f.sess.RoomID, learner)
	require.NoError(t, err)

	f.orch.Leave(f.sess.RoomID, mentor.id)
	f.orch.Leave(f.sess.RoomID, mentor.id)

	envs := learner.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, signalmsg.TypePeerLeft, envs[0].Type)
	assert.Equal(t, domain.UserID("mentor-1"), envs[0].From)
}

func TestTerminate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.orch.Terminate(ctx, f.sess.ID, domain.StatusCompleted, "intruder")
	assert.ErrorIs(t, err, gate.ErrNotAuthorized)

	require.NoError(t, f.orch.Terminate(ctx, f.sess.ID, domain.StatusCompleted, "learner-1"))
	// The other party ending the same call a moment later is a no-op.
	require.NoError(t, f.orch.Terminate(ctx, f.sess.ID, domain.StatusCancelled, "mentor-1"))

	stored, err := f.store.GetByID(ctx, f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
}

func TestRejoinAfterLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.Join(ctx, f.sess.RoomID, &stubConn{id: "c1", identity: "mentor-1"})
	require.NoError(t, err)
	f.orch.Leave(f.sess.RoomID, "c1")

	// A dropped participant reconnects with a fresh connection while the
	// session is still live.
	_, err = f.orch.Join(ctx, f.sess.RoomID, &stubConn{id: "c4", identity: "mentor-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.orch.Registry.Occupancy(f.sess.RoomID))
}
