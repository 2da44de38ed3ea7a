package core

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorlink/sessiond/internal/domain"
	"github.com/mentorlink/sessiond/internal/signalmsg"
)

// fakeConn records delivered frames. reject flips TrySend into a
// backpressure failure.
type fakeConn struct {
	id       ConnID
	identity domain.UserID
	reject   bool

	mu     sync.Mutex
	frames []Frame
}

func newFakeConn(id ConnID, identity domain.UserID) *fakeConn {
	return &fakeConn{id: id, identity: identity}
}

func (f *fakeConn) ID() ConnID              { return f.id }
func (f *fakeConn) Identity() domain.UserID { return f.identity }

func (f *fakeConn) TrySend(frame Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return errors.New("send buffer full")
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeConn) received() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Frame, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *fakeConn) lastEnvelope(t *testing.T) *signalmsg.Envelope {
	t.Helper()
	frames := f.received()
	require.NotEmpty(t, frames)
	env, err := signalmsg.Decode(frames[len(frames)-1])
	require.NoError(t, err)
	return env
}

func TestJoinCreatesRoomAndNotifiesPrior(t *testing.T) {
	reg := NewRegistry()
	mentor := newFakeConn("c1", "mentor-1")
	learner := newFakeConn("c2", "learner-1")

	require.NoError(t, reg.Join("room-1", mentor))
	assert.Equal(t, 1, reg.Occupancy("room-1"))
	assert.Empty(t, mentor.received())

	require.NoError(t, reg.Join("room-1", learner))
	assert.Equal(t, 2, reg.Occupancy("room-1"))

	// Only the prior occupant hears about the newcomer.
	assert.Empty(t, learner.received())
	env := mentor.lastEnvelope(t)
	assert.Equal(t, signalmsg.TypePeerJoined, env.Type)
	assert.Equal(t, domain.UserID("learner-1"), env.From)
	assert.Equal(t, 2, env.Occupancy)
}

func TestJoinFullRoomLeavesMembershipUnchanged(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Join("room-1", newFakeConn("c1", "mentor-1")))
	require.NoError(t, reg.Join("room-1", newFakeConn("c2", "learner-1")))

	err := reg.Join("room-1", newFakeConn("c3", "mentor-1"))
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.Equal(t, 2, reg.Occupancy("room-1"))
}

func TestLeaveNotifiesRemainingAndIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	mentor := newFakeConn("c1", "mentor-1")
	learner := newFakeConn("c2", "learner-1")
	require.NoError(t, reg.Join("room-1", mentor))
	require.NoError(t, reg.Join("room-1", learner))

	assert.True(t, reg.Leave("room-1", "c1"))
	env := learner.lastEnvelope(t)
	assert.Equal(t, signalmsg.TypePeerLeft, env.Type)
	assert.Equal(t, domain.UserID("mentor-1"), env.From)
	assert.Equal(t, 1, env.Occupancy)

	// Explicit leave followed by the transport close of the same
	// connection must not fire a second peer-left.
	before := len(learner.received())
	assert.False(t, reg.Leave("room-1", "c1"))
	assert.Equal(t, before, len(learner.received()))
}

func TestRoomDeletedWhenLastMemberLeaves(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Join("room-1", newFakeConn("c1", "mentor-1")))
	assert.Len(t, reg.List(), 1)

	assert.True(t, reg.Leave("room-1", "c1"))
	assert.Empty(t, reg.List())
	assert.Equal(t, 0, reg.Occupancy("room-1"))

	// The identifier is reusable; a rejoin gets a fresh room.
	require.NoError(t, reg.Join("room-1", newFakeConn("c2", "mentor-1")))
	assert.Equal(t, 1, reg.Occupancy("room-1"))
}

func TestRelayDeliversVerbatimToOtherOccupant(t *testing.T) {
	reg := NewRegistry()
	mentor := newFakeConn("c1", "mentor-1")
	learner := newFakeConn("c2", "learner-1")
	require.NoError(t, reg.Join("room-1", mentor))
	require.NoError(t, reg.Join("room-1", learner))

	frame := Frame(`{"type":"offer","room":"room-1","payload":{"sdp":"v=0"}}`)
	assert.Equal(t, 1, reg.Relay("room-1", "c2", frame))

	frames := mentor.received()
	require.NotEmpty(t, frames)
	assert.Equal(t, frame, frames[len(frames)-1])
	// The sender never receives its own message.
	assert.Empty(t, learner.received())
}

func TestRelayAloneDropsSilently(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Join("room-1", newFakeConn("c1", "mentor-1")))

	assert.Equal(t, 0, reg.Relay("room-1", "c1", Frame(`{"type":"offer"}`)))
	assert.Equal(t, 0, reg.Relay("missing-room", "c1", Frame(`{"type":"offer"}`)))
}

func TestRelayDoesNotCrossRooms(t *testing.T) {
	reg := NewRegistry()
	a1 := newFakeConn("a1", "mentor-1")
	a2 := newFakeConn("a2", "learner-1")
	b1 := newFakeConn("b1", "mentor-2")
	b2 := newFakeConn("b2", "learner-2")
	require.NoError(t, reg.Join("room-a", a1))
	require.NoError(t, reg.Join("room-a", a2))
	require.NoError(t, reg.Join("room-b", b1))
	require.NoError(t, reg.Join("room-b", b2))

	assert.Equal(t, 1, reg.Relay("room-a", "a1", Frame(`{"type":"chat-message"}`)))
	assert.NotEmpty(t, a2.received())
	assert.Empty(t, b1.received())
	assert.Empty(t, b2.received())
}

func TestRelayCountsOnlySuccessfulDeliveries(t *testing.T) {
	reg := NewRegistry()
	mentor := newFakeConn("c1", "mentor-1")
	mentor.reject = true
	require.NoError(t, reg.Join("room-1", mentor))
	require.NoError(t, reg.Join("room-1", newFakeConn("c2", "learner-1")))

	assert.Equal(t, 0, reg.Relay("room-1", "c2", Frame(`{"type":"answer"}`)))
}

func TestRelayPreservesOrderPerRecipient(t *testing.T) {
	reg := NewRegistry()
	mentor := newFakeConn("c1", "mentor-1")
	learner := newFakeConn("c2", "learner-1")
	require.NoError(t, reg.Join("room-1", mentor))
	require.NoError(t, reg.Join("room-1", learner))

	var want []Frame
	for i := 0; i < 20; i++ {
		frame := Frame(fmt.Sprintf(`{"type":"ice-candidate","seq":%d}`, i))
		want = append(want, frame)
		reg.Relay("room-1", "c2", frame)
	}

	got := mentor.received()
	require.Len(t, got, len(want)+1) // peer-joined precedes the candidates
	assert.Equal(t, want, got[1:])
}

func TestConcurrentJoinsNeverExceedCapacity(t *testing.T) {
	reg := NewRegistry()

	const contenders = 16
	var wg sync.WaitGroup
	var admitted, refused int
	var mu sync.Mutex

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := newFakeConn(ConnID(fmt.Sprintf("c%d", i)), "mentor-1")
			err := reg.Join("room-1", conn)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				admitted++
			} else if errors.Is(err, ErrRoomFull) {
				refused++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 2, admitted)
	assert.Equal(t, contenders-2, refused)
	assert.Equal(t, 2, reg.Occupancy("room-1"))
}

func TestJoinRacingTeardownLandsInFreshRoom(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Join("room-1", newFakeConn("c1", "mentor-1")))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		reg.Leave("room-1", "c1")
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, reg.Join("room-1", newFakeConn("c2", "learner-1")))
	}()
	wg.Wait()

	assert.Equal(t, 1, reg.Occupancy("room-1"))
}
