package core

import (
	"sync"

	"github.com/mentorlink/sessiond/internal/domain"
)

// maxOccupants is the hard membership limit: a session is a one-on-one
// call between its two fixed parties.
const maxOccupants = 2

// room is a threadsafe member set. All membership mutation for one room
// is serialized behind its mutex, so the capacity check and the add are
// one critical section and two near-simultaneous joins cannot both
// slip past the limit.
type room struct {
	id domain.RoomID

	mu      sync.RWMutex
	members map[ConnID]Connection
	closed  bool
}

func newRoom(id domain.RoomID) *room {
	return &room{
		id:      id,
		members: make(map[ConnID]Connection),
	}
}

// add admits conn and returns the occupants that were already present.
func (r *room) add(conn Connection) ([]Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errRoomClosed
	}
	if len(r.members) >= maxOccupants {
		return nil, ErrRoomFull
	}
	prior := make([]Connection, 0, len(r.members))
	for _, m := range r.members {
		prior = append(prior, m)
	}
	r.members[conn.ID()] = conn
	return prior, nil
}

// remove evicts the connection if present. Idempotent: a second remove
// of the same ConnID reports removed=false and changes nothing. When
// the last member leaves the room closes, so late joins racing with
// teardown retry against a fresh instance.
func (r *room) remove(cid ConnID) (removed bool, who domain.UserID, remaining []Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.members[cid]
	if !ok {
		return false, "", nil
	}
	delete(r.members, cid)
	who = conn.Identity()
	for _, m := range r.members {
		remaining = append(remaining, m)
	}
	if len(r.members) == 0 {
		r.closed = true
	}
	return true, who, remaining
}

// relay forwards frame unmodified to every member except the sender and
// reports how many copies were delivered. With two occupants that is at
// most one recipient.
func (r *room) relay(from ConnID, frame Frame) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	delivered := 0
	for cid, m := range r.members {
		if cid == from {
			continue
		}
		if err := m.TrySend(frame); err == nil {
			delivered++
		}
	}
	return delivered
}

func (r *room) occupancy() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *room) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}
