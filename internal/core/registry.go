package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mentorlink/sessiond/internal/domain"
	"github.com/mentorlink/sessiond/internal/signalmsg"
)

// Registry maps room identifiers to their live member sets. Rooms are
// created implicitly on the first join and deleted when the last member
// leaves. The registry map has its own short lock; membership mutation
// is serialized per room, so traffic in different rooms does not
// contend.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.RoomID]*room)}
}

func (reg *Registry) getOrCreate(id domain.RoomID) *room {
	reg.mu.RLock()
	rm, ok := reg.rooms[id]
	reg.mu.RUnlock()
	if ok {
		return rm
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if rm, ok = reg.rooms[id]; ok {
		return rm
	}
	rm = newRoom(id)
	reg.rooms[id] = rm
	log.Info().Str("module", "core.registry").Str("room", string(id)).Msg("room created")
	return rm
}

func (reg *Registry) get(id domain.RoomID) *room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.rooms[id]
}

// dropIfSame removes the map entry only if it still points at rm, so a
// room recreated under the same identifier is never torn down by a
// stale leave.
func (reg *Registry) dropIfSame(id domain.RoomID, rm *room) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.rooms[id] == rm {
		delete(reg.rooms, id)
		log.Info().Str("module", "core.registry").Str("room", string(id)).Msg("room deleted")
	}
}

// Join admits conn to the room, creating it if needed. The caller must
// already have cleared the join with the session gate. On admission of
// a second member the prior occupant receives peer-joined carrying the
// newcomer's identity, which is what triggers the handshake.
func (reg *Registry) Join(id domain.RoomID, conn Connection) error {
	for {
		rm := reg.getOrCreate(id)
		prior, err := rm.add(conn)
		if err == errRoomClosed {
			// Lost a race with the teardown of an emptied room.
			reg.dropIfSame(id, rm)
			continue
		}
		if err != nil {
			return err
		}
		occupancy := len(prior) + 1
		if len(prior) > 0 {
			frame, encErr := signalmsg.NewPeerJoined(id, conn.Identity(), occupancy).Encode()
			if encErr == nil {
				for _, p := range prior {
					_ = p.TrySend(frame)
				}
			}
		}
		log.Info().Str("module", "core.registry").Str("room", string(id)).
			Str("identity", string(conn.Identity())).Int("occupancy", occupancy).Msg("member joined")
		return nil
	}
}

// Leave evicts the connection and notifies any remaining member with
// peer-left. This is the single cleanup path, invoked for explicit
// leaves and transport closes alike, and it is idempotent: a
// double-leave is a no-op. Reports whether a member was removed.
func (reg *Registry) Leave(id domain.RoomID, cid ConnID) bool {
	rm := reg.get(id)
	if rm == nil {
		return false
	}
	removed, who, remaining := rm.remove(cid)
	if !removed {
		return false
	}
	if rm.isClosed() {
		reg.dropIfSame(id, rm)
	}
	if len(remaining) > 0 {
		frame, err := signalmsg.NewPeerLeft(id, who, len(remaining)).Encode()
		if err == nil {
			for _, m := range remaining {
				_ = m.TrySend(frame)
			}
		}
	}
	log.Info().Str("module", "core.registry").Str("room", string(id)).
		Str("identity", string(who)).Int("remaining", len(remaining)).Msg("member left")
	return true
}

// Relay forwards frame verbatim to the other occupants and reports the
// number of deliveries. Zero with no error means the sender is alone;
// the message is dropped, not buffered.
func (reg *Registry) Relay(id domain.RoomID, from ConnID, frame Frame) int {
	rm := reg.get(id)
	if rm == nil {
		return 0
	}
	return rm.relay(from, frame)
}

// Occupancy reports the current member count of a room, zero if the
// room does not exist.
func (reg *Registry) Occupancy(id domain.RoomID) int {
	rm := reg.get(id)
	if rm == nil {
		return 0
	}
	return rm.occupancy()
}

// List snapshots all live rooms for APIs and metrics.
func (reg *Registry) List() []RoomInfo {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]RoomInfo, 0, len(reg.rooms))
	for id, rm := range reg.rooms {
		out = append(out, RoomInfo{ID: id, Occupancy: rm.occupancy()})
	}
	return out
}
