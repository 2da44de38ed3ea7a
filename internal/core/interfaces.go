// Package core owns room membership. It is the only holder of the
// shared membership table; the relay and the gate never touch it
// directly. It never closes adapter-owned transports.
package core

import (
	"github.com/mentorlink/sessiond/internal/domain"
)

// Frame is a raw signaling payload, forwarded byte-for-byte.
type Frame []byte

// ConnID identifies one live transport connection. A participant who
// reconnects gets a fresh ConnID.
type ConnID string

// Connection is a live transport bound to an authenticated identity.
// Owned by the adapter; the adapter closes it.
type Connection interface {
	ID() ConnID
	Identity() domain.UserID
	TrySend(Frame) error
}

// RoomInfo is a read-only view for APIs and metrics.
type RoomInfo struct {
	ID        domain.RoomID `json:"id"`
	Occupancy int           `json:"occupancy"`
}
