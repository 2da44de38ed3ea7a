// Package signalmsg defines the wire vocabulary of the signaling relay.
// Handshake payloads are opaque blobs owned by the WebRTC layer; the
// relay forwards them byte-for-byte and never inspects them.
package signalmsg

import (
	"encoding/json"
	"time"

	"github.com/mentorlink/sessiond/internal/domain"
)

// Type tags an Envelope. The set is closed: the relay switches over it
// exhaustively instead of dispatching on ad hoc strings.
type Type string

const (
	// Client to server.
	TypeJoin  Type = "join"
	TypeLeave Type = "leave"

	// Relayed between occupants, in either direction.
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"
	TypeChat         Type = "chat-message"

	// Server to client.
	TypeJoined     Type = "joined"
	TypePeerJoined Type = "peer-joined"
	TypePeerLeft   Type = "peer-left"
	TypeError      Type = "error"
)

// Relayable reports whether envelopes of this type are forwarded to the
// other room occupant. Chat follows the identical path as handshake
// messages on purpose.
func (t Type) Relayable() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate, TypeChat:
		return true
	case TypeJoin, TypeLeave, TypeJoined, TypePeerJoined, TypePeerLeft, TypeError:
		return false
	}
	return false
}

// ErrorCode classifies a refused operation on the wire.
type ErrorCode string

const (
	CodeNotAuthorized    ErrorCode = "not-authorized"
	CodeTooEarly         ErrorCode = "too-early"
	CodeSessionCompleted ErrorCode = "session-completed"
	CodeRoomFull         ErrorCode = "room-full"
	CodeBadPayload       ErrorCode = "bad-payload"
)

// Chat is the structured chat payload. Never persisted.
type Chat struct {
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope is the single frame format on the signaling channel. Payload
// carries the opaque handshake blob for offer/answer/ice-candidate.
type Envelope struct {
	Type    Type            `json:"type"`
	Room    domain.RoomID   `json:"room,omitempty"`
	From    domain.UserID   `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Chat    *Chat           `json:"chat,omitempty"`
	Error   ErrorCode       `json:"error,omitempty"`

	// Occupancy accompanies joined/peer-joined/peer-left so clients can
	// render the waiting state without a separate query.
	Occupancy int `json:"occupancy,omitempty"`
}

// Encode marshals the envelope for the transport.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a frame into an Envelope.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// NewError builds a server-side refusal frame.
func NewError(code ErrorCode) *Envelope {
	return &Envelope{Type: TypeError, Error: code}
}

// NewPeerJoined announces the identity of a newly admitted occupant.
func NewPeerJoined(room domain.RoomID, who domain.UserID, occupancy int) *Envelope {
	return &Envelope{Type: TypePeerJoined, Room: room, From: who, Occupancy: occupancy}
}

// NewPeerLeft announces a departure to any remaining occupant.
func NewPeerLeft(room domain.RoomID, who domain.UserID, occupancy int) *Envelope {
	return &Envelope{Type: TypePeerLeft, Room: room, From: who, Occupancy: occupancy}
}
