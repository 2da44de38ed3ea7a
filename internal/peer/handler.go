package peer

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/mentorlink/sessiond/internal/domain"
	"github.com/mentorlink/sessiond/internal/signalmsg"
)

// Handler fans the relay's envelope stream out into typed channels the
// handshake loop selects over.
type Handler struct {
	client *SignalClient

	Joined     chan int // occupancy at admission
	PeerJoined chan domain.UserID
	PeerLeft   chan domain.UserID
	Offer      chan webrtc.SessionDescription
	Answer     chan webrtc.SessionDescription
	Candidate  chan webrtc.ICECandidateInit
	Chat       chan signalmsg.Chat
	Errors     chan signalmsg.ErrorCode
}

func NewHandler(client *SignalClient) *Handler {
	return &Handler{
		client:     client,
		Joined:     make(chan int, 1),
		PeerJoined: make(chan domain.UserID, 1),
		PeerLeft:   make(chan domain.UserID, 1),
		Offer:      make(chan webrtc.SessionDescription, 1),
		Answer:     make(chan webrtc.SessionDescription, 1),
		Candidate:  make(chan webrtc.ICECandidateInit, 32),
		Chat:       make(chan signalmsg.Chat, 32),
		Errors:     make(chan signalmsg.ErrorCode, 1),
	}
}

// Start consumes the incoming stream until the connection closes. Every
// fan-out send also watches the client's done channel, so Start never
// wedges on a full buffer after the consumer stopped selecting.
func (h *Handler) Start() {
	done := h.client.done
	for env := range h.client.Incoming() {
		switch env.Type {
		case signalmsg.TypeJoined:
			deliver(done, h.Joined, env.Occupancy)
		case signalmsg.TypePeerJoined:
			deliver(done, h.PeerJoined, env.From)
		case signalmsg.TypePeerLeft:
			deliver(done, h.PeerLeft, env.From)
		case signalmsg.TypeOffer:
			if sd, ok := decodeSDP(env.Payload); ok {
				deliver(done, h.Offer, sd)
			}
		case signalmsg.TypeAnswer:
			if sd, ok := decodeSDP(env.Payload); ok {
				deliver(done, h.Answer, sd)
			}
		case signalmsg.TypeICECandidate:
			var ci webrtc.ICECandidateInit
			if err := json.Unmarshal(env.Payload, &ci); err == nil {
				deliver(done, h.Candidate, ci)
			}
		case signalmsg.TypeChat:
			if env.Chat != nil {
				deliver(done, h.Chat, *env.Chat)
			}
		case signalmsg.TypeError:
			deliver(done, h.Errors, env.Error)
		}
	}
}

func deliver[T any](done <-chan struct{}, ch chan<- T, v T) {
	select {
	case ch <- v:
	case <-done:
	}
}

func decodeSDP(raw json.RawMessage) (webrtc.SessionDescription, bool) {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(raw, &sd); err != nil {
		return sd, false
	}
	return sd, true
}
