package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/mentorlink/sessiond/internal/domain"
	"github.com/mentorlink/sessiond/internal/signalmsg"
)

// State is what the UI layer renders.
type State string

const (
	StateWaiting    State = "waiting"    // alone in the room
	StateConnecting State = "connecting" // handshake in flight
	StateConnected  State = "connected"
	StateEnded      State = "ended"
)

var (
	// ErrSessionEnded means the local marker or the server record says
	// this call is over; there is nothing to rejoin.
	ErrSessionEnded = errors.New("session has already ended")

	// ErrJoinRefused wraps a refusal code from the relay.
	ErrJoinRefused = errors.New("join refused")

	// ErrTransportClosed means the signaling connection dropped. The
	// client does not rejoin on its own.
	ErrTransportClosed = errors.New("signaling transport closed")
)

var defaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:global.stun.twilio.com:3478",
}

type Config struct {
	ServerURL string
	Token     string
	Room      domain.RoomID
	Identity  domain.UserID

	Media      MediaSource
	Markers    *EndedMarker
	ICEServers []string

	// Callbacks for the UI layer. All optional.
	OnState       func(State)
	OnChat        func(signalmsg.Chat)
	OnRemoteTrack func(*webrtc.TrackRemote)
}

// Peer drives one room's handshake: wait when first, initiate on
// peer-joined, answer on offer, buffer candidates that outrun the
// answer, tear down on peer-left.
type Peer struct {
	cfg     Config
	client  *SignalClient
	handler *Handler
	api     *APIClient

	session *domain.Session

	// mu guards the handshake state below. Run owns the handshake loop,
	// but End may be called from another goroutine while it is looping.
	mu          sync.Mutex
	pc          *webrtc.PeerConnection
	localTracks []webrtc.TrackLocal
	pending     []webrtc.ICECandidateInit
	remoteSet   bool
	ended       bool
}

func New(cfg Config) (*Peer, error) {
	if cfg.Room == "" {
		return nil, errors.New("room is required")
	}
	if cfg.Media == nil {
		cfg.Media = &SilenceSource{}
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = defaultICEServers
	}
	client := NewSignalClient(cfg.ServerURL, cfg.Token)
	return &Peer{
		cfg:     cfg,
		client:  client,
		handler: NewHandler(client),
		api:     NewAPIClient(cfg.ServerURL, cfg.Token),
	}, nil
}

// Run joins the room and processes relay events until the context is
// cancelled, the call is ended, or the transport drops.
func (p *Peer) Run(ctx context.Context) error {
	if p.cfg.Markers != nil && p.cfg.Markers.Ended(p.cfg.Room) {
		return ErrSessionEnded
	}

	sess, err := p.api.GetSessionByRoom(ctx, p.cfg.Room)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess.Status.IsTerminal() {
		return ErrSessionEnded
	}
	p.session = sess

	tracks, err := p.cfg.Media.Open(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMediaAccessDenied, err)
	}
	p.mu.Lock()
	p.localTracks = tracks
	p.mu.Unlock()

	if err := p.client.Connect(); err != nil {
		p.cfg.Media.Close()
		return err
	}
	go p.handler.Start()

	p.client.Send(&signalmsg.Envelope{Type: signalmsg.TypeJoin, Room: p.cfg.Room})

	defer func() {
		p.teardownPC()
		p.cfg.Media.Close()
		p.client.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			p.client.Send(&signalmsg.Envelope{Type: signalmsg.TypeLeave, Room: p.cfg.Room})
			return ctx.Err()

		case occupancy := <-p.handler.Joined:
			if occupancy < 2 {
				p.setState(StateWaiting)
			}
			// When we are second the prior occupant initiates; we wait
			// for the offer.

		case who := <-p.handler.PeerJoined:
			log.Info().Str("module", "peer").Str("identity", string(who)).Msg("peer joined, initiating handshake")
			if err := p.initiate(); err != nil {
				return err
			}

		case offer := <-p.handler.Offer:
			if err := p.answer(offer); err != nil {
				return err
			}

		case answer := <-p.handler.Answer:
			if err := p.applyAnswer(answer); err != nil {
				return err
			}

		case ci := <-p.handler.Candidate:
			p.applyCandidate(ci)

		case who := <-p.handler.PeerLeft:
			log.Info().Str("module", "peer").Str("identity", string(who)).Msg("peer left")
			p.teardownPC()
			p.setState(StateWaiting)

		case chat := <-p.handler.Chat:
			if p.cfg.OnChat != nil {
				p.cfg.OnChat(chat)
			}

		case code := <-p.handler.Errors:
			if code == signalmsg.CodeSessionCompleted {
				return ErrSessionEnded
			}
			return fmt.Errorf("%w: %s", ErrJoinRefused, code)

		case <-p.transportClosed():
			if p.isEnded() {
				return nil
			}
			p.teardownPC()
			return ErrTransportClosed
		}
	}
}

// SendChat relays a chat line through the same path as the handshake.
func (p *Peer) SendChat(text string) {
	p.client.Send(&signalmsg.Envelope{
		Type: signalmsg.TypeChat,
		Room: p.cfg.Room,
		Chat: &signalmsg.Chat{
			Text:      text,
			Sender:    string(p.cfg.Identity),
			Timestamp: time.Now().UTC(),
		},
	})
}

// End finishes the call gracefully: stop media, drop the peer
// connection, close the transport, mark the session completed, and
// write the local ended marker. The marker is written even when the
// status update fails, accepting eventual inconsistency over a rejoin
// into a finished call.
func (p *Peer) End(ctx context.Context) error {
	p.mu.Lock()
	p.ended = true
	p.mu.Unlock()
	p.teardownPC()
	p.cfg.Media.Close()
	p.client.Close()

	var updateErr error
	if p.session != nil {
		updateErr = p.api.SetStatus(ctx, p.session.ID, domain.StatusCompleted)
		if updateErr != nil {
			log.Warn().Err(updateErr).Str("module", "peer").Msg("status update failed, keeping local marker as guard")
		}
	}
	if p.cfg.Markers != nil {
		if err := p.cfg.Markers.Mark(p.cfg.Room); err != nil {
			log.Warn().Err(err).Str("module", "peer").Msg("could not write ended marker")
		}
	}
	p.setState(StateEnded)
	return updateErr
}

func (p *Peer) transportClosed() <-chan struct{} {
	return p.client.done
}

func (p *Peer) isEnded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}

// newPeerConnection builds the pion connection and publishes the local
// tracks. Callers hold p.mu.
func (p *Peer) newPeerConnection() error {
	servers := make([]webrtc.ICEServer, 0, len(p.cfg.ICEServers))
	for _, u := range p.cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	for _, track := range p.localTracks {
		if _, err := pc.AddTrack(track); err != nil {
			_ = pc.Close()
			return fmt.Errorf("add local track: %w", err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		p.client.Send(&signalmsg.Envelope{
			Type:    signalmsg.TypeICECandidate,
			Room:    p.cfg.Room,
			Payload: payload,
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if p.cfg.OnRemoteTrack != nil {
			p.cfg.OnRemoteTrack(track)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateConnected {
			p.setState(StateConnected)
		}
	})

	p.pc = pc
	p.remoteSet = false
	p.pending = nil
	return nil
}

// initiate runs the offerer side. Called when this client was already
// in the room and a second participant arrived.
func (p *Peer) initiate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.newPeerConnection(); err != nil {
		return err
	}
	p.setState(StateConnecting)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return p.sendSDP(signalmsg.TypeOffer, p.pc.LocalDescription())
}

// answer runs the responder side: this client joined second and the
// prior occupant's offer just arrived.
func (p *Peer) answer(offer webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pc == nil {
		if err := p.newPeerConnection(); err != nil {
			return err
		}
	}
	p.setState(StateConnecting)

	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("apply offer: %w", err)
	}
	p.remoteSet = true
	p.flushCandidates()

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return p.sendSDP(signalmsg.TypeAnswer, p.pc.LocalDescription())
}

func (p *Peer) sendSDP(typ signalmsg.Type, sd *webrtc.SessionDescription) error {
	payload, err := json.Marshal(sd)
	if err != nil {
		return err
	}
	p.client.Send(&signalmsg.Envelope{Type: typ, Room: p.cfg.Room, Payload: payload})
	return nil
}

// applyAnswer installs the remote answer and releases any candidates
// that arrived before it.
func (p *Peer) applyAnswer(answer webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pc == nil {
		return nil
	}
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}
	p.remoteSet = true
	p.flushCandidates()
	return nil
}

// applyCandidate applies a remote candidate, buffering it when it
// arrives ahead of the remote description. Candidates carry no ordering
// guarantee relative to the offer/answer exchange.
func (p *Peer) applyCandidate(ci webrtc.ICECandidateInit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pc == nil || !p.remoteSet {
		p.pending = append(p.pending, ci)
		return
	}
	if err := p.pc.AddICECandidate(ci); err != nil {
		log.Warn().Err(err).Str("module", "peer").Msg("add ice candidate")
	}
}

// flushCandidates drains the pending buffer. Callers hold p.mu.
func (p *Peer) flushCandidates() {
	for _, ci := range p.pending {
		if err := p.pc.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "peer").Msg("add buffered ice candidate")
		}
	}
	p.pending = nil
}

func (p *Peer) teardownPC() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pc != nil {
		_ = p.pc.Close()
		p.pc = nil
	}
	p.remoteSet = false
	p.pending = nil
}

func (p *Peer) setState(s State) {
	if p.cfg.OnState != nil {
		p.cfg.OnState(s)
	}
}
