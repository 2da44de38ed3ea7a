// Package signalws carries the signaling relay over gorilla websockets.
// One connection, two goroutines: readPump dispatches inbound frames,
// writePump owns all writes to the socket.
package signalws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mentorlink/sessiond/internal/app"
	"github.com/mentorlink/sessiond/internal/auth"
	"github.com/mentorlink/sessiond/internal/core"
	"github.com/mentorlink/sessiond/internal/domain"
	"github.com/mentorlink/sessiond/internal/gate"
	"github.com/mentorlink/sessiond/internal/signalmsg"
	"github.com/mentorlink/sessiond/internal/store"
)

type Controller struct {
	Orch       *app.Orchestrator
	ReadLimit  int64
	PingPeriod time.Duration
	WriteWait  time.Duration
}

func NewController(orch *app.Orchestrator, readLimit int64, pingPeriod, writeWait time.Duration) *Controller {
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	return &Controller{Orch: orch, ReadLimit: readLimit, PingPeriod: pingPeriod, WriteWait: writeWait}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	// TODO: restrict origins once the frontend origin list is final.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the connection and starts the pumps. Admission
// happens on the first join frame, not at upgrade time, so refusals can
// be reported in-band before closing.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	identity := auth.Identity(c)
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signalws").Msg("ws upgrade")
		return
	}

	conn := newWSConn(identity, ws)
	log.Info().Str("module", "signalws").Str("identity", string(identity)).Str("conn", string(conn.ID())).Msg("new signaling connection")

	connCtx, cancel := context.WithCancel(ctx)
	go ctl.writePump(connCtx, conn)
	go ctl.readPump(connCtx, cancel, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signalws").Msg("writePump write error")
				return
			}
		}
	}
}

// session holds per-connection dispatch state. Only readPump touches it.
type session struct {
	room   domain.RoomID
	joined bool
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, c *wsConn) {
	var st session
	defer func() {
		// The only cleanup path: unconditional and idempotent, covers
		// network drops, tab closes and explicit disconnects alike.
		if st.joined {
			ctl.Orch.Leave(st.room, c.ID())
		}
		cancel()
		c.Close()
		log.Info().Str("module", "signalws").Str("conn", string(c.ID())).Msg("signaling connection closed")
	}()

	c.conn.SetReadLimit(ctl.ReadLimit)
	pongWait := ctl.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signalws").Str("conn", string(c.ID())).Msg("readPump read error")
				}
				return
			}
			ctl.dispatch(ctx, &st, c, data)
		}
	}
}

// dispatch routes one inbound frame. The type set is closed; anything
// outside it is answered with bad-payload.
func (ctl *Controller) dispatch(ctx context.Context, st *session, c *wsConn, data []byte) {
	env, err := signalmsg.Decode(data)
	if err != nil {
		ctl.sendError(c, signalmsg.CodeBadPayload)
		return
	}

	switch env.Type {
	case signalmsg.TypeJoin:
		ctl.handleJoin(ctx, st, c, env)
	case signalmsg.TypeLeave:
		ctl.handleLeave(st, c)
	case signalmsg.TypeOffer, signalmsg.TypeAnswer, signalmsg.TypeICECandidate, signalmsg.TypeChat:
		if !st.joined {
			ctl.sendError(c, signalmsg.CodeBadPayload)
			return
		}
		// Forward the original frame untouched; handshake blobs belong
		// to the peers, not to the relay.
		ctl.Orch.Relay(st.room, c.ID(), env.Type, data)
	case signalmsg.TypeJoined, signalmsg.TypePeerJoined, signalmsg.TypePeerLeft, signalmsg.TypeError:
		// Server-to-client only.
		ctl.sendError(c, signalmsg.CodeBadPayload)
	default:
		log.Warn().Str("module", "signalws").Str("type", string(env.Type)).Msg("unknown signal type")
		ctl.sendError(c, signalmsg.CodeBadPayload)
	}
}

func (ctl *Controller) handleJoin(ctx context.Context, st *session, c *wsConn, env *signalmsg.Envelope) {
	if env.Room == "" || st.joined {
		ctl.sendError(c, signalmsg.CodeBadPayload)
		return
	}

	sess, err := ctl.Orch.Join(ctx, env.Room, c)
	if err != nil {
		ctl.sendError(c, refusalCode(err))
		return
	}

	st.room = env.Room
	st.joined = true
	ctl.send(c, &signalmsg.Envelope{
		Type:      signalmsg.TypeJoined,
		Room:      env.Room,
		From:      c.Identity(),
		Occupancy: ctl.Orch.Registry.Occupancy(env.Room),
	})
	log.Info().Str("module", "signalws").Str("room", string(env.Room)).
		Str("identity", string(c.Identity())).Str("session", string(sess.ID)).Msg("joined room")
}

// handleLeave exits the room without dropping the websocket, so the
// client can show the waiting state or rejoin.
func (ctl *Controller) handleLeave(st *session, c *wsConn) {
	if !st.joined {
		return
	}
	ctl.Orch.Leave(st.room, c.ID())
	st.joined = false
	st.room = ""
}

func (ctl *Controller) send(c *wsConn, env *signalmsg.Envelope) {
	data, err := env.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "signalws").Msg("encode envelope")
		return
	}
	_ = c.TrySend(data)
}

func (ctl *Controller) sendError(c *wsConn, code signalmsg.ErrorCode) {
	ctl.send(c, signalmsg.NewError(code))
}

func refusalCode(err error) signalmsg.ErrorCode {
	switch {
	case errors.Is(err, gate.ErrNotAuthorized):
		return signalmsg.CodeNotAuthorized
	case errors.Is(err, gate.ErrTooEarly):
		return signalmsg.CodeTooEarly
	case errors.Is(err, gate.ErrSessionCompleted):
		return signalmsg.CodeSessionCompleted
	case errors.Is(err, core.ErrRoomFull):
		return signalmsg.CodeRoomFull
	case errors.Is(err, store.ErrSessionNotFound):
		return signalmsg.CodeNotAuthorized
	}
	return signalmsg.CodeBadPayload
}
