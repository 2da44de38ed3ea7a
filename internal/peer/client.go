// Package peer implements the participant side of the signaling
// protocol: one websocket to the relay, one pion peer connection, and
// the handshake choreography between them.
package peer

import (
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mentorlink/sessiond/internal/signalmsg"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// SignalClient manages the websocket connection to the relay.
type SignalClient struct {
	serverURL string
	token     string
	conn      *websocket.Conn
	incoming  chan *signalmsg.Envelope
	outgoing  chan *signalmsg.Envelope
	done      chan struct{}
}

func NewSignalClient(serverURL, token string) *SignalClient {
	return &SignalClient{
		serverURL: serverURL,
		token:     token,
		incoming:  make(chan *signalmsg.Envelope, 32),
		outgoing:  make(chan *signalmsg.Envelope, 32),
		done:      make(chan struct{}),
	}
}

// Connect dials the relay's signaling endpoint.
func (c *SignalClient) Connect() error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/api/ws/signal"
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return nil
}

// Incoming is the stream of envelopes from the relay. Closed when the
// connection drops.
func (c *SignalClient) Incoming() <-chan *signalmsg.Envelope {
	return c.incoming
}

// Send queues an envelope for delivery.
func (c *SignalClient) Send(env *signalmsg.Envelope) {
	select {
	case c.outgoing <- env:
	case <-c.done:
	}
}

// Close tears the connection down. The read pump closes Incoming.
func (c *SignalClient) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *SignalClient) readPump() {
	defer func() {
		_ = c.conn.Close()
		close(c.incoming)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := signalmsg.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "peer").Msg("bad frame from relay")
			continue
		}
		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *SignalClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case env := <-c.outgoing:
			data, err := env.Encode()
			if err != nil {
				log.Error().Err(err).Str("module", "peer").Msg("encode envelope")
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
