/*
Package realtime contains the room and presence coordinator behind the WebSocket endpoint.

This file defines the Client struct, the WebSocket transport for one connection. It runs
the read and write loops, forwards inbound frames to the Coordinator and implements Sink
for outbound messages.
*/
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"studyhub/internal/pkg/errs"
	"studyhub/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxMessageSize = 8192

	// capacity of the outbound queue.
	sendQueueSize = 256
)

// Client is an active WebSocket connection registered with a Coordinator.
type Client struct {
	coord *Coordinator

	// underlying WebSocket connection object.
	conn *websocket.Conn

	// id is assigned by Serve before the pumps start.
	id ConnID

	// buffered queue of encoded messages waiting to be written. Never closed.
	send chan []byte

	// closed is closed once the client is told to hang up.
	closed    chan struct{}
	closeOnce sync.Once

	logger zerolog.Logger
}

// NewClient constructs a Client for an upgraded connection.
func NewClient(coord *Coordinator, wsConn *websocket.Conn) *Client {
	return &Client{
		coord:  coord,
		conn:   wsConn,
		send:   make(chan []byte, sendQueueSize),
		closed: make(chan struct{}),
		logger: logx.Component("ws"),
	}
}

// ID returns the connection id assigned by the Coordinator.
func (c *Client) ID() ConnID { return c.id }

// Serve registers the client and starts its pumps. A non-empty token is
// queued as the first auth event so later frames observe the bound identity.
func (c *Client) Serve(ctx context.Context, token string) error {
	id, err := c.coord.Connect(ctx, c)
	if err != nil {
		return err
	}

	c.id = id
	c.logger = c.logger.With().Str("connection_id", string(id)).Logger()

	if token != "" {
		payload, _ := json.Marshal(AuthPayload{Token: token})
		if err := c.coord.Message(id, EventAuth, payload); err != nil {
			c.coord.Disconnect(id, ReasonDisconnect)
			return err
		}
	}

	go c.WritePump()
	go c.ReadPump()

	return nil
}

// Send implements Sink. It never blocks: a full queue reports ErrSinkFull.
func (c *Client) Send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.closed:
		return ErrSinkClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return ErrSinkClosed
	default:
		return ErrSinkFull
	}
}

// Close tells the write loop to send a close frame and hang up.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// ReadPump reads frames until the connection fails, then disconnects the client.
func (c *Client) ReadPump() {
	defer func() {
		c.coord.Disconnect(c.id, ReasonDisconnect)
		c.Close()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error")
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			return
		}

		c.processInbound(data)
	}
}

// processInbound decodes one frame and queues it on the Coordinator.
func (c *Client) processInbound(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		c.logger.Warn().Err(err).Int("size", len(data)).Msg("Client sent invalid frame")
		c.sendError("", errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	if err := c.coord.Message(c.id, env.Event, env.Payload); err != nil {
		c.sendError(env.Event, err)
	}
}

func (c *Client) sendError(event string, err error) {
	msg, buildErr := ErrorMessage(event, err)
	if buildErr != nil {
		c.logger.Error().Err(buildErr).Msg("Failed to build error message")
		return
	}

	if sendErr := c.Send(msg); sendErr != nil {
		c.logger.Warn().Err(sendErr).Msg("Failed to queue error message")
	}
}

// WritePump writes queued messages and heartbeats until the client is closed
// or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case message := <-c.send:
			if !c.write(websocket.TextMessage, message) {
				return
			}

		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}

		case <-c.closed:
			c.flush()
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is already queued, so a final error or leave notice
// reaches the peer before the close frame.
func (c *Client) flush() {
	for {
		select {
		case message := <-c.send:
			if !c.write(websocket.TextMessage, message) {
				return
			}
		default:
			return
		}
	}
}

// write sends one frame. Returns false if the write loop should terminate.
func (c *Client) write(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.logger.Debug().Err(err).Int("message_type", messageType).Msg("Error writing message")
		return false
	}

	return true
}
