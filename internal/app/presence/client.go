package presence

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"geomap/internal/pkg/logx"
	"geomap/internal/pkg/randx"
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

	// sendQueueSize is the number of outbound frames buffered per client before it counts as slow.
	sendQueueSize = 256

	// inbound frames allowed per second per session, and the burst on top of it.
	eventRate  = 20
	eventBurst = 40
)

// Client is one live WebSocket session.
type Client struct {
	// id is the session handle, unique per connection.
	id string

	// hub receives this client's frames and lifecycle events.
	hub *Hub

	// underlying WebSocket connection object.
	conn *websocket.Conn

	// send queues encoded frames for WritePump. Only the hub loop writes to or closes it.
	send chan []byte

	// closed is set by the hub loop when send has been closed.
	closed bool

	// limiter drops inbound frames beyond the per-session rate.
	limiter *rate.Limiter

	logger zerolog.Logger
}

// NewClient wraps an upgraded connection in a new anonymous session.
func NewClient(hub *Hub, conn *websocket.Conn, remoteIP string) *Client {
	id := randx.SessionID()

	return &Client{
		id:      id,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		limiter: rate.NewLimiter(rate.Limit(eventRate), eventBurst),
		logger: logx.Logger().With().
			Str("session_id", id).
			Str("remote_ip", remoteIP).
			Logger(),
	}
}

// ID returns the session handle.
func (c *Client) ID() string {
	return c.id
}

// enqueue queues msg without blocking. It reports false when the queue is full or closed.
func (c *Client) enqueue(msg []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// closeSend closes the send queue once, which makes WritePump send a close frame and exit.
func (c *Client) closeSend() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump reads frames from the connection and submits them to the hub until the
// connection fails or the hub stops. It unregisters the client on exit.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Unexpected close while reading")
			}
			return
		}

		if msgType != websocket.TextMessage {
			c.logger.Debug().Int("message_type", msgType).Msg("Ignoring non-text frame")
			continue
		}

		if !c.limiter.Allow() {
			c.logger.Warn().Msg("Inbound event rate exceeded, dropping frame")
			continue
		}

		if err := c.hub.Submit(c, data); err != nil {
			return
		}
	}
}

func (c *Client) cleanupOnDisconnect() {
	c.hub.Unregister(c)

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

// WritePump writes queued frames and keepalive pings until the queue is closed or a write fails.
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
		case message, ok := <-c.send:
			if !c.writeQueuedMessage(message, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedMessage writes one frame, or a close frame when the queue has been closed.
// It reports whether WritePump should continue.
func (c *Client) writeQueuedMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Warn().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}
