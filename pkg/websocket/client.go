package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/gocomet/ride-dispatch/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBufferSize = 64
)

var (
	ErrSendBufferFull = errors.New("client send buffer full")
	ErrClientClosed   = errors.New("client closed")
)

// Client represents a WebSocket client connection
type Client struct {
	id       string
	UserID   string
	UserType string // "rider" or "driver"
	Conn     *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// OnMessage is called for every text frame read from the peer
	OnMessage func(message []byte)
	// OnClose is called once when the read side ends
	OnClose func()

	logger *logger.Logger
}

// NewClient creates a new WebSocket client
func NewClient(conn *websocket.Conn, userID, userType string, log *logger.Logger) *Client {
	return &Client{
		id:       uuid.NewString(),
		UserID:   userID,
		UserType: userType,
		Conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
		logger:   log,
	}
}

// ID returns the connection ID
func (c *Client) ID() string {
	return c.id
}

// Deliver queues a frame for the write pump without blocking
func (c *Client) Deliver(payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSendBufferFull
	}
}

// Close stops the write pump and closes the connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.Conn.Close()
	})
}

// Done is closed once the client has been closed
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ReadPump pumps messages from the WebSocket connection to OnMessage until the
// peer goes away.
func (c *Client) ReadPump() {
	defer func() {
		if c.OnClose != nil {
			c.OnClose()
		}
		c.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error",
					logger.Err(err),
					logger.String("client_id", c.id),
				)
			}
			return
		}
		// Any traffic from the peer proves liveness.
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))

		if c.OnMessage != nil {
			c.OnMessage(message)
		}
	}
}

// WritePump pumps queued frames to the WebSocket connection, one frame per
// message, and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("WebSocket write failed",
					logger.Err(err),
					logger.String("client_id", c.id),
				)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
