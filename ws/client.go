package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"prizepick/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

// Client is one websocket connection. Sends never block: when the buffer is
// full the message is dropped for this client only.
type Client struct {
	conn     *websocket.Conn
	gameID   string
	playerID string
	username string
	send     chan []byte

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, gameID, playerID, username string) *Client {
	return &Client{
		conn:     conn,
		gameID:   gameID,
		playerID: playerID,
		username: username,
		send:     make(chan []byte, sendBuffer),
	}
}

func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		logger.Warnf("Client %s send buffer full, dropping message", c.playerID)
		return false
	}
}

func (c *Client) sendMessage(msg OutgoingMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("Failed to marshal %s message: %v", msg.Type, err)
		return
	}
	c.trySend(data)
}

// close stops the write pump. It is safe to call more than once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump delivers every inbound text frame to onMessage until the
// connection fails, then calls onClose.
func (c *Client) readPump(onMessage func([]byte), onClose func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Recovered in readPump for %s: %v", c.playerID, r)
		}
		onClose()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warnf("WebSocket error: %v", err)
			}
			return
		}
		onMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
