package ws

import (
	"sync"
	"time"

	"github.com/avvvet/explain-services/internal/auth"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 32

	// frames up to minReadLimit are always read, so an oversized
	// justification reaches validation; a rune escaped as a JSON surrogate
	// pair takes maxBytesPerRune bytes
	minReadLimit    = 64 << 10
	maxBytesPerRune = 12
	envelopeBytes   = 4096
)

// readLimitFor is the largest frame accepted for a justification of at most
// maxReasonRunes.
func readLimitFor(maxReasonRunes int) int64 {
	return max(int64(minReadLimit), int64(maxReasonRunes)*maxBytesPerRune+envelopeBytes)
}

// Client is one authenticated websocket connection. Frames are queued on
// send and written by a single writePump goroutine.
type Client struct {
	ID       string
	Identity *auth.Identity

	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
	roomID string
}

func newClient(id string, identity *auth.Identity, conn *websocket.Conn) *Client {
	return &Client{
		ID:       id,
		Identity: identity,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
	}
}

// Send queues a frame without blocking. A full buffer drops the frame.
func (c *Client) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		log.Warnf("send buffer full for socket %s, frame dropped", c.ID)
		return false
	}
}

func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Client) setRoom(roomID string) {
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
}

// leaveRoom clears the binding only if it still points at roomID.
func (c *Client) leaveRoom(roomID string) {
	c.mu.Lock()
	if c.roomID == roomID {
		c.roomID = ""
	}
	c.mu.Unlock()
}

// close stops the write pump, which then closes the connection.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) writePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Errorf("Error writing to socket %s: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debugf("ping to socket %s failed: %v", c.ID, err)
				return
			}
		}
	}
}
