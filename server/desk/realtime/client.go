package realtime

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 * 1024
	defaultSendBuf = 64
)

// Client is one authenticated socket. Fields after conn are guarded by the
// owning Presence lock.
type Client struct {
	ID        string
	UserID    int64
	TenantID  int64
	HasTenant bool

	conn       *websocket.Conn
	send       chan []byte
	sendClosed bool
	rooms      map[string]struct{}
	logger     *zap.Logger
}

func newClient(conn *websocket.Conn, userID, tenantID int64, hasTenant bool, buffer int, logger *zap.Logger) *Client {
	if buffer <= 0 {
		buffer = defaultSendBuf
	}
	return &Client{
		ID:        uuid.NewString(),
		UserID:    userID,
		TenantID:  tenantID,
		HasTenant: hasTenant,
		conn:      conn,
		send:      make(chan []byte, buffer),
		rooms:     map[string]struct{}{},
		logger:    logger,
	}
}

func (c *Client) enqueue(data []byte) bool {
	if c.sendClosed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Debug("send buffer full, dropping event",
			zap.String("client_id", c.ID),
			zap.Int64("user_id", c.UserID),
		)
		return false
	}
}

func (c *Client) closeSend() {
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

// writePump owns all writes to the connection. It exits when the send queue
// is closed or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
