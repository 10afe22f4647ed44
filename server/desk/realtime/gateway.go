package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"desk_server/server/common/auth"
)

const (
	EventMessage       = "message"
	EventMessageEdited = "message.edited"
	EventTicketUpdated = "ticket.updated"
	EventPresence      = "presence"

	frameJoined = "joined"
	frameLeft   = "left"
	framePong   = "pong"
	frameError  = "error"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	lookupTimeout           = 5 * time.Second
)

type TokenParser interface {
	ParseIdentity(token string) (auth.Identity, error)
}

// TicketAuthorizer confirms a ticket belongs to the socket's company before
// the socket may join its room.
type TicketAuthorizer interface {
	TicketVisible(ctx context.Context, tenantID, ticketID int64) (bool, error)
}

// PresenceMirror publishes online state outside the process.
type PresenceMirror interface {
	SetOnline(ctx context.Context, tenantID, userID int64, online bool) error
}

type Config struct {
	SendBuffer       int
	HandshakeTimeout time.Duration
	Mirror           PresenceMirror
}

// Event is the envelope of every frame the gateway writes.
type Event struct {
	Type    string `json:"type"`
	Room    string `json:"room,omitempty"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
	SentAt  int64  `json:"sent_at"`
}

type clientFrame struct {
	Type     string `json:"type"`
	TicketID int64  `json:"ticket_id"`
	Auth     *struct {
		Token string `json:"token"`
	} `json:"auth"`
}

type presencePayload struct {
	UserID int64 `json:"user_id"`
	Online bool  `json:"online"`
}

type Gateway struct {
	presence    *Presence
	transitions *transitionQueue
	tokens   TokenParser
	tickets  TicketAuthorizer
	cfg      Config
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewGateway(tokens TokenParser, tickets TicketAuthorizer, cfg Config, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	g := &Gateway{
		presence: NewPresence(),
		tokens:   tokens,
		tickets:  tickets,
		cfg:      cfg,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	g.transitions = newTransitionQueue(g.applyTransition)
	g.presence.onTransition = g.transitions.push
	return g
}

func (g *Gateway) Presence() *Presence {
	return g.presence
}

// ServeWS authenticates the socket from the Authorization header, the token
// query parameter or a first {"auth":{"token":...}} frame, in that order.
func (g *Gateway) ServeWS(c *gin.Context) {
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = strings.TrimSpace(c.Query("token"))
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	if token == "" {
		token = g.readHandshakeToken(conn)
	}
	identity, err := g.authenticate(token)
	if err != nil {
		g.logger.Debug("websocket rejected", zap.Error(err))
		reject(conn)
		return
	}

	client := newClient(conn, identity.UserID, identity.CompanyID, identity.HasTenant, g.cfg.SendBuffer, g.logger)
	if _, err := g.presence.Register(client); err != nil {
		reject(conn)
		return
	}
	g.presence.Join(client, UserRoom(client.UserID))
	if client.HasTenant {
		g.presence.Join(client, CompanyRoom(client.TenantID))
	}
	g.logger.Info("client connected",
		zap.String("client_id", client.ID),
		zap.Int64("user_id", client.UserID),
		zap.Int64("tenant_id", client.TenantID),
	)

	go client.writePump()
	g.readPump(client)
	g.presence.Unregister(client)
	g.logger.Info("client disconnected", zap.String("client_id", client.ID), zap.Int64("user_id", client.UserID))
}

func (g *Gateway) readHandshakeToken(conn *websocket.Conn) string {
	_ = conn.SetReadDeadline(time.Now().Add(g.cfg.HandshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return ""
	}
	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Auth == nil {
		return ""
	}
	return strings.TrimSpace(frame.Auth.Token)
}

func (g *Gateway) authenticate(token string) (auth.Identity, error) {
	if token == "" {
		return auth.Identity{}, errMissingToken
	}
	return g.tokens.ParseIdentity(token)
}

func (g *Gateway) readPump(c *Client) {
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				g.logger.Debug("websocket read error", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			g.reply(c, Event{Type: frameError, Error: "invalid frame"})
			continue
		}
		switch frame.Type {
		case "ping":
			g.reply(c, Event{Type: framePong})
		case "join":
			g.joinTicket(c, frame.TicketID)
		case "leave":
			if !c.HasTenant {
				g.reply(c, Event{Type: frameError, Error: "forbidden"})
				continue
			}
			room := TicketRoom(c.TenantID, frame.TicketID)
			g.presence.Leave(c, room)
			g.reply(c, Event{Type: frameLeft, Room: room})
		default:
			g.reply(c, Event{Type: frameError, Error: "unknown frame type"})
		}
	}
}

func (g *Gateway) joinTicket(c *Client, ticketID int64) {
	if !c.HasTenant || ticketID <= 0 {
		g.reply(c, Event{Type: frameError, Error: "forbidden"})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	ok, err := g.tickets.TicketVisible(ctx, c.TenantID, ticketID)
	if err != nil {
		g.logger.Warn("ticket lookup failed",
			zap.Int64("tenant_id", c.TenantID),
			zap.Int64("ticket_id", ticketID),
			zap.Error(err),
		)
		g.reply(c, Event{Type: frameError, Error: "unavailable"})
		return
	}
	if !ok {
		g.reply(c, Event{Type: frameError, Error: "forbidden"})
		return
	}
	room := TicketRoom(c.TenantID, ticketID)
	g.presence.Join(c, room)
	g.reply(c, Event{Type: frameJoined, Room: room})
}

func (g *Gateway) reply(c *Client, ev Event) {
	ev.SentAt = time.Now().UnixMilli()
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	g.presence.Send(c, data)
}

// applyTransition runs on the transition queue, so events and mirror writes
// for one company member land in the order presence decided them.
func (g *Gateway) applyTransition(t Transition) {
	if !t.HasTenant {
		return
	}
	g.emit(CompanyRoom(t.TenantID), EventPresence, presencePayload{UserID: t.UserID, Online: t.Online})
	if g.cfg.Mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	if err := g.cfg.Mirror.SetOnline(ctx, t.TenantID, t.UserID, t.Online); err != nil {
		g.logger.Warn("presence mirror failed",
			zap.Int64("tenant_id", t.TenantID),
			zap.Int64("user_id", t.UserID),
			zap.Bool("online", t.Online),
			zap.Error(err),
		)
	}
}

func (g *Gateway) emit(room, eventType string, payload any) int {
	data, err := json.Marshal(Event{Type: eventType, Room: room, Payload: payload, SentAt: time.Now().UnixMilli()})
	if err != nil {
		g.logger.Error("marshal event", zap.String("type", eventType), zap.Error(err))
		return 0
	}
	return g.presence.Broadcast(room, data)
}

// EmitNewMessage pushes a new message to everyone watching the ticket.
func (g *Gateway) EmitNewMessage(tenantID, ticketID int64, payload any) {
	g.emit(TicketRoom(tenantID, ticketID), EventMessage, payload)
}

func (g *Gateway) EmitMessageEdited(tenantID, ticketID int64, payload any) {
	g.emit(TicketRoom(tenantID, ticketID), EventMessageEdited, payload)
}

func (g *Gateway) EmitTicketUpdated(tenantID int64, payload any) {
	g.emit(CompanyRoom(tenantID), EventTicketUpdated, payload)
}

// Close disconnects every socket and waits until every member is reported
// offline.
func (g *Gateway) Close() {
	g.presence.Close()
	g.transitions.close()
}

func bearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func reject(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""),
		time.Now().Add(writeWait))
	_ = conn.Close()
}

func (g *Gateway) OnlineCount() int {
	return len(g.presence.OnlineUsers())
}
