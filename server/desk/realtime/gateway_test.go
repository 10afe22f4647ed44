package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"desk_server/server/common/auth"
)

type visibleTickets map[[2]int64]bool

func (v visibleTickets) TicketVisible(_ context.Context, tenantID, ticketID int64) (bool, error) {
	return v[[2]int64{tenantID, ticketID}], nil
}

type recordingMirror struct {
	mu    sync.Mutex
	state map[[2]int64]bool
}

func (m *recordingMirror) SetOnline(_ context.Context, tenantID, userID int64, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[[2]int64{tenantID, userID}] = online
	return nil
}

func (m *recordingMirror) get(tenantID, userID int64) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.state[[2]int64{tenantID, userID}]
	return v, ok
}

type gatewayHarness struct {
	gateway *Gateway
	tokens  *auth.Service
	mirror  *recordingMirror
	url     string
}

func newGatewayHarness(t *testing.T) *gatewayHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tokens := auth.NewService("test-secret", 60)
	mirror := &recordingMirror{state: map[[2]int64]bool{}}
	g := NewGateway(tokens, visibleTickets{{1, 7}: true}, Config{HandshakeTimeout: time.Second, Mirror: mirror}, nil)

	r := gin.New()
	r.GET("/ws", g.ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		g.Close()
		srv.Close()
	})
	return &gatewayHarness{
		gateway: g,
		tokens:  tokens,
		mirror:  mirror,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (h *gatewayHarness) token(t *testing.T, userID int64, companyID *int64) string {
	t.Helper()
	tok, err := h.tokens.GenerateToken(userID, companyID)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return tok
}

func (h *gatewayHarness) dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func bearer(tok string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + tok}}
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v", eventType, err)
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		if ev.Type == eventType {
			return ev
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, frame any) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func company(id int64) *int64 { return &id }

func TestGatewayHeaderAuthAndTicketRoom(t *testing.T) {
	h := newGatewayHarness(t)
	conn := h.dial(t, h.url, bearer(h.token(t, 9, company(1))))

	send(t, conn, map[string]any{"type": "join", "ticket_id": 7})
	joined := readUntil(t, conn, frameJoined)
	if joined.Room != TicketRoom(1, 7) {
		t.Fatalf("joined room = %q", joined.Room)
	}

	h.gateway.EmitNewMessage(1, 7, map[string]any{"id": 100})
	ev := readUntil(t, conn, EventMessage)
	if ev.Room != TicketRoom(1, 7) {
		t.Fatalf("message room = %q", ev.Room)
	}
	payload, _ := ev.Payload.(map[string]any)
	if payload["id"] != float64(100) {
		t.Fatalf("payload = %v", ev.Payload)
	}

	h.gateway.EmitTicketUpdated(1, map[string]any{"id": 7})
	if ev := readUntil(t, conn, EventTicketUpdated); ev.Room != CompanyRoom(1) {
		t.Fatalf("ticket.updated room = %q", ev.Room)
	}

	send(t, conn, map[string]any{"type": "leave", "ticket_id": 7})
	readUntil(t, conn, frameLeft)
	if n := h.gateway.Presence().RoomSize(TicketRoom(1, 7)); n != 0 {
		t.Fatalf("room size after leave = %d", n)
	}
}

func TestGatewayQueryAndHandshakeAuth(t *testing.T) {
	h := newGatewayHarness(t)

	byQuery := h.dial(t, h.url+"?token="+h.token(t, 9, company(1)), nil)
	send(t, byQuery, map[string]any{"type": "ping"})
	readUntil(t, byQuery, framePong)

	byFrame := h.dial(t, h.url, nil)
	send(t, byFrame, map[string]any{"auth": map[string]any{"token": h.token(t, 11, company(1))}})
	send(t, byFrame, map[string]any{"type": "ping"})
	readUntil(t, byFrame, framePong)

	eventually(t, func() bool { return h.gateway.Presence().IsOnline(11) })
}

func TestGatewayRejectsBadToken(t *testing.T) {
	h := newGatewayHarness(t)
	conn := h.dial(t, h.url, bearer("not-a-token"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
	if h.gateway.Presence().IsOnline(9) {
		t.Fatal("rejected socket must not register")
	}
}

func TestGatewayJoinRequiresVisibleTicket(t *testing.T) {
	h := newGatewayHarness(t)

	conn := h.dial(t, h.url, bearer(h.token(t, 9, company(1))))
	send(t, conn, map[string]any{"type": "join", "ticket_id": 8})
	if ev := readUntil(t, conn, frameError); ev.Error != "forbidden" {
		t.Fatalf("error = %q", ev.Error)
	}

	other := h.dial(t, h.url, bearer(h.token(t, 12, company(2))))
	send(t, other, map[string]any{"type": "join", "ticket_id": 7})
	readUntil(t, other, frameError)

	noTenant := h.dial(t, h.url, bearer(h.token(t, 13, nil)))
	send(t, noTenant, map[string]any{"type": "join", "ticket_id": 7})
	readUntil(t, noTenant, frameError)

	send(t, conn, map[string]any{"type": "dance"})
	if ev := readUntil(t, conn, frameError); ev.Error != "unknown frame type" {
		t.Fatalf("error = %q", ev.Error)
	}
}

func TestGatewayPresenceEvents(t *testing.T) {
	h := newGatewayHarness(t)

	watcher := h.dial(t, h.url, bearer(h.token(t, 9, company(1))))
	send(t, watcher, map[string]any{"type": "ping"})
	readUntil(t, watcher, framePong)

	peer := h.dial(t, h.url, bearer(h.token(t, 11, company(1))))
	for {
		ev := readUntil(t, watcher, EventPresence)
		p, _ := ev.Payload.(map[string]any)
		if p["user_id"] == float64(11) && p["online"] == true {
			break
		}
	}
	eventually(t, func() bool { v, ok := h.mirror.get(1, 11); return ok && v })

	_ = peer.Close()
	for {
		ev := readUntil(t, watcher, EventPresence)
		p, _ := ev.Payload.(map[string]any)
		if p["user_id"] == float64(11) && p["online"] == false {
			break
		}
	}
	eventually(t, func() bool { return !h.gateway.Presence().IsOnline(11) })
	eventually(t, func() bool { v, ok := h.mirror.get(1, 11); return ok && !v })
}

func TestGatewayCloseDisconnectsEveryone(t *testing.T) {
	h := newGatewayHarness(t)
	conn := h.dial(t, h.url, bearer(h.token(t, 9, company(1))))
	send(t, conn, map[string]any{"type": "ping"})
	readUntil(t, conn, framePong)
	eventually(t, func() bool { v, ok := h.mirror.get(1, 9); return ok && v })

	h.gateway.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
				t.Fatalf("expected going away, got %v", err)
			}
			break
		}
	}
	if h.gateway.Presence().IsOnline(9) {
		t.Fatal("nobody is online after close")
	}
	if v, ok := h.mirror.get(1, 9); !ok || v {
		t.Fatalf("mirror state = %v, %v", v, ok)
	}
}

func TestGatewayPresenceIsPerCompany(t *testing.T) {
	h := newGatewayHarness(t)

	watcher := h.dial(t, h.url, bearer(h.token(t, 11, company(1))))
	send(t, watcher, map[string]any{"type": "ping"})
	readUntil(t, watcher, framePong)

	inFirst := h.dial(t, h.url, bearer(h.token(t, 9, company(1))))
	send(t, inFirst, map[string]any{"type": "ping"})
	readUntil(t, inFirst, framePong)
	inSecond := h.dial(t, h.url, bearer(h.token(t, 9, company(2))))
	send(t, inSecond, map[string]any{"type": "ping"})
	readUntil(t, inSecond, framePong)

	eventually(t, func() bool { v, ok := h.mirror.get(1, 9); return ok && v })
	eventually(t, func() bool { v, ok := h.mirror.get(2, 9); return ok && v })

	_ = inFirst.Close()
	for {
		ev := readUntil(t, watcher, EventPresence)
		p, _ := ev.Payload.(map[string]any)
		if p["user_id"] == float64(9) && p["online"] == false {
			break
		}
	}
	eventually(t, func() bool { v, ok := h.mirror.get(1, 9); return ok && !v })
	if v, _ := h.mirror.get(2, 9); !v {
		t.Fatal("user must stay online in company 2")
	}
	if !h.gateway.Presence().IsOnline(9) {
		t.Fatal("user still has a socket")
	}
}

func TestGatewayMirrorSettlesOfflineAfterChurn(t *testing.T) {
	h := newGatewayHarness(t)
	for i := 0; i < 5; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(h.url, bearer(h.token(t, 9, company(1))))
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		_ = conn.Close()
	}
	eventually(t, func() bool { _, ok := h.mirror.get(1, 9); return ok })
	h.gateway.Close()
	if v, ok := h.mirror.get(1, 9); !ok || v {
		t.Fatalf("mirror state = %v, %v; want offline", v, ok)
	}
}
