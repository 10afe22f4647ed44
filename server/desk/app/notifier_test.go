package app

import (
	"testing"
	"time"

	"desk_server/server/desk/api"
	"desk_server/server/desk/domain"
)

type capturedEmit struct {
	kind     string
	tenantID int64
	ticketID int64
	payload  any
}

type captureEmitter struct {
	calls []capturedEmit
}

func (c *captureEmitter) EmitNewMessage(tenantID, ticketID int64, payload any) {
	c.calls = append(c.calls, capturedEmit{"message", tenantID, ticketID, payload})
}

func (c *captureEmitter) EmitMessageEdited(tenantID, ticketID int64, payload any) {
	c.calls = append(c.calls, capturedEmit{"edited", tenantID, ticketID, payload})
}

func (c *captureEmitter) EmitTicketUpdated(tenantID int64, payload any) {
	c.calls = append(c.calls, capturedEmit{"ticket", tenantID, 0, payload})
}

func TestGatewayNotifierShapesPayloads(t *testing.T) {
	gw := &captureEmitter{}
	n := &gatewayNotifier{gw: gw}
	text := "oi"
	now := time.Now()

	n.EmitNewMessage(1, 7, domain.Message{TenantID: 1, TicketID: 7, ID: 3, SenderType: domain.SenderClient, Content: &text, CreatedAt: now})
	n.EmitTicketUpdated(1, domain.Ticket{TenantID: 1, ID: 7, Status: domain.TicketStatusBot, LastMessagePreview: text})

	if len(gw.calls) != 2 {
		t.Fatalf("calls = %d", len(gw.calls))
	}
	msg, ok := gw.calls[0].payload.(api.MessageResponse)
	if !ok || msg.MensagemID != 3 || msg.AtendimentoID != 7 || msg.Remetente != "CLIENT" {
		t.Fatalf("message payload = %#v", gw.calls[0].payload)
	}
	tk, ok := gw.calls[1].payload.(api.TicketResponse)
	if !ok || tk.AtendimentoID != 7 || tk.Situacao != "BOT" || tk.UltimaMensagem != "oi" {
		t.Fatalf("ticket payload = %#v", gw.calls[1].payload)
	}
}
