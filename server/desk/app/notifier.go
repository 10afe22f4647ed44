package app

import (
	"desk_server/server/desk/api"
	"desk_server/server/desk/domain"
)

type emitter interface {
	EmitNewMessage(tenantID, ticketID int64, payload any)
	EmitMessageEdited(tenantID, ticketID int64, payload any)
	EmitTicketUpdated(tenantID int64, payload any)
}

// gatewayNotifier shapes desk changes into client payloads before they hit
// the websocket rooms.
type gatewayNotifier struct {
	gw emitter
}

func (n *gatewayNotifier) EmitNewMessage(tenantID, ticketID int64, m domain.Message) {
	n.gw.EmitNewMessage(tenantID, ticketID, api.NewMessageResponse(m))
}

func (n *gatewayNotifier) EmitMessageEdited(tenantID, ticketID int64, m domain.Message) {
	n.gw.EmitMessageEdited(tenantID, ticketID, api.NewMessageResponse(m))
}

func (n *gatewayNotifier) EmitTicketUpdated(tenantID int64, t domain.Ticket) {
	n.gw.EmitTicketUpdated(tenantID, api.NewTicketResponse(t))
}
