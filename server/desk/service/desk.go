package service

import (
	"context"
	"sync"
	"time"

	commonlog "desk_server/server/common/log"
	"desk_server/server/desk/domain"
	"desk_server/server/desk/repository"
)

// Notifier receives committed changes for real-time delivery. Implementations
// must not block.
type Notifier interface {
	EmitNewMessage(tenantID, ticketID int64, message domain.Message)
	EmitMessageEdited(tenantID, ticketID int64, message domain.Message)
	EmitTicketUpdated(tenantID int64, ticket domain.Ticket)
}

// EventPublisher ships integration events to a broker.
type EventPublisher interface {
	Publish(ctx context.Context, tenantID int64, event string, payload any) error
}

// MediaSigner issues temporary download links for stored attachments.
type MediaSigner interface {
	PresignGet(ctx context.Context, objectKey string, ttl time.Duration) (string, error)
}

const (
	EventTicketCreated     = "ticket.created"
	EventTicketClaimed     = "ticket.claimed"
	EventTicketTransferred = "ticket.transferred"
	EventTicketClosed      = "ticket.closed"
	EventTicketEscalated   = "ticket.escalated"
	EventMessageCreated    = "message.created"
	EventMessageEdited     = "message.edited"
)

const publishTimeout = 5 * time.Second

// Desk is the ticket lifecycle engine and message ingestion pipeline.
type Desk struct {
	store     repository.Store
	notifier  Notifier
	publisher EventPublisher
	deduper   Deduper
	media     MediaSigner
	now       func() time.Time

	publishing sync.WaitGroup
}

type Option func(*Desk)

func WithNotifier(n Notifier) Option {
	return func(d *Desk) {
		if n != nil {
			d.notifier = n
		}
	}
}

func WithPublisher(p EventPublisher) Option {
	return func(d *Desk) {
		if p != nil {
			d.publisher = p
		}
	}
}

func WithDeduper(dd Deduper) Option {
	return func(d *Desk) { d.deduper = dd }
}

func WithMediaSigner(m MediaSigner) Option {
	return func(d *Desk) { d.media = m }
}

func WithClock(now func() time.Time) Option {
	return func(d *Desk) {
		if now != nil {
			d.now = now
		}
	}
}

func NewDesk(store repository.Store, opts ...Option) *Desk {
	d := &Desk{
		store:     store,
		notifier:  nopNotifier{},
		publisher: nopPublisher{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// effects collects what a transaction changed; flushed only after commit.
type effects struct {
	messages []domain.Message
	edited   []domain.Message
	tickets  []domain.Ticket
	events   []integrationEvent
}

type integrationEvent struct {
	tenantID int64
	name     string
	payload  map[string]any
}

func (fx *effects) ticket(t domain.Ticket) {
	fx.tickets = append(fx.tickets, t)
}

func (fx *effects) event(tenantID int64, name string, payload map[string]any) {
	fx.events = append(fx.events, integrationEvent{tenantID: tenantID, name: name, payload: payload})
}

func (d *Desk) flush(fx *effects) {
	for _, m := range fx.messages {
		d.notifier.EmitNewMessage(m.TenantID, m.TicketID, m)
	}
	for _, m := range fx.edited {
		d.notifier.EmitMessageEdited(m.TenantID, m.TicketID, m)
	}
	for _, t := range fx.tickets {
		d.notifier.EmitTicketUpdated(t.TenantID, t)
	}
	if len(fx.events) == 0 {
		return
	}
	events := fx.events
	d.publishing.Add(1)
	go func() {
		defer d.publishing.Done()
		for _, ev := range events {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			err := d.publisher.Publish(ctx, ev.tenantID, ev.name, ev.payload)
			cancel()
			if err != nil {
				commonlog.Warnf("event=desk_event_publish action=publish status=failed tenant_id=%d name=%s error=%v", ev.tenantID, ev.name, err)
			}
		}
	}()
}

// Wait blocks until every integration event handed to the publisher so far
// has been sent or has failed.
func (d *Desk) Wait() {
	d.publishing.Wait()
}

func ticketEventPayload(event string, t domain.Ticket, actorID *int64) map[string]any {
	payload := map[string]any{
		"event":         event,
		"tenant_id":     t.TenantID,
		"ticket_id":     t.ID,
		"client_id":     t.ClientID,
		"status":        t.Status,
		"department_id": t.DepartmentID,
		"attendant_id":  t.AttendantID,
		"occurred_at":   t.UpdatedAt,
	}
	if actorID != nil {
		payload["actor_id"] = *actorID
	}
	return payload
}

func messageEventPayload(event string, m domain.Message) map[string]any {
	return map[string]any{
		"event":          event,
		"tenant_id":      m.TenantID,
		"ticket_id":      m.TicketID,
		"message_id":     m.ID,
		"sender_type":    m.SenderType,
		"sender_user_id": m.SenderUserID,
		"content":        m.Content,
		"media_type":     m.MediaType,
		"created_at":     m.CreatedAt,
		"edited_at":      m.EditedAt,
	}
}

type nopNotifier struct{}

func (nopNotifier) EmitNewMessage(int64, int64, domain.Message)    {}
func (nopNotifier) EmitMessageEdited(int64, int64, domain.Message) {}
func (nopNotifier) EmitTicketUpdated(int64, domain.Ticket)         {}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, int64, string, any) error { return nil }

func int64Ptr(v int64) *int64 { return &v }

func timePtr(v time.Time) *time.Time { return &v }
