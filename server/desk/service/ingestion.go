package service

import (
	"context"
	"strings"
	"time"

	commonlog "desk_server/server/common/log"
	"desk_server/server/desk/domain"
	"desk_server/server/desk/repository"
	"desk_server/server/desk/sequence"
)

const (
	editWindow              = 15 * time.Minute
	defaultMessageListLimit = 100
	maxMessageListLimit     = 500
)

type InboundInput struct {
	TenantID   int64
	ClientID   int64
	Content    *string
	MediaType  *domain.MediaType
	MediaRef   *string
	ExternalID string
}

type BotReplyInput struct {
	TenantID  int64
	TicketID  int64
	Content   *string
	MediaType *domain.MediaType
	MediaRef  *string
}

type SendMessageInput struct {
	TenantID  int64
	TicketID  int64
	UserID    int64
	Content   *string
	MediaType *domain.MediaType
	MediaRef  *string
	ReplyToID *int64
}

type EditMessageInput struct {
	TenantID     int64
	TicketID     int64
	MessageID    int64
	NewContent   *string
	NewMediaType *domain.MediaType
}

// InboundFromClient appends a customer message, opening a BOT ticket when the
// client has no open conversation.
func (d *Desk) InboundFromClient(ctx context.Context, in InboundInput) (domain.InboundResult, error) {
	if in.TenantID <= 0 || in.ClientID <= 0 {
		return domain.InboundResult{}, domain.BadRequestf("tenant and client are required")
	}
	content := NormalizeContent(in.Content, in.MediaType)
	if content == nil && in.MediaType == nil && blank(in.MediaRef) {
		return domain.InboundResult{}, domain.BadRequestf("message has no content")
	}

	externalID := strings.TrimSpace(in.ExternalID)
	dedupeKey := ""
	if externalID != "" && d.deduper != nil {
		dedupeKey = inboundIdempotencyKey(in.TenantID, in.ClientID, externalID)
		fresh, err := d.deduper.Claim(ctx, dedupeKey)
		if err != nil {
			return domain.InboundResult{}, err
		}
		if !fresh {
			return domain.InboundResult{}, domain.Conflictf("inbound message %s already processed", externalID)
		}
	}

	fx := &effects{}
	var res domain.InboundResult
	err := d.store.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.LockClient(ctx, in.TenantID, in.ClientID); err != nil {
			return err
		}
		t, found, err := tx.FindOpenTicket(ctx, in.TenantID, in.ClientID)
		if err != nil {
			return err
		}
		now := d.now()
		if !found {
			if err := requireClient(ctx, tx, in.TenantID, in.ClientID); err != nil {
				return err
			}
			id, err := sequence.Next(ctx, tx, in.TenantID, domain.SequenceTicket)
			if err != nil {
				return err
			}
			t, err = tx.InsertTicket(ctx, domain.Ticket{
				TenantID:  in.TenantID,
				ID:        id,
				ClientID:  in.ClientID,
				Status:    domain.TicketStatusBot,
				CreatedAt: now,
				UpdatedAt: now,
			})
			if err != nil {
				return err
			}
			res.Created = true
			fx.event(in.TenantID, EventTicketCreated, ticketEventPayload(EventTicketCreated, t, nil))
		}

		m, err := d.appendMessage(ctx, tx, &t, domain.Message{
			SenderType: domain.SenderClient,
			Content:    content,
			MediaType:  in.MediaType,
			MediaRef:   trimmed(in.MediaRef),
		}, now)
		if err != nil {
			return err
		}
		res.Ticket, res.Message = t, m
		fx.messages = append(fx.messages, m)
		fx.ticket(t)
		fx.event(in.TenantID, EventMessageCreated, messageEventPayload(EventMessageCreated, m))
		return nil
	})
	if err != nil {
		if dedupeKey != "" {
			d.deduper.Release(context.WithoutCancel(ctx), dedupeKey)
		}
		return domain.InboundResult{}, err
	}
	commonlog.Infof("event=desk_message action=inbound status=ok tenant_id=%d ticket_id=%d client_id=%d message_id=%d created=%t", in.TenantID, res.Ticket.ID, in.ClientID, res.Message.ID, res.Created)
	d.flush(fx)
	return res, nil
}

// BotReply appends an automated answer. Only BOT tickets accept bot messages.
func (d *Desk) BotReply(ctx context.Context, in BotReplyInput) (domain.Message, error) {
	content := NormalizeContent(in.Content, in.MediaType)
	if content == nil && in.MediaType == nil {
		return domain.Message{}, domain.BadRequestf("message has no content")
	}

	fx := &effects{}
	var out domain.Message
	err := d.store.InTx(ctx, func(tx repository.Tx) error {
		t, err := tx.GetTicketForUpdate(ctx, in.TenantID, in.TicketID)
		if err != nil {
			return err
		}
		if t.Status != domain.TicketStatusBot {
			return domain.Conflictf("ticket %d is %s, bot replies need a BOT ticket", t.ID, t.Status)
		}
		out, err = d.appendMessage(ctx, tx, &t, domain.Message{
			SenderType: domain.SenderBot,
			Content:    content,
			MediaType:  in.MediaType,
			MediaRef:   trimmed(in.MediaRef),
		}, d.now())
		if err != nil {
			return err
		}
		fx.messages = append(fx.messages, out)
		fx.ticket(t)
		fx.event(in.TenantID, EventMessageCreated, messageEventPayload(EventMessageCreated, out))
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}
	d.flush(fx)
	return out, nil
}

// SendMessage appends an attendant message. An unowned ticket is claimed by
// the sender on the way.
func (d *Desk) SendMessage(ctx context.Context, in SendMessageInput) (domain.Message, error) {
	content := NormalizeContent(in.Content, in.MediaType)
	if content == nil && in.MediaType == nil {
		return domain.Message{}, domain.BadRequestf("message has no content")
	}

	fx := &effects{}
	var out domain.Message
	err := d.store.InTx(ctx, func(tx repository.Tx) error {
		t, err := tx.GetTicketForUpdate(ctx, in.TenantID, in.TicketID)
		if err != nil {
			return err
		}
		if t.Status == domain.TicketStatusClosed {
			return domain.Forbiddenf("ticket %d is closed", t.ID)
		}
		if t.OwnedByOther(in.UserID) {
			return domain.Forbiddenf("ticket %d is owned by another attendant", t.ID)
		}
		if in.ReplyToID != nil {
			if _, err := tx.GetMessageForUpdate(ctx, in.TenantID, in.TicketID, *in.ReplyToID); err != nil {
				return err
			}
		}

		now := d.now()
		claimed := takeOwnership(&t, in.UserID, now)
		out, err = d.appendMessage(ctx, tx, &t, domain.Message{
			SenderType:   domain.SenderAttendant,
			SenderUserID: int64Ptr(in.UserID),
			Content:      content,
			MediaType:    in.MediaType,
			MediaRef:     trimmed(in.MediaRef),
			ReplyToID:    in.ReplyToID,
		}, now)
		if err != nil {
			return err
		}
		fx.messages = append(fx.messages, out)
		fx.ticket(t)
		if claimed {
			fx.event(in.TenantID, EventTicketClaimed, ticketEventPayload(EventTicketClaimed, t, int64Ptr(in.UserID)))
		}
		fx.event(in.TenantID, EventMessageCreated, messageEventPayload(EventMessageCreated, out))
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}
	d.flush(fx)
	return out, nil
}

// appendMessage stores m on t and refreshes the ticket's preview columns.
func (d *Desk) appendMessage(ctx context.Context, tx repository.Tx, t *domain.Ticket, m domain.Message, now time.Time) (domain.Message, error) {
	m.TenantID = t.TenantID
	m.TicketID = t.ID
	m.CreatedAt = now
	saved, err := tx.InsertMessage(ctx, m)
	if err != nil {
		return domain.Message{}, err
	}
	t.LastMessageAt = timePtr(now)
	t.LastMessagePreview = Preview(saved.Content, saved.MediaType, saved.MediaRef)
	t.UpdatedAt = now
	if err := tx.UpdateTicket(ctx, *t); err != nil {
		return domain.Message{}, err
	}
	return saved, nil
}

func (d *Desk) MarkRead(ctx context.Context, tenantID, ticketID, messageID int64) (domain.Message, error) {
	var out domain.Message
	err := d.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetTicketForUpdate(ctx, tenantID, ticketID); err != nil {
			return err
		}
		if err := tx.MarkMessageRead(ctx, tenantID, ticketID, messageID, d.now()); err != nil {
			return err
		}
		m, err := tx.GetMessageForUpdate(ctx, tenantID, ticketID, messageID)
		out = m
		return err
	})
	if err != nil {
		return domain.Message{}, err
	}
	return out, nil
}

// BulkMarkRead stamps every unread message, optionally only up to olderThanID,
// and returns how many were stamped.
func (d *Desk) BulkMarkRead(ctx context.Context, tenantID, ticketID int64, olderThanID *int64) (int64, error) {
	var affected int64
	err := d.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetTicketForUpdate(ctx, tenantID, ticketID); err != nil {
			return err
		}
		n, err := tx.MarkMessagesRead(ctx, tenantID, ticketID, olderThanID, d.now())
		affected = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// EditMessage rewrites a message inside the edit window. The first edit keeps
// the pre-edit text in OriginalContent.
func (d *Desk) EditMessage(ctx context.Context, in EditMessageInput) (domain.Message, error) {
	if in.NewContent == nil && in.NewMediaType == nil {
		return domain.Message{}, domain.BadRequestf("nothing to edit")
	}

	fx := &effects{}
	var out domain.Message
	err := d.store.InTx(ctx, func(tx repository.Tx) error {
		t, err := tx.GetTicketForUpdate(ctx, in.TenantID, in.TicketID)
		if err != nil {
			return err
		}
		m, err := tx.GetMessageForUpdate(ctx, in.TenantID, in.TicketID, in.MessageID)
		if err != nil {
			return err
		}
		now := d.now()
		if now.Sub(m.CreatedAt) > editWindow {
			return domain.Forbiddenf("message %d can no longer be edited", m.ID)
		}

		mediaType := m.MediaType
		if in.NewMediaType != nil {
			mediaType = in.NewMediaType
		}
		content := m.Content
		if in.NewContent != nil {
			content = in.NewContent
		}
		content = NormalizeContent(content, mediaType)
		if content == nil && mediaType == nil {
			return domain.BadRequestf("message has no content")
		}
		if equalString(content, m.Content) && equalMedia(mediaType, m.MediaType) {
			out = m
			return nil
		}

		if m.EditedAt == nil {
			m.OriginalContent = m.Content
		}
		m.Content = content
		m.MediaType = mediaType
		m.EditedAt = timePtr(now)
		if err := tx.UpdateMessage(ctx, m); err != nil {
			return err
		}
		out = m
		fx.edited = append(fx.edited, m)
		fx.event(in.TenantID, EventMessageEdited, messageEventPayload(EventMessageEdited, m))

		latest, err := tx.LatestMessageID(ctx, in.TenantID, in.TicketID)
		if err != nil {
			return err
		}
		if latest == m.ID {
			t.LastMessagePreview = Preview(m.Content, m.MediaType, m.MediaRef)
			t.UpdatedAt = now
			if err := tx.UpdateTicket(ctx, t); err != nil {
				return err
			}
			fx.ticket(t)
		}
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}
	d.flush(fx)
	return out, nil
}

// ListMessages pages forward through a ticket's history, oldest first.
func (d *Desk) ListMessages(ctx context.Context, tenantID, ticketID int64, limit int, cursor *int64) ([]domain.Message, error) {
	if limit <= 0 {
		limit = defaultMessageListLimit
	}
	if limit > maxMessageListLimit {
		limit = maxMessageListLimit
	}
	if _, err := d.store.GetTicket(ctx, tenantID, ticketID); err != nil {
		return nil, err
	}
	return d.store.ListMessages(ctx, tenantID, ticketID, limit, cursor)
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalMedia(a, b *domain.MediaType) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

func trimmed(s *string) *string {
	if blank(s) {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
