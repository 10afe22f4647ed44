package repository

import (
	"context"
	"time"

	"desk_server/server/desk/domain"
)

// Store is the durable ticket store. Mutations go through InTx so that every
// lifecycle operation commits or rolls back as a unit.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetTicket(ctx context.Context, tenantID, ticketID int64) (domain.Ticket, error)
	ListTickets(ctx context.Context, tenantID int64, filter domain.TicketFilter) ([]domain.Ticket, error)
	GetMessage(ctx context.Context, tenantID, ticketID, messageID int64) (domain.Message, error)
	ListMessages(ctx context.Context, tenantID, ticketID int64, limit int, afterID *int64) ([]domain.Message, error)
	IsCompanyMember(ctx context.Context, tenantID, userID int64) (bool, error)
	NextSequence(ctx context.Context, tenantID int64, seqDomain string) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

// Tx is the transactional view handed to InTx callbacks. Ticket reads through
// GetTicketForUpdate hold the row until the transaction ends.
type Tx interface {
	LockClient(ctx context.Context, tenantID, clientID int64) error
	ClientExists(ctx context.Context, tenantID, clientID int64) (bool, error)
	DepartmentExists(ctx context.Context, tenantID, departmentID int64) (bool, error)
	IsActiveDepartmentMember(ctx context.Context, tenantID, departmentID, userID int64) (bool, error)

	NextSequence(ctx context.Context, tenantID int64, seqDomain string) (int64, error)

	FindOpenTicket(ctx context.Context, tenantID, clientID int64) (domain.Ticket, bool, error)
	GetTicketForUpdate(ctx context.Context, tenantID, ticketID int64) (domain.Ticket, error)
	InsertTicket(ctx context.Context, ticket domain.Ticket) (domain.Ticket, error)
	UpdateTicket(ctx context.Context, ticket domain.Ticket) error

	InsertMessage(ctx context.Context, message domain.Message) (domain.Message, error)
	GetMessageForUpdate(ctx context.Context, tenantID, ticketID, messageID int64) (domain.Message, error)
	UpdateMessage(ctx context.Context, message domain.Message) error
	LatestMessageID(ctx context.Context, tenantID, ticketID int64) (int64, error)
	MarkMessageRead(ctx context.Context, tenantID, ticketID, messageID int64, at time.Time) error
	MarkMessagesRead(ctx context.Context, tenantID, ticketID int64, olderThanID *int64, at time.Time) (int64, error)
}
