package service

import (
	"context"
	"errors"
	"strings"
	"time"

	commonlog "desk_server/server/common/log"
	"desk_server/server/desk/domain"
	"desk_server/server/desk/repository"
	"desk_server/server/desk/sequence"
)

const (
	defaultTicketListLimit = 50
	maxTicketListLimit     = 200
)

type CreateTicketInput struct {
	TenantID     int64
	ClientID     int64
	DepartmentID *int64
	StartActive  bool
	ActingUserID *int64
}

type TransferInput struct {
	TenantID        int64
	TicketID        int64
	ByUserID        int64
	NewDepartmentID *int64
	NewAttendantID  *int64
}

type ListTicketsInput struct {
	TenantID     int64
	Status       string
	DepartmentID *int64
	AttendantID  *int64
	Limit        int
}

func (d *Desk) CreateTicket(ctx context.Context, in CreateTicketInput) (domain.Ticket, error) {
	if in.TenantID <= 0 || in.ClientID <= 0 {
		return domain.Ticket{}, domain.BadRequestf("tenant and client are required")
	}

	fx := &effects{}
	var created domain.Ticket
	err := d.store.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.LockClient(ctx, in.TenantID, in.ClientID); err != nil {
			return err
		}
		if err := requireClient(ctx, tx, in.TenantID, in.ClientID); err != nil {
			return err
		}
		if in.DepartmentID != nil {
			if err := requireDepartment(ctx, tx, in.TenantID, *in.DepartmentID); err != nil {
				return err
			}
		}
		if open, found, err := tx.FindOpenTicket(ctx, in.TenantID, in.ClientID); err != nil {
			return err
		} else if found {
			return domain.Conflictf("client %d already has open ticket %d", in.ClientID, open.ID)
		}

		id, err := sequence.Next(ctx, tx, in.TenantID, domain.SequenceTicket)
		if err != nil {
			return err
		}
		now := d.now()
		t := domain.Ticket{
			TenantID:     in.TenantID,
			ID:           id,
			ClientID:     in.ClientID,
			Status:       domain.TicketStatusPending,
			DepartmentID: in.DepartmentID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if in.StartActive && in.ActingUserID != nil {
			t.Status = domain.TicketStatusActive
			t.AttendantID = int64Ptr(*in.ActingUserID)
			t.FirstHumanAt = timePtr(now)
		}
		created, err = tx.InsertTicket(ctx, t)
		if err != nil {
			return err
		}
		fx.ticket(created)
		fx.event(created.TenantID, EventTicketCreated, ticketEventPayload(EventTicketCreated, created, in.ActingUserID))
		return nil
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	commonlog.Infof("event=desk_ticket action=create status=ok tenant_id=%d ticket_id=%d client_id=%d ticket_status=%s", created.TenantID, created.ID, created.ClientID, created.Status)
	d.flush(fx)
	return created, nil
}

// EscalateToHuman moves a bot conversation into the department queue.
func (d *Desk) EscalateToHuman(ctx context.Context, tenantID, ticketID, departmentID int64) (domain.Ticket, error) {
	fx := &effects{}
	var out domain.Ticket
	err := d.store.InTx(ctx, func(tx repository.Tx) error {
		t, err := tx.GetTicketForUpdate(ctx, tenantID, ticketID)
		if err != nil {
			return err
		}
		if t.Status != domain.TicketStatusBot {
			return domain.Conflictf("ticket %d is %s, only BOT tickets can be escalated", t.ID, t.Status)
		}
		if err := requireDepartment(ctx, tx, tenantID, departmentID); err != nil {
			return err
		}
		t.Status = domain.TicketStatusPending
		t.DepartmentID = int64Ptr(departmentID)
		t.UpdatedAt = d.now()
		if err := tx.UpdateTicket(ctx, t); err != nil {
			return err
		}
		out = t
		fx.ticket(t)
		fx.event(tenantID, EventTicketEscalated, ticketEventPayload(EventTicketEscalated, t, nil))
		return nil
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	d.flush(fx)
	return out, nil
}

// Claim assigns the ticket to userID. Claiming a ticket the user already owns
// changes nothing once it is ACTIVE.
func (d *Desk) Claim(ctx context.Context, tenantID, ticketID, userID int64) (domain.Ticket, error) {
	fx := &effects{}
	var out domain.Ticket
	err := d.store.InTx(ctx, func(tx repository.Tx) error {
		t, err := tx.GetTicketForUpdate(ctx, tenantID, ticketID)
		if err != nil {
			return err
		}
		if t.Status == domain.TicketStatusClosed {
			return domain.Forbiddenf("ticket %d is closed", t.ID)
		}
		if t.OwnedByOther(userID) {
			return domain.Forbiddenf("ticket %d is owned by another attendant", t.ID)
		}
		if t.OwnedBy(userID) && t.Status == domain.TicketStatusActive {
			out = t
			return nil
		}

		now := d.now()
		takeOwnership(&t, userID, now)
		if err := tx.UpdateTicket(ctx, t); err != nil {
			return err
		}
		out = t
		fx.ticket(t)
		fx.event(tenantID, EventTicketClaimed, ticketEventPayload(EventTicketClaimed, t, int64Ptr(userID)))
		return nil
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	d.flush(fx)
	return out, nil
}

// Transfer re-queues the ticket, optionally under a new department and owner.
// It always lands in PENDING.
func (d *Desk) Transfer(ctx context.Context, in TransferInput) (domain.Ticket, error) {
	fx := &effects{}
	var out domain.Ticket
	err := d.store.InTx(ctx, func(tx repository.Tx) error {
		t, err := tx.GetTicketForUpdate(ctx, in.TenantID, in.TicketID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(t.Status, domain.TicketStatusPending) {
			return domain.Forbiddenf("ticket %d is %s and cannot be transferred", t.ID, t.Status)
		}
		handsBackToOwner := in.NewAttendantID != nil && t.OwnedBy(*in.NewAttendantID)
		if t.OwnedByOther(in.ByUserID) && !handsBackToOwner {
			return domain.Forbiddenf("ticket %d is owned by another attendant", t.ID)
		}

		departmentID := t.DepartmentID
		if in.NewDepartmentID != nil {
			if err := requireDepartment(ctx, tx, in.TenantID, *in.NewDepartmentID); err != nil {
				return err
			}
			departmentID = int64Ptr(*in.NewDepartmentID)
		}

		now := d.now()
		if in.NewAttendantID != nil {
			if departmentID == nil {
				return domain.BadRequestf("ticket %d has no department to transfer within", t.ID)
			}
			member, err := tx.IsActiveDepartmentMember(ctx, in.TenantID, *departmentID, *in.NewAttendantID)
			if err != nil {
				return err
			}
			if !member {
				return domain.BadRequestf("attendant %d is not an active member of department %d", *in.NewAttendantID, *departmentID)
			}
			t.AttendantID = int64Ptr(*in.NewAttendantID)
			// set-once: an existing stamp is never touched
			if t.FirstHumanAt == nil {
				t.FirstHumanAt = timePtr(now)
			}
		} else {
			t.AttendantID = nil
		}
		t.DepartmentID = departmentID
		t.Status = domain.TicketStatusPending
		t.UpdatedAt = now
		if err := tx.UpdateTicket(ctx, t); err != nil {
			return err
		}
		out = t
		fx.ticket(t)
		fx.event(in.TenantID, EventTicketTransferred, ticketEventPayload(EventTicketTransferred, t, int64Ptr(in.ByUserID)))
		return nil
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	commonlog.Infof("event=desk_ticket action=transfer status=ok tenant_id=%d ticket_id=%d by_user_id=%d", in.TenantID, in.TicketID, in.ByUserID)
	d.flush(fx)
	return out, nil
}

// Close finishes the conversation. Closing a closed ticket returns it unchanged.
func (d *Desk) Close(ctx context.Context, tenantID, ticketID, userID int64) (domain.Ticket, error) {
	fx := &effects{}
	var out domain.Ticket
	err := d.store.InTx(ctx, func(tx repository.Tx) error {
		t, err := tx.GetTicketForUpdate(ctx, tenantID, ticketID)
		if err != nil {
			return err
		}
		if t.Status == domain.TicketStatusClosed {
			out = t
			return nil
		}
		if t.OwnedByOther(userID) {
			return domain.Forbiddenf("ticket %d is owned by another attendant", t.ID)
		}

		now := d.now()
		if t.AttendantID == nil {
			t.AttendantID = int64Ptr(userID)
		}
		if t.FirstHumanAt == nil {
			t.FirstHumanAt = timePtr(now)
		}
		t.Status = domain.TicketStatusClosed
		t.ClosedAt = timePtr(now)
		t.UpdatedAt = now
		if err := tx.UpdateTicket(ctx, t); err != nil {
			return err
		}
		out = t
		fx.ticket(t)
		fx.event(tenantID, EventTicketClosed, ticketEventPayload(EventTicketClosed, t, int64Ptr(userID)))
		return nil
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	d.flush(fx)
	return out, nil
}

func (d *Desk) GetTicket(ctx context.Context, tenantID, ticketID int64) (domain.Ticket, error) {
	return d.store.GetTicket(ctx, tenantID, ticketID)
}

// ListTickets serves the queue views. With an attendant filter, PENDING means
// "queued in my departments", CLOSED means "closed by me today" and anything
// else means "owned by me".
func (d *Desk) ListTickets(ctx context.Context, in ListTicketsInput) ([]domain.Ticket, error) {
	filter := domain.TicketFilter{
		DepartmentID: in.DepartmentID,
		AttendantID:  in.AttendantID,
		Limit:        in.Limit,
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultTicketListLimit
	}
	if filter.Limit > maxTicketListLimit {
		filter.Limit = maxTicketListLimit
	}
	if raw := strings.ToUpper(strings.TrimSpace(in.Status)); raw != "" {
		status, ok := domain.ParseTicketStatus(raw)
		if !ok {
			return nil, domain.BadRequestf("unknown status %q", in.Status)
		}
		filter.Status = &status
		if status == domain.TicketStatusClosed {
			since := startOfDay(d.now())
			filter.ClosedSince = &since
		}
	}
	return d.store.ListTickets(ctx, in.TenantID, filter)
}

// AuthorizeMember fails with Forbidden unless userID belongs to the tenant.
func (d *Desk) AuthorizeMember(ctx context.Context, tenantID, userID int64) error {
	ok, err := d.store.IsCompanyMember(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.Forbiddenf("user %d is not a member of company %d", userID, tenantID)
	}
	return nil
}

// TicketVisible reports whether the ticket exists inside the tenant.
func (d *Desk) TicketVisible(ctx context.Context, tenantID, ticketID int64) (bool, error) {
	_, err := d.store.GetTicket(ctx, tenantID, ticketID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (d *Desk) Ping(ctx context.Context) error {
	return d.store.Ping(ctx)
}

// takeOwnership is the claim side effect shared by Claim and attendant sends.
// It reports whether anything changed.
func takeOwnership(t *domain.Ticket, userID int64, now time.Time) bool {
	changed := false
	if t.AttendantID == nil {
		t.AttendantID = int64Ptr(userID)
		changed = true
	}
	if t.FirstHumanAt == nil {
		t.FirstHumanAt = timePtr(now)
		changed = true
	}
	if t.Status == domain.TicketStatusPending || t.Status == domain.TicketStatusBot {
		t.Status = domain.TicketStatusActive
		changed = true
	}
	if changed {
		t.UpdatedAt = now
	}
	return changed
}

func requireClient(ctx context.Context, tx repository.Tx, tenantID, clientID int64) error {
	ok, err := tx.ClientExists(ctx, tenantID, clientID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NotFoundf("client %d", clientID)
	}
	return nil
}

func requireDepartment(ctx context.Context, tx repository.Tx, tenantID, departmentID int64) error {
	ok, err := tx.DepartmentExists(ctx, tenantID, departmentID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NotFoundf("department %d", departmentID)
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	y, m, day := t.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, t.Location())
}
