package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"desk_server/server/desk/domain"
)

func ptr[T any](v T) *T { return &v }

func openTicket(tenant, id, client int64, status domain.TicketStatus) domain.Ticket {
	now := time.Now()
	return domain.Ticket{TenantID: tenant, ID: id, ClientID: client, Status: status, CreatedAt: now, UpdatedAt: now}
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx Tx) error {
		if _, err := tx.InsertTicket(ctx, openTicket(1, 1, 10, domain.TicketStatusBot)); err != nil {
			return err
		}
		if _, err := tx.InsertMessage(ctx, domain.Message{TenantID: 1, TicketID: 1, SenderType: domain.SenderClient}); err != nil {
			return err
		}
		if _, err := tx.NextSequence(ctx, 1, domain.SequenceTicket); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v", err)
	}
	if _, err := s.GetTicket(ctx, 1, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ticket survived rollback: %v", err)
	}
	msgs, _ := s.ListMessages(ctx, 1, 1, 10, nil)
	if len(msgs) != 0 {
		t.Fatalf("messages survived rollback: %d", len(msgs))
	}
	if v, _ := s.NextSequence(ctx, 1, domain.SequenceTicket); v != 1 {
		t.Fatalf("counter survived rollback: %d", v)
	}
}

func TestInsertTicketRejectsSecondOpenTicket(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.InTx(ctx, func(tx Tx) error {
		_, err := tx.InsertTicket(ctx, openTicket(1, 1, 10, domain.TicketStatusPending))
		return err
	})
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err = s.InTx(ctx, func(tx Tx) error {
		_, err := tx.InsertTicket(ctx, openTicket(1, 2, 10, domain.TicketStatusBot))
		return err
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	// another tenant may reuse the client and ticket numbers
	err = s.InTx(ctx, func(tx Tx) error {
		_, err := tx.InsertTicket(ctx, openTicket(2, 1, 10, domain.TicketStatusBot))
		return err
	})
	if err != nil {
		t.Fatalf("other tenant insert: %v", err)
	}
}

func TestListTicketsFiltersAndOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.AddDepartment(domain.Department{TenantID: 1, ID: 3})
	s.AddDepartment(domain.Department{TenantID: 1, ID: 4})
	s.AddDepartmentMember(1, 3, 50, true)
	s.AddDepartmentMember(1, 4, 50, false)

	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	tickets := []domain.Ticket{
		{TenantID: 1, ID: 1, ClientID: 1, Status: domain.TicketStatusPending, DepartmentID: ptr(int64(3)), LastMessageAt: ptr(base)},
		{TenantID: 1, ID: 2, ClientID: 2, Status: domain.TicketStatusPending, DepartmentID: ptr(int64(4)), LastMessageAt: ptr(base.Add(time.Minute))},
		{TenantID: 1, ID: 3, ClientID: 3, Status: domain.TicketStatusPending, DepartmentID: ptr(int64(3))},
		{TenantID: 1, ID: 4, ClientID: 4, Status: domain.TicketStatusPending, DepartmentID: ptr(int64(3)), LastMessageAt: ptr(base.Add(time.Hour))},
		{TenantID: 1, ID: 5, ClientID: 5, Status: domain.TicketStatusActive, AttendantID: ptr(int64(50)), FirstHumanAt: ptr(base)},
		{TenantID: 1, ID: 6, ClientID: 6, Status: domain.TicketStatusActive, AttendantID: ptr(int64(51)), FirstHumanAt: ptr(base)},
		{TenantID: 2, ID: 1, ClientID: 1, Status: domain.TicketStatusPending, DepartmentID: ptr(int64(3))},
	}
	err := s.InTx(ctx, func(tx Tx) error {
		for _, tk := range tickets {
			if _, err := tx.InsertTicket(ctx, tk); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	pending := domain.TicketStatusPending
	got, err := s.ListTickets(ctx, 1, domain.TicketFilter{Status: &pending, AttendantID: ptr(int64(50)), Limit: 50})
	if err != nil {
		t.Fatalf("ListTickets: %v", err)
	}
	wantIDs := []int64{4, 1, 3}
	if len(got) != len(wantIDs) {
		t.Fatalf("got %d tickets, want %d: %+v", len(got), len(wantIDs), got)
	}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Fatalf("position %d: got ticket %d, want %d", i, got[i].ID, id)
		}
	}

	active := domain.TicketStatusActive
	got, _ = s.ListTickets(ctx, 1, domain.TicketFilter{Status: &active, AttendantID: ptr(int64(50)), Limit: 50})
	if len(got) != 1 || got[0].ID != 5 {
		t.Fatalf("active filter returned %+v", got)
	}

	got, _ = s.ListTickets(ctx, 1, domain.TicketFilter{Limit: 2})
	if len(got) != 2 {
		t.Fatalf("limit not applied: %d", len(got))
	}
}

func TestMarkReadKeepsExistingStamp(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	first := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	var msgID int64
	err := s.InTx(ctx, func(tx Tx) error {
		if _, err := tx.InsertTicket(ctx, openTicket(1, 1, 10, domain.TicketStatusBot)); err != nil {
			return err
		}
		m, err := tx.InsertMessage(ctx, domain.Message{TenantID: 1, TicketID: 1, SenderType: domain.SenderClient})
		msgID = m.ID
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	for _, at := range []time.Time{first, first.Add(time.Hour)} {
		err := s.InTx(ctx, func(tx Tx) error { return tx.MarkMessageRead(ctx, 1, 1, msgID, at) })
		if err != nil {
			t.Fatalf("MarkMessageRead: %v", err)
		}
	}
	m, _ := s.GetMessage(ctx, 1, 1, msgID)
	if m.ReadAt == nil || !m.ReadAt.Equal(first) {
		t.Fatalf("ReadAt = %v, want %v", m.ReadAt, first)
	}

	err = s.InTx(ctx, func(tx Tx) error { return tx.MarkMessageRead(ctx, 1, 1, msgID+100, first) })
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
