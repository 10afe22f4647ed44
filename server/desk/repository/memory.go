package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"desk_server/server/desk/domain"
)

type ticketKey struct {
	tenantID int64
	ticketID int64
}

type counterKey struct {
	tenantID  int64
	seqDomain string
}

type departmentKey struct {
	tenantID     int64
	departmentID int64
}

// MemoryStore keeps everything in process. One mutex serializes transactions
// and a per-transaction undo journal restores state when the callback fails.
// Used by STORE_DRIVER=memory and by tests.
type MemoryStore struct {
	mu sync.Mutex

	tickets          map[ticketKey]domain.Ticket
	messages         map[int64]domain.Message
	messagesByTicket map[ticketKey][]int64
	counters         map[counterKey]int64
	lastMessageID    int64

	clients        map[int64]map[int64]struct{}
	departments    map[departmentKey]domain.Department
	deptMembers    map[departmentKey]map[int64]bool
	companyMembers map[int64]map[int64]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:          map[ticketKey]domain.Ticket{},
		messages:         map[int64]domain.Message{},
		messagesByTicket: map[ticketKey][]int64{},
		counters:         map[counterKey]int64{},
		clients:          map[int64]map[int64]struct{}{},
		departments:      map[departmentKey]domain.Department{},
		deptMembers:      map[departmentKey]map[int64]bool{},
		companyMembers:   map[int64]map[int64]struct{}{},
	}
}

func (s *MemoryStore) AddClient(tenantID, clientID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[tenantID]; !ok {
		s.clients[tenantID] = map[int64]struct{}{}
	}
	s.clients[tenantID][clientID] = struct{}{}
}

func (s *MemoryStore) AddDepartment(dept domain.Department) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.departments[departmentKey{dept.TenantID, dept.ID}] = dept
}

func (s *MemoryStore) AddDepartmentMember(tenantID, departmentID, userID int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := departmentKey{tenantID, departmentID}
	if _, ok := s.deptMembers[key]; !ok {
		s.deptMembers[key] = map[int64]bool{}
	}
	s.deptMembers[key][userID] = active
}

func (s *MemoryStore) AddCompanyMember(tenantID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companyMembers[tenantID]; !ok {
		s.companyMembers[tenantID] = map[int64]struct{}{}
	}
	s.companyMembers[tenantID][userID] = struct{}{}
}

// PutMessage stores a message as-is, bypassing id allocation. Tests use it to
// plant messages with arbitrary timestamps.
func (s *MemoryStore) PutMessage(message domain.Message) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastMessageID++
	message.ID = s.lastMessageID
	key := ticketKey{message.TenantID, message.TicketID}
	s.messages[message.ID] = message
	s.messagesByTicket[key] = append(s.messagesByTicket[key], message.ID)
	return message
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *MemoryStore) GetTicket(_ context.Context, tenantID, ticketID int64) (domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketKey{tenantID, ticketID}]
	if !ok {
		return domain.Ticket{}, domain.NotFoundf("ticket %d", ticketID)
	}
	return t, nil
}

func (s *MemoryStore) ListTickets(_ context.Context, tenantID int64, filter domain.TicketFilter) ([]domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]domain.Ticket, 0)
	for key, t := range s.tickets {
		if key.tenantID != tenantID {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.DepartmentID != nil && (t.DepartmentID == nil || *t.DepartmentID != *filter.DepartmentID) {
			continue
		}
		if filter.ClosedSince != nil && (t.ClosedAt == nil || t.ClosedAt.Before(*filter.ClosedSince)) {
			continue
		}
		if filter.AttendantID != nil && !s.matchesAttendant(t, filter) {
			continue
		}
		items = append(items, t)
	}

	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].LastMessageAt, items[j].LastMessageAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return items[i].ID > items[j].ID
	})
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, nil
}

func (s *MemoryStore) matchesAttendant(t domain.Ticket, filter domain.TicketFilter) bool {
	userID := *filter.AttendantID
	if filter.Status != nil && *filter.Status == domain.TicketStatusPending {
		if t.DepartmentID == nil {
			return false
		}
		return s.deptMembers[departmentKey{t.TenantID, *t.DepartmentID}][userID]
	}
	return t.OwnedBy(userID)
}

func (s *MemoryStore) GetMessage(_ context.Context, tenantID, ticketID, messageID int64) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupMessage(tenantID, ticketID, messageID)
}

func (s *MemoryStore) lookupMessage(tenantID, ticketID, messageID int64) (domain.Message, error) {
	m, ok := s.messages[messageID]
	if !ok || m.TenantID != tenantID || m.TicketID != ticketID {
		return domain.Message{}, domain.NotFoundf("message %d", messageID)
	}
	return m, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, tenantID, ticketID int64, limit int, afterID *int64) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]domain.Message, 0)
	for _, id := range s.messagesByTicket[ticketKey{tenantID, ticketID}] {
		if afterID != nil && id <= *afterID {
			continue
		}
		items = append(items, s.messages[id])
		if limit > 0 && len(items) == limit {
			break
		}
	}
	return items, nil
}

func (s *MemoryStore) IsCompanyMember(_ context.Context, tenantID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.companyMembers[tenantID][userID]
	return ok, nil
}

func (s *MemoryStore) NextSequence(_ context.Context, tenantID int64, seqDomain string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := counterKey{tenantID, seqDomain}
	s.counters[key]++
	return s.counters[key], nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}

type memoryTx struct {
	s    *MemoryStore
	undo []func()
}

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memoryTx) LockClient(context.Context, int64, int64) error {
	return nil
}

func (tx *memoryTx) ClientExists(_ context.Context, tenantID, clientID int64) (bool, error) {
	_, ok := tx.s.clients[tenantID][clientID]
	return ok, nil
}

func (tx *memoryTx) DepartmentExists(_ context.Context, tenantID, departmentID int64) (bool, error) {
	_, ok := tx.s.departments[departmentKey{tenantID, departmentID}]
	return ok, nil
}

func (tx *memoryTx) IsActiveDepartmentMember(_ context.Context, tenantID, departmentID, userID int64) (bool, error) {
	return tx.s.deptMembers[departmentKey{tenantID, departmentID}][userID], nil
}

func (tx *memoryTx) NextSequence(_ context.Context, tenantID int64, seqDomain string) (int64, error) {
	key := counterKey{tenantID, seqDomain}
	prev, existed := tx.s.counters[key]
	tx.s.counters[key] = prev + 1
	tx.undo = append(tx.undo, func() {
		if existed {
			tx.s.counters[key] = prev
		} else {
			delete(tx.s.counters, key)
		}
	})
	return prev + 1, nil
}

func (tx *memoryTx) FindOpenTicket(_ context.Context, tenantID, clientID int64) (domain.Ticket, bool, error) {
	for key, t := range tx.s.tickets {
		if key.tenantID == tenantID && t.ClientID == clientID && t.IsOpen() {
			return t, true, nil
		}
	}
	return domain.Ticket{}, false, nil
}

func (tx *memoryTx) GetTicketForUpdate(_ context.Context, tenantID, ticketID int64) (domain.Ticket, error) {
	t, ok := tx.s.tickets[ticketKey{tenantID, ticketID}]
	if !ok {
		return domain.Ticket{}, domain.NotFoundf("ticket %d", ticketID)
	}
	return t, nil
}

func (tx *memoryTx) InsertTicket(ctx context.Context, ticket domain.Ticket) (domain.Ticket, error) {
	key := ticketKey{ticket.TenantID, ticket.ID}
	if _, exists := tx.s.tickets[key]; exists {
		return domain.Ticket{}, domain.Conflictf("ticket %d already exists", ticket.ID)
	}
	if ticket.IsOpen() {
		if _, open, _ := tx.FindOpenTicket(ctx, ticket.TenantID, ticket.ClientID); open {
			return domain.Ticket{}, domain.Conflictf("client %d already has an open ticket", ticket.ClientID)
		}
	}
	tx.s.tickets[key] = ticket
	tx.undo = append(tx.undo, func() { delete(tx.s.tickets, key) })
	return ticket, nil
}

func (tx *memoryTx) UpdateTicket(_ context.Context, ticket domain.Ticket) error {
	key := ticketKey{ticket.TenantID, ticket.ID}
	prev, ok := tx.s.tickets[key]
	if !ok {
		return domain.NotFoundf("ticket %d", ticket.ID)
	}
	tx.s.tickets[key] = ticket
	tx.undo = append(tx.undo, func() { tx.s.tickets[key] = prev })
	return nil
}

func (tx *memoryTx) InsertMessage(_ context.Context, message domain.Message) (domain.Message, error) {
	key := ticketKey{message.TenantID, message.TicketID}
	if _, ok := tx.s.tickets[key]; !ok {
		return domain.Message{}, domain.NotFoundf("ticket %d", message.TicketID)
	}
	prevID := tx.s.lastMessageID
	tx.s.lastMessageID++
	message.ID = tx.s.lastMessageID
	tx.s.messages[message.ID] = message
	tx.s.messagesByTicket[key] = append(tx.s.messagesByTicket[key], message.ID)
	tx.undo = append(tx.undo, func() {
		delete(tx.s.messages, message.ID)
		ids := tx.s.messagesByTicket[key]
		tx.s.messagesByTicket[key] = ids[:len(ids)-1]
		tx.s.lastMessageID = prevID
	})
	return message, nil
}

func (tx *memoryTx) GetMessageForUpdate(_ context.Context, tenantID, ticketID, messageID int64) (domain.Message, error) {
	return tx.s.lookupMessage(tenantID, ticketID, messageID)
}

func (tx *memoryTx) UpdateMessage(_ context.Context, message domain.Message) error {
	prev, err := tx.s.lookupMessage(message.TenantID, message.TicketID, message.ID)
	if err != nil {
		return err
	}
	tx.s.messages[message.ID] = message
	tx.undo = append(tx.undo, func() { tx.s.messages[message.ID] = prev })
	return nil
}

func (tx *memoryTx) LatestMessageID(_ context.Context, tenantID, ticketID int64) (int64, error) {
	ids := tx.s.messagesByTicket[ticketKey{tenantID, ticketID}]
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[len(ids)-1], nil
}

func (tx *memoryTx) MarkMessageRead(_ context.Context, tenantID, ticketID, messageID int64, at time.Time) error {
	m, err := tx.s.lookupMessage(tenantID, ticketID, messageID)
	if err != nil {
		return err
	}
	if m.ReadAt != nil {
		return nil
	}
	prev := m
	readAt := at
	m.ReadAt = &readAt
	tx.s.messages[messageID] = m
	tx.undo = append(tx.undo, func() { tx.s.messages[messageID] = prev })
	return nil
}

func (tx *memoryTx) MarkMessagesRead(_ context.Context, tenantID, ticketID int64, olderThanID *int64, at time.Time) (int64, error) {
	var affected int64
	for _, id := range tx.s.messagesByTicket[ticketKey{tenantID, ticketID}] {
		if olderThanID != nil && id > *olderThanID {
			break
		}
		m := tx.s.messages[id]
		if m.ReadAt != nil {
			continue
		}
		prev := m
		readAt := at
		m.ReadAt = &readAt
		tx.s.messages[id] = m
		tx.undo = append(tx.undo, func() { tx.s.messages[prev.ID] = prev })
		affected++
	}
	return affected, nil
}
