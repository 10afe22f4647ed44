package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"desk_server/server/desk/domain"
	"desk_server/server/desk/repository"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []domain.Message
	edited   []domain.Message
	tickets  []domain.Ticket
}

func (r *recordingNotifier) EmitNewMessage(_, _ int64, m domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

func (r *recordingNotifier) EmitMessageEdited(_, _ int64, m domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edited = append(r.edited, m)
}

func (r *recordingNotifier) EmitTicketUpdated(_ int64, t domain.Ticket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickets = append(r.tickets, t)
}

func (r *recordingNotifier) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

type publishedEvent struct {
	tenantID int64
	name     string
}

type chanPublisher struct {
	events chan publishedEvent
}

func (p *chanPublisher) Publish(_ context.Context, tenantID int64, event string, _ any) error {
	p.events <- publishedEvent{tenantID: tenantID, name: event}
	return nil
}

type mapDeduper struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func (m *mapDeduper) Claim(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = struct{}{}
	return true, nil
}

func (m *mapDeduper) Release(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
}

type fixture struct {
	desk     *Desk
	store    *repository.MemoryStore
	notifier *recordingNotifier
	clock    *testClock
}

const (
	tenant      = int64(1)
	clientA     = int64(42)
	clientB     = int64(43)
	clientC     = int64(44)
	salesDept   = int64(5)
	supportDept = int64(6)
	userNine    = int64(9)
	userEleven  = int64(11)
	userOutside = int64(61)
)

// newFixture seeds one tenant: attendants 9 and 11 work in sales (5),
// attendant 61 only in support (6).
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	for _, c := range []int64{clientA, clientB, clientC} {
		store.AddClient(tenant, c)
	}
	store.AddDepartment(domain.Department{TenantID: tenant, ID: salesDept, Name: "Vendas"})
	store.AddDepartment(domain.Department{TenantID: tenant, ID: supportDept, Name: "Suporte"})
	store.AddDepartmentMember(tenant, salesDept, userNine, true)
	store.AddDepartmentMember(tenant, salesDept, userEleven, true)
	store.AddDepartmentMember(tenant, supportDept, userOutside, true)
	for _, u := range []int64{userNine, userEleven, userOutside} {
		store.AddCompanyMember(tenant, u)
	}

	clock := &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	all := append([]Option{WithClock(clock.Now), WithNotifier(notifier)}, opts...)
	return &fixture{
		desk:     NewDesk(store, all...),
		store:    store,
		notifier: notifier,
		clock:    clock,
	}
}

// bumpTicketCounter makes the next allocated ticket number n+1.
func (f *fixture) bumpTicketCounter(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := f.store.NextSequence(context.Background(), tenant, domain.SequenceTicket); err != nil {
			t.Fatalf("NextSequence: %v", err)
		}
	}
}

func (f *fixture) pendingTicket(t *testing.T, client int64) domain.Ticket {
	t.Helper()
	tk, err := f.desk.CreateTicket(context.Background(), CreateTicketInput{
		TenantID:     tenant,
		ClientID:     client,
		DepartmentID: int64Ptr(salesDept),
	})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	return tk
}

func (f *fixture) activeTicket(t *testing.T, client, owner int64) domain.Ticket {
	t.Helper()
	tk, err := f.desk.CreateTicket(context.Background(), CreateTicketInput{
		TenantID:     tenant,
		ClientID:     client,
		DepartmentID: int64Ptr(salesDept),
		StartActive:  true,
		ActingUserID: int64Ptr(owner),
	})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	return tk
}

func (f *fixture) botTicket(t *testing.T, client int64) domain.Ticket {
	t.Helper()
	res, err := f.desk.InboundFromClient(context.Background(), InboundInput{TenantID: tenant, ClientID: client, Content: strPtr("Oi")})
	if err != nil {
		t.Fatalf("InboundFromClient: %v", err)
	}
	return res.Ticket
}

func (f *fixture) reload(t *testing.T, ticketID int64) domain.Ticket {
	t.Helper()
	tk, err := f.desk.GetTicket(context.Background(), tenant, ticketID)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	return tk
}

func strPtr(s string) *string { return &s }

func mediaPtr(m domain.MediaType) *domain.MediaType { return &m }
