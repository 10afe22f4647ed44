package realtime

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrPresenceClosed = errors.New("presence is closed")

func UserRoom(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

func CompanyRoom(tenantID int64) string {
	return fmt.Sprintf("company:%d", tenantID)
}

func TicketRoom(tenantID, ticketID int64) string {
	return fmt.Sprintf("ticket:%d:%d", tenantID, ticketID)
}

// Transition is a user going online or offline inside one company. Sockets
// without a company claim produce transitions with HasTenant false.
type Transition struct {
	TenantID  int64
	UserID    int64
	HasTenant bool
	Online    bool
}

type memberKey struct {
	tenantID int64
	userID   int64
}

// Presence owns every live socket, the rooms they joined and the per-user
// socket sets. A user is online in a company while at least one socket
// carrying that company is registered.
type Presence struct {
	mu      sync.Mutex
	users   map[int64]map[string]*Client
	members map[memberKey]int
	rooms   map[string]map[string]*Client
	closed  bool

	// onTransition runs under mu, in decision order, and must not block.
	onTransition func(Transition)
}

func NewPresence() *Presence {
	return &Presence{
		users:   map[int64]map[string]*Client{},
		members: map[memberKey]int{},
		rooms:   map[string]map[string]*Client{},
	}
}

func (c *Client) memberKey() memberKey {
	if !c.HasTenant {
		return memberKey{userID: c.UserID}
	}
	return memberKey{tenantID: c.TenantID, userID: c.UserID}
}

func (p *Presence) transition(key memberKey, online bool) {
	if p.onTransition == nil {
		return
	}
	p.onTransition(Transition{TenantID: key.tenantID, UserID: key.userID, HasTenant: key.tenantID != 0, Online: online})
}

// Register adds the socket and reports whether it is the user's first in
// the socket's company.
func (p *Presence) Register(c *Client) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, ErrPresenceClosed
	}
	conns, ok := p.users[c.UserID]
	if !ok {
		conns = map[string]*Client{}
		p.users[c.UserID] = conns
	}
	conns[c.ID] = c
	key := c.memberKey()
	p.members[key]++
	first := p.members[key] == 1
	if first {
		p.transition(key, true)
	}
	return first, nil
}

// Unregister drops the socket from every room and closes its send queue. It
// reports whether this was the user's last socket in the socket's company.
func (p *Presence) Unregister(c *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	conns, ok := p.users[c.UserID]
	if !ok {
		return false
	}
	if _, ok := conns[c.ID]; !ok {
		return false
	}
	delete(conns, c.ID)
	if len(conns) == 0 {
		delete(p.users, c.UserID)
	}
	for room := range c.rooms {
		p.leaveLocked(c, room)
	}
	c.closeSend()

	key := c.memberKey()
	p.members[key]--
	if p.members[key] > 0 {
		return false
	}
	delete(p.members, key)
	p.transition(key, false)
	return true
}

func (p *Presence) Join(c *Client, room string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || c.sendClosed {
		return
	}
	members, ok := p.rooms[room]
	if !ok {
		members = map[string]*Client{}
		p.rooms[room] = members
	}
	members[c.ID] = c
	c.rooms[room] = struct{}{}
}

func (p *Presence) Leave(c *Client, room string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leaveLocked(c, room)
}

func (p *Presence) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	members, ok := p.rooms[room]
	if !ok {
		return
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(p.rooms, room)
	}
}

// Broadcast queues data for every socket in room without blocking. Sockets
// whose queue is full miss this event. It returns how many were queued.
func (p *Presence) Broadcast(room string, data []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	delivered := 0
	for _, c := range p.rooms[room] {
		if c.enqueue(data) {
			delivered++
		}
	}
	return delivered
}

// Send queues data for a single socket.
func (p *Presence) Send(c *Client, data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return c.enqueue(data)
}

func (p *Presence) IsOnline(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.users[userID]) > 0
}

func (p *Presence) OnlineUsers() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int64, 0, len(p.users))
	for id := range p.users {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *Presence) RoomSize(room string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rooms[room])
}

// Close disconnects every socket and reports every company membership as
// offline. Afterwards nobody is online and Register fails.
func (p *Presence) Close() []*Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var dropped []*Client
	for _, conns := range p.users {
		for _, c := range conns {
			c.closeSend()
			dropped = append(dropped, c)
		}
	}
	for key := range p.members {
		p.transition(key, false)
	}
	p.users = map[int64]map[string]*Client{}
	p.members = map[memberKey]int{}
	p.rooms = map[string]map[string]*Client{}
	return dropped
}
