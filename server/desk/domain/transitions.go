package domain

var transitions = map[TicketStatus]map[TicketStatus]struct{}{
	TicketStatusBot: {
		TicketStatusPending: {},
		TicketStatusActive:  {},
		TicketStatusClosed:  {},
	},
	TicketStatusPending: {
		TicketStatusPending: {},
		TicketStatusActive:  {},
		TicketStatusClosed:  {},
	},
	TicketStatusActive: {
		TicketStatusPending: {},
		TicketStatusClosed:  {},
	},
}

// CanTransition reports whether a ticket may move from one status to another.
// PENDING -> PENDING is the re-queue produced by a transfer. CLOSED is terminal.
func CanTransition(from, to TicketStatus) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}
