package sequence

import (
	"context"
	"strings"

	"desk_server/server/desk/domain"
)

// Counter is the atomic increment primitive a store provides. Both the store
// itself and its transactions satisfy it.
type Counter interface {
	NextSequence(ctx context.Context, tenantID int64, seqDomain string) (int64, error)
}

// Allocator hands out per-tenant, per-domain numbers starting at 1. Values are
// never reused, including under concurrent callers.
type Allocator struct {
	counter Counter
}

func NewAllocator(counter Counter) *Allocator {
	return &Allocator{counter: counter}
}

func (a *Allocator) NextID(ctx context.Context, tenantID int64, seqDomain string) (int64, error) {
	return Next(ctx, a.counter, tenantID, seqDomain)
}

// Next allocates against an explicit counter, typically the open transaction,
// so a rolled back create does not consume the number.
func Next(ctx context.Context, counter Counter, tenantID int64, seqDomain string) (int64, error) {
	if tenantID <= 0 {
		return 0, domain.BadRequestf("tenant id must be positive")
	}
	seqDomain = strings.ToUpper(strings.TrimSpace(seqDomain))
	if seqDomain == "" {
		return 0, domain.BadRequestf("sequence domain is required")
	}
	return counter.NextSequence(ctx, tenantID, seqDomain)
}
