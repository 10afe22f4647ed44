package mq

import (
	"context"
	"testing"
)

func TestRoutingKey(t *testing.T) {
	cases := []struct {
		tenant int64
		event  string
		want   string
	}{
		{7, "ticket.created", "7.ticket.created"},
		{0, "message.created", "message.created"},
	}
	for _, tc := range cases {
		if got := routingKey(tc.tenant, tc.event); got != tc.want {
			t.Fatalf("routingKey(%d, %q) = %q, want %q", tc.tenant, tc.event, got, tc.want)
		}
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	if err := p.Publish(context.Background(), 1, "ticket.created", map[string]any{"id": 1}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
