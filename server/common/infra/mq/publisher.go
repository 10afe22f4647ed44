package mq

import "context"

// Exchange is the topic exchange (and default Kafka topic) integration events go to.
const Exchange = "desk.events"

// Publisher ships integration events. Routing keys are "<tenant>.<event>".
type Publisher interface {
	Publish(ctx context.Context, tenantID int64, event string, payload any) error
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, int64, string, any) error { return nil }

func (NopPublisher) Close() error { return nil }

func routingKey(tenantID int64, event string) string {
	if tenantID <= 0 {
		return event
	}
	return formatTenant(tenantID) + "." + event
}
