package queue

import "context"

const (
	// BookingPaidQueue carries payment confirmations from the booking
	// platform; each message starts one attribution.
	BookingPaidQueue = "booking.paid"

	// BookingPaidDLQ receives booking.paid messages rejected as malformed.
	BookingPaidDLQ = "dlq.booking.paid"

	// AttributionEventsQueue carries lifecycle events (accepted, expired,
	// rebroadcast) for the admin console and notification platform.
	AttributionEventsQueue = "attribution.events"
)

// EventPublisher publishes attribution lifecycle events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event AttributionEventMessage) error
	Close() error
}

// BookingPaidHandler handles a consumed payment confirmation.
type BookingPaidHandler func(ctx context.Context, msg BookingPaidMessage) error

// Consumer consumes booking.paid messages.
type Consumer interface {
	Consume(ctx context.Context, handler BookingPaidHandler) error
	Close() error
}
