package domain

import "time"

// EventType names a lifecycle event emitted when an order enters a terminal
// status. Each is consumed exactly once per logical transition by the
// dispatch layer.
type EventType string

const (
	EventOrderCompleted EventType = "order_completed"
	EventOrderCanceled  EventType = "order_canceled"
	EventOrderRefunded  EventType = "order_refunded"
	EventOrderReturned  EventType = "order_returned"
)

// Event carries identifiers only. Handlers re-fetch the order fresh; no
// in-memory order state crosses the async boundary.
type Event struct {
	Type       EventType   `json:"type"`
	OrderID    int64       `json:"order_id"`
	UserID     *int64      `json:"user_id,omitempty"`
	From       OrderStatus `json:"from"`
	To         OrderStatus `json:"to"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// EventForStatus maps a newly entered status to the event it emits, if any.
func EventForStatus(s OrderStatus) (EventType, bool) {
	switch s {
	case OrderStatusCompleted:
		return EventOrderCompleted, true
	case OrderStatusCanceled:
		return EventOrderCanceled, true
	case OrderStatusRefunded:
		return EventOrderRefunded, true
	case OrderStatusReturned:
		return EventOrderReturned, true
	}
	return "", false
}
