package domain

import "fmt"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCanceled   OrderStatus = "canceled"
	OrderStatusReturned   OrderStatus = "returned"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// transitions is the full lifecycle table. Forward transitions only move
// downstream; canceled is reachable only before shipping, a shipped order
// has to go through returned/refunded instead.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCanceled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCanceled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusReturned, OrderStatusRefunded},
	OrderStatusDelivered:  {OrderStatusCompleted, OrderStatusReturned, OrderStatusRefunded},
	OrderStatusCompleted:  {OrderStatusReturned, OrderStatusRefunded},
	OrderStatusReturned:   {OrderStatusRefunded},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCompleted, OrderStatusCanceled,
		OrderStatusReturned, OrderStatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether the status ends the lifecycle. Returned orders
// may still move to refunded, but they are terminal for stock and ledger
// purposes.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCanceled, OrderStatusReturned, OrderStatusRefunded:
		return true
	}
	return false
}

// CanTransition reports whether the move from -> to is in the lifecycle
// table.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an *InvalidTransitionError when the move is not
// allowed.
func CheckTransition(from, to OrderStatus) error {
	if !to.Valid() {
		return &InvalidTransitionError{From: from, To: to}
	}
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// InvalidTransitionError names both the current and the requested status so
// the caller can decide a corrective action.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition from %q to %q", e.From, e.To)
}
