package domain

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to OrderStatus }{
		{OrderStatusPending, OrderStatusProcessing},
		{OrderStatusPending, OrderStatusCanceled},
		{OrderStatusProcessing, OrderStatusShipped},
		{OrderStatusProcessing, OrderStatusCanceled},
		{OrderStatusShipped, OrderStatusDelivered},
		{OrderStatusShipped, OrderStatusReturned},
		{OrderStatusShipped, OrderStatusRefunded},
		{OrderStatusDelivered, OrderStatusCompleted},
		{OrderStatusDelivered, OrderStatusReturned},
		{OrderStatusDelivered, OrderStatusRefunded},
		{OrderStatusCompleted, OrderStatusReturned},
		{OrderStatusCompleted, OrderStatusRefunded},
		{OrderStatusReturned, OrderStatusRefunded},
	}
	for _, tt := range allowed {
		if !CanTransition(tt.from, tt.to) {
			t.Errorf("expected %s -> %s to be allowed", tt.from, tt.to)
		}
	}

	denied := []struct{ from, to OrderStatus }{
		{OrderStatusPending, OrderStatusShipped},
		{OrderStatusPending, OrderStatusCompleted},
		{OrderStatusShipped, OrderStatusCanceled},
		{OrderStatusDelivered, OrderStatusCanceled},
		{OrderStatusCompleted, OrderStatusProcessing},
		{OrderStatusCompleted, OrderStatusCompleted},
		{OrderStatusCanceled, OrderStatusProcessing},
		{OrderStatusCanceled, OrderStatusRefunded},
		{OrderStatusRefunded, OrderStatusReturned},
		{OrderStatusReturned, OrderStatusCompleted},
	}
	for _, tt := range denied {
		if CanTransition(tt.from, tt.to) {
			t.Errorf("expected %s -> %s to be denied", tt.from, tt.to)
		}
	}
}

func TestCheckTransition(t *testing.T) {
	if err := CheckTransition(OrderStatusPending, OrderStatusProcessing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := CheckTransition(OrderStatusCompleted, OrderStatusProcessing)
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if invalid.From != OrderStatusCompleted || invalid.To != OrderStatusProcessing {
		t.Fatalf("error names wrong statuses: %v", invalid)
	}

	if err := CheckTransition(OrderStatusPending, OrderStatus("teleported")); err == nil {
		t.Fatal("expected error for unknown target status")
	}
}

func TestTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusCompleted, OrderStatusCanceled, OrderStatusReturned, OrderStatusRefunded}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	open := []OrderStatus{OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("expected %s not to be terminal", s)
		}
	}
}

func TestValid(t *testing.T) {
	if !OrderStatusPending.Valid() {
		t.Fatal("expected pending to be valid")
	}
	if OrderStatus("shipped ").Valid() {
		t.Fatal("expected malformed status to be invalid")
	}
}

func TestEventForStatus(t *testing.T) {
	tests := []struct {
		status OrderStatus
		event  EventType
		ok     bool
	}{
		{OrderStatusCompleted, EventOrderCompleted, true},
		{OrderStatusCanceled, EventOrderCanceled, true},
		{OrderStatusRefunded, EventOrderRefunded, true},
		{OrderStatusReturned, EventOrderReturned, true},
		{OrderStatusProcessing, "", false},
		{OrderStatusShipped, "", false},
	}
	for _, tt := range tests {
		event, ok := EventForStatus(tt.status)
		if ok != tt.ok || event != tt.event {
			t.Errorf("EventForStatus(%s) = (%q, %v), want (%q, %v)", tt.status, event, ok, tt.event, tt.ok)
		}
	}
}
