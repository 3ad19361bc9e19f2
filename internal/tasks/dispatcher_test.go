package tasks

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ecomware/fulfillment-ledger/internal/domain"
	"github.com/ecomware/fulfillment-ledger/internal/events"
)

type capturingPublisher struct {
	keys    []string
	tasks   []Task
	lastErr error
}

func (p *capturingPublisher) Publish(_ context.Context, key string, event any) error {
	if p.lastErr != nil {
		return p.lastErr
	}
	p.keys = append(p.keys, key)
	p.tasks = append(p.tasks, event.(Task))
	return nil
}

func publish(t *testing.T, bus *events.Bus, eventType domain.EventType, userID *int64) {
	t.Helper()
	err := bus.Publish(context.Background(), domain.Event{
		Type:       eventType,
		OrderID:    42,
		UserID:     userID,
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
}

func TestDispatcherMapsEventsToTasks(t *testing.T) {
	tests := []struct {
		event domain.EventType
		task  string
	}{
		{domain.EventOrderCompleted, ProcessOrderPoints},
		{domain.EventOrderCanceled, ReverseOrderPoints},
		{domain.EventOrderRefunded, ReverseOrderPoints},
		{domain.EventOrderReturned, ReverseOrderPoints},
	}

	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			producer := &capturingPublisher{}
			logger := slog.New(slog.DiscardHandler)
			bus := events.NewBus(logger)
			NewDispatcher(producer, logger).Register(bus)

			userID := int64(7)
			publish(t, bus, tt.event, &userID)

			if len(producer.tasks) != 1 {
				t.Fatalf("expected 1 task, got %d", len(producer.tasks))
			}
			task := producer.tasks[0]
			if task.Name != tt.task {
				t.Fatalf("expected task %q, got %q", tt.task, task.Name)
			}
			if task.OrderID != 42 || task.UserID != 7 {
				t.Fatalf("unexpected identifiers: order %d, user %d", task.OrderID, task.UserID)
			}
			if task.ID == "" {
				t.Fatal("expected task ID to be set")
			}
			if producer.keys[0] != "42" {
				t.Fatalf("expected messages keyed by order, got %q", producer.keys[0])
			}
		})
	}
}

func TestDispatcherSkipsGuestOrders(t *testing.T) {
	producer := &capturingPublisher{}
	logger := slog.New(slog.DiscardHandler)
	bus := events.NewBus(logger)
	NewDispatcher(producer, logger).Register(bus)

	publish(t, bus, domain.EventOrderCompleted, nil)

	if len(producer.tasks) != 0 {
		t.Fatalf("expected no tasks for guest order, got %d", len(producer.tasks))
	}
}
