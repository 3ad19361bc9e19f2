package tasks

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/ecomware/fulfillment-ledger/internal/domain"
	"github.com/ecomware/fulfillment-ledger/internal/events"
)

// Publisher is the slice of messaging.Producer the dispatcher needs.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Dispatcher turns lifecycle events into loyalty tasks: exactly one task
// per concern per event, and none at all for guest orders.
type Dispatcher struct {
	producer Publisher
	logger   *slog.Logger
}

func NewDispatcher(producer Publisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{producer: producer, logger: logger}
}

// Register wires the dispatcher into the bus.
func (d *Dispatcher) Register(bus *events.Bus) {
	bus.Subscribe(domain.EventOrderCompleted, d.handleCompleted)
	bus.Subscribe(domain.EventOrderCanceled, d.handleReversal)
	bus.Subscribe(domain.EventOrderRefunded, d.handleReversal)
	bus.Subscribe(domain.EventOrderReturned, d.handleReversal)
}

func (d *Dispatcher) handleCompleted(ctx context.Context, event domain.Event) error {
	return d.enqueue(ctx, ProcessOrderPoints, event)
}

func (d *Dispatcher) handleReversal(ctx context.Context, event domain.Event) error {
	return d.enqueue(ctx, ReverseOrderPoints, event)
}

func (d *Dispatcher) enqueue(ctx context.Context, name string, event domain.Event) error {
	if event.UserID == nil {
		// Guest orders never touch the ledger.
		return nil
	}

	task := New(name)
	task.OrderID = event.OrderID
	task.UserID = *event.UserID

	// Key by order so all tasks for one order land on one partition.
	if err := d.producer.Publish(ctx, strconv.FormatInt(event.OrderID, 10), task); err != nil {
		return err
	}

	d.logger.Info("loyalty task enqueued",
		"task", name, "task_id", task.ID, "order_id", event.OrderID, "event", event.Type)
	return nil
}
