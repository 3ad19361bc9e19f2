// Package events is an explicit in-process event bus: a typed event plus a
// registered list of handlers, invoked synchronously in registration order.
// There is no global registry; each service wires its own bus.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ecomware/fulfillment-ledger/internal/domain"
)

type Handler func(ctx context.Context, event domain.Event) error

type Bus struct {
	mu       sync.RWMutex
	handlers map[domain.EventType][]Handler
	logger   *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[domain.EventType][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for one event type. Registration is
// expected at startup, before any Publish.
func (b *Bus) Subscribe(eventType domain.EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish invokes every handler registered for the event's type. All
// handlers run even if one fails; their errors are joined so the caller
// sees each failure once.
func (b *Bus) Publish(ctx context.Context, event domain.Event) error {
	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			b.logger.Error("event handler failed",
				"event", event.Type, "order_id", event.OrderID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
