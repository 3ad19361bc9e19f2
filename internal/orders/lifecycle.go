package orders

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/ecomware/fulfillment-ledger/internal/domain"
	"github.com/ecomware/fulfillment-ledger/internal/events"
	"github.com/ecomware/fulfillment-ledger/internal/stock"
)

// Lifecycle is the order status state machine. A transition is one atomic
// unit: the status write, the history row and any stock side effect commit
// or roll back together. The matching event is published after commit, once
// the transition is durable.
type Lifecycle struct {
	db     *sql.DB
	repo   *OrderRepository
	bus    *events.Bus
	logger *slog.Logger
	now    func() time.Time
}

func NewLifecycle(db *sql.DB, repo *OrderRepository, bus *events.Bus, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		db:     db,
		repo:   repo,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// Transition moves the order to next, or fails with
// *domain.InvalidTransitionError leaving the order unmodified. Entering
// canceled restores stock for every item at its open quantity. Terminal
// statuses have no outgoing moves back into the table, so a side effect can
// never repeat for the same cause.
func (l *Lifecycle) Transition(ctx context.Context, orderID int64, next domain.OrderStatus) (*domain.Order, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var current domain.OrderStatus
	var userID *int64
	err = tx.QueryRowContext(ctx, `
		SELECT status, user_id
		FROM orders
		WHERE id = $1 AND NOT deleted
		FOR UPDATE
	`, orderID).Scan(&current, &userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := domain.CheckTransition(current, next); err != nil {
		return nil, err
	}

	changedAt := l.now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, status_changed_at = $3, updated_at = $3
		WHERE id = $1
	`, orderID, next, changedAt); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, from_status, to_status, changed_at)
		VALUES ($1, $2, $3, $4)
	`, orderID, current, next, changedAt); err != nil {
		return nil, err
	}

	if next == domain.OrderStatusCanceled {
		if err := l.restoreItems(ctx, tx, orderID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	l.logger.Info("order status changed",
		"order_id", orderID, "from", current, "to", next)

	if eventType, ok := domain.EventForStatus(next); ok {
		event := domain.Event{
			Type:       eventType,
			OrderID:    orderID,
			UserID:     userID,
			From:       current,
			To:         next,
			OccurredAt: changedAt,
		}
		if err := l.bus.Publish(ctx, event); err != nil {
			// The transition is durable; a failed handler must not undo
			// it. Handlers own their retries.
			l.logger.Error("post-transition event dispatch failed",
				"event", eventType, "order_id", orderID, "error", err)
		}
	}

	return l.repo.GetByID(ctx, orderID)
}

// restoreItems returns every item's open quantity to stock inside the
// transition's transaction.
func (l *Lifecycle) restoreItems(ctx context.Context, tx *sql.Tx, orderID int64) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT product_id, quantity, refunded_quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	type restoration struct {
		productID int64
		quantity  int
	}
	var restorations []restoration
	for rows.Next() {
		var productID int64
		var quantity, refunded int
		if err := rows.Scan(&productID, &quantity, &refunded); err != nil {
			return err
		}
		if open := quantity - refunded; open > 0 {
			restorations = append(restorations, restoration{productID: productID, quantity: open})
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, res := range restorations {
		if err := stock.Restore(ctx, tx, res.productID, res.quantity); err != nil {
			return err
		}
	}
	return nil
}
