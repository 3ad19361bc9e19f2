package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/ecomware/fulfillment-ledger/internal/domain"
	"github.com/ecomware/fulfillment-ledger/internal/money"
	"github.com/ecomware/fulfillment-ledger/internal/stock"
)

var (
	ErrInvalidQuantity = errors.New("item quantity must be positive")
	ErrRefundExceeds   = errors.New("refund quantity exceeds remaining item quantity")
)

// CheckoutLine is one requested order line at creation time. The unit price
// is snapshotted from the product inside the checkout transaction.
type CheckoutLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create runs checkout as one transaction: reserve stock for every line,
// snapshot unit prices, insert the order and its items. A line that cannot
// be reserved fails the whole checkout with stock.ErrInsufficientStock.
func (r *OrderRepository) Create(ctx context.Context, userID *int64, currency string, extras money.Money, lines []CheckoutLine) (*domain.Order, error) {
	if len(lines) == 0 {
		return nil, errors.New("order must have at least one item")
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
	}
	if extras.Currency != currency {
		return nil, fmt.Errorf("extras total: %w", money.ErrCurrencyMismatch)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order := &domain.Order{
		UUID:          uuid.New(),
		UserID:        userID,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentPending,
		Currency:      currency,
		ExtrasTotal:   extras,
		ItemsTotal:    money.Zero(currency),
		PaidAmount:    money.Zero(currency),
	}

	for _, line := range lines {
		if err := stock.Reserve(ctx, tx, line.ProductID, line.Quantity); err != nil {
			return nil, err
		}

		var price string
		err := tx.QueryRowContext(ctx, `
			SELECT price FROM products WHERE id = $1
		`, line.ProductID).Scan(&price)
		if err != nil {
			return nil, err
		}
		unitPrice, err := money.Parse(price, currency)
		if err != nil {
			return nil, err
		}

		lineTotal := unitPrice.MulInt(int64(line.Quantity))
		if order.ItemsTotal, err = order.ItemsTotal.Add(lineTotal); err != nil {
			return nil, err
		}

		order.Items = append(order.Items, domain.OrderItem{
			ProductID:        line.ProductID,
			UnitPrice:        unitPrice,
			Quantity:         line.Quantity,
			OriginalQuantity: line.Quantity,
		})
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders
			(uuid, user_id, status, payment_status, currency,
			 items_total, extras_total, paid_amount, metadata,
			 created_at, updated_at, status_changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '{}'::jsonb, NOW(), NOW(), NOW())
		RETURNING id, created_at, updated_at, status_changed_at
	`, order.UUID, order.UserID, order.Status, order.PaymentStatus, order.Currency,
		order.ItemsTotal.Amount, order.ExtrasTotal.Amount, order.PaidAmount.Amount,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt, &order.StatusChangedAt)
	if err != nil {
		return nil, err
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err = tx.QueryRowContext(ctx, `
			INSERT INTO order_items
				(order_id, product_id, unit_price, quantity, refunded_quantity, original_quantity)
			VALUES ($1, $2, $3, $4, 0, $5)
			RETURNING id
		`, order.ID, item.ProductID, item.UnitPrice.Amount, item.Quantity, item.OriginalQuantity).Scan(&item.ID)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	return r.get(ctx, "id = $1", id)
}

func (r *OrderRepository) GetByUUID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.get(ctx, "uuid = $1", id)
}

func (r *OrderRepository) get(ctx context.Context, where string, arg any) (*domain.Order, error) {
	order := &domain.Order{}
	var itemsTotal, extrasTotal, paidAmount string
	var metadata []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT id, uuid, user_id, status, payment_status, currency,
		       items_total, extras_total, paid_amount, metadata, deleted,
		       created_at, updated_at, status_changed_at
		FROM orders
		WHERE `+where+` AND NOT deleted
	`, arg).Scan(
		&order.ID, &order.UUID, &order.UserID, &order.Status, &order.PaymentStatus,
		&order.Currency, &itemsTotal, &extrasTotal, &paidAmount, &metadata,
		&order.Deleted, &order.CreatedAt, &order.UpdatedAt, &order.StatusChangedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	if order.ItemsTotal, err = money.Parse(itemsTotal, order.Currency); err != nil {
		return nil, err
	}
	if order.ExtrasTotal, err = money.Parse(extrasTotal, order.Currency); err != nil {
		return nil, err
	}
	if order.PaidAmount, err = money.Parse(paidAmount, order.Currency); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &order.Metadata); err != nil {
			return nil, err
		}
	}

	if order.Items, err = r.itemsFor(ctx, order.ID, order.Currency); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) itemsFor(ctx context.Context, orderID int64, currency string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, unit_price, quantity, refunded_quantity, original_quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		var unitPrice string
		if err := rows.Scan(&item.ID, &item.ProductID, &unitPrice, &item.Quantity,
			&item.RefundedQuantity, &item.OriginalQuantity); err != nil {
			return nil, err
		}
		item.OrderID = orderID
		if item.UnitPrice, err = money.Parse(unitPrice, currency); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// List returns all live orders newest first, batching the item load with a
// single ANY query.
func (r *OrderRepository) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, uuid, user_id, status, payment_status, currency,
		       items_total, extras_total, paid_amount,
		       created_at, updated_at, status_changed_at
		FROM orders
		WHERE NOT deleted
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[int64]*domain.Order)
	var orderIDs []int64

	for rows.Next() {
		var order domain.Order
		var itemsTotal, extrasTotal, paidAmount string
		if err := rows.Scan(
			&order.ID, &order.UUID, &order.UserID, &order.Status, &order.PaymentStatus,
			&order.Currency, &itemsTotal, &extrasTotal, &paidAmount,
			&order.CreatedAt, &order.UpdatedAt, &order.StatusChangedAt,
		); err != nil {
			return nil, err
		}
		if order.ItemsTotal, err = money.Parse(itemsTotal, order.Currency); err != nil {
			return nil, err
		}
		if order.ExtrasTotal, err = money.Parse(extrasTotal, order.Currency); err != nil {
			return nil, err
		}
		if order.PaidAmount, err = money.Parse(paidAmount, order.Currency); err != nil {
			return nil, err
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, id, product_id, unit_price, quantity, refunded_quantity, original_quantity
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID int64
		var item domain.OrderItem
		var unitPrice string
		if err := itemRows.Scan(&orderID, &item.ID, &item.ProductID, &unitPrice,
			&item.Quantity, &item.RefundedQuantity, &item.OriginalQuantity); err != nil {
			return nil, err
		}
		order := orderMap[orderID]
		item.OrderID = orderID
		if item.UnitPrice, err = money.Parse(unitPrice, order.Currency); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}
	return orders, nil
}

// History returns the audit trail of status changes, oldest first.
func (r *OrderRepository) History(ctx context.Context, orderID int64) ([]domain.StatusChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, from_status, to_status, changed_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var history []domain.StatusChange
	for rows.Next() {
		var change domain.StatusChange
		if err := rows.Scan(&change.ID, &change.OrderID, &change.From, &change.To, &change.ChangedAt); err != nil {
			return nil, err
		}
		history = append(history, change)
	}
	return history, rows.Err()
}

// ItemRefund names one item and how many units of it to refund.
type ItemRefund struct {
	ItemID   int64 `json:"item_id"`
	Quantity int   `json:"quantity"`
}

// RefundItems bumps refunded_quantity on each named item, bounded by the
// remaining open quantity. Restocking is a merchandising decision, so it is
// an explicit flag; when set, each refunded quantity goes back to stock in
// the same transaction.
func (r *OrderRepository) RefundItems(ctx context.Context, orderID int64, refunds []ItemRefund, restock bool) error {
	if len(refunds) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, refund := range refunds {
		if refund.Quantity <= 0 {
			return ErrInvalidQuantity
		}

		var productID, quantity, refunded int
		err := tx.QueryRowContext(ctx, `
			SELECT product_id, quantity, refunded_quantity
			FROM order_items
			WHERE id = $1 AND order_id = $2
			FOR UPDATE
		`, refund.ItemID, orderID).Scan(&productID, &quantity, &refunded)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrOrderNotFound
		}
		if err != nil {
			return err
		}

		if refunded+refund.Quantity > quantity {
			return ErrRefundExceeds
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE order_items
			SET refunded_quantity = refunded_quantity + $2
			WHERE id = $1
		`, refund.ItemID, refund.Quantity); err != nil {
			return err
		}

		if restock {
			if err := stock.Restore(ctx, tx, int64(productID), refund.Quantity); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// UpdateItemQuantity edits an existing item's quantity and adjusts stock by
// the delta. Existing items are exempt from the availability check: the
// item already holds its reservation, so an increase goes through even when
// the counter cannot cover it.
func (r *OrderRepository) UpdateItemQuantity(ctx context.Context, orderID, itemID int64, newQuantity int) error {
	if newQuantity <= 0 {
		return ErrInvalidQuantity
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var productID int64
	var quantity, refunded int
	err = tx.QueryRowContext(ctx, `
		SELECT product_id, quantity, refunded_quantity
		FROM order_items
		WHERE id = $1 AND order_id = $2
		FOR UPDATE
	`, itemID, orderID).Scan(&productID, &quantity, &refunded)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrOrderNotFound
	}
	if err != nil {
		return err
	}

	if newQuantity < refunded {
		return ErrRefundExceeds
	}

	if delta := newQuantity - quantity; delta != 0 {
		if err := stock.Adjust(ctx, tx, productID, delta); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE order_items SET quantity = $2 WHERE id = $1
	`, itemID, newQuantity); err != nil {
		return err
	}

	if err := r.recomputeItemsTotal(ctx, tx, orderID); err != nil {
		return err
	}

	return tx.Commit()
}

// MarkPaid records a payment against the order. The amount must be in the
// order's currency.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID int64, amount money.Money) error {
	var currency string
	err := r.db.QueryRowContext(ctx, `
		SELECT currency FROM orders WHERE id = $1 AND NOT deleted
	`, orderID).Scan(&currency)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrOrderNotFound
	}
	if err != nil {
		return err
	}
	if amount.Currency != currency {
		return fmt.Errorf("paid amount: %w", money.ErrCurrencyMismatch)
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE orders
		SET paid_amount = $2, payment_status = $3, updated_at = NOW()
		WHERE id = $1
	`, orderID, amount.Amount, domain.PaymentPaid)
	return err
}

// SoftDelete flags the order; it never physically disappears.
func (r *OrderRepository) SoftDelete(ctx context.Context, orderID int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET deleted = TRUE, updated_at = NOW() WHERE id = $1 AND NOT deleted
	`, orderID)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *OrderRepository) recomputeItemsTotal(ctx context.Context, tx *sql.Tx, orderID int64) error {
	var total decimal.Decimal
	var totalStr string
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(unit_price * quantity), 0)
		FROM order_items
		WHERE order_id = $1
	`, orderID).Scan(&totalStr)
	if err != nil {
		return err
	}
	if total, err = decimal.NewFromString(totalStr); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET items_total = $2, updated_at = NOW() WHERE id = $1
	`, orderID, total)
	return err
}
