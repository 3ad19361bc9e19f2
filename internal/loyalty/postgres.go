package loyalty

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/ecomware/fulfillment-ledger/internal/domain"
	"github.com/ecomware/fulfillment-ledger/internal/money"
)

// earnUniqueConstraint is the partial unique index on
// points_transactions(order_id, line_no) WHERE kind = 'EARN'. It backstops
// the award idempotency check against concurrent transactions.
const earnUniqueConstraint = "points_transactions_order_line_earn_uniq"

// PostgresLedger implements Ledger over the relational schema.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Transact(ctx context.Context, fn func(Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&ledgerTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

type ledgerTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *ledgerTx) Order(orderID int64) (*domain.Order, error) {
	order := &domain.Order{}
	var itemsTotal, extrasTotal, paidAmount string
	var metadata []byte

	err := t.tx.QueryRowContext(t.ctx, `
		SELECT id, uuid, user_id, status, payment_status, currency,
		       items_total, extras_total, paid_amount, metadata, deleted,
		       created_at, updated_at, status_changed_at
		FROM orders
		WHERE id = $1 AND NOT deleted
		FOR UPDATE
	`, orderID).Scan(
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
	return order, nil
}

func (t *ledgerTx) OrderLines(orderID int64) (*domain.Order, []domain.OrderLine, error) {
	order, err := t.Order(orderID)
	if err != nil {
		return nil, nil, err
	}

	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT i.id, i.product_id, i.unit_price, i.quantity, i.refunded_quantity, i.original_quantity,
		       p.sku, p.name, p.price, p.discount_percent, p.vat_percent, p.stock,
		       p.points_coefficient, p.fixed_bonus_points
		FROM order_items i
		JOIN products p ON p.id = i.product_id
		WHERE i.order_id = $1
		ORDER BY i.id
	`, orderID)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	var lines []domain.OrderLine
	for rows.Next() {
		var line domain.OrderLine
		var unitPrice, productPrice string
		if err := rows.Scan(
			&line.Item.ID, &line.Item.ProductID, &unitPrice, &line.Item.Quantity,
			&line.Item.RefundedQuantity, &line.Item.OriginalQuantity,
			&line.Product.SKU, &line.Product.Name, &productPrice,
			&line.Product.DiscountPercent, &line.Product.VATPercent, &line.Product.Stock,
			&line.Product.PointsCoefficient, &line.Product.FixedBonusPoints,
		); err != nil {
			return nil, nil, err
		}
		line.Item.OrderID = orderID
		line.Product.ID = line.Item.ProductID
		if line.Item.UnitPrice, err = money.Parse(unitPrice, order.Currency); err != nil {
			return nil, nil, err
		}
		if line.Product.Price, err = money.Parse(productPrice, order.Currency); err != nil {
			return nil, nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	return order, lines, nil
}

func (t *ledgerTx) PatchOrderMetadata(orderID int64, patch map[string]any) error {
	data, err := json.Marshal(patch)
	if err != nil {
		return err
	}

	result, err := t.tx.ExecContext(t.ctx, `
		UPDATE orders
		SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb, updated_at = NOW()
		WHERE id = $1 AND NOT deleted
	`, orderID, data)
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

// User locks the user's row for the rest of the transaction. Balance is a
// SUM over an append-only table, so the check-then-insert in redeem,
// reverse and expire is only safe when every such transaction serializes
// on this lock before reading the balance.
func (t *ledgerTx) User(userID int64) (*domain.UserAccount, error) {
	user := &domain.UserAccount{}
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT id, email, total_xp, tier_id
		FROM users
		WHERE id = $1
		FOR UPDATE
	`, userID).Scan(&user.ID, &user.Email, &user.TotalXP, &user.TierID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (t *ledgerTx) SetUserProgress(userID int64, totalXP int64, tierID *int64) error {
	result, err := t.tx.ExecContext(t.ctx, `
		UPDATE users
		SET total_xp = $2, tier_id = $3
		WHERE id = $1
	`, userID, totalXP, tierID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (t *ledgerTx) Tiers() ([]domain.LoyaltyTier, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT id, name, required_level, multiplier
		FROM loyalty_tiers
		ORDER BY required_level
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tiers []domain.LoyaltyTier
	for rows.Next() {
		var tier domain.LoyaltyTier
		var multiplier string
		if err := rows.Scan(&tier.ID, &tier.Name, &tier.RequiredLevel, &multiplier); err != nil {
			return nil, err
		}
		if tier.Multiplier, err = decimal.NewFromString(multiplier); err != nil {
			return nil, err
		}
		tiers = append(tiers, tier)
	}
	return tiers, rows.Err()
}

func (t *ledgerTx) Insert(entry *domain.PointsTransaction) error {
	err := t.tx.QueryRowContext(t.ctx, `
		INSERT INTO points_transactions
			(user_id, points, kind, order_id, line_no, offsets, description, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, entry.UserID, entry.Points, entry.Kind, entry.OrderID, entry.LineNo, entry.Offsets,
		entry.Description, entry.CreatedBy, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == earnUniqueConstraint {
			return ErrDuplicateEarn
		}
		return err
	}
	return nil
}

func (t *ledgerTx) HasEntry(orderID int64, kind domain.TransactionKind) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT EXISTS (
			SELECT 1 FROM points_transactions WHERE order_id = $1 AND kind = $2
		)
	`, orderID, kind).Scan(&exists)
	return exists, err
}

func (t *ledgerTx) HasKindForUser(userID int64, kind domain.TransactionKind) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT EXISTS (
			SELECT 1 FROM points_transactions WHERE user_id = $1 AND kind = $2
		)
	`, userID, kind).Scan(&exists)
	return exists, err
}

func (t *ledgerTx) FirstEarnOrder(userID int64) (*int64, bool, error) {
	var orderID *int64
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT order_id
		FROM points_transactions
		WHERE user_id = $1 AND kind = $2
		ORDER BY id
		LIMIT 1
	`, userID, domain.KindEarn).Scan(&orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return orderID, true, nil
}

func (t *ledgerTx) EarnEntries(orderID int64) ([]domain.PointsTransaction, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT id, user_id, points, kind, order_id, line_no, offsets, description, created_by, created_at
		FROM points_transactions
		WHERE order_id = $1 AND kind = $2
		ORDER BY id
	`, orderID, domain.KindEarn)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

func (t *ledgerTx) ExpirableEarns(cutoff time.Time) ([]domain.PointsTransaction, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT e.id, e.user_id, e.points, e.kind, e.order_id, e.line_no, e.offsets, e.description, e.created_by, e.created_at
		FROM points_transactions e
		WHERE e.kind = $1
		  AND e.created_at < $2
		  AND NOT EXISTS (
			SELECT 1 FROM points_transactions o WHERE o.offsets = e.id
		  )
		ORDER BY e.user_id, e.id
	`, domain.KindEarn, cutoff)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

func (t *ledgerTx) Balance(userID int64) (int64, error) {
	var balance int64
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT COALESCE(SUM(points), 0)
		FROM points_transactions
		WHERE user_id = $1
	`, userID).Scan(&balance)
	return balance, err
}

func scanEntries(rows *sql.Rows) ([]domain.PointsTransaction, error) {
	var entries []domain.PointsTransaction
	for rows.Next() {
		var entry domain.PointsTransaction
		if err := rows.Scan(
			&entry.ID, &entry.UserID, &entry.Points, &entry.Kind, &entry.OrderID,
			&entry.LineNo, &entry.Offsets, &entry.Description, &entry.CreatedBy, &entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
