// Package stock validates and mutates product inventory counters. The
// reserve path is a single guarded UPDATE, so two concurrent reservations
// that together exceed stock cannot both succeed.
package stock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ecomware/fulfillment-ledger/internal/domain"
)

var ErrInsufficientStock = errors.New("insufficient stock")

// Execer is the slice of *sql.DB / *sql.Tx the guard needs, so reservations
// and restores can run inside a caller-owned transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Guard struct {
	db *sql.DB
}

func NewGuard(db *sql.DB) *Guard {
	return &Guard{db: db}
}

// Reserve decrements stock only if quantity is still available.
func (g *Guard) Reserve(ctx context.Context, productID int64, quantity int) error {
	return Reserve(ctx, g.db, productID, quantity)
}

// Restore increments stock unconditionally. Callers pass the exact quantity
// previously reserved for the item, which bounds what can ever come back.
func (g *Guard) Restore(ctx context.Context, productID int64, quantity int) error {
	return Restore(ctx, g.db, productID, quantity)
}

// Level reads the current stock counter.
func (g *Guard) Level(ctx context.Context, productID int64) (*domain.StockLevel, error) {
	level := &domain.StockLevel{}
	err := g.db.QueryRowContext(ctx, `
		SELECT id, sku, stock
		FROM products
		WHERE id = $1
	`, productID).Scan(&level.ProductID, &level.SKU, &level.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProductNotFound
		}
		return nil, err
	}
	return level, nil
}

// LevelBySKU is Level keyed by SKU, for the read-side HTTP surface.
func (g *Guard) LevelBySKU(ctx context.Context, sku string) (*domain.StockLevel, error) {
	level := &domain.StockLevel{}
	err := g.db.QueryRowContext(ctx, `
		SELECT id, sku, stock
		FROM products
		WHERE sku = $1
	`, sku).Scan(&level.ProductID, &level.SKU, &level.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProductNotFound
		}
		return nil, err
	}
	return level, nil
}

// Reserve is the transactional form of Guard.Reserve. The WHERE clause
// makes the check-and-decrement one atomic statement per product row.
func Reserve(ctx context.Context, q Execer, productID int64, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("reserve quantity must be positive, got %d", quantity)
	}

	result, err := q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $2
		WHERE id = $1 AND stock >= $2
	`, productID, quantity)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		if exists, err := productExists(ctx, q, productID); err != nil {
			return err
		} else if !exists {
			return domain.ErrProductNotFound
		}
		return ErrInsufficientStock
	}

	return nil
}

// Restore is the transactional form of Guard.Restore.
func Restore(ctx context.Context, q Execer, productID int64, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("restore quantity must be positive, got %d", quantity)
	}

	result, err := q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $2
		WHERE id = $1
	`, productID, quantity)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return domain.ErrProductNotFound
	}

	return nil
}

// Adjust applies a signed delta without the sufficiency guard. Quantity
// edits on existing order items use it: the item already holds its
// reservation, so the availability check does not apply.
func Adjust(ctx context.Context, q Execer, productID int64, delta int) error {
	if delta == 0 {
		return nil
	}

	result, err := q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $2
		WHERE id = $1
	`, productID, delta)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return domain.ErrProductNotFound
	}

	return nil
}

func productExists(ctx context.Context, q Execer, productID int64) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)
	`, productID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}
