// Package loyalty computes points per order item and maintains the
// append-only points ledger. Balance, level and tier are always derived
// from the ledger; the only persisted aggregate is the user's cumulative
// XP and a tier cache recomputed on every XP change.
package loyalty

import (
	"context"
	"errors"
	"time"

	"github.com/ecomware/fulfillment-ledger/internal/domain"
)

// ErrDuplicateEarn is returned by Tx.Insert when an EARN set already exists
// for the order. The postgres store maps the partial unique index violation
// to it, which is what makes concurrent awards safe.
var ErrDuplicateEarn = errors.New("earn entries already recorded for order")

// Ledger runs ledger work inside one atomic transaction. A ledger mutation
// and its XP/tier update either both apply or neither does.
type Ledger interface {
	Transact(ctx context.Context, fn func(Tx) error) error
}

// Tx is the storage surface available inside a ledger transaction.
type Tx interface {
	Order(orderID int64) (*domain.Order, error)
	OrderLines(orderID int64) (*domain.Order, []domain.OrderLine, error)
	PatchOrderMetadata(orderID int64, patch map[string]any) error

	// User loads the account and locks it for the transaction. Call it
	// before Balance in any path that validates or clamps against the
	// balance; the lock is what serializes those checks per user.
	User(userID int64) (*domain.UserAccount, error)
	SetUserProgress(userID int64, totalXP int64, tierID *int64) error
	Tiers() ([]domain.LoyaltyTier, error)

	Insert(entry *domain.PointsTransaction) error
	HasEntry(orderID int64, kind domain.TransactionKind) (bool, error)
	HasKindForUser(userID int64, kind domain.TransactionKind) (bool, error)
	// FirstEarnOrder returns the order of the user's earliest EARN row;
	// found is false when the user has no EARN rows at all.
	FirstEarnOrder(userID int64) (orderID *int64, found bool, err error)
	EarnEntries(orderID int64) ([]domain.PointsTransaction, error)
	ExpirableEarns(cutoff time.Time) ([]domain.PointsTransaction, error)
	Balance(userID int64) (int64, error)
}

// ValidationError is a redemption failure with a caller-facing reason. It
// aborts the operation with no ledger mutation.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

const (
	ReasonDisabled            = "loyalty system is disabled"
	ReasonNonPositiveAmount   = "points amount must be positive"
	ReasonUnsupportedCurrency = "unsupported currency"
	ReasonInsufficientBalance = "insufficient points balance"
)
