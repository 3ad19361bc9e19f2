package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind distinguishes the five kinds of rows in the points
// ledger. EARN and BONUS add points, REDEEM/EXPIRE/ADJUST subtract them via
// negative deltas. The ledger is append-only: corrections are offsetting
// rows, never edits.
type TransactionKind string

const (
	KindEarn   TransactionKind = "EARN"
	KindRedeem TransactionKind = "REDEEM"
	KindExpire TransactionKind = "EXPIRE"
	KindAdjust TransactionKind = "ADJUST"
	KindBonus  TransactionKind = "BONUS"
)

// PointsTransaction is one immutable ledger row. Offsets references the row
// this one negates (set on ADJUST and EXPIRE rows). LineNo is the 1-based
// order line an EARN row was computed from; the partial unique index over
// (order_id, line_no) is what makes concurrent awards collide.
type PointsTransaction struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	Points      int64           `json:"points"`
	Kind        TransactionKind `json:"kind"`
	OrderID     *int64          `json:"order_id,omitempty"`
	LineNo      *int            `json:"line_no,omitempty"`
	Offsets     *int64          `json:"offsets,omitempty"`
	Description string          `json:"description"`
	CreatedBy   *int64          `json:"created_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// LoyaltyTier is administrator-managed reference data ordered by
// RequiredLevel.
type LoyaltyTier struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	RequiredLevel int64           `json:"required_level"`
	Multiplier    decimal.Decimal `json:"multiplier"` // >= 1.0
}

type UserAccount struct {
	ID      int64  `json:"id"`
	Email   string `json:"email"`
	TotalXP int64  `json:"total_xp"`
	TierID  *int64 `json:"tier_id,omitempty"`
}
