package loyalty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecomware/fulfillment-ledger/internal/config"
	"github.com/ecomware/fulfillment-ledger/internal/domain"
	"github.com/ecomware/fulfillment-ledger/internal/money"
)

type Service struct {
	ledger Ledger
	cfg    config.Loyalty
	logger *slog.Logger
	now    func() time.Time
}

func NewService(ledger Ledger, cfg config.Loyalty, logger *slog.Logger) *Service {
	return &Service{
		ledger: ledger,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// AwardOrderPoints inserts one EARN row per order line, adds the total to
// the user's XP and recomputes the tier, all in one transaction. It is
// idempotent: if any EARN row already references the order it returns 0
// without touching the ledger. Guest orders, missing orders and a disabled
// loyalty system are no-ops returning 0.
func (s *Service) AwardOrderPoints(ctx context.Context, orderID int64) (int64, error) {
	if !s.cfg.Enabled {
		return 0, nil
	}

	var awarded int64
	err := s.ledger.Transact(ctx, func(tx Tx) error {
		order, lines, err := tx.OrderLines(orderID)
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if order.IsGuest() {
			return nil
		}

		earned, err := tx.HasEntry(orderID, domain.KindEarn)
		if err != nil {
			return err
		}
		if earned {
			return nil
		}

		user, err := tx.User(*order.UserID)
		if err != nil {
			return err
		}

		tiers, err := tx.Tiers()
		if err != nil {
			return err
		}

		multiplier := one
		if tier := TierForLevel(tiers, Level(user.TotalXP, s.cfg.XPPerLevel)); tier != nil {
			multiplier = tier.Multiplier
		}

		for i, line := range lines {
			points := ItemPoints(line.Product, line.Item.Quantity, multiplier, s.cfg)
			if points <= 0 {
				continue
			}
			lineNo := i + 1
			entry := &domain.PointsTransaction{
				UserID:      user.ID,
				Points:      points,
				Kind:        domain.KindEarn,
				OrderID:     &orderID,
				LineNo:      &lineNo,
				Description: fmt.Sprintf("Points earned for %q x%d", line.Product.Name, line.Item.Quantity),
				CreatedAt:   s.now(),
			}
			if err := tx.Insert(entry); err != nil {
				return err
			}
			awarded += points
		}

		if awarded == 0 {
			return nil
		}

		return s.applyXP(tx, user, user.TotalXP+awarded)
	})
	if errors.Is(err, ErrDuplicateEarn) {
		// Lost a race against a concurrent award; the other one won.
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	if awarded > 0 {
		s.logger.Info("order points awarded", "order_id", orderID, "points", awarded)
	}
	return awarded, nil
}

// ReverseOrderPoints negates every EARN row of the order with one ADJUST
// row each, clamped so the user's balance never goes below zero. Clamping
// is a defined recovery policy, not an error: it is logged and the
// operation still succeeds. Idempotent via the presence of any ADJUST row
// referencing the order.
func (s *Service) ReverseOrderPoints(ctx context.Context, orderID int64) (int64, error) {
	if !s.cfg.Enabled {
		return 0, nil
	}

	var reversed int64
	err := s.ledger.Transact(ctx, func(tx Tx) error {
		if _, err := tx.Order(orderID); err != nil {
			return err
		}

		adjusted, err := tx.HasEntry(orderID, domain.KindAdjust)
		if err != nil {
			return err
		}
		if adjusted {
			return nil
		}

		earns, err := tx.EarnEntries(orderID)
		if err != nil {
			return err
		}
		if len(earns) == 0 {
			return nil
		}

		userID := earns[0].UserID
		user, err := tx.User(userID)
		if err != nil {
			return err
		}

		remaining, err := tx.Balance(userID)
		if err != nil {
			return err
		}
		if remaining < 0 {
			remaining = 0
		}

		for i := range earns {
			earn := earns[i]
			amount := earn.Points
			if amount > remaining {
				s.logger.Warn("clamping points reversal to keep balance non-negative",
					"order_id", orderID, "user_id", userID,
					"earned", earn.Points, "reversed", remaining)
				amount = remaining
			}
			entry := &domain.PointsTransaction{
				UserID:      userID,
				Points:      -amount,
				Kind:        domain.KindAdjust,
				OrderID:     &orderID,
				Offsets:     &earn.ID,
				Description: fmt.Sprintf("Reversal of earn #%d", earn.ID),
				CreatedAt:   s.now(),
			}
			if err := tx.Insert(entry); err != nil {
				return err
			}
			remaining -= amount
			reversed += amount
		}

		newXP := user.TotalXP - reversed
		if newXP < 0 {
			newXP = 0
		}
		return s.applyXP(tx, user, newXP)
	})
	if err != nil {
		return 0, err
	}

	if reversed > 0 {
		s.logger.Info("order points reversed", "order_id", orderID, "points", reversed)
	}
	return reversed, nil
}

// RedeemPoints converts points into a monetary discount. Validation order:
// system enabled, positive amount, supported currency, sufficient balance.
// Any failure aborts with a *ValidationError and no ledger mutation. When
// an order is supplied, the redemption facts are stored in its metadata;
// applying the discount to the order total stays with the caller.
func (s *Service) RedeemPoints(ctx context.Context, userID, points int64, currency string, orderID *int64) (money.Money, error) {
	if !s.cfg.Enabled {
		return money.Money{}, &ValidationError{Reason: ReasonDisabled}
	}
	if points <= 0 {
		return money.Money{}, &ValidationError{Reason: ReasonNonPositiveAmount}
	}
	ratio, ok := s.cfg.RedemptionRatios[currency]
	if !ok {
		return money.Money{}, &ValidationError{Reason: ReasonUnsupportedCurrency}
	}

	discount := money.New(decimal.NewFromInt(points).Div(ratio), currency)

	err := s.ledger.Transact(ctx, func(tx Tx) error {
		if _, err := tx.User(userID); err != nil {
			return err
		}

		balance, err := tx.Balance(userID)
		if err != nil {
			return err
		}
		if points > balance {
			return &ValidationError{Reason: ReasonInsufficientBalance}
		}

		entry := &domain.PointsTransaction{
			UserID:      userID,
			Points:      -points,
			Kind:        domain.KindRedeem,
			OrderID:     orderID,
			Description: fmt.Sprintf("Redeemed %d points for %s", points, discount),
			CreatedAt:   s.now(),
		}
		if err := tx.Insert(entry); err != nil {
			return err
		}

		if orderID != nil {
			patch := map[string]any{
				"points_redeemed":   points,
				"discount":          discount.Amount.String(),
				"discount_currency": currency,
			}
			if err := tx.PatchOrderMetadata(*orderID, patch); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return money.Money{}, err
	}

	s.logger.Info("points redeemed", "user_id", userID, "points", points, "discount", discount.String())
	return discount, nil
}

// ProcessExpiration inserts one EXPIRE row for every EARN older than the
// retention window that has not been offset yet, clamped per user so the
// balance stays non-negative. Returns how many EARN rows were expired.
// Disabled when the window is zero.
func (s *Service) ProcessExpiration(ctx context.Context) (int, error) {
	if !s.cfg.Enabled || s.cfg.PointsExpirationDays <= 0 {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -s.cfg.PointsExpirationDays)

	var expired int
	err := s.ledger.Transact(ctx, func(tx Tx) error {
		earns, err := tx.ExpirableEarns(cutoff)
		if err != nil {
			return err
		}

		balances := map[int64]int64{}
		for i := range earns {
			earn := earns[i]
			remaining, seen := balances[earn.UserID]
			if !seen {
				if _, err := tx.User(earn.UserID); err != nil {
					return err
				}
				remaining, err = tx.Balance(earn.UserID)
				if err != nil {
					return err
				}
				if remaining < 0 {
					remaining = 0
				}
			}

			amount := earn.Points
			if amount > remaining {
				amount = remaining
			}
			entry := &domain.PointsTransaction{
				UserID:      earn.UserID,
				Points:      -amount,
				Kind:        domain.KindExpire,
				OrderID:     earn.OrderID,
				Offsets:     &earn.ID,
				Description: fmt.Sprintf("Expiration of earn #%d", earn.ID),
				CreatedAt:   s.now(),
			}
			if err := tx.Insert(entry); err != nil {
				return err
			}
			balances[earn.UserID] = remaining - amount
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if expired > 0 {
		s.logger.Info("points expired", "earn_rows", expired, "cutoff", cutoff)
	}
	return expired, nil
}

// CheckNewCustomerBonus awards the one-time BONUS for a user's first
// order: granted only when the user's earliest EARN row belongs to the
// order being processed, or when no EARN exists yet. When two first
// orders complete concurrently each check sees the other's EARN rows;
// the earliest-row rule makes exactly one of them carry the bonus.
// Idempotent per user via the BONUS row itself.
func (s *Service) CheckNewCustomerBonus(ctx context.Context, userID, orderID int64) (int64, error) {
	if !s.cfg.Enabled || !s.cfg.NewCustomerBonusEnabled || s.cfg.NewCustomerBonusPoints <= 0 {
		return 0, nil
	}

	var granted int64
	err := s.ledger.Transact(ctx, func(tx Tx) error {
		user, err := tx.User(userID)
		if err != nil {
			return err
		}

		hasBonus, err := tx.HasKindForUser(userID, domain.KindBonus)
		if err != nil {
			return err
		}
		if hasBonus {
			return nil
		}

		firstOrder, found, err := tx.FirstEarnOrder(userID)
		if err != nil {
			return err
		}
		if found && (firstOrder == nil || *firstOrder != orderID) {
			return nil
		}

		granted = s.cfg.NewCustomerBonusPoints
		entry := &domain.PointsTransaction{
			UserID:      userID,
			Points:      granted,
			Kind:        domain.KindBonus,
			OrderID:     &orderID,
			Description: "New customer bonus",
			CreatedAt:   s.now(),
		}
		if err := tx.Insert(entry); err != nil {
			return err
		}
		return s.applyXP(tx, user, user.TotalXP+granted)
	})
	if err != nil {
		return 0, err
	}

	if granted > 0 {
		s.logger.Info("new customer bonus granted", "user_id", userID, "points", granted)
	}
	return granted, nil
}

// RecalculateUserTier refreshes the tier cache from the user's current XP.
func (s *Service) RecalculateUserTier(ctx context.Context, userID int64) error {
	return s.ledger.Transact(ctx, func(tx Tx) error {
		user, err := tx.User(userID)
		if err != nil {
			return err
		}
		return s.applyXP(tx, user, user.TotalXP)
	})
}

// Summary is the derived read model: balance, XP, level and tier.
type Summary struct {
	UserID  int64  `json:"user_id"`
	Balance int64  `json:"balance"`
	TotalXP int64  `json:"total_xp"`
	Level   int64  `json:"level"`
	Tier    string `json:"tier,omitempty"`
}

func (s *Service) UserSummary(ctx context.Context, userID int64) (*Summary, error) {
	summary := &Summary{UserID: userID}
	err := s.ledger.Transact(ctx, func(tx Tx) error {
		user, err := tx.User(userID)
		if err != nil {
			return err
		}
		balance, err := tx.Balance(userID)
		if err != nil {
			return err
		}
		tiers, err := tx.Tiers()
		if err != nil {
			return err
		}
		summary.Balance = balance
		summary.TotalXP = user.TotalXP
		summary.Level = Level(user.TotalXP, s.cfg.XPPerLevel)
		if tier := TierForLevel(tiers, summary.Level); tier != nil {
			summary.Tier = tier.Name
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// applyXP writes the new XP together with the tier derived from it.
func (s *Service) applyXP(tx Tx, user *domain.UserAccount, totalXP int64) error {
	tiers, err := tx.Tiers()
	if err != nil {
		return err
	}

	var tierID *int64
	if tier := TierForLevel(tiers, Level(totalXP, s.cfg.XPPerLevel)); tier != nil {
		tierID = &tier.ID
	}
	return tx.SetUserProgress(user.ID, totalXP, tierID)
}
