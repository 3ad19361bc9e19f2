package loyalty

import (
	"github.com/shopspring/decimal"

	"github.com/ecomware/fulfillment-ledger/internal/config"
	"github.com/ecomware/fulfillment-ledger/internal/domain"
	"github.com/ecomware/fulfillment-ledger/internal/money"
)

var one = decimal.NewFromInt(1)

// ItemPoints computes the points one order line earns:
//
//	floor(basis × factor × coefficient × quantity [× tier multiplier]) + fixed bonus × quantity
//
// Flooring truncates toward zero after the multiplier; the fixed per-unit
// bonus is added after flooring and is never multiplied.
func ItemPoints(product domain.Product, quantity int, tierMultiplier decimal.Decimal, cfg config.Loyalty) int64 {
	if quantity <= 0 {
		return 0
	}

	basis := basisPrice(product, cfg.PriceBasis)

	raw := basis.Amount.
		Mul(cfg.PointsFactor).
		Mul(product.PointsCoefficient).
		Mul(decimal.NewFromInt(int64(quantity)))

	if cfg.TierMultiplierEnabled && tierMultiplier.GreaterThan(one) {
		raw = raw.Mul(tierMultiplier)
	}

	return raw.Truncate(0).IntPart() + product.FixedBonusPoints*int64(quantity)
}

func basisPrice(product domain.Product, basis config.PriceBasis) money.Money {
	switch basis {
	case config.BasisExclVATNoDiscount:
		return product.PriceExclVAT(false)
	case config.BasisExclVATWithDiscount:
		return product.PriceExclVAT(true)
	case config.BasisInclVATNoDiscount:
		return product.PriceInclVAT(false)
	default:
		return product.PriceInclVAT(true)
	}
}

// Level derives a user's level from cumulative XP. Level is 1-based and 1
// whenever xpPerLevel is not positive.
func Level(totalXP, xpPerLevel int64) int64 {
	if xpPerLevel <= 0 {
		return 1
	}
	return 1 + totalXP/xpPerLevel
}

// TierForLevel returns the highest tier whose required level is within
// reach, or nil when none qualifies.
func TierForLevel(tiers []domain.LoyaltyTier, level int64) *domain.LoyaltyTier {
	var best *domain.LoyaltyTier
	for i := range tiers {
		t := &tiers[i]
		if t.RequiredLevel > level {
			continue
		}
		if best == nil || t.RequiredLevel > best.RequiredLevel {
			best = t
		}
	}
	return best
}
