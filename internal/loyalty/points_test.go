package loyalty

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ecomware/fulfillment-ledger/internal/config"
	"github.com/ecomware/fulfillment-ledger/internal/domain"
	"github.com/ecomware/fulfillment-ledger/internal/money"
)

func testProduct() domain.Product {
	return domain.Product{
		ID:                1,
		SKU:               "SKU-001",
		Name:              "Widget",
		Price:             money.MustParse("100", "USD"),
		DiscountPercent:   decimal.NewFromInt(25),
		VATPercent:        decimal.NewFromInt(20),
		PointsCoefficient: decimal.NewFromInt(1),
	}
}

func baseConfig() config.Loyalty {
	return config.Loyalty{
		Enabled:               true,
		PointsFactor:          decimal.NewFromInt(1),
		PriceBasis:            config.BasisFinalPrice,
		TierMultiplierEnabled: true,
		XPPerLevel:            100,
	}
}

func TestItemPoints(t *testing.T) {
	tests := []struct {
		name       string
		modify     func(*domain.Product, *config.Loyalty)
		quantity   int
		multiplier decimal.Decimal
		want       int64
	}{
		{
			// 100 * 0.75 * 1.20 = 90 per unit.
			name:       "final price basis",
			modify:     func(p *domain.Product, c *config.Loyalty) {},
			quantity:   2,
			multiplier: decimal.NewFromInt(1),
			want:       180,
		},
		{
			name: "excl vat no discount",
			modify: func(p *domain.Product, c *config.Loyalty) {
				c.PriceBasis = config.BasisExclVATNoDiscount
			},
			quantity:   1,
			multiplier: decimal.NewFromInt(1),
			want:       100,
		},
		{
			name: "excl vat with discount",
			modify: func(p *domain.Product, c *config.Loyalty) {
				c.PriceBasis = config.BasisExclVATWithDiscount
			},
			quantity:   1,
			multiplier: decimal.NewFromInt(1),
			want:       75,
		},
		{
			name: "incl vat no discount",
			modify: func(p *domain.Product, c *config.Loyalty) {
				c.PriceBasis = config.BasisInclVATNoDiscount
			},
			quantity:   1,
			multiplier: decimal.NewFromInt(1),
			want:       120,
		},
		{
			name: "coefficient scales before flooring",
			modify: func(p *domain.Product, c *config.Loyalty) {
				p.PointsCoefficient = decimal.RequireFromString("1.5")
			},
			quantity:   1,
			multiplier: decimal.NewFromInt(1),
			want:       135,
		},
		{
			name: "factor scales before flooring",
			modify: func(p *domain.Product, c *config.Loyalty) {
				c.PointsFactor = decimal.RequireFromString("0.5")
			},
			quantity:   1,
			multiplier: decimal.NewFromInt(1),
			want:       45,
		},
		{
			// 90 * 1.25 = 112.5, floored to 112.
			name:       "tier multiplier applied then floored",
			modify:     func(p *domain.Product, c *config.Loyalty) {},
			quantity:   1,
			multiplier: decimal.RequireFromString("1.25"),
			want:       112,
		},
		{
			name: "tier multiplier ignored when disabled",
			modify: func(p *domain.Product, c *config.Loyalty) {
				c.TierMultiplierEnabled = false
			},
			quantity:   1,
			multiplier: decimal.RequireFromString("1.25"),
			want:       90,
		},
		{
			name:       "multiplier of one has no effect",
			modify:     func(p *domain.Product, c *config.Loyalty) {},
			quantity:   1,
			multiplier: decimal.NewFromInt(1),
			want:       90,
		},
		{
			name: "fixed bonus added after flooring per unit",
			modify: func(p *domain.Product, c *config.Loyalty) {
				p.FixedBonusPoints = 5
			},
			quantity:   3,
			multiplier: decimal.RequireFromString("1.25"),
			want:       337 + 15, // floor(90*3*1.25) + 5*3
		},
		{
			name:       "zero quantity earns nothing",
			modify:     func(p *domain.Product, c *config.Loyalty) {},
			quantity:   0,
			multiplier: decimal.NewFromInt(1),
			want:       0,
		},
		{
			name: "free product earns only the fixed bonus",
			modify: func(p *domain.Product, c *config.Loyalty) {
				p.Price = money.Zero("USD")
				p.FixedBonusPoints = 2
			},
			quantity:   4,
			multiplier: decimal.NewFromInt(1),
			want:       8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			product := testProduct()
			cfg := baseConfig()
			tt.modify(&product, &cfg)

			got := ItemPoints(product, tt.quantity, tt.multiplier, cfg)
			if got != tt.want {
				t.Fatalf("expected %d points, got %d", tt.want, got)
			}
		})
	}
}

func TestItemPointsFloorLaw(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 500; i++ {
		product := testProduct()
		product.Price = money.Money{
			Amount:   decimal.NewFromInt(rng.Int63n(100000)).Div(decimal.NewFromInt(100)),
			Currency: "USD",
		}
		product.DiscountPercent = decimal.NewFromInt(rng.Int63n(100))
		product.VATPercent = decimal.NewFromInt(rng.Int63n(30))
		product.PointsCoefficient = decimal.NewFromInt(rng.Int63n(300) + 1).Div(decimal.NewFromInt(100))
		product.FixedBonusPoints = rng.Int63n(10)

		cfg := baseConfig()
		cfg.PointsFactor = decimal.NewFromInt(rng.Int63n(200) + 1).Div(decimal.NewFromInt(100))

		quantity := int(rng.Int63n(10))
		multiplier := decimal.NewFromInt(rng.Int63n(200) + 100).Div(decimal.NewFromInt(100))

		got := ItemPoints(product, quantity, multiplier, cfg)

		if quantity == 0 {
			if got != 0 {
				t.Fatalf("zero quantity earned %d points", got)
			}
			continue
		}

		raw := basisPrice(product, cfg.PriceBasis).Amount.
			Mul(cfg.PointsFactor).
			Mul(product.PointsCoefficient).
			Mul(decimal.NewFromInt(int64(quantity)))
		if multiplier.GreaterThan(one) {
			raw = raw.Mul(multiplier)
		}
		floored := raw.Truncate(0).IntPart()
		want := floored + product.FixedBonusPoints*int64(quantity)

		if got != want {
			t.Fatalf("price=%s qty=%d mult=%s: got %d, want %d",
				product.Price.Amount, quantity, multiplier, got, want)
		}
		if diff := raw.Sub(decimal.NewFromInt(floored)); diff.IsNegative() || diff.GreaterThanOrEqual(one) {
			t.Fatalf("flooring moved by %s, want within [0, 1)", diff)
		}
		if got < 0 {
			t.Fatalf("points went negative: %d", got)
		}
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		totalXP    int64
		xpPerLevel int64
		want       int64
	}{
		{0, 100, 1},
		{99, 100, 1},
		{100, 100, 2},
		{250, 100, 3},
		{1000, 100, 11},
		{500, 0, 1},
		{500, -1, 1},
	}

	for _, tt := range tests {
		if got := Level(tt.totalXP, tt.xpPerLevel); got != tt.want {
			t.Errorf("Level(%d, %d) = %d, want %d", tt.totalXP, tt.xpPerLevel, got, tt.want)
		}
	}
}

func TestTierForLevel(t *testing.T) {
	tiers := []domain.LoyaltyTier{
		{ID: 1, Name: "Bronze", RequiredLevel: 1, Multiplier: decimal.NewFromInt(1)},
		{ID: 2, Name: "Silver", RequiredLevel: 5, Multiplier: decimal.RequireFromString("1.1")},
		{ID: 3, Name: "Gold", RequiredLevel: 10, Multiplier: decimal.RequireFromString("1.25")},
	}

	tests := []struct {
		level int64
		want  string
	}{
		{1, "Bronze"},
		{4, "Bronze"},
		{5, "Silver"},
		{9, "Silver"},
		{10, "Gold"},
		{42, "Gold"},
	}
	for _, tt := range tests {
		tier := TierForLevel(tiers, tt.level)
		if tier == nil || tier.Name != tt.want {
			t.Errorf("TierForLevel(level=%d) = %v, want %s", tt.level, tier, tt.want)
		}
	}

	if tier := TierForLevel(nil, 10); tier != nil {
		t.Fatalf("expected nil tier with no tiers configured, got %v", tier)
	}
	if tier := TierForLevel(tiers[1:], 2); tier != nil {
		t.Fatalf("expected nil tier below every threshold, got %v", tier)
	}
}
