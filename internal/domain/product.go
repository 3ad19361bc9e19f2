package domain

import (
	"github.com/shopspring/decimal"

	"github.com/ecomware/fulfillment-ledger/internal/money"
)

// Product carries the pricing facts the points formula needs and the stock
// counter the guard mutates. Price is the net, undiscounted unit price.
type Product struct {
	ID                int64           `json:"id"`
	SKU               string          `json:"sku"`
	Name              string          `json:"name"`
	Price             money.Money     `json:"price"`
	DiscountPercent   decimal.Decimal `json:"discount_percent"` // 0..100
	VATPercent        decimal.Decimal `json:"vat_percent"`      // 0..100
	Stock             int             `json:"stock"`
	PointsCoefficient decimal.Decimal `json:"points_coefficient"`
	FixedBonusPoints  int64           `json:"fixed_bonus_points"`
}

var hundred = decimal.NewFromInt(100)

// PriceExclVAT is the net price, optionally discounted.
func (p *Product) PriceExclVAT(withDiscount bool) money.Money {
	if !withDiscount || p.DiscountPercent.IsZero() {
		return p.Price
	}
	return p.Price.MulDecimal(hundred.Sub(p.DiscountPercent).Div(hundred))
}

// PriceInclVAT is the gross price, optionally discounted.
func (p *Product) PriceInclVAT(withDiscount bool) money.Money {
	return p.PriceExclVAT(withDiscount).MulDecimal(hundred.Add(p.VATPercent).Div(hundred))
}
