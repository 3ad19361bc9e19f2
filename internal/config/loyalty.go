// Package config reads named settings from the environment with in-code
// defaults, the same way the services read POSTGRES_URL and KAFKA_BROKERS.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceBasis selects which VAT/discount-adjusted price feeds the points
// formula.
type PriceBasis string

const (
	BasisExclVATNoDiscount   PriceBasis = "price_excl_vat_no_discount"
	BasisExclVATWithDiscount PriceBasis = "price_excl_vat_with_discount"
	BasisInclVATNoDiscount   PriceBasis = "price_incl_vat_no_discount"
	BasisFinalPrice          PriceBasis = "final_price"
)

func (b PriceBasis) Valid() bool {
	switch b {
	case BasisExclVATNoDiscount, BasisExclVATWithDiscount, BasisInclVATNoDiscount, BasisFinalPrice:
		return true
	}
	return false
}

// Loyalty holds every tunable of the points system. RedemptionRatios maps a
// currency code to the points-per-unit ratio; the key set defines the
// supported currencies for redemption.
type Loyalty struct {
	Enabled                 bool
	PointsFactor            decimal.Decimal
	PriceBasis              PriceBasis
	TierMultiplierEnabled   bool
	XPPerLevel              int64
	PointsExpirationDays    int
	NewCustomerBonusEnabled bool
	NewCustomerBonusPoints  int64
	RedemptionRatios        map[string]decimal.Decimal
}

const redemptionRatioPrefix = "LOYALTY_REDEMPTION_RATIO_"

// LoadLoyalty reads the LOYALTY_* keys, falling back to defaults for unset
// or malformed values.
func LoadLoyalty() Loyalty {
	cfg := Loyalty{
		Enabled:                 envBool("LOYALTY_ENABLED", true),
		PointsFactor:            envDecimal("LOYALTY_POINTS_FACTOR", decimal.NewFromInt(1)),
		PriceBasis:              BasisFinalPrice,
		TierMultiplierEnabled:   envBool("LOYALTY_TIER_MULTIPLIER_ENABLED", true),
		XPPerLevel:              envInt64("LOYALTY_XP_PER_LEVEL", 100),
		PointsExpirationDays:    int(envInt64("LOYALTY_POINTS_EXPIRATION_DAYS", 0)),
		NewCustomerBonusEnabled: envBool("LOYALTY_NEW_CUSTOMER_BONUS_ENABLED", false),
		NewCustomerBonusPoints:  envInt64("LOYALTY_NEW_CUSTOMER_BONUS_POINTS", 0),
		RedemptionRatios:        map[string]decimal.Decimal{},
	}

	if basis := PriceBasis(os.Getenv("LOYALTY_PRICE_BASIS")); basis.Valid() {
		cfg.PriceBasis = basis
	}

	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, redemptionRatioPrefix) {
			continue
		}
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		currency := strings.TrimPrefix(key, redemptionRatioPrefix)
		ratio, err := decimal.NewFromString(value)
		if err != nil || !ratio.IsPositive() {
			continue
		}
		cfg.RedemptionRatios[currency] = ratio
	}

	return cfg
}

// SupportedCurrencies lists the currencies redemption accepts, sorted for
// stable error messages.
func (l Loyalty) SupportedCurrencies() []string {
	currencies := make([]string, 0, len(l.RedemptionRatios))
	for c := range l.RedemptionRatios {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)
	return currencies
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fallback
	}
	return d
}

// Env returns the value of key or fallback when unset, matching the lookup
// style used in the service mains.
func Env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// RequireEnv returns an error naming the missing key, for settings without
// a sensible default.
func RequireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%s environment variable is required", key)
	}
	return v, nil
}
