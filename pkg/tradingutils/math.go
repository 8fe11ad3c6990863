// Package tradingutils holds decimal price-grid arithmetic shared by
// quoting strategies. Computation stays in decimals so repeated level
// offsets do not accumulate float error.
package tradingutils

import (
	"github.com/shopspring/decimal"
)

// RoundPrice rounds a price to the given number of decimals.
func RoundPrice(price decimal.Decimal, priceDecimals int) decimal.Decimal {
	return price.Round(int32(priceDecimals))
}

// CalculatePriceLevels returns count levels offset from anchor by
// successive multiples of interval. A negative interval walks the
// ladder downward.
func CalculatePriceLevels(anchorPrice, interval decimal.Decimal, count int) []decimal.Decimal {
	prices := make([]decimal.Decimal, 0, count)
	for i := 1; i <= count; i++ {
		prices = append(prices, anchorPrice.Add(interval.Mul(decimal.NewFromInt(int64(i)))))
	}
	return prices
}

// FindNearestGridPrice snaps a price onto the grid defined by anchor
// and interval. A zero interval returns the price unchanged.
func FindNearestGridPrice(currentPrice, anchorPrice, interval decimal.Decimal) decimal.Decimal {
	if interval.IsZero() {
		return currentPrice
	}
	offset := currentPrice.Sub(anchorPrice)
	intervals := offset.Div(interval).Round(0)
	return anchorPrice.Add(intervals.Mul(interval))
}

// CalculateSkewedPrice shifts a reference price against the current
// inventory: long inventory lowers it, short inventory raises it, so
// quoting recenters toward flat.
func CalculateSkewedPrice(basePrice, inventory, targetInventory, skewFactor decimal.Decimal) decimal.Decimal {
	diff := inventory.Sub(targetInventory)
	adjustment := decimal.NewFromInt(1).Sub(diff.Mul(skewFactor))
	return basePrice.Mul(adjustment)
}
