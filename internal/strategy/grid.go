package strategy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"perpsim/internal/sim"
	apperrors "perpsim/pkg/errors"
	"perpsim/pkg/tradingutils"
)

const (
	defaultGridLevels     = 3
	defaultGridSpacingBps = 20.0
	defaultPriceDecimals  = 2

	// quotes inside this fraction of an interval around the price are
	// dropped instead of placed marketable
	gridSafetyFrac = "0.1"
)

func init() {
	Register("grid", NewGrid)
}

// Grid quotes a symmetric limit-order ladder around the current price.
// The ladder is anchored at the first bar open, so levels stay put as
// price walks through them instead of drifting bar to bar; each bar the
// book is requoted from scratch. Inventory optionally skews the ladder
// center toward flat.
//
// Params: levels (orders per side, default 3), spacing_bps (level
// spacing, default 20), qty (order size in base units, default 0.001),
// skew (inventory skew factor per base unit, default 0),
// price_decimals (quote rounding, default 2).
type Grid struct {
	Base
	trader Trader
	symbol string

	levels        int
	spacing       decimal.Decimal
	qty           float64
	skew          decimal.Decimal
	priceDecimals int

	anchor   decimal.Decimal
	interval decimal.Decimal
}

func NewGrid(trader Trader, symbol, _ string, params Params) (Strategy, error) {
	levels, err := params.Int("levels", defaultGridLevels)
	if err != nil {
		return nil, err
	}
	spacingBps, err := params.Float("spacing_bps", defaultGridSpacingBps)
	if err != nil {
		return nil, err
	}
	qty, err := params.Float("qty", defaultOrderQty)
	if err != nil {
		return nil, err
	}
	skew, err := params.Float("skew", 0)
	if err != nil {
		return nil, err
	}
	priceDecimals, err := params.Int("price_decimals", defaultPriceDecimals)
	if err != nil {
		return nil, err
	}
	if levels <= 0 {
		return nil, fmt.Errorf("%w: levels must be positive", apperrors.ErrInvalidParam)
	}
	if spacingBps <= 0 {
		return nil, fmt.Errorf("%w: spacing_bps must be positive", apperrors.ErrInvalidParam)
	}
	if qty <= 0 {
		return nil, fmt.Errorf("%w: qty must be positive", apperrors.ErrInvalidParam)
	}
	if skew < 0 {
		return nil, fmt.Errorf("%w: skew must not be negative", apperrors.ErrInvalidParam)
	}
	if priceDecimals < 0 || priceDecimals > 8 {
		return nil, fmt.Errorf("%w: price_decimals must be between 0 and 8", apperrors.ErrInvalidParam)
	}
	return &Grid{
		trader:        trader,
		symbol:        symbol,
		levels:        levels,
		spacing:       decimal.NewFromFloat(spacingBps).Div(decimal.NewFromInt(10_000)),
		qty:           qty,
		skew:          decimal.NewFromFloat(skew),
		priceDecimals: priceDecimals,
	}, nil
}

func (g *Grid) OnBar(ctx context.Context, bar *sim.Bar) error {
	price := decimal.NewFromFloat(bar.Close)

	if g.interval.IsZero() {
		g.anchor = decimal.NewFromFloat(bar.Open)
		g.interval = tradingutils.RoundPrice(g.anchor.Mul(g.spacing), g.priceDecimals)
		if g.interval.IsZero() {
			return fmt.Errorf("%w: spacing rounds to zero at price %s with %d decimals",
				apperrors.ErrInvalidParam, g.anchor, g.priceDecimals)
		}
	}

	center := tradingutils.FindNearestGridPrice(g.skewedPrice(price), g.anchor, g.interval)

	// Requote from scratch. Fills since the last bar shifted the ladder
	// anyway, and the engine cancels for free.
	g.trader.CancelAll(g.symbol)

	buffer := g.interval.Mul(decimal.RequireFromString(gridSafetyFrac))
	for _, lvl := range tradingutils.CalculatePriceLevels(center, g.interval.Neg(), g.levels) {
		if lvl.Sign() <= 0 || lvl.GreaterThan(price.Sub(buffer)) {
			continue
		}
		if err := g.quote(sim.SideBuy, lvl); err != nil {
			return err
		}
	}
	for _, lvl := range tradingutils.CalculatePriceLevels(center, g.interval, g.levels) {
		if lvl.LessThan(price.Add(buffer)) {
			continue
		}
		if err := g.quote(sim.SideSell, lvl); err != nil {
			return err
		}
	}
	return nil
}

// skewedPrice recenters the ladder against inventory so a long book
// quotes lower and a short book quotes higher.
func (g *Grid) skewedPrice(price decimal.Decimal) decimal.Decimal {
	if g.skew.IsZero() {
		return price
	}
	inventory := decimal.NewFromFloat(g.trader.Position(g.symbol).Qty)
	return tradingutils.CalculateSkewedPrice(price, inventory, decimal.Zero, g.skew)
}

func (g *Grid) quote(side sim.Side, level decimal.Decimal) error {
	px := tradingutils.RoundPrice(level, g.priceDecimals)
	_, err := g.trader.PlaceOrder(sim.OrderRequest{
		Symbol:   g.symbol,
		Side:     side,
		Type:     sim.OrderTypeLimit,
		Quantity: g.qty,
		Price:    px.InexactFloat64(),
	})
	return err
}
