package strategy

import (
	"context"
	"fmt"
	"math"

	"perpsim/internal/sim"
	apperrors "perpsim/pkg/errors"
)

const (
	defaultFastWindow = 5
	defaultSlowWindow = 20
	defaultOrderQty   = 0.001
)

func init() {
	Register("sma", NewSMACross)
}

// SMACross trades fast/slow moving-average crossovers with market
// orders. A cross against an open position first flattens it with a
// reduce-only order, then opens on the new side.
//
// Params: fast (window, default 5), slow (window, default 20),
// qty (order size in base units, default 0.001).
type SMACross struct {
	Base
	trader Trader
	symbol string

	fast int
	slow int
	qty  float64

	closes   []float64
	lastFast float64
	lastSlow float64
	primed   bool
}

func NewSMACross(trader Trader, symbol, _ string, params Params) (Strategy, error) {
	fast, err := params.Int("fast", defaultFastWindow)
	if err != nil {
		return nil, err
	}
	slow, err := params.Int("slow", defaultSlowWindow)
	if err != nil {
		return nil, err
	}
	qty, err := params.Float("qty", defaultOrderQty)
	if err != nil {
		return nil, err
	}
	if fast <= 0 || slow <= 0 || fast >= slow {
		return nil, fmt.Errorf("%w: fast window %d must be shorter than slow window %d",
			apperrors.ErrInvalidParam, fast, slow)
	}
	if qty <= 0 {
		return nil, fmt.Errorf("%w: qty must be positive", apperrors.ErrInvalidParam)
	}
	return &SMACross{trader: trader, symbol: symbol, fast: fast, slow: slow, qty: qty}, nil
}

func (s *SMACross) OnBar(ctx context.Context, bar *sim.Bar) error {
	s.closes = append(s.closes, bar.Close)
	if len(s.closes) > s.slow {
		s.closes = s.closes[1:]
	}
	if len(s.closes) < s.slow {
		// Warming up. The first close seeds the previous averages so
		// the first real computation has something to cross against.
		if !s.primed {
			s.lastFast, s.lastSlow = bar.Close, bar.Close
			s.primed = true
		}
		return nil
	}

	fast := mean(s.closes[len(s.closes)-s.fast:])
	slow := mean(s.closes)
	crossUp := s.lastFast <= s.lastSlow && fast > slow
	crossDn := s.lastFast >= s.lastSlow && fast < slow
	s.lastFast, s.lastSlow = fast, slow

	pos := s.trader.Position(s.symbol).Qty
	switch {
	case crossUp && pos <= 0:
		return s.flip(sim.SideBuy, pos)
	case crossDn && pos >= 0:
		return s.flip(sim.SideSell, pos)
	}
	return nil
}

// flip flattens whatever position is open against the signal, then
// opens a fresh one of the configured size.
func (s *SMACross) flip(side sim.Side, posQty float64) error {
	if posQty != 0 {
		if _, err := s.trader.PlaceOrder(sim.OrderRequest{
			Symbol:     s.symbol,
			Side:       side,
			Type:       sim.OrderTypeMarket,
			Quantity:   math.Abs(posQty),
			ReduceOnly: true,
		}); err != nil {
			return err
		}
	}
	_, err := s.trader.PlaceOrder(sim.OrderRequest{
		Symbol:   s.symbol,
		Side:     side,
		Type:     sim.OrderTypeMarket,
		Quantity: s.qty,
	})
	return err
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
