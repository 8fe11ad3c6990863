// Package sim implements the deterministic perpetual-futures exchange
// simulator: bar-driven matching, intrabar fill models, position and PnL
// accounting, funding application, and the order lifecycle.
//
// Nothing in this package locks: an Exchange must be driven from a
// single goroutine, and Exchange.ProcessBar is the only mutator of
// positions, account, and the open-order book. Concurrent frontends
// (the gateway) serialize around it.
package sim

import (
	"fmt"

	apperrors "perpsim/pkg/errors"
)

// Bar is one OHLCV aggregate. Times are milliseconds since epoch.
type Bar struct {
	OpenTime  int64   `json:"open_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"close_time"`
	Symbol    string  `json:"symbol,omitempty"`
}

// Validate checks the bar's internal shape. Monotonicity against the
// stream is checked by the consumer, which owns the clock.
func (b *Bar) Validate() error {
	if b.CloseTime <= b.OpenTime {
		return fmt.Errorf("%w: bar close_time %d not after open_time %d", apperrors.ErrDataUnavailable, b.CloseTime, b.OpenTime)
	}
	lo, hi := b.Open, b.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	if b.Low > lo || b.High < hi || b.Low > b.High {
		return fmt.Errorf("%w: bar range [%v,%v] does not contain open %v / close %v", apperrors.ErrDataUnavailable, b.Low, b.High, b.Open, b.Close)
	}
	return nil
}

// FundingEvent is one periodic funding settlement point.
type FundingEvent struct {
	TimeMS int64   `json:"funding_time"`
	Rate   float64 `json:"funding_rate"`
}
