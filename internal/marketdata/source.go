// Package marketdata loads historical klines and funding rates for the
// simulator. Sources share one interface so the replayer, the backtest
// runner, and the backfill tool can be pointed at the REST API, a CSV
// directory, the SQLite store, or a synthetic generator interchangeably.
package marketdata

import (
	"context"

	"perpsim/internal/sim"
)

// DataSource is the read interface every provider implements.
//
// Klines come back sorted ascending by open time and funding events
// ascending by funding time, both inclusive on [startMS, endMS]. A zero
// or negative startMS/endMS leaves that side unbounded; limit <= 0
// means no cap. Symbol is stamped on every returned bar.
type DataSource interface {
	GetKlines(ctx context.Context, symbol, interval string, startMS, endMS int64, limit int) ([]sim.Bar, error)
	GetFundingRates(ctx context.Context, symbol string, startMS, endMS int64) ([]sim.FundingEvent, error)
}
