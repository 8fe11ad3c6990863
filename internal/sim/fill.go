package sim

// Fill is one execution produced by a fill model. Fee is zero when the
// fill leaves the model; the exchange assesses it before recording.
type Fill struct {
	Price   float64 `json:"price"`
	Qty     float64 `json:"quantity"`
	IsMaker bool    `json:"is_maker"`
	Fee     float64 `json:"fee"`
	TsMS    int64   `json:"ts_ms"`
}

// FillRecord is the per-fill row emitted to the sink and kept in the
// exchange trade log.
type FillRecord struct {
	TsMS        int64   `json:"timestamp"`
	Symbol      string  `json:"symbol"`
	Side        Side    `json:"side"`
	Price       float64 `json:"price"`
	Qty         float64 `json:"quantity"`
	RealizedPnL float64 `json:"realized_pnl"`
	Fee         float64 `json:"fee"`
	IsMaker     bool    `json:"is_maker"`
}

// FillModel decides how an open order executes against one bar. At most one
// fill is produced per order per bar. Models may mutate the order in place
// (stop-limit conversion); they never touch positions or the account.
type FillModel interface {
	FillsOnBar(bar *Bar, order *Order) []Fill
}

// TakerPricer is an optional capability of a fill model: the price a
// taker pays when crossing immediately at the given reference price.
// The exchange consults it for market orders executed at submission.
type TakerPricer interface {
	TakerPrice(price float64, side Side) float64
}

// clampToBar bounds a price to the bar's traded range.
func clampToBar(price float64, bar *Bar) float64 {
	if price < bar.Low {
		return bar.Low
	}
	if price > bar.High {
		return bar.High
	}
	return price
}
