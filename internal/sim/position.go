package sim

// eps is the quantity tolerance below which a position or remaining
// order size is treated as zero.
const eps = 1e-12

// Position is a signed net position in one symbol. Quantity is positive
// for longs and negative for shorts.
type Position struct {
	Symbol      string  `json:"symbol"`
	Qty         float64 `json:"qty"`
	EntryPrice  float64 `json:"entry_price"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// Update applies a signed fill quantity at the given price and returns
// the realized pnl from this fill. Entry price is the quantity-weighted
// average while increasing; reductions realize against it and a flip
// re-opens the remainder at the fill price.
func (p *Position) Update(fillQty, fillPrice float64) float64 {
	realized := 0.0
	switch {
	case abs(p.Qty) < eps:
		p.Qty = fillQty
		p.EntryPrice = fillPrice
	case sameSign(p.Qty, fillQty):
		newQty := p.Qty + fillQty
		p.EntryPrice = (p.EntryPrice*p.Qty + fillPrice*fillQty) / newQty
		p.Qty = newQty
	case abs(fillQty) < abs(p.Qty)-eps:
		// Partial close: realize on the closed quantity, entry unchanged.
		closed := abs(fillQty)
		realized = (fillPrice - p.EntryPrice) * closed * sign(p.Qty)
		p.Qty += fillQty
	default:
		// Full close or flip: realize on the whole position, then
		// re-open any remainder at the fill price.
		closed := abs(p.Qty)
		realized = (fillPrice - p.EntryPrice) * closed * sign(p.Qty)
		remainder := p.Qty + fillQty
		if abs(remainder) > eps {
			p.Qty = remainder
			p.EntryPrice = fillPrice
		} else {
			p.Qty = 0
			p.EntryPrice = 0
		}
	}
	if abs(p.Qty) < eps {
		p.Qty = 0
		p.EntryPrice = 0
	}
	p.RealizedPnL += realized
	return realized
}

// UnrealizedPnL marks the open quantity against the given price.
func (p *Position) UnrealizedPnL(markPrice float64) float64 {
	if p.Qty == 0 {
		return 0
	}
	return (markPrice - p.EntryPrice) * p.Qty
}

// IsFlat reports whether the position holds no quantity.
func (p *Position) IsFlat() bool {
	return abs(p.Qty) < eps
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
