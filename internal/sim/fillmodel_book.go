package sim

// BookTickerFill synthesizes a level-1 quote around the bar open:
// immediate executions cross the spread and pay the far-side price.
// Orders that do not execute at the open fall through to an up-first
// path traversal with the half-spread applied to any taker fill.
type BookTickerFill struct {
	SpreadBps float64

	halfSpreadFrac float64
	path           *OHLCPathFill
}

func NewBookTickerFill(spreadBps float64) *BookTickerFill {
	return &BookTickerFill{
		SpreadBps:      spreadBps,
		halfSpreadFrac: (spreadBps / 10000.0) / 2.0,
		path:           NewOHLCPathFill(true, 0),
	}
}

// TakerPrice is the far-side quote for an immediate execution.
func (m *BookTickerFill) TakerPrice(price float64, side Side) float64 {
	if side == SideBuy {
		return price * (1 + m.halfSpreadFrac)
	}
	return price * (1 - m.halfSpreadFrac)
}

func (m *BookTickerFill) FillsOnBar(bar *Bar, order *Order) []Fill {
	if order.IsTerminal() {
		return nil
	}
	qty := order.RemainingQty()
	if qty <= eps {
		return nil
	}
	side := order.Side
	px := bar.Open

	takerAtOpen := func() []Fill {
		return []Fill{{
			Price: clampToBar(m.TakerPrice(px, side), bar),
			Qty:   qty, IsMaker: false, TsMS: bar.OpenTime,
		}}
	}

	switch order.Type {
	case OrderTypeLimit:
		if side == SideBuy && px <= order.Price {
			return takerAtOpen()
		}
		if side == SideSell && px >= order.Price {
			return takerAtOpen()
		}
	case OrderTypeMarket:
		return takerAtOpen()
	case OrderTypeStopMarket:
		if side == SideBuy && px >= order.StopPrice {
			return takerAtOpen()
		}
		if side == SideSell && px <= order.StopPrice {
			return takerAtOpen()
		}
	case OrderTypeStopLimit:
		if side == SideBuy && px >= order.StopPrice {
			if px <= order.Price {
				return takerAtOpen()
			}
			order.convertToLimit()
		} else if side == SideSell && px <= order.StopPrice {
			if px >= order.Price {
				return takerAtOpen()
			}
			order.convertToLimit()
		}
	}

	fills := m.path.FillsOnBar(bar, order)
	for i := range fills {
		if !fills[i].IsMaker {
			fills[i].Price = clampToBar(m.TakerPrice(fills[i].Price, side), bar)
		}
	}
	return fills
}
