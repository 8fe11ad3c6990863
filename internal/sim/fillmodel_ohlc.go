package sim

// OHLCPathFill matches orders against a simulated intrabar traversal:
// open to first extreme, to second extreme, to close. UpFirst selects
// which extreme comes first. Slippage is charged against the trader on
// taker fills only and the result is clamped to the bar range.
type OHLCPathFill struct {
	UpFirst     bool
	SlippageBps float64

	slipFrac float64
}

func NewOHLCPathFill(upFirst bool, slippageBps float64) *OHLCPathFill {
	return &OHLCPathFill{
		UpFirst:     upFirst,
		SlippageBps: slippageBps,
		slipFrac:    slippageBps / 10000.0,
	}
}

// TakerPrice applies slippage against the trader: buys pay up, sells
// receive less.
func (m *OHLCPathFill) TakerPrice(price float64, side Side) float64 {
	if m.slipFrac == 0 {
		return price
	}
	if side == SideBuy {
		return price * (1 + m.slipFrac)
	}
	return price * (1 - m.slipFrac)
}

// FillsOnBar walks one bar for one order and emits at most one fill.
// Stop-limit orders may be mutated in place into limits when their stop
// trigger is crossed.
func (m *OHLCPathFill) FillsOnBar(bar *Bar, order *Order) []Fill {
	if order.IsTerminal() {
		return nil
	}
	qty := order.RemainingQty()
	if qty <= eps {
		return nil
	}
	side := order.Side

	taker := func(price float64, ts int64) []Fill {
		return []Fill{{
			Price: clampToBar(m.TakerPrice(price, side), bar),
			Qty:   qty, IsMaker: false, TsMS: ts,
		}}
	}
	maker := func(price float64, ts int64) []Fill {
		return []Fill{{Price: price, Qty: qty, IsMaker: true, TsMS: ts}}
	}

	// Open print: gaps through resting limits, market orders, and stops
	// already past their trigger.
	switch order.Type {
	case OrderTypeLimit:
		if side == SideBuy && bar.Open <= order.Price {
			return taker(bar.Open, bar.OpenTime)
		}
		if side == SideSell && bar.Open >= order.Price {
			return taker(bar.Open, bar.OpenTime)
		}
	case OrderTypeMarket:
		return taker(bar.Open, bar.OpenTime)
	case OrderTypeStopMarket:
		if side == SideBuy && bar.Open >= order.StopPrice {
			return taker(bar.Open, bar.OpenTime)
		}
		if side == SideSell && bar.Open <= order.StopPrice {
			return taker(bar.Open, bar.OpenTime)
		}
	case OrderTypeStopLimit:
		if side == SideBuy && bar.Open >= order.StopPrice {
			if bar.Open <= order.Price {
				return taker(bar.Open, bar.OpenTime)
			}
			order.convertToLimit()
		} else if side == SideSell && bar.Open <= order.StopPrice {
			if bar.Open >= order.Price {
				return taker(bar.Open, bar.OpenTime)
			}
			order.convertToLimit()
		}
	}

	t1 := bar.OpenTime + (bar.CloseTime-bar.OpenTime)/3
	t2 := bar.OpenTime + 2*(bar.CloseTime-bar.OpenTime)/3

	// A stop-limit triggered while walking the path becomes a limit, but
	// the extreme that would cross it may lie before the trigger point on
	// the same path. Within this bar only the close leg may fill it;
	// conversions at the open are exempt since the limit was live for the
	// whole traversal.
	converted := false

	if m.UpFirst {
		// open -> high
		if order.Type == OrderTypeLimit && side == SideSell && bar.High >= order.Price {
			return maker(order.Price, t1)
		}
		if order.Type == OrderTypeStopMarket && side == SideBuy && bar.High >= order.StopPrice {
			return taker(order.StopPrice, t1)
		}
		if order.Type == OrderTypeStopLimit && side == SideBuy && bar.High >= order.StopPrice {
			order.convertToLimit()
			converted = true
		}
		// high -> low
		if order.Type == OrderTypeLimit && side == SideBuy && !converted && bar.Low <= order.Price {
			return maker(order.Price, t2)
		}
		if order.Type == OrderTypeStopMarket && side == SideSell && bar.Low <= order.StopPrice {
			return taker(order.StopPrice, t2)
		}
		if order.Type == OrderTypeStopLimit && side == SideSell && bar.Low <= order.StopPrice {
			order.convertToLimit()
			converted = true
		}
	} else {
		// open -> low
		if order.Type == OrderTypeLimit && side == SideBuy && bar.Low <= order.Price {
			return maker(order.Price, t1)
		}
		if order.Type == OrderTypeStopMarket && side == SideSell && bar.Low <= order.StopPrice {
			return taker(order.StopPrice, t1)
		}
		if order.Type == OrderTypeStopLimit && side == SideSell && bar.Low <= order.StopPrice {
			order.convertToLimit()
			converted = true
		}
		// low -> high
		if order.Type == OrderTypeLimit && side == SideSell && !converted && bar.High >= order.Price {
			return maker(order.Price, t2)
		}
		if order.Type == OrderTypeStopMarket && side == SideBuy && bar.High >= order.StopPrice {
			return taker(order.StopPrice, t2)
		}
		if order.Type == OrderTypeStopLimit && side == SideBuy && bar.High >= order.StopPrice {
			order.convertToLimit()
			converted = true
		}
	}

	// Close leg: no new extremes, so a limit fills only if it sits
	// between the relevant extreme and the close.
	if order.Type == OrderTypeLimit {
		if side == SideBuy && bar.Low <= order.Price && order.Price <= bar.Close {
			return maker(order.Price, bar.CloseTime)
		}
		if side == SideSell && bar.High >= order.Price && order.Price >= bar.Close {
			return maker(order.Price, bar.CloseTime)
		}
	}
	return nil
}
