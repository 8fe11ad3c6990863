package gateway

import (
	"perpsim/internal/sim"
)

// KlineEvent is the Binance futures closed-candle WebSocket payload.
// Only closed candles are emitted (one per replayed bar), so x is
// always true and the trade-count fields are zeroed.
type KlineEvent struct {
	EventType string       `json:"e"`
	EventTime int64        `json:"E"`
	Symbol    string       `json:"s"`
	Kline     KlinePayload `json:"k"`
}

type KlinePayload struct {
	OpenTime      int64  `json:"t"`
	CloseTime     int64  `json:"T"`
	Symbol        string `json:"s"`
	Interval      string `json:"i"`
	Open          string `json:"o"`
	Close         string `json:"c"`
	High          string `json:"h"`
	Low           string `json:"l"`
	Volume        string `json:"v"`
	Trades        int64  `json:"n"`
	Closed        bool   `json:"x"`
	QuoteVolume   string `json:"q"`
	TakerBuyBase  string `json:"V"`
	TakerBuyQuote string `json:"Q"`
	Ignore        string `json:"B"`
}

// NewKlineEvent builds the closed-candle event for one replayed bar.
func NewKlineEvent(bar sim.Bar, symbol, interval string, eventTime int64) KlineEvent {
	return KlineEvent{
		EventType: "kline",
		EventTime: eventTime,
		Symbol:    symbol,
		Kline: KlinePayload{
			OpenTime:      bar.OpenTime,
			CloseTime:     bar.CloseTime,
			Symbol:        symbol,
			Interval:      interval,
			Open:          f8(bar.Open),
			Close:         f8(bar.Close),
			High:          f8(bar.High),
			Low:           f8(bar.Low),
			Volume:        f8(bar.Volume),
			Trades:        0,
			Closed:        true,
			QuoteVolume:   "0",
			TakerBuyBase:  "0",
			TakerBuyQuote: "0",
			Ignore:        "0",
		},
	}
}

// MarkPriceEvent is the markPriceUpdate payload; the mark is the bar
// close, there is no separate index price in the simulation.
type MarkPriceEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}

// NewMarkPriceEvent builds a markPriceUpdate event.
func NewMarkPriceEvent(symbol string, price float64, eventTime int64) MarkPriceEvent {
	return MarkPriceEvent{
		EventType: "markPriceUpdate",
		EventTime: eventTime,
		Symbol:    symbol,
		MarkPrice: f8(price),
	}
}
