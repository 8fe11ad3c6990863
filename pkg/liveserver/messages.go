package liveserver

import "strings"

// Message is one frame of the combined-stream feed: the same
// `{"stream": ..., "data": ...}` envelope Binance multiplexed sockets
// use, so subscribers can reuse their production parsers.
type Message struct {
	Stream string      `json:"stream"`
	Data   interface{} `json:"data"`
}

// NewMessage builds an envelope for the given stream name.
func NewMessage(stream string, data interface{}) Message {
	return Message{Stream: stream, Data: data}
}

// KlineStream names the closed-candle stream for a symbol/interval pair.
// Symbols are lowercased on the wire (btcusdt@kline_1m); the interval is
// passed through because 1m (minute) and 1M (month) differ only by case.
func KlineStream(symbol, interval string) string {
	return strings.ToLower(symbol) + "@kline_" + interval
}

// MarkPriceStream names the mark-price stream for a symbol.
func MarkPriceStream(symbol string) string {
	return strings.ToLower(symbol) + "@markPrice@1s"
}
