package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"perpsim/internal/core"
	"perpsim/internal/sim"
	httpclient "perpsim/pkg/http"
)

const (
	defaultFuturesURL = "https://fapi.binance.com"

	// Page caps per the futures API docs.
	klinesPageLimit  = 1500
	fundingPageLimit = 1000
)

// BinanceSource pulls historical klines and funding rates from the
// Binance USD-M futures REST API. Requests page through
// /fapi/v1/klines and /fapi/v1/fundingRate, advancing the cursor past
// the last row received; a limiter spaces pages out so long backfills
// stay under the API weight budget.
type BinanceSource struct {
	client  *httpclient.Client
	log     core.ILogger
	limiter *rate.Limiter
}

// NewBinanceSource creates a REST source. An empty baseURL selects the
// production futures endpoint.
func NewBinanceSource(baseURL string, logger core.ILogger) *BinanceSource {
	if baseURL == "" {
		baseURL = defaultFuturesURL
	}
	return &BinanceSource{
		client:  httpclient.NewClient(baseURL, 15*time.Second),
		log:     core.OrDefault(logger).WithField("source", "binance"),
		limiter: rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
	}
}

// GetKlines fetches [startMS, endMS] inclusive, at most limit bars.
func (s *BinanceSource) GetKlines(ctx context.Context, symbol, interval string, startMS, endMS int64, limit int) ([]sim.Bar, error) {
	step, err := IntervalMS(interval)
	if err != nil {
		return nil, err
	}

	pageLimit := klinesPageLimit
	if limit > 0 && limit < pageLimit {
		pageLimit = limit
	}

	var bars []sim.Bar
	curStart := startMS
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		params := map[string]string{
			"symbol":   symbol,
			"interval": interval,
			"limit":    strconv.Itoa(pageLimit),
		}
		if curStart > 0 {
			params["startTime"] = strconv.FormatInt(curStart, 10)
		}
		if endMS > 0 {
			params["endTime"] = strconv.FormatInt(endMS, 10)
		}

		body, err := s.client.Get(ctx, "/fapi/v1/klines", params)
		if err != nil {
			return nil, fmt.Errorf("fetch klines %s %s: %w", symbol, interval, err)
		}

		var rows [][]any
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("decode klines response: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			bar, err := parseKlineRow(row, symbol)
			if err != nil {
				return nil, err
			}
			bars = append(bars, bar)
		}

		// A short page means the range is exhausted.
		if len(rows) < pageLimit {
			break
		}
		if limit > 0 && len(bars) >= limit {
			break
		}

		nextStart := bars[len(bars)-1].OpenTime + step
		if endMS > 0 && nextStart > endMS {
			break
		}
		if curStart > 0 && nextStart <= curStart {
			break
		}
		curStart = nextStart
	}

	if limit > 0 && len(bars) > limit {
		bars = bars[:limit]
	}
	s.log.Debug("fetched klines", "symbol", symbol, "interval", interval, "rows", len(bars))
	return bars, nil
}

// GetFundingRates fetches [startMS, endMS] inclusive. The API treats
// endTime as a page hint rather than a hard bound, so rows past endMS
// are filtered off after the last page.
func (s *BinanceSource) GetFundingRates(ctx context.Context, symbol string, startMS, endMS int64) ([]sim.FundingEvent, error) {
	var events []sim.FundingEvent
	curStart := startMS
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		params := map[string]string{
			"symbol": symbol,
			"limit":  strconv.Itoa(fundingPageLimit),
		}
		if curStart > 0 {
			params["startTime"] = strconv.FormatInt(curStart, 10)
		}
		if endMS > 0 {
			params["endTime"] = strconv.FormatInt(endMS, 10)
		}

		body, err := s.client.Get(ctx, "/fapi/v1/fundingRate", params)
		if err != nil {
			return nil, fmt.Errorf("fetch funding rates %s: %w", symbol, err)
		}

		var rows []struct {
			FundingTime int64  `json:"fundingTime"`
			FundingRate string `json:"fundingRate"`
		}
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("decode funding response: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			r, err := strconv.ParseFloat(row.FundingRate, 64)
			if err != nil {
				return nil, fmt.Errorf("bad funding rate %q at %d: %w", row.FundingRate, row.FundingTime, err)
			}
			events = append(events, sim.FundingEvent{TimeMS: row.FundingTime, Rate: r})
		}

		if len(rows) < fundingPageLimit {
			break
		}

		nextStart := events[len(events)-1].TimeMS + 1
		if endMS > 0 && nextStart > endMS {
			break
		}
		if curStart > 0 && nextStart <= curStart {
			break
		}
		curStart = nextStart
	}

	if endMS > 0 {
		kept := events[:0]
		for _, ev := range events {
			if ev.TimeMS <= endMS {
				kept = append(kept, ev)
			}
		}
		events = kept
	}
	s.log.Debug("fetched funding rates", "symbol", symbol, "rows", len(events))
	return events, nil
}

// parseKlineRow decodes one API kline array:
// [openTime, open, high, low, close, volume, closeTime, ...]. Numbers
// arrive as JSON numbers for times and strings for prices; both are
// tolerated in every slot.
func parseKlineRow(row []any, symbol string) (sim.Bar, error) {
	if len(row) < 7 {
		return sim.Bar{}, fmt.Errorf("kline row has %d fields, want at least 7", len(row))
	}
	vals := make([]float64, 7)
	for i := 0; i < 7; i++ {
		f, err := fieldFloat(row[i])
		if err != nil {
			return sim.Bar{}, fmt.Errorf("kline field %d: %w", i, err)
		}
		vals[i] = f
	}
	return sim.Bar{
		Symbol:    symbol,
		OpenTime:  int64(vals[0]),
		Open:      vals[1],
		High:      vals[2],
		Low:       vals[3],
		Close:     vals[4],
		Volume:    vals[5],
		CloseTime: int64(vals[6]),
	}, nil
}

func fieldFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(x, 64)
	case json.Number:
		return x.Float64()
	default:
		return 0, fmt.Errorf("unexpected field type %T", v)
	}
}
