package gateway

import (
	"net/http"
	"strings"
)

func (s *SimState) handleTime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{"serverTime": nowMS()})
}

type symbolInfo struct {
	Symbol            string              `json:"symbol"`
	Status            string              `json:"status"`
	ContractType      string              `json:"contractType"`
	BaseAsset         string              `json:"baseAsset"`
	QuoteAsset        string              `json:"quoteAsset"`
	PricePrecision    int                 `json:"pricePrecision"`
	QuantityPrecision int                 `json:"quantityPrecision"`
	Filters           []map[string]string `json:"filters"`
}

type exchangeInfoView struct {
	Timezone   string       `json:"timezone"`
	ServerTime int64        `json:"serverTime"`
	Symbols    []symbolInfo `json:"symbols"`
}

func (s *SimState) handleExchangeInfo(w http.ResponseWriter, r *http.Request) {
	symbols := s.Symbols(r.Context())
	out := exchangeInfoView{
		Timezone:   "UTC",
		ServerTime: nowMS(),
		Symbols:    make([]symbolInfo, 0, len(symbols)),
	}
	for _, sym := range symbols {
		base := sym
		if strings.HasSuffix(sym, "USDT") && len(sym) > 4 {
			base = strings.TrimSuffix(sym, "USDT")
		}
		out.Symbols = append(out.Symbols, symbolInfo{
			Symbol:            sym,
			Status:            "TRADING",
			ContractType:      "PERPETUAL",
			BaseAsset:         base,
			QuoteAsset:        "USDT",
			PricePrecision:    8,
			QuantityPrecision: 8,
			Filters: []map[string]string{
				{"filterType": "PRICE_FILTER", "tickSize": "0.1"},
				{"filterType": "LOT_SIZE", "stepSize": "0.001", "minQty": "0.0001", "maxQty": "100000"},
			},
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleKlines serves the loaded replay buffer as Binance kline rows:
// [openTime, open, high, low, close, volume, closeTime]. Requests for
// a symbol or interval other than the replay's return an empty array.
func (s *SimState) handleKlines(w http.ResponseWriter, r *http.Request) {
	p := ReadParams(r)

	symbol := strings.ToUpper(p.Get("symbol"))
	if symbol == "" {
		missingParam(w, "symbol")
		return
	}
	interval := p.Get("interval")
	if interval == "" {
		missingParam(w, "interval")
		return
	}
	startTime, hasStart, err := p.Int("startTime")
	if err != nil {
		writeError(w, codeInvalidValue, "Invalid startTime")
		return
	}
	endTime, hasEnd, err := p.Int("endTime")
	if err != nil {
		writeError(w, codeInvalidValue, "Invalid endTime")
		return
	}
	limit, hasLimit, err := p.Int("limit")
	if err != nil {
		writeError(w, codeInvalidValue, "Invalid limit")
		return
	}

	rows := make([][]interface{}, 0)
	if symbol == s.Symbol() && interval == s.Interval() {
		for _, bar := range s.Bars() {
			if hasStart && bar.OpenTime < startTime {
				continue
			}
			if hasEnd && bar.OpenTime > endTime {
				continue
			}
			rows = append(rows, []interface{}{
				bar.OpenTime, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.CloseTime,
			})
			if hasLimit && int64(len(rows)) >= limit {
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, rows)
}

type fundingRateView struct {
	Symbol      string  `json:"symbol"`
	FundingTime int64   `json:"fundingTime"`
	FundingRate float64 `json:"fundingRate"`
}

func (s *SimState) handleFundingRate(w http.ResponseWriter, r *http.Request) {
	p := ReadParams(r)

	symbol := strings.ToUpper(p.Get("symbol"))
	if symbol == "" {
		missingParam(w, "symbol")
		return
	}
	startTime, hasStart, err := p.Int("startTime")
	if err != nil {
		writeError(w, codeInvalidValue, "Invalid startTime")
		return
	}
	endTime, hasEnd, err := p.Int("endTime")
	if err != nil {
		writeError(w, codeInvalidValue, "Invalid endTime")
		return
	}
	limit, hasLimit, err := p.Int("limit")
	if err != nil {
		writeError(w, codeInvalidValue, "Invalid limit")
		return
	}

	out := make([]fundingRateView, 0)
	for _, ev := range s.Funding() {
		if hasStart && ev.TimeMS < startTime {
			continue
		}
		if hasEnd && ev.TimeMS > endTime {
			continue
		}
		out = append(out, fundingRateView{Symbol: symbol, FundingTime: ev.TimeMS, FundingRate: ev.Rate})
		if hasLimit && int64(len(out)) >= limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *SimState) handlePremiumIndex(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	if symbol == "" {
		missingParam(w, "symbol")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"symbol":          symbol,
		"markPrice":       f8(s.CurPrice(symbol)),
		"lastFundingRate": f8(s.LastFundingRate()),
	})
}

// handleBookTicker synthesizes a two-sided quote around the last price.
// The simulator keeps no book, so the spread is a fixed 2 bps per side.
func (s *SimState) handleBookTicker(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	if symbol == "" {
		missingParam(w, "symbol")
		return
	}
	px := s.CurPrice(symbol)
	writeJSON(w, http.StatusOK, map[string]string{
		"symbol":   symbol,
		"bidPrice": f8(px * (1 - 0.0002)),
		"bidQty":   "1.00000000",
		"askPrice": f8(px * (1 + 0.0002)),
		"askQty":   "1.00000000",
	})
}
