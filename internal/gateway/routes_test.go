package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpsim/internal/sim"
	"perpsim/pkg/liveserver"
)

// stubSource serves a fixed bar series and funding schedule.
type stubSource struct {
	bars    []sim.Bar
	funding []sim.FundingEvent
}

func (s *stubSource) GetKlines(_ context.Context, symbol, _ string, _, _ int64, _ int) ([]sim.Bar, error) {
	out := make([]sim.Bar, len(s.bars))
	copy(out, s.bars)
	for i := range out {
		out[i].Symbol = symbol
	}
	return out, nil
}

func (s *stubSource) GetFundingRates(context.Context, string, int64, int64) ([]sim.FundingEvent, error) {
	out := make([]sim.FundingEvent, len(s.funding))
	copy(out, s.funding)
	return out, nil
}

// flatBars builds n identical bars at price 100 with a 99..101 range,
// one minute apart starting at t=1min.
func flatBars(n int) []sim.Bar {
	bars := make([]sim.Bar, n)
	for i := range bars {
		ts := int64(i+1) * 60_000
		bars[i] = sim.Bar{OpenTime: ts, Open: 100, High: 101, Low: 99, Close: 100, Volume: 10, CloseTime: ts + 59_999}
	}
	return bars
}

func testConfig() Config {
	return Config{
		Symbol:          "BTCUSDT",
		Interval:        "1m",
		StartTS:         60_000,
		EndTS:           600_000,
		StartingBalance: 10_000,
		FillModel:       "ohlc_up",
	}
}

func newTestState(t *testing.T, src *stubSource) *SimState {
	t.Helper()
	s, err := NewSimState(context.Background(), testConfig(), src, nil, liveserver.NewHub(nil), nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// drainReplay runs the whole window through the engine synchronously.
func drainReplay(t *testing.T, s *SimState) {
	t.Helper()
	require.NoError(t, s.Start(context.Background()))
	deadline := time.Now().Add(5 * time.Second)
	for s.Running() {
		if time.Now().After(deadline) {
			t.Fatal("replay did not drain")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func doForm(t *testing.T, h http.Handler, method, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func TestPostOrderMissingParams(t *testing.T) {
	h := Router(newTestState(t, &stubSource{bars: flatBars(3)}), "")

	cases := []struct {
		name  string
		form  url.Values
		field string
	}{
		{"no symbol", url.Values{}, "symbol"},
		{"no side", url.Values{"symbol": {"BTCUSDT"}}, "side"},
		{"no type", url.Values{"symbol": {"BTCUSDT"}, "side": {"BUY"}}, "type"},
		{"no quantity", url.Values{"symbol": {"BTCUSDT"}, "side": {"BUY"}, "type": {"MARKET"}}, "quantity"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doForm(t, h, "POST", "/fapi/v1/order", tc.form)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var e wireError
			decodeJSON(t, rec, &e)
			assert.Equal(t, codeMissingParam, e.Code)
			assert.Equal(t, "Mandatory parameter '"+tc.field+"' was not sent, was empty/null, or malformed.", e.Msg)
		})
	}
}

func TestPostOrderInvalidNumerics(t *testing.T) {
	h := Router(newTestState(t, &stubSource{bars: flatBars(3)}), "")

	cases := []struct {
		name string
		form url.Values
		msg  string
	}{
		{"quantity", url.Values{"symbol": {"BTCUSDT"}, "side": {"BUY"}, "type": {"MARKET"}, "quantity": {"abc"}}, "Invalid quantity"},
		{"price", url.Values{"symbol": {"BTCUSDT"}, "side": {"BUY"}, "type": {"LIMIT"}, "quantity": {"1"}, "price": {"x"}}, "Invalid price"},
		{"stopPrice", url.Values{"symbol": {"BTCUSDT"}, "side": {"BUY"}, "type": {"STOP_MARKET"}, "quantity": {"1"}, "stopPrice": {"?"}}, "Invalid stopPrice"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doForm(t, h, "POST", "/fapi/v1/order", tc.form)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var e wireError
			decodeJSON(t, rec, &e)
			assert.Equal(t, codeInvalidValue, e.Code)
			assert.Equal(t, tc.msg, e.Msg)
		})
	}
}

func TestPostOrderUnsupportedType(t *testing.T) {
	h := Router(newTestState(t, &stubSource{bars: flatBars(3)}), "")

	rec := doForm(t, h, "POST", "/fapi/v1/order", url.Values{
		"symbol": {"BTCUSDT"}, "side": {"BUY"}, "type": {"TRAILING_STOP_MARKET"}, "quantity": {"1"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var e wireError
	decodeJSON(t, rec, &e)
	assert.Equal(t, codeUnsupportedType, e.Code)
	assert.Equal(t, "Unsupported order type", e.Msg)
}

func TestPostOrderMarketFillsAtLastPrice(t *testing.T) {
	s := newTestState(t, &stubSource{bars: flatBars(3)})
	h := Router(s, "")
	drainReplay(t, s)

	rec := doForm(t, h, "POST", "/fapi/v1/order", url.Values{
		"symbol": {"btcusdt"}, "side": {"BUY"}, "type": {"MARKET"}, "quantity": {"0.5"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var ack orderAck
	decodeJSON(t, rec, &ack)
	assert.Equal(t, "BTCUSDT", ack.Symbol)
	assert.Greater(t, ack.OrderID, int64(0))
	assert.True(t, strings.HasPrefix(ack.ClientOrderID, "sim-"), "synthesized id %q", ack.ClientOrderID)
	assert.Equal(t, "FILLED", ack.Status)
	assert.Equal(t, "0.50000000", ack.OrigQty)
	assert.Equal(t, "0.50000000", ack.ExecutedQty)
	assert.Equal(t, "GTC", ack.TimeInForce)
	require.Len(t, ack.Fills, 1)
	assert.Equal(t, "100.00000000", ack.Fills[0].Price)
	assert.Equal(t, "USDT", ack.Fills[0].CommissionAsset)
}

func TestPostOrderStopAliasBecomesStopMarket(t *testing.T) {
	s := newTestState(t, &stubSource{bars: flatBars(3)})
	h := Router(s, "")

	rec := doForm(t, h, "POST", "/fapi/v1/order", url.Values{
		"symbol": {"BTCUSDT"}, "side": {"SELL"}, "type": {"STOP"}, "quantity": {"1"}, "stopPrice": {"95"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var ack orderAck
	decodeJSON(t, rec, &ack)
	assert.Equal(t, "STOP_MARKET", ack.Type)
	assert.Equal(t, "NEW", ack.Status)
	assert.Equal(t, "95.00000000", ack.StopPrice)
}

func TestOrderLifecycleOverREST(t *testing.T) {
	s := newTestState(t, &stubSource{bars: flatBars(3)})
	h := Router(s, "")
	drainReplay(t, s)

	rec := doForm(t, h, "POST", "/fapi/v1/order", url.Values{
		"symbol": {"BTCUSDT"}, "side": {"BUY"}, "type": {"LIMIT"},
		"quantity": {"1"}, "price": {"90"}, "newClientOrderId": {"bot-1"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ack orderAck
	decodeJSON(t, rec, &ack)
	assert.Equal(t, "NEW", ack.Status)
	assert.Equal(t, "bot-1", ack.ClientOrderID)

	// It shows up as open.
	rec = doForm(t, h, "GET", "/fapi/v1/openOrders?symbol=BTCUSDT", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var open []openOrderView
	decodeJSON(t, rec, &open)
	require.Len(t, open, 1)
	assert.Equal(t, ack.OrderID, open[0].OrderID)
	assert.Equal(t, "90.00000000", open[0].Price)

	// Cancel by client id.
	rec = doForm(t, h, "DELETE", "/fapi/v1/order?symbol=BTCUSDT&origClientOrderId=bot-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var canceled cancelAck
	decodeJSON(t, rec, &canceled)
	assert.Equal(t, "CANCELED", canceled.Status)
	assert.Equal(t, ack.OrderID, canceled.OrderID)

	// Canceling again is an unknown order.
	rec = doForm(t, h, "DELETE", "/fapi/v1/order?symbol=BTCUSDT&origClientOrderId=bot-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var e wireError
	decodeJSON(t, rec, &e)
	assert.Equal(t, codeUnknownOrder, e.Code)
	assert.Equal(t, "Unknown order sent.", e.Msg)

	rec = doForm(t, h, "GET", "/fapi/v1/openOrders?symbol=BTCUSDT", nil)
	decodeJSON(t, rec, &open)
	assert.Empty(t, open)
}

func TestDeleteOrderRequiresAnID(t *testing.T) {
	h := Router(newTestState(t, &stubSource{bars: flatBars(3)}), "")

	rec := doForm(t, h, "DELETE", "/fapi/v1/order?symbol=BTCUSDT", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var e wireError
	decodeJSON(t, rec, &e)
	assert.Equal(t, codeMissingParam, e.Code)
	assert.Contains(t, e.Msg, "'orderId'")
}

func TestDeleteAllOpenOrders(t *testing.T) {
	s := newTestState(t, &stubSource{bars: flatBars(3)})
	h := Router(s, "")
	drainReplay(t, s)

	for _, price := range []string{"90", "91"} {
		rec := doForm(t, h, "POST", "/fapi/v1/order", url.Values{
			"symbol": {"BTCUSDT"}, "side": {"BUY"}, "type": {"LIMIT"}, "quantity": {"1"}, "price": {price},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := doForm(t, h, "DELETE", "/fapi/v1/allOpenOrders?symbol=BTCUSDT", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	decodeJSON(t, rec, &resp)
	assert.EqualValues(t, 200, resp["code"])
	assert.Equal(t, "All open orders canceled.", resp["msg"])

	rec = doForm(t, h, "GET", "/fapi/v1/openOrders?symbol=BTCUSDT", nil)
	var open []openOrderView
	decodeJSON(t, rec, &open)
	assert.Empty(t, open)
}

func TestMarketDataEndpoints(t *testing.T) {
	src := &stubSource{
		bars:    flatBars(5),
		funding: []sim.FundingEvent{{TimeMS: 120_000, Rate: 0.0001}, {TimeMS: 240_000, Rate: 0.0002}},
	}
	s := newTestState(t, src)
	h := Router(s, "")
	drainReplay(t, s)

	t.Run("time", func(t *testing.T) {
		rec := doForm(t, h, "GET", "/fapi/v1/time", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]int64
		decodeJSON(t, rec, &resp)
		assert.Greater(t, resp["serverTime"], int64(0))
	})

	t.Run("exchangeInfo", func(t *testing.T) {
		rec := doForm(t, h, "GET", "/fapi/v1/exchangeInfo", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var info exchangeInfoView
		decodeJSON(t, rec, &info)
		assert.Equal(t, "UTC", info.Timezone)
		require.Len(t, info.Symbols, 1)
		assert.Equal(t, "BTCUSDT", info.Symbols[0].Symbol)
		assert.Equal(t, "BTC", info.Symbols[0].BaseAsset)
		assert.Equal(t, "PERPETUAL", info.Symbols[0].ContractType)
		assert.NotEmpty(t, info.Symbols[0].Filters)
	})

	t.Run("klines", func(t *testing.T) {
		rec := doForm(t, h, "GET", "/fapi/v1/klines?symbol=BTCUSDT&interval=1m", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var rows [][]interface{}
		decodeJSON(t, rec, &rows)
		require.Len(t, rows, 5)
		require.Len(t, rows[0], 7)
		assert.EqualValues(t, 60_000, rows[0][0])
		assert.EqualValues(t, 100, rows[0][1])
		assert.EqualValues(t, 119_999, rows[0][6])
	})

	t.Run("klines window and limit", func(t *testing.T) {
		rec := doForm(t, h, "GET", "/fapi/v1/klines?symbol=BTCUSDT&interval=1m&startTime=120000&limit=2", nil)
		var rows [][]interface{}
		decodeJSON(t, rec, &rows)
		require.Len(t, rows, 2)
		assert.EqualValues(t, 120_000, rows[0][0])
	})

	t.Run("klines other symbol is empty", func(t *testing.T) {
		rec := doForm(t, h, "GET", "/fapi/v1/klines?symbol=ETHUSDT&interval=1m", nil)
		var rows [][]interface{}
		decodeJSON(t, rec, &rows)
		assert.Empty(t, rows)
	})

	t.Run("klines requires interval", func(t *testing.T) {
		rec := doForm(t, h, "GET", "/fapi/v1/klines?symbol=BTCUSDT", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		var e wireError
		decodeJSON(t, rec, &e)
		assert.Equal(t, codeMissingParam, e.Code)
	})

	t.Run("fundingRate", func(t *testing.T) {
		rec := doForm(t, h, "GET", "/fapi/v1/fundingRate?symbol=BTCUSDT", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var rows []fundingRateView
		decodeJSON(t, rec, &rows)
		require.Len(t, rows, 2)
		assert.Equal(t, int64(120_000), rows[0].FundingTime)
		assert.InDelta(t, 0.0001, rows[0].FundingRate, 1e-12)
	})

	t.Run("fundingRate window", func(t *testing.T) {
		rec := doForm(t, h, "GET", "/fapi/v1/fundingRate?symbol=BTCUSDT&startTime=200000", nil)
		var rows []fundingRateView
		decodeJSON(t, rec, &rows)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(240_000), rows[0].FundingTime)
	})

	t.Run("premiumIndex", func(t *testing.T) {
		rec := doForm(t, h, "GET", "/fapi/v1/premiumIndex?symbol=BTCUSDT", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]string
		decodeJSON(t, rec, &resp)
		assert.Equal(t, "100.00000000", resp["markPrice"])
		// Both settlement points are behind the engine clock after the drain.
		assert.Equal(t, "0.00020000", resp["lastFundingRate"])
	})

	t.Run("bookTicker", func(t *testing.T) {
		rec := doForm(t, h, "GET", "/fapi/v3/ticker/bookTicker?symbol=BTCUSDT", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]string
		decodeJSON(t, rec, &resp)
		assert.Equal(t, "99.98000000", resp["bidPrice"])
		assert.Equal(t, "100.02000000", resp["askPrice"])
		assert.Equal(t, "1.00000000", resp["bidQty"])
		assert.Equal(t, "1.00000000", resp["askQty"])
	})
}

func TestAccountEndpoints(t *testing.T) {
	s := newTestState(t, &stubSource{bars: flatBars(3)})
	h := Router(s, "")
	drainReplay(t, s)

	t.Run("balance", func(t *testing.T) {
		rec := doForm(t, h, "GET", "/fapi/v2/balance", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var rows []balanceRow
		decodeJSON(t, rec, &rows)
		require.Len(t, rows, 1)
		assert.Equal(t, "SIM", rows[0].AccountAlias)
		assert.Equal(t, "USDT", rows[0].Asset)
		assert.Equal(t, "10000.00000000", rows[0].Balance)
		assert.Equal(t, "10000.00000000", rows[0].AvailableBalance)
	})

	t.Run("positionRisk flat", func(t *testing.T) {
		rec := doForm(t, h, "GET", "/fapi/v2/positionRisk", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var rows []positionRiskRow
		decodeJSON(t, rec, &rows)
		require.Len(t, rows, 1)
		assert.Equal(t, "BTCUSDT", rows[0].Symbol)
		assert.Equal(t, "0.00000000", rows[0].PositionAmt)
		assert.Equal(t, "1", rows[0].Leverage)
		assert.Equal(t, "cross", rows[0].MarginType)
		assert.Equal(t, "BOTH", rows[0].PositionSide)
	})

	t.Run("leverage", func(t *testing.T) {
		rec := doForm(t, h, "POST", "/fapi/v1/leverage", url.Values{"symbol": {"BTCUSDT"}, "leverage": {"5"}})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]interface{}
		decodeJSON(t, rec, &resp)
		assert.EqualValues(t, 5, resp["leverage"])
		assert.Equal(t, "0", resp["maxNotionalValue"])

		rec = doForm(t, h, "GET", "/fapi/v1/positionRisk", nil)
		var rows []positionRiskRow
		decodeJSON(t, rec, &rows)
		require.Len(t, rows, 1)
		assert.Equal(t, "5", rows[0].Leverage)
	})

	t.Run("leverage bounds", func(t *testing.T) {
		rec := doForm(t, h, "POST", "/fapi/v1/leverage", url.Values{"symbol": {"BTCUSDT"}, "leverage": {"300"}})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		var e wireError
		decodeJSON(t, rec, &e)
		assert.Equal(t, codeInvalidValue, e.Code)
	})

	t.Run("marginType", func(t *testing.T) {
		rec := doForm(t, h, "POST", "/fapi/v1/marginType", url.Values{"symbol": {"BTCUSDT"}, "marginType": {"isolated"}})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]string
		decodeJSON(t, rec, &resp)
		assert.Equal(t, "ISOLATED", resp["marginType"])
	})

	t.Run("dual side", func(t *testing.T) {
		rec := doForm(t, h, "POST", "/fapi/v1/positionSide/dual", url.Values{"dualSidePosition": {"false"}})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]bool
		decodeJSON(t, rec, &resp)
		assert.False(t, resp["dualSidePosition"])

		rec = doForm(t, h, "GET", "/fapi/v1/positionSide/dual", nil)
		decodeJSON(t, rec, &resp)
		assert.False(t, resp["dualSidePosition"])
	})

	t.Run("listenKey", func(t *testing.T) {
		rec := doForm(t, h, "POST", "/fapi/v1/listenKey", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]string
		decodeJSON(t, rec, &resp)
		require.True(t, strings.HasPrefix(resp["listenKey"], "sim-"))
		assert.Len(t, resp["listenKey"], 20)

		assert.Equal(t, http.StatusOK, doForm(t, h, "PUT", "/fapi/v1/listenKey", nil).Code)
		assert.Equal(t, http.StatusOK, doForm(t, h, "DELETE", "/fapi/v1/listenKey", nil).Code)
	})
}

func TestAdminTokenGuard(t *testing.T) {
	s := newTestState(t, &stubSource{bars: flatBars(3)})
	h := Router(s, "sekrit")

	rec := doForm(t, h, "GET", "/admin/status", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("GET", "/admin/status", nil)
	req.Header.Set("X-Admin-Token", "wrong")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest("GET", "/admin/status", nil)
	req.Header.Set("X-Admin-Token", "sekrit")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var st Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, "BTCUSDT", st.Symbol)

	// Non-admin surface stays open.
	assert.Equal(t, http.StatusOK, doForm(t, h, "GET", "/fapi/v1/time", nil).Code)
}

func TestAdminStatusAndReplay(t *testing.T) {
	s := newTestState(t, &stubSource{bars: flatBars(4)})
	h := Router(s, "")
	drainReplay(t, s)

	rec := doForm(t, h, "GET", "/admin/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st Status
	decodeJSON(t, rec, &st)
	assert.Equal(t, "BTCUSDT", st.Symbol)
	assert.Equal(t, 4, st.BarsLoaded)
	assert.False(t, st.Running)
	assert.InDelta(t, 10_000, st.EquityNow, 1e-9)

	// Reconfigure with a fresh balance; the engine restarts clean.
	body := strings.NewReader(`{"starting_balance": 5000, "speed_bars_per_sec": 0}`)
	req := httptest.NewRequest("POST", "/admin/replay", body)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["ok"])
	assert.EqualValues(t, 4, resp["bars"])

	deadline := time.Now().Add(5 * time.Second)
	for s.Running() {
		if time.Now().After(deadline) {
			t.Fatal("restarted replay did not drain")
		}
		time.Sleep(2 * time.Millisecond)
	}

	rec = doForm(t, h, "GET", "/admin/status", nil)
	decodeJSON(t, rec, &st)
	assert.InDelta(t, 5_000, st.EquityNow, 1e-9)
}
