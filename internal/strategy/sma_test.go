package strategy

import (
	"context"
	"errors"
	"math"
	"testing"

	"perpsim/internal/sim"
	apperrors "perpsim/pkg/errors"
)

// stubTrader records order requests and tracks a naive signed position
// as if every market order filled in full.
type stubTrader struct {
	orders  []sim.OrderRequest
	cancels int
	pos     map[string]float64
}

func newStubTrader() *stubTrader {
	return &stubTrader{pos: make(map[string]float64)}
}

func (s *stubTrader) PlaceOrder(req sim.OrderRequest) (*sim.Order, error) {
	s.orders = append(s.orders, req)
	s.pos[req.Symbol] += req.Quantity * req.Side.Sign()
	return &sim.Order{ID: int64(len(s.orders)), Status: sim.StatusFilled}, nil
}

func (s *stubTrader) CancelAll(string) []*sim.Order {
	s.cancels++
	return nil
}

func (s *stubTrader) Position(symbol string) sim.Position {
	return sim.Position{Symbol: symbol, Qty: s.pos[symbol]}
}

func (s *stubTrader) LastPrice(string) (float64, bool) { return 0, false }
func (s *stubTrader) Equity() float64                  { return 0 }

func closeBar(i int, open, close float64) *sim.Bar {
	ts := int64(i+1) * 60_000
	hi := math.Max(open, close) + 1
	lo := math.Min(open, close) - 1
	return &sim.Bar{
		Symbol: "BTCUSDT", OpenTime: ts, Open: open, High: hi, Low: lo,
		Close: close, Volume: 1, CloseTime: ts + 59_999,
	}
}

func TestSMACrossSignals(t *testing.T) {
	trader := newStubTrader()
	strat, err := New("sma", trader, "BTCUSDT", "1m", Params{"fast": "2", "slow": "3", "qty": "1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Flat closes through warmup, a jump to force the fast average over
	// the slow one, then a dump to cross back down.
	opens := []float64{10, 10, 10, 10, 14, 14}
	closes := []float64{10, 10, 10, 14, 14, 6}
	for i := range closes {
		if err := strat.OnBar(context.Background(), closeBar(i, opens[i], closes[i])); err != nil {
			t.Fatalf("OnBar %d: %v", i, err)
		}
	}

	if len(trader.orders) != 3 {
		t.Fatalf("placed %d orders, want 3: %+v", len(trader.orders), trader.orders)
	}
	long := trader.orders[0]
	if long.Side != sim.SideBuy || long.Quantity != 1 || long.ReduceOnly {
		t.Errorf("cross up order = %+v", long)
	}
	flatten := trader.orders[1]
	if flatten.Side != sim.SideSell || flatten.Quantity != 1 || !flatten.ReduceOnly {
		t.Errorf("flatten order = %+v", flatten)
	}
	short := trader.orders[2]
	if short.Side != sim.SideSell || short.Quantity != 1 || short.ReduceOnly {
		t.Errorf("cross down order = %+v", short)
	}
	if got := trader.pos["BTCUSDT"]; got != -1 {
		t.Errorf("final position %v, want -1", got)
	}
}

func TestSMACrossNoRepeatWhilePositioned(t *testing.T) {
	trader := newStubTrader()
	strat, err := New("sma", trader, "BTCUSDT", "1m", Params{"fast": "2", "slow": "3", "qty": "1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// One cross up, then the trend keeps rising. Already long, so no
	// further orders should appear.
	closes := []float64{10, 10, 10, 14, 18, 22, 26}
	for i, c := range closes {
		if err := strat.OnBar(context.Background(), closeBar(i, c, c)); err != nil {
			t.Fatalf("OnBar %d: %v", i, err)
		}
	}
	if len(trader.orders) != 1 {
		t.Fatalf("placed %d orders, want 1: %+v", len(trader.orders), trader.orders)
	}
}

func TestSMACrossParamValidation(t *testing.T) {
	// Windows out of order, degenerate sizes, and unparseable numbers
	// must all be rejected at construction.
	cases := []Params{
		{"fast": "20", "slow": "5"},
		{"fast": "0"},
		{"qty": "0"},
		{"fast": "five"},
	}
	for _, params := range cases {
		if _, err := New("sma", newStubTrader(), "BTCUSDT", "1m", params); !errors.Is(err, apperrors.ErrInvalidParam) {
			t.Errorf("params %v: err = %v, want ErrInvalidParam", params, err)
		}
	}
}

// The strategy wired into a real engine through the bar-open hook: the
// whole loop the backtest runner drives.
func TestSMACrossOnExchange(t *testing.T) {
	ex := sim.NewExchange(sim.Options{StartingBalance: 10_000})
	strat, err := New("sma", ex, "BTCUSDT", "1m", Params{"fast": "2", "slow": "3", "qty": "1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ex.SetBarOpenHook(func(bar *sim.Bar) error {
		return strat.OnBar(context.Background(), bar)
	})

	opens := []float64{10, 10, 10, 10, 14, 14}
	closes := []float64{10, 10, 10, 14, 14, 6}
	for i := range closes {
		if err := ex.ProcessBar(closeBar(i, opens[i], closes[i])); err != nil {
			t.Fatalf("ProcessBar %d: %v", i, err)
		}
	}

	pos := ex.Position("BTCUSDT")
	if pos.Qty != -1 {
		t.Fatalf("position %v, want short 1", pos.Qty)
	}
	log := ex.TradeLog()
	if len(log) != 3 {
		t.Fatalf("trade log has %d fills, want 3", len(log))
	}
	// Entry at the open of the signal bar, exit realizes the move from
	// 10 to 14 on one unit.
	if log[0].Price != 10 || log[0].Side != sim.SideBuy {
		t.Errorf("entry fill = %+v", log[0])
	}
	if math.Abs(log[1].RealizedPnL-4) > 1e-9 {
		t.Errorf("flatten realized %v, want 4", log[1].RealizedPnL)
	}
	if math.Abs(ex.Account().Balance-10_004) > 1e-9 {
		t.Errorf("balance %v, want 10004", ex.Account().Balance)
	}
}
