package gateway

import (
	"context"
	"strconv"
	"strings"

	"perpsim/internal/sim"
	"perpsim/pkg/telemetry"
)

// Route handlers reach the engine only through these methods; each one
// takes the state mutex so the engine stays single-threaded.

// PlaceOrder submits an order to the engine.
func (s *SimState) PlaceOrder(req sim.OrderRequest) (*sim.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, err := s.ex.PlaceOrder(req)
	if err != nil {
		return nil, err
	}
	if h := telemetry.GetGlobalMetrics(); h.OrdersPlacedTotal != nil {
		h.OrdersPlacedTotal.Add(context.Background(), 1)
	}
	return order, nil
}

// CancelOrder cancels one open order by id or client id.
func (s *SimState) CancelOrder(symbol string, orderID int64, clientOrderID string) (*sim.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, err := s.ex.CancelOrder(strings.ToUpper(symbol), orderID, clientOrderID)
	if err != nil {
		return nil, err
	}
	if h := telemetry.GetGlobalMetrics(); h.OrdersCanceledTotal != nil {
		h.OrdersCanceledTotal.Add(context.Background(), 1)
	}
	return order, nil
}

// CancelAll cancels every open order for a symbol.
func (s *SimState) CancelAll(symbol string) []*sim.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	canceled := s.ex.CancelAll(strings.ToUpper(symbol))
	if h := telemetry.GetGlobalMetrics(); h.OrdersCanceledTotal != nil && len(canceled) > 0 {
		h.OrdersCanceledTotal.Add(context.Background(), int64(len(canceled)))
	}
	return canceled
}

// OpenOrders lists resting orders, optionally filtered by symbol.
func (s *SimState) OpenOrders(symbol string) []*sim.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ex.OpenOrders(strings.ToUpper(symbol))
}

// CurPrice is the engine's last known price for a symbol, falling back
// to the first loaded bar open before any bar has been processed.
func (s *SimState) CurPrice(symbol string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curPriceLocked(strings.ToUpper(symbol))
}

func (s *SimState) curPriceLocked(symbol string) float64 {
	if px, ok := s.ex.LastPrice(symbol); ok {
		return px
	}
	if symbol == s.cfg.Symbol {
		return s.firstOpen
	}
	return 0
}

// BalanceView is the balance endpoint's snapshot.
type BalanceView struct {
	Equity float64
	Cash   float64
}

func (s *SimState) Balance() BalanceView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return BalanceView{Equity: s.ex.Equity(), Cash: s.ex.Account().Balance}
}

// PositionRisk is one positionRisk row's snapshot.
type PositionRisk struct {
	Position   sim.Position
	MarkPrice  float64
	Leverage   int
	MarginType string
	DualSide   bool
}

// PositionRisks returns the positions the risk endpoint reports. With
// a symbol it returns that one position (flat or not); without one it
// returns every tracked position, or the replay symbol flat when the
// book is empty.
func (s *SimState) PositionRisks(symbol string) []PositionRisk {
	s.mu.Lock()
	defer s.mu.Unlock()

	var positions []sim.Position
	if symbol != "" {
		positions = []sim.Position{s.ex.Position(strings.ToUpper(symbol))}
	} else if positions = s.ex.Positions(); len(positions) == 0 {
		positions = []sim.Position{{Symbol: s.cfg.Symbol}}
	}

	out := make([]PositionRisk, 0, len(positions))
	for _, pos := range positions {
		out = append(out, PositionRisk{
			Position:   pos,
			MarkPrice:  s.curPriceLocked(pos.Symbol),
			Leverage:   s.leverage,
			MarginType: s.marginType,
			DualSide:   s.dualSide,
		})
	}
	return out
}

func (s *SimState) SetLeverage(symbol string, leverage int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leverage = leverage
	s.ex.SetLeverage(strings.ToUpper(symbol), leverage)
}

func (s *SimState) Leverage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leverage
}

// SetMarginType stores the margin-type tag; it does not change the
// accounting, which is cross-only.
func (s *SimState) SetMarginType(marginType string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marginType = strings.ToUpper(marginType)
	return s.marginType
}

func (s *SimState) MarginType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marginType
}

func (s *SimState) SetDualSide(dual bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dualSide = dual
	s.ex.SetPositionMode(dual)
}

func (s *SimState) DualSide() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dualSide
}

// Bars returns the loaded replay buffer for the klines endpoint.
func (s *SimState) Bars() []sim.Bar { return s.replayer.Bars() }

func (s *SimState) BarsCount() int { return s.replayer.BarsCount() }

// Funding returns the loaded funding schedule.
func (s *SimState) Funding() []sim.FundingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sim.FundingEvent, len(s.funding))
	copy(out, s.funding)
	return out
}

// LastFundingRate is the most recent scheduled rate at or before the
// engine clock; zero before the first settlement point passes.
func (s *SimState) LastFundingRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	clock := s.ex.Clock()
	rate := 0.0
	for _, ev := range s.funding {
		if ev.TimeMS > clock {
			break
		}
		rate = ev.Rate
	}
	return rate
}

// Symbols lists tradable symbols: the store's distinct symbols when a
// store is attached, the replay symbol otherwise.
func (s *SimState) Symbols(ctx context.Context) []string {
	if s.st != nil {
		if syms, err := s.st.Symbols(ctx); err == nil && len(syms) > 0 {
			return syms
		}
	}
	return []string{s.Symbol()}
}

func (s *SimState) Symbol() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Symbol
}

func (s *SimState) Interval() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Interval
}

func (s *SimState) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *SimState) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runIDLocked()
}

// Status is the admin snapshot: replay configuration plus engine state.
type Status struct {
	Symbol     string         `json:"symbol"`
	Interval   string         `json:"interval"`
	StartTS    int64          `json:"start_ts"`
	EndTS      int64          `json:"end_ts"`
	BarsPerSec float64        `json:"speed_bars_per_sec"`
	FillModel  string         `json:"fill_model"`
	RunID      string         `json:"run_id,omitempty"`
	Running    bool           `json:"running"`
	WSClients  int            `json:"ws_clients"`
	BarsLoaded int            `json:"bars_loaded"`
	EquityNow  float64        `json:"equity_now"`
	Position   StatusPosition `json:"position"`
	Leverage   int            `json:"leverage"`
	MarginType string         `json:"margin_type"`
	DualSide   bool           `json:"dual_side"`
}

type StatusPosition struct {
	Qty      float64 `json:"qty"`
	AvgPrice float64 `json:"avg_price"`
}

func (s *SimState) Status() Status {
	s.mu.Lock()
	pos := s.ex.Position(s.cfg.Symbol)
	st := Status{
		Symbol:     s.cfg.Symbol,
		Interval:   s.cfg.Interval,
		StartTS:    s.cfg.StartTS,
		EndTS:      s.cfg.EndTS,
		BarsPerSec: s.cfg.BarsPerSec,
		FillModel:  s.cfg.FillModel,
		RunID:      s.runIDLocked(),
		Running:    s.running,
		EquityNow:  s.ex.Equity(),
		Position:   StatusPosition{Qty: pos.Qty, AvgPrice: pos.EntryPrice},
		Leverage:   s.leverage,
		MarginType: s.marginType,
		DualSide:   s.dualSide,
	}
	s.mu.Unlock()

	st.WSClients = s.hub.ClientCount()
	st.BarsLoaded = s.replayer.BarsCount()
	return st
}

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
