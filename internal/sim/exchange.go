package sim

import (
	"fmt"

	"perpsim/internal/core"
	apperrors "perpsim/pkg/errors"
)

const defaultStartingBalance = 100_000.0

// Options configures a simulated exchange. Zero values fall back to an
// up-first OHLC path model, a discarding sink and the default balance.
type Options struct {
	StartingBalance float64
	MakerFeeBps     float64
	TakerFeeBps     float64
	FillModel       FillModel
	Sink            RunSink
	Logger          core.ILogger
}

// Exchange is a deterministic one-way perpetual-futures simulator. All
// state mutation happens on the caller's goroutine; the struct carries
// no internal locking and must be driven from a single goroutine.
type Exchange struct {
	account    *Account
	positions  map[string]*Position
	openOrders []*Order
	orderSeq   int64

	fillModel FillModel
	sink      RunSink
	log       core.ILogger

	lastPrice map[string]float64
	clockMS   int64
	tradeLog  []FillRecord

	funding       map[string][]FundingEvent
	fundingCursor map[string]int

	leverage  map[string]int
	hedgeMode bool

	// barOpenHook runs after last price moves to the bar open and
	// before matching; strategy hosts hang off it.
	barOpenHook func(*Bar) error

	sinkErrs int64
}

func NewExchange(opts Options) *Exchange {
	if opts.FillModel == nil {
		opts.FillModel = NewOHLCPathFill(true, 0)
	}
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.StartingBalance <= 0 {
		opts.StartingBalance = defaultStartingBalance
	}
	return &Exchange{
		account:       NewAccount(opts.StartingBalance, opts.MakerFeeBps/10000.0, opts.TakerFeeBps/10000.0),
		positions:     make(map[string]*Position),
		fillModel:     opts.FillModel,
		sink:          opts.Sink,
		log:           core.OrDefault(opts.Logger),
		lastPrice:     make(map[string]float64),
		funding:       make(map[string][]FundingEvent),
		fundingCursor: make(map[string]int),
		leverage:      make(map[string]int),
	}
}

// SetBarOpenHook installs the per-bar callback used by strategy hosts.
func (e *Exchange) SetBarOpenHook(fn func(*Bar) error) { e.barOpenHook = fn }

// SetLastPrice seeds the last known price for a symbol, making market
// orders executable before any bar has been processed.
func (e *Exchange) SetLastPrice(symbol string, price float64) {
	e.lastPrice[symbol] = price
}

// SetFundingEvents installs the funding schedule for a symbol. Events
// must be sorted ascending by time; they are consumed once via cursor.
func (e *Exchange) SetFundingEvents(symbol string, events []FundingEvent) {
	e.funding[symbol] = events
	e.fundingCursor[symbol] = 0
}

func (e *Exchange) SetLeverage(symbol string, leverage int) {
	e.leverage[symbol] = leverage
}

func (e *Exchange) Leverage(symbol string) int { return e.leverage[symbol] }

// SetPositionMode stores the hedge-mode flag. PnL stays one-way.
func (e *Exchange) SetPositionMode(hedge bool) { e.hedgeMode = hedge }

func (e *Exchange) HedgeMode() bool { return e.hedgeMode }

func validateRequest(req *OrderRequest) error {
	if req.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", apperrors.ErrInvalidParam)
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return fmt.Errorf("%w: side %q", apperrors.ErrInvalidParam, req.Side)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", apperrors.ErrInvalidParam)
	}
	switch req.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if req.Price <= 0 {
			return fmt.Errorf("%w: LIMIT requires price", apperrors.ErrInvalidParam)
		}
	case OrderTypeStopMarket:
		if req.StopPrice <= 0 {
			return fmt.Errorf("%w: STOP_MARKET requires stopPrice", apperrors.ErrInvalidParam)
		}
	case OrderTypeStopLimit:
		if req.Price <= 0 || req.StopPrice <= 0 {
			return fmt.Errorf("%w: STOP_LIMIT requires price and stopPrice", apperrors.ErrInvalidParam)
		}
	default:
		return fmt.Errorf("%w: %q", apperrors.ErrUnsupportedOrderType, req.Type)
	}
	switch req.TimeInForce {
	case "":
		req.TimeInForce = TimeInForceGTC
	case TimeInForceGTC, TimeInForceIOC, TimeInForceFOK:
	default:
		return fmt.Errorf("%w: timeInForce %q", apperrors.ErrInvalidParam, req.TimeInForce)
	}
	return nil
}

// PlaceOrder validates and admits an order. Market orders execute
// immediately at the last known price; everything else rests until a
// bar resolves it. A rejected request consumes no order id.
func (e *Exchange) PlaceOrder(req OrderRequest) (*Order, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	if req.Type == OrderTypeMarket {
		if _, ok := e.lastPrice[req.Symbol]; !ok {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrNoMarketPrice, req.Symbol)
		}
	}

	e.orderSeq++
	order := &Order{
		ID:            e.orderSeq,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		TimeInForce:   req.TimeInForce,
		ReduceOnly:    req.ReduceOnly,
		CreatedAt:     e.clockMS,
		Status:        StatusNew,
	}

	if order.ReduceOnly {
		pos := e.position(order.Symbol)
		if pos.IsFlat() || sameSign(pos.Qty, order.Side.Sign()) {
			// Would increase exposure, so it dies on arrival.
			order.Status = StatusCanceled
			e.log.Debug("reduce-only order canceled at submission",
				"symbol", order.Symbol, "order_id", order.ID, "side", order.Side)
			return order.Snapshot(), nil
		}
		if order.Quantity > abs(pos.Qty) {
			order.Quantity = abs(pos.Qty)
		}
	}

	if order.Type == OrderTypeMarket {
		e.executeMarket(order)
		return order.Snapshot(), nil
	}

	e.openOrders = append(e.openOrders, order)
	return order.Snapshot(), nil
}

// executeMarket fills a market order in full at the last known price,
// adjusted by the fill model's taker pricing when available.
func (e *Exchange) executeMarket(order *Order) {
	price := e.lastPrice[order.Symbol]
	if tp, ok := e.fillModel.(TakerPricer); ok {
		price = tp.TakerPrice(price, order.Side)
	}
	e.applyFill(order, Fill{Price: price, Qty: order.Quantity, IsMaker: false, TsMS: e.clockMS})
	order.Status = StatusFilled
}

// applyFill settles one fill: position, account, trade log, sink and
// the order's own accumulators.
func (e *Exchange) applyFill(order *Order, f Fill) {
	pos := e.position(order.Symbol)
	signed := f.Qty * order.Side.Sign()
	realized := pos.Update(signed, f.Price)

	f.Fee = e.account.FeeFor(f.Price, f.Qty, f.IsMaker)
	e.account.AddRealized(realized)
	e.account.ApplyFee(f.Fee)

	rec := FillRecord{
		TsMS:        f.TsMS,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Price:       f.Price,
		Qty:         f.Qty,
		RealizedPnL: realized,
		Fee:         f.Fee,
		IsMaker:     f.IsMaker,
	}
	e.tradeLog = append(e.tradeLog, rec)
	if err := e.sink.RecordFill(rec); err != nil {
		e.sinkErrs++
		e.log.Warn("sink rejected fill record", "error", err, "symbol", rec.Symbol)
	}
	order.recordFill(f)
}

// CancelOrder cancels one open order addressed by order id or client id.
func (e *Exchange) CancelOrder(symbol string, orderID int64, clientOrderID string) (*Order, error) {
	for i, o := range e.openOrders {
		if o.Symbol != symbol {
			continue
		}
		if (orderID != 0 && o.ID == orderID) ||
			(clientOrderID != "" && o.ClientOrderID == clientOrderID) {
			o.Status = StatusCanceled
			e.openOrders = append(e.openOrders[:i], e.openOrders[i+1:]...)
			return o.Snapshot(), nil
		}
	}
	return nil, fmt.Errorf("%w: symbol=%s orderId=%d clientOrderId=%q",
		apperrors.ErrUnknownOrder, symbol, orderID, clientOrderID)
}

// CancelAll cancels every open order for a symbol and returns their
// snapshots in submission order.
func (e *Exchange) CancelAll(symbol string) []*Order {
	var canceled []*Order
	remaining := e.openOrders[:0]
	for _, o := range e.openOrders {
		if o.Symbol == symbol {
			o.Status = StatusCanceled
			canceled = append(canceled, o.Snapshot())
			continue
		}
		remaining = append(remaining, o)
	}
	e.openOrders = remaining
	return canceled
}

// OpenOrders returns snapshots of resting orders, optionally filtered
// by symbol (empty matches all).
func (e *Exchange) OpenOrders(symbol string) []*Order {
	out := make([]*Order, 0, len(e.openOrders))
	for _, o := range e.openOrders {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, o.Snapshot())
	}
	return out
}

// GetOrder returns a snapshot of one open order by id.
func (e *Exchange) GetOrder(orderID int64) (*Order, error) {
	for _, o := range e.openOrders {
		if o.ID == orderID {
			return o.Snapshot(), nil
		}
	}
	return nil, fmt.Errorf("%w: orderId=%d", apperrors.ErrUnknownOrder, orderID)
}

// ProcessBar advances the simulation by one bar: last price moves to
// the open, the hook runs, open orders match, funding settles, then
// last price moves to the close and an equity sample is emitted.
func (e *Exchange) ProcessBar(bar *Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}
	if e.clockMS != 0 && bar.OpenTime < e.clockMS {
		return fmt.Errorf("%w: bar open %d behind clock %d",
			apperrors.ErrDataUnavailable, bar.OpenTime, e.clockMS)
	}
	symbol := bar.Symbol
	if symbol == "" {
		symbol = e.inferSymbol()
	}

	e.clockMS = bar.OpenTime
	e.lastPrice[symbol] = bar.Open

	if e.barOpenHook != nil {
		if err := e.barOpenHook(bar); err != nil {
			return err
		}
	}

	// Matching walks a snapshot in submission order; eviction mutates
	// the live slice.
	open := append([]*Order(nil), e.openOrders...)
	for _, order := range open {
		if order.Symbol != symbol {
			continue
		}
		fills := e.fillModel.FillsOnBar(bar, order)
		if len(fills) == 0 {
			continue
		}
		applied := 0
		for _, f := range fills {
			if order.ReduceOnly {
				pos := e.position(symbol)
				switch {
				case pos.IsFlat(), sameSign(pos.Qty, order.Side.Sign()):
					f.Qty = 0
				case f.Qty > abs(pos.Qty):
					f.Qty = abs(pos.Qty)
				}
			}
			if f.Qty <= eps {
				continue
			}
			e.applyFill(order, f)
			applied++
		}
		if applied == 0 {
			continue
		}
		if order.RemainingQty() <= eps {
			order.Status = StatusFilled
			e.evict(order)
		} else {
			order.Status = StatusPartiallyFilled
		}
	}

	e.applyFunding(symbol, bar)

	e.lastPrice[symbol] = bar.Close
	e.clockMS = bar.CloseTime

	sample := EquitySample{TsMS: bar.CloseTime, Balance: e.account.Balance, Equity: e.Equity()}
	if err := e.sink.RecordEquity(sample); err != nil {
		e.sinkErrs++
		e.log.Warn("sink rejected equity sample", "error", err, "symbol", symbol)
	}
	return nil
}

// applyFunding consumes every scheduled event up to the bar close and
// settles the summed rate against the open position. Longs pay a
// positive rate. Events expire through the cursor even when flat.
func (e *Exchange) applyFunding(symbol string, bar *Bar) {
	events := e.funding[symbol]
	i := e.fundingCursor[symbol]
	var r float64
	for i < len(events) && events[i].TimeMS <= bar.CloseTime {
		r += events[i].Rate
		i++
	}
	if i == e.fundingCursor[symbol] {
		return
	}
	e.fundingCursor[symbol] = i

	pos, ok := e.positions[symbol]
	if !ok || pos.IsFlat() || r == 0 {
		return
	}
	payment := pos.Qty * r * bar.Close
	e.account.ApplyFunding(payment)
	pos.RealizedPnL -= payment
	e.log.Debug("funding settled",
		"symbol", symbol, "rate", r, "payment", payment, "ts", bar.CloseTime)
}

func (e *Exchange) evict(order *Order) {
	for i, o := range e.openOrders {
		if o == order {
			e.openOrders = append(e.openOrders[:i], e.openOrders[i+1:]...)
			return
		}
	}
}

// position returns the live ledger entry, creating it when absent.
func (e *Exchange) position(symbol string) *Position {
	pos, ok := e.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol}
		e.positions[symbol] = pos
	}
	return pos
}

// inferSymbol covers bars that carry no symbol; single-symbol feeds
// resolve to the obvious one.
func (e *Exchange) inferSymbol() string {
	if len(e.openOrders) > 0 {
		return e.openOrders[0].Symbol
	}
	for s := range e.positions {
		return s
	}
	return ""
}

// Position returns a copy of the ledger entry for a symbol.
func (e *Exchange) Position(symbol string) Position {
	if pos, ok := e.positions[symbol]; ok {
		return *pos
	}
	return Position{Symbol: symbol}
}

// Positions returns copies of all non-empty ledger entries.
func (e *Exchange) Positions() []Position {
	out := make([]Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, *pos)
	}
	return out
}

// Account returns a copy of the account state.
func (e *Exchange) Account() Account { return *e.account }

// LastPrice reports the last known price for a symbol.
func (e *Exchange) LastPrice(symbol string) (float64, bool) {
	p, ok := e.lastPrice[symbol]
	return p, ok
}

// Clock is the engine time in ms: the close of the last processed bar.
func (e *Exchange) Clock() int64 { return e.clockMS }

// Equity is balance plus unrealized pnl at the last known prices.
func (e *Exchange) Equity() float64 {
	eq := e.account.Balance
	for sym, pos := range e.positions {
		if pos.IsFlat() {
			continue
		}
		price, ok := e.lastPrice[sym]
		if !ok {
			price = pos.EntryPrice
		}
		eq += (price - pos.EntryPrice) * pos.Qty
	}
	return eq
}

// UnrealizedPnL marks one symbol's position at its last known price.
func (e *Exchange) UnrealizedPnL(symbol string) float64 {
	pos, ok := e.positions[symbol]
	if !ok {
		return 0
	}
	price, lok := e.lastPrice[symbol]
	if !lok {
		price = pos.EntryPrice
	}
	return pos.UnrealizedPnL(price)
}

// TradeLog returns a copy of all fill records in emission order.
func (e *Exchange) TradeLog() []FillRecord {
	out := make([]FillRecord, len(e.tradeLog))
	copy(out, e.tradeLog)
	return out
}

// SinkErrors counts sink writes that failed and were skipped.
func (e *Exchange) SinkErrors() int64 { return e.sinkErrs }
