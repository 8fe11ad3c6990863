package sim

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == SideBuy {
		return 1
	}
	return -1
}

// OrderType enumerates the supported order types.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
	OrderTypeStopLimit  OrderType = "STOP_LIMIT"
)

// TimeInForce is accepted and stored; the bar-resolution engine treats
// all resting orders as GTC.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// OrderStatus is the order lifecycle state. Terminal states are absorbing.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status absorbs all further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// OrderRequest carries the parameters of a submission. Zero Price/StopPrice
// means the field was not provided.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      float64
	Price         float64
	StopPrice     float64
	TimeInForce   TimeInForce
	ReduceOnly    bool
	ClientOrderID string
}

// Order is the engine's order record. The engine owns the canonical
// instance; frontends receive copies via Snapshot.
type Order struct {
	ID            int64       `json:"order_id"`
	ClientOrderID string      `json:"client_order_id,omitempty"`
	Symbol        string      `json:"symbol"`
	Side          Side        `json:"side"`
	Type          OrderType   `json:"type"`
	Quantity      float64     `json:"quantity"`
	Price         float64     `json:"price,omitempty"`
	StopPrice     float64     `json:"stop_price,omitempty"`
	TimeInForce   TimeInForce `json:"time_in_force"`
	ReduceOnly    bool        `json:"reduce_only"`
	CreatedAt     int64       `json:"created_at"`

	Status       OrderStatus `json:"status"`
	FilledQty    float64     `json:"filled_quantity"`
	AvgFillPrice float64     `json:"avg_fill_price"`
	Fills        []Fill      `json:"fills,omitempty"`
}

// RemainingQty is the quantity not executed yet.
func (o *Order) RemainingQty() float64 {
	rem := o.Quantity - o.FilledQty
	if rem < 0 {
		return 0
	}
	return rem
}

// IsTerminal reports whether the order reached an absorbing state.
func (o *Order) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// recordFill accumulates a fill into the order: filled quantity and the
// lifetime quantity-weighted average fill price across all fills.
func (o *Order) recordFill(f Fill) {
	notional := o.AvgFillPrice*o.FilledQty + f.Price*f.Qty
	o.FilledQty += f.Qty
	if o.FilledQty > eps {
		o.AvgFillPrice = notional / o.FilledQty
	}
	o.Fills = append(o.Fills, f)
}

// convertToLimit mutates a triggered stop-limit into a plain limit.
func (o *Order) convertToLimit() {
	o.Type = OrderTypeLimit
	o.StopPrice = 0
}

// Snapshot returns a deep copy safe to hand outside the engine.
func (o *Order) Snapshot() *Order {
	cp := *o
	if len(o.Fills) > 0 {
		cp.Fills = make([]Fill, len(o.Fills))
		copy(cp.Fills, o.Fills)
	}
	return &cp
}
