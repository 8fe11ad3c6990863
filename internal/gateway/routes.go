package gateway

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"perpsim/internal/sim"
)

// Router assembles the REST surface. It mounts behind the liveserver
// front, which owns /stream, /health and /metrics; adminToken guards
// the /admin routes when non-empty.
func Router(s *SimState, adminToken string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /fapi/v1/order", s.handlePostOrder)
	mux.HandleFunc("DELETE /fapi/v1/order", s.handleDeleteOrder)
	mux.HandleFunc("DELETE /fapi/v1/allOpenOrders", s.handleDeleteAllOrders)
	mux.HandleFunc("GET /fapi/v1/openOrders", s.handleOpenOrders)

	mux.HandleFunc("GET /fapi/v1/time", s.handleTime)
	mux.HandleFunc("GET /fapi/v1/exchangeInfo", s.handleExchangeInfo)
	mux.HandleFunc("GET /fapi/v1/klines", s.handleKlines)
	mux.HandleFunc("GET /fapi/v1/fundingRate", s.handleFundingRate)
	mux.HandleFunc("GET /fapi/v1/premiumIndex", s.handlePremiumIndex)
	mux.HandleFunc("GET /fapi/v3/ticker/bookTicker", s.handleBookTicker)

	mux.HandleFunc("GET /fapi/v2/balance", s.handleBalance)
	mux.HandleFunc("GET /fapi/v1/positionRisk", s.handlePositionRisk)
	mux.HandleFunc("GET /fapi/v2/positionRisk", s.handlePositionRisk)
	mux.HandleFunc("POST /fapi/v1/leverage", s.handleLeverage)
	mux.HandleFunc("POST /fapi/v1/marginType", s.handleMarginType)
	mux.HandleFunc("POST /fapi/v1/positionSide/dual", s.handleSetDualSide)
	mux.HandleFunc("GET /fapi/v1/positionSide/dual", s.handleGetDualSide)
	mux.HandleFunc("POST /fapi/v1/listenKey", s.handleCreateListenKey)
	mux.HandleFunc("PUT /fapi/v1/listenKey", s.handleListenKeyNoop)
	mux.HandleFunc("DELETE /fapi/v1/listenKey", s.handleListenKeyNoop)

	guard := adminGuard(adminToken)
	mux.Handle("GET /admin/status", guard(http.HandlerFunc(s.handleAdminStatus)))
	mux.Handle("POST /admin/replay", guard(http.HandlerFunc(s.handleAdminReplay)))

	return mux
}

// adminGuard requires the token in X-Admin-Token on admin routes. An
// empty token leaves admin open, the expected mode for local runs.
func adminGuard(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, wireError{Code: codeInternal, Msg: "Unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// orderAck is the immediate order response. Fills ride along for
// orders that executed at submission.
type orderAck struct {
	Symbol        string     `json:"symbol"`
	OrderID       int64      `json:"orderId"`
	ClientOrderID string     `json:"clientOrderId"`
	TransactTime  int64      `json:"transactTime"`
	Price         string     `json:"price"`
	OrigQty       string     `json:"origQty"`
	ExecutedQty   string     `json:"executedQty"`
	Status        string     `json:"status"`
	TimeInForce   string     `json:"timeInForce"`
	Type          string     `json:"type"`
	Side          string     `json:"side"`
	StopPrice     string     `json:"stopPrice,omitempty"`
	Fills         []fillView `json:"fills,omitempty"`
}

type fillView struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
}

func newOrderAck(o *sim.Order) orderAck {
	ack := orderAck{
		Symbol:        o.Symbol,
		OrderID:       o.ID,
		ClientOrderID: wireClientID(o),
		TransactTime:  nowMS(),
		Price:         f8(o.Price),
		OrigQty:       f8(o.Quantity),
		ExecutedQty:   f8(o.FilledQty),
		Status:        string(o.Status),
		TimeInForce:   string(o.TimeInForce),
		Type:          string(o.Type),
		Side:          string(o.Side),
	}
	if o.StopPrice > 0 {
		ack.StopPrice = f8(o.StopPrice)
	}
	for _, f := range o.Fills {
		ack.Fills = append(ack.Fills, fillView{
			Price:           f8(f.Price),
			Qty:             f8(f.Qty),
			Commission:      f8(f.Fee),
			CommissionAsset: "USDT",
		})
	}
	return ack
}

// wireClientID never returns empty: clients that sent no id still get
// a stable synthetic one back.
func wireClientID(o *sim.Order) string {
	if o.ClientOrderID != "" {
		return o.ClientOrderID
	}
	return fmt.Sprintf("sim-%d", o.ID)
}

func (s *SimState) handlePostOrder(w http.ResponseWriter, r *http.Request) {
	p := ReadParams(r)

	symbol := strings.ToUpper(p.Get("symbol"))
	side := strings.ToUpper(p.Get("side"))
	orderType := strings.ToUpper(p.Get("type", "orderType"))
	if orderType == "STOP" {
		orderType = "STOP_MARKET"
	}
	tif := strings.ToUpper(p.Get("timeInForce"))
	clientID := p.Get("newClientOrderId", "clientOrderId")

	if symbol == "" {
		missingParam(w, "symbol")
		return
	}
	if side == "" {
		missingParam(w, "side")
		return
	}
	if orderType == "" {
		missingParam(w, "type")
		return
	}
	qty, ok, err := p.Float("quantity", "origQty", "qty")
	if !ok {
		missingParam(w, "quantity")
		return
	}
	if err != nil {
		writeError(w, codeInvalidValue, "Invalid quantity")
		return
	}
	price, _, err := p.Float("price")
	if err != nil {
		writeError(w, codeInvalidValue, "Invalid price")
		return
	}
	stopPrice, _, err := p.Float("stopPrice")
	if err != nil {
		writeError(w, codeInvalidValue, "Invalid stopPrice")
		return
	}

	order, err := s.PlaceOrder(sim.OrderRequest{
		Symbol:        symbol,
		Side:          sim.Side(side),
		Type:          sim.OrderType(orderType),
		Quantity:      qty,
		Price:         price,
		StopPrice:     stopPrice,
		TimeInForce:   sim.TimeInForce(tif),
		ReduceOnly:    p.Bool("reduceOnly"),
		ClientOrderID: clientID,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderAck(order))
}

type cancelAck struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId,omitempty"`
	Status        string `json:"status"`
}

func (s *SimState) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	p := ReadParams(r)

	symbol := strings.ToUpper(p.Get("symbol"))
	if symbol == "" {
		missingParam(w, "symbol")
		return
	}
	orderID, ok, err := p.Int("orderId")
	if err != nil {
		writeError(w, codeInvalidValue, "Invalid orderId")
		return
	}
	clientID := p.Get("origClientOrderId")
	if !ok && clientID == "" {
		missingParam(w, "orderId")
		return
	}

	order, err := s.CancelOrder(symbol, orderID, clientID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelAck{
		Symbol:        order.Symbol,
		OrderID:       order.ID,
		ClientOrderID: wireClientID(order),
		Status:        string(order.Status),
	})
}

func (s *SimState) handleDeleteAllOrders(w http.ResponseWriter, r *http.Request) {
	p := ReadParams(r)
	symbol := strings.ToUpper(p.Get("symbol"))
	if symbol == "" {
		missingParam(w, "symbol")
		return
	}
	s.CancelAll(symbol)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"code": 200,
		"msg":  "All open orders canceled.",
	})
}

// openOrderView is one row of the openOrders listing.
type openOrderView struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	TimeInForce   string `json:"timeInForce"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	UpdateTime    int64  `json:"updateTime"`
	StopPrice     string `json:"stopPrice,omitempty"`
}

func (s *SimState) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))

	orders := s.OpenOrders(symbol)
	out := make([]openOrderView, 0, len(orders))
	for _, o := range orders {
		v := openOrderView{
			Symbol:        o.Symbol,
			OrderID:       o.ID,
			ClientOrderID: wireClientID(o),
			Price:         f8(o.Price),
			OrigQty:       f8(o.Quantity),
			ExecutedQty:   f8(o.FilledQty),
			Status:        string(o.Status),
			TimeInForce:   string(o.TimeInForce),
			Type:          string(o.Type),
			Side:          string(o.Side),
			UpdateTime:    o.CreatedAt,
		}
		if o.StopPrice > 0 {
			v.StopPrice = f8(o.StopPrice)
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}
