package gateway

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type balanceRow struct {
	AccountAlias       string `json:"accountAlias"`
	Asset              string `json:"asset"`
	Balance            string `json:"balance"`
	CrossWalletBalance string `json:"crossWalletBalance"`
	AvailableBalance   string `json:"availableBalance"`
	MaxWithdrawAmount  string `json:"maxWithdrawAmount"`
	UpdateTime         int64  `json:"updateTime"`
}

func (s *SimState) handleBalance(w http.ResponseWriter, r *http.Request) {
	bv := s.Balance()
	writeJSON(w, http.StatusOK, []balanceRow{{
		AccountAlias:       "SIM",
		Asset:              "USDT",
		Balance:            f8(bv.Equity),
		CrossWalletBalance: f8(bv.Equity),
		AvailableBalance:   f8(bv.Cash),
		MaxWithdrawAmount:  f8(bv.Cash),
		UpdateTime:         nowMS(),
	}})
}

type positionRiskRow struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	MarkPrice        string `json:"markPrice"`
	Leverage         string `json:"leverage"`
	MarginType       string `json:"marginType"`
	UpdateTime       int64  `json:"updateTime"`
	PositionSide     string `json:"positionSide"`
}

func (s *SimState) handlePositionRisk(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))

	risks := s.PositionRisks(symbol)
	out := make([]positionRiskRow, 0, len(risks))
	now := nowMS()
	for _, pr := range risks {
		out = append(out, positionRiskRow{
			Symbol:           pr.Position.Symbol,
			PositionAmt:      f8(pr.Position.Qty),
			EntryPrice:       f8(pr.Position.EntryPrice),
			UnRealizedProfit: f8(pr.Position.UnrealizedPnL(pr.MarkPrice)),
			MarkPrice:        f8(pr.MarkPrice),
			Leverage:         formatInt(int64(pr.Leverage)),
			MarginType:       pr.MarginType,
			UpdateTime:       now,
			PositionSide:     "BOTH",
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *SimState) handleLeverage(w http.ResponseWriter, r *http.Request) {
	p := ReadParams(r)

	symbol := strings.ToUpper(p.Get("symbol"))
	if symbol == "" {
		missingParam(w, "symbol")
		return
	}
	lev, ok, err := p.Int("leverage")
	if !ok {
		missingParam(w, "leverage")
		return
	}
	if err != nil || lev < 1 || lev > 125 {
		writeError(w, codeInvalidValue, "Invalid leverage")
		return
	}

	s.SetLeverage(symbol, int(lev))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"leverage":         int(lev),
		"symbol":           symbol,
		"maxNotionalValue": "0",
	})
}

func (s *SimState) handleMarginType(w http.ResponseWriter, r *http.Request) {
	p := ReadParams(r)

	symbol := strings.ToUpper(p.Get("symbol"))
	if symbol == "" {
		missingParam(w, "symbol")
		return
	}
	mt := p.Get("marginType")
	if mt == "" {
		missingParam(w, "marginType")
		return
	}

	applied := s.SetMarginType(mt)
	writeJSON(w, http.StatusOK, map[string]string{
		"symbol":     symbol,
		"marginType": applied,
	})
}

func (s *SimState) handleSetDualSide(w http.ResponseWriter, r *http.Request) {
	p := ReadParams(r)
	if !p.Has("dualSidePosition") {
		missingParam(w, "dualSidePosition")
		return
	}
	dual := p.Bool("dualSidePosition")
	s.SetDualSide(dual)
	writeJSON(w, http.StatusOK, map[string]bool{"dualSidePosition": dual})
}

func (s *SimState) handleGetDualSide(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"dualSidePosition": s.DualSide()})
}

// handleCreateListenKey hands out an opaque key. The simulator pushes
// every event to every /stream client, so the key is never checked.
func (s *SimState) handleCreateListenKey(w http.ResponseWriter, r *http.Request) {
	key := "sim-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	writeJSON(w, http.StatusOK, map[string]string{"listenKey": key})
}

func (s *SimState) handleListenKeyNoop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{})
}
