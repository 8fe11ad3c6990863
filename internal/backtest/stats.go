package backtest

import (
	"math"
	"sort"

	"perpsim/internal/sim"
	"perpsim/internal/strategy"
)

const msPerDay = 86_400_000

// Summary is the run report: trade statistics plus the configuration
// that produced them. It serializes to summary.json and into the run
// store. Sharpe, Sortino and profit factor are pointers because they
// are undefined on short or loss-free runs; they serialize as null.
type Summary struct {
	Trades               int      `json:"trades"`
	WinRate              float64  `json:"win_rate"`
	ProfitFactor         *float64 `json:"profit_factor"`
	Sharpe               *float64 `json:"sharpe"`
	Sortino              *float64 `json:"sortino"`
	MaxDrawdown          float64  `json:"max_drawdown"`
	AverageWeeklyReturn  float64  `json:"average_weekly_return"`
	AverageMonthlyReturn float64  `json:"average_monthly_return"`
	StartingBalance      float64  `json:"starting_balance"`
	EndingEquity         float64  `json:"ending_equity"`

	Symbol         string          `json:"symbol"`
	Interval       string          `json:"interval"`
	Start          string          `json:"start"`
	End            string          `json:"end"`
	DataSource     string          `json:"data_source"`
	StorePath      string          `json:"store_path,omitempty"`
	FillModel      string          `json:"fill_model"`
	MakerBps       float64         `json:"maker_bps"`
	TakerBps       float64         `json:"taker_bps"`
	SlippageBps    float64         `json:"slippage_bps"`
	Seed           int64           `json:"seed"`
	Strategy       string          `json:"strategy"`
	StrategyParams strategy.Params `json:"strategy_params"`
}

// Summarize computes the statistics block of a summary from the fill
// stream and the equity curve. Configuration echo fields are left for
// the caller.
func Summarize(fills []sim.FillRecord, equity []sim.EquitySample, startMS, endMS int64, startingBalance float64) Summary {
	closed := closedTradePnLs(fills)

	wins := 0
	grossProfit, grossLoss := 0.0, 0.0
	for _, pnl := range closed {
		if pnl > 1e-9 {
			wins++
		}
		if pnl > 0 {
			grossProfit += pnl
		} else {
			grossLoss += pnl
		}
	}

	s := Summary{
		Trades:          len(closed),
		StartingBalance: startingBalance,
		EndingEquity:    startingBalance,
		MaxDrawdown:     maxDrawdown(equity) * 100.0,
	}
	if len(closed) > 0 {
		s.WinRate = float64(wins) / float64(len(closed)) * 100.0
	}
	if grossLoss != 0 {
		pf := grossProfit / math.Abs(grossLoss)
		s.ProfitFactor = &pf
	}
	if len(equity) > 0 {
		s.EndingEquity = equity[len(equity)-1].Equity
	}

	s.Sharpe, s.Sortino = sharpeSortino(dailyReturns(dailyCloses(equity)))
	s.AverageWeeklyReturn, s.AverageMonthlyReturn = compoundedReturns(equity, startMS, endMS)
	return s
}

// closedTradePnLs segments the fill stream into closed trades. A trade
// opens when the position leaves zero and closes when it returns to
// zero; a sign flip closes the running trade at its cumulative pnl and
// immediately opens the next one.
func closedTradePnLs(fills []sim.FillRecord) []float64 {
	var closed []float64
	var posQty, cur float64
	active := false

	for _, f := range fills {
		prevSign := sign(posQty)
		posQty += f.Qty * f.Side.Sign()
		newSign := sign(posQty)

		if !active && posQty != 0 {
			active = true
			cur = 0
		}
		if active {
			cur += f.RealizedPnL
		}
		switch {
		case active && posQty == 0:
			active = false
			closed = append(closed, cur)
			cur = 0
		case active && prevSign != 0 && newSign != 0 && prevSign != newSign:
			closed = append(closed, cur)
			cur = 0
		}
	}
	return closed
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

// dailyCloses reduces the equity curve to the last observation of each
// UTC day, in day order.
func dailyCloses(equity []sim.EquitySample) []float64 {
	byDay := make(map[int64]float64)
	for _, s := range equity {
		byDay[s.TsMS/msPerDay] = s.Equity
	}
	days := make([]int64, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	closes := make([]float64, len(days))
	for i, d := range days {
		closes[i] = byDay[d]
	}
	return closes
}

func dailyReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	rets := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		rets = append(rets, closes[i]/closes[i-1]-1.0)
	}
	return rets
}

// sharpeSortino annualizes daily returns by sqrt(365). The deviation is
// the population one; Sortino's downside uses the full sample count in
// the denominator. Fewer than two returns defines neither.
func sharpeSortino(returns []float64) (sharpe, sortino *float64) {
	if len(returns) < 2 {
		return nil, nil
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var varsum, downsum float64
	for _, r := range returns {
		d := r - mean
		varsum += d * d
		if r < 0 {
			downsum += r * r
		}
	}
	std := math.Sqrt(varsum / float64(len(returns)))
	downStd := math.Sqrt(downsum / float64(len(returns)))

	ann := math.Sqrt(365)
	if std > 0 {
		v := mean / std * ann
		sharpe = &v
	}
	if downStd > 0 {
		v := mean / downStd * ann
		sortino = &v
	}
	return sharpe, sortino
}

// maxDrawdown is the largest peak-to-trough equity decline, as a
// fraction of the peak.
func maxDrawdown(equity []sim.EquitySample) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0].Equity
	maxDD := 0.0
	for _, s := range equity {
		if s.Equity > peak {
			peak = s.Equity
		}
		if peak > 0 {
			if dd := (peak - s.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// compoundedReturns derives average weekly and monthly returns (in
// percent) from the total return over the run, compounded through a
// per-day rate. Degenerate windows and non-positive equity yield zeros
// so the summary stays finite.
func compoundedReturns(equity []sim.EquitySample, startMS, endMS int64) (weeklyPct, monthlyPct float64) {
	if endMS <= startMS || len(equity) == 0 {
		return 0, 0
	}
	first := equity[0].Equity
	last := equity[len(equity)-1].Equity
	if first <= 0 {
		return 0, 0
	}
	totalDays := float64(endMS-startMS) / float64(msPerDay)
	totalReturn := last/first - 1.0
	if 1.0+totalReturn < 0 {
		return 0, 0
	}
	dailyRet := math.Pow(1.0+totalReturn, 1.0/totalDays) - 1.0
	weeklyPct = (math.Pow(1.0+dailyRet, 7) - 1.0) * 100.0
	monthlyPct = (math.Pow(1.0+dailyRet, 30) - 1.0) * 100.0
	return weeklyPct, monthlyPct
}
