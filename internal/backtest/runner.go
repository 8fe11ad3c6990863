// Package backtest drives batch simulations: it loads a window of
// market data, replays it through the exchange engine with an optional
// strategy attached, and reduces the outcome to summary statistics and
// report artifacts.
package backtest

import (
	"context"

	"perpsim/internal/core"
	"perpsim/internal/marketdata"
	"perpsim/internal/sim"
	"perpsim/internal/strategy"
)

// Config describes one batch run. Start and End are the raw strings
// given by the operator and are only echoed into the summary; StartMS
// and EndMS drive the data window.
type Config struct {
	Symbol   string
	Interval string
	Start    string
	End      string
	StartMS  int64
	EndMS    int64

	DataSourceName string
	StorePath      string

	FillModel   string
	Seed        int64
	SlippageBps float64
	SpreadBps   float64
	MakerBps    float64
	TakerBps    float64

	StartingBalance float64

	Strategy       string
	StrategyParams strategy.Params
}

// Result carries everything a run produced.
type Result struct {
	Bars       int
	Fills      []sim.FillRecord
	Equity     []sim.EquitySample
	Summary    Summary
	SinkErrors int64
}

// Runner executes batch runs against one data source. An optional
// extra sink (typically a store run recorder) receives every fill and
// equity sample alongside the in-memory collection.
type Runner struct {
	cfg    Config
	source marketdata.DataSource
	extra  sim.RunSink
	log    core.ILogger
}

func NewRunner(cfg Config, source marketdata.DataSource, extra sim.RunSink, logger core.ILogger) *Runner {
	return &Runner{
		cfg:    cfg,
		source: source,
		extra:  extra,
		log:    core.OrDefault(logger).WithField("component", "backtest"),
	}
}

// Run loads the window, replays it bar by bar and summarizes. The
// context aborts the replay between bars.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	cfg := r.cfg

	klines, err := r.source.GetKlines(ctx, cfg.Symbol, cfg.Interval, cfg.StartMS, cfg.EndMS, 0)
	if err != nil {
		return nil, err
	}
	funding, err := r.source.GetFundingRates(ctx, cfg.Symbol, cfg.StartMS, cfg.EndMS)
	if err != nil {
		return nil, err
	}
	r.log.Info("data window loaded",
		"symbol", cfg.Symbol, "interval", cfg.Interval,
		"bars", len(klines), "funding_events", len(funding))

	model, err := sim.FillModelByName(cfg.FillModel, cfg.Seed, cfg.SlippageBps, cfg.SpreadBps)
	if err != nil {
		return nil, err
	}

	mem := &sim.MemorySink{}
	var sink sim.RunSink = mem
	if r.extra != nil {
		sink = sim.MultiSink{mem, r.extra}
	}

	ex := sim.NewExchange(sim.Options{
		StartingBalance: cfg.StartingBalance,
		MakerFeeBps:     cfg.MakerBps,
		TakerFeeBps:     cfg.TakerBps,
		FillModel:       model,
		Sink:            sink,
		Logger:          r.log,
	})
	ex.SetFundingEvents(cfg.Symbol, funding)

	var strat strategy.Strategy
	if cfg.Strategy != "" {
		strat, err = strategy.New(cfg.Strategy, ex, cfg.Symbol, cfg.Interval, cfg.StrategyParams)
		if err != nil {
			return nil, err
		}
		ex.SetBarOpenHook(func(bar *sim.Bar) error {
			return strat.OnBar(ctx, bar)
		})
		if err := strat.OnStart(ctx); err != nil {
			return nil, err
		}
	}

	bars := 0
	for i := range klines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := ex.ProcessBar(&klines[i]); err != nil {
			return nil, err
		}
		bars++
	}

	if strat != nil {
		if err := strat.OnFinish(ctx); err != nil {
			return nil, err
		}
	}

	summary := Summarize(mem.Fills, mem.Equity, cfg.StartMS, cfg.EndMS, ex.Account().StartingBalance)
	summary.Symbol = cfg.Symbol
	summary.Interval = cfg.Interval
	summary.Start = cfg.Start
	summary.End = cfg.End
	summary.DataSource = cfg.DataSourceName
	summary.StorePath = cfg.StorePath
	summary.FillModel = cfg.FillModel
	summary.MakerBps = cfg.MakerBps
	summary.TakerBps = cfg.TakerBps
	summary.SlippageBps = cfg.SlippageBps
	summary.Seed = cfg.Seed
	summary.Strategy = cfg.Strategy
	summary.StrategyParams = cfg.StrategyParams

	r.log.Info("run complete",
		"bars", bars, "fills", len(mem.Fills), "trades", summary.Trades,
		"win_rate", summary.WinRate, "ending_equity", summary.EndingEquity,
		"sink_errors", ex.SinkErrors())

	return &Result{
		Bars:       bars,
		Fills:      mem.Fills,
		Equity:     mem.Equity,
		Summary:    summary,
		SinkErrors: ex.SinkErrors(),
	}, nil
}
