// Package gateway is the online face of the simulator: a Binance
// USDⓈ-M-shaped REST surface, the replay task driving the engine, and
// the WebSocket event fan-out. All engine access is serialized through
// one mutex; the engine itself stays single-threaded.
package gateway

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"perpsim/internal/core"
	"perpsim/internal/marketdata"
	"perpsim/internal/replay"
	"perpsim/internal/sim"
	"perpsim/internal/store"
	"perpsim/pkg/concurrency"
	"perpsim/pkg/liveserver"
	"perpsim/pkg/telemetry"
)

const runStrategy = "gateway/binance-sim"

// Config is the live simulation configuration: the replay window plus
// the engine knobs. Admin replay swaps it atomically.
type Config struct {
	Symbol     string
	Interval   string
	StartTS    int64
	EndTS      int64
	BarsPerSec float64

	StartingBalance float64
	MakerBps        float64
	TakerBps        float64
	SlippageBps     float64
	SpreadBps       float64
	FillModel       string
	Seed            int64

	// RecordRuns persists fills and equity through the run store.
	// Requires a store handle.
	RecordRuns bool
}

// SimState owns the engine, the replayer, and the per-session tags the
// account endpoints report. Route handlers only ever touch the engine
// through its mutex-guarded methods.
type SimState struct {
	mu  sync.Mutex
	cfg Config

	// baseCtx bounds the replay task's lifetime. Admin restarts derive
	// the new stream from it, not from the triggering request.
	baseCtx context.Context

	ex       *sim.Exchange
	replayer *replay.Replayer
	source   marketdata.DataSource
	hub      *liveserver.Hub
	log      core.ILogger

	st       *store.Store
	recorder *store.RunRecorder
	sinkPool *concurrency.WorkerPool

	funding   []sim.FundingEvent
	firstOpen float64

	marginType string
	dualSide   bool
	leverage   int

	running    bool
	stopReplay context.CancelFunc
	replayDone chan struct{}
}

// NewSimState builds the session: engine, replayer, and (when a store
// is supplied with RecordRuns) the first recorded run. The hub may not
// be nil; pass an unstarted hub in tests.
func NewSimState(ctx context.Context, cfg Config, source marketdata.DataSource, st *store.Store, hub *liveserver.Hub, logger core.ILogger) (*SimState, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg.Symbol = strings.ToUpper(cfg.Symbol)
	s := &SimState{
		cfg:        cfg,
		baseCtx:    ctx,
		source:     source,
		hub:        hub,
		st:         st,
		log:        core.OrDefault(logger).WithField("component", "sim_state"),
		marginType: "cross",
		dualSide:   true,
		leverage:   1,
	}
	s.replayer = replay.NewReplayer(source, replay.Params{
		Symbol:     cfg.Symbol,
		Interval:   cfg.Interval,
		StartTS:    cfg.StartTS,
		EndTS:      cfg.EndTS,
		BarsPerSec: cfg.BarsPerSec,
	}, logger)

	if st != nil && cfg.RecordRuns {
		s.sinkPool = concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "run-sink",
			MaxWorkers:  1, // preserves write order across bars
			MaxCapacity: 1024,
			NonBlocking: true,
		}, s.log)
	}

	if err := s.rebuildEngineLocked(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// rebuildEngineLocked replaces the engine: fresh account, fresh clock,
// and a new recorded run when runs are being persisted. Session tags
// (leverage, margin type, position mode) carry over.
func (s *SimState) rebuildEngineLocked(ctx context.Context) error {
	model, err := sim.FillModelByName(s.cfg.FillModel, s.cfg.Seed, s.cfg.SlippageBps, s.cfg.SpreadBps)
	if err != nil {
		return err
	}

	sinks := sim.MultiSink{metricsSink{symbol: s.cfg.Symbol}}
	if s.st != nil && s.cfg.RecordRuns {
		rec, err := s.st.OpenRun(ctx, runStrategy, s.runParams())
		if err != nil {
			return err
		}
		s.recorder = rec
		sinks = append(sinks, &asyncSink{pool: s.sinkPool, dst: rec, log: s.log})
	}

	s.ex = sim.NewExchange(sim.Options{
		StartingBalance: s.cfg.StartingBalance,
		MakerFeeBps:     s.cfg.MakerBps,
		TakerFeeBps:     s.cfg.TakerBps,
		FillModel:       model,
		Sink:            sinks,
		Logger:          s.log,
	})
	s.ex.SetLeverage(s.cfg.Symbol, s.leverage)
	s.ex.SetPositionMode(s.dualSide)
	s.ex.SetFundingEvents(s.cfg.Symbol, s.funding)
	return nil
}

func (s *SimState) runParams() map[string]string {
	return map[string]string{
		"symbol":             s.cfg.Symbol,
		"interval":           s.cfg.Interval,
		"start_ts":           formatInt(s.cfg.StartTS),
		"end_ts":             formatInt(s.cfg.EndTS),
		"speed_bars_per_sec": formatFloat(s.cfg.BarsPerSec),
		"starting_balance":   formatFloat(s.cfg.StartingBalance),
		"maker_bps":          formatFloat(s.cfg.MakerBps),
		"taker_bps":          formatFloat(s.cfg.TakerBps),
		"slippage_bps":       formatFloat(s.cfg.SlippageBps),
		"spread_bps":         formatFloat(s.cfg.SpreadBps),
		"fill_model":         s.cfg.FillModel,
		"seed":               formatInt(s.cfg.Seed),
	}
}

// loadLocked fills the replay buffer and the funding schedule, then
// seeds the engine's last price with the first bar open so market
// orders work before the first bar is processed.
func (s *SimState) loadLocked(ctx context.Context) error {
	if err := s.replayer.Load(ctx); err != nil {
		return err
	}
	funding, err := s.source.GetFundingRates(ctx, s.cfg.Symbol, s.cfg.StartTS, s.cfg.EndTS)
	if err != nil {
		// A window without funding history still replays; the engine
		// just settles nothing.
		s.log.Warn("funding history unavailable", "symbol", s.cfg.Symbol, "error", err)
		funding = nil
	}
	s.funding = funding
	s.ex.SetFundingEvents(s.cfg.Symbol, funding)

	if bars := s.replayer.Bars(); len(bars) > 0 {
		s.firstOpen = bars[0].Open
		s.ex.SetLastPrice(s.cfg.Symbol, bars[0].Open)
	}
	return nil
}

// Start loads the window and launches the replay task. ctx bounds the
// load only; the task itself lives on the state's base context. It is
// a no-op when the task is already live.
func (s *SimState) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.loadLocked(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(s.baseCtx)
	stream, err := s.replayer.Stream(runCtx)
	if err != nil {
		cancel()
		return err
	}

	s.running = true
	s.stopReplay = cancel
	done := make(chan struct{})
	s.replayDone = done

	s.log.Info("replay started",
		"symbol", s.cfg.Symbol, "interval", s.cfg.Interval,
		"bars", s.replayer.BarsCount(), "bars_per_sec", s.cfg.BarsPerSec)

	go func() {
		defer close(done)
		for bar := range stream {
			s.onBar(bar)
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.log.Info("replay stream drained", "symbol", s.cfg.Symbol)
	}()
	return nil
}

// Stop ends the replay task and waits for the in-flight bar to finish.
// Safe to call when nothing runs.
func (s *SimState) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.stopReplay
	done := s.replayDone
	s.mu.Unlock()

	s.replayer.Stop()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Close stops the replay task and drains the async sink queue.
func (s *SimState) Close() {
	s.Stop()
	if s.sinkPool != nil {
		s.sinkPool.Stop()
	}
}

// onBar advances the engine by one bar and fans the kline and
// mark-price events out to the hub.
func (s *SimState) onBar(bar sim.Bar) {
	started := time.Now()

	s.mu.Lock()
	err := s.ex.ProcessBar(&bar)
	symbol := s.cfg.Symbol
	interval := s.cfg.Interval
	equity := s.ex.Equity()
	open := len(s.ex.OpenOrders(symbol))
	s.mu.Unlock()

	if err != nil {
		s.log.Error("bar rejected", "error", err, "symbol", symbol, "open_time", bar.OpenTime)
		return
	}

	now := nowMS()
	s.hub.Broadcast(liveserver.NewMessage(
		liveserver.KlineStream(symbol, interval),
		NewKlineEvent(bar, symbol, interval, now)))
	s.hub.Broadcast(liveserver.NewMessage(
		liveserver.MarkPriceStream(symbol),
		NewMarkPriceEvent(symbol, bar.Close, now)))

	h := telemetry.GetGlobalMetrics()
	if h.BarsReplayedTotal != nil {
		h.BarsReplayedTotal.Add(context.Background(), 1)
	}
	if h.BarProcessSeconds != nil {
		h.BarProcessSeconds.Record(context.Background(), time.Since(started).Seconds())
	}
	h.SetEquity(symbol, equity)
	h.SetOpenOrders(symbol, int64(open))
	h.SetWSClients(int64(s.hub.ClientCount()))
}

// ReplayRequest is the admin reconfiguration payload. Nil fields keep
// their current value; any present field still resets the engine,
// because the clock-monotonic engine cannot rewind into a restarted
// window.
type ReplayRequest struct {
	Symbol          *string  `json:"symbol"`
	Interval        *string  `json:"interval"`
	StartTS         *int64   `json:"start_ts"`
	EndTS           *int64   `json:"end_ts"`
	BarsPerSec      *float64 `json:"speed_bars_per_sec"`
	StartingBalance *float64 `json:"starting_balance"`
	MakerBps        *float64 `json:"maker_bps"`
	TakerBps        *float64 `json:"taker_bps"`
	SlippageBps     *float64 `json:"slippage_bps"`
	SpreadBps       *float64 `json:"spread_bps"`
	FillModel       *string  `json:"fill_model"`
	Seed            *int64   `json:"seed"`
}

// Reconfigure applies an admin replay request: stop the task, merge
// the request into the config, rebuild the engine (new run id when
// recording), reload the window, restart.
func (s *SimState) Reconfigure(ctx context.Context, req ReplayRequest) (runID string, bars int, err error) {
	s.Stop()

	s.mu.Lock()
	if req.Symbol != nil {
		s.cfg.Symbol = strings.ToUpper(*req.Symbol)
	}
	if req.Interval != nil {
		s.cfg.Interval = *req.Interval
	}
	if req.StartTS != nil {
		s.cfg.StartTS = *req.StartTS
	}
	if req.EndTS != nil {
		s.cfg.EndTS = *req.EndTS
	}
	if req.BarsPerSec != nil {
		s.cfg.BarsPerSec = *req.BarsPerSec
	}
	if req.StartingBalance != nil {
		s.cfg.StartingBalance = *req.StartingBalance
	}
	if req.MakerBps != nil {
		s.cfg.MakerBps = *req.MakerBps
	}
	if req.TakerBps != nil {
		s.cfg.TakerBps = *req.TakerBps
	}
	if req.SlippageBps != nil {
		s.cfg.SlippageBps = *req.SlippageBps
	}
	if req.SpreadBps != nil {
		s.cfg.SpreadBps = *req.SpreadBps
	}
	if req.FillModel != nil {
		s.cfg.FillModel = *req.FillModel
	}
	if req.Seed != nil {
		s.cfg.Seed = *req.Seed
	}

	s.funding = nil
	s.firstOpen = 0
	if err := s.replayer.SetParams(replay.Params{
		Symbol:     s.cfg.Symbol,
		Interval:   s.cfg.Interval,
		StartTS:    s.cfg.StartTS,
		EndTS:      s.cfg.EndTS,
		BarsPerSec: s.cfg.BarsPerSec,
	}); err != nil {
		s.mu.Unlock()
		return "", 0, err
	}
	if err := s.rebuildEngineLocked(ctx); err != nil {
		s.mu.Unlock()
		return "", 0, err
	}
	runID = s.runIDLocked()
	s.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		return runID, 0, err
	}
	return runID, s.replayer.BarsCount(), nil
}

func (s *SimState) runIDLocked() string {
	if s.recorder != nil {
		return s.recorder.RunID()
	}
	return ""
}

func nowMS() int64 { return time.Now().UnixMilli() }

// metricsSink forwards engine fill and equity traffic into the OTel
// instruments. It never fails, so it cannot perturb a run.
type metricsSink struct {
	symbol string
}

func (m metricsSink) RecordFill(rec sim.FillRecord) error {
	h := telemetry.GetGlobalMetrics()
	if h.FillsTotal != nil {
		liq := "taker"
		if rec.IsMaker {
			liq = "maker"
		}
		h.FillsTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("liquidity", liq)))
	}
	return nil
}

func (m metricsSink) RecordEquity(e sim.EquitySample) error {
	telemetry.GetGlobalMetrics().SetEquity(m.symbol, e.Equity)
	return nil
}

// asyncSink hands persistence off to a single-worker pool so the bar
// loop never blocks on SQLite. A full queue drops the write, which the
// engine counts as a sink error.
type asyncSink struct {
	pool *concurrency.WorkerPool
	dst  sim.RunSink
	log  core.ILogger
}

func (a *asyncSink) RecordFill(rec sim.FillRecord) error {
	return a.pool.Submit(func() {
		if err := a.dst.RecordFill(rec); err != nil {
			a.countError()
			a.log.Warn("async fill write failed", "error", err, "symbol", rec.Symbol)
		}
	})
}

func (a *asyncSink) RecordEquity(e sim.EquitySample) error {
	return a.pool.Submit(func() {
		if err := a.dst.RecordEquity(e); err != nil {
			a.countError()
			a.log.Warn("async equity write failed", "error", err)
		}
	})
}

func (a *asyncSink) countError() {
	h := telemetry.GetGlobalMetrics()
	if h.SinkErrorsTotal != nil {
		h.SinkErrorsTotal.Add(context.Background(), 1)
	}
}
