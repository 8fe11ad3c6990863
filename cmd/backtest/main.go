package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"perpsim/internal/backtest"
	"perpsim/internal/marketdata"
	"perpsim/internal/sim"
	"perpsim/internal/store"
	"perpsim/internal/strategy"
	"perpsim/pkg/cli"
	"perpsim/pkg/logging"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	symbol := flag.String("symbol", "", "Symbol, e.g. BTCUSDT (required)")
	interval := flag.String("interval", "", "Kline interval, e.g. 1h (required)")
	start := flag.String("start", "", "Start date (YYYY-MM-DD, ISO datetime or epoch) (required)")
	end := flag.String("end", "", "End date (YYYY-MM-DD, ISO datetime or epoch) (required)")
	sourceName := flag.String("source", "api", "Data source: api | files | sqlite | synthetic")
	storePath := flag.String("store", "data/perpsim.db", "SQLite store path (for -source sqlite and -record)")
	filesDir := flag.String("files-dir", "data/klines", "CSV directory (for -source files)")
	binanceURL := flag.String("binance-url", "", "Binance fapi base URL override (for -source api)")
	fillModel := flag.String("fill-model", "ohlc_up", "Fill model: ohlc_up | ohlc_down | random | book")
	seed := flag.Int64("seed", 42, "Random seed (for the random fill model)")
	makerBps := flag.Float64("maker-bps", 2.0, "Maker fee in bps")
	takerBps := flag.Float64("taker-bps", 4.0, "Taker fee in bps")
	slippageBps := flag.Float64("slippage-bps", 0.0, "Taker slippage in bps")
	spreadBps := flag.Float64("spread-bps", 0.0, "Half-spread in bps (for the book fill model)")
	startingBalance := flag.Float64("starting-balance", 100_000, "Starting USDT balance")
	strategyName := flag.String("strategy", "", "Strategy name (e.g. sma_cross); empty replays without trading")
	strategyParams := flag.String("strategy-params", "", "Strategy parameters as k=v,k=v")
	outDir := flag.String("out", "reports", "Report output directory")
	record := flag.Bool("record", false, "Persist the run (fills, equity, summary) into the store")
	logLevel := flag.String("log-level", "INFO", "Log level: DEBUG | INFO | WARN | ERROR")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("backtest version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	for name, v := range map[string]*string{
		"symbol": symbol, "interval": interval, "start": start, "end": end,
	} {
		if *v == "" {
			fmt.Fprintf(os.Stderr, "missing required flag -%s\n\n", name)
			flag.Usage()
			os.Exit(2)
		}
	}

	logger, err := logging.NewZapLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sym := strings.ToUpper(*symbol)
	if err := cli.ValidateSymbol(sym); err != nil {
		logger.Error("Invalid -symbol", "error", err)
		os.Exit(1)
	}

	startMS, err := marketdata.ToMS(*start)
	if err != nil {
		logger.Error("Invalid -start", "error", err, "value", *start)
		os.Exit(1)
	}
	endMS, err := marketdata.ToMS(*end)
	if err != nil {
		logger.Error("Invalid -end", "error", err, "value", *end)
		os.Exit(1)
	}

	params := parseStrategyParams(*strategyParams)

	var st *store.Store
	if *sourceName == "sqlite" || *record {
		st, err = store.Open(*storePath, store.Options{}, logger)
		if err != nil {
			logger.Error("Failed to open store", "error", err, "path", *storePath)
			os.Exit(1)
		}
		defer st.Close()
	}

	var source marketdata.DataSource
	switch *sourceName {
	case "api":
		source = marketdata.NewBinanceSource(*binanceURL, logger)
	case "files":
		source = marketdata.NewFileSource(*filesDir)
	case "sqlite":
		source = st
	case "synthetic":
		source = marketdata.NewSyntheticSource(*seed)
	default:
		logger.Error("Unknown data source", "source", *sourceName)
		os.Exit(1)
	}

	cfg := backtest.Config{
		Symbol:          sym,
		Interval:        *interval,
		Start:           *start,
		End:             *end,
		StartMS:         startMS,
		EndMS:           endMS,
		DataSourceName:  *sourceName,
		StorePath:       *storePath,
		FillModel:       *fillModel,
		Seed:            *seed,
		SlippageBps:     *slippageBps,
		SpreadBps:       *spreadBps,
		MakerBps:        *makerBps,
		TakerBps:        *takerBps,
		StartingBalance: *startingBalance,
		Strategy:        *strategyName,
		StrategyParams:  params,
	}
	if *sourceName != "sqlite" && !*record {
		cfg.StorePath = ""
	}

	// The recorder shares the bar-serving store handle so the run and
	// its source data live in one database.
	var extra sim.RunSink
	var rec *store.RunRecorder
	if *record {
		rec, err = st.OpenRun(ctx, *strategyName, params)
		if err != nil {
			logger.Error("Failed to open run", "error", err)
			os.Exit(1)
		}
		extra = rec
	}

	runner := backtest.NewRunner(cfg, source, extra, logger)
	res, err := runner.Run(ctx)
	if err != nil {
		logger.Error("Backtest failed", "error", err)
		os.Exit(1)
	}

	if err := backtest.WriteReports(*outDir, res); err != nil {
		logger.Error("Failed to write reports", "error", err, "dir", *outDir)
		os.Exit(1)
	}

	if rec != nil {
		summaryJSON, err := json.Marshal(res.Summary)
		if err == nil {
			err = rec.SaveSummary(ctx, summaryJSON)
		}
		if err != nil {
			logger.Error("Failed to save run summary", "error", err, "run_id", rec.RunID())
			os.Exit(1)
		}
	}

	s := res.Summary
	fmt.Printf("Trades: %d, Win rate: %.2f%%, Profit Factor: %s\n",
		s.Trades, s.WinRate, fmtPtr(s.ProfitFactor))
	if s.Sharpe != nil || s.Sortino != nil {
		fmt.Printf("Sharpe: %s, Sortino: %s\n", fmtPtr(s.Sharpe), fmtPtr(s.Sortino))
	}
	fmt.Printf("Max Drawdown: %.2f%%, Avg Weekly Return: %.2f%%, Avg Monthly Return: %.2f%%\n",
		s.MaxDrawdown, s.AverageWeeklyReturn, s.AverageMonthlyReturn)
	fmt.Printf("Reports written to %s\n", *outDir)
	if rec != nil {
		fmt.Printf("Run ID: %s\n", rec.RunID())
	}
}

func fmtPtr(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}

// parseStrategyParams turns "fast=10,slow=30" into strategy params.
// Entries without '=' are ignored.
func parseStrategyParams(s string) strategy.Params {
	params := strategy.Params{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		params[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return params
}
