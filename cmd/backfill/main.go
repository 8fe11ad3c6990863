package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"perpsim/internal/marketdata"
	"perpsim/internal/sim"
	"perpsim/internal/store"
	"perpsim/pkg/cli"
	"perpsim/pkg/concurrency"
	"perpsim/pkg/logging"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	storePath := flag.String("store", "data/perpsim.db", "SQLite store path")
	sourceName := flag.String("source", "api", "Data source: api | files | synthetic")
	symbol := flag.String("symbol", "", "Symbol, e.g. BTCUSDT (required)")
	interval := flag.String("interval", "", "Kline interval, e.g. 1m, 1h, 4h, 1d (required)")
	start := flag.String("start", "", "Start date (YYYY-MM-DD, ISO datetime or epoch) (required)")
	end := flag.String("end", "", "End date (YYYY-MM-DD, ISO datetime or epoch) (required)")
	filesDir := flag.String("files-dir", "data/klines", "CSV directory (for -source files)")
	binanceURL := flag.String("binance-url", "", "Binance fapi base URL override (for -source api)")
	seed := flag.Int64("seed", 42, "Seed (for -source synthetic)")
	batchSize := flag.Int("batch", 2000, "Upsert batch size")
	initOnly := flag.Bool("init-only", false, "Create the schema and exit")
	logLevel := flag.String("log-level", "INFO", "Log level: DEBUG | INFO | WARN | ERROR")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("backfill version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	logger, err := logging.NewZapLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open creates the file and schema when missing.
	st, err := store.Open(*storePath, store.Options{}, logger)
	if err != nil {
		logger.Error("Failed to open store", "error", err, "path", *storePath)
		os.Exit(1)
	}
	defer st.Close()

	if *initOnly {
		logger.Info("Store schema ready", "path", *storePath)
		return
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

	var source marketdata.DataSource
	switch *sourceName {
	case "api":
		source = marketdata.NewBinanceSource(*binanceURL, logger)
	case "files":
		source = marketdata.NewFileSource(*filesDir)
	case "synthetic":
		source = marketdata.NewSyntheticSource(*seed)
	default:
		logger.Error("Unknown data source", "source", *sourceName)
		os.Exit(1)
	}

	logger.Info("Starting backfill",
		"symbol", sym, "interval", *interval,
		"start", *start, "end", *end, "source", *sourceName,
	)

	// Klines and funding come over separate endpoints; fetch them
	// concurrently.
	var klines []sim.Bar
	var funding []sim.FundingEvent
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		klines, err = source.GetKlines(gctx, sym, *interval, startMS, endMS, 0)
		return err
	})
	g.Go(func() error {
		var err error
		funding, err = source.GetFundingRates(gctx, sym, startMS, endMS)
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Error("Fetch failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Fetched window", "bars", len(klines), "funding_events", len(funding))

	if len(klines) == 0 {
		logger.Warn("No bars in window; nothing to write")
		return
	}

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "BackfillIngestPool",
		MaxWorkers:  2,
		MaxCapacity: 64,
	}, logger)

	var mu sync.Mutex
	var ingestErr error
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		if ingestErr == nil {
			ingestErr = err
		}
		mu.Unlock()
	}

	for i := 0; i < len(klines); i += *batchSize {
		batch := klines[i:min(i+*batchSize, len(klines))]
		if err := pool.Submit(func() {
			record(st.UpsertKlines(ctx, sym, *interval, batch))
		}); err != nil {
			record(err)
		}
	}
	if len(funding) > 0 {
		if err := pool.Submit(func() {
			record(st.UpsertFunding(ctx, sym, funding))
		}); err != nil {
			record(err)
		}
	}
	pool.Stop()

	if ingestErr != nil {
		logger.Error("Ingest failed", "error", ingestErr)
		os.Exit(1)
	}

	logger.Info("Backfill complete",
		"symbol", sym, "interval", *interval,
		"bars", len(klines), "funding_events", len(funding),
		"store", *storePath,
	)
}
