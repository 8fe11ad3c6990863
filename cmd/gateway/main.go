package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"perpsim/internal/config"
	"perpsim/internal/core"
	"perpsim/internal/gateway"
	"perpsim/internal/marketdata"
	"perpsim/internal/store"
	"perpsim/pkg/liveserver"
	"perpsim/pkg/logging"
	"perpsim/pkg/telemetry"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "Path to configuration file")
	port := flag.String("port", "", "Server port (overrides config)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gateway version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *port != "" {
		cfg.Server.Port = *port
		if !strings.Contains(cfg.Server.Port, ":") {
			cfg.Server.Port = ":" + cfg.Server.Port
		}
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting gateway",
		"version", version,
		"symbol", cfg.Replay.Symbol,
		"interval", cfg.Replay.Interval,
		"source", cfg.Data.Source,
		"port", cfg.Server.Port,
	)

	tel, err := telemetry.Setup("perpsim-gateway")
	if err != nil {
		logger.Warn("Failed to initialize metrics exporter", "error", err)
	} else {
		logger.Info("Metrics exporter initialized")
		defer func() {
			shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shCancel()
			if err := tel.Shutdown(shCtx); err != nil {
				logger.Warn("Telemetry shutdown error", "error", err)
			}
		}()
	}

	var st *store.Store
	if cfg.Data.StorePath != "" {
		st, err = store.Open(cfg.Data.StorePath, store.Options{}, logger)
		if err != nil {
			logger.Error("Failed to open store", "error", err, "path", cfg.Data.StorePath)
			os.Exit(1)
		}
		defer st.Close()
	}

	source, err := buildSource(cfg, st, logger)
	if err != nil {
		logger.Error("Failed to build data source", "error", err)
		os.Exit(1)
	}

	startTS, err := marketdata.ToMS(cfg.Replay.Start)
	if err != nil {
		logger.Error("Invalid replay.start", "error", err, "value", cfg.Replay.Start)
		os.Exit(1)
	}
	endTS, err := marketdata.ToMS(cfg.Replay.End)
	if err != nil {
		logger.Error("Invalid replay.end", "error", err, "value", cfg.Replay.End)
		os.Exit(1)
	}

	gwCfg := gateway.Config{
		Symbol:          cfg.Replay.Symbol,
		Interval:        cfg.Replay.Interval,
		StartTS:         startTS,
		EndTS:           endTS,
		BarsPerSec:      cfg.Replay.BarsPerSec,
		StartingBalance: cfg.Engine.StartingBalance,
		MakerBps:        cfg.Engine.MakerBps,
		TakerBps:        cfg.Engine.TakerBps,
		SlippageBps:     cfg.Engine.SlippageBps,
		SpreadBps:       cfg.Engine.SpreadBps,
		FillModel:       cfg.Engine.FillModel,
		Seed:            cfg.Engine.Seed,
		RecordRuns:      cfg.Data.RecordRuns,
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := liveserver.NewHub(logger)
	go hub.Run(ctx)
	logger.Info("WebSocket hub started")

	state, err := gateway.NewSimState(ctx, gwCfg, source, st, hub, logger)
	if err != nil {
		logger.Error("Failed to build simulation", "error", err)
		os.Exit(1)
	}

	if err := state.Start(ctx); err != nil {
		logger.Error("Failed to start replay", "error", err)
		os.Exit(1)
	}
	logger.Info("Replay started",
		"symbol", state.Symbol(),
		"interval", state.Interval(),
		"bars", state.BarsCount(),
		"bars_per_sec", cfg.Replay.BarsPerSec,
		"run_id", state.RunID(),
	)

	api := gateway.Router(state, string(cfg.Server.AdminToken))

	server := liveserver.NewServer(hub, logger, api, cfg.Server.AllowedOrigins)
	server.SetProduction(cfg.Server.Production)
	server.SetMaxConnections(cfg.Server.MaxConnections)
	server.SetRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst)

	// Start server in background
	go func() {
		logger.Info("Starting HTTP/WebSocket server", "port", cfg.Server.Port)
		if err := server.Start(ctx, cfg.Server.Port); err != nil {
			logger.Error("Server error", "error", err)
			cancel()
		}
	}()

	logger.Info("gateway is running",
		"rest_url", fmt.Sprintf("http://localhost%s/fapi/v1", cfg.Server.Port),
		"websocket_url", fmt.Sprintf("ws://localhost%s/stream", cfg.Server.Port),
		"health_url", fmt.Sprintf("http://localhost%s/health", cfg.Server.Port),
		"metrics_url", fmt.Sprintf("http://localhost%s/metrics", cfg.Server.Port),
	)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal, gracefully shutting down...")
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", "error", err)
	}

	state.Close()
	logger.Info("gateway stopped")
}

// buildSource resolves the configured bar source. The sqlite source is
// the store handle itself, which serves klines and funding directly.
func buildSource(cfg *config.Config, st *store.Store, logger core.ILogger) (marketdata.DataSource, error) {
	switch cfg.Data.Source {
	case "synthetic":
		return marketdata.NewSyntheticSource(cfg.Engine.Seed), nil
	case "api":
		return marketdata.NewBinanceSource(cfg.Data.BinanceBaseURL, logger), nil
	case "files":
		return marketdata.NewFileSource(cfg.Data.FilesDir), nil
	case "sqlite":
		if st == nil {
			return nil, fmt.Errorf("sqlite source requires data.store_path")
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown data source %q", cfg.Data.Source)
	}
}
