package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"tradepost/access"
	"tradepost/config"
	"tradepost/events"
	"tradepost/fees"
	"tradepost/market"
	"tradepost/observability/logging"
	"tradepost/observability/otel"
	"tradepost/rpc"
	"tradepost/storage"
	"tradepost/token"
)

const shutdownGrace = 10 * time.Second

// slogEmitter forwards engine lifecycle events to the structured logger.
type slogEmitter struct {
	logger *slog.Logger
}

func (e *slogEmitter) Emit(evt events.Event) {
	record, ok := evt.(*events.Record)
	if !ok || record == nil {
		return
	}
	attrs := make([]any, 0, len(record.Attributes)*2)
	for k, v := range record.Attributes {
		attrs = append(attrs, slog.String(k, v))
	}
	e.logger.Info(record.Type, attrs...)
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	var logOut io.Writer
	if strings.TrimSpace(cfg.LogFile) != "" {
		logOut = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
	}
	logger := logging.Setup("tradepostd", cfg.Env, logOut)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if strings.TrimSpace(cfg.OTLPEndpoint) != "" {
		shutdownTelemetry, err := otel.Init(ctx, otel.Config{
			ServiceName: "tradepostd",
			Environment: cfg.Env,
			Endpoint:    cfg.OTLPEndpoint,
			Insecure:    cfg.OTLPInsecure,
		})
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	gate, err := access.NewGate(
		config.Address(cfg.Admin),
		config.Address(cfg.DisputeHandler),
		config.Address(cfg.FeeAdmin),
		config.Address(cfg.Vault),
	)
	if err != nil {
		panic(fmt.Sprintf("Failed to build access gate: %v", err))
	}

	feeLedger, err := fees.NewLedger(db, cfg.FeeBps, cfg.MaxFeeBps)
	if err != nil {
		panic(fmt.Sprintf("Failed to build fee ledger: %v", err))
	}
	if err := feeLedger.Load(); err != nil {
		panic(fmt.Sprintf("Failed to load fee state: %v", err))
	}

	store := market.NewStore(db)
	if err := store.Load(); err != nil {
		panic(fmt.Sprintf("Failed to load listings: %v", err))
	}

	// The in-memory ledger stands in for a real settlement backend during
	// development. Balances do not survive restarts.
	settlement := token.NewMemoryLedger()

	engine, err := market.NewEngine(store, settlement, gate, feeLedger, config.Address(cfg.Vault), market.Params{
		ListingDuration:   cfg.ListingDuration,
		LockPeriod:        cfg.LockPeriod,
		AllowExpiredBuy:   cfg.AllowExpiredBuy,
		CollectDisputeFee: cfg.CollectDisputeFee,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to build market engine: %v", err))
	}
	engine.SetEmitter(&slogEmitter{logger: logger.With(slog.String("component", "market"))})

	server := rpc.NewServer(engine, cfg.RateLimitPerMinute)
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("RPC server listening", slog.String("address", cfg.RPCAddress))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("RPC server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("RPC server shutdown failed", slog.Any("error", err))
	}
	logger.Info("Shutdown complete")
}
