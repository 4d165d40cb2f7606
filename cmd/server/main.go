package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atomiqlabs/atomiq-chain-solana/service/config"
	"github.com/atomiqlabs/atomiq-chain-solana/service/cursor"
	"github.com/atomiqlabs/atomiq-chain-solana/service/decoder"
	"github.com/atomiqlabs/atomiq-chain-solana/service/events"
	"github.com/atomiqlabs/atomiq-chain-solana/service/metrics"
	natspkg "github.com/atomiqlabs/atomiq-chain-solana/service/nats"
	"github.com/atomiqlabs/atomiq-chain-solana/service/retry"
	"github.com/atomiqlabs/atomiq-chain-solana/service/server"
	"github.com/atomiqlabs/atomiq-chain-solana/service/solana"
	"github.com/gagliardetto/solana-go/rpc"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"program", cfg.ProgramID.String(),
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(nil)
	program := cfg.ProgramID.String()

	// Initialize program decoder
	dec, err := decoder.NewFromFile(cfg.ProgramID, cfg.IDLPath)
	if err != nil {
		logger.Error("failed to load IDL", "path", cfg.IDLPath, "error", err)
		os.Exit(1)
	}
	logger.Info("loaded IDL", "path", cfg.IDLPath, "events", dec.EventNames())

	// Premium RPC endpoints carry their API key in the URL.
	endpoint, err := solana.PickEndpoint(cfg.SolanaRPCURLs)
	if err != nil {
		logger.Error("failed to select RPC endpoint", "error", err)
		os.Exit(1)
	}
	commitment := rpc.CommitmentType(cfg.Commitment)
	solanaClient := solana.NewClient(solana.NewRPCClient(endpoint), solana.EndpointLabel(endpoint), m, logger,
		solana.WithCommitment(commitment),
		solana.WithRateLimit(cfg.RPCRateLimit, cfg.RPCRateBurst),
	)
	logger.Info("initialized solana RPC client", "endpoint", solana.EndpointLabel(endpoint), "commitment", cfg.Commitment)

	policy := retry.Policy{
		MaxRetries:  cfg.RetryMaxRetries,
		Delay:       cfg.RetryDelay,
		Exponential: cfg.RetryExponential,
	}
	rpcRetry := retry.New(policy, logger.With("component", "retry"),
		retry.WithOnRetry(func(attempt int, err error) {
			m.RecordRPCRetry("rpc", retryReason(err))
		}),
	)
	tickRetry := retry.New(policy, logger.With("component", "retry"),
		retry.WithOnRetry(func(attempt int, err error) {
			m.RecordRPCRetry("poll_tick", retryReason(err))
		}),
	)

	subscriber := solana.NewSubscriber(solana.SubscriberConfig{
		URL:        cfg.WebsocketURL(endpoint),
		Commitment: commitment,
		Retry:      rpcRetry,
		Metrics:    m,
	}, logger)
	defer subscriber.Close()

	// Initialize cursor persistence
	store, releaseStore, err := cursor.Open(ctx, cursor.OpenOptions{
		Backend:     cfg.CursorBackend,
		Program:     program,
		Dir:         cfg.CursorDir,
		DatabaseURL: cfg.DatabaseURL,
		PebblePath:  cfg.PebblePath,
		Metrics:     m,
	}, logger)
	if err != nil {
		logger.Error("failed to open cursor store", "backend", cfg.CursorBackend, "error", err)
		os.Exit(1)
	}
	defer releaseStore()

	// Wire the event pipeline
	dispatcher := events.NewDispatcher(program, cfg.EventKinds, m, logger)
	pipelineCfg := events.PipelineConfig{
		Dispatcher: dispatcher,
		Live: events.NewLiveSubscription(events.LiveConfig{
			Subscriber: subscriber,
			Fetcher:    solanaClient,
			Decoder:    dec,
			Dispatcher: dispatcher,
			Kinds:      cfg.EventKinds,
			Retry:      rpcRetry,
			Metrics:    m,
		}, logger),
	}
	if store != nil {
		pipelineCfg.Poller = events.NewPollingLoop(events.PollerConfig{
			Ledger:          solanaClient,
			Decoder:         dec,
			Dispatcher:      dispatcher,
			Store:           store,
			Interval:        cfg.PollInterval,
			BatchSize:       cfg.ScanBatchSize,
			MaxPagesPerTick: cfg.PollMaxPages,
			StopTimeout:     cfg.PollStopWait,
			Retry:           tickRetry,
			Metrics:         m,
		}, logger)
	} else {
		logger.Warn("cursor persistence disabled, polling loop will not run")
	}
	pipeline := events.NewPipeline(pipelineCfg, logger)

	pipeline.RegisterListener(events.ListenerFunc(func(ctx context.Context, batch []events.Event) error {
		for _, ev := range batch {
			logger.DebugContext(ctx, "event",
				"name", ev.Name,
				"signature", ev.TxID,
				"slot", ev.Slot,
			)
		}
		return nil
	}))

	// Republish to NATS when configured
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(ctx, cfg.NATSURL, natspkg.StreamOptions{}, m, logger)
		if err != nil {
			logger.Error("failed to initialize NATS publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		pipeline.RegisterListener(natspkg.NewListener(publisher))
	}

	if err := pipeline.Init(ctx, events.Options{DisablePolling: cfg.DisablePolling}); err != nil {
		logger.Error("failed to start event pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Stop()

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, program, pipeline, store, m, logger)

	logger.Info("server initialized, all dependencies ready",
		"solana_rpc", solana.EndpointLabel(endpoint),
		"cursor_backend", cfg.CursorBackend,
		"polling", pipelineCfg.Poller != nil && !cfg.DisablePolling,
		"nats_enabled", cfg.NATSURL != "",
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		pipeline.Stop()
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Producers first, so no batch is dispatched to a closing listener.
		pipeline.Stop()

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

func retryReason(err error) string {
	if solana.IsRateLimited(err) {
		return "rate_limited"
	}
	return "error"
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
