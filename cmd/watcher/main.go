package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"leverage-sync/internal/chain"
	"leverage-sync/internal/codec"
	"leverage-sync/internal/config"
	"leverage-sync/internal/engine"
	"leverage-sync/internal/notify"
	"leverage-sync/internal/observability"
	chstore "leverage-sync/internal/storage/clickhouse"
	"leverage-sync/internal/storage/migrations"
	pgstore "leverage-sync/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	wsEndpoint := flag.String("ws-endpoint", "", "WebSocket endpoint (overrides config)")
	rpcEndpoint := flag.String("rpc-endpoint", "", "JSON-RPC HTTP endpoint (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "Metrics and health HTTP address (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	console := flag.Bool("console", false, "Print notifications as tables to stdout")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Flags override the file only when given.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "ws-endpoint":
			cfg.Chain.WSEndpoint = *wsEndpoint
		case "rpc-endpoint":
			cfg.Chain.RPCEndpoint = *rpcEndpoint
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "log-level":
			cfg.Log.Level = *logLevel
		case "console":
			cfg.Sinks.Console = *console
		}
	})

	logger := observability.NewLoggerWithLevel("watcher", observability.ParseLogLevel(cfg.Log.Level))

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
		cancel()

		select {
		case sig := <-sigCh:
			logger.Warn().Str("signal", sig.String()).Msg("second signal, forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error().Msg("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, logger)

	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("watcher failed")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	level := logger.GetLevel()
	component := func(name string) zerolog.Logger {
		return observability.NewLoggerWithLevel(name, level)
	}

	metrics := observability.NewMetrics("", prometheus.DefaultRegisterer)
	health := observability.NewHealthChecker()

	srv := startHTTP(cfg.MetricsAddr, health, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	rpc := chain.NewHTTPClient(cfg.Chain.RPCEndpoint,
		chain.WithRateLimit(cfg.Chain.RPCRateLimit, 5),
		chain.WithLogger(component("rpc")),
		chain.WithMetrics(metrics),
	)

	wsCfg := chain.DefaultWSConfig()
	wsCfg.ReconnectDelay = cfg.Reconnect.BaseDelay
	wsCfg.MaxReconnectDelay = cfg.Reconnect.MaxDelay
	ws, err := chain.NewWSClient(ctx, cfg.Chain.WSEndpoint, &wsCfg,
		chain.WithWSLogger(component("ws")),
		chain.WithWSMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("connect websocket: %w", err)
	}

	oracle, trading := cfg.OracleAddress(), cfg.TradingAddress()
	feeds := codec.NewFeedTable(cfg.Feeds...)

	eng := engine.New(engine.Options{
		WS:                  ws,
		Fetcher:             rpc,
		Reader:              chain.NewContractReader(rpc, trading),
		Decoder:             codec.New(feeds, oracle, trading),
		Addresses:           []common.Address{oracle, trading},
		Feeds:               feeds.Names(),
		Traders:             cfg.TraderAddresses(),
		AutoTrack:           *cfg.Engine.AutoTrack,
		DedupCapacity:       cfg.Engine.DedupCapacity,
		HistoryCapacity:     cfg.Engine.HistoryCapacity,
		RecentEvents:        cfg.Engine.RecentEvents,
		ReconcileInterval:   cfg.Reconcile.Interval,
		DivergenceThreshold: cfg.Reconcile.DivergenceThreshold,
		Health:              health,
		Logger:              component("engine"),
		Metrics:             metrics,
	})

	sinks, closeSinks, err := buildSinks(ctx, cfg, component, metrics)
	if err != nil {
		_ = eng.Close()
		return err
	}
	defer closeSinks()

	// Sinks drain until the bus closes, even after ctx is cancelled.
	waitSinks, err := notify.RunSinks(context.WithoutCancel(ctx), eng.Bus(), 1024, component("sinks"), sinks...)
	if err != nil {
		_ = eng.Close()
		return fmt.Errorf("start sinks: %w", err)
	}

	if err := eng.Start(ctx); err != nil {
		_ = eng.Close()
		waitSinks()
		return err
	}
	logger.Info().
		Int("feeds", len(cfg.Feeds)).
		Int("traders", len(cfg.Traders)).
		Int("sinks", len(sinks)).
		Msg("watcher running")

	<-ctx.Done()

	if err := eng.Close(); err != nil {
		logger.Warn().Err(err).Msg("close engine")
	}
	waitSinks()
	return ctx.Err()
}

// buildSinks connects every configured sink. The returned function
// releases their connections.
func buildSinks(ctx context.Context, cfg *config.Config, component func(string) zerolog.Logger, metrics *observability.Metrics) ([]notify.Sink, func(), error) {
	var (
		sinks   []notify.Sink
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Sinks.Console {
		sinks = append(sinks, notify.NewConsole(time.Second))
	}

	if cfg.Sinks.NATSURL != "" {
		log := component("nats")
		nc, js, err := notify.ConnectNATS(cfg.Sinks.NATSURL, log)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = nc.Drain() })
		if err := notify.EnsureStream(ctx, js, notify.DefaultStreamName, notify.DefaultSubjectPrefix); err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, notify.NewNATSPublisher(js, notify.DefaultSubjectPrefix, log, metrics))
	}

	if cfg.Sinks.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.Sinks.PostgresDSN, pgstore.PoolOptions{MaxConns: 4})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, pool.Close)
		ms, err := migrations.Postgres()
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		ran, err := pool.Migrate(ctx, ms)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		journalLog := component("journal")
		journalLog.Info().Ints("applied", ran).Msg("journal schema up to date")
		sinks = append(sinks, notify.NewJournalSink(pgstore.NewNotificationJournal(pool), component("journal"), metrics))
	}

	if cfg.Sinks.ClickHouseDSN != "" {
		ms, err := migrations.ClickHouse()
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		conn, err := chstore.OpenArchive(ctx, cfg.Sinks.ClickHouseDSN, ms)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open tick archive: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		sinks = append(sinks, notify.NewArchiveSink(chstore.NewTickArchive(conn), 500, 5*time.Second, component("archive"), metrics))
	}

	return sinks, closeAll, nil
}

func startHTTP(addr string, health *observability.HealthChecker, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/healthz", health.LivenessHandler)
	mux.HandleFunc("/readyz", health.ReadinessHandler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", addr).Msg("serving metrics and health")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	return srv
}
