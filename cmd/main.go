package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"github.com/okian/ladder/internal/adapters/http/api"
	"github.com/okian/ladder/internal/adapters/mq/natsub"
	"github.com/okian/ladder/internal/adapters/ranking"
	"github.com/okian/ladder/internal/adapters/repository"
	"github.com/okian/ladder/internal/adapters/repository/pgstore"
	app "github.com/okian/ladder/internal/app"
	"github.com/okian/ladder/internal/config"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// System metrics are collected by updateSystemMetrics.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newCLI().RunContext(ctx, os.Args); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		stop()
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "ladder",
		Usage: "leaderboard snapshot ingestion and queries",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API, the ingestion workers and the optional NATS subscriber",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "override the configured listen address"},
				},
				Action: serve,
			},
			{
				Name:  "ingest",
				Usage: "fetch and store one snapshot of a region",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "region", Usage: "leaderboard division, e.g. europe", Required: true},
				},
				Action: ingestOnce,
			},
		},
	}
}

// setup loads configuration and initializes the global logger and metrics.
func setup(ctx context.Context) (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithLevel(cfg.LogLevel)); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	labels, err := cfg.ConstLabels()
	if err != nil {
		return nil, nil, err
	}
	metrics.Configure(
		metrics.WithNamespace(cfg.MetricsNamespace),
		metrics.WithSubsystem(cfg.MetricsSubsystem),
		metrics.WithConstLabels(labels),
	)
	return cfg, logger.Get(), nil
}

func openGateway(ctx context.Context, cfg *config.Config) (repository.Gateway, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		st := pgstore.Open(cfg.DatabaseDSN)
		if err := st.EnsureSchema(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("prepare schema: %w", err)
		}
		return st, nil
	default:
		return repository.NewMemStore(repository.WithMaxTxEntities(cfg.MaxTxEntities)), nil
	}
}

func newService(ctx context.Context, cfg *config.Config, log logger.Logger) (*app.Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	gw, err := openGateway(ctx, cfg)
	if err != nil {
		return nil, err
	}
	fetcher := ranking.New(cfg.RankingURL,
		ranking.WithTimeout(cfg.FetchTimeout()),
		ranking.WithRateLimit(cfg.FetchRatePerSec),
		ranking.WithLogger(log.Named("ranking")),
	)
	return app.New(
		app.WithLogger(log),
		app.WithGateway(gw),
		app.WithFetcher(fetcher),
		app.WithLocation(loc),
		app.WithChunkSize(cfg.ChunkSize),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithMaxPageLimit(cfg.MaxPageLimit),
	), nil
}

func serve(c *cli.Context) error {
	ctx := c.Context
	cfg, log, err := setup(ctx)
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Addr = addr
	}

	svc, err := newService(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	var sub *natsub.Subscriber
	if cfg.NATSURL != "" {
		nc, err := natsub.Connect(cfg.NATSURL)
		if err != nil {
			_ = svc.Stop(context.Background())
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer nc.Close()
		sub = natsub.New(nc, svc,
			natsub.WithSubject(cfg.NATSSubject),
			natsub.WithQueueGroup(cfg.NATSQueue),
			natsub.WithLogger(log.Named("natsub")),
		)
		if err := sub.Start(); err != nil {
			_ = svc.Stop(context.Background())
			return fmt.Errorf("subscribe %s: %w", cfg.NATSSubject, err)
		}
		log.Info(ctx, "nats subscriber started", logger.String("url", nc.ConnectedUrlRedacted()))
	}

	go startSystemMetricsUpdater(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewServer(svc, log.Named("api")).Router(),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	if sub != nil {
		if err := sub.Close(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			log.Warn(shutdownCtx, "nats drain failed", logger.Error(err))
		}
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "service shutdown failed", logger.Error(err))
	}

	log.Info(shutdownCtx, "server stopped")
	return runErr
}

func ingestOnce(c *cli.Context) error {
	ctx := c.Context
	cfg, log, err := setup(ctx)
	if err != nil {
		return err
	}
	if cfg.StoreDriver == config.DriverMemory {
		// Nothing outlives the process with the memory driver.
		log.Warn(ctx, "memory store is discarded on exit, set LADDER_STORE_DRIVER=postgres to keep snapshots")
		fmt.Fprintln(c.App.ErrWriter, "warning: store_driver=memory, the snapshot is discarded when the command exits")
	}
	svc, err := newService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Stop(context.WithoutCancel(ctx)) }()

	res, err := svc.Ingest(ctx, c.String("region"))
	if err != nil {
		return fmt.Errorf("ingest %s: %s: %w", res.Region, res.Outcome, err)
	}
	fmt.Fprintf(c.App.Writer, "%s %s %s records=%d chunks=%d\n", res.Region, res.Date, res.Outcome, res.Records, res.Chunks)
	return nil
}

// startSystemMetricsUpdater updates system metrics until ctx ends.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
