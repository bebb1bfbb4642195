package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"navi/internal/config"
	"navi/internal/hierarchy"
	"navi/internal/observability"
	serverhttp "navi/internal/server/http"
	"navi/internal/session/cachestore"
	"navi/internal/session/filestore"
	"navi/internal/session/memorystore"
	"navi/internal/shared/logging"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the hierarchy API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts.configPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.NewComponentLogger("Server")

	store, err := buildStore(cfg, logger)
	if err != nil {
		return err
	}

	metrics, err := observability.NewMetricsCollector(cfg.Metrics.Enabled)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	tracer, err := observability.NewTracerProvider(observability.TracingConfig{
		Enabled:  cfg.Tracing.Enabled,
		Endpoint: cfg.Tracing.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	notifier := hierarchy.NewNotifier(logging.NewComponentLogger("Events"))
	notifier.Attach(metrics)

	resolver := hierarchy.NewResolver(store, cfg.Hierarchy.MaxDepth, logging.NewComponentLogger("Resolver"))
	coordinator := hierarchy.NewCoordinator(store, resolver, notifier,
		hierarchy.WithLogger(logging.NewComponentLogger("Coordinator")),
		hierarchy.WithInstrumentation(observability.NewInstrumentation(tracer, metrics)),
	)
	ledger := hierarchy.NewLedger(store, notifier, logging.NewComponentLogger("Ledger"))
	contextRes := hierarchy.NewContextResolver(store, resolver, logging.NewComponentLogger("Context"))

	presets, err := config.LoadPresets(cfg.Presets.Path)
	if err != nil {
		return err
	}

	deps := serverhttp.Deps{
		Coordinator: coordinator,
		Resolver:    resolver,
		Context:     contextRes,
		Ledger:      ledger,
		Notifier:    notifier,
		Presets:     presets,
		Logger:      logger,
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.Handler()
	}
	server := serverhttp.New(cfg.Server, deps)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		return err
	}
	if err := tracer.Shutdown(ctx); err != nil {
		logger.Warn("tracer shutdown: %v", err)
	}
	return nil
}

func buildStore(cfg *config.Config, logger logging.Logger) (hierarchy.Store, error) {
	var store hierarchy.Store
	switch cfg.Store.Backend {
	case config.BackendFile:
		fs, err := filestore.New(cfg.Store.Dir, logging.NewComponentLogger("FileStore"))
		if err != nil {
			return nil, err
		}
		store = fs
	default:
		store = memorystore.New()
	}
	if cfg.Store.Cache {
		store = cachestore.New(store, cachestore.DefaultSize, cfg.Store.CacheTTL)
		logger.Info("session read cache enabled (ttl=%s)", cfg.Store.CacheTTL)
	}
	return store, nil
}
