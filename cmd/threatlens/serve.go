package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/opensource-finance/threatlens/internal/api"
	"github.com/opensource-finance/threatlens/internal/artifact"
	"github.com/opensource-finance/threatlens/internal/bus"
	"github.com/opensource-finance/threatlens/internal/cache"
	"github.com/opensource-finance/threatlens/internal/domain"
	"github.com/opensource-finance/threatlens/internal/filter"
	"github.com/opensource-finance/threatlens/internal/predict"
	"github.com/opensource-finance/threatlens/internal/repository"
	"github.com/opensource-finance/threatlens/internal/telemetry"
	"github.com/opensource-finance/threatlens/internal/worker"
)

const shutdownTimeout = 10 * time.Second

var (
	portFlag = &cli.IntFlag{
		Name:  "port",
		Usage: "Port on which the server will listen (optional, overrides server.port)",
	}

	noWorkerFlag = &cli.BoolFlag{
		Name:  "no-worker",
		Usage: "Do not run the batch worker in-process",
	}

	serveCmd = &cli.Command{
		Name:   "serve",
		Usage:  "Start the HTTP API (and an in-process batch worker)",
		Action: cmdServe,
		Flags:  []cli.Flag{portFlag, noWorkerFlag},
	}

	workerCmd = &cli.Command{
		Name:   "worker",
		Usage:  "Consume batch prediction jobs from the event bus",
		Action: cmdWorker,
	}
)

// services holds the long-lived components shared by serve and worker.
type services struct {
	store    *artifact.Store
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	memo     *cache.Memo
	provider *predict.Provider
	shutdown telemetry.ShutdownFunc
}

func newServices(ctx context.Context, cfg *domain.Config) (*services, error) {
	rt := &services{}

	shutdown, err := telemetry.InitTracer(ctx, cfg.Tracing, Version)
	if err != nil {
		return nil, err
	}
	rt.shutdown = shutdown

	if rt.store, err = newStore(cfg); err != nil {
		rt.Close()
		return nil, err
	}

	if rt.repo, err = repository.New(cfg.Repository); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	if rt.cache, err = cache.New(cfg.Cache); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	if rt.bus, err = bus.New(cfg.EventBus); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	rt.memo = cache.NewMemo(rt.cache, cache.TablePrefix, cfg.Prediction.CacheTTL)
	rt.provider = predict.NewProvider(rt.store, cfg.Prediction.UnseenPolicy)
	return rt, nil
}

// Close releases the components in reverse order of creation.
func (rt *services) Close() {
	if rt.bus != nil {
		rt.bus.Close()
	}
	if rt.cache != nil {
		rt.cache.Close()
	}
	if rt.repo != nil {
		rt.repo.Close()
	}
	if rt.shutdown != nil {
		telemetry.Flush(context.Background(), rt.shutdown)
	}
}

func cmdServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port := cmd.Int(portFlag.Name); port > 0 {
		cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	// Warm the predictor; a missing model only degrades /predict
	if _, err := rt.provider.Get(ctx); err != nil {
		slog.Warn("predictor not available yet", "error", err)
	}

	var w *worker.Worker
	if !cmd.Bool(noWorkerFlag.Name) {
		w = worker.NewWorker(rt.bus, rt.repo, rt.provider, rt.memo)
		if err := w.Start(worker.Config{BatchJobs: true, Events: true}); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
		slog.Info("batch worker started")
	}

	engine, err := filter.NewEngine(0)
	if err != nil {
		return err
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Store:    rt.store,
		Repo:     rt.repo,
		Cache:    rt.cache,
		Bus:      rt.bus,
		Provider: rt.provider,
		Filters:  engine,
		Memo:     rt.memo,
		Version:  Version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("threatlens is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"tier", cfg.Tier,
		"version", Version,
	)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		slog.Error("server failed", "error", err)
		return err
	}

	// Stop the worker first so no job is half-saved
	if w != nil {
		if err := w.Stop(); err != nil {
			slog.Error("failed to stop worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("threatlens shutdown complete")
	return nil
}

func cmdWorker(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.EventBus.Type != "nats" {
		slog.Warn("worker is running on an in-process bus; only serve can publish jobs to it")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	w := worker.NewWorker(rt.bus, rt.repo, rt.provider, rt.memo)
	if err := w.Start(worker.Config{BatchJobs: true, Events: true}); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	slog.Info("worker started", "eventbus", cfg.EventBus.Type)

	<-ctx.Done()
	slog.Info("shutting down worker...")
	return w.Stop()
}
