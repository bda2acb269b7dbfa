// Package app provides application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jobrunner/spacefetch/internal/adapters/archive"
	"github.com/jobrunner/spacefetch/internal/adapters/export"
	httpAdapter "github.com/jobrunner/spacefetch/internal/adapters/http"
	"github.com/jobrunner/spacefetch/internal/adapters/ledger"
	"github.com/jobrunner/spacefetch/internal/adapters/metrics"
	"github.com/jobrunner/spacefetch/internal/adapters/watcher"
	"github.com/jobrunner/spacefetch/internal/application"
	"github.com/jobrunner/spacefetch/internal/config"
	"github.com/jobrunner/spacefetch/internal/domain"
	"github.com/jobrunner/spacefetch/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Archive       *archive.Local
	Registry      *application.DatasetRegistry
	Pipeline      *application.Pipeline
	Scheduler     *application.Scheduler
	HealthService *application.HealthService
	PostProcessor *application.PostProcessor
	Ledger        *ledger.SQLite
	Exporters     []output.IndexExporter
	Metrics       *metrics.Collector
	HTTPServer    *httpAdapter.Server
	Watcher       *watcher.Watcher

	now func() time.Time
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Archive: archive.NewLocal(cfg.Archive.Root),
		now:     time.Now,
	}

	// Initialize metrics
	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		app.Metrics = metrics.NewCollector(cfg.Metrics.Namespace, reg)
		metricsCollector = app.Metrics
	}

	registry, err := BuildRegistry(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("building datasets: %w", err)
	}
	app.Registry = registry

	if err := app.initSinks(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}

	opts := []application.PipelineOption{application.WithExporters(app.Exporters...)}
	if app.Ledger != nil {
		opts = append(opts, application.WithLedger(app.Ledger))
	}
	app.Pipeline = application.NewPipeline(registry, app.Archive, metricsCollector, logger, opts...)

	app.Scheduler = application.NewScheduler(
		app.Pipeline,
		cfg.Run.Datasets,
		windowFunc(cfg.Run),
		cfg.Poll.Interval,
		logger,
	)

	app.HealthService = application.NewHealthService(registry, app.Archive)

	gim, err := NewGIMTransform(cfg.TEC)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("tec: %w", err)
	}
	app.PostProcessor = application.NewPostProcessor(
		app.Archive,
		gim,
		&application.DSDTransform{Dir: sunspotDir},
		logger,
		app.Exporters...,
	)

	// Initialize HTTP server
	if cfg.Server.Enabled {
		serverOpts := []httpAdapter.Option{httpAdapter.WithSyncTrigger(app.Scheduler)}
		if app.Ledger != nil {
			serverOpts = append(serverOpts, httpAdapter.WithRunHistory(app.Ledger))
		}
		if app.Metrics != nil {
			serverOpts = append(serverOpts, httpAdapter.WithMetrics(cfg.Metrics.Path, app.Metrics))
		}
		app.HTTPServer = httpAdapter.NewServer(cfg.Server, app.HealthService, registry, logger, serverOpts...)
	}

	// Initialize file watcher for dropped raw products
	if len(cfg.Watch.Paths) > 0 {
		w, err := watcher.New(
			watcher.Config{
				Paths:    cfg.Watch.Paths,
				Debounce: cfg.Watch.Debounce,
				Match: func(path string) bool {
					return watcher.IsRawProduct(path) && app.PostProcessor.Accepts(path)
				},
			},
			app.handleFileEvent,
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize file watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// initSinks opens the run ledger and the sample exporters.
func (a *App) initSinks(ctx context.Context) error {
	cfg := a.Config
	if cfg.Ledger.Enabled {
		l, err := ledger.Open(ctx, cfg.Ledger.Path)
		if err != nil {
			return fmt.Errorf("opening ledger: %w", err)
		}
		a.Ledger = l
	}

	if ch := cfg.Export.ClickHouse; ch.Enabled {
		e, err := export.NewClickHouse(ctx, export.ClickHouseConfig{
			Address:     ch.Address,
			Database:    ch.Database,
			Table:       ch.Table,
			User:        ch.User,
			Password:    ch.Password,
			BatchSize:   ch.BatchSize,
			CreateTable: ch.CreateTable,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("connecting to clickhouse: %w", err)
		}
		a.Exporters = append(a.Exporters, e)
	}

	if pq := cfg.Export.Parquet; pq.Enabled {
		a.Exporters = append(a.Exporters, export.NewParquet(pq.Dir))
	}
	return nil
}

// windowFunc maps the run settings to the scheduler's window.
func windowFunc(run config.RunConfig) application.WindowFunc {
	if run.End == "" {
		if run.Start == "" {
			return application.Trailing(run.TrailingDays - 1)
		}
		if start, err := time.Parse(time.DateOnly, run.Start); err == nil {
			return application.FixedStart(start)
		}
	}
	return func(now time.Time) (domain.DateWindow, error) {
		start, end, err := run.Window(now)
		if err != nil {
			return domain.DateWindow{}, err
		}
		return domain.NewDateWindow(start, end)
	}
}

// Targets returns the datasets a run covers.
func (a *App) Targets() []string {
	if len(a.Config.Run.Datasets) > 0 {
		return a.Config.Run.Datasets
	}
	return a.Registry.IDs()
}

// RunOnce runs every target dataset over the configured window, one after
// another. A failing dataset does not stop the others.
func (a *App) RunOnce(ctx context.Context) ([]domain.Summary, error) {
	window, err := windowFunc(a.Config.Run)(a.now())
	if err != nil {
		return nil, err
	}

	var (
		summaries []domain.Summary
		errs      []error
	)
	for _, id := range a.Targets() {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		summary, err := a.Pipeline.Run(ctx, id, window)
		if summary.Dataset != "" {
			summaries = append(summaries, summary)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return summaries, errors.Join(errs...)
}

// Start starts the scheduler, the watcher and the status server. It blocks
// until the server stops, or until ctx ends when no server is configured.
func (a *App) Start(ctx context.Context) error {
	a.startWatcher(ctx)
	a.Scheduler.Start(ctx)

	if a.HTTPServer == nil {
		<-ctx.Done()
		return nil
	}
	a.Logger.Info("server listening", "address", a.Config.Server.Address())
	return a.HTTPServer.Start()
}

// Watch runs only the file watcher until ctx ends.
func (a *App) Watch(ctx context.Context) error {
	if a.Watcher == nil {
		return &domain.ConfigError{Field: "watch.paths", Message: "no watch paths configured"}
	}
	a.startWatcher(ctx)
	<-ctx.Done()
	return nil
}

func (a *App) startWatcher(ctx context.Context) {
	if a.Watcher == nil {
		return
	}
	if err := a.Watcher.Start(ctx); err != nil {
		a.Logger.Warn("failed to start file watcher", "error", err)
	}
}

// ProcessFile post-processes one local raw product.
func (a *App) ProcessFile(ctx context.Context, path string) (application.PostResult, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return application.PostResult{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return a.PostProcessor.Process(ctx, path, payload)
}

// handleFileEvent handles file system events for dropped raw products.
func (a *App) handleFileEvent(ctx context.Context, event watcher.Event) error {
	if event.Operation == watcher.OpDelete {
		return nil
	}
	_, err := a.ProcessFile(ctx, event.Path)
	return err
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	// Stop watcher
	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}

	a.Scheduler.Stop()

	// Shutdown HTTP server
	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("HTTP server shutdown error", "error", err)
		}
	}

	return a.Close()
}

// Close releases the ledger and the exporters.
func (a *App) Close() error {
	var errs []error
	for _, e := range a.Exporters {
		errs = append(errs, e.Close())
	}
	if a.Ledger != nil {
		errs = append(errs, a.Ledger.Close())
	}
	return errors.Join(errs...)
}
