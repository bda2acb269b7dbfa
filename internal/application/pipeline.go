package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jobrunner/spacefetch/internal/domain"
	"github.com/jobrunner/spacefetch/internal/ports/output"
)

// ErrRunInProgress is returned when a dataset is already being fetched.
var ErrRunInProgress = errors.New("run already in progress")

// Pipeline runs discover, select, fetch, transform and persist for one dataset.
type Pipeline struct {
	registry  *DatasetRegistry
	archive   output.Archive
	ledger    output.RunLedger
	exporters []output.IndexExporter
	metrics   output.MetricsCollector
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLedger records runs and items in l.
func WithLedger(l output.RunLedger) PipelineOption {
	return func(p *Pipeline) { p.ledger = l }
}

// WithExporters sends extracted index samples to each exporter.
func WithExporters(e ...output.IndexExporter) PipelineOption {
	return func(p *Pipeline) { p.exporters = append(p.exporters, e...) }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a new pipeline.
func NewPipeline(
	registry *DatasetRegistry,
	archive output.Archive,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	opts ...PipelineOption,
) *Pipeline {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	p := &Pipeline{
		registry: registry,
		archive:  archive,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Registry returns the dataset registry.
func (p *Pipeline) Registry() *DatasetRegistry {
	return p.registry
}

// Run fetches every entry of a dataset inside window that is not archived yet.
// Per-item failures of any kind are counted in the summary and the batch goes
// on. Only a failure to open the session or to list the remote side aborts
// the run and is returned.
func (p *Pipeline) Run(ctx context.Context, datasetID string, window domain.DateWindow) (domain.Summary, error) {
	ds, err := p.registry.Get(datasetID)
	if err != nil {
		return domain.Summary{}, err
	}
	if !p.registry.begin(datasetID) {
		return domain.Summary{}, fmt.Errorf("%w: %s", ErrRunInProgress, datasetID)
	}

	now := p.now().UTC()
	summary := domain.Summary{
		RunID:     p.newID(),
		Dataset:   datasetID,
		StartedAt: now,
	}
	logger := p.logger.With("dataset", datasetID, "run_id", summary.RunID)
	logger.Info("run started", "window", window.String())

	samples, err := p.run(ctx, ds, window, now, &summary, logger)

	summary.Duration = p.now().Sub(now)
	if err != nil {
		summary.Error = err.Error()
	}
	// History and exports are written even when ctx was canceled.
	bg := context.WithoutCancel(ctx)
	p.export(bg, samples, logger)
	p.finish(bg, summary, logger)

	if err != nil {
		logger.Error("run aborted", "error", err,
			"fetched", summary.Fetched,
			"skipped", summary.SkippedExisting,
			"failed", summary.Failed,
		)
		return summary, err
	}
	logger.Info("run completed",
		"candidates", summary.TotalCandidates,
		"fetched", summary.Fetched,
		"skipped", summary.SkippedExisting,
		"failed", summary.Failed,
		"bytes", summary.Bytes,
		"duration", summary.Duration,
	)
	return summary, nil
}

func (p *Pipeline) run(
	ctx context.Context,
	ds *Dataset,
	window domain.DateWindow,
	now time.Time,
	summary *domain.Summary,
	logger *slog.Logger,
) (samples []domain.IndexSample, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run panicked: %v", r)
		}
	}()

	src, err := ds.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			logger.Warn("failed to close remote session", "error", cerr)
		}
	}()

	tasks, err := ds.Discoverer.Discover(ctx, src, window, now)
	if err != nil {
		return nil, err
	}
	summary.TotalCandidates = len(tasks)
	logger.Info("candidates selected", "count", len(tasks))

	for i := range tasks {
		if err := ctx.Err(); err != nil {
			return samples, err
		}
		task := &tasks[i]

		out, n, err := p.process(ctx, ds, src, task, now, logger)
		summary.Bytes += n
		switch task.State {
		case domain.StateSkippedExisting:
			summary.SkippedExisting++
		case domain.StatePersisted:
			summary.Fetched++
			samples = append(samples, out...)
		default:
			task.State = domain.StateFailed
			task.Err = err
			summary.Failed++
			level := slog.LevelWarn
			if domain.IsFatal(err) {
				level = slog.LevelError
			}
			logger.Log(ctx, level, "item failed", "name", task.Entry.Name, "error", err)
		}
		p.metrics.IncItems(ds.ID, string(task.State), 1)
		p.record(context.WithoutCancel(ctx), summary.RunID, *task, logger)
	}
	return samples, nil
}

// process carries one task to a final state.
func (p *Pipeline) process(
	ctx context.Context,
	ds *Dataset,
	src output.RemoteSource,
	task *domain.FetchTask,
	now time.Time,
	logger *slog.Logger,
) ([]domain.IndexSample, int64, error) {
	exists, err := p.allExist(task.Targets)
	if err != nil {
		return nil, 0, err
	}
	task.AlreadyExists = exists
	if exists && !task.Volatile {
		task.State = domain.StateSkippedExisting
		logger.Debug("already archived", "name", task.Entry.Name)
		return nil, 0, nil
	}

	if ds.Transformer == nil {
		n, err := p.stream(ctx, ds.ID, src, task, logger)
		if err != nil {
			return nil, n, err
		}
		task.State = domain.StatePersisted
		return nil, n, nil
	}

	payload, n, err := p.payload(ctx, ds.ID, src, task, logger)
	if err != nil {
		return nil, n, err
	}
	task.State = domain.StateFetched

	out, err := ds.Transformer.Transform(*task, payload, now)
	if err != nil {
		return nil, n, &domain.FetchError{Operation: "transform", Name: task.Entry.Name, Err: err}
	}
	for _, a := range out.Artifacts {
		if err := p.persist(a); err != nil {
			return nil, n, err
		}
	}
	task.State = domain.StatePersisted
	logger.Info("item archived", "name", task.Entry.Name, "artifacts", len(out.Artifacts), "bytes", n)
	return out.Samples, n, nil
}

func (p *Pipeline) allExist(paths []string) (bool, error) {
	if len(paths) == 0 {
		return false, nil
	}
	for _, path := range paths {
		ok, err := p.archive.Exists(path)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// checkRemote confirms computed names on the remote side before fetching them.
func (p *Pipeline) checkRemote(ctx context.Context, src output.RemoteSource, task *domain.FetchTask) error {
	if !task.CheckRemote {
		return nil
	}
	ok, err := src.Exists(ctx, task.Entry)
	if err != nil {
		return err
	}
	if !ok {
		return &domain.FetchError{Operation: "exists", Name: task.Entry.Name, Err: domain.ErrRemoteFileNotFound}
	}
	return nil
}

// stream copies a raw entry straight into the archive.
func (p *Pipeline) stream(ctx context.Context, dataset string, src output.RemoteSource, task *domain.FetchTask, logger *slog.Logger) (int64, error) {
	if err := p.checkRemote(ctx, src, task); err != nil {
		return 0, err
	}
	w, err := p.archive.Create(task.RawPath)
	if err != nil {
		return 0, err
	}

	logger.Info("fetching", "name", task.Entry.Name)
	start := p.now()
	n, err := src.Fetch(ctx, task.Entry, w)
	p.observe(dataset, n, start)
	if err != nil {
		w.Abort()
		return n, err
	}
	if err := w.Close(); err != nil {
		return n, err
	}
	task.State = domain.StateFetched
	logger.Info("item archived", "name", task.Entry.Name, "path", task.RawPath, "bytes", n)
	return n, nil
}

// payload returns the bytes to transform. A raw copy already in the archive
// is reused, otherwise the entry is fetched and its raw copy stored.
func (p *Pipeline) payload(ctx context.Context, dataset string, src output.RemoteSource, task *domain.FetchTask, logger *slog.Logger) ([]byte, int64, error) {
	if task.RawPath != "" && !task.Volatile {
		ok, err := p.archive.Exists(task.RawPath)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			logger.Debug("reusing raw copy", "name", task.Entry.Name, "path", task.RawPath)
			data, err := p.archive.ReadBytes(task.RawPath)
			return data, 0, err
		}
	}

	if err := p.checkRemote(ctx, src, task); err != nil {
		return nil, 0, err
	}

	logger.Info("fetching", "name", task.Entry.Name)
	var buf bytes.Buffer
	start := p.now()
	n, err := src.Fetch(ctx, task.Entry, &buf)
	p.observe(dataset, n, start)
	if err != nil {
		return nil, n, err
	}
	if task.RawPath != "" {
		if err := p.archive.WriteBytes(task.RawPath, buf.Bytes()); err != nil {
			return nil, n, err
		}
	}
	return buf.Bytes(), n, nil
}

// persist writes an artifact unless it exists and may not be replaced.
func (p *Pipeline) persist(a domain.Artifact) error {
	if !a.Overwrite {
		ok, err := p.archive.Exists(a.Path)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return p.archive.WriteBytes(a.Path, a.Data)
}

func (p *Pipeline) observe(dataset string, n int64, start time.Time) {
	p.metrics.AddBytes(dataset, n)
	p.metrics.ObserveFetchDuration(dataset, p.now().Sub(start))
}

func (p *Pipeline) record(ctx context.Context, runID string, task domain.FetchTask, logger *slog.Logger) {
	if p.ledger == nil {
		return
	}
	if err := p.ledger.RecordItem(ctx, runID, task); err != nil {
		logger.Warn("failed to record item", "name", task.Entry.Name, "error", err)
	}
}

func (p *Pipeline) export(ctx context.Context, samples []domain.IndexSample, logger *slog.Logger) {
	if len(samples) == 0 {
		return
	}
	for _, e := range p.exporters {
		if err := e.Export(ctx, samples); err != nil {
			logger.Warn("failed to export samples", "count", len(samples), "error", err)
		}
	}
}

func (p *Pipeline) finish(ctx context.Context, summary domain.Summary, logger *slog.Logger) {
	p.registry.finish(summary.Dataset, summary)
	p.metrics.ObserveRun(summary.Dataset, summary.Error == "", summary.Duration)
	if p.ledger == nil {
		return
	}
	if err := p.ledger.RecordRun(ctx, summary); err != nil {
		logger.Warn("failed to record run", "error", err)
	}
}
