package output

import (
	"context"

	"github.com/jobrunner/spacefetch/internal/domain"
)

// RunLedger records run history.
type RunLedger interface {
	// RecordRun stores a finished run summary.
	RecordRun(ctx context.Context, summary domain.Summary) error

	// RecordItem stores the final state of one task of a run.
	RecordItem(ctx context.Context, runID string, task domain.FetchTask) error

	// RecentRuns returns up to limit summaries, newest first.
	RecentRuns(ctx context.Context, dataset string, limit int) ([]domain.Summary, error)
}

// IndexExporter receives normalized index samples.
type IndexExporter interface {
	Export(ctx context.Context, samples []domain.IndexSample) error
	Close() error
}
