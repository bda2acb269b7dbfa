// Package input defines the primary/driving ports of the application.
package input

import (
	"context"
	"time"

	"github.com/jobrunner/spacefetch/internal/domain"
)

// DatasetCatalog defines the primary port for dataset inspection.
type DatasetCatalog interface {
	// ListDatasets returns every configured dataset with its last run.
	ListDatasets(ctx context.Context) ([]domain.DatasetState, error)
}

// RunHistory defines the primary port for past runs.
type RunHistory interface {
	// RecentRuns returns up to limit summaries, newest first. An empty
	// dataset matches all.
	RecentRuns(ctx context.Context, dataset string, limit int) ([]domain.Summary, error)
}

// SyncTrigger defines the primary port for on-demand runs.
type SyncTrigger interface {
	// TriggerSync runs one dataset now.
	TriggerSync(ctx context.Context, datasetID string) (SyncResult, error)
}

// SyncResult contains the result of a triggered run.
type SyncResult struct {
	Summary         domain.Summary `json:"summary"`
	NextScheduledAt time.Time      `json:"next_scheduled_at,omitempty"`
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy        bool              // Overall health status
	Ready          bool              // Ready to accept requests
	Datasets       int               // Number of configured datasets
	FailedDatasets []string          // Datasets whose last run aborted
	Components     map[string]string // Component statuses
}
