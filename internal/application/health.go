package application

import (
	"context"

	"github.com/jobrunner/spacefetch/internal/domain"
	"github.com/jobrunner/spacefetch/internal/ports/input"
	"github.com/jobrunner/spacefetch/internal/ports/output"
)

// HealthService provides health check functionality.
type HealthService struct {
	registry *DatasetRegistry
	archive  output.Archive
}

// NewHealthService creates a new health service.
func NewHealthService(registry *DatasetRegistry, archive output.Archive) *HealthService {
	return &HealthService{
		registry: registry,
		archive:  archive,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true // Basic health check
}

// IsReady returns true once datasets are configured and the archive root is usable.
func (s *HealthService) IsReady(_ context.Context) bool {
	if s.registry.Count() == 0 {
		return false
	}
	ok, err := s.archive.Exists(".")
	return ok && err == nil
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	states, _ := s.registry.ListDatasets(ctx)

	var failed []string
	for _, st := range states {
		if st.Status == domain.StatusFailed {
			failed = append(failed, st.ID)
		}
	}

	components := map[string]string{
		"archive": "ok",
	}
	if ok, err := s.archive.Exists("."); err != nil {
		components["archive"] = err.Error()
	} else if !ok {
		components["archive"] = "missing"
	}

	return input.HealthDetails{
		Healthy:        s.IsHealthy(ctx),
		Ready:          s.IsReady(ctx),
		Datasets:       len(states),
		FailedDatasets: failed,
		Components:     components,
	}
}
