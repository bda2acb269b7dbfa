// Package application contains the application services.
package application

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jobrunner/spacefetch/internal/domain"
)

// DatasetRegistry holds the configured datasets and their last run.
type DatasetRegistry struct {
	mu       sync.RWMutex
	datasets map[string]*datasetEntry
}

type datasetEntry struct {
	Dataset *Dataset
	Status  domain.DatasetStatus
	LastRun *domain.Summary
}

// NewDatasetRegistry creates a new dataset registry.
func NewDatasetRegistry() *DatasetRegistry {
	return &DatasetRegistry{
		datasets: make(map[string]*datasetEntry),
	}
}

// Register adds a dataset. IDs must be unique.
func (r *DatasetRegistry) Register(ds *Dataset) error {
	if ds == nil || ds.ID == "" {
		return &domain.ConfigError{Field: "datasets", Message: "dataset without id"}
	}
	if ds.Open == nil || ds.Discoverer == nil {
		return &domain.ConfigError{Field: "datasets." + ds.ID, Message: "dataset without source or discovery"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.datasets[ds.ID]; ok {
		return &domain.ConfigError{Field: "datasets." + ds.ID, Message: fmt.Sprintf("duplicate dataset %q", ds.ID)}
	}
	r.datasets[ds.ID] = &datasetEntry{Dataset: ds, Status: domain.StatusIdle}
	return nil
}

// Get returns a dataset by ID.
func (r *DatasetRegistry) Get(id string) (*Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.datasets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDatasetNotFound, id)
	}
	return entry.Dataset, nil
}

// IDs returns the registered dataset IDs in sorted order.
func (r *DatasetRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.datasets))
	for id := range r.datasets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListDatasets returns every dataset with its status, sorted by ID.
func (r *DatasetRegistry) ListDatasets(_ context.Context) ([]domain.DatasetState, error) {
	ids := r.IDs()

	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make([]domain.DatasetState, 0, len(ids))
	for _, id := range ids {
		entry := r.datasets[id]
		state := domain.DatasetState{DatasetInfo: entry.Dataset.Info(), Status: entry.Status}
		if entry.LastRun != nil {
			last := *entry.LastRun
			state.LastRun = &last
		}
		states = append(states, state)
	}
	return states, nil
}

// begin marks a dataset running; it reports false if it already was.
func (r *DatasetRegistry) begin(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.datasets[id]
	if !ok || entry.Status == domain.StatusRunning {
		return false
	}
	entry.Status = domain.StatusRunning
	return true
}

// finish records the outcome of a run.
func (r *DatasetRegistry) finish(id string, summary domain.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.datasets[id]
	if !ok {
		return
	}
	entry.LastRun = &summary
	entry.Status = domain.StatusIdle
	if summary.Error != "" {
		entry.Status = domain.StatusFailed
	}
}

// Count returns the number of registered datasets.
func (r *DatasetRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.datasets)
}
