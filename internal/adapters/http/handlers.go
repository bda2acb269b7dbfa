package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jobrunner/spacefetch/internal/application"
	"github.com/jobrunner/spacefetch/internal/domain"
)

// Run listing bounds.
const (
	defaultRunLimit = 20
	maxRunLimit     = 500
)

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	failed := details.FailedDatasets
	if failed == nil {
		failed = []string{}
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":          boolToStatus(details.Healthy),
		"ready":           details.Ready,
		"datasets":        details.Datasets,
		"failed_datasets": failed,
		"components":      details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleListDatasets returns all configured datasets with their last run.
func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.catalog.ListDatasets(r.Context())
	if err != nil {
		s.logger.Error("listing datasets failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to list datasets")
		return
	}
	if datasets == nil {
		datasets = []domain.DatasetState{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"datasets": datasets,
		"count":    len(datasets),
	})
}

// handleGetDataset returns a single dataset.
func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	datasetID := mux.Vars(r)["datasetId"]

	datasets, err := s.catalog.ListDatasets(r.Context())
	if err != nil {
		s.logger.Error("listing datasets failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to list datasets")
		return
	}

	for _, ds := range datasets {
		if ds.ID == datasetID {
			s.writeJSON(w, http.StatusOK, ds)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "Dataset not found")
}

// handleListRuns returns recent run summaries, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := defaultRunLimit
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxRunLimit {
			s.writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := s.history.RecentRuns(r.Context(), query.Get("dataset"), limit)
	if err != nil {
		s.logger.Error("listing runs failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []domain.Summary{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleSync runs one dataset on demand.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	datasetID := mux.Vars(r)["datasetId"]

	result, err := s.sync.TriggerSync(r.Context(), datasetID)
	if err != nil {
		switch {
		case errors.Is(err, application.ErrRateLimited):
			retry := int(application.DefaultTriggerCooldown.Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again in "+strconv.Itoa(retry)+" seconds.")
		case errors.Is(err, domain.ErrDatasetNotFound):
			s.writeError(w, http.StatusNotFound, "Dataset not found")
		case errors.Is(err, application.ErrRunInProgress):
			s.writeError(w, http.StatusConflict, "A run of this dataset is already in progress")
		default:
			s.logger.Error("sync failed", "dataset", datasetID, "error", err)
			s.writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error":   http.StatusText(http.StatusBadGateway),
				"message": err.Error(),
				"summary": result.Summary,
			})
		}
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleOpenAPI serves the OpenAPI document as JSON.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	data, err := getOpenAPIJSON()
	if err != nil {
		s.logger.Error("rendering openapi document failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "OpenAPI document unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
