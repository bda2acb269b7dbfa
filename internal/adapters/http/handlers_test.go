package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jobrunner/spacefetch/internal/adapters/metrics"
	"github.com/jobrunner/spacefetch/internal/application"
	"github.com/jobrunner/spacefetch/internal/config"
	"github.com/jobrunner/spacefetch/internal/domain"
	"github.com/jobrunner/spacefetch/internal/ports/input"
)

// mockHealth implements input.HealthChecker.
type mockHealth struct {
	healthy bool
	ready   bool
	failed  []string
}

func (m *mockHealth) IsHealthy(_ context.Context) bool { return m.healthy }
func (m *mockHealth) IsReady(_ context.Context) bool   { return m.ready }

func (m *mockHealth) GetHealthDetails(_ context.Context) input.HealthDetails {
	return input.HealthDetails{
		Healthy:        m.healthy,
		Ready:          m.ready,
		Datasets:       2,
		FailedDatasets: m.failed,
		Components:     map[string]string{"archive": "ok"},
	}
}

// mockCatalog implements input.DatasetCatalog.
type mockCatalog struct {
	datasets []domain.DatasetState
	err      error
}

func (m *mockCatalog) ListDatasets(_ context.Context) ([]domain.DatasetState, error) {
	return m.datasets, m.err
}

// mockHistory implements input.RunHistory.
type mockHistory struct {
	runs       []domain.Summary
	gotDataset string
	gotLimit   int
	err        error
}

func (m *mockHistory) RecentRuns(_ context.Context, dataset string, limit int) ([]domain.Summary, error) {
	m.gotDataset = dataset
	m.gotLimit = limit
	return m.runs, m.err
}

// mockTrigger implements input.SyncTrigger.
type mockTrigger struct {
	result input.SyncResult
	err    error
	got    string
}

func (m *mockTrigger) TriggerSync(_ context.Context, datasetID string) (input.SyncResult, error) {
	m.got = datasetID
	return m.result, m.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

func sampleCatalog() *mockCatalog {
	return &mockCatalog{datasets: []domain.DatasetState{
		{
			DatasetInfo: domain.DatasetInfo{ID: "dst", Transport: "http", Transform: true},
			Status:      domain.StatusIdle,
			LastRun:     &domain.Summary{RunID: "r1", Dataset: "dst", Fetched: 3},
		},
		{
			DatasetInfo: domain.DatasetInfo{ID: "ace", Transport: "ftp"},
			Status:      domain.StatusFailed,
		},
	}}
}

func serve(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", rr.Body.String(), err)
	}
	return resp
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		health     *mockHealth
		wantStatus int
		wantBody   string
	}{
		{"healthy", &mockHealth{healthy: true, ready: true}, http.StatusOK, "ok"},
		{"unhealthy", &mockHealth{healthy: false}, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(testConfig(), tt.health, sampleCatalog(), testLogger())
			rr := serve(t, srv, http.MethodGet, "/health")

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			resp := decode(t, rr)
			if resp["status"] != tt.wantBody {
				t.Errorf("status = %v, want %q", resp["status"], tt.wantBody)
			}
			if resp["datasets"] != float64(2) {
				t.Errorf("datasets = %v, want 2", resp["datasets"])
			}
			if _, ok := resp["failed_datasets"].([]interface{}); !ok {
				t.Errorf("failed_datasets = %v, want array", resp["failed_datasets"])
			}
		})
	}
}

func TestHandleProbes(t *testing.T) {
	srv := NewServer(testConfig(), &mockHealth{healthy: true, ready: false}, sampleCatalog(), testLogger())

	if rr := serve(t, srv, http.MethodGet, "/health/live"); rr.Code != http.StatusOK {
		t.Errorf("live status = %d, want %d", rr.Code, http.StatusOK)
	}
	rr := serve(t, srv, http.MethodGet, "/health/ready")
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("ready status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
	if resp := decode(t, rr); resp["status"] != "not ready" {
		t.Errorf("ready body = %v", resp)
	}
}

func TestHandleListDatasets(t *testing.T) {
	srv := NewServer(testConfig(), &mockHealth{healthy: true}, sampleCatalog(), testLogger())

	rr := serve(t, srv, http.MethodGet, "/api/v1/datasets")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp struct {
		Datasets []domain.DatasetState `json:"datasets"`
		Count    int                   `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Count != 2 || len(resp.Datasets) != 2 {
		t.Fatalf("count = %d, datasets = %d, want 2", resp.Count, len(resp.Datasets))
	}
	if resp.Datasets[0].ID != "dst" || resp.Datasets[0].LastRun == nil || resp.Datasets[0].LastRun.Fetched != 3 {
		t.Errorf("first dataset = %+v", resp.Datasets[0])
	}
	if resp.Datasets[1].Status != domain.StatusFailed {
		t.Errorf("second dataset status = %q", resp.Datasets[1].Status)
	}
}

func TestHandleListDatasetsError(t *testing.T) {
	srv := NewServer(testConfig(), &mockHealth{healthy: true}, &mockCatalog{err: errors.New("boom")}, testLogger())

	if rr := serve(t, srv, http.MethodGet, "/api/v1/datasets"); rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestHandleGetDataset(t *testing.T) {
	srv := NewServer(testConfig(), &mockHealth{healthy: true}, sampleCatalog(), testLogger())

	rr := serve(t, srv, http.MethodGet, "/api/v1/datasets/ace")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if resp := decode(t, rr); resp["id"] != "ace" || resp["transport"] != "ftp" {
		t.Errorf("dataset = %v", resp)
	}

	if rr := serve(t, srv, http.MethodGet, "/api/v1/datasets/nope"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown dataset status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestHandleListRuns(t *testing.T) {
	history := &mockHistory{runs: []domain.Summary{{RunID: "b"}, {RunID: "a"}}}
	srv := NewServer(testConfig(), &mockHealth{healthy: true}, sampleCatalog(), testLogger(),
		WithRunHistory(history))

	tests := []struct {
		name        string
		url         string
		wantStatus  int
		wantDataset string
		wantLimit   int
	}{
		{"defaults", "/api/v1/runs", http.StatusOK, "", defaultRunLimit},
		{"filtered", "/api/v1/runs?dataset=dst&limit=5", http.StatusOK, "dst", 5},
		{"bad limit", "/api/v1/runs?limit=abc", http.StatusBadRequest, "", 0},
		{"zero limit", "/api/v1/runs?limit=0", http.StatusBadRequest, "", 0},
		{"limit too large", "/api/v1/runs?limit=501", http.StatusBadRequest, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history.gotDataset, history.gotLimit = "", 0

			rr := serve(t, srv, http.MethodGet, tt.url)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if history.gotDataset != tt.wantDataset || history.gotLimit != tt.wantLimit {
				t.Errorf("RecentRuns(%q, %d), want (%q, %d)",
					history.gotDataset, history.gotLimit, tt.wantDataset, tt.wantLimit)
			}
			if resp := decode(t, rr); resp["count"] != float64(2) {
				t.Errorf("count = %v, want 2", resp["count"])
			}
		})
	}
}

func TestRunsRouteRequiresHistory(t *testing.T) {
	srv := NewServer(testConfig(), &mockHealth{healthy: true}, sampleCatalog(), testLogger())

	if rr := serve(t, srv, http.MethodGet, "/api/v1/runs"); rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestHandleSync(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantRetry  string
	}{
		{"success", nil, http.StatusOK, ""},
		{"rate limited", application.ErrRateLimited, http.StatusTooManyRequests, "30"},
		{"unknown dataset", fmt.Errorf("%w: x", domain.ErrDatasetNotFound), http.StatusNotFound, ""},
		{"in progress", application.ErrRunInProgress, http.StatusConflict, ""},
		{"aborted", &domain.FetchError{Operation: "list", Err: domain.ErrConnection}, http.StatusBadGateway, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger := &mockTrigger{
				result: input.SyncResult{Summary: domain.Summary{Dataset: "dst", Fetched: 4}},
				err:    tt.err,
			}
			srv := NewServer(testConfig(), &mockHealth{healthy: true}, sampleCatalog(), testLogger(),
				WithSyncTrigger(trigger))

			rr := serve(t, srv, http.MethodPost, "/api/v1/sync/dst")
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if trigger.got != "dst" {
				t.Errorf("TriggerSync dataset = %q, want dst", trigger.got)
			}
			if got := rr.Header().Get("Retry-After"); got != tt.wantRetry {
				t.Errorf("Retry-After = %q, want %q", got, tt.wantRetry)
			}
			if tt.err == nil {
				var result input.SyncResult
				if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
					t.Fatalf("failed to unmarshal response: %v", err)
				}
				if result.Summary.Fetched != 4 {
					t.Errorf("summary = %+v", result.Summary)
				}
			}
		})
	}
}

func TestSyncRejectsGet(t *testing.T) {
	srv := NewServer(testConfig(), &mockHealth{healthy: true}, sampleCatalog(), testLogger(),
		WithSyncTrigger(&mockTrigger{}))

	if rr := serve(t, srv, http.MethodGet, "/api/v1/sync/dst"); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}

func TestAPIRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, Rate: 0.001, Burst: 1}
	srv := NewServer(cfg, &mockHealth{healthy: true}, sampleCatalog(), testLogger())

	if rr := serve(t, srv, http.MethodGet, "/api/v1/datasets"); rr.Code != http.StatusOK {
		t.Fatalf("first status = %d, want %d", rr.Code, http.StatusOK)
	}
	rr := serve(t, srv, http.MethodGet, "/api/v1/datasets")
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want %d", rr.Code, http.StatusTooManyRequests)
	}

	// Health probes are not limited.
	if rr := serve(t, srv, http.MethodGet, "/health/live"); rr.Code != http.StatusOK {
		t.Errorf("live status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	collector := metrics.NewCollector("spacefetch_test", prometheus.NewRegistry())
	collector.IncItems("dst", "fetched", 2)

	srv := NewServer(testConfig(), &mockHealth{healthy: true}, sampleCatalog(), testLogger(),
		WithMetrics("/metrics", collector))

	_ = serve(t, srv, http.MethodGet, "/api/v1/datasets")

	rr := serve(t, srv, http.MethodGet, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `spacefetch_test_items_total{dataset="dst",outcome="fetched"} 2`) {
		t.Errorf("metrics output missing item counter:\n%s", body)
	}
	if !strings.Contains(body, `path="/api/v1/datasets"`) {
		t.Errorf("metrics output missing request counter:\n%s", body)
	}
}

func TestHandleOpenAPI(t *testing.T) {
	srv := NewServer(testConfig(), &mockHealth{healthy: true}, sampleCatalog(), testLogger())

	rr := serve(t, srv, http.MethodGet, "/openapi.json")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	resp := decode(t, rr)
	if resp["openapi"] != "3.0.3" {
		t.Errorf("openapi = %v", resp["openapi"])
	}
	paths, ok := resp["paths"].(map[string]interface{})
	if !ok {
		t.Fatalf("paths = %T", resp["paths"])
	}
	for _, p := range []string{"/health", "/api/v1/datasets", "/api/v1/runs", "/api/v1/sync/{datasetId}"} {
		if _, ok := paths[p]; !ok {
			t.Errorf("openapi document missing path %s", p)
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := NewServer(testConfig(), &mockHealth{healthy: true}, sampleCatalog(), testLogger())

	handler := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}
