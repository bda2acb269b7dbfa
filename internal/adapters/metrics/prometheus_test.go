package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector("test", prometheus.NewRegistry())

	c.IncItems("dst", "persisted", 2)
	c.IncItems("dst", "persisted", 1)
	c.IncItems("dst", "failed", 1)
	c.AddBytes("dst", 1024)
	c.AddBytes("dst", 0)
	c.ObserveFetchDuration("dst", 150*time.Millisecond)
	c.ObserveRun("dst", true, 3*time.Second)
	c.ObserveRun("dst", false, time.Second)

	if got := testutil.ToFloat64(c.items.WithLabelValues("dst", "persisted")); got != 3 {
		t.Errorf("persisted = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.bytesFetched.WithLabelValues("dst")); got != 1024 {
		t.Errorf("bytes = %v, want 1024", got)
	}
	if got := testutil.ToFloat64(c.runs.WithLabelValues("dst", "error")); got != 1 {
		t.Errorf("error runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.lastSuccess.WithLabelValues("dst")); got == 0 {
		t.Error("last success timestamp not set")
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	// Separate registries must not collide on registration.
	a := NewCollector("test", prometheus.NewRegistry())
	b := NewCollector("test", prometheus.NewRegistry())
	a.IncItems("x", "persisted", 1)
	if got := testutil.ToFloat64(b.items.WithLabelValues("x", "persisted")); got != 0 {
		t.Errorf("b saw %v items", got)
	}
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	c := NewCollector("test", prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(c.Middleware)
	router.HandleFunc("/api/v1/sync/{dataset}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	router.Handle("/metrics", c.Handler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/dst", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/api/v1/sync/{dataset}", "2xx")); got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), "test_http_requests_total") {
		t.Error("metrics endpoint does not expose the request counter")
	}
}

func TestStatusToString(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"}, {302, "3xx"}, {404, "4xx"}, {503, "5xx"}, {100, "unknown"},
	}
	for _, tt := range tests {
		if got := statusToString(tt.code); got != tt.want {
			t.Errorf("statusToString(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	if got := normalizePath("/short"); got != "/short" {
		t.Errorf("normalizePath() = %q", got)
	}
	if got := normalizePath("/a/very/long/unrouted/path"); got != "/a/very/long/unroute..." {
		t.Errorf("normalizePath() = %q", got)
	}
}
