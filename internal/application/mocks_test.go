package application

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/jobrunner/spacefetch/internal/domain"
	"github.com/jobrunner/spacefetch/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeSource implements output.RemoteSource over in-memory files keyed by location.
type fakeSource struct {
	mu       sync.Mutex
	entries  []domain.RemoteEntry
	files    map[string][]byte
	listErr  error
	fetchErr map[string]error
	existErr error

	lists       []domain.Locator
	fetches     []string
	existChecks []string
	closed      int
}

func newFakeSource() *fakeSource {
	return &fakeSource{files: make(map[string][]byte), fetchErr: make(map[string]error)}
}

func (f *fakeSource) add(name, location string, data []byte) {
	f.entries = append(f.entries, domain.NewRemoteEntry(`"`+name+`"`, location))
	f.files[location] = data
}

func (f *fakeSource) opener() SourceOpener {
	return func(context.Context) (output.RemoteSource, error) { return f, nil }
}

func (f *fakeSource) List(_ context.Context, loc domain.Locator) ([]domain.RemoteEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists = append(f.lists, loc)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.RemoteEntry(nil), f.entries...), nil
}

func (f *fakeSource) Fetch(_ context.Context, e domain.RemoteEntry, w io.Writer) (int64, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, e.Location)
	err := f.fetchErr[e.Location]
	data, ok := f.files[e.Location]
	f.mu.Unlock()

	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &domain.FetchError{Operation: "fetch", Name: e.Name, Err: domain.ErrRemoteFileNotFound}
	}
	n, err := io.Copy(w, bytes.NewReader(data))
	return n, err
}

func (f *fakeSource) Exists(_ context.Context, e domain.RemoteEntry) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existChecks = append(f.existChecks, e.Location)
	if f.existErr != nil {
		return false, f.existErr
	}
	_, ok := f.files[e.Location]
	return ok, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches)
}

// memArchive implements output.Archive in memory.
type memArchive struct {
	mu       sync.Mutex
	files    map[string][]byte
	writes   map[string]int
	writeErr error
}

func newMemArchive() *memArchive {
	return &memArchive{files: make(map[string][]byte), writes: make(map[string]int)}
}

func (a *memArchive) Exists(path string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if path == "." {
		return true, nil
	}
	_, ok := a.files[path]
	return ok, nil
}

func (a *memArchive) EnsureDir(string) error { return nil }

func (a *memArchive) WriteBytes(path string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.writeErr != nil {
		return a.writeErr
	}
	a.files[path] = append([]byte(nil), data...)
	a.writes[path]++
	return nil
}

func (a *memArchive) WriteText(path, text string) error {
	return a.WriteBytes(path, []byte(text))
}

func (a *memArchive) Create(path string) (output.ArtifactWriter, error) {
	return &memWriter{archive: a, path: path}, nil
}

func (a *memArchive) ReadBytes(path string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.files[path]
	if !ok {
		return nil, &domain.FetchError{Operation: "read", Name: path, Err: domain.ErrLocalIO}
	}
	return data, nil
}

func (a *memArchive) Root() string { return "/mem" }

func (a *memArchive) paths() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.files))
	for p := range a.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

type memWriter struct {
	archive *memArchive
	path    string
	buf     bytes.Buffer
	aborted bool
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *memWriter) Close() error {
	if w.aborted {
		return nil
	}
	return w.archive.WriteBytes(w.path, w.buf.Bytes())
}

func (w *memWriter) Abort() { w.aborted = true }

// fakeLedger implements output.RunLedger.
type fakeLedger struct {
	mu    sync.Mutex
	runs  []domain.Summary
	items map[string][]domain.FetchTask
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{items: make(map[string][]domain.FetchTask)}
}

func (l *fakeLedger) RecordRun(_ context.Context, s domain.Summary) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, s)
	return nil
}

func (l *fakeLedger) RecordItem(_ context.Context, runID string, t domain.FetchTask) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items[runID] = append(l.items[runID], t)
	return nil
}

func (l *fakeLedger) RecentRuns(_ context.Context, _ string, limit int) ([]domain.Summary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit > len(l.runs) {
		limit = len(l.runs)
	}
	return l.runs[len(l.runs)-limit:], nil
}

// fakeExporter implements output.IndexExporter.
type fakeExporter struct {
	samples []domain.IndexSample
	err     error
}

func (e *fakeExporter) Export(_ context.Context, s []domain.IndexSample) error {
	if e.err != nil {
		return e.err
	}
	e.samples = append(e.samples, s...)
	return nil
}

func (e *fakeExporter) Close() error { return nil }

// recordingMetrics implements output.MetricsCollector.
type recordingMetrics struct {
	mu    sync.Mutex
	items map[string]int
	bytes int64
	runs  int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{items: make(map[string]int)}
}

func (m *recordingMetrics) IncItems(dataset, outcome string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[fmt.Sprintf("%s/%s", dataset, outcome)] += n
}

func (m *recordingMetrics) AddBytes(_ string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes += n
}

func (m *recordingMetrics) ObserveFetchDuration(string, time.Duration) {}

func (m *recordingMetrics) ObserveRun(string, bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func mustWindow(start, end string) domain.DateWindow {
	w, err := domain.ParseDateWindow(start, end, time.Now())
	if err != nil {
		panic(err)
	}
	return w
}
