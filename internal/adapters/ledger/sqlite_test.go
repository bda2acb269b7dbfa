package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jobrunner/spacefetch/internal/domain"
)

func openTestLedger(t *testing.T) *SQLite {
	t.Helper()
	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "ledger.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRecordAndListRuns(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

	runs := []domain.Summary{
		{RunID: "r1", Dataset: "dst", StartedAt: base, Fetched: 2, Duration: 1500 * time.Millisecond},
		{RunID: "r2", Dataset: "gim-tec", StartedAt: base.Add(time.Hour), Failed: 1, Error: "connection refused"},
		{RunID: "r3", Dataset: "dst", StartedAt: base.Add(2 * time.Hour), SkippedExisting: 2, Bytes: 10},
	}
	for _, r := range runs {
		if err := l.RecordRun(ctx, r); err != nil {
			t.Fatalf("RecordRun() error = %v", err)
		}
	}

	tests := []struct {
		name    string
		dataset string
		limit   int
		want    []string
	}{
		{"all newest first", "", 10, []string{"r3", "r2", "r1"}},
		{"filtered", "dst", 10, []string{"r3", "r1"}},
		{"limited", "", 1, []string{"r3"}},
		{"unknown dataset", "ace", 10, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.RecentRuns(ctx, tt.dataset, tt.limit)
			if err != nil {
				t.Fatalf("RecentRuns() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d runs, want %d", len(got), len(tt.want))
			}
			for i, s := range got {
				if s.RunID != tt.want[i] {
					t.Errorf("run %d = %s, want %s", i, s.RunID, tt.want[i])
				}
			}
		})
	}

	got, _ := l.RecentRuns(ctx, "dst", 10)
	if got[1].Duration != 1500*time.Millisecond || !got[1].StartedAt.Equal(base) || got[1].Fetched != 2 {
		t.Errorf("round-tripped run = %+v", got[1])
	}
}

func TestRecordItems(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	tasks := []domain.FetchTask{
		{Entry: domain.RemoteEntry{Name: "a.txt", Location: "/x/a.txt"}, State: domain.StatePersisted},
		{
			Entry: domain.RemoteEntry{Name: "b.txt", Location: "/x/b.txt"},
			State: domain.StateFailed,
			Err:   &domain.FetchError{Operation: "fetch", Name: "b.txt", Err: errors.New("reset")},
		},
	}
	for _, task := range tasks {
		if err := l.RecordItem(ctx, "r1", task); err != nil {
			t.Fatalf("RecordItem() error = %v", err)
		}
	}

	states, err := l.ItemStates(ctx, "r1")
	if err != nil {
		t.Fatalf("ItemStates() error = %v", err)
	}
	if states["a.txt"] != domain.StatePersisted || states["b.txt"] != domain.StateFailed {
		t.Errorf("states = %v", states)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	_ = l.RecordRun(ctx, domain.Summary{RunID: "r1", Dataset: "dst", StartedAt: time.Now()})
	_ = l.Close()

	l, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer l.Close()
	runs, _ := l.RecentRuns(ctx, "", 0)
	if len(runs) != 1 {
		t.Errorf("got %d runs after reopen, want 1", len(runs))
	}
}
