package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/jobrunner/spacefetch/internal/domain"
	"github.com/jobrunner/spacefetch/internal/ports/output"
)

var _ output.IndexExporter = (*Parquet)(nil)

// IndexRow is one sample in a Parquet file.
type IndexRow struct {
	Timestamp int64   `parquet:"timestamp"`
	Index     string  `parquet:"index,dict"`
	Value     float32 `parquet:"value"`
	Source    string  `parquet:"source,dict"`
}

// Parquet keeps one file per index and calendar month under dir/<index>/.
// Each export merges into the month's file, so a period that is fetched
// again, such as the growing present month, never duplicates rows.
type Parquet struct {
	dir string
	mu  sync.Mutex
}

// NewParquet creates a Parquet exporter rooted at dir.
func NewParquet(dir string) *Parquet {
	return &Parquet{dir: dir}
}

type fileKey struct {
	index string
	month string
}

// Export implements IndexExporter.
func (e *Parquet) Export(_ context.Context, samples []domain.IndexSample) error {
	byFile := make(map[fileKey][]IndexRow)
	for _, s := range samples {
		t := s.Time.UTC()
		key := fileKey{index: s.Index, month: FileName(t)}
		byFile[key] = append(byFile[key], IndexRow{
			Timestamp: t.Unix(),
			Index:     s.Index,
			Value:     s.Value,
			Source:    s.Source,
		})
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for key, rows := range byFile {
		if err := e.merge(key, rows); err != nil {
			return err
		}
	}
	return nil
}

// FileName is the name of the file holding the samples of t's month.
func FileName(t time.Time) string {
	return t.UTC().Format("200601") + ".parquet"
}

// merge combines rows with the month's existing file. A new row replaces an
// existing one with the same timestamp.
func (e *Parquet) merge(key fileKey, rows []IndexRow) error {
	dir := filepath.Join(e.dir, key.index)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrLocalIO, err)
	}
	final := filepath.Join(dir, key.month)

	byTime := make(map[int64]IndexRow, len(rows))
	old, err := parquet.ReadFile[IndexRow](final)
	switch {
	case err == nil:
		for _, r := range old {
			byTime[r.Timestamp] = r
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("reading %s: %w", final, err)
	}
	for _, r := range rows {
		byTime[r.Timestamp] = r
	}

	merged := make([]IndexRow, 0, len(byTime))
	for _, r := range byTime {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })
	return write(dir, final, merged)
}

func write(dir, final string, rows []IndexRow) error {
	tmp, err := os.CreateTemp(dir, ".export.*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrLocalIO, err)
	}
	defer os.Remove(tmp.Name())

	w := parquet.NewGenericWriter[IndexRow](tmp)
	if _, err := w.Write(rows); err != nil {
		tmp.Close()
		return fmt.Errorf("writing parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("closing parquet writer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrLocalIO, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrLocalIO, err)
	}
	return nil
}

// Close implements IndexExporter.
func (e *Parquet) Close() error {
	return nil
}
