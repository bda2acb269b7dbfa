package fixedwidth

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/jobrunner/spacefetch/internal/domain"
)

// Column is one right-justified output column followed by a separator.
type Column struct {
	Width int
	Sep   string
}

// Table describes a rendered layout: header lines written once, then rows.
type Table struct {
	Header  []string
	Columns []Column
}

// Render writes the header block followed by one line per row.
// Values wider than their column are written whole.
func Render(w io.Writer, t Table, rows [][]string) error {
	bw := bufio.NewWriter(w)
	for _, h := range t.Header {
		if _, err := bw.WriteString(h + "\n"); err != nil {
			return err
		}
	}
	for _, row := range rows {
		for i, col := range t.Columns {
			v := ""
			if i < len(row) {
				v = row[i]
			}
			if _, err := fmt.Fprintf(bw, "%*s%s", col.Width, v, col.Sep); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// RenderString renders the table into a string.
func RenderString(t Table, rows [][]string) string {
	var sb strings.Builder
	_ = Render(&sb, t, rows)
	return sb.String()
}

// Group is a run of rows sharing one period key.
type Group struct {
	Key  domain.DateKey
	Rows []domain.Row
}

// GroupByPeriod splits rows into consecutive groups by key.
// The first occurrence of a new key starts a group; a key seen again after a
// different key is reported as ErrNonMonotonic.
func GroupByPeriod(rows []domain.Row, key func(domain.Row) domain.DateKey) ([]Group, error) {
	var groups []Group
	seen := make(map[domain.DateKey]bool)
	for i, r := range rows {
		k := key(r)
		if len(groups) > 0 && groups[len(groups)-1].Key == k {
			last := &groups[len(groups)-1]
			last.Rows = append(last.Rows, r)
			continue
		}
		if seen[k] {
			return nil, &domain.DecodeError{
				Format: "group",
				Offset: i,
				Err:    fmt.Errorf("key %s reappears: %w", k, domain.ErrNonMonotonic),
			}
		}
		seen[k] = true
		groups = append(groups, Group{Key: k, Rows: []domain.Row{r}})
	}
	return groups, nil
}

// MonthOf is the grouping key for monthly output files.
func MonthOf(r domain.Row) domain.DateKey {
	return r.Key.MonthKey()
}
