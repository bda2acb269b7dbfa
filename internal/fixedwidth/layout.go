// Package fixedwidth parses column-positional archive text and renders
// normalized fixed-width tables.
package fixedwidth

import (
	"fmt"
	"strings"

	"github.com/jobrunner/spacefetch/internal/domain"
)

// Field names one value of a record.
// For column layouts Start/End are byte offsets within the record (End exclusive).
// For token layouts Start is the token index and End is ignored.
type Field struct {
	Name  string
	Start int
	End   int
}

// Layout describes one archive text format.
type Layout struct {
	Name      string
	HeaderLen int     // Characters skipped unconditionally before the first record
	RecordLen int     // Characters per record for column layouts
	JoinLines bool    // Remove line breaks before slicing records
	Tokens    int     // Whitespace tokens per record; > 0 selects a token layout
	Comment   string  // Token layouts drop lines starting with any of these characters
	Fields    []Field // Fields extracted from every record
}

// Record holds the trimmed field values of one record in layout order.
type Record []string

// Get returns the value of the named field.
func (r Record) Get(l Layout, name string) (string, bool) {
	for i, f := range l.Fields {
		if f.Name == name && i < len(r) {
			return r[i], true
		}
	}
	return "", false
}

// Parse splits raw text into records according to the layout.
// A trailing partial record is ignored.
func Parse(raw string, l Layout) ([]Record, error) {
	if len(raw) <= l.HeaderLen {
		return nil, nil
	}
	body := raw[l.HeaderLen:]

	if l.Tokens > 0 {
		return parseTokens(body, l)
	}
	if l.RecordLen <= 0 {
		return nil, &domain.DecodeError{
			Format: l.Name,
			Offset: -1,
			Err:    fmt.Errorf("layout has neither record length nor token count"),
		}
	}

	if l.JoinLines {
		body = strings.NewReplacer("\r", "", "\n", "").Replace(body)
	}

	n := len(body) / l.RecordLen
	records := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		chunk := body[i*l.RecordLen : (i+1)*l.RecordLen]
		rec := make(Record, len(l.Fields))
		for j, f := range l.Fields {
			if f.End > len(chunk) || f.Start < 0 || f.Start > f.End {
				return nil, &domain.DecodeError{
					Format: l.Name,
					Offset: l.HeaderLen + i*l.RecordLen,
					Err:    fmt.Errorf("field %s [%d:%d]: %w", f.Name, f.Start, f.End, domain.ErrShortRecord),
				}
			}
			rec[j] = strings.TrimSpace(chunk[f.Start:f.End])
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseTokens(body string, l Layout) ([]Record, error) {
	if l.Comment != "" {
		lines := strings.Split(body, "\n")
		kept := lines[:0]
		for _, line := range lines {
			if line != "" && strings.ContainsRune(l.Comment, rune(line[0])) {
				continue
			}
			kept = append(kept, line)
		}
		body = strings.Join(kept, "\n")
	}
	tokens := strings.Fields(body)
	n := len(tokens) / l.Tokens
	records := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		group := tokens[i*l.Tokens : (i+1)*l.Tokens]
		rec := make(Record, len(l.Fields))
		for j, f := range l.Fields {
			if f.Start < 0 || f.Start >= len(group) {
				return nil, &domain.DecodeError{
					Format: l.Name,
					Offset: i,
					Err:    fmt.Errorf("token %s #%d: %w", f.Name, f.Start, domain.ErrShortRecord),
				}
			}
			rec[j] = group[f.Start]
		}
		records = append(records, rec)
	}
	return records, nil
}
