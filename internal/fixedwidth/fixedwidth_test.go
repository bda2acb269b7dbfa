package fixedwidth

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jobrunner/spacefetch/internal/domain"
)

// dstLine builds one 101-character Dst day record.
func dstLine(day int, base int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%2d", day)
	for g := 0; g < 3; g++ {
		sb.WriteString(" ")
		for k := 0; k < 8; k++ {
			fmt.Fprintf(&sb, "%4d", base-(g*8+k))
		}
	}
	return sb.String()
}

func dstPayload(days int) string {
	header := strings.Repeat("h", dstHeaderLen)
	var sb strings.Builder
	sb.WriteString(header)
	for d := 1; d <= days; d++ {
		sb.WriteString(dstLine(d, d*10))
		sb.WriteString("\n")
	}
	return sb.String()
}

func TestDstLineLength(t *testing.T) {
	if got := len(dstLine(1, 0)); got != dstRecordLen {
		t.Fatalf("dstLine length = %d, want %d", got, dstRecordLen)
	}
}

func TestParseDstRoundTrip(t *testing.T) {
	raw := dstPayload(3)

	records, err := Parse(raw, DstLayout)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}

	rows, err := DstRows(records, domain.DateKey{Year: 2022, Month: 3})
	if err != nil {
		t.Fatalf("DstRows() error = %v", err)
	}

	out := RenderString(DstTable, Cells(rows))
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")

	if len(lines) != 3+3 {
		t.Fatalf("got %d lines, want 6", len(lines))
	}
	for i, h := range DstTable.Header {
		if lines[i] != h {
			t.Errorf("header line %d = %q, want %q", i, lines[i], h)
		}
	}

	for d, line := range lines[3:] {
		// 25 fields of 4 characters each followed by one blank.
		if len(line) != 25*5 {
			t.Errorf("row %d length = %d, want %d", d, len(line), 25*5)
		}
		for i := 0; i < 25; i++ {
			cell := line[i*5 : i*5+4]
			if strings.TrimSpace(cell) == "" {
				t.Errorf("row %d cell %d is blank", d, i)
			}
			if line[i*5+4] != ' ' {
				t.Errorf("row %d cell %d not followed by blank", d, i)
			}
		}
		if got := strings.TrimSpace(line[:4]); got != fmt.Sprint(d+1) {
			t.Errorf("row %d day = %q, want %d", d, got, d+1)
		}
	}

	// The first hourly value of day 2 is 20.
	if got := lines[4][5:9]; got != "  20" {
		t.Errorf("day 2 hour 1 = %q, want %q", got, "  20")
	}
}

func TestDstHeaderVerbatim(t *testing.T) {
	if len(DstTable.Header) != 3 {
		t.Fatalf("header lines = %d, want 3", len(DstTable.Header))
	}
	if !strings.HasPrefix(DstTable.Header[0], "        unit=nT") || !strings.HasSuffix(DstTable.Header[0], "UT") {
		t.Errorf("unexpected unit line %q", DstTable.Header[0])
	}
	fields := strings.Fields(DstTable.Header[1])
	if len(fields) != 24 || fields[0] != "1" || fields[23] != "24" {
		t.Errorf("hour header = %v, want 1..24", fields)
	}
	if DstTable.Header[2] != "Days" {
		t.Errorf("third header line = %q", DstTable.Header[2])
	}
}

func TestParseHeaderOnly(t *testing.T) {
	records, err := Parse(strings.Repeat("x", 100), DstLayout)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("len(records) = %d, want 0", len(records))
	}
}

func TestParseIgnoresTrailingPartialRecord(t *testing.T) {
	raw := dstPayload(2) + "  3   1"
	records, err := Parse(raw, DstLayout)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(records) != 2 {
		t.Errorf("len(records) = %d, want 2", len(records))
	}
}

func TestParseLayoutErrors(t *testing.T) {
	tests := []struct {
		name   string
		layout Layout
	}{
		{
			name:   "no record length",
			layout: Layout{Name: "bad", Fields: []Field{{Name: "a", Start: 0, End: 1}}},
		},
		{
			name:   "field beyond record",
			layout: Layout{Name: "bad", RecordLen: 4, Fields: []Field{{Name: "a", Start: 2, End: 8}}},
		},
		{
			name:   "token beyond group",
			layout: Layout{Name: "bad", Tokens: 2, Fields: []Field{{Name: "a", Start: 5}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("abcd efgh", tt.layout)
			if !errors.Is(err, domain.ErrDecode) {
				t.Errorf("Parse() error = %v, want ErrDecode", err)
			}
		})
	}
}

func dsdPayload(days [][3]int) string {
	var sb strings.Builder
	sb.WriteString(strings.Repeat(":", dsdHeaderLen))
	for _, d := range days {
		// year month day flux ssn area new field bkg C M X S 1 2 3
		fmt.Fprintf(&sb, "%d %02d %02d  100 %4d  300 0 -999 B1.0 1 0 0 0 0 0 0\n", d[0], d[1], d[2], d[1]*10+d[2])
	}
	return sb.String()
}

func TestDSDGroupsByMonth(t *testing.T) {
	raw := dsdPayload([][3]int{
		{2022, 1, 30}, {2022, 1, 31},
		{2022, 2, 1}, {2022, 2, 2},
		{2022, 3, 1},
	})

	records, err := Parse(raw, DSDLayout)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	rows, err := DSDRows(records)
	if err != nil {
		t.Fatalf("DSDRows() error = %v", err)
	}
	groups, err := GroupByPeriod(rows, MonthOf)
	if err != nil {
		t.Fatalf("GroupByPeriod() error = %v", err)
	}

	if len(groups) != 3 {
		t.Fatalf("len(groups) = %d, want 3", len(groups))
	}
	wantSizes := []int{2, 2, 1}
	for i, g := range groups {
		if g.Key.Month != i+1 || g.Key.Year != 2022 || g.Key.HasDay() {
			t.Errorf("group %d key = %v", i, g.Key)
		}
		if len(g.Rows) != wantSizes[i] {
			t.Errorf("group %d has %d rows, want %d", i, len(g.Rows), wantSizes[i])
		}
	}

	out := RenderString(DSDTable, Cells(groups[0].Rows))
	want := "YYYY  MM  DD  SunspotNumber\n" +
		"2022  01  30    40\n" +
		"2022  01  31    41\n"
	if out != want {
		t.Errorf("render =\n%q\nwant\n%q", out, want)
	}
}

func TestGroupByPeriodRejectsReappearingKey(t *testing.T) {
	rows := []domain.Row{
		{Key: domain.DateKey{Year: 2022, Month: 1, Day: 1}},
		{Key: domain.DateKey{Year: 2022, Month: 2, Day: 1}},
		{Key: domain.DateKey{Year: 2022, Month: 1, Day: 2}},
	}
	_, err := GroupByPeriod(rows, MonthOf)
	if !errors.Is(err, domain.ErrNonMonotonic) {
		t.Errorf("GroupByPeriod() error = %v, want ErrNonMonotonic", err)
	}
}

func TestSamples(t *testing.T) {
	rows := []domain.Row{{
		Key:    domain.DateKey{Year: 2022, Month: 1, Day: 2},
		Values: append([]string{"2", "-5", "9999"}, make([]string, 22)...),
	}}
	samples := DstSamples(rows, "202201.txt")
	if len(samples) != 1 {
		t.Fatalf("len(samples) = %d, want 1", len(samples))
	}
	if samples[0].Value != -5 || samples[0].Time.Hour() != 0 || samples[0].Index != "dst" {
		t.Errorf("unexpected sample %+v", samples[0])
	}

	ssn := DSDSamples([]domain.Row{
		{Key: domain.DateKey{Year: 2022, Month: 1, Day: 1}, Values: []string{"2022", "01", "01", "55"}},
		{Key: domain.DateKey{Year: 2022, Month: 1, Day: 2}, Values: []string{"2022", "01", "02", "-1"}},
	}, "202201.txt")
	if len(ssn) != 1 || ssn[0].Value != 55 {
		t.Errorf("DSDSamples() = %+v", ssn)
	}
}

func TestPreText(t *testing.T) {
	page := []byte(`<html><body><h1>Dst</h1><pre class="data">
 DAY<a href="#">1</a> &amp; more
</pre><pre>second</pre></body></html>`)

	got, err := PreText(page)
	if err != nil {
		t.Fatalf("PreText() error = %v", err)
	}
	want := "\n DAY1 & more\n"
	if got != want {
		t.Errorf("PreText() = %q, want %q", got, want)
	}

	if _, err := PreText([]byte("<html><body>nothing</body></html>")); !errors.Is(err, domain.ErrDecode) {
		t.Errorf("PreText() error = %v, want ErrDecode", err)
	}
}

func TestDSDDropsLeftoverComments(t *testing.T) {
	// A preamble one line longer than the fixed skip.
	raw := strings.Repeat(":", dsdHeaderLen-1) + "\n" +
		"# extra header line\n" +
		"2022 01 01  100   55  300 0 -999 B1.0 1 0 0 0 0 0 0\n"
	records, err := Parse(raw, DSDLayout)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(records) != 1 || records[0][3] != "55" {
		t.Errorf("records = %v", records)
	}
}
