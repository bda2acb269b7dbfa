package fixedwidth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jobrunner/spacefetch/internal/domain"
)

// Dst hourly table published by WDC Kyoto: 2-character day, then three groups
// of eight 4-character hourly values, each group preceded by one blank.
const (
	dstHeaderLen = 410
	dstRecordLen = 101
	dstMissing   = "9999"
)

// DstLayout is the WDC Kyoto monthly Dst page body.
var DstLayout = dstLayout()

func dstLayout() Layout {
	fields := []Field{{Name: "day", Start: 0, End: 2}}
	for h := 1; h <= 24; h++ {
		g, k := (h-1)/8, (h-1)%8
		start := 3 + g*33 + k*4
		fields = append(fields, Field{Name: fmt.Sprintf("h%02d", h), Start: start, End: start + 4})
	}
	return Layout{
		Name:      "dst",
		HeaderLen: dstHeaderLen,
		RecordLen: dstRecordLen,
		JoinLines: true,
		Fields:    fields,
	}
}

// DstTable is the normalized Dst month file.
var DstTable = dstTable()

func dstTable() Table {
	cols := make([]Column, 25)
	for i := range cols {
		cols[i] = Column{Width: 4, Sep: " "}
	}
	return Table{
		Header: []string{
			"        unit=nT                                  " +
				"                                                     " +
				"                    UT",
			"        1    2    3    4    5    6    7    8    9" +
				"   10   11   12   13   14   15   16   17   18   19   " +
				"20   21   22   23   24",
			"Days",
		},
		Columns: cols,
	}
}

// DSD (Daily Solar Data) quarter files from SWPC: a 638-character preamble,
// then 16 whitespace-separated values per day. Older files carry a shorter
// preamble, so any remaining ':' or '#' comment line is dropped as well.
const (
	dsdHeaderLen = 638
	dsdTokens    = 16
)

// DSDLayout is the SWPC quarterly DSD file.
var DSDLayout = Layout{
	Name:      "dsd",
	HeaderLen: dsdHeaderLen,
	Tokens:    dsdTokens,
	Comment:   ":#",
	Fields: []Field{
		{Name: "year", Start: 0},
		{Name: "month", Start: 1},
		{Name: "day", Start: 2},
		{Name: "ssn", Start: 4},
	},
}

// DSDTable is the normalized monthly sunspot number file.
var DSDTable = Table{
	Header: []string{"YYYY  MM  DD  SunspotNumber"},
	Columns: []Column{
		{Width: 4, Sep: "  "},
		{Width: 2, Sep: "  "},
		{Width: 2, Sep: "  "},
		{Width: 4, Sep: ""},
	},
}

// DstRows binds parsed Dst records to the month they were published for.
// Records with a blank day column are padding and are skipped.
func DstRows(records []Record, month domain.DateKey) ([]domain.Row, error) {
	rows := make([]domain.Row, 0, len(records))
	for i, rec := range records {
		if rec[0] == "" {
			continue
		}
		day, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, &domain.DecodeError{Format: "dst", Offset: i, Err: fmt.Errorf("day %q: %w", rec[0], err)}
		}
		key := domain.DateKey{Year: month.Year, Month: month.Month, Day: day}
		if err := key.Validate(domain.DefaultEpoch); err != nil {
			return nil, &domain.DecodeError{Format: "dst", Offset: i, Err: err}
		}
		rows = append(rows, domain.Row{Key: key, Values: []string(rec)})
	}
	return rows, nil
}

// DSDRows converts DSD records into day rows holding the sunspot number.
func DSDRows(records []Record) ([]domain.Row, error) {
	rows := make([]domain.Row, 0, len(records))
	for i, rec := range records {
		y, errY := strconv.Atoi(rec[0])
		m, errM := strconv.Atoi(rec[1])
		d, errD := strconv.Atoi(rec[2])
		if errY != nil || errM != nil || errD != nil {
			return nil, &domain.DecodeError{
				Format: "dsd",
				Offset: i,
				Err:    fmt.Errorf("date %s %s %s not numeric", rec[0], rec[1], rec[2]),
			}
		}
		key := domain.DateKey{Year: y, Month: m, Day: d}
		if err := key.Validate(domain.DefaultEpoch); err != nil {
			return nil, &domain.DecodeError{Format: "dsd", Offset: i, Err: err}
		}
		rows = append(rows, domain.Row{Key: key, Values: []string(rec)})
	}
	return rows, nil
}

// DstSamples converts Dst rows into hourly samples; the value at hour h is
// stamped at the start of that UT hour. Missing values are dropped.
func DstSamples(rows []domain.Row, source string) []domain.IndexSample {
	var out []domain.IndexSample
	for _, r := range rows {
		for h := 1; h < len(r.Values) && h <= 24; h++ {
			v := r.Values[h]
			if v == "" || v == dstMissing {
				continue
			}
			f, err := strconv.ParseFloat(v, 32)
			if err != nil {
				continue
			}
			out = append(out, domain.IndexSample{
				Time:   r.Key.Start().Add(time.Duration(h-1) * time.Hour),
				Index:  "dst",
				Value:  float32(f),
				Source: source,
			})
		}
	}
	return out
}

// DSDSamples converts sunspot rows into daily samples. Negative or
// non-numeric values mark missing data.
func DSDSamples(rows []domain.Row, source string) []domain.IndexSample {
	var out []domain.IndexSample
	for _, r := range rows {
		if len(r.Values) < 4 {
			continue
		}
		f, err := strconv.ParseFloat(r.Values[3], 32)
		if err != nil || f < 0 {
			continue
		}
		out = append(out, domain.IndexSample{
			Time:   r.Key.Start(),
			Index:  "ssn",
			Value:  float32(f),
			Source: source,
		})
	}
	return out
}

// Cells returns the rendered cells of normalized rows.
func Cells(rows []domain.Row) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = r.Values
	}
	return out
}
