// Package tec reads IONEX global ionosphere maps and resamples them onto
// regional grids.
package tec

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jobrunner/spacefetch/internal/domain"
)

// IONEX record labels start at column 61.
const labelColumn = 60

// IONEX labels used by the reader.
const (
	labelHeight      = "HGT1 / HGT2 / DHGT"
	labelLat         = "LAT1 / LAT2 / DLAT"
	labelLon         = "LON1 / LON2 / DLON"
	labelExponent    = "EXPONENT"
	labelEndHeader   = "END OF HEADER"
	labelStartTEC    = "START OF TEC MAP"
	labelEndTEC      = "END OF TEC MAP"
	labelStartRMS    = "START OF RMS MAP"
	labelEpoch       = "EPOCH OF CURRENT MAP"
	labelRow         = "LAT/LON1/LON2/DLON/H"
	valueWidth       = 5
	missingIONEX     = 9999
	axisEpsilon      = 1e-6
	defaultExponent  = -1
	headerFloatWidth = 6
)

// Axis is an evenly spaced coordinate axis, inclusive at both ends.
// Step may be negative (IONEX latitudes run north to south).
type Axis struct {
	Start float64
	End   float64
	Step  float64
}

// Len returns the number of nodes on the axis.
func (a Axis) Len() int {
	if a.Step == 0 {
		return 0
	}
	n := int(math.Round((a.End-a.Start)/a.Step)) + 1
	if n < 0 {
		return 0
	}
	return n
}

// Values returns the node coordinates in axis order.
func (a Axis) Values() []float64 {
	n := a.Len()
	out := make([]float64, n)
	for i := range out {
		out[i] = a.Start + a.Step*float64(i)
	}
	return out
}

// Header holds the IONEX header records the resampler needs.
type Header struct {
	Height   float64 // HGT1, km
	Lat      Axis
	Lon      Axis
	Exponent int
}

// Map is one TEC map; Values is indexed [lat][lon] in header axis order.
type Map struct {
	Epoch  time.Time
	Values [][]float64
}

// File is a decoded IONEX file.
type File struct {
	Header Header
	Maps   []Map
}

type ionexReader struct {
	sc   *bufio.Scanner
	line int
	file File
}

// ParseIONEX reads the header and every TEC map of an IONEX file.
// RMS and height maps that follow the TEC maps are not read.
func ParseIONEX(r io.Reader) (*File, error) {
	p := &ionexReader{sc: bufio.NewScanner(r)}
	p.file.Header.Exponent = defaultExponent
	if err := p.header(); err != nil {
		return nil, err
	}
	if err := p.maps(); err != nil {
		return nil, err
	}
	return &p.file, nil
}

func (p *ionexReader) next() (string, string, bool) {
	if !p.sc.Scan() {
		return "", "", false
	}
	p.line++
	text := p.sc.Text()
	if len(text) > labelColumn {
		// Data lines hold 16 I5 values and run past the label column.
		if label := strings.TrimSpace(text[labelColumn:]); isLabel(label) {
			return text[:labelColumn], label, true
		}
	}
	return text, "", true
}

func isLabel(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return c == '#' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func (p *ionexReader) fail(format string, args ...any) error {
	return &domain.DecodeError{Format: "ionex", Offset: p.line, Err: fmt.Errorf(format, args...)}
}

func (p *ionexReader) scanErr() error {
	if err := p.sc.Err(); err != nil {
		return &domain.DecodeError{Format: "ionex", Offset: p.line, Err: err}
	}
	return nil
}

func (p *ionexReader) header() error {
	h := &p.file.Header
	for {
		data, label, ok := p.next()
		if !ok {
			if err := p.scanErr(); err != nil {
				return err
			}
			return p.fail("missing %q: %w", labelEndHeader, domain.ErrShortRecord)
		}
		switch label {
		case labelHeight:
			v, err := headerFloats(data, 1)
			if err != nil {
				return p.fail("%s: %w", label, err)
			}
			h.Height = v[0]
		case labelLat:
			v, err := headerFloats(data, 3)
			if err != nil {
				return p.fail("%s: %w", label, err)
			}
			h.Lat = Axis{Start: v[0], End: v[1], Step: v[2]}
		case labelLon:
			v, err := headerFloats(data, 3)
			if err != nil {
				return p.fail("%s: %w", label, err)
			}
			h.Lon = Axis{Start: v[0], End: v[1], Step: v[2]}
		case labelExponent:
			e, err := strconv.Atoi(strings.TrimSpace(data))
			if err != nil {
				return p.fail("%s: %w", label, err)
			}
			h.Exponent = e
		case labelEndHeader:
			if h.Lat.Len() < 2 || h.Lon.Len() < 2 {
				return p.fail("grid %v x %v has fewer than two nodes per axis", h.Lat, h.Lon)
			}
			return nil
		}
	}
}

func (p *ionexReader) maps() error {
	h := p.file.Header
	lats := h.Lat.Values()
	nLon := h.Lon.Len()

	var cur *Map
	row := -1
	for {
		data, label, ok := p.next()
		if !ok {
			if err := p.scanErr(); err != nil {
				return err
			}
			if cur != nil {
				return p.fail("unterminated TEC map: %w", domain.ErrShortRecord)
			}
			return nil
		}

		switch label {
		case labelStartRMS:
			return nil
		case labelStartTEC:
			cur = &Map{Values: make([][]float64, 0, len(lats))}
			row = -1
		case labelEpoch:
			if cur == nil {
				continue
			}
			t, err := parseEpoch(data)
			if err != nil {
				return p.fail("%s: %w", label, err)
			}
			cur.Epoch = t
		case labelRow:
			if cur == nil {
				continue
			}
			v, err := headerFloats(data, 1)
			if err != nil {
				return p.fail("%s: %w", label, err)
			}
			row = len(cur.Values)
			if row >= len(lats) || math.Abs(v[0]-lats[row]) > axisEpsilon {
				return p.fail("unexpected latitude row %.1f", v[0])
			}
			cur.Values = append(cur.Values, make([]float64, 0, nLon))
		case labelEndTEC:
			if cur == nil {
				continue
			}
			if len(cur.Values) != len(lats) {
				return p.fail("map has %d latitude rows, want %d: %w", len(cur.Values), len(lats), domain.ErrShortRecord)
			}
			for i, r := range cur.Values {
				if len(r) != nLon {
					return p.fail("row %d has %d values, want %d: %w", i, len(r), nLon, domain.ErrShortRecord)
				}
			}
			p.file.Maps = append(p.file.Maps, *cur)
			cur = nil
		case "":
			if cur == nil || row < 0 {
				continue
			}
			vals, err := rowValues(data)
			if err != nil {
				return p.fail("%w", err)
			}
			cur.Values[row] = append(cur.Values[row], vals...)
		}
	}
}

// headerFloats reads n F6.1 fields following the two leading blanks.
func headerFloats(data string, n int) ([]float64, error) {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		start := 2 + i*headerFloatWidth
		end := start + headerFloatWidth
		if end > len(data) {
			return nil, fmt.Errorf("field %d: %w", i, domain.ErrShortRecord)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(data[start:end]), 64)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// rowValues reads I5 values; trailing fields may be cut short.
func rowValues(data string) ([]float64, error) {
	var out []float64
	for start := 0; start < len(data); start += valueWidth {
		end := min(start+valueWidth, len(data))
		s := strings.TrimSpace(data[start:end])
		if s == "" {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("value %q: %v: %w", s, err, domain.ErrDecode)
		}
		out = append(out, float64(v))
	}
	return out, nil
}

func parseEpoch(data string) (time.Time, error) {
	f := strings.Fields(data)
	if len(f) < 6 {
		return time.Time{}, domain.ErrShortRecord
	}
	var n [6]int
	for i := range n {
		v, err := strconv.Atoi(f[i])
		if err != nil {
			return time.Time{}, err
		}
		n[i] = v
	}
	return time.Date(n[0], time.Month(n[1]), n[2], n[3], n[4], n[5], 0, time.UTC), nil
}
