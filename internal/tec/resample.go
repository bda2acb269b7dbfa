package tec

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/interp"

	"github.com/jobrunner/spacefetch/internal/domain"
)

// Method selects the one-dimensional interpolant applied along each axis.
type Method string

// Interpolation methods.
const (
	MethodCubic  Method = "cubic" // natural cubic spline
	MethodAkima  Method = "akima"
	MethodLinear Method = "linear"
)

// Policy decides what happens to target nodes outside the native grid.
type Policy string

// Extrapolation policies.
const (
	PolicyClamp   Policy = "clamp"   // hold the nearest edge value
	PolicyMissing Policy = "missing" // write MissingValue
)

// MissingValue marks target nodes without an interpolated value.
const MissingValue = 9999.0

// DefaultRegion is the regional grid written for each map.
var DefaultRegion = Grid{
	Lon: Axis{Start: 70, End: 135, Step: 1},
	Lat: Axis{Start: 10, End: 55, Step: 1},
}

// Grid is a regular target raster.
type Grid struct {
	Lon Axis
	Lat Axis
}

// Raster is one resampled map; Values is indexed [lon][lat].
type Raster struct {
	Epoch  time.Time
	Height float64
	Lon    []float64
	Lat    []float64
	Values [][]float64
}

// Resampler interpolates native IONEX maps onto a target grid.
// The surface is built separably: first along longitude for every native
// latitude row, then along latitude for every target longitude. Values at
// target nodes that coincide with native nodes are reproduced exactly.
type Resampler struct {
	Method Method
	Policy Policy
}

// NewResampler validates method and policy. Empty values select the defaults.
func NewResampler(method Method, policy Policy) (*Resampler, error) {
	if method == "" {
		method = MethodCubic
	}
	if policy == "" {
		policy = PolicyClamp
	}
	if _, err := newPredictor(method); err != nil {
		return nil, err
	}
	switch policy {
	case PolicyClamp, PolicyMissing:
	default:
		return nil, &domain.ConfigError{Field: "tec.policy", Message: fmt.Sprintf("unknown policy %q", policy)}
	}
	return &Resampler{Method: method, Policy: policy}, nil
}

func newPredictor(m Method) (interp.FittablePredictor, error) {
	switch m {
	case MethodCubic:
		return &interp.NaturalCubic{}, nil
	case MethodAkima:
		return &interp.AkimaSpline{}, nil
	case MethodLinear:
		return &interp.PiecewiseLinear{}, nil
	}
	return nil, &domain.ConfigError{Field: "tec.method", Message: fmt.Sprintf("unknown method %q", m)}
}

// axisOrder returns the native coordinates ascending with the permutation
// that maps ascending position to native index.
func axisOrder(a Axis) ([]float64, []int) {
	vals := a.Values()
	idx := make([]int, len(vals))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return vals[idx[i]] < vals[idx[j]] })
	sorted := make([]float64, len(vals))
	for i, k := range idx {
		sorted[i] = vals[k]
	}
	return sorted, idx
}

// Resample interpolates one native map onto target.
func (r *Resampler) Resample(h Header, m Map, target Grid) (Raster, error) {
	nativeLat, latIdx := axisOrder(h.Lat)
	nativeLon, lonIdx := axisOrder(h.Lon)
	if len(m.Values) != len(nativeLat) {
		return Raster{}, &domain.DecodeError{
			Format: "ionex",
			Offset: -1,
			Err:    fmt.Errorf("map has %d rows, header declares %d: %w", len(m.Values), len(nativeLat), domain.ErrShortRecord),
		}
	}

	lons := target.Lon.Values()
	lats := target.Lat.Values()

	// Stage 1: along longitude, one fit per native latitude row.
	stage := make([][]float64, len(nativeLat))
	ys := make([]float64, len(nativeLon))
	for i, li := range latIdx {
		row := m.Values[li]
		if len(row) != len(nativeLon) {
			return Raster{}, &domain.DecodeError{
				Format: "ionex",
				Offset: -1,
				Err:    fmt.Errorf("row %d has %d values, want %d: %w", li, len(row), len(nativeLon), domain.ErrShortRecord),
			}
		}
		for j, k := range lonIdx {
			ys[j] = row[k]
		}
		p, err := r.fit(nativeLon, ys)
		if err != nil {
			return Raster{}, err
		}
		stage[i] = make([]float64, len(lons))
		for j, x := range lons {
			stage[i][j] = p.Predict(x)
		}
	}

	// Stage 2: along latitude, one fit per target longitude.
	out := Raster{
		Epoch:  m.Epoch,
		Height: h.Height,
		Lon:    lons,
		Lat:    lats,
		Values: make([][]float64, len(lons)),
	}
	col := make([]float64, len(nativeLat))
	for j := range lons {
		for i := range nativeLat {
			col[i] = stage[i][j]
		}
		p, err := r.fit(nativeLat, col)
		if err != nil {
			return Raster{}, err
		}
		out.Values[j] = make([]float64, len(lats))
		for k, y := range lats {
			out.Values[j][k] = p.Predict(y)
		}
	}

	if r.Policy == PolicyMissing {
		r.markOutside(&out, nativeLon, nativeLat)
	}
	return out, nil
}

func (r *Resampler) fit(xs, ys []float64) (interp.Predictor, error) {
	p, err := newPredictor(r.Method)
	if err != nil {
		return nil, err
	}
	if err := p.Fit(xs, ys); err != nil {
		return nil, &domain.DecodeError{Format: "ionex", Offset: -1, Err: fmt.Errorf("fit %s: %v: %w", r.Method, err, domain.ErrDecode)}
	}
	return p, nil
}

func (r *Resampler) markOutside(out *Raster, lon, lat []float64) {
	lonMin, lonMax := lon[0], lon[len(lon)-1]
	latMin, latMax := lat[0], lat[len(lat)-1]
	for j, x := range out.Lon {
		for k, y := range out.Lat {
			if x < lonMin || x > lonMax || y < latMin || y > latMax {
				out.Values[j][k] = MissingValue
			}
		}
	}
}

// Day resamples every map of f that falls on the day of the first map, up to
// limit maps (0 means no limit). The closing 24:00 map belongs to the next day
// and is dropped.
func (r *Resampler) Day(f *File, target Grid, limit int) ([]Raster, error) {
	if len(f.Maps) == 0 {
		return nil, nil
	}
	day := domain.DateKeyFromTime(f.Maps[0].Epoch)
	var out []Raster
	for _, m := range f.Maps {
		if limit > 0 && len(out) == limit {
			break
		}
		if domain.DateKeyFromTime(m.Epoch) != day {
			continue
		}
		ras, err := r.Resample(f.Header, m, target)
		if err != nil {
			return nil, fmt.Errorf("map %s: %w", m.Epoch.Format(time.RFC3339), err)
		}
		out = append(out, ras)
	}
	return out, nil
}
