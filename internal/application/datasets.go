package application

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/jobrunner/spacefetch/internal/decompress"
	"github.com/jobrunner/spacefetch/internal/domain"
	"github.com/jobrunner/spacefetch/internal/fixedwidth"
	"github.com/jobrunner/spacefetch/internal/ports/output"
	"github.com/jobrunner/spacefetch/internal/tec"
)

// SourceOpener opens one remote session for a run.
type SourceOpener func(ctx context.Context) (output.RemoteSource, error)

// Discoverer produces the fetch tasks of a run.
type Discoverer interface {
	Discover(ctx context.Context, src output.RemoteSource, window domain.DateWindow, now time.Time) ([]domain.FetchTask, error)
}

// Transformer turns a fetched payload into local artifacts.
type Transformer interface {
	Transform(task domain.FetchTask, payload []byte, now time.Time) (Output, error)
}

// Output is what a transform produces from one payload.
type Output struct {
	Artifacts []domain.Artifact
	Samples   []domain.IndexSample
}

// Dataset is one configured archive pull.
type Dataset struct {
	ID          string
	Description string
	Transport   output.SourceType
	Remote      string
	Open        SourceOpener
	Discoverer  Discoverer
	Transformer Transformer // nil stores the payload unchanged at the task's RawPath
}

// Info describes the dataset.
func (d *Dataset) Info() domain.DatasetInfo {
	return domain.DatasetInfo{
		ID:          d.ID,
		Description: d.Description,
		Transport:   string(d.Transport),
		Remote:      d.Remote,
		Transform:   d.Transformer != nil,
	}
}

func monthDir(root string, k domain.DateKey) string {
	return path.Join(root, fmt.Sprintf("%04d/%02d", k.Year, k.Month))
}

// ListingDiscovery lists a remote directory and selects entries by date.
type ListingDiscovery struct {
	Locator domain.Locator
	Filter  *NameFilter
	Path    func(e domain.RemoteEntry) string
}

// Discover implements Discoverer.
func (d *ListingDiscovery) Discover(ctx context.Context, src output.RemoteSource, window domain.DateWindow, _ time.Time) ([]domain.FetchTask, error) {
	entries, err := src.List(ctx, d.Locator)
	if err != nil {
		return nil, err
	}
	selected := d.Filter.Select(entries, window)
	tasks := make([]domain.FetchTask, 0, len(selected))
	for _, e := range selected {
		p := d.Path(e)
		tasks = append(tasks, domain.FetchTask{
			Entry:   e,
			RawPath: p,
			Targets: []string{p},
			State:   domain.StateDiscovered,
		})
	}
	return tasks, nil
}

// Swarm EFI Level 1b files on the ESA dissemination server.
const (
	swarmProductPath = "swarm%2FLevel1b%2FLatest_baselines%2FEFIx_LP%2FSat_"
	swarmDateToken   = `_1B_(?P<year>\d{4})(?P<month>\d{2})(?P<day>\d{2})T`
)

// SwarmOptions configures the Swarm EFI dataset.
type SwarmOptions struct {
	BaseURL   string
	Satellite string // A, B or C
	Position  int
	MaxFiles  int
	Dir       string
}

// NewSwarmDataset lists EFI LP 1B files for one satellite and stores them
// unopened under Dir/sat{X}.
func NewSwarmDataset(opts SwarmOptions, open SourceOpener) *Dataset {
	sat := opts.Satellite
	list := fmt.Sprintf("%s/?do=list&maxfiles=%d&pos=%d&file=%s%s", opts.BaseURL, opts.MaxFiles, opts.Position, swarmProductPath, sat)
	return &Dataset{
		ID:          "swarm-efi",
		Description: fmt.Sprintf("Swarm %s electric field instrument Langmuir probe, Level 1b", sat),
		Transport:   output.SourceTypeHTTP,
		Remote:      opts.BaseURL,
		Open:        open,
		Discoverer: &ListingDiscovery{
			Locator: domain.Locator{
				ListPath:    list,
				FetchPrefix: fmt.Sprintf("%s/?do=download&file=%s%s%%2F", opts.BaseURL, swarmProductPath, sat),
				Pattern:     fmt.Sprintf(`"SW_OPER_EFI%s_LP_1B_\d+T\d+_\d+T\d+_05\d+.CDF.ZIP"`, sat),
			},
			Filter: MustNameFilter(swarmDateToken),
			Path: func(e domain.RemoteEntry) string {
				return path.Join(opts.Dir, "sat"+sat, e.Name)
			},
		},
	}
}

// ACEOptions configures the ACE real-time solar wind lists.
type ACEOptions struct {
	Host         string
	RemoteDir    string
	Mode         string // swepam_1h, mag_1m, ...
	Dir          string
	AssumeSorted bool
}

// NewACEDataset lists daily ACE files of one mode and stores them by month.
func NewACEDataset(opts ACEOptions, open SourceOpener) *Dataset {
	filter := MustNameFilter(`^(?P<year>\d{4})(?P<month>\d{2})(?P<day>\d{2})_`)
	filter.AssumeSorted = opts.AssumeSorted
	return &Dataset{
		ID:          "ace",
		Description: "ACE real-time solar wind and IMF lists (" + opts.Mode + ")",
		Transport:   output.SourceTypeFTP,
		Remote:      opts.Host + opts.RemoteDir,
		Open:        open,
		Discoverer: &ListingDiscovery{
			Locator: domain.Locator{
				ListPath: opts.RemoteDir,
				Pattern:  "*_ace_" + opts.Mode + ".txt",
			},
			Filter: filter,
			Path: func(e domain.RemoteEntry) string {
				return path.Join(monthDir(path.Join(opts.Dir, opts.Mode), e.Key), e.Name)
			},
		},
	}
}

// ObjectOptions configures a dataset read from an object store prefix.
type ObjectOptions struct {
	ID          string
	Transport   output.SourceType
	Remote      string
	Prefix      string
	Pattern     string
	DatePattern string
	Dir         string
}

// NewObjectDataset lists an S3 or Azure prefix and stores matches by month.
func NewObjectDataset(opts ObjectOptions, open SourceOpener) (*Dataset, error) {
	filter, err := NewNameFilter(opts.DatePattern)
	if err != nil {
		return nil, err
	}
	dir := opts.Dir
	if dir == "" {
		dir = opts.ID
	}
	return &Dataset{
		ID:          opts.ID,
		Description: fmt.Sprintf("objects under %s/%s", opts.Remote, opts.Prefix),
		Transport:   opts.Transport,
		Remote:      opts.Remote,
		Open:        open,
		Discoverer: &ListingDiscovery{
			Locator: domain.Locator{ListPath: opts.Prefix, Pattern: opts.Pattern},
			Filter:  filter,
			Path: func(e domain.RemoteEntry) string {
				return path.Join(monthDir(dir, e.Key), e.Name)
			},
		},
	}, nil
}

// Dst archive versions on the WDC Kyoto server.
const (
	DstFinal       = "dst_final"
	DstProvisional = "dst_provisional"
	DstRealtime    = "dst_realtime"
	dstFirstYear   = 1957
)

// DstVersionByYear picks the most definitive archive holding a year.
func DstVersionByYear(finalUntil, provisionalUntil int) func(int) (string, bool) {
	return func(year int) (string, bool) {
		switch {
		case year < dstFirstYear:
			return "", false
		case year <= finalUntil:
			return DstFinal, true
		case year <= provisionalUntil:
			return DstProvisional, true
		default:
			return DstRealtime, true
		}
	}
}

// DstFixedVersion always reads one archive version.
func DstFixedVersion(version string) func(int) (string, bool) {
	return func(year int) (string, bool) {
		return version, year >= dstFirstYear
	}
}

// DstMonths enumerates completed months of a Dst archive.
// The running month is published separately as presentmonth.
type DstMonths struct {
	BaseURL string
	Dir     string
	Version func(year int) (string, bool)
}

// Discover implements Discoverer.
func (d *DstMonths) Discover(_ context.Context, _ output.RemoteSource, window domain.DateWindow, now time.Time) ([]domain.FetchTask, error) {
	current := domain.DateKeyFromTime(now).MonthKey()
	var tasks []domain.FetchTask
	for _, m := range window.Months() {
		if !m.Start().Before(current.Start()) {
			break
		}
		version, ok := d.Version(m.Year)
		if !ok {
			continue
		}
		name := version + "/" + m.Compact() + "/index.html"
		target := path.Join(d.Dir, m.Compact()+".txt")
		tasks = append(tasks, domain.FetchTask{
			Entry: domain.RemoteEntry{
				Name:     name,
				Location: d.BaseURL + "/" + name,
				Key:      m,
			},
			Targets: []string{target},
			State:   domain.StateDiscovered,
		})
	}
	return tasks, nil
}

// DstPresent yields the running month's real-time page, refetched on every
// run, and the just finished month from the lastmonth page, fetched once.
type DstPresent struct {
	BaseURL string
	Dir     string
}

// PresentMonthFile is the name of the running month's file.
const PresentMonthFile = "presentmonth.txt"

// Discover implements Discoverer.
func (d *DstPresent) Discover(_ context.Context, _ output.RemoteSource, window domain.DateWindow, now time.Time) ([]domain.FetchTask, error) {
	current := domain.DateKeyFromTime(now).MonthKey()
	last := domain.DateKeyFromTime(current.Start().AddDate(0, -1, 0)).MonthKey()

	var tasks []domain.FetchTask
	if window.Contains(last) {
		tasks = append(tasks, d.task("lastmonth", last, path.Join(d.Dir, last.Compact()+".txt"), false))
	}
	if window.Contains(current) {
		tasks = append(tasks, d.task("presentmonth", current, path.Join(d.Dir, PresentMonthFile), true))
	}
	return tasks, nil
}

func (d *DstPresent) task(page string, key domain.DateKey, target string, volatile bool) domain.FetchTask {
	name := DstRealtime + "/" + page + "/index.html"
	return domain.FetchTask{
		Entry: domain.RemoteEntry{
			Name:     name,
			Location: d.BaseURL + "/" + name,
			Key:      key,
		},
		Targets:  []string{target},
		Volatile: volatile,
		State:    domain.StateDiscovered,
	}
}

// DstTransform extracts the hourly table from a WDC month page.
type DstTransform struct{}

// Transform implements Transformer.
func (DstTransform) Transform(task domain.FetchTask, payload []byte, _ time.Time) (Output, error) {
	text, err := fixedwidth.PreText(payload)
	if err != nil {
		return Output{}, err
	}
	records, err := fixedwidth.Parse(text, fixedwidth.DstLayout)
	if err != nil {
		return Output{}, err
	}
	rows, err := fixedwidth.DstRows(records, task.Entry.Key.MonthKey())
	if err != nil {
		return Output{}, err
	}
	if len(rows) == 0 {
		return Output{}, &domain.DecodeError{Format: "dst", Offset: -1, Err: fmt.Errorf("no day records: %w", domain.ErrShortRecord)}
	}
	target := task.Targets[0]
	return Output{
		Artifacts: []domain.Artifact{{
			Path:      target,
			Data:      []byte(fixedwidth.RenderString(fixedwidth.DstTable, fixedwidth.Cells(rows))),
			Overwrite: task.Volatile,
		}},
		Samples: fixedwidth.DstSamples(rows, target),
	}, nil
}

// DSDQuarters enumerates SWPC quarterly DSD files.
type DSDQuarters struct {
	RemoteDir string
	Dir       string
}

// SunspotPath is the monthly sunspot file of key; the running month goes to
// presentmonth.txt.
func SunspotPath(dir string, key, current domain.DateKey) string {
	if key.MonthKey() == current.MonthKey() {
		return path.Join(dir, PresentMonthFile)
	}
	return path.Join(dir, fmt.Sprintf("%04d", key.Year), key.MonthKey().Compact()+".txt")
}

// Discover implements Discoverer.
func (d *DSDQuarters) Discover(_ context.Context, _ output.RemoteSource, window domain.DateWindow, now time.Time) ([]domain.FetchTask, error) {
	current := domain.DateKeyFromTime(now).MonthKey()
	seen := make(map[domain.DateKey]bool)
	var tasks []domain.FetchTask
	for _, m := range window.Months() {
		if m.Start().After(current.Start()) {
			break
		}
		q := domain.DateKey{Year: m.Year, Month: (m.Quarter()-1)*3 + 1}
		if seen[q] {
			continue
		}
		seen[q] = true

		var targets []string
		volatile := false
		for i := 0; i < 3; i++ {
			mk := domain.DateKey{Year: q.Year, Month: q.Month + i}
			if mk.Start().After(current.Start()) {
				break
			}
			if mk == current {
				volatile = true
			}
			targets = append(targets, SunspotPath(d.Dir, mk, current))
		}

		name := fmt.Sprintf("%04dQ%d_DSD.txt", q.Year, q.Quarter())
		tasks = append(tasks, domain.FetchTask{
			Entry: domain.RemoteEntry{
				Name:     name,
				Location: path.Join(d.RemoteDir, name),
				Key:      q,
			},
			Targets:     targets,
			Volatile:    volatile,
			CheckRemote: true,
			State:       domain.StateDiscovered,
		})
	}
	return tasks, nil
}

// DSDTransform splits a quarter file into monthly sunspot tables.
type DSDTransform struct {
	Dir string
}

// Transform implements Transformer.
func (t DSDTransform) Transform(task domain.FetchTask, payload []byte, now time.Time) (Output, error) {
	records, err := fixedwidth.Parse(string(payload), fixedwidth.DSDLayout)
	if err != nil {
		return Output{}, err
	}
	rows, err := fixedwidth.DSDRows(records)
	if err != nil {
		return Output{}, err
	}
	groups, err := fixedwidth.GroupByPeriod(rows, fixedwidth.MonthOf)
	if err != nil {
		return Output{}, err
	}

	current := domain.DateKeyFromTime(now).MonthKey()
	var out Output
	for _, g := range groups {
		p := SunspotPath(t.Dir, g.Key, current)
		out.Artifacts = append(out.Artifacts, domain.Artifact{
			Path:      p,
			Data:      []byte(fixedwidth.RenderString(fixedwidth.DSDTable, fixedwidth.Cells(g.Rows))),
			Overwrite: g.Key == current,
		})
		out.Samples = append(out.Samples, fixedwidth.DSDSamples(g.Rows, p)...)
	}
	return out, nil
}

// GIMDays enumerates the daily UQRG global ionosphere maps.
type GIMDays struct {
	RemoteDir string
	RawDir    string
	TECDir    string
	Maps      int
	Interval  time.Duration
}

// GIMName is the remote file name of day's UQRG map.
func GIMName(day domain.DateKey) string {
	return fmt.Sprintf("uqrg%03d0.%02di.Z", day.DayOfYear(), day.Year%100)
}

// Discover implements Discoverer.
func (d *GIMDays) Discover(_ context.Context, _ output.RemoteSource, window domain.DateWindow, now time.Time) ([]domain.FetchTask, error) {
	today := domain.DateKeyFromTime(now)
	var tasks []domain.FetchTask
	for _, day := range window.Days() {
		if day.Start().After(today.Start()) {
			break
		}
		name := GIMName(day)
		sub := fmt.Sprintf("%04d/%03d", day.Year, day.DayOfYear())
		tasks = append(tasks, domain.FetchTask{
			Entry: domain.RemoteEntry{
				Name:     name,
				Location: path.Join(d.RemoteDir, sub, name),
				Key:      day,
			},
			RawPath:     path.Join(d.RawDir, sub, name),
			Targets:     tec.ExpectedSlices(d.TECDir, day, d.Maps, d.Interval),
			CheckRemote: true,
			State:       domain.StateDiscovered,
		})
	}
	return tasks, nil
}

// GIMTransform expands an IONEX file and writes one regional TEC raster per map.
type GIMTransform struct {
	Resampler *tec.Resampler
	Grid      tec.Grid
	TECDir    string
	Maps      int
	Interval  time.Duration // zero selects tec.DefaultInterval
}

func (t *GIMTransform) interval() time.Duration {
	if t.Interval <= 0 {
		return tec.DefaultInterval
	}
	return t.Interval
}

// Transform implements Transformer. The expanded IONEX file is kept next to
// the raw download.
func (t *GIMTransform) Transform(task domain.FetchTask, payload []byte, _ time.Time) (Output, error) {
	var out Output
	name := task.Entry.Name
	if decompress.IsCompressed(name) && task.RawPath != "" {
		data, err := decompress.Bytes(task.Entry.Name, payload)
		if err != nil {
			return Output{}, err
		}
		out.Artifacts = append(out.Artifacts, domain.Artifact{
			Path: path.Join(path.Dir(task.RawPath), decompress.Strip(task.Entry.Name)),
			Data: data,
		})
		payload = data
		name = decompress.Strip(name)
	}
	slices, err := t.Slices(name, payload)
	if err != nil {
		return Output{}, err
	}
	out.Artifacts = append(out.Artifacts, slices...)
	return out, nil
}

// Slices resamples an IONEX payload, compressed or not, into raster artifacts.
func (t *GIMTransform) Slices(name string, payload []byte) ([]domain.Artifact, error) {
	data, err := decompress.Bytes(name, payload)
	if err != nil {
		return nil, err
	}
	f, err := tec.ParseIONEX(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	rasters, err := t.Resampler.Day(f, t.Grid, t.Maps)
	if err != nil {
		return nil, err
	}
	if len(rasters) == 0 {
		return nil, &domain.DecodeError{Format: "ionex", Offset: -1, Err: fmt.Errorf("no TEC maps: %w", domain.ErrShortRecord)}
	}

	artifacts := make([]domain.Artifact, 0, len(rasters))
	for _, r := range rasters {
		var buf bytes.Buffer
		if err := tec.RenderSlice(&buf, r); err != nil {
			return nil, err
		}
		day := domain.DateKeyFromTime(r.Epoch)
		artifacts = append(artifacts, domain.Artifact{
			Path: path.Join(tec.SliceDir(t.TECDir, day), tec.SliceName(r.Epoch)),
			Data: buf.Bytes(),
		})
	}
	return artifacts, nil
}
