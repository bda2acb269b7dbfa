package application

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strconv"
	"time"

	"github.com/jobrunner/spacefetch/internal/domain"
	"github.com/jobrunner/spacefetch/internal/ports/output"
	"github.com/jobrunner/spacefetch/internal/tec"
)

var (
	// uqrgDDD0.YYi, optionally compressed.
	ionexName = regexp.MustCompile(`^[a-z]{4}(\d{3})0\.(\d{2})i(\.Z|\.gz)?$`)
	dsdName   = regexp.MustCompile(`^(\d{4})Q([1-4])_DSD\.txt$`)
)

// PostResult reports what one local file produced.
type PostResult struct {
	Kind    string `json:"kind"` // ionex, dsd
	Written int    `json:"written"`
	Kept    int    `json:"kept"`
	Samples int    `json:"samples"`
}

// PostProcessor runs the transforms on files that arrive outside a fetch,
// such as raw products dropped into a watched directory by another process.
type PostProcessor struct {
	archive   output.Archive
	gim       *GIMTransform
	dsd       *DSDTransform
	exporters []output.IndexExporter
	logger    *slog.Logger
	now       func() time.Time
}

// NewPostProcessor creates a post-processor. A nil transform disables that
// file kind.
func NewPostProcessor(archive output.Archive, gim *GIMTransform, dsd *DSDTransform, logger *slog.Logger, exporters ...output.IndexExporter) *PostProcessor {
	return &PostProcessor{
		archive:   archive,
		gim:       gim,
		dsd:       dsd,
		exporters: exporters,
		logger:    logger,
		now:       time.Now,
	}
}

// Accepts reports whether name is a file kind the post-processor handles.
func (p *PostProcessor) Accepts(name string) bool {
	name = path.Base(name)
	return (p.gim != nil && ionexName.MatchString(name)) || (p.dsd != nil && dsdName.MatchString(name))
}

// Process transforms one payload identified by its file name and writes the
// artifacts into the archive.
func (p *PostProcessor) Process(ctx context.Context, name string, payload []byte) (PostResult, error) {
	name = path.Base(name)
	logger := p.logger.With("name", name)

	var (
		out Output
		res PostResult
		err error
	)
	switch {
	case p.gim != nil && ionexName.MatchString(name):
		res.Kind = "ionex"
		if day, ok := ionexDay(name); ok {
			done, existErr := p.allExist(tec.ExpectedSlices(p.gim.TECDir, day, p.gim.Maps, p.gim.interval()))
			if existErr != nil {
				return res, existErr
			}
			if done {
				logger.Debug("all slices exist, skipping", "day", day.String())
				res.Kept = p.gim.Maps
				return res, nil
			}
		}
		out.Artifacts, err = p.gim.Slices(name, payload)
	case p.dsd != nil && dsdName.MatchString(name):
		res.Kind = "dsd"
		out, err = p.dsd.Transform(domain.FetchTask{Entry: domain.RemoteEntry{Name: name}}, payload, p.now())
	default:
		return res, fmt.Errorf("%w: unrecognized file %s", domain.ErrInvalidInput, name)
	}
	if err != nil {
		return res, &domain.FetchError{Operation: "transform", Name: name, Err: err}
	}

	for _, a := range out.Artifacts {
		if !a.Overwrite {
			ok, err := p.archive.Exists(a.Path)
			if err != nil {
				return res, err
			}
			if ok {
				res.Kept++
				continue
			}
		}
		if err := p.archive.WriteBytes(a.Path, a.Data); err != nil {
			return res, &domain.FetchError{Operation: "persist", Name: a.Path, Err: err}
		}
		res.Written++
	}

	if len(out.Samples) > 0 {
		res.Samples = len(out.Samples)
		for _, e := range p.exporters {
			if err := e.Export(context.WithoutCancel(ctx), out.Samples); err != nil {
				logger.Warn("failed to export samples", "count", len(out.Samples), "error", err)
			}
		}
	}

	logger.Info("post-processed file", "kind", res.Kind, "written", res.Written, "kept", res.Kept)
	return res, nil
}

func (p *PostProcessor) allExist(paths []string) (bool, error) {
	for _, pth := range paths {
		ok, err := p.archive.Exists(pth)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// ionexDay recovers the day from a daily IONEX file name. Two-digit years
// below 80 are taken as 20xx.
func ionexDay(name string) (domain.DateKey, bool) {
	m := ionexName.FindStringSubmatch(name)
	if m == nil {
		return domain.DateKey{}, false
	}
	doy, _ := strconv.Atoi(m[1])
	yy, _ := strconv.Atoi(m[2])
	year := 1900 + yy
	if yy < 80 {
		year = 2000 + yy
	}
	t := time.Date(year, time.January, doy, 0, 0, 0, 0, time.UTC)
	if doy < 1 || t.Year() != year {
		return domain.DateKey{}, false
	}
	return domain.DateKeyFromTime(t), true
}
