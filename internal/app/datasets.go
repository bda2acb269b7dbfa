package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jobrunner/spacefetch/internal/adapters/source"
	"github.com/jobrunner/spacefetch/internal/application"
	"github.com/jobrunner/spacefetch/internal/config"
	"github.com/jobrunner/spacefetch/internal/ports/output"
	"github.com/jobrunner/spacefetch/internal/tec"
)

// Archive directories, relative to the archive root.
const (
	swarmDir      = "Swarm"
	aceDir        = "ACE"
	dstDataDir    = "Dst/Data"
	dstDir        = "Dst"
	sunspotDir    = "SunspotNumber"
	gimRawDir     = "GimMap/TEMP/Z"
	gimTECDir     = "GimMap/TEC"
	dstPresentDir = "Dst/" + application.DstRealtime
)

// openers builds one source per run from the shared transport settings.
type openers struct {
	cfg    *config.Config
	logger *slog.Logger
}

func (o openers) http() application.SourceOpener {
	return func(context.Context) (output.RemoteSource, error) {
		return source.NewHTTPSource(source.HTTPConfig{
			UserAgent: o.cfg.HTTP.UserAgent,
			VerifyTLS: o.cfg.HTTP.VerifyTLS,
			Timeout:   o.cfg.HTTP.Timeout,
			Rate:      o.cfg.HTTP.Rate,
			Burst:     o.cfg.HTTP.Burst,
		}, o.logger), nil
	}
}

func (o openers) ftp(host string) application.SourceOpener {
	return func(context.Context) (output.RemoteSource, error) {
		return source.NewFTPSource(source.FTPConfig{
			Addr:     host,
			Username: o.cfg.FTP.Username,
			Password: o.cfg.FTP.Password,
			Timeout:  o.cfg.FTP.Timeout,
			Rate:     o.cfg.FTP.Rate,
			Burst:    o.cfg.FTP.Burst,
		}, o.logger), nil
	}
}

func (o openers) object(obj config.ObjectConfig) application.SourceOpener {
	switch obj.Type {
	case "azure":
		return func(context.Context) (output.RemoteSource, error) {
			return source.NewAzureSource(source.AzureConfig{
				Container:        obj.Container,
				AccountName:      obj.AccountName,
				AccountKey:       obj.AccountKey,
				ConnectionString: obj.ConnectionString,
				ServiceURL:       obj.ServiceURL,
			})
		}
	default:
		return func(ctx context.Context) (output.RemoteSource, error) {
			return source.NewS3Source(ctx, source.S3Config{
				Bucket:          obj.Bucket,
				Region:          obj.Region,
				Endpoint:        obj.Endpoint,
				AccessKeyID:     obj.AccessKeyID,
				SecretAccessKey: obj.SecretAccessKey,
				Anonymous:       obj.Anonymous,
			})
		}
	}
}

// NewGIMTransform builds the IONEX resampling transform from cfg.
func NewGIMTransform(cfg config.TECConfig) (*application.GIMTransform, error) {
	r, err := tec.NewResampler(tec.Method(cfg.Method), tec.Policy(cfg.Policy))
	if err != nil {
		return nil, err
	}
	return &application.GIMTransform{
		Resampler: r,
		Grid: tec.Grid{
			Lon: tec.Axis{Start: cfg.Lon.Start, End: cfg.Lon.End, Step: cfg.Lon.Step},
			Lat: tec.Axis{Start: cfg.Lat.Start, End: cfg.Lat.End, Step: cfg.Lat.Step},
		},
		TECDir:   gimTECDir,
		Maps:     cfg.Maps,
		Interval: cfg.Interval,
	}, nil
}

// BuildRegistry registers every dataset the configuration describes.
func BuildRegistry(cfg *config.Config, logger *slog.Logger) (*application.DatasetRegistry, error) {
	open := openers{cfg: cfg, logger: logger}
	registry := application.NewDatasetRegistry()

	gim, err := NewGIMTransform(cfg.TEC)
	if err != nil {
		return nil, fmt.Errorf("tec: %w", err)
	}

	swarmURL := strings.TrimRight(cfg.Swarm.BaseURL, "/")
	dstURL := strings.TrimRight(cfg.Dst.BaseURL, "/")
	byYear := application.DstVersionByYear(cfg.Dst.FinalUntil, cfg.Dst.ProvisionalUntil)

	datasets := []*application.Dataset{
		application.NewSwarmDataset(application.SwarmOptions{
			BaseURL:   swarmURL,
			Satellite: strings.ToUpper(cfg.Swarm.Satellite),
			Position:  cfg.Swarm.Position,
			MaxFiles:  cfg.Swarm.MaxFiles,
			Dir:       swarmDir,
		}, open.http()),
		application.NewACEDataset(application.ACEOptions{
			Host:         cfg.ACE.Host,
			RemoteDir:    cfg.ACE.Dir,
			Mode:         cfg.ACE.Mode,
			Dir:          aceDir,
			AssumeSorted: cfg.Run.AssumeSorted,
		}, open.ftp(cfg.ACE.Host)),
		dstDataset("dst", "Dst index, most definitive version per year", dstURL, dstDataDir, byYear, open.http()),
		dstDataset("dst-final", "Dst index, final values", dstURL, dstDir+"/"+application.DstFinal,
			application.DstFixedVersion(application.DstFinal), open.http()),
		dstDataset("dst-provisional", "Dst index, provisional values", dstURL, dstDir+"/"+application.DstProvisional,
			application.DstFixedVersion(application.DstProvisional), open.http()),
		dstDataset("dst-realtime", "Dst index, real-time values", dstURL, dstDir+"/"+application.DstRealtime,
			application.DstFixedVersion(application.DstRealtime), open.http()),
		{
			ID:          "dst-present",
			Description: "Dst index, current month pages",
			Transport:   output.SourceTypeHTTP,
			Remote:      dstURL,
			Open:        open.http(),
			Discoverer:  &application.DstPresent{BaseURL: dstURL, Dir: dstPresentDir},
			Transformer: application.DstTransform{},
		},
		{
			ID:          "sunspot",
			Description: "Daily sunspot numbers from NOAA quarterly DSD files",
			Transport:   output.SourceTypeFTP,
			Remote:      cfg.Sunspot.Host + cfg.Sunspot.Dir,
			Open:        open.ftp(cfg.Sunspot.Host),
			Discoverer:  &application.DSDQuarters{RemoteDir: cfg.Sunspot.Dir, Dir: sunspotDir},
			Transformer: application.DSDTransform{Dir: sunspotDir},
		},
		{
			ID:          "gim-tec",
			Description: "UQRG global ionosphere maps resampled to the regional TEC grid",
			Transport:   output.SourceTypeFTP,
			Remote:      cfg.TEC.Host + cfg.TEC.Dir,
			Open:        open.ftp(cfg.TEC.Host),
			Discoverer: &application.GIMDays{
				RemoteDir: cfg.TEC.Dir,
				RawDir:    gimRawDir,
				TECDir:    gimTECDir,
				Maps:      cfg.TEC.Maps,
				Interval:  cfg.TEC.Interval,
			},
			Transformer: gim,
		},
	}

	for _, obj := range cfg.Objects {
		remote := obj.Bucket
		transport := output.SourceTypeS3
		if obj.Type == "azure" {
			remote, transport = obj.Container, output.SourceTypeAzure
		}
		ds, err := application.NewObjectDataset(application.ObjectOptions{
			ID:          obj.ID,
			Transport:   transport,
			Remote:      remote,
			Prefix:      obj.Prefix,
			Pattern:     obj.Pattern,
			DatePattern: obj.DatePattern,
		}, open.object(obj))
		if err != nil {
			return nil, fmt.Errorf("object dataset %s: %w", obj.ID, err)
		}
		datasets = append(datasets, ds)
	}

	for _, ds := range datasets {
		if err := registry.Register(ds); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func dstDataset(id, desc, baseURL, dir string, version func(int) (string, bool), open application.SourceOpener) *application.Dataset {
	return &application.Dataset{
		ID:          id,
		Description: desc,
		Transport:   output.SourceTypeHTTP,
		Remote:      baseURL,
		Open:        open,
		Discoverer:  &application.DstMonths{BaseURL: baseURL, Dir: dir, Version: version},
		Transformer: application.DstTransform{},
	}
}
