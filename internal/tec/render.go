package tec

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/jobrunner/spacefetch/internal/domain"
)

// Defaults for the daily map cadence.
const (
	DefaultMapsPerDay = 96
	DefaultInterval   = 15 * time.Minute
)

// SliceName is the file name of the raster for epoch t.
func SliceName(t time.Time) string {
	return "Ass" + t.UTC().Format("200601021504") + "00TEC.txt"
}

// SliceDir is the directory of day's rasters below root.
func SliceDir(root string, day domain.DateKey) string {
	return path.Join(root, fmt.Sprintf("%04d/%02d/%02d", day.Year, day.Month, day.Day))
}

// ExpectedSlices lists the raster paths a complete day produces.
func ExpectedSlices(root string, day domain.DateKey, maps int, interval time.Duration) []string {
	dir := SliceDir(root, day)
	out := make([]string, maps)
	for i := range out {
		out[i] = path.Join(dir, SliceName(day.Start().Add(time.Duration(i)*interval)))
	}
	return out
}

// RenderSlice writes the five header lines followed by one
// "lon lat value" triple per node, longitude-major.
func RenderSlice(w io.Writer, r Raster) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# Date: %s\n", r.Epoch.UTC().Format(time.DateTime))
	fmt.Fprintf(bw, "# Ionospheric TEC Parameter\n")
	fmt.Fprintf(bw, "# TEC values in 0.1 TECUs; %6.1fkm\n", r.Height)
	fmt.Fprintf(bw, "#----------------------------------------\n")
	fmt.Fprintf(bw, "  Long    Lat    TEC\n")
	for j, lon := range r.Lon {
		for k, lat := range r.Lat {
			if _, err := fmt.Fprintf(bw, "%6.1f %6.1f %6.1f\n", lon, lat, r.Values[j][k]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
