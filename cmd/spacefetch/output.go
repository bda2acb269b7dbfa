package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jobrunner/spacefetch/internal/domain"
)

func printSummaries(w io.Writer, summaries []domain.Summary) {
	if len(summaries) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATASET\tCANDIDATES\tFETCHED\tSKIPPED\tFAILED\tBYTES\tDURATION\tERROR")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			s.Dataset, s.TotalCandidates, s.Fetched, s.SkippedExisting, s.Failed,
			s.Bytes, s.Duration.Round(time.Millisecond), s.Error)
	}
	_ = tw.Flush()
}

func printDatasets(w io.Writer, format string, states []domain.DatasetState) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(states)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(states); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTRANSPORT\tREMOTE\tSTATUS\tDESCRIPTION")
		for _, s := range states {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Transport, s.Remote, s.Status, s.Description)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
