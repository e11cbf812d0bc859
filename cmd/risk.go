package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/regwatch/internal/pipeline"
	"github.com/sells-group/regwatch/internal/risk"
	"github.com/sells-group/regwatch/internal/store"
)

var (
	riskRegion  string
	riskJSON    bool
	statsRegion string
)

// population returns the scoring entities: the configured base table when
// one is set, otherwise the stored records.
func population(ctx context.Context) ([]risk.Entity, error) {
	if loc := locations(pipeline.Locations{}); loc.Base != "" {
		loader, err := newLoader()
		if err != nil {
			return nil, err
		}
		u, err := loader.Load(ctx, pipeline.Locations{Base: loc.Base})
		if err != nil {
			return nil, err
		}
		return u.RiskEntities(), nil
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	defer st.Close() //nolint:errcheck
	recs, err := st.ListRecords(ctx, store.RecordFilter{})
	if err != nil {
		return nil, err
	}
	return risk.FromRecords(recs), nil
}

var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Score wilayas for concentration and governance risk",
	RunE: func(cmd *cobra.Command, _ []string) error {
		entities, err := population(cmd.Context())
		if err != nil {
			return err
		}
		sc := risk.NewScorer(cfg.Risk)

		var scores []risk.RegionScore
		if riskRegion != "" {
			scores = []risk.RegionScore{sc.Region(riskRegion, entities)}
		} else {
			scores = sc.ScoreAll(entities)
		}

		if riskJSON {
			return writeIndented(os.Stdout, scores)
		}
		formatScores(os.Stdout, scores)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print national or per-wilaya company statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		entities, err := population(cmd.Context())
		if err != nil {
			return err
		}
		if statsRegion != "" {
			return writeIndented(os.Stdout, risk.Regional(statsRegion, entities))
		}
		return writeIndented(os.Stdout, risk.National(entities))
	},
}

func init() {
	riskCmd.Flags().StringVar(&riskRegion, "wilaya", "", "score a single wilaya")
	riskCmd.Flags().BoolVar(&riskJSON, "json", false, "print full records as JSON")
	statsCmd.Flags().StringVar(&statsRegion, "wilaya", "", "statistics for a single wilaya")
	rootCmd.AddCommand(riskCmd, statsCmd)
}

func writeIndented(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatScores writes a tabular summary of region scores to out.
func formatScores(out io.Writer, scores []risk.RegionScore) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "WILAYA\tCOUNT\tS1\tS2\tS3\tINDEX\tLEVEL\tFLAGS")
	_, _ = fmt.Fprintln(w, "------\t-----\t--\t--\t--\t-----\t-----\t-----")
	for _, s := range scores {
		codes := make([]string, 0, len(s.Flags))
		for _, f := range s.Flags {
			codes = append(codes, f.Code)
		}
		flags := strings.Join(codes, ",")
		if flags == "" {
			flags = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t%.2f\t%.1f\t%s\t%s\n",
			s.Region, s.Count, s.S1, s.S2, s.S3, s.Composite, s.Level, flags)
	}
	_ = w.Flush()
}
