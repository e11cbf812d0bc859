package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/regwatch/internal/crosscheck"
	"github.com/sells-group/regwatch/internal/store"
)

var (
	crosscheckAll    bool
	crosscheckRegion string
	crosscheckLimit  int
)

var crosscheckCmd = &cobra.Command{
	Use:   "crosscheck",
	Short: "Cross-check merged records against their sources with the LLM scorer",
	Long:  "Sends the base, gazette and registry views of each record to the scorer and stores the verdict. By default only records without a verdict, or whose last check failed, are sent.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("crosscheck"); err != nil {
			return err
		}
		if cfg.Crosscheck.AnthropicKey == "" {
			zap.L().Warn("crosscheck.anthropic_key is not set, every verdict will be a fallback")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.ListRecords(ctx, store.RecordFilter{Region: crosscheckRegion})
		if err != nil {
			return eris.Wrap(err, "crosscheck: list records")
		}
		if !crosscheckAll {
			recs = crosscheck.Pending(recs)
		}
		if crosscheckLimit > 0 && len(recs) > crosscheckLimit {
			recs = recs[:crosscheckLimit]
		}

		rep, err := crosscheck.Batch(ctx, st, newScorer(), recs, cfg.Crosscheck.Concurrency)
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintf(os.Stdout, "checked=%d skipped=%d fallbacks=%d\n", rep.Checked, rep.Skipped, rep.Fallbacks)
		statuses := make([]string, 0, len(rep.ByStatus))
		for s := range rep.ByStatus {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		for _, s := range statuses {
			_, _ = fmt.Fprintf(os.Stdout, "  %s=%d\n", s, rep.ByStatus[s])
		}
		return nil
	},
}

func init() {
	crosscheckCmd.Flags().BoolVar(&crosscheckAll, "all", false, "re-check records that already have a verdict")
	crosscheckCmd.Flags().StringVar(&crosscheckRegion, "wilaya", "", "only records in this wilaya")
	crosscheckCmd.Flags().IntVar(&crosscheckLimit, "limit", 0, "maximum records to check (0 = all)")
	rootCmd.AddCommand(crosscheckCmd)
}
