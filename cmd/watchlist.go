package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/regwatch/internal/company"
	"github.com/sells-group/regwatch/internal/pipeline"
	"github.com/sells-group/regwatch/internal/store"
)

var (
	watchStatus string
	watchRegion string
	watchLimit  int
)

var watchlistCmd = &cobra.Command{
	Use:   "watchlist",
	Short: "Manage companies awaiting registry registration",
}

var watchlistBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Add base companies with no registry counterpart to the watch list",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("import"); err != nil {
			return err
		}
		loc := locations(pipeline.Locations{})
		if loc.Base == "" || loc.Registry == "" {
			return eris.New("watchlist build needs sources.base and sources.registry")
		}

		loader, err := newLoader()
		if err != nil {
			return err
		}
		u, err := loader.Load(ctx, pipeline.Locations{Base: loc.Base, Registry: loc.Registry})
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rep, err := newPipeline(st).BuildWatchlist(ctx, u.Base, u.Registry, cfg.Match.WatchIncludeReview)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stdout, "candidates=%d inserted=%d existing=%d\n", rep.Candidates, rep.Inserted, rep.Existing)
		return nil
	},
}

var watchlistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watch entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		status := company.WatchStatus(watchStatus)
		if status != "" && !status.Valid() {
			return eris.Errorf("unknown status %q", watchStatus)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.ListWatch(ctx, store.WatchFilter{Status: status, Region: watchRegion, Limit: watchLimit})
		if err != nil {
			return eris.Wrap(err, "watchlist list")
		}
		if len(entries) == 0 {
			zap.L().Info("no watch entries found, run 'watchlist build' or 'import watchlist' first")
			return nil
		}
		formatWatchEntries(os.Stdout, entries)
		return nil
	},
}

var watchlistArchiveCmd = &cobra.Command{
	Use:   "archive <id>...",
	Short: "Archive watch entries",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p := newPipeline(st)
		for _, id := range args {
			if _, err := p.SetWatchStatus(ctx, id, company.WatchArchived); err != nil {
				return eris.Wrapf(err, "archive %s", id)
			}
			zap.L().Info("watch entry archived", zap.String("id", id))
		}
		return nil
	},
}

func init() {
	watchlistListCmd.Flags().StringVar(&watchStatus, "status", "", "filter by status: watch, detected or archived")
	watchlistListCmd.Flags().StringVar(&watchRegion, "wilaya", "", "filter by wilaya")
	watchlistListCmd.Flags().IntVar(&watchLimit, "limit", 0, "maximum entries (0 = all)")
	watchlistCmd.AddCommand(watchlistBuildCmd, watchlistListCmd, watchlistArchiveCmd)
	rootCmd.AddCommand(watchlistCmd)
}

// formatWatchEntries writes a tabular representation of watch entries to out.
func formatWatchEntries(out io.Writer, entries []*company.WatchEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tWILAYA\tSTATUS\tDETECTED\tEXTERNAL ID")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t------\t--------\t-----------")
	for _, e := range entries {
		detected := "-"
		if e.DetectedAt != nil {
			detected = e.DetectedAt.Format("2006-01-02 15:04")
		}
		ext := e.ExternalID
		if ext == "" {
			ext = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", e.ID, e.Name, e.Region, e.Status, detected, ext)
	}
	_ = w.Flush()
}
