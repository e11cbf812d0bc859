package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/regwatch/internal/pipeline"
)

var importFile string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a source table into the store",
	Long:  "Loads one source table and merges it into the stored company records. Enrichment rows are linked by identity key first, then by fuzzy name match.",
}

// importRun wires the shared setup of every import subcommand.
func importRun(load func(ctx context.Context, l *pipeline.Loader, p *pipeline.Pipeline, loc pipeline.Locations) (*pipeline.Report, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("import"); err != nil {
			return err
		}

		loader, err := newLoader()
		if err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rep, err := load(ctx, loader, newPipeline(st), locations(pipeline.Locations{}))
		if err != nil {
			return err
		}
		formatReport(os.Stdout, rep)
		return nil
	}
}

func fileOr(configured, what string) (string, error) {
	if importFile != "" {
		return importFile, nil
	}
	if configured == "" {
		return "", eris.Errorf("no %s table: pass --file or set sources.%s", what, what)
	}
	return configured, nil
}

var importBaseCmd = &cobra.Command{
	Use:   "base",
	Short: "Import the citizen-company base export",
	RunE: importRun(func(ctx context.Context, l *pipeline.Loader, p *pipeline.Pipeline, loc pipeline.Locations) (*pipeline.Report, error) {
		path, err := fileOr(loc.Base, "base")
		if err != nil {
			return nil, err
		}
		entities, err := l.LoadBase(ctx, path)
		if err != nil {
			return nil, err
		}
		return p.ImportBase(ctx, entities)
	}),
}

var importGazetteCmd = &cobra.Command{
	Use:   "gazette",
	Short: "Import official gazette announcements",
	RunE: importRun(func(ctx context.Context, l *pipeline.Loader, p *pipeline.Pipeline, loc pipeline.Locations) (*pipeline.Report, error) {
		path, err := fileOr(loc.Gazette, "gazette")
		if err != nil {
			return nil, err
		}
		entities, err := l.LoadGazette(ctx, path)
		if err != nil {
			return nil, err
		}
		return p.ImportGazette(ctx, entities)
	}),
}

var importRegistryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Import the commercial registry aggregator export",
	RunE: importRun(func(ctx context.Context, l *pipeline.Loader, p *pipeline.Pipeline, loc pipeline.Locations) (*pipeline.Report, error) {
		path, err := fileOr(loc.Registry, "registry")
		if err != nil {
			return nil, err
		}
		entities, skipped, err := l.LoadRegistry(ctx, path)
		if err != nil {
			return nil, err
		}
		rep, err := p.ImportRegistry(ctx, entities)
		if err != nil {
			return nil, err
		}
		rep.Rows += skipped
		rep.Skipped += skipped
		return rep, nil
	}),
}

var importWatchlistCmd = &cobra.Command{
	Use:   "watchlist",
	Short: "Import a prepared watch list",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("import"); err != nil {
			return err
		}
		path, err := fileOr(cfg.Sources.Watchlist, "watchlist")
		if err != nil {
			return err
		}
		loader, err := newLoader()
		if err != nil {
			return err
		}
		rows, err := loader.LoadWatchlist(ctx, path)
		if err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rep, err := newPipeline(st).ImportWatchlist(ctx, rows)
		if err != nil {
			return err
		}
		zap.L().Info("watch list import complete",
			zap.String("file", path),
			zap.Int("inserted", rep.Inserted),
			zap.Int("existing", rep.Existing),
		)
		return nil
	},
}

func init() {
	importCmd.PersistentFlags().StringVar(&importFile, "file", "", "source table path or URL (default from config)")
	importCmd.AddCommand(importBaseCmd, importGazetteCmd, importRegistryCmd, importWatchlistCmd)
	rootCmd.AddCommand(importCmd)
}

// formatReport writes an import summary and its review queue to out.
func formatReport(out io.Writer, rep *pipeline.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tROWS\tCREATED\tUPDATED\tSKIPPED\tREVIEW\tDETECTED\tELAPSED")
	_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
		rep.Source, rep.Rows, rep.Created, rep.Updated, rep.Skipped, rep.Review, rep.Detected, rep.Elapsed.Round(time.Millisecond))
	_ = w.Flush()

	if len(rep.Reviews) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REF\tNAME\tCANDIDATE\tMATCHED\tSCORE")
	for _, o := range rep.Reviews {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f\n", o.SourceRef, o.SourceName, o.CandidateRef, o.MatchedName, o.Score)
	}
	_ = w.Flush()
}
