package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/regwatch/internal/company"
	"github.com/sells-group/regwatch/internal/match"
	"github.com/sells-group/regwatch/internal/pipeline"
)

var (
	linkBase    string
	linkAgainst string
	linkProfile string
	linkOut     string
	linkPrefix  string
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Compare the base export to an enrichment table and write match reports",
	Long:  "Scores every base company against the gazette or registry table and writes all, strict, review and none CSV reports. The store is not touched.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("link"); err != nil {
			return err
		}
		th, ok := cfg.Match.Profiles[linkProfile]
		if !ok {
			return eris.Errorf("unknown match profile %q", linkProfile)
		}

		loader, err := newLoader()
		if err != nil {
			return err
		}
		loc := locations(pipeline.Locations{Base: linkBase})
		if loc.Base == "" {
			return eris.New("no base table: pass --base or set sources.base")
		}
		base, err := loader.LoadBase(ctx, loc.Base)
		if err != nil {
			return err
		}

		var candidates []company.Entity
		switch linkAgainst {
		case string(company.SourceRegistry):
			if loc.Registry == "" {
				return eris.New("no registry table: set sources.registry")
			}
			candidates, _, err = loader.LoadRegistry(ctx, loc.Registry)
		case string(company.SourceGazette):
			if loc.Gazette == "" {
				return eris.New("no gazette table: set sources.gazette")
			}
			candidates, err = loader.LoadGazette(ctx, loc.Gazette)
		default:
			return eris.Errorf("--against must be registry or gazette, got %q", linkAgainst)
		}
		if err != nil {
			return err
		}

		outcomes := pipeline.Link(base, candidates, th, linkProfile)
		files, err := pipeline.WriteLinkReport(linkOut, linkPrefix, outcomes)
		if err != nil {
			return err
		}

		summary := pipeline.Summary(outcomes)
		zap.L().Info("link complete",
			zap.Int("base", len(base)),
			zap.Int("candidates", len(candidates)),
			zap.Int("strict", summary[match.BucketStrict]),
			zap.Int("review", summary[match.BucketReview]),
			zap.Int("none", summary[match.BucketNone]),
			zap.Strings("files", files),
		)
		return nil
	},
}

func init() {
	linkCmd.Flags().StringVar(&linkBase, "base", "", "base table path or URL (default from config)")
	linkCmd.Flags().StringVar(&linkAgainst, "against", string(company.SourceRegistry), "table to compare against: registry or gazette")
	linkCmd.Flags().StringVar(&linkProfile, "profile", match.ProfileRegistry, "threshold profile name")
	linkCmd.Flags().StringVar(&linkOut, "out", ".", "output directory for the CSV reports")
	linkCmd.Flags().StringVar(&linkPrefix, "prefix", "link", "report file name prefix")
	rootCmd.AddCommand(linkCmd)
}
