package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/regwatch/internal/api"
	"github.com/sells-group/regwatch/internal/pipeline"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the query API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		c, err := initCache(ctx)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		// The base table, when configured, is loaded once and shared by
		// every request.
		var universe *pipeline.Universe
		if loc := locations(pipeline.Locations{}); loc.Base != "" {
			loader, err := newLoader()
			if err != nil {
				return err
			}
			if universe, err = loader.Load(ctx, pipeline.Locations{Base: loc.Base}); err != nil {
				return err
			}
		}

		srv := api.New(api.Options{
			Store:       st,
			Cache:       c,
			CacheTTL:    cfg.Cache.TTL(),
			Scorer:      newScorer(),
			Merger:      newMerger(),
			Risk:        cfg.Risk,
			Universe:    universe,
			CORSOrigins: cfg.Server.CORSOrigins,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		zap.L().Info("serving", zap.Int("port", port), zap.Bool("universe", universe != nil))
		return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", port),
			time.Duration(cfg.Server.ReadTimeoutSecs)*time.Second,
			time.Duration(cfg.Server.WriteTimeoutSecs)*time.Second,
		)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
