// Package api serves risk scores, statistics, merged company records, notes
// and the watch list over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/regwatch/internal/cache"
	"github.com/sells-group/regwatch/internal/crosscheck"
	"github.com/sells-group/regwatch/internal/merge"
	"github.com/sells-group/regwatch/internal/pipeline"
	"github.com/sells-group/regwatch/internal/risk"
	"github.com/sells-group/regwatch/internal/store"
)

const (
	maxBodyBytes = 1 << 20
	defaultLimit = 50
	maxLimit     = 500
)

// Options configures a Server. Store is required.
type Options struct {
	Store    store.Store
	Cache    cache.Cache
	CacheTTL time.Duration
	// Scorer backs the investigate endpoint. Nil answers every request with
	// the no_api_key fallback.
	Scorer crosscheck.Scorer
	Merger *merge.Merger
	Risk   risk.Params
	// Universe, when it holds a base table, is the population scored by the
	// risk and stats endpoints. Otherwise the stored records are used.
	Universe    *pipeline.Universe
	CORSOrigins []string
}

// Server holds the API dependencies.
type Server struct {
	store    store.Store
	cache    cache.Cache
	ttl      time.Duration
	scorer   crosscheck.Scorer
	merger   *merge.Merger
	risk     *risk.Scorer
	universe *pipeline.Universe
	origins  []string
	now      func() time.Time
	log      *zap.Logger
}

// New creates a Server from opts.
func New(opts Options) *Server {
	s := &Server{
		store:    opts.Store,
		cache:    opts.Cache,
		ttl:      opts.CacheTTL,
		scorer:   opts.Scorer,
		merger:   opts.Merger,
		risk:     risk.NewScorer(opts.Risk),
		universe: opts.Universe,
		origins:  opts.CORSOrigins,
		now:      func() time.Time { return time.Now().UTC() },
		log:      zap.L().With(zap.String("component", "api")),
	}
	if s.cache == nil {
		s.cache = cache.Nop()
	}
	if s.scorer == nil {
		s.scorer = crosscheck.NewLLMScorer(nil, crosscheck.DefaultConfig())
	}
	if s.merger == nil {
		s.merger = merge.New(merge.DefaultPairs(), merge.DefaultThreshold)
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(instrument(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/risk", func(r chi.Router) {
			r.Get("/wilayas", s.handleListRisk)
			r.Get("/wilayas/{name}", s.handleGetRisk)
		})
		r.Route("/stats", func(r chi.Router) {
			r.Get("/national", s.handleNationalStats)
			r.Get("/wilayas/{name}", s.handleRegionStats)
		})
		r.Route("/companies", func(r chi.Router) {
			r.Get("/", s.handleListCompanies)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCompany)
				r.Get("/osint_links", s.handleOSINTLinks)
				r.Put("/enrichment", s.handlePutEnrichment)
				r.Get("/notes", s.handleListNotes)
				r.Post("/notes", s.handleCreateNote)
				r.Put("/notes/{noteID}", s.handleUpdateNote)
				r.Delete("/notes/{noteID}", s.handleDeleteNote)
			})
		})
		r.Post("/investigate/{id}", s.handleInvestigate)
		r.Route("/watch-companies", func(r chi.Router) {
			r.Get("/", s.handleListWatch)
			r.Patch("/{id}", s.handlePatchWatch)
		})
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return eris.Wrap(err, "api: listen")
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return eris.Wrap(srv.Shutdown(shutdownCtx), "api: shutdown")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
