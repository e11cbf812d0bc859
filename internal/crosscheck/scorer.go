// Package crosscheck asks an LLM to compare the base, gazette and registry
// views of a company and stores its verdict on the record.
package crosscheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/regwatch/internal/company"
	"github.com/sells-group/regwatch/internal/metrics"
	"github.com/sells-group/regwatch/internal/resilience"
	"github.com/sells-group/regwatch/pkg/anthropic"
)

// Fallback reasons recorded in CrossCheck.Error.
const (
	ReasonNoAPIKey        = "no_api_key"
	ReasonRateLimited     = "rate_limited"
	ReasonInvalidArgument = "invalid_argument"
	ReasonParseError      = "parse_error"
	ReasonTimeout         = "timeout"
	ReasonUnexpected      = "unexpected"
)

// ErrInsufficientData is returned by RequestFor when a record has no source
// worth comparing.
var ErrInsufficientData = eris.New("crosscheck: no source data to compare")

// Request carries the three source views of one company.
type Request struct {
	RecordID string
	Name     string
	Region   string
	Base     *company.BasePayload
	Gazette  *company.GazettePayload
	Registry *company.RegistryPayload
}

// Sources lists the source names present in the request.
func (r Request) Sources() []string {
	var out []string
	if r.Base != nil {
		out = append(out, string(company.SourceBase))
	}
	if r.Gazette != nil {
		out = append(out, string(company.SourceGazette))
	}
	if r.Registry != nil {
		out = append(out, string(company.SourceRegistry))
	}
	return out
}

// RequestFor builds a Request from a merged record. A gazette payload counts
// only with at least one announcement, a registry payload only with a capital
// or tax id. When nothing is left, ErrInsufficientData is returned.
func RequestFor(rec *company.Record) (Request, error) {
	req := Request{RecordID: rec.ID, Name: rec.Name, Region: rec.Region, Base: rec.Base}
	if g := rec.Gazette(); g != nil && len(g.Announcements) > 0 {
		req.Gazette = g
	}
	if r := rec.Registry(); r != nil && (r.Capital != nil || r.TaxID != "") {
		req.Registry = r
	}
	if len(req.Sources()) == 0 {
		return req, ErrInsufficientData
	}
	if req.Base == nil {
		// Identity fields still give the model something to anchor on.
		req.Base = &company.BasePayload{Name: rec.Name, Region: rec.Region}
	}
	return req, nil
}

// Scorer produces a cross-check verdict. Implementations never fail: errors
// become a Pending verdict with CrossCheck.Error set.
type Scorer interface {
	CrossCheck(ctx context.Context, req Request) company.CrossCheck
}

// Config tunes the LLM scorer.
type Config struct {
	Model     string
	MaxTokens int64
	// Timeout bounds one cross-check including retries.
	Timeout time.Duration
	// RatePerSecond limits outbound calls. Zero means unlimited.
	RatePerSecond float64
	Burst         int
	Retry         resilience.RetryConfig
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Model:         "claude-haiku-4-5",
		MaxTokens:     2048,
		Timeout:       90 * time.Second,
		RatePerSecond: 2,
		Burst:         2,
		Retry:         resilience.DefaultRetryConfig(),
	}
}

// LLMScorer implements Scorer against the Anthropic Messages API.
type LLMScorer struct {
	client  anthropic.Client
	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time
	log     *zap.Logger
}

// NewLLMScorer creates a scorer. A nil client yields no_api_key verdicts.
func NewLLMScorer(client anthropic.Client, cfg Config) *LLMScorer {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := max(cfg.Burst, 1)

	s := &LLMScorer{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "crosscheck")),
	}
	if client == nil {
		s.log.Warn("anthropic api key not set, cross-checks will fall back")
	}
	return s
}

// CrossCheck implements Scorer.
func (s *LLMScorer) CrossCheck(ctx context.Context, req Request) company.CrossCheck {
	log := s.log.With(zap.String("record_id", req.RecordID), zap.String("name", req.Name))
	if s.client == nil {
		return s.fallback(ReasonNoAPIKey, "مفتاح Anthropic غير مُعَيَّن")
	}

	prompt, err := userPrompt(req)
	if err != nil {
		return s.fallback(ReasonUnexpected, err.Error())
	}
	temp := 0.0
	msg := anthropic.MessageRequest{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		System:      anthropic.CachedSystem(systemPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	retry := s.cfg.Retry
	retry.ShouldRetry = retryable
	retry.OnRetry = resilience.RetryLogger("crosscheck", "create_message")
	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "crosscheck: rate limiter")
		}
		return s.client.CreateMessage(ctx, msg)
	})
	metrics.CrossCheckDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		reason, detail := classify(ctx, err)
		log.Warn("cross-check call failed", zap.String("reason", reason), zap.Error(err))
		return s.fallback(reason, detail)
	}
	recordUsage(log, s.cfg.Model, resp.Usage)

	result, err := parseVerdict(resp.Text())
	if err != nil {
		log.Warn("cross-check response unparsable", zap.Error(err))
		return s.fallback(ReasonParseError, "تعذّر تحليل استجابة النموذج.")
	}
	result.Model = s.cfg.Model
	result.CheckedAt = s.now().UTC()
	metrics.CrossChecksTotal.WithLabelValues(result.Status).Inc()
	log.Info("cross-check complete",
		zap.Int("match_score", result.MatchScore),
		zap.String("status", result.Status),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result
}

// Fallback builds the neutral verdict recorded when the scorer cannot run.
func Fallback(reason, detail string, now time.Time) company.CrossCheck {
	return company.CrossCheck{
		MatchScore: 0,
		Status:     company.StatusPending,
		Findings:   []string{},
		RedFlags:   []string{},
		Summary:    strings.TrimSpace(fmt.Sprintf("تعذّر إجراء التحليل: %s. %s", reason, detail)),
		Error:      reason,
		CheckedAt:  now.UTC(),
	}
}

func (s *LLMScorer) fallback(reason, detail string) company.CrossCheck {
	metrics.CrossChecksTotal.WithLabelValues(company.StatusPending).Inc()
	metrics.CrossCheckFallbacksTotal.WithLabelValues(reason).Inc()
	return Fallback(reason, detail, s.now())
}

func recordUsage(log *zap.Logger, model string, u anthropic.TokenUsage) {
	metrics.CrossCheckTokensTotal.WithLabelValues("input").Add(float64(u.InputTokens))
	metrics.CrossCheckTokensTotal.WithLabelValues("output").Add(float64(u.OutputTokens))
	metrics.CrossCheckTokensTotal.WithLabelValues("cache_write").Add(float64(u.CacheCreationInputTokens))
	metrics.CrossCheckTokensTotal.WithLabelValues("cache_read").Add(float64(u.CacheReadInputTokens))
	cost := u.EstimateCost(model)
	metrics.CrossCheckCostUSD.Add(cost)
	log.Debug("cross-check usage",
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Float64("estimated_cost_usd", cost),
	)
}

func retryable(err error) bool {
	if code := anthropic.StatusCode(err); code != 0 {
		return resilience.IsTransientHTTPStatus(code)
	}
	return resilience.IsTransient(err)
}

// classify maps a call error to a fallback reason and an operator-facing detail.
func classify(ctx context.Context, err error) (string, string) {
	switch code := anthropic.StatusCode(err); {
	case code == http.StatusTooManyRequests:
		return ReasonRateLimited, "الخدمة مشغولة حاليًا. يرجى المحاولة لاحقًا."
	case code == http.StatusBadRequest:
		return ReasonInvalidArgument, err.Error()
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ReasonTimeout, "انتهت مهلة الاتصال بالنموذج."
	}
	return ReasonUnexpected, err.Error()
}
