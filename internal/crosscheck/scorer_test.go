package crosscheck

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/regwatch/internal/company"
	"github.com/sells-group/regwatch/internal/metrics"
	"github.com/sells-group/regwatch/internal/resilience"
	"github.com/sells-group/regwatch/pkg/anthropic"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		ID:      "msg_1",
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 20},
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 2 * time.Second
	cfg.RatePerSecond = 0
	cfg.Retry = resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	return cfg
}

func capital(v float64) *float64 { return &v }

func testRequest() Request {
	return Request{
		RecordID: "r1",
		Name:     "شركة النور",
		Region:   "قابس",
		Base:     &company.BasePayload{Name: "شركة النور", Region: "قابس"},
		Registry: &company.RegistryPayload{ExternalID: "T-1", Capital: capital(20000)},
	}
}

func TestCrossCheck_Success(t *testing.T) {
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Temperature != nil && *req.Temperature == 0 &&
			len(req.System) == 1 && req.System[0].CacheControl != nil
	})).Return(textResponse("```json\n{\"match_score\": 87.6, \"status\": \"suspicious\", \"findings\": [\"الاسم متطابق\"], \"red_flags\": [], \"summary_ar\": \"ملخص\"}\n```"), nil)

	s := NewLLMScorer(client, fastConfig())
	s.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	inputBefore := testutil.ToFloat64(metrics.CrossCheckTokensTotal.WithLabelValues("input"))
	costBefore := testutil.ToFloat64(metrics.CrossCheckCostUSD)

	got := s.CrossCheck(context.Background(), testRequest())
	assert.Equal(t, inputBefore+100, testutil.ToFloat64(metrics.CrossCheckTokensTotal.WithLabelValues("input")))
	assert.Greater(t, testutil.ToFloat64(metrics.CrossCheckCostUSD), costBefore)
	assert.Equal(t, 88, got.MatchScore)
	assert.Equal(t, company.StatusSuspicious, got.Status)
	assert.Equal(t, []string{"الاسم متطابق"}, got.Findings)
	assert.Equal(t, []string{}, got.RedFlags)
	assert.Equal(t, "ملخص", got.Summary)
	assert.Empty(t, got.Error)
	assert.Equal(t, "claude-haiku-4-5", got.Model)
	assert.Equal(t, 2024, got.CheckedAt.Year())
	client.AssertExpectations(t)
}

func TestCrossCheck_NoAPIKey(t *testing.T) {
	s := NewLLMScorer(nil, fastConfig())
	got := s.CrossCheck(context.Background(), testRequest())
	assert.Equal(t, 0, got.MatchScore)
	assert.Equal(t, company.StatusPending, got.Status)
	assert.Equal(t, ReasonNoAPIKey, got.Error)
	assert.Contains(t, got.Summary, "تعذّر إجراء التحليل: no_api_key.")
	assert.NotNil(t, got.Findings)
}

func TestCrossCheck_ParseError(t *testing.T) {
	for name, text := range map[string]string{
		"prose":          "I cannot answer that.",
		"missing score":  `{"status": "Verified"}`,
		"unknown status": `{"match_score": 50, "status": "Maybe"}`,
		"broken json":    `{"match_score": 50, "status": }`,
	} {
		t.Run(name, func(t *testing.T) {
			client := &mockClient{}
			client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(text), nil)
			got := NewLLMScorer(client, fastConfig()).CrossCheck(context.Background(), testRequest())
			assert.Equal(t, ReasonParseError, got.Error)
			assert.Equal(t, company.StatusPending, got.Status)
			client.AssertNumberOfCalls(t, "CreateMessage", 1)
		})
	}
}

func TestCrossCheck_Timeout(t *testing.T) {
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	cfg := fastConfig()
	cfg.Timeout = 20 * time.Millisecond
	got := NewLLMScorer(client, cfg).CrossCheck(context.Background(), testRequest())
	assert.Equal(t, ReasonTimeout, got.Error)
	client.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestCrossCheck_UnexpectedIsNotRetried(t *testing.T) {
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, eris.New("boom"))
	got := NewLLMScorer(client, fastConfig()).CrossCheck(context.Background(), testRequest())
	assert.Equal(t, ReasonUnexpected, got.Error)
	assert.Contains(t, got.Summary, "boom")
	client.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestCrossCheck_TransientRetried(t *testing.T) {
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(eris.New("reset"), 0)).Once()
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"match_score": 100, "status": "Verified", "findings": [], "red_flags": [], "summary_ar": "ok"}`), nil).Once()

	got := NewLLMScorer(client, fastConfig()).CrossCheck(context.Background(), testRequest())
	assert.Equal(t, company.StatusVerified, got.Status)
	assert.Equal(t, 100, got.MatchScore)
	client.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func apiErrorServer(t *testing.T, status int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"type":  "error",
			"error": map[string]any{"type": "api_error", "message": "nope"},
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestCrossCheck_APIErrors(t *testing.T) {
	tests := []struct {
		status int
		reason string
		calls  int32
	}{
		{http.StatusTooManyRequests, ReasonRateLimited, 2},
		{http.StatusBadRequest, ReasonInvalidArgument, 1},
		{http.StatusForbidden, ReasonUnexpected, 1},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			ts := apiErrorServer(t, tt.status, &calls)
			client := anthropic.NewClient("test-key", time.Second, option.WithBaseURL(ts.URL))

			got := NewLLMScorer(client, fastConfig()).CrossCheck(context.Background(), testRequest())
			assert.Equal(t, tt.reason, got.Error)
			assert.Equal(t, company.StatusPending, got.Status)
			assert.Equal(t, tt.calls, calls.Load())
		})
	}
}

func TestRequestFor(t *testing.T) {
	r := company.NewRecord("r1", company.Entity{Name: "النور", Region: "قابس"}.Key(), "النور", "قابس", time.Now())

	_, err := RequestFor(r)
	assert.ErrorIs(t, err, ErrInsufficientData)

	r.Enrichments[company.SourceGazette] = &company.Attachment{
		Source:  company.SourceGazette,
		Payload: &company.GazettePayload{Name: "النور"},
	}
	_, err = RequestFor(r)
	assert.ErrorIs(t, err, ErrInsufficientData, "gazette without announcements does not count")

	r.Enrichments[company.SourceRegistry] = &company.Attachment{
		Source:  company.SourceRegistry,
		Payload: &company.RegistryPayload{ExternalID: "T-1", TaxID: "1234567A"},
	}
	req, err := RequestFor(r)
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "registry"}, req.Sources())
	assert.Nil(t, req.Gazette)
	assert.Equal(t, "النور", req.Base.Name)
}

func TestUserPrompt(t *testing.T) {
	req := testRequest()
	text, err := userPrompt(req)
	require.NoError(t, err)
	assert.Contains(t, text, `"charika_id": "T-1"`)
	assert.Contains(t, text, "## المصدر الثاني: الرائد الرسمي\n"+noData)
	assert.Contains(t, text, "أجب بصيغة JSON فقط.")
}

func TestParseVerdict_ClampsScore(t *testing.T) {
	v, err := parseVerdict(`{"match_score": 140, "status": "Conflict", "summary": "alt"}`)
	require.NoError(t, err)
	assert.Equal(t, 100, v.MatchScore)
	assert.Equal(t, "alt", v.Summary)

	v, err = parseVerdict(`{"match_score": -5, "status": "Verified"}`)
	require.NoError(t, err)
	assert.Equal(t, 0, v.MatchScore)
}

func TestFallback_Summary(t *testing.T) {
	f := Fallback(ReasonTimeout, "", time.Now())
	assert.Equal(t, "تعذّر إجراء التحليل: timeout.", f.Summary)
}
