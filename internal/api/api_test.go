package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/regwatch/internal/cache"
	"github.com/sells-group/regwatch/internal/company"
	"github.com/sells-group/regwatch/internal/crosscheck"
	"github.com/sells-group/regwatch/internal/merge"
	"github.com/sells-group/regwatch/internal/pipeline"
	"github.com/sells-group/regwatch/internal/risk"
	"github.com/sells-group/regwatch/internal/source"
	"github.com/sells-group/regwatch/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type stubScorer struct {
	mu    sync.Mutex
	calls int
}

func (s *stubScorer) CrossCheck(_ context.Context, req crosscheck.Request) company.CrossCheck {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return company.CrossCheck{
		MatchScore: 88,
		Status:     company.StatusVerified,
		Findings:   []string{"الاسم متطابق"},
		RedFlags:   []string{},
		Summary:    req.Name,
		Model:      "stub",
		CheckedAt:  testNow,
	}
}

type fixture struct {
	st     *store.SQLiteStore
	pl     *pipeline.Pipeline
	srv    *Server
	ts     *httptest.Server
	scorer *stubScorer
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	m := merge.New(nil, 0)
	f := &fixture{st: st, pl: pipeline.New(st, m, nil), scorer: &stubScorer{}}

	opts.Store = st
	opts.Merger = m
	if opts.Scorer == nil {
		opts.Scorer = f.scorer
	}
	if opts.Risk.Weights == (risk.Weights{}) {
		opts.Risk = risk.DefaultParams()
	}
	f.srv = New(opts)
	f.srv.now = func() time.Time { return testNow }
	f.ts = httptest.NewServer(f.srv.Handler())
	t.Cleanup(f.ts.Close)
	return f
}

func amount(v float64) *float64 { return &v }

func baseEntity(name, region string) company.Entity {
	return company.Entity{
		Source: company.SourceBase,
		Name:   name,
		Region: region,
		Payload: &company.BasePayload{
			Name:               name,
			Region:             region,
			Type:               "محلية",
			ActivityGroup:      "AGRI_NATUREL",
			ActivityNormalized: "فلاحة",
		},
	}
}

func (f *fixture) seedBase(t *testing.T, entities ...company.Entity) []*company.Record {
	t.Helper()
	ctx := context.Background()
	_, err := f.pl.ImportBase(ctx, entities)
	require.NoError(t, err)
	var out []*company.Record
	for _, e := range entities {
		r, err := f.st.GetRecordByKey(ctx, e.Key())
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

type companyView struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	OSINTLinks map[string]string `json:"osint_links"`
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, Options{})

	resp, body := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "ok", decode[map[string]string](t, body)["status"])

	resp, body = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "regwatch_http_requests_total")
	assert.Contains(t, string(body), `route="/health"`)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Options{CORSOrigins: []string{"https://dash.example.tn"}})

	req, err := http.NewRequest(http.MethodOptions, f.ts.URL+"/api/v1/companies", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dash.example.tn")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck

	assert.Equal(t, "https://dash.example.tn", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRisk_FromStoreWithCacheInvalidation(t *testing.T) {
	f := newFixture(t, Options{Cache: cache.NewMemory(), CacheTTL: time.Hour})
	f.seedBase(t, baseEntity("شركة النور", "Tunis"), baseEntity("شركة الأمل", "Tunis"), baseEntity("شركة الفجر", "Sfax"))

	resp, body := f.do(t, http.MethodGet, "/api/v1/risk/wilayas", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	scores := decode[[]risk.RegionScore](t, body)
	require.Len(t, scores, 2)
	byRegion := map[string]risk.RegionScore{}
	for _, s := range scores {
		byRegion[s.Region] = s
	}
	assert.Equal(t, 2, byRegion["Tunis"].Count)
	assert.Equal(t, risk.LevelHigh, byRegion["Tunis"].Level)

	// A write bumps the store version, so the cached scores are not reused.
	f.seedBase(t, baseEntity("شركة الربيع", "Tunis"))
	_, body = f.do(t, http.MethodGet, "/api/v1/risk/wilayas/Tunis", nil)
	one := decode[risk.RegionScore](t, body)
	assert.Equal(t, "Tunis", one.Region)
	assert.Equal(t, 3, one.Count)
	assert.InDelta(t, 100, one.Composite, 0.01)
	assert.NotEmpty(t, one.Flags)
}

func TestRisk_UnknownRegionIsNeutral(t *testing.T) {
	f := newFixture(t, Options{})

	resp, body := f.do(t, http.MethodGet, "/api/v1/risk/wilayas/Nowhere", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rs := decode[risk.RegionScore](t, body)
	assert.Equal(t, 0, rs.Count)
	assert.Equal(t, risk.LevelLow, rs.Level)
}

func TestRisk_FromUniverse(t *testing.T) {
	u := &pipeline.Universe{
		Base:     []company.Entity{baseEntity("أ", "Gabes"), baseEntity("ب", "Gabes")},
		LoadedAt: testNow,
	}
	f := newFixture(t, Options{Universe: u, Cache: cache.NewMemory(), CacheTTL: time.Hour})
	f.seedBase(t, baseEntity("شركة النور", "Tunis"))

	_, body := f.do(t, http.MethodGet, "/api/v1/risk/wilayas", nil)
	scores := decode[[]risk.RegionScore](t, body)
	require.Len(t, scores, 1)
	assert.Equal(t, "Gabes", scores[0].Region)
	assert.Equal(t, 2, scores[0].Count)
}

func TestStats(t *testing.T) {
	f := newFixture(t, Options{})
	f.seedBase(t, baseEntity("شركة النور", "Tunis"), baseEntity("شركة الأمل", "Tunis"), baseEntity("شركة الفجر", "Sfax"))

	resp, body := f.do(t, http.MethodGet, "/api/v1/stats/national", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ns := decode[risk.NationalStats](t, body)
	assert.Equal(t, 3, ns.Total)
	assert.Equal(t, 2, ns.Regions["Tunis"])
	assert.Equal(t, 3, ns.Types["محلية"])

	_, body = f.do(t, http.MethodGet, "/api/v1/stats/wilayas/Sfax", nil)
	rs := decode[risk.RegionStats](t, body)
	assert.Equal(t, 1, rs.Count)
	assert.Equal(t, 2, rs.Rank)
	assert.InDelta(t, 33.3, rs.PctNational, 0.001)
}

func TestCompanies_ListAndGet(t *testing.T) {
	f := newFixture(t, Options{})
	recs := f.seedBase(t, baseEntity("شركة النور", "Tunis"), baseEntity("شركة الفجر", "Sfax"))

	resp, body := f.do(t, http.MethodGet, "/api/v1/companies?wilaya=Tunis", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[companyList](t, body)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, recs[0].ID, list.Companies[0].ID)
	assert.Equal(t, defaultLimit, list.Limit)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/companies?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/v1/companies?source=fax", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/v1/companies/"+recs[1].ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[companyView](t, body)
	assert.Equal(t, recs[1].ID, got.ID)
	assert.Equal(t, "شركة الفجر", got.Name)
	assert.Contains(t, got.OSINTLinks["RNE"], "registre-entreprises.tn")

	resp, body = f.do(t, http.MethodGet, "/api/v1/companies/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decode[errorBody](t, body).Error)
}

func TestCompanies_PutEnrichment(t *testing.T) {
	f := newFixture(t, Options{})
	recs := f.seedBase(t, baseEntity("شركة النور", "Tunis"))
	id := recs[0].ID

	notes := "ملف قيد المتابعة"
	resp, body := f.do(t, http.MethodPut, "/api/v1/companies/"+id+"/enrichment", map[string]any{
		"procurement": map[string]any{
			"contracts": []map[string]any{
				{"date": "2023-01-01", "organisme": "بلدية", "type": "تراضي", "montant": 50000, "objet": "أشغال"},
				{"date": "2023-02-01", "organisme": "وزارة", "type": "تراضي", "montant": 20000, "objet": "تجهيز"},
			},
		},
		"notes":       notes,
		"enriched_by": "investigator",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	rec, err := f.st.GetRecord(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, rec.Procurement())
	assert.Len(t, rec.Procurement().Contracts, 2)
	assert.Equal(t, company.MatchManual, rec.Attachment(company.SourceProcurement).MatchType)
	assert.Equal(t, notes, rec.Notes)
	assert.Equal(t, "investigator", rec.EnrichedBy)
	require.NotNil(t, rec.Metrics)
	assert.Equal(t, 2, rec.Metrics.TotalContracts)
	assert.InDelta(t, 70000, rec.Metrics.TotalContractsValue, 0.01)

	codes := map[string]bool{}
	for _, fl := range rec.Metrics.RedFlags {
		codes[fl.Type] = true
	}
	assert.True(t, codes[merge.FlagFinancialRatio])
	assert.True(t, codes[merge.FlagProcurementMethod])

	// Base payload survives the manual enrichment.
	require.NotNil(t, rec.Base)

	_, body = f.do(t, http.MethodGet, "/api/v1/companies?red_flags=true", nil)
	assert.Equal(t, 1, decode[companyList](t, body).Count)
	_, body = f.do(t, http.MethodGet, "/api/v1/companies?red_flags=false", nil)
	assert.Equal(t, 0, decode[companyList](t, body).Count)

	resp, _ = f.do(t, http.MethodPut, "/api/v1/companies/"+id+"/enrichment", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPut, "/api/v1/companies/missing/enrichment", map[string]any{"notes": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInvestigate(t *testing.T) {
	f := newFixture(t, Options{})
	recs := f.seedBase(t, baseEntity("شركة النور", "Tunis"))
	id := recs[0].ID

	resp, body := f.do(t, http.MethodPost, "/api/v1/investigate/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	inv := decode[investigation](t, body)
	assert.Equal(t, id, inv.RecordID)
	assert.Equal(t, company.StatusVerified, inv.Analysis.Status)
	assert.Equal(t, 88, inv.Analysis.MatchScore)
	assert.Equal(t, []string{"base"}, inv.SourcesUsed)
	assert.Equal(t, 1, f.scorer.calls)

	rec, err := f.st.GetRecord(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, rec.CrossCheck)
	assert.Equal(t, 88, rec.CrossCheck.MatchScore)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/investigate/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInvestigate_InsufficientData(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	// A registry row without capital or tax id creates a record with nothing
	// to compare.
	_, err := f.pl.ImportRegistry(ctx, []company.Entity{{
		Source:  company.SourceRegistry,
		Ref:     "R-1",
		Name:    "شركة مجهولة",
		Region:  "Tunis",
		Payload: &company.RegistryPayload{ExternalID: "R-1", Name: "شركة مجهولة", Region: "Tunis"},
	}})
	require.NoError(t, err)
	recs, err := f.st.ListRecords(ctx, store.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	resp, body := f.do(t, http.MethodPost, "/api/v1/investigate/"+recs[0].ID, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "insufficient_data", decode[errorBody](t, body).Error)
	assert.Zero(t, f.scorer.calls)
}

func TestInvestigate_NoScorerFallsBack(t *testing.T) {
	f := newFixture(t, Options{Scorer: crosscheck.NewLLMScorer(nil, crosscheck.DefaultConfig())})
	recs := f.seedBase(t, baseEntity("شركة النور", "Tunis"))

	resp, body := f.do(t, http.MethodPost, "/api/v1/investigate/"+recs[0].ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	inv := decode[investigation](t, body)
	assert.Equal(t, company.StatusPending, inv.Analysis.Status)
	assert.Equal(t, crosscheck.ReasonNoAPIKey, inv.Analysis.Error)
	assert.Zero(t, inv.Analysis.MatchScore)
}

func TestNotesCRUD(t *testing.T) {
	f := newFixture(t, Options{})
	recs := f.seedBase(t, baseEntity("شركة النور", "Tunis"), baseEntity("شركة الفجر", "Sfax"))
	id := recs[0].ID
	base := "/api/v1/companies/" + id + "/notes"

	resp, body := f.do(t, http.MethodPost, base, map[string]any{"title": "  عقود مشبوهة ", "content": "تفاصيل", "tags": []string{"procurement"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	note := decode[company.Note](t, body)
	assert.NotEmpty(t, note.ID)
	assert.Equal(t, "عقود مشبوهة", note.Title)
	assert.Equal(t, "Unknown", note.Author)
	assert.Equal(t, []string{"procurement"}, note.Tags)

	resp, _ = f.do(t, http.MethodPost, base, map[string]any{"content": "no title"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/api/v1/companies/missing/notes", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, body = f.do(t, http.MethodGet, base, nil)
	list := decode[notesResponse](t, body)
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, "شركة النور", list.Name)

	resp, body = f.do(t, http.MethodPut, base+"/"+note.ID, map[string]any{"content": "محدث"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[company.Note](t, body)
	assert.Equal(t, "عقود مشبوهة", updated.Title)
	assert.Equal(t, "محدث", updated.Content)

	// Notes are only reachable through their own company.
	other := "/api/v1/companies/" + recs[1].ID + "/notes/" + note.ID
	resp, _ = f.do(t, http.MethodDelete, other, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, base+"/"+note.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, base+"/"+note.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, body = f.do(t, http.MethodGet, base, nil)
	assert.Equal(t, 0, decode[notesResponse](t, body).Total)
}

func TestWatchList(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.pl.ImportWatchlist(ctx, []source.WatchRow{
		{Name: "شركة النور", Region: "Tunis"},
		{Name: "شركة الفجر", Region: "Sfax"},
	})
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodGet, "/api/v1/watch-companies?wilaya=Sfax", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decode[[]company.WatchEntry](t, body)
	require.Len(t, entries, 1)
	id := entries[0].ID

	resp, _ = f.do(t, http.MethodGet, "/api/v1/watch-companies?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodPatch, "/api/v1/watch-companies/"+id, map[string]any{
		"status":      "detected",
		"external_id": "R-9",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	e := decode[company.WatchEntry](t, body)
	assert.Equal(t, company.WatchDetected, e.Status)
	assert.Equal(t, "R-9", e.ExternalID)
	assert.NotNil(t, e.DetectedAt)

	_, body = f.do(t, http.MethodGet, "/api/v1/watch-companies?status=detected", nil)
	assert.Len(t, decode[[]company.WatchEntry](t, body), 1)

	resp, _ = f.do(t, http.MethodPatch, "/api/v1/watch-companies/"+id, map[string]any{"status": "archived"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = f.do(t, http.MethodPatch, "/api/v1/watch-companies/"+id, map[string]any{"status": "watch"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "archived", decode[errorBody](t, body).Error)

	resp, _ = f.do(t, http.MethodPatch, "/api/v1/watch-companies/"+id, map[string]any{"status": "gone"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPatch, "/api/v1/watch-companies/missing", map[string]any{"notes": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOSINTLinks(t *testing.T) {
	links := OSINTLinks("شركة النور", "Tunis")
	require.Len(t, links, 4)
	for name, link := range links {
		assert.True(t, strings.HasPrefix(link, "http"), name)
		assert.NotContains(t, link, " ", name)
	}
	assert.Contains(t, links["Google"], "site%3Atn")

	rec := &company.Record{Name: "x", Region: "Tunis", Enrichments: map[company.Source]*company.Attachment{
		company.SourceRegistry: {Source: company.SourceRegistry, Payload: &company.RegistryPayload{DetailURL: "https://example.tn/R-1"}},
	}}
	assert.Equal(t, "https://example.tn/R-1", recordLinks(rec)["Registry"])
}
