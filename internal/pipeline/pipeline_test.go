package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/regwatch/internal/company"
	"github.com/sells-group/regwatch/internal/match"
	"github.com/sells-group/regwatch/internal/merge"
	"github.com/sells-group/regwatch/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestPipeline(t *testing.T) (*Pipeline, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	m := merge.New(nil, 0, merge.WithClock(func() time.Time { return testNow }))
	p := New(st, m, nil)
	p.now = func() time.Time { return testNow }
	return p, st
}

func amount(v float64) *float64 { return &v }

func baseEntity(ref, name, region string) company.Entity {
	return company.Entity{
		Source: company.SourceBase,
		Ref:    ref,
		Name:   name,
		Region: region,
		Payload: &company.BasePayload{
			Name:          name,
			Region:        region,
			Type:          "محلية",
			ActivityGroup: "AGRI_NATUREL",
			Capital:       amount(10000),
		},
	}
}

func registryEntity(id, name, region string, capital float64) company.Entity {
	return company.Entity{
		Source: company.SourceRegistry,
		Ref:    id,
		Name:   name,
		Region: region,
		Payload: &company.RegistryPayload{
			ExternalID: id,
			Name:       name,
			Region:     region,
			Capital:    amount(capital),
			DetailURL:  "https://example.tn/" + id,
		},
	}
}

func gazetteEntity(ref, name, region, number string) company.Entity {
	p := &company.GazettePayload{Name: name, Region: region, Capital: amount(10000)}
	p.AddAnnouncement(company.Announcement{Date: "2023-05-02", Type: "تأسيس", Number: number, Content: "إعلان"})
	return company.Entity{Source: company.SourceGazette, Ref: ref, Name: name, Region: region, Payload: p}
}

func TestImportBase_CreatesThenPreservesEnrichments(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPipeline(t)

	rep, err := p.ImportBase(ctx, []company.Entity{
		baseEntity("1", "شركة النور الأهلية", "قابس"),
		baseEntity("2", "الواحة", "توزر"),
		{Source: company.SourceBase, Name: "  ", Region: "قابس", Payload: &company.BasePayload{}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Created)
	assert.Equal(t, 1, rep.Skipped)

	_, err = p.ImportRegistry(ctx, []company.Entity{registryEntity("T-1", "النور", "قابس", 10000)})
	require.NoError(t, err)

	rep, err = p.ImportBase(ctx, []company.Entity{baseEntity("1", "شركة النور الأهلية", "قابس")})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Updated)

	recs, err := st.ListRecords(ctx, store.RecordFilter{Region: "قابس"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotNil(t, recs[0].Base)
	require.NotNil(t, recs[0].Registry(), "base import must not drop enrichments")
	assert.Equal(t, "T-1", recs[0].Registry().ExternalID)
}

func TestImportRegistry_TwoStageResolution(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPipeline(t)

	_, err := p.ImportBase(ctx, []company.Entity{
		baseEntity("1", "شركة النور الأهلية", "قابس"),
		baseEntity("2", "النخيل للفلاحة", "توزر"),
		baseEntity("3", "ابتثجحخدذر", "صفاقس"),
	})
	require.NoError(t, err)

	rep, err := p.ImportRegistry(ctx, []company.Entity{
		registryEntity("T-1", "النور", "قابس", 10000),          // exact key
		registryEntity("T-2", "للفلاحة النخيل", "توزر", 50000), // token order only: strict fuzzy
		registryEntity("T-3", "ابتثجحخدذز", "صفاقس", 1000),     // one letter off: review
		registryEntity("T-4", "مختلفة تماما", "بنزرت", 2000),   // none: new record
		registryEntity("", "بلا معرف", "بنزرت", 2000),          // no external id
	})
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Rows)
	assert.Equal(t, 2, rep.Updated)
	assert.Equal(t, 1, rep.Review)
	assert.Equal(t, 1, rep.Created)
	assert.Equal(t, 1, rep.Skipped)
	require.Len(t, rep.Reviews, 1)
	assert.Equal(t, "T-3", rep.Reviews[0].SourceRef)
	assert.Equal(t, match.BucketReview, rep.Reviews[0].Bucket)
	assert.InDelta(t, 90.0, rep.Reviews[0].Score, 0.01)

	exact, err := st.GetRecordByKey(ctx, company.Entity{Name: "النور", Region: "قابس"}.Key())
	require.NoError(t, err)
	assert.Equal(t, company.MatchExact, exact.Attachment(company.SourceRegistry).MatchType)
	assert.Empty(t, exact.Divergence)

	fuzzy, err := st.GetRecordByKey(ctx, company.Entity{Name: "النخيل للفلاحة", Region: "توزر"}.Key())
	require.NoError(t, err)
	att := fuzzy.Attachment(company.SourceRegistry)
	require.NotNil(t, att)
	assert.Equal(t, company.MatchFuzzy, att.MatchType)
	assert.Equal(t, 100.0, att.Score)
	assert.Equal(t, []string{"capital:base~registry"}, fuzzy.Divergence)
	require.NotNil(t, fuzzy.Metrics)

	review, err := st.GetRecordByKey(ctx, company.Entity{Name: "ابتثجحخدذر", Region: "صفاقس"}.Key())
	require.NoError(t, err)
	assert.Nil(t, review.Registry(), "review matches are not attached")

	created, err := st.GetRecordByKey(ctx, company.Entity{Name: "مختلفة تماما", Region: "بنزرت"}.Key())
	require.NoError(t, err)
	assert.Nil(t, created.Base)
	assert.Equal(t, "T-4", created.Registry().ExternalID)
}

func TestImportRegistry_DistinctIDsNeverShareARecord(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPipeline(t)

	_, err := p.ImportBase(ctx, []company.Entity{
		baseEntity("1", "شركة الأهلية الفلاحية", "قابس"),
		baseEntity("2", "النخيل للفلاحة", "توزر"),
	})
	require.NoError(t, err)

	rep, err := p.ImportRegistry(ctx, []company.Entity{
		registryEntity("T-1", "الفلاحية", "قابس", 10000),       // exact key
		registryEntity("T-2", "الفلاحية", "توزر", 20000),       // other wilaya: own record
		registryEntity("T-3", "الفلاحية", "قابس", 30000),       // same key, other id: review
		registryEntity("T-5", "النخيل للفلاحة", "توزر", 10000), // exact key
		registryEntity("T-6", "للفلاحة النخيل", "توزر", 10000), // strict fuzzy onto T-5: review
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Updated)
	assert.Equal(t, 1, rep.Created)
	assert.Equal(t, 2, rep.Review)
	require.Len(t, rep.Reviews, 2)
	assert.Equal(t, "T-3", rep.Reviews[0].SourceRef)
	assert.Equal(t, "T-6", rep.Reviews[1].SourceRef)
	for _, r := range rep.Reviews {
		assert.Equal(t, match.BucketReview, r.Bucket)
	}

	gabes, err := st.GetRecordByKey(ctx, company.Entity{Name: "الفلاحية", Region: "قابس"}.Key())
	require.NoError(t, err)
	assert.NotNil(t, gabes.Base)
	assert.Equal(t, "T-1", gabes.Registry().ExternalID)
	assert.Empty(t, gabes.Divergence)

	tozeur, err := st.GetRecordByKey(ctx, company.Entity{Name: "الفلاحية", Region: "توزر"}.Key())
	require.NoError(t, err)
	assert.Nil(t, tozeur.Base)
	assert.Equal(t, "T-2", tozeur.Registry().ExternalID)

	palms, err := st.GetRecordByKey(ctx, company.Entity{Name: "النخيل للفلاحة", Region: "توزر"}.Key())
	require.NoError(t, err)
	assert.Equal(t, "T-5", palms.Registry().ExternalID)

	// A registry id already on file is found before any name matching.
	moved := registryEntity("T-2", "الفلاحية الجديدة", "توزر", 25000)
	rep, err = p.ImportRegistry(ctx, []company.Entity{moved})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Updated)
	got, err := st.GetRecord(ctx, tozeur.ID)
	require.NoError(t, err)
	assert.Equal(t, 25000.0, *got.Registry().Capital)
}

func TestImportRegistry_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPipeline(t)
	rows := []company.Entity{registryEntity("T-9", "الأمل", "سوسة", 3000)}

	rep, err := p.ImportRegistry(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Created)

	rep, err = p.ImportRegistry(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Updated)
	assert.Equal(t, 0, rep.Created)

	recs, err := st.ListRecords(ctx, store.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestImportGazette_AccumulatesAnnouncements(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPipeline(t)
	_, err := p.ImportBase(ctx, []company.Entity{baseEntity("1", "الأمل", "سوسة")})
	require.NoError(t, err)

	rep, err := p.ImportGazette(ctx, []company.Entity{
		gazetteEntity("g1", "الأمل", "سوسة", "12"),
		gazetteEntity("g2", "الأمل", "سوسة", "40"),
		gazetteEntity("g1", "الأمل", "سوسة", "12"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Updated)

	rec, err := st.GetRecordByKey(ctx, company.Entity{Name: "الأمل", Region: "سوسة"}.Key())
	require.NoError(t, err)
	g := rec.Gazette()
	require.NotNil(t, g)
	assert.Len(t, g.Announcements, 2)
	assert.Equal(t, company.MatchExact, rec.Attachment(company.SourceGazette).MatchType)
}

func TestImportRegistry_DetectsWatchEntries(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPipeline(t)

	base := []company.Entity{baseEntity("1", "الأمل", "سوسة"), baseEntity("2", "الواحة", "توزر")}
	wrep, err := p.BuildWatchlist(ctx, base, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 2, wrep.Inserted)

	rep, err := p.ImportRegistry(ctx, []company.Entity{registryEntity("T-5", "شركة الأمل", "سوسة", 1000)})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Detected)

	detected, err := st.ListWatch(ctx, store.WatchFilter{Status: company.WatchDetected})
	require.NoError(t, err)
	require.Len(t, detected, 1)
	w := detected[0]
	assert.Equal(t, "T-5", w.ExternalID)
	assert.Equal(t, "https://example.tn/T-5", w.DetailURL)
	require.NotNil(t, w.DetectedAt)
	assert.True(t, w.DetectedAt.Equal(testNow))

	rep, err = p.ImportRegistry(ctx, []company.Entity{registryEntity("T-5", "شركة الأمل", "سوسة", 1000)})
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Detected)

	// Same name in another region does not detect.
	rep, err = p.ImportRegistry(ctx, []company.Entity{registryEntity("T-6", "الواحة", "قفصة", 1000)})
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Detected)
}

func TestBuildWatchlist_SkipsMatchedAndExisting(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t)
	base := []company.Entity{baseEntity("1", "الأمل", "سوسة"), baseEntity("2", "الواحة", "توزر")}
	registry := []company.Entity{registryEntity("T-1", "الأمل", "سوسة", 1)}

	rep, err := p.BuildWatchlist(ctx, base, registry, false)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Candidates)
	assert.Equal(t, 1, rep.Inserted)

	rep, err = p.BuildWatchlist(ctx, base, registry, false)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Inserted)
	assert.Equal(t, 1, rep.Existing)
}

func TestSetWatchStatus(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPipeline(t)
	_, err := p.BuildWatchlist(ctx, []company.Entity{baseEntity("1", "الأمل", "سوسة")}, nil, false)
	require.NoError(t, err)
	entries, err := st.ListWatch(ctx, store.WatchFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	w, err := p.SetWatchStatus(ctx, entries[0].ID, company.WatchArchived)
	require.NoError(t, err)
	assert.Equal(t, company.WatchArchived, w.Status)

	_, err = p.SetWatchStatus(ctx, entries[0].ID, company.WatchPending)
	assert.Error(t, err)

	_, err = p.SetWatchStatus(ctx, "missing", company.WatchArchived)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLink(t *testing.T) {
	base := []company.Entity{
		baseEntity("1", "شركة النور", "قابس"),
		baseEntity("2", "ابتثجحخدذر", "صفاقس"),
		baseEntity("3", "غريبة", "تونس"),
		baseEntity("4", "الشركة الأهلية", "تونس"),
	}
	candidates := []company.Entity{
		registryEntity("T-1", "النور", "قابس", 1),
		registryEntity("T-2", "ابتثجحخدذز", "صفاقس", 1),
	}
	out := Link(base, candidates, match.DefaultProfiles()[match.ProfileRegistry], match.ProfileRegistry)
	require.Len(t, out, 4)

	assert.Equal(t, match.BucketStrict, out[0].Bucket)
	assert.Equal(t, "T-1", out[0].CandidateRef)
	assert.Equal(t, "النور", out[0].MatchedName)
	assert.Equal(t, match.BucketReview, out[1].Bucket)
	assert.Equal(t, match.BucketNone, out[2].Bucket)
	assert.Empty(t, out[2].CandidateRef)
	assert.Equal(t, match.BucketNone, out[3].Bucket, "empty normalized name degrades to none")
	assert.Equal(t, 0.0, out[3].Score)

	assert.Equal(t, map[match.Bucket]int{match.BucketStrict: 1, match.BucketReview: 1, match.BucketNone: 2}, Summary(out))
}

func TestLink_NameProfileFoldsLatinNames(t *testing.T) {
	base := []company.Entity{baseEntity("1", "STE TUNISIE OLIVES", "سوسة")}
	candidates := []company.Entity{registryEntity("T-1", "Tunisie Olives SARL", "سوسة", 1)}

	out := Link(base, candidates, match.DefaultProfiles()[match.ProfileName], match.ProfileName)
	require.Len(t, out, 1)
	assert.Equal(t, match.BucketStrict, out[0].Bucket)
	assert.Equal(t, 100.0, out[0].Score)
	assert.Equal(t, "T-1", out[0].CandidateRef)

	out = Link(base, candidates, match.DefaultProfiles()[match.ProfileName], match.ProfileRegistry)
	assert.Less(t, out[0].Score, 70.0, "case and legal forms are kept by the Arabic normalizer")
}

func TestWriteLinkReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	outcomes := []match.Outcome{
		{SourceRef: "1", SourceName: "النور", CandidateRef: "T-1", MatchedName: "النور", Score: 100, Bucket: match.BucketStrict},
		{SourceRef: "2", SourceName: "غريبة", Score: 40, Bucket: match.BucketNone},
	}
	paths, err := WriteLinkReport(dir, "registry", outcomes)
	require.NoError(t, err)
	require.Len(t, paths, 4)
	assert.Equal(t, filepath.Join(dir, "registry_all.csv"), paths[0])

	data, err := os.ReadFile(filepath.Join(dir, "registry_strict.csv"))
	require.NoError(t, err)
	assert.Equal(t, "\ufeffsource_ref,source_name,candidate_ref,matched_name,score,bucket\n1,النور,T-1,النور,100.0,strict\n", string(data))

	data, err = os.ReadFile(filepath.Join(dir, "registry_review.csv"))
	require.NoError(t, err)
	assert.Equal(t, "\ufeffsource_ref,source_name,candidate_ref,matched_name,score,bucket\n", string(data))
}

type failingClose struct {
	bytes.Buffer
}

func (failingClose) Close() error { return errors.New("disk full") }

func TestWriteLinkReport_CloseErrorReturned(t *testing.T) {
	orig := createReport
	t.Cleanup(func() { createReport = orig })
	createReport = func(string) (io.WriteCloser, error) { return &failingClose{}, nil }

	paths, err := WriteLinkReport(t.TempDir(), "registry", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close file")
	assert.Empty(t, paths)
}
