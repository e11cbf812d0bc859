package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/regwatch/internal/company"
	"github.com/sells-group/regwatch/internal/fetcher"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestDefaultProfiles(t *testing.T) {
	p := DefaultProfiles()
	for _, name := range []string{ProfileBase, ProfileGazette, ProfileRegistry, ProfileWatchlist} {
		require.Contains(t, p, name)
		assert.NotEmpty(t, p[name].Required, name)
	}
	assert.Equal(t, []string{"charika_id", "name", "wilaya"}, p[ProfileRegistry].Required)
}

func TestResolve_ArabicHeaders(t *testing.T) {
	header := []string{"\ufeffاسم_الشركة", "الولاية", "المعتمدية", "النوع", "الموضوع / النشاط", "activité_groupe"}
	cols, err := DefaultProfiles().Resolve(ProfileBase, header)
	require.NoError(t, err)
	assert.Equal(t, 0, cols["name"])
	assert.Equal(t, 1, cols["wilaya"])
	assert.Equal(t, 4, cols["activity_raw"])
	assert.Equal(t, 5, cols["activity_group"])
	assert.False(t, cols.Has("locality"))
}

func TestResolve_CaseInsensitive(t *testing.T) {
	cols, err := DefaultProfiles().Resolve(ProfileRegistry, []string{" Charika_ID ", "NAME", "Wilaya"})
	require.NoError(t, err)
	assert.Len(t, cols, 3)
}

func TestResolve_SchemaError(t *testing.T) {
	_, err := DefaultProfiles().Resolve(ProfileRegistry, []string{"name", "capital"})
	require.Error(t, err)

	var se *SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ProfileRegistry, se.Source)
	assert.Equal(t, []string{"charika_id", "wilaya"}, se.Missing)
	assert.Equal(t, []string{"name", "capital"}, se.Found)
	assert.Contains(t, se.Error(), "charika_id, wilaya")
}

func TestResolve_UnknownProfile(t *testing.T) {
	_, err := DefaultProfiles().Resolve("nope", []string{"name"})
	assert.Error(t, err)
}

func TestLoadProfiles_Override(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sources:
  registry:
    columns:
      charika_id: [company_id]
  custom:
    required: [name]
    columns:
      name: [label]
`), 0o644))

	p, err := LoadProfiles(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"company_id"}, p[ProfileRegistry].Columns["charika_id"])
	assert.Equal(t, []string{"wilaya"}, p[ProfileRegistry].Columns["wilaya"])
	assert.Equal(t, []string{"charika_id", "name", "wilaya"}, p[ProfileRegistry].Required)
	assert.Equal(t, []string{"name"}, p["custom"].Required)

	_, err = LoadProfiles(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	p, err = LoadProfiles("")
	require.NoError(t, err)
	assert.Equal(t, DefaultProfiles(), p)
}

func TestNewTable_SkipsBlankRows(t *testing.T) {
	tbl := NewTable("x.csv", [][]string{{"", " "}, {"name", "wilaya"}, {"a", "b"}, {"", ""}, {"c", "d"}})
	assert.Equal(t, []string{"name", "wilaya"}, tbl.Header)
	assert.Len(t, tbl.Rows, 2)
}

func TestDecodeBase(t *testing.T) {
	tbl := NewTable("base.csv", [][]string{
		{"اسم_الشركة", "الولاية", "المعتمدية", "النوع", "الموضوع / النشاط", "activité_normalisée", "activité_groupe"},
		{" شركة النور ", "قابس", "الحامة", "محلية", "فلاحة", "Agriculture", "AGRI_NATUREL"},
		{"الأمل", "توزر"},
	})
	rows, err := DecodeBase(DefaultProfiles(), tbl)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "1", rows[0].Ref)
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, "شركة النور", rows[0].Payload.Name)
	assert.Equal(t, "الحامة", rows[0].Payload.SubRegion)
	assert.Equal(t, "AGRI_NATUREL", rows[0].Payload.ActivityGroup)
	assert.Nil(t, rows[0].Payload.Capital)

	e := rows[1].Entity()
	assert.Equal(t, company.SourceBase, e.Source)
	assert.Equal(t, "الأمل", e.Name)
	assert.Equal(t, "توزر", e.Region)
	assert.Empty(t, rows[1].Payload.Type)
}

func TestDecodeGazette(t *testing.T) {
	tbl := NewTable("jort.csv", [][]string{
		{"name", "wilaya", "date", "type", "jort_number", "content", "capital"},
		{"النور", "قابس", "2023-05-02", "تأسيس", "52", "إعلان تأسيس", "10 000"},
	})
	rows, err := DecodeGazette(DefaultProfiles(), tbl)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	r := rows[0]
	assert.Equal(t, "52", r.Ref)
	assert.Equal(t, 2023, r.Announcement.Year)
	require.NotNil(t, r.Capital)
	assert.Equal(t, 10000.0, *r.Capital)

	e := r.Entity()
	p, ok := e.Payload.(*company.GazettePayload)
	require.True(t, ok)
	assert.Len(t, p.Announcements, 1)
}

func TestDecodeRegistry(t *testing.T) {
	tbl := NewTable("trovit.csv", [][]string{
		{"charika_id", "name", "wilaya", "capital", "tax_id", "detail_url", "legal_form"},
		{"T-1", "النور", "قابس", "5000", "123A", "https://example.test/t-1", "SA"},
		{"", "بلا معرف", "تونس", "", "", "", ""},
	})
	rows, err := DecodeRegistry(DefaultProfiles(), tbl)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	e := rows[0].Entity()
	assert.Equal(t, "T-1", e.Ref)
	assert.Equal(t, company.SourceRegistry, e.Source)
	p := rows[0].Payload
	require.NotNil(t, p.Capital)
	assert.Equal(t, 5000.0, *p.Capital)
	assert.Equal(t, "https://example.test/t-1", p.DetailURL)

	assert.Empty(t, rows[1].Payload.ExternalID)
}

func TestDecodeRegistry_MissingColumns(t *testing.T) {
	tbl := NewTable("trovit.csv", [][]string{{"name"}, {"x"}})
	_, err := DecodeRegistry(DefaultProfiles(), tbl)
	var se *SchemaError
	require.True(t, errors.As(err, &se))
}

func TestDecodeWatchlist(t *testing.T) {
	tbl := NewTable("watch.csv", [][]string{
		{"name_ar", "wilaya", "تاريخ الإعلان"},
		{"النور", "قابس", "2024-01-10"},
	})
	rows, err := DecodeWatchlist(DefaultProfiles(), tbl)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-01-10", rows[0].AnnouncedAt)
}

func TestParseAmount(t *testing.T) {
	cases := map[string]float64{
		"5000":         5000,
		"1 000 000":    1000000,
		"1.000.000,50": 1000000.5,
		"1,000,000.25": 1000000.25,
		"12,5":         12.5,
		"1,000":        1000,
		"5000 DT":      5000,
		"د.ت 750":      750,
		"-20":          -20,
	}
	for in, want := range cases {
		got := ParseAmount(in)
		require.NotNil(t, got, in)
		assert.InDelta(t, want, *got, 1e-9, in)
	}
	for _, in := range []string{"", "   ", "n/a", "-"} {
		assert.Nil(t, ParseAmount(in), in)
	}
}

func TestReader_ReadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "base.csv")
	content := "\ufeffاسم_الشركة,الولاية\nالنور,قابس\n,\nالأمل,توزر\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r := NewReader(fetcher.NewOpenerWith(nil, nil))
	tbl, err := r.Read(context.Background(), path, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"اسم_الشركة", "الولاية"}, tbl.Header)
	assert.Len(t, tbl.Rows, 2)

	_, err = r.Read(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), ReadOptions{})
	assert.Error(t, err)
}
