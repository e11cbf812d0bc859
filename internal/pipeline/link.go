package pipeline

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/regwatch/internal/company"
	"github.com/sells-group/regwatch/internal/match"
	"github.com/sells-group/regwatch/internal/metrics"
	"github.com/sells-group/regwatch/internal/normalize"
)

// Link resolves every base entity against the candidate pool by normalized
// name and classifies the best score. The name profile compares mixed
// French and Arabic lists with NormalizeLatin; other profiles use Normalize.
// A row whose name normalizes to nothing degrades to bucket none. Output order
// follows base.
func Link(base, candidates []company.Entity, th match.Thresholds, profile string) []match.Outcome {
	norm := normalizerFor(profile)
	refs := make([]string, len(candidates))
	names := make([]string, len(candidates))
	display := make([]string, len(candidates))
	for i, c := range candidates {
		refs[i] = c.Ref
		names[i] = norm(c.Name)
		display[i] = c.Name
	}
	idx := match.NewIndex(names)

	out := make([]match.Outcome, len(base))
	for i, e := range base {
		out[i] = outcome(e, norm(e.Name), idx, refs, display, th)
		metrics.MatchOutcomesTotal.WithLabelValues(profile, string(out[i].Bucket)).Inc()
	}
	return out
}

func normalizerFor(profile string) func(string) string {
	if profile == match.ProfileName {
		return normalize.NormalizeLatin
	}
	return normalize.Normalize
}

// Summary counts outcomes per bucket.
func Summary(outcomes []match.Outcome) map[match.Bucket]int {
	out := map[match.Bucket]int{match.BucketStrict: 0, match.BucketReview: 0, match.BucketNone: 0}
	for _, o := range outcomes {
		out[o.Bucket]++
	}
	return out
}

var reportColumns = []string{"source_ref", "source_name", "candidate_ref", "matched_name", "score", "bucket"}

// WriteLinkReport writes <prefix>_all.csv plus one file per bucket into dir
// and returns the paths written. Files start with a UTF-8 BOM so spreadsheet
// tools pick up the Arabic text.
func WriteLinkReport(dir, prefix string, outcomes []match.Outcome) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "link report: create %s", dir)
	}
	groups := map[string][]match.Outcome{"all": outcomes}
	for _, o := range outcomes {
		groups[string(o.Bucket)] = append(groups[string(o.Bucket)], o)
	}

	var paths []string
	for _, name := range []string{"all", string(match.BucketStrict), string(match.BucketReview), string(match.BucketNone)} {
		path := filepath.Join(dir, prefix+"_"+name+".csv")
		if err := writeOutcomes(path, groups[name]); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// createReport opens a report file for writing.
var createReport = func(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

func writeOutcomes(path string, outcomes []match.Outcome) (err error) {
	f, err := createReport(path)
	if err != nil {
		return eris.Wrap(err, "link report: create file")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = eris.Wrap(cerr, "link report: close file")
		}
	}()

	if _, err := io.WriteString(f, "\ufeff"); err != nil {
		return eris.Wrap(err, "link report: write bom")
	}
	w := csv.NewWriter(f)
	if err := w.Write(reportColumns); err != nil {
		return eris.Wrap(err, "link report: write header")
	}
	for _, o := range outcomes {
		row := []string{
			o.SourceRef,
			o.SourceName,
			o.CandidateRef,
			o.MatchedName,
			strconv.FormatFloat(o.Score, 'f', 1, 64),
			string(o.Bucket),
		}
		if err := w.Write(row); err != nil {
			return eris.Wrap(err, "link report: write row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "link report: flush")
}
