// Package pipeline links source tables to merged records: it imports base,
// gazette and registry rows, resolves them against existing records by registry
// id, exact key then fuzzy name, and keeps the watch list in step.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/regwatch/internal/company"
	"github.com/sells-group/regwatch/internal/match"
	"github.com/sells-group/regwatch/internal/merge"
	"github.com/sells-group/regwatch/internal/metrics"
	"github.com/sells-group/regwatch/internal/normalize"
	"github.com/sells-group/regwatch/internal/store"
	"github.com/sells-group/regwatch/internal/watchlist"
)

// Pipeline runs imports against a store. A Pipeline is not safe for
// concurrent runs; store writes are still serialized per key.
type Pipeline struct {
	store    store.Store
	merger   *merge.Merger
	profiles map[string]match.Thresholds
	now      func() time.Time
	log      *zap.Logger
}

// New creates a Pipeline. Missing threshold profiles fall back to
// match.DefaultProfiles.
func New(st store.Store, m *merge.Merger, profiles map[string]match.Thresholds) *Pipeline {
	all := match.DefaultProfiles()
	for name, th := range profiles {
		all[name] = th
	}
	return &Pipeline{
		store:    st,
		merger:   m,
		profiles: all,
		now:      func() time.Time { return time.Now().UTC() },
		log:      zap.L().With(zap.String("component", "pipeline")),
	}
}

// Thresholds returns the named threshold profile.
func (p *Pipeline) Thresholds(profile string) match.Thresholds {
	return p.profiles[profile]
}

// Report summarizes one import run.
type Report struct {
	Source   company.Source  `json:"source"`
	Rows     int             `json:"rows"`
	Created  int             `json:"created"`
	Updated  int             `json:"updated"`
	Skipped  int             `json:"skipped"`
	Review   int             `json:"review"`
	Detected int             `json:"detected"`
	Reviews  []match.Outcome `json:"reviews,omitempty"`
	Elapsed  time.Duration   `json:"elapsed"`
}

func (r *Report) count(outcome string) {
	switch outcome {
	case "created":
		r.Created++
	case "updated":
		r.Updated++
	case "skipped":
		r.Skipped++
	case "review":
		r.Review++
	}
	metrics.ImportRowsTotal.WithLabelValues(string(r.Source), outcome).Inc()
}

func (p *Pipeline) finish(r *Report, start time.Time) {
	r.Elapsed = time.Since(start)
	p.log.Info("import complete",
		zap.String("source", string(r.Source)),
		zap.Int("rows", r.Rows),
		zap.Int("created", r.Created),
		zap.Int("updated", r.Updated),
		zap.Int("skipped", r.Skipped),
		zap.Int("review", r.Review),
		zap.Int("detected", r.Detected),
		zap.Duration("elapsed", r.Elapsed),
	)
}

// ImportBase creates or refreshes the base payload of each entity's record.
// Enrichment payloads and editorial fields are never touched.
func (p *Pipeline) ImportBase(ctx context.Context, entities []company.Entity) (*Report, error) {
	start := time.Now()
	rep := &Report{Source: company.SourceBase, Rows: len(entities)}
	for _, e := range entities {
		bp, ok := e.Payload.(*company.BasePayload)
		key := e.Key()
		if !ok || key.IsZero() {
			rep.count("skipped")
			continue
		}
		outcome := "updated"
		_, err := p.store.UpdateRecord(ctx, key, func(cur *company.Record) (*company.Record, error) {
			if cur == nil {
				outcome = "created"
				return p.merger.NewRecord(e), nil
			}
			p.merger.SetBase(cur, bp)
			return cur, nil
		})
		if err != nil {
			return rep, eris.Wrapf(err, "pipeline: import base %s", key)
		}
		rep.count(outcome)
	}
	p.finish(rep, start)
	return rep, nil
}

// ImportGazette attaches gazette announcements. Rows naming the same company
// accumulate into one payload.
func (p *Pipeline) ImportGazette(ctx context.Context, entities []company.Entity) (*Report, error) {
	return p.importEnrichment(ctx, company.SourceGazette, entities)
}

// ImportRegistry attaches registry rows. Rows without an external id are
// skipped.
func (p *Pipeline) ImportRegistry(ctx context.Context, entities []company.Entity) (*Report, error) {
	return p.importEnrichment(ctx, company.SourceRegistry, entities)
}

// importEnrichment resolves each row through resolve. Strict matches attach,
// review matches are reported only, and rows with no match start a record of
// their own. Every row is then reconciled against the watch list.
func (p *Pipeline) importEnrichment(ctx context.Context, src company.Source, entities []company.Entity) (*Report, error) {
	start := time.Now()
	rep := &Report{Source: src, Rows: len(entities)}
	th := p.profiles[match.ProfileRegistry]

	pool, err := p.loadPool(ctx)
	if err != nil {
		return rep, err
	}
	watch, err := p.store.ListWatch(ctx, store.WatchFilter{Status: company.WatchPending})
	if err != nil {
		return rep, eris.Wrap(err, "pipeline: load watch list")
	}

	for _, e := range entities {
		key := e.Key()
		if key.IsZero() || e.Payload == nil || (src == company.SourceRegistry && e.Ref == "") {
			rep.count("skipped")
			continue
		}

		outcome, err := p.resolve(ctx, e, key, th, pool, rep)
		if err != nil {
			return rep, err
		}
		rep.count(outcome)

		if ok, err := p.reconcile(ctx, watch, e); err != nil {
			return rep, err
		} else if ok {
			rep.Detected++
		}
	}
	p.finish(rep, start)
	return rep, nil
}

// errIDConflict aborts an attach that would replace a registry payload
// carrying a different external id.
var errIDConflict = eris.New("pipeline: registry id conflict")

// resolve finds the record for e in three stages: registry id, exact identity
// key, then fuzzy name among records of the same wilaya. A match whose record
// already holds another registry company is reported for review instead of
// being overwritten.
func (p *Pipeline) resolve(ctx context.Context, e company.Entity, key normalize.Key, th match.Thresholds, pool *pool, rep *Report) (string, error) {
	// Stage 1: registry id.
	if e.Source == company.SourceRegistry {
		cur, err := p.store.GetRecordByExternalID(ctx, e.Ref)
		if err == nil {
			l := merge.Exact
			if a := cur.Attachment(company.SourceRegistry); a != nil {
				l = merge.Link{Score: a.Score, Type: a.MatchType}
			}
			if _, err := p.attachByID(ctx, cur.ID, e, l); err != nil {
				return "", err
			}
			return "updated", nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", eris.Wrapf(err, "pipeline: lookup registry id %s", e.Ref)
		}
	}

	// Stage 2: exact key.
	if cur, err := p.store.GetRecordByKey(ctx, key); err == nil {
		out := match.Outcome{
			SourceRef:    e.Ref,
			SourceName:   e.Name,
			CandidateRef: cur.ID,
			MatchedName:  cur.Key.Name,
			Score:        100,
			Bucket:       match.BucketStrict,
		}
		return p.attachOrReview(ctx, e, out, merge.Exact, rep)
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", eris.Wrapf(err, "pipeline: lookup %s", key)
	}

	// Stage 3: fuzzy name within the wilaya.
	out := pool.best(e, th)
	switch out.Bucket {
	case match.BucketStrict:
		return p.attachOrReview(ctx, e, out, merge.Link{Score: out.Score, Type: company.MatchFuzzy}, rep)
	case match.BucketReview:
		rep.Reviews = append(rep.Reviews, out)
		return "review", nil
	}

	outcome := "created"
	rec, err := p.store.UpdateRecord(ctx, key, func(cur *company.Record) (*company.Record, error) {
		if cur != nil {
			if conflicts(cur, e) {
				return nil, errIDConflict
			}
			outcome = "updated"
			p.attach(cur, e, merge.Exact)
			return cur, nil
		}
		r := p.merger.NewRecord(e)
		r.Metrics = merge.ComputeMetrics(r)
		return r, nil
	})
	if errors.Is(err, errIDConflict) {
		out.Bucket = match.BucketReview
		rep.Reviews = append(rep.Reviews, out)
		return "review", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "pipeline: create record %s", key)
	}
	if outcome == "created" {
		pool.add(rec)
	}
	return outcome, nil
}

// attachOrReview attaches e to the candidate record of out, or records out as
// a review when the record holds a different registry company.
func (p *Pipeline) attachOrReview(ctx context.Context, e company.Entity, out match.Outcome, l merge.Link, rep *Report) (string, error) {
	_, err := p.store.UpdateRecordByID(ctx, out.CandidateRef, func(r *company.Record) error {
		if conflicts(r, e) {
			return errIDConflict
		}
		p.attach(r, e, l)
		return nil
	})
	if errors.Is(err, errIDConflict) {
		out.Bucket = match.BucketReview
		rep.Reviews = append(rep.Reviews, out)
		p.log.Debug("registry id conflict",
			zap.String("record_id", out.CandidateRef),
			zap.String("external_id", e.Ref),
		)
		return "review", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "pipeline: attach %s to %s", e.Source, out.CandidateRef)
	}
	return "updated", nil
}

// conflicts reports whether attaching registry entity e to r would replace a
// registry payload with another external id.
func conflicts(r *company.Record, e company.Entity) bool {
	if e.Source != company.SourceRegistry {
		return false
	}
	prev := r.Registry()
	return prev != nil && prev.ExternalID != "" && prev.ExternalID != e.Ref
}

func (p *Pipeline) attachByID(ctx context.Context, id string, e company.Entity, l merge.Link) (*company.Record, error) {
	rec, err := p.store.UpdateRecordByID(ctx, id, func(r *company.Record) error {
		p.attach(r, e, l)
		return nil
	})
	return rec, eris.Wrapf(err, "pipeline: attach %s to %s", e.Source, id)
}

// attach stores the entity payload on r. A gazette payload is folded into the
// one already attached so announcements accumulate across rows and runs.
func (p *Pipeline) attach(r *company.Record, e company.Entity, l merge.Link) {
	payload := e.Payload
	if g, ok := payload.(*company.GazettePayload); ok {
		if prev := r.Gazette(); prev != nil {
			payload = foldGazette(prev, g)
			if a := r.Attachment(company.SourceGazette); a != nil && a.MatchType == company.MatchExact {
				l = merge.Exact
			}
		}
	}
	p.merger.Attach(r, payload, l)
	r.Metrics = merge.ComputeMetrics(r)
}

func foldGazette(prev, next *company.GazettePayload) *company.GazettePayload {
	out := *prev
	out.Announcements = append([]company.Announcement(nil), prev.Announcements...)
	for _, a := range next.Announcements {
		out.AddAnnouncement(a)
	}
	if next.Capital != nil {
		out.Capital = next.Capital
	}
	if out.Region == "" {
		out.Region = next.Region
	}
	return &out
}

// reconcile flips the pending watch entry carrying e's exact key to detected.
func (p *Pipeline) reconcile(ctx context.Context, entries []*company.WatchEntry, e company.Entity) (bool, error) {
	d := watchlist.DetectionOf(e.Payload, p.now())
	w := watchlist.Reconcile(entries, e, nil, d)
	if w == nil {
		return false, nil
	}
	_, err := p.store.UpdateWatch(ctx, w.ID, func(cur *company.WatchEntry) error {
		watchlist.MarkDetected(cur, d)
		return nil
	})
	if err != nil {
		return false, eris.Wrapf(err, "pipeline: mark watch entry %s detected", w.ID)
	}
	metrics.WatchDetectionsTotal.Inc()
	p.log.Info("watch entry detected",
		zap.String("name", w.Name),
		zap.String("wilaya", w.Region),
		zap.String("external_id", w.ExternalID),
	)
	return true, nil
}

// pool is the fuzzy candidate set: every record's normalized name, indexed
// per wilaya.
type pool struct {
	all      *candidates
	byRegion map[string]*candidates
}

type candidates struct {
	ids   []string
	names []string
	idx   *match.Index
}

func (c *candidates) add(id, name string) {
	c.ids = append(c.ids, id)
	c.names = append(c.names, name)
	c.idx.Add(name)
}

func newCandidates() *candidates {
	return &candidates{idx: match.NewIndex(nil)}
}

func (p *Pipeline) loadPool(ctx context.Context) (*pool, error) {
	recs, err := p.store.ListRecords(ctx, store.RecordFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load records")
	}
	pl := &pool{all: newCandidates(), byRegion: make(map[string]*candidates)}
	for _, r := range recs {
		pl.add(r)
	}
	return pl, nil
}

func (pl *pool) add(r *company.Record) {
	pl.all.add(r.ID, r.Key.Name)
	if r.Key.Region == "" {
		return
	}
	c, ok := pl.byRegion[r.Key.Region]
	if !ok {
		c = newCandidates()
		pl.byRegion[r.Key.Region] = c
	}
	c.add(r.ID, r.Key.Name)
}

// best searches the records of e's wilaya, or every record when e has none.
func (pl *pool) best(e company.Entity, th match.Thresholds) match.Outcome {
	key := e.Key()
	c := pl.all
	if key.Region != "" {
		if c = pl.byRegion[key.Region]; c == nil {
			c = newCandidates()
		}
	}
	return outcome(e, key.Name, c.idx, c.ids, c.names, th)
}

// outcome classifies the best candidate for query. display holds the name
// reported for each candidate.
func outcome(e company.Entity, query string, idx *match.Index, refs, display []string, th match.Thresholds) match.Outcome {
	out := match.Outcome{SourceRef: e.Ref, SourceName: e.Name, Bucket: match.BucketNone}
	res, ok := idx.Best(query)
	if !ok {
		return out
	}
	out.Score = res.Score
	out.Bucket = th.Classify(res.Score)
	if out.Bucket != match.BucketNone {
		out.CandidateRef = refs[res.Index]
		out.MatchedName = display[res.Index]
	}
	return out
}
