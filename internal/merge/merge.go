// Package merge joins a base entity with enrichment payloads into a merged
// record and flags numeric disagreements between sources.
package merge

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/regwatch/internal/company"
)

// DefaultThreshold is the relative difference above which a pair diverges.
const DefaultThreshold = 0.05

// Pair declares two sources whose Field values must agree. Left is the
// reference value: the relative difference is taken against it.
type Pair struct {
	Field string         `mapstructure:"field" json:"field"`
	Left  company.Source `mapstructure:"left" json:"left"`
	Right company.Source `mapstructure:"right" json:"right"`
}

// Code is the divergence flag emitted for the pair, e.g. "capital:gazette~registry".
func (p Pair) Code() string {
	return fmt.Sprintf("%s:%s~%s", p.Field, p.Left, p.Right)
}

// DefaultPairs compares declared capital gazette to registry and base to registry.
func DefaultPairs() []Pair {
	return []Pair{
		{Field: company.FieldCapital, Left: company.SourceGazette, Right: company.SourceRegistry},
		{Field: company.FieldCapital, Left: company.SourceBase, Right: company.SourceRegistry},
	}
}

// Link describes how an enrichment payload was matched to its record.
type Link struct {
	Score float64
	Type  company.MatchType
}

// Exact is the link for an identity-key match.
var Exact = Link{Score: 100, Type: company.MatchExact}

// Merger builds and updates merged records.
type Merger struct {
	pairs     []Pair
	threshold float64
	now       func() time.Time
	newID     func() string
}

// Option configures a Merger.
type Option func(*Merger)

// WithClock overrides the attachment timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Merger) { m.now = now }
}

// WithIDs overrides record id generation.
func WithIDs(newID func() string) Option {
	return func(m *Merger) { m.newID = newID }
}

// New creates a Merger. A nil pairs slice uses DefaultPairs; a non-positive
// threshold uses DefaultThreshold.
func New(pairs []Pair, threshold float64, opts ...Option) *Merger {
	if pairs == nil {
		pairs = DefaultPairs()
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	m := &Merger{
		pairs:     pairs,
		threshold: threshold,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Threshold returns the configured relative-difference threshold.
func (m *Merger) Threshold() float64 { return m.threshold }

// Merge builds a record from a base entity and the enrichment payloads found
// for it. Nil payloads are skipped. Sources missing from links are treated as
// exact attachments.
func (m *Merger) Merge(base company.Entity, enrichments map[company.Source]company.Payload, links map[company.Source]Link) *company.Record {
	r := m.NewRecord(base)
	for _, src := range sortedSources(enrichments) {
		p := enrichments[src]
		if p == nil {
			continue
		}
		l, ok := links[src]
		if !ok {
			l = Exact
		}
		m.Attach(r, p, l)
	}
	return r
}

// NewRecord creates a record for the first sighting of e. A base entity fills
// the base payload; any other source is attached under its namespace as an
// exact match on its own identity.
func (m *Merger) NewRecord(e company.Entity) *company.Record {
	now := m.now()
	r := company.NewRecord(m.newID(), e.Key(), e.Name, e.Region, now)
	switch p := e.Payload.(type) {
	case nil:
	case *company.BasePayload:
		r.Base = p
	default:
		m.Attach(r, p, Exact)
	}
	m.Recompute(r)
	return r
}

// SetBase replaces the base payload and recomputes divergence. Enrichments and
// editorial fields are preserved.
func (m *Merger) SetBase(r *company.Record, p *company.BasePayload) {
	r.Base = p
	if p != nil {
		if p.Name != "" {
			r.Name = p.Name
		}
		if p.Region != "" {
			r.Region = p.Region
		}
	}
	r.UpdatedAt = m.now()
	m.Recompute(r)
}

// Attach stores p under its source namespace, replacing only that source's
// previous payload. Other sources, notes and metrics are left untouched.
func (m *Merger) Attach(r *company.Record, p company.Payload, l Link) {
	src := p.Source()
	if src == company.SourceBase {
		bp, _ := p.(*company.BasePayload)
		m.SetBase(r, bp)
		return
	}
	if r.Enrichments == nil {
		r.Enrichments = make(map[company.Source]*company.Attachment)
	}
	now := m.now()
	r.Enrichments[src] = &company.Attachment{
		Source:     src,
		MatchType:  l.Type,
		Score:      l.Score,
		AttachedAt: now,
		Payload:    p,
	}
	r.UpdatedAt = now
	m.Recompute(r)
}

// Recompute rebuilds the divergence set from the current payloads.
func (m *Merger) Recompute(r *company.Record) {
	r.Divergence = m.Divergence(r)
}

// Divergence returns the sorted codes of every configured pair whose values
// disagree beyond the threshold.
func (m *Merger) Divergence(r *company.Record) []string {
	out := []string{}
	for _, pair := range m.pairs {
		if m.diverges(r, pair) {
			out = append(out, pair.Code())
		}
	}
	sort.Strings(out)
	return out
}

func (m *Merger) diverges(r *company.Record, pair Pair) bool {
	left, right := r.Payload(pair.Left), r.Payload(pair.Right)
	if left == nil || right == nil {
		return false
	}
	v1, ok1 := left.Number(pair.Field)
	v2, ok2 := right.Number(pair.Field)
	if !ok1 || !ok2 {
		return false
	}
	return Diverges(v1, v2, m.threshold)
}

// Diverges reports whether |v1-v2|/|v1| exceeds threshold. A zero or
// non-finite reference never diverges.
func Diverges(v1, v2, threshold float64) bool {
	if v1 == 0 || math.IsNaN(v1) || math.IsNaN(v2) || math.IsInf(v1, 0) || math.IsInf(v2, 0) {
		return false
	}
	rel := math.Abs(v1-v2) / math.Abs(v1)
	if rel > threshold {
		zap.L().Debug("merge: divergence",
			zap.Float64("left", v1),
			zap.Float64("right", v2),
			zap.Float64("relative", rel),
		)
		return true
	}
	return false
}

func sortedSources(m map[company.Source]company.Payload) []company.Source {
	out := make([]company.Source, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
