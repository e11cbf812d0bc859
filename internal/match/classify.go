package match

import (
	"github.com/rotisserie/eris"
)

// Bucket is the outcome class of a scored comparison.
type Bucket string

// Buckets.
const (
	BucketStrict Bucket = "strict"
	BucketReview Bucket = "review"
	BucketNone   Bucket = "none"
)

// Thresholds are the two cut points applied to a similarity score.
type Thresholds struct {
	Match  float64 `mapstructure:"match" json:"match"`
	Review float64 `mapstructure:"review" json:"review"`
}

// Named threshold profiles.
const (
	ProfileRegistry = "registry"
	ProfileName     = "name"
)

// DefaultProfiles returns the built-in threshold pairs: base-to-registry
// linkage and free list-to-list name comparison.
func DefaultProfiles() map[string]Thresholds {
	return map[string]Thresholds{
		ProfileRegistry: {Match: 95, Review: 85},
		ProfileName:     {Match: 90, Review: 70},
	}
}

// Validate checks that Match is strictly above Review.
func (t Thresholds) Validate() error {
	if t.Match <= t.Review {
		return eris.Errorf("match: match cut %.1f must exceed review cut %.1f", t.Match, t.Review)
	}
	return nil
}

// Classify buckets score: >= Match is strict, >= Review is review, else none.
func (t Thresholds) Classify(score float64) Bucket {
	switch {
	case score >= t.Match:
		return BucketStrict
	case score >= t.Review:
		return BucketReview
	default:
		return BucketNone
	}
}

// Outcome is one linkage decision: a source row, the chosen candidate (if
// any), its score and bucket. Outcomes are recomputed on every run.
type Outcome struct {
	SourceRef    string  `json:"source_ref"`
	SourceName   string  `json:"source_name"`
	CandidateRef string  `json:"candidate_ref,omitempty"`
	MatchedName  string  `json:"matched_name,omitempty"`
	Score        float64 `json:"score"`
	Bucket       Bucket  `json:"bucket"`
}

// Matched reports whether the outcome names a candidate.
func (o Outcome) Matched() bool { return o.CandidateRef != "" }
