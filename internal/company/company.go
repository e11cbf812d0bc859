// Package company defines the merged company record and the per-source
// payloads attached to it.
package company

import (
	"sort"
	"time"

	"github.com/sells-group/regwatch/internal/normalize"
)

// Source names a raw source table.
type Source string

// Known sources.
const (
	SourceBase        Source = "base"
	SourceGazette     Source = "gazette"
	SourceRegistry    Source = "registry"
	SourceProcurement Source = "procurement"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceBase, SourceGazette, SourceRegistry, SourceProcurement:
		return true
	}
	return false
}

// EnrichmentSources lists the sources that attach to a base entity.
var EnrichmentSources = []Source{SourceGazette, SourceRegistry, SourceProcurement}

// Entity is one row from a single source table. Name and Region are always set.
type Entity struct {
	Source  Source  `json:"source"`
	Ref     string  `json:"ref"`
	Name    string  `json:"name"`
	Region  string  `json:"region"`
	Payload Payload `json:"-"`
}

// Key returns the exact identity key of the entity.
func (e Entity) Key() normalize.Key {
	return normalize.KeyOf(e.Name, e.Region)
}

// MatchType records how an enrichment payload was attached.
type MatchType string

// Match types.
const (
	MatchExact  MatchType = "exact"
	MatchFuzzy  MatchType = "fuzzy"
	MatchManual MatchType = "manual"
)

// Attachment is an enrichment payload stored under its source namespace with
// the score that produced it.
type Attachment struct {
	Source     Source    `json:"source"`
	MatchType  MatchType `json:"match_type"`
	Score      float64   `json:"score"`
	AttachedAt time.Time `json:"attached_at"`
	Payload    Payload   `json:"payload"`
}

// Record is the merged view of one company: a base payload plus zero or more
// enrichment attachments, divergence flags and editorial fields.
type Record struct {
	ID          string                 `json:"id"`
	Key         normalize.Key          `json:"key"`
	Name        string                 `json:"name"`
	Region      string                 `json:"region"`
	Base        *BasePayload           `json:"base,omitempty"`
	Enrichments map[Source]*Attachment `json:"enrichments"`
	Divergence  []string               `json:"divergence"`

	// Editorial fields, never touched by source imports.
	Notes      string      `json:"notes,omitempty"`
	Metrics    *Metrics    `json:"metrics,omitempty"`
	CrossCheck *CrossCheck `json:"cross_check,omitempty"`
	EnrichedBy string      `json:"enriched_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord creates an empty record for key.
func NewRecord(id string, key normalize.Key, name, region string, now time.Time) *Record {
	return &Record{
		ID:          id,
		Key:         key,
		Name:        name,
		Region:      region,
		Enrichments: make(map[Source]*Attachment),
		Divergence:  []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Attachment returns the payload attached for source, or nil.
func (r *Record) Attachment(s Source) *Attachment {
	if r.Enrichments == nil {
		return nil
	}
	return r.Enrichments[s]
}

// Registry returns the registry payload, or nil.
func (r *Record) Registry() *RegistryPayload {
	if a := r.Attachment(SourceRegistry); a != nil {
		if p, ok := a.Payload.(*RegistryPayload); ok {
			return p
		}
	}
	return nil
}

// Gazette returns the gazette payload, or nil.
func (r *Record) Gazette() *GazettePayload {
	if a := r.Attachment(SourceGazette); a != nil {
		if p, ok := a.Payload.(*GazettePayload); ok {
			return p
		}
	}
	return nil
}

// Procurement returns the procurement payload, or nil.
func (r *Record) Procurement() *ProcurementPayload {
	if a := r.Attachment(SourceProcurement); a != nil {
		if p, ok := a.Payload.(*ProcurementPayload); ok {
			return p
		}
	}
	return nil
}

// Payload returns the payload for any source including base.
func (r *Record) Payload(s Source) Payload {
	if s == SourceBase {
		if r.Base == nil {
			return nil
		}
		return r.Base
	}
	if a := r.Attachment(s); a != nil {
		return a.Payload
	}
	return nil
}

// Sources lists the attached enrichment sources in sorted order.
func (r *Record) Sources() []Source {
	out := make([]Source, 0, len(r.Enrichments))
	for s := range r.Enrichments {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ActivityGroup returns the base activity group, or "".
func (r *Record) ActivityGroup() string {
	if r.Base == nil {
		return ""
	}
	return r.Base.ActivityGroup
}

// Type returns the base governance type, or "".
func (r *Record) Type() string {
	if r.Base == nil {
		return ""
	}
	return r.Base.Type
}

// Metrics are computed from the enrichment payloads by a separate workflow and
// survive re-imports of any source.
type Metrics struct {
	TotalContracts      int       `json:"total_contracts"`
	TotalContractsValue float64   `json:"total_contracts_value"`
	CapitalRatio        float64   `json:"capital_to_contracts_ratio"`
	RedFlags            []RedFlag `json:"red_flags"`
}

// RedFlag is a record-level warning.
type RedFlag struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message_ar"`
}

// CrossCheck status values.
const (
	StatusVerified   = "Verified"
	StatusSuspicious = "Suspicious"
	StatusConflict   = "Conflict"
	StatusPending    = "Pending"
)

// CrossCheck is the result of the external consistency scorer.
type CrossCheck struct {
	MatchScore int       `json:"match_score"`
	Status     string    `json:"status"`
	Findings   []string  `json:"findings"`
	RedFlags   []string  `json:"red_flags"`
	Summary    string    `json:"summary"`
	Error      string    `json:"error,omitempty"`
	Model      string    `json:"model,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Note is an investigation note attached to a record.
type Note struct {
	ID        string    `json:"id"`
	RecordID  string    `json:"record_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	Author    string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
