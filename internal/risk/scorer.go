package risk

import (
	"math"
	"sort"

	"github.com/sells-group/regwatch/internal/company"
	"github.com/sells-group/regwatch/internal/normalize"
)

// Flag codes.
const (
	FlagResourceDependent   = "RESOURCE_DEPENDENT"
	FlagUltraConcentration  = "ULTRA_CONCENTRATION"
	FlagGovernanceImbalance = "GOVERNANCE_IMBALANCE"
)

// Level is the qualitative risk level of a region.
type Level string

// Levels.
const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

var levelInfo = map[Level]struct{ ar, color string }{
	LevelLow:    {"منخفض", "emerald"},
	LevelMedium: {"متوسط", "amber"},
	LevelHigh:   {"مرتفع", "red"},
}

// Flag is a qualitative risk code.
type Flag struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Label    string `json:"label_ar"`
}

// Entity is the scoring view of a base company.
type Entity struct {
	Region   string
	Group    string
	Type     string
	Activity string
}

// FromRecords projects merged records onto scoring entities. Records without
// a base payload are not part of the scored population.
func FromRecords(recs []*company.Record) []Entity {
	out := make([]Entity, 0, len(recs))
	for _, r := range recs {
		if r.Base == nil {
			continue
		}
		out = append(out, EntityOf(r.Base))
	}
	return out
}

// EntityOf projects one base payload onto a scoring entity.
func EntityOf(p *company.BasePayload) Entity {
	return Entity{
		Region:   normalize.Region(p.Region),
		Group:    p.ActivityGroup,
		Type:     p.Type,
		Activity: p.ActivityNormalized,
	}
}

// RegionScore is the derived risk record of one region.
type RegionScore struct {
	Region          string   `json:"wilaya"`
	Count           int      `json:"count"`
	S1              float64  `json:"s1"`
	S2              float64  `json:"s2"`
	S3              float64  `json:"s3"`
	Composite       float64  `json:"baath_index"`
	Flags           []Flag   `json:"flags"`
	Level           Level    `json:"level"`
	LevelAR         string   `json:"level_ar"`
	Color           string   `json:"color"`
	Commentary      string   `json:"comment_ar"`
	Recommendations []string `json:"recommendations"`
}

// Scorer computes region scores.
type Scorer struct {
	p         Params
	resources map[string]bool
}

// NewScorer creates a Scorer with p.
func NewScorer(p Params) *Scorer {
	res := make(map[string]bool, len(p.ResourceGroups))
	for _, g := range p.ResourceGroups {
		res[g] = true
	}
	return &Scorer{p: p, resources: res}
}

// Params returns the scorer's parameters.
func (s *Scorer) Params() Params { return s.p }

// breakdown holds the raw counts behind a score.
type breakdown struct {
	total      int
	resource   int
	groups     map[string]int
	grouped    int
	types      map[string]int
	typed      int
	activities map[string]int
}

func (s *Scorer) count(entities []Entity) breakdown {
	b := breakdown{
		total:      len(entities),
		groups:     map[string]int{},
		types:      map[string]int{},
		activities: map[string]int{},
	}
	for _, e := range entities {
		if s.resources[e.Group] {
			b.resource++
		}
		if e.Group != "" {
			b.groups[e.Group]++
			b.grouped++
		}
		if e.Type != "" {
			b.types[e.Type]++
			b.typed++
		}
		if e.Activity != "" {
			b.activities[e.Activity]++
		}
	}
	return b
}

// ScoreRegion scores one region's entities. It never fails: an empty
// population yields a neutral low record.
func (s *Scorer) ScoreRegion(region string, entities []Entity) RegionScore {
	rs := RegionScore{
		Region:          region,
		Count:           len(entities),
		Flags:           []Flag{},
		Recommendations: []string{},
	}
	if len(entities) == 0 {
		s.label(&rs)
		rs.Commentary = "لا توجد بيانات كافية"
		return rs
	}

	b := s.count(entities)
	total := float64(b.total)

	s1 := float64(b.resource) / total

	var s2 float64
	for _, n := range b.groups {
		s2 = math.Max(s2, float64(n)/total)
	}

	var s3 float64
	if b.typed > 0 {
		local := float64(b.types[s.p.LocalType]) / float64(b.typed)
		regional := float64(b.types[s.p.RegionalType]) / float64(b.typed)
		s3 = math.Abs(local - regional)
	}

	if s1 > s.p.Flags.Resource {
		rs.Flags = append(rs.Flags, Flag{Code: FlagResourceDependent, Severity: "high", Label: "اعتماد كبير على الأنشطة المرتبطة بالموارد العمومية"})
	}
	if s2 > s.p.Flags.Concentration {
		rs.Flags = append(rs.Flags, Flag{Code: FlagUltraConcentration, Severity: "medium", Label: "تركيز عالٍ في مجموعة نشاط واحدة"})
	}
	if s3 > s.p.Flags.Governance {
		rs.Flags = append(rs.Flags, Flag{Code: FlagGovernanceImbalance, Severity: "low", Label: "اختلال واضح بين الشركات المحلية والجهوية"})
	}

	w := s.p.Weights
	raw := 100 * (w.Resource*s1 + w.Concentration*s2 + w.Governance*s3)
	rs.Composite = round(clamp(raw, 0, 100), 1)
	rs.S1, rs.S2, rs.S3 = round(s1, 2), round(s2, 2), round(s3, 2)

	s.label(&rs)
	rs.Commentary, rs.Recommendations = s.narrate(rs, b)
	return rs
}

func (s *Scorer) label(rs *RegionScore) {
	switch {
	case rs.Composite >= s.p.Levels.High:
		rs.Level = LevelHigh
	case rs.Composite >= s.p.Levels.Medium:
		rs.Level = LevelMedium
	default:
		rs.Level = LevelLow
	}
	info := levelInfo[rs.Level]
	rs.LevelAR, rs.Color = info.ar, info.color
}

// ScoreAll groups entities by region and scores each, sorted by composite
// descending with region name as tie-break.
func (s *Scorer) ScoreAll(entities []Entity) []RegionScore {
	byRegion := make(map[string][]Entity)
	for _, e := range entities {
		byRegion[e.Region] = append(byRegion[e.Region], e)
	}
	out := make([]RegionScore, 0, len(byRegion))
	for region, es := range byRegion {
		out = append(out, s.ScoreRegion(region, es))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Composite != out[j].Composite {
			return out[i].Composite > out[j].Composite
		}
		return out[i].Region < out[j].Region
	})
	return out
}

// Region filters entities to one region and scores them.
func (s *Scorer) Region(region string, entities []Entity) RegionScore {
	region = normalize.Region(region)
	var es []Entity
	for _, e := range entities {
		if e.Region == region {
			es = append(es, e)
		}
	}
	return s.ScoreRegion(region, es)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
