package risk

import (
	"fmt"
	"sort"
	"strings"
)

const (
	noSignals     = "لا توجد إشارات خطر واضحة في البيانات الحالية"
	commentJoiner = " · "
)

// narrate writes the editorial commentary and recommended follow-ups. It reads
// the rounded sub-scores and the narrative thresholds only.
func (s *Scorer) narrate(rs RegionScore, b breakdown) (string, []string) {
	n := s.p.Narrative
	groups := rankCounts(b.groups)
	grouped := float64(max(b.grouped, 1))

	var comments []string
	if rs.S1 > n.Resource {
		var dominant []string
		for _, g := range groups {
			if s.resources[g.Name] && float64(g.Count)/grouped > n.DominantGroupShare {
				dominant = append(dominant, g.Name)
			}
		}
		if len(dominant) > 0 {
			comments = append(comments, fmt.Sprintf("الولاية تعتمد بشكل كبير على الأنشطة المرتبطة بالموارد العمومية (%s)", strings.Join(dominant, ", ")))
		}
	}

	switch {
	case rs.S2 > n.Concentration:
		if len(groups) > 0 {
			top := groups[0]
			pct := float64(top.Count) / grouped * 100
			comments = append(comments, fmt.Sprintf("تركيز عالٍ جدا في مجموعة نشاط واحدة (%s: %.0f%%)", top.Name, pct))
		}
	case rs.S2 > n.NotableConcentration:
		comments = append(comments, "تركيز ملحوظ في عدد محدود من القطاعات")
	}

	if rs.S3 > n.Governance {
		typed := float64(max(b.typed, 1))
		local := float64(b.types[s.p.LocalType]) / typed * 100
		regional := float64(b.types[s.p.RegionalType]) / typed * 100
		comments = append(comments, fmt.Sprintf("اختلال واضح في الحوكمة: %.0f%% محلية مقابل %.0f%% جهوية", local, regional))
	}

	recs := []string{}
	if rs.S1 > n.Resource {
		recs = append(recs, "التحقق من الأراضي الدولية المُسندة (OTD)", "البحث في صفقات التطهير والبيئة (TUNEPS)")
	}
	if rs.S2 > n.Concentration {
		recs = append(recs, "تحليل الاحتكارات القطاعية المحتملة")
	}
	if rs.S3 > n.Governance {
		recs = append(recs, "مراجعة التوازن بين المحلي والجهوي في تركيبة مجالس الإدارة")
	}
	if rs.Composite > n.DeepInvestigation {
		recs = append(recs, "يُنصح بتحقيق صحفي معمق على هذه الولاية")
	}

	if len(comments) == 0 {
		return noSignals, recs
	}
	return strings.Join(comments, commentJoiner), recs
}

// Count is a named tally.
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// rankCounts orders a tally by count descending, then name.
func rankCounts(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Name: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}
