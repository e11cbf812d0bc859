package crosscheck

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/regwatch/internal/company"
)

const systemPrompt = `أنت مدقق بيانات تقارن سجلات الشركات الأهلية التونسية عبر ثلاثة مصادر.

السياق:
- الشركة الأهلية كيان قانوني أحدثه المرسوم عدد 15 لسنة 2022.
- الرائد الرسمي للجمهورية التونسية ينشر إعلانات التأسيس.
- السجل الوطني للمؤسسات هو المرجع الإداري (المعرّف الجبائي، رأس المال، الشكل القانوني).

القواعد:
1. لا تستنتج أي معلومة غير واردة في البيانات.
2. كل اختلاف بين المصادر يُصنَّف تضاربًا.
3. تُكتب القيم بالعربية الفصحى والمفاتيح بالإنجليزية.
4. أجب بكائن JSON واحد فقط بالمفاتيح: match_score (0-100), status (Verified | Suspicious | Conflict), findings, red_flags, summary_ar.`

const noData = "لا توجد بيانات"

// userPrompt renders the three source sections and the comparison steps.
func userPrompt(req Request) (string, error) {
	var b strings.Builder
	b.WriteString("قارن المصادر الثلاثة التالية لهذه الشركة الأهلية.\n\n")
	sections := []struct {
		title string
		data  any
	}{
		{"المصدر الأول: السجل الأساسي للشركات الأهلية", req.Base},
		{"المصدر الثاني: الرائد الرسمي", req.Gazette},
		{"المصدر الثالث: السجل الوطني للمؤسسات", req.Registry},
	}
	for _, s := range sections {
		b.WriteString("## ")
		b.WriteString(s.title)
		b.WriteString("\n")
		text, err := section(s.data)
		if err != nil {
			return "", err
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	b.WriteString(`## التعليمات
1. قارن اسم الشركة بين المصادر.
2. قارن رأس المال المصرّح به.
3. تحقق من تطابق الولاية والمعتمدية.
4. تحقق من تطابق تواريخ التأسيس والتسجيل.
5. تحقق من وجود المعرّف الجبائي ورقم السجل التجاري.
6. أعط match_score وحدد status.

أجب بصيغة JSON فقط.`)
	return b.String(), nil
}

func section(v any) (string, error) {
	if isEmpty(v) {
		return noData, nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "crosscheck: encode section")
	}
	return string(data), nil
}

func isEmpty(v any) bool {
	switch p := v.(type) {
	case nil:
		return true
	case *company.BasePayload:
		return p == nil
	case *company.GazettePayload:
		return p == nil
	case *company.RegistryPayload:
		return p == nil
	}
	return false
}

// verdict is the JSON object the model is asked to return.
type verdict struct {
	MatchScore *float64 `json:"match_score"`
	Status     string   `json:"status"`
	Findings   []string `json:"findings"`
	RedFlags   []string `json:"red_flags"`
	Summary    string   `json:"summary_ar"`
	SummaryAlt string   `json:"summary"`
}

// parseVerdict extracts the JSON object from the model text. Code fences and
// surrounding prose are tolerated; a missing score or unknown status is not.
func parseVerdict(text string) (company.CrossCheck, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return company.CrossCheck{}, eris.New("crosscheck: no JSON object in response")
	}
	var v verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return company.CrossCheck{}, eris.Wrap(err, "crosscheck: decode response")
	}
	if v.MatchScore == nil {
		return company.CrossCheck{}, eris.New("crosscheck: response has no match_score")
	}
	status, ok := canonicalStatus(v.Status)
	if !ok {
		return company.CrossCheck{}, eris.Errorf("crosscheck: unknown status %q", v.Status)
	}

	score := int(*v.MatchScore + 0.5)
	score = max(0, min(100, score))
	summary := v.Summary
	if summary == "" {
		summary = v.SummaryAlt
	}
	return company.CrossCheck{
		MatchScore: score,
		Status:     status,
		Findings:   nonNil(v.Findings),
		RedFlags:   nonNil(v.RedFlags),
		Summary:    summary,
	}, nil
}

func canonicalStatus(s string) (string, bool) {
	for _, st := range []string{company.StatusVerified, company.StatusSuspicious, company.StatusConflict} {
		if strings.EqualFold(strings.TrimSpace(s), st) {
			return st, true
		}
	}
	return "", false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
