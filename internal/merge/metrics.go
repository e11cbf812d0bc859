package merge

import (
	"fmt"
	"strings"

	"github.com/sells-group/regwatch/internal/company"
)

// Red flag types and severities.
const (
	FlagFinancialRatio    = "FINANCIAL_RATIO"
	FlagProcurementMethod = "PROCUREMENT_METHOD"
	FlagGovernance        = "GOVERNANCE"

	SeverityHigh   = "HIGH"
	SeverityMedium = "MEDIUM"
)

const (
	maxContractsToCapital = 10
	maxDirectAwardShare   = 0.5
)

// directAwardMarkers identify contracts awarded without competition.
var directAwardMarkers = []string{"تراضي", "Direct"}

// ComputeMetrics derives contract totals and red flags from the registry and
// procurement payloads. A missing or non-positive capital counts as 1.
func ComputeMetrics(r *company.Record) *company.Metrics {
	var contracts []company.Contract
	if p := r.Procurement(); p != nil {
		contracts = p.Contracts
	}

	var total float64
	direct := 0
	for _, c := range contracts {
		total += c.Amount
		if isDirectAward(c.Type) {
			direct++
		}
	}

	capital := 1.0
	reg := r.Registry()
	if reg != nil {
		if v, ok := reg.Number(company.FieldCapital); ok && v > 0 {
			capital = v
		}
	}
	ratio := total / capital

	m := &company.Metrics{
		TotalContracts:      len(contracts),
		TotalContractsValue: total,
		CapitalRatio:        ratio,
		RedFlags:            []company.RedFlag{},
	}

	if ratio > maxContractsToCapital {
		m.RedFlags = append(m.RedFlags, company.RedFlag{
			Type:     FlagFinancialRatio,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("قيمة الصفقات تتجاوز رأس المال بـ %.1f مرة", ratio),
		})
	}
	if len(contracts) > 0 && float64(direct)/float64(len(contracts)) > maxDirectAwardShare {
		m.RedFlags = append(m.RedFlags, company.RedFlag{
			Type:     FlagProcurementMethod,
			Severity: SeverityHigh,
			Message:  "أكثر من 50% من الصفقات بالتراضي",
		})
	}
	if reg != nil && len(reg.Shareholders) == 1 {
		m.RedFlags = append(m.RedFlags, company.RedFlag{
			Type:     FlagGovernance,
			Severity: SeverityMedium,
			Message:  "مساهم وحيد في الشركة",
		})
	}
	return m
}

func isDirectAward(kind string) bool {
	for _, marker := range directAwardMarkers {
		if strings.Contains(kind, marker) {
			return true
		}
	}
	return false
}
