package source

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/sells-group/regwatch/internal/company"
)

// BaseRow is one decoded row of the base registry export.
type BaseRow struct {
	Line    int
	Ref     string
	Payload *company.BasePayload
}

// Entity converts the row to a base entity.
func (r BaseRow) Entity() company.Entity {
	return company.Entity{
		Source:  company.SourceBase,
		Ref:     r.Ref,
		Name:    r.Payload.Name,
		Region:  r.Payload.Region,
		Payload: r.Payload,
	}
}

// GazetteRow is one gazette announcement. Several rows may name the same
// company; the pipeline folds them into one payload.
type GazetteRow struct {
	Line         int
	Ref          string
	Name         string
	Region       string
	Capital      *float64
	Announcement company.Announcement
}

// Entity converts the row to a gazette entity carrying a single announcement.
func (r GazetteRow) Entity() company.Entity {
	p := &company.GazettePayload{Name: r.Name, Region: r.Region, Capital: r.Capital}
	p.AddAnnouncement(r.Announcement)
	return company.Entity{
		Source:  company.SourceGazette,
		Ref:     r.Ref,
		Name:    r.Name,
		Region:  r.Region,
		Payload: p,
	}
}

// RegistryRow is one row of the registry mirror.
type RegistryRow struct {
	Line    int
	Payload *company.RegistryPayload
}

// Entity converts the row to a registry entity keyed by its external id.
func (r RegistryRow) Entity() company.Entity {
	return company.Entity{
		Source:  company.SourceRegistry,
		Ref:     r.Payload.ExternalID,
		Name:    r.Payload.Name,
		Region:  r.Payload.Region,
		Payload: r.Payload,
	}
}

// WatchRow is one row of an externally prepared watch list.
type WatchRow struct {
	Line        int
	Name        string
	Region      string
	Delegation  string
	Activity    string
	Type        string
	AnnouncedAt string
}

// DecodeBase decodes a base export table.
func DecodeBase(p Profiles, t *Table) ([]BaseRow, error) {
	cols, err := p.Resolve(ProfileBase, t.Header)
	if err != nil {
		return nil, err
	}
	out := make([]BaseRow, 0, len(t.Rows))
	for i, row := range t.Rows {
		ref := cols.Get(row, "ref")
		if ref == "" {
			ref = strconv.Itoa(i + 1)
		}
		out = append(out, BaseRow{
			Line: i + 2,
			Ref:  ref,
			Payload: &company.BasePayload{
				Name:               cols.Get(row, "name"),
				Region:             cols.Get(row, "wilaya"),
				SubRegion:          cols.Get(row, "delegation"),
				Locality:           cols.Get(row, "locality"),
				Type:               cols.Get(row, "type"),
				ActivityRaw:        cols.Get(row, "activity_raw"),
				ActivityNormalized: cols.Get(row, "activity_normalized"),
				ActivityGroup:      cols.Get(row, "activity_group"),
				Capital:            ParseAmount(cols.Get(row, "capital")),
			},
		})
	}
	return out, nil
}

// DecodeGazette decodes a gazette announcement table.
func DecodeGazette(p Profiles, t *Table) ([]GazetteRow, error) {
	cols, err := p.Resolve(ProfileGazette, t.Header)
	if err != nil {
		return nil, err
	}
	out := make([]GazetteRow, 0, len(t.Rows))
	for i, row := range t.Rows {
		a := company.Announcement{
			Date:    cols.Get(row, "date"),
			Type:    cols.Get(row, "type"),
			Number:  cols.Get(row, "jort_number"),
			Content: cols.Get(row, "content"),
			Year:    parseYear(cols.Get(row, "year"), cols.Get(row, "date")),
		}
		ref := cols.Get(row, "ref")
		if ref == "" {
			ref = a.Number
		}
		if ref == "" {
			ref = strconv.Itoa(i + 1)
		}
		out = append(out, GazetteRow{
			Line:         i + 2,
			Ref:          ref,
			Name:         cols.Get(row, "name"),
			Region:       cols.Get(row, "wilaya"),
			Capital:      ParseAmount(cols.Get(row, "capital")),
			Announcement: a,
		})
	}
	return out, nil
}

// DecodeRegistry decodes a registry mirror table. Rows without an external
// id are returned as-is; callers decide whether to skip them.
func DecodeRegistry(p Profiles, t *Table) ([]RegistryRow, error) {
	cols, err := p.Resolve(ProfileRegistry, t.Header)
	if err != nil {
		return nil, err
	}
	out := make([]RegistryRow, 0, len(t.Rows))
	for i, row := range t.Rows {
		out = append(out, RegistryRow{
			Line: i + 2,
			Payload: &company.RegistryPayload{
				ExternalID:       cols.Get(row, "charika_id"),
				CompanyType:      cols.Get(row, "charika_type"),
				Name:             cols.Get(row, "name"),
				Region:           cols.Get(row, "wilaya"),
				Delegation:       cols.Get(row, "delegation"),
				ZipcodeList:      cols.Get(row, "zipcode_list"),
				StartDateRaw:     cols.Get(row, "start_date_raw"),
				Capital:          ParseAmount(cols.Get(row, "capital")),
				TaxID:            cols.Get(row, "tax_id"),
				RCNumber:         cols.Get(row, "rc_number"),
				FoundingDate:     cols.Get(row, "founding_date_iso"),
				LegalForm:        cols.Get(row, "legal_form"),
				Address:          cols.Get(row, "address"),
				ZipcodeDetail:    cols.Get(row, "zipcode_detail"),
				FoundingLocation: cols.Get(row, "founding_location"),
				DetailURL:        cols.Get(row, "detail_url"),
			},
		})
	}
	return out, nil
}

// DecodeWatchlist decodes a prepared watch list table.
func DecodeWatchlist(p Profiles, t *Table) ([]WatchRow, error) {
	cols, err := p.Resolve(ProfileWatchlist, t.Header)
	if err != nil {
		return nil, err
	}
	out := make([]WatchRow, 0, len(t.Rows))
	for i, row := range t.Rows {
		out = append(out, WatchRow{
			Line:        i + 2,
			Name:        cols.Get(row, "name"),
			Region:      cols.Get(row, "wilaya"),
			Delegation:  cols.Get(row, "delegation"),
			Activity:    cols.Get(row, "activity"),
			Type:        cols.Get(row, "type"),
			AnnouncedAt: cols.Get(row, "date_annonce"),
		})
	}
	return out, nil
}

// ParseAmount parses a money amount written with thousands separators,
// spaces or a currency suffix ("1 000 000", "1.000.000,50", "5000 DT").
// Unparsable or empty input yields nil.
func ParseAmount(s string) *float64 {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ',' || r == '.':
			if b.Len() > 0 {
				b.WriteRune(r)
			}
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '\'', r == '_':
		default:
			// a currency suffix ends the number
			if b.Len() > 0 && unicode.IsLetter(r) {
				return finishAmount(b.String())
			}
		}
	}
	return finishAmount(b.String())
}

func finishAmount(s string) *float64 {
	s = strings.Trim(s, ".,")
	if s == "" || s == "-" {
		return nil
	}
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		s = decimalOrGrouping(s, ",")
	case lastDot >= 0:
		s = decimalOrGrouping(s, ".")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// decimalOrGrouping treats a single separator followed by one to two digits
// as a decimal point, and anything else as thousands grouping.
func decimalOrGrouping(s, sep string) string {
	if strings.Count(s, sep) == 1 {
		i := strings.Index(s, sep)
		if n := len(s) - i - 1; n >= 1 && n <= 2 {
			return strings.Replace(s, sep, ".", 1)
		}
	}
	return strings.ReplaceAll(s, sep, "")
}

func parseYear(year, date string) int {
	if y, err := strconv.Atoi(strings.TrimSpace(year)); err == nil {
		return y
	}
	if len(date) >= 4 {
		if y, err := strconv.Atoi(date[:4]); err == nil && y > 1900 {
			return y
		}
	}
	return 0
}
