package company

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// FieldCapital is the declared share capital, present in several sources.
const FieldCapital = "capital"

// Payload is the source-specific body of an entity. Each source has its own
// concrete variant; Number exposes the numeric fields used for divergence checks.
type Payload interface {
	Source() Source
	Number(field string) (float64, bool)
}

// BasePayload is a row of the base registry export.
type BasePayload struct {
	Name               string   `json:"name"`
	Region             string   `json:"wilaya"`
	SubRegion          string   `json:"delegation,omitempty"`
	Locality           string   `json:"locality,omitempty"`
	Type               string   `json:"type,omitempty"`
	ActivityRaw        string   `json:"activity_raw,omitempty"`
	ActivityNormalized string   `json:"activity_normalized,omitempty"`
	ActivityGroup      string   `json:"activity_group,omitempty"`
	Capital            *float64 `json:"capital,omitempty"`
}

// Source implements Payload.
func (p *BasePayload) Source() Source { return SourceBase }

// Number implements Payload.
func (p *BasePayload) Number(field string) (float64, bool) {
	if field == FieldCapital && p.Capital != nil {
		return *p.Capital, true
	}
	return 0, false
}

// Announcement is one official gazette notice.
type Announcement struct {
	Date    string `json:"date"`
	Type    string `json:"type"`
	Number  string `json:"jort_number,omitempty"`
	Content string `json:"content"`
	Year    int    `json:"year,omitempty"`
}

// GazettePayload accumulates gazette announcements for one company.
type GazettePayload struct {
	Name          string         `json:"name"`
	Region        string         `json:"wilaya,omitempty"`
	Capital       *float64       `json:"capital,omitempty"`
	Announcements []Announcement `json:"announcements"`
}

// Source implements Payload.
func (p *GazettePayload) Source() Source { return SourceGazette }

// Number implements Payload.
func (p *GazettePayload) Number(field string) (float64, bool) {
	if field == FieldCapital && p.Capital != nil {
		return *p.Capital, true
	}
	return 0, false
}

// AddAnnouncement appends a unless an identical notice is already present.
func (p *GazettePayload) AddAnnouncement(a Announcement) bool {
	for _, x := range p.Announcements {
		if x == a {
			return false
		}
	}
	p.Announcements = append(p.Announcements, a)
	return true
}

// Shareholder is a registry-declared owner.
type Shareholder struct {
	Name       string  `json:"name"`
	Percentage float64 `json:"percentage"`
	Role       string  `json:"role"`
}

// RegistryPayload is a row of the third-party registry mirror.
type RegistryPayload struct {
	ExternalID       string        `json:"charika_id"`
	CompanyType      string        `json:"charika_type,omitempty"`
	Name             string        `json:"name"`
	Region           string        `json:"wilaya"`
	Delegation       string        `json:"delegation,omitempty"`
	ZipcodeList      string        `json:"zipcode_list,omitempty"`
	StartDateRaw     string        `json:"start_date_raw,omitempty"`
	Capital          *float64      `json:"capital,omitempty"`
	TaxID            string        `json:"tax_id,omitempty"`
	RCNumber         string        `json:"rc_number,omitempty"`
	FoundingDate     string        `json:"founding_date_iso,omitempty"`
	LegalForm        string        `json:"legal_form,omitempty"`
	Address          string        `json:"address,omitempty"`
	ZipcodeDetail    string        `json:"zipcode_detail,omitempty"`
	FoundingLocation string        `json:"founding_location,omitempty"`
	DetailURL        string        `json:"detail_url,omitempty"`
	Shareholders     []Shareholder `json:"shareholders,omitempty"`
}

// Source implements Payload.
func (p *RegistryPayload) Source() Source { return SourceRegistry }

// Number implements Payload.
func (p *RegistryPayload) Number(field string) (float64, bool) {
	if field == FieldCapital && p.Capital != nil {
		return *p.Capital, true
	}
	return 0, false
}

// Contract is a public procurement award.
type Contract struct {
	Date   string  `json:"date"`
	Agency string  `json:"organisme"`
	Type   string  `json:"type"`
	Amount float64 `json:"montant"`
	Object string  `json:"objet"`
}

// ProcurementPayload lists contracts entered by investigators.
type ProcurementPayload struct {
	Contracts []Contract `json:"contracts"`
}

// Source implements Payload.
func (p *ProcurementPayload) Source() Source { return SourceProcurement }

// Number implements Payload.
func (p *ProcurementPayload) Number(field string) (float64, bool) {
	if field == "contracts_value" {
		var total float64
		for _, c := range p.Contracts {
			total += c.Amount
		}
		return total, len(p.Contracts) > 0
	}
	return 0, false
}

// NewPayload returns an empty payload variant for source.
func NewPayload(s Source) (Payload, error) {
	switch s {
	case SourceBase:
		return &BasePayload{}, nil
	case SourceGazette:
		return &GazettePayload{}, nil
	case SourceRegistry:
		return &RegistryPayload{}, nil
	case SourceProcurement:
		return &ProcurementPayload{}, nil
	default:
		return nil, eris.Errorf("company: unknown source %q", s)
	}
}

// DecodePayload parses raw into the variant selected by source.
func DecodePayload(s Source, raw []byte) (Payload, error) {
	p, err := NewPayload(s)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, eris.Wrapf(err, "company: decode %s payload", s)
	}
	return p, nil
}

// UnmarshalJSON decodes the payload variant named by the source field.
func (a *Attachment) UnmarshalJSON(data []byte) error {
	type alias Attachment
	var aux struct {
		alias
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return eris.Wrap(err, "company: decode attachment")
	}
	p, err := DecodePayload(aux.Source, aux.Payload)
	if err != nil {
		return err
	}
	*a = Attachment(aux.alias)
	a.Payload = p
	return nil
}
