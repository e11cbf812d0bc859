// Package risk scores administrative regions from the merged company
// population and aggregates national and regional statistics.
package risk

// Weights combine the three sub-scores into the composite index.
type Weights struct {
	Resource      float64 `mapstructure:"resource" json:"resource"`
	Concentration float64 `mapstructure:"concentration" json:"concentration"`
	Governance    float64 `mapstructure:"governance" json:"governance"`
}

// FlagThresholds are the strict cut points above which a flag is emitted.
type FlagThresholds struct {
	Resource      float64 `mapstructure:"resource" json:"resource"`
	Concentration float64 `mapstructure:"concentration" json:"concentration"`
	Governance    float64 `mapstructure:"governance" json:"governance"`
}

// NarrativeThresholds drive commentary and recommendations. They are kept
// apart from FlagThresholds and may differ from them.
type NarrativeThresholds struct {
	Resource             float64 `mapstructure:"resource" json:"resource"`
	DominantGroupShare   float64 `mapstructure:"dominant_group_share" json:"dominant_group_share"`
	Concentration        float64 `mapstructure:"concentration" json:"concentration"`
	NotableConcentration float64 `mapstructure:"notable_concentration" json:"notable_concentration"`
	Governance           float64 `mapstructure:"governance" json:"governance"`
	DeepInvestigation    float64 `mapstructure:"deep_investigation" json:"deep_investigation"`
}

// LevelCuts map the composite index to a qualitative level (inclusive).
type LevelCuts struct {
	High   float64 `mapstructure:"high" json:"high"`
	Medium float64 `mapstructure:"medium" json:"medium"`
}

// Params configures a Scorer.
type Params struct {
	Weights        Weights             `mapstructure:"weights" json:"weights"`
	Flags          FlagThresholds      `mapstructure:"flags" json:"flags"`
	Narrative      NarrativeThresholds `mapstructure:"narrative" json:"narrative"`
	Levels         LevelCuts           `mapstructure:"levels" json:"levels"`
	ResourceGroups []string            `mapstructure:"resource_groups" json:"resource_groups"`
	LocalType      string              `mapstructure:"local_type" json:"local_type"`
	RegionalType   string              `mapstructure:"regional_type" json:"regional_type"`
}

// DefaultParams returns the production scoring parameters.
func DefaultParams() Params {
	return Params{
		Weights: Weights{Resource: 0.4, Concentration: 0.4, Governance: 0.2},
		Flags:   FlagThresholds{Resource: 0.6, Concentration: 0.7, Governance: 0.5},
		Narrative: NarrativeThresholds{
			Resource:             0.6,
			DominantGroupShare:   0.3,
			Concentration:        0.7,
			NotableConcentration: 0.5,
			Governance:           0.5,
			DeepInvestigation:    70,
		},
		Levels:         LevelCuts{High: 70, Medium: 40},
		ResourceGroups: []string{"AGRI_NATUREL", "ENVIRONNEMENT", "ENERGIE_MINES"},
		LocalType:      "محلية",
		RegionalType:   "جهوية",
	}
}
