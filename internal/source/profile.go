// Package source loads the raw source tables (base export, gazette feed,
// registry mirror, watch list) and decodes their rows into entities.
package source

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Profile names. The first three match company.Source values.
const (
	ProfileBase      = "base"
	ProfileGazette   = "gazette"
	ProfileRegistry  = "registry"
	ProfileWatchlist = "watchlist"
)

//go:embed profiles.yaml
var defaultProfilesYAML []byte

// Profile maps logical fields to the header aliases they may appear under.
type Profile struct {
	Required []string            `yaml:"required"`
	Columns  map[string][]string `yaml:"columns"`
}

// Profiles holds one Profile per source.
type Profiles map[string]Profile

type profilesFile struct {
	Sources Profiles `yaml:"sources"`
}

func parseProfiles(data []byte) (Profiles, error) {
	var f profilesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "source: parse profiles")
	}
	if f.Sources == nil {
		f.Sources = Profiles{}
	}
	return f.Sources, nil
}

// DefaultProfiles returns the built-in column aliases.
func DefaultProfiles() Profiles {
	p, err := parseProfiles(defaultProfilesYAML)
	if err != nil {
		panic(err)
	}
	return p
}

// LoadProfiles returns the built-in profiles overlaid with the file at path.
// Fields named in the file replace the built-in aliases for that field;
// required lists replace the built-in list when present.
func LoadProfiles(path string) (Profiles, error) {
	profiles := DefaultProfiles()
	if path == "" {
		return profiles, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read profiles %s", path)
	}
	override, err := parseProfiles(data)
	if err != nil {
		return nil, err
	}
	for name, o := range override {
		p := profiles[name]
		if p.Columns == nil {
			p.Columns = map[string][]string{}
		}
		for field, aliases := range o.Columns {
			p.Columns[field] = aliases
		}
		if len(o.Required) > 0 {
			p.Required = o.Required
		}
		profiles[name] = p
	}
	return profiles, nil
}

// SchemaError reports required columns missing from a source header. It is
// returned before any row is processed.
type SchemaError struct {
	Source  string
	Missing []string
	Found   []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("source %s: missing required columns %s (found: %s)",
		e.Source, strings.Join(e.Missing, ", "), strings.Join(e.Found, ", "))
}

// Columns maps logical field names to header positions.
type Columns map[string]int

// Has reports whether field was resolved.
func (c Columns) Has(field string) bool {
	_, ok := c[field]
	return ok
}

// Get returns the trimmed cell for field, or "" when the field is absent or
// the row is short.
func (c Columns) Get(row []string, field string) string {
	i, ok := c[field]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// Resolve matches header against the profile named source.
func (p Profiles) Resolve(source string, header []string) (Columns, error) {
	prof, ok := p[source]
	if !ok {
		return nil, eris.Errorf("source: no column profile for %q", source)
	}
	return prof.Resolve(source, header)
}

// Resolve maps header cells to fields. Header cells are compared trimmed and
// case-insensitively; for each field the first alias present wins.
func (p Profile) Resolve(source string, header []string) (Columns, error) {
	pos := make(map[string]int, len(header))
	found := make([]string, 0, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if h == "" {
			continue
		}
		found = append(found, h)
		if _, dup := pos[h]; !dup {
			pos[h] = i
		}
	}

	cols := make(Columns, len(p.Columns))
	for field, aliases := range p.Columns {
		for _, alias := range aliases {
			if i, ok := pos[strings.ToLower(strings.TrimSpace(alias))]; ok {
				cols[field] = i
				break
			}
		}
	}

	var missing []string
	for _, field := range p.Required {
		if !cols.Has(field) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &SchemaError{Source: source, Missing: missing, Found: found}
	}
	return cols, nil
}
