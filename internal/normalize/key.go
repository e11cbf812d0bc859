package normalize

import "strings"

// Key is the exact identity of a company across sources: the normalized name
// plus the trimmed region. It is deliberately stricter than fuzzy matching.
type Key struct {
	Name   string `json:"name"`
	Region string `json:"region"`
}

// KeyOf builds the identity key for a raw (name, region) pair.
func KeyOf(name, region string) Key {
	return Key{
		Name:   Normalize(name),
		Region: Region(region),
	}
}

// Region trims and collapses whitespace in a region label.
func Region(region string) string {
	return strings.Join(strings.Fields(region), " ")
}

// IsZero reports whether the key carries no name.
func (k Key) IsZero() bool {
	return k.Name == ""
}

// String renders the key as "name|region", the form used for storage keys.
func (k Key) String() string {
	return k.Name + "|" + k.Region
}

// ParseKey reverses Key.String.
func ParseKey(s string) Key {
	name, region, _ := strings.Cut(s, "|")
	return Key{Name: name, Region: region}
}
