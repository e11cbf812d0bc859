package api

import (
	"net/url"
	"strings"

	"github.com/sells-group/regwatch/internal/company"
)

// OSINTLinks returns search links for a company in public sources.
func OSINTLinks(name, region string) map[string]string {
	q := url.QueryEscape(name)
	web := url.QueryEscape(strings.TrimSpace(name+" "+region) + " site:tn")
	return map[string]string{
		"RNE":      "https://www.registre-entreprises.tn/search?q=" + q,
		"JORT":     "http://www.iort.gov.tn/search?q=" + q,
		"Google":   "https://www.google.com/search?q=" + web,
		"Facebook": "https://www.facebook.com/search/top?q=" + q,
	}
}

// recordLinks adds the registry detail page when one is known.
func recordLinks(r *company.Record) map[string]string {
	links := OSINTLinks(r.Name, r.Region)
	if reg := r.Registry(); reg != nil && reg.DetailURL != "" {
		links["Registry"] = reg.DetailURL
	}
	return links
}
