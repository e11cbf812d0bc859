package risk

import "github.com/sells-group/regwatch/internal/normalize"

const topActivities = 10

// NationalStats summarizes the whole base population.
type NationalStats struct {
	Total         int            `json:"total"`
	Regions       map[string]int `json:"wilayas"`
	Types         map[string]int `json:"types"`
	TopGroups     []Count        `json:"top_groups"`
	TopActivities []Count        `json:"top_activities"`
}

// RegionStats summarizes one region relative to the nation.
type RegionStats struct {
	Region        string         `json:"wilaya"`
	Count         int            `json:"count"`
	PctNational   float64        `json:"pct_national"`
	Rank          int            `json:"rank"`
	Types         map[string]int `json:"types"`
	TopGroups     []Count        `json:"top_groups"`
	TopActivities []Count        `json:"top_activities"`
}

// National aggregates entities across all regions.
func National(entities []Entity) NationalStats {
	ns := NationalStats{
		Total:   len(entities),
		Regions: map[string]int{},
		Types:   map[string]int{},
	}
	groups := map[string]int{}
	activities := map[string]int{}
	for _, e := range entities {
		ns.Regions[e.Region]++
		if e.Type != "" {
			ns.Types[e.Type]++
		}
		if e.Group != "" {
			groups[e.Group]++
		}
		if e.Activity != "" {
			activities[e.Activity]++
		}
	}
	ns.TopGroups = rankCounts(groups)
	ns.TopActivities = head(rankCounts(activities), topActivities)
	return ns
}

// Regional aggregates one region. Rank is 1-based by entity count and 0 when
// the region has no entities.
func Regional(region string, entities []Entity) RegionStats {
	region = normalize.Region(region)
	ns := National(entities)

	rs := RegionStats{Region: region, Types: map[string]int{}}
	var local []Entity
	for _, e := range entities {
		if e.Region == region {
			local = append(local, e)
		}
	}
	rs.Count = len(local)
	if ns.Total > 0 {
		rs.PctNational = round(float64(rs.Count)/float64(ns.Total)*100, 1)
	}
	if rs.Count > 0 {
		for i, c := range rankCounts(ns.Regions) {
			if c.Name == region {
				rs.Rank = i + 1
				break
			}
		}
	}

	ls := National(local)
	rs.Types = ls.Types
	rs.TopGroups = ls.TopGroups
	rs.TopActivities = ls.TopActivities
	return rs
}

func head(cs []Count, n int) []Count {
	if len(cs) > n {
		return cs[:n]
	}
	return cs
}
