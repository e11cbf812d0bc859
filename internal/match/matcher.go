package match

// Result is the best candidate for one query. Index is -1 when nothing was
// compared.
type Result struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// NoMatch is the result for an empty query or an empty pool.
var NoMatch = Result{Index: -1}

// Found reports whether the result refers to a candidate.
func (r Result) Found() bool { return r.Index >= 0 }

// Index holds a candidate pool with token-sorted forms precomputed so that
// many queries can be resolved against it.
type Index struct {
	sorted [][]rune
}

// NewIndex prepares candidates for repeated BestMatch calls. Candidate order is
// preserved and drives tie-breaking.
func NewIndex(candidates []string) *Index {
	idx := &Index{sorted: make([][]rune, len(candidates))}
	for i, c := range candidates {
		idx.sorted[i] = sortTokens(c)
	}
	return idx
}

// Add appends a candidate to the end of the pool.
func (x *Index) Add(candidate string) {
	x.sorted = append(x.sorted, sortTokens(candidate))
}

// Len returns the pool size.
func (x *Index) Len() int { return len(x.sorted) }

// Best returns the highest-scoring candidate for query. Ties go to the first
// maximal candidate in pool order. Candidates whose length alone rules out
// beating the current best are skipped without changing the outcome.
func (x *Index) Best(query string) (Result, bool) {
	q := sortTokens(query)
	if len(q) == 0 || len(x.sorted) == 0 {
		return NoMatch, false
	}
	best := Result{Index: 0, Score: ratio(q, x.sorted[0])}
	for i := 1; i < len(x.sorted); i++ {
		if best.Score >= 100 {
			break
		}
		c := x.sorted[i]
		if bound(len(q), len(c)) <= best.Score {
			continue
		}
		if s := ratio(q, c); s > best.Score {
			best = Result{Index: i, Score: s}
		}
	}
	return best, true
}

// BestMatch is the one-shot form of Index.Best.
func BestMatch(query string, candidates []string) (Result, bool) {
	return NewIndex(candidates).Best(query)
}

// MatchAll resolves every query against the same pool. Queries that cannot be
// matched yield NoMatch at their position.
func MatchAll(queries, candidates []string) []Result {
	idx := NewIndex(candidates)
	out := make([]Result, len(queries))
	for i, q := range queries {
		r, ok := idx.Best(q)
		if !ok {
			r = NoMatch
		}
		out[i] = r
	}
	return out
}
