// Package match scores company names against candidate pools and buckets the
// scores into strict, review and none.
package match

import (
	"sort"
	"strings"
)

// TokenSortRatio returns a similarity in [0,100] that ignores word order: both
// inputs are split on whitespace, their tokens sorted and rejoined, and the
// results compared with the indel ratio 200*LCS/(len(a)+len(b)) over runes.
// An empty input on either side scores 0.
func TokenSortRatio(a, b string) float64 {
	return ratio(sortTokens(a), sortTokens(b))
}

// sortTokens returns the rune form of s with its whitespace tokens sorted.
func sortTokens(s string) []rune {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	sort.Strings(fields)
	return []rune(strings.Join(fields, " "))
}

func ratio(a, b []rune) float64 {
	total := len(a) + len(b)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	return 200 * float64(lcs(a, b)) / float64(total)
}

// bound is the best ratio two strings of these lengths could reach.
func bound(la, lb int) float64 {
	if la == 0 || lb == 0 {
		return 0
	}
	return 200 * float64(min(la, lb)) / float64(la+lb)
}

// lcs computes the longest common subsequence length with two DP rows.
func lcs(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
