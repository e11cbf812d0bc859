// Package normalize canonicalizes company names so fuzzy comparison operates on a
// stable representation across Arabic and Latin spellings.
package normalize

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// arabicVariants unifies letters that are spelled differently across sources but
// denote the same letter in registry names.
var arabicVariants = map[rune]rune{
	'أ': 'ا',
	'إ': 'ا',
	'آ': 'ا',
	'ٱ': 'ا',
	'ى': 'ي',
	'ئ': 'ي',
	'ؤ': 'و',
	'ة': 'ه',
}

// genericArabic lists legal-form and administrative qualifiers removed from
// Arabic names. Entries are unified at init so they match unified input.
var genericArabic = []string{
	"شركة", "الشركة",
	"الاهلية", "الأهلية", "الاهليه",
	"المحلية", "المحليه",
	"الجهوية", "الجهويه",
}

// genericLatin lists French legal-form tokens removed from Latin names.
var genericLatin = []string{
	"société à responsabilité limitée",
	"société anonyme",
	"société", "societe", "ste", "sarl", "sa",
}

var (
	arabicTokens []string
	latinTokens  []string

	// stripMarks removes combining marks (tashkeel, accents). It is stateless and
	// safe to share; transform.Chain is not, so chains are built per call.
	stripMarks = runes.Remove(runes.In(unicode.Mn))
)

func init() {
	arabicTokens = prepareTokens(genericArabic, unifyArabic)
	latinTokens = prepareTokens(genericLatin, foldLatin)
}

// prepareTokens canonicalizes, dedups and orders tokens longest first so that
// "الشركه" is removed before "شركه" can leave a dangling article behind.
func prepareTokens(raw []string, canon func(string) string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		c := strings.TrimSpace(canon(t))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len([]rune(out[i])) > len([]rune(out[j]))
	})
	return out
}

// Normalize canonicalizes an Arabic-script company name:
//  1. Trimming whitespace
//  2. Unifying alef, ya, waw and ta-marbuta variants and dropping tashkeel
//  3. Removing generic legal/administrative tokens as literal substrings
//  4. Replacing punctuation with spaces
//  5. Collapsing whitespace
//
// Token removal is not word-boundary aware: a generic token embedded in a
// proper noun is removed too.
func Normalize(raw string) string {
	return fixedPoint(raw, arabicPass)
}

// NormalizeLatin is the variant for lists that mix French and Arabic names: it
// lowercases and folds accents, removes the Arabic generic tokens as Normalize
// does, then removes French legal-form tokens. French tokens are removed as
// whole words because short forms like "sa" occur inside ordinary words.
func NormalizeLatin(raw string) string {
	return fixedPoint(raw, latinPass)
}

// fixedPoint repeats pass until the output is stable. A token removal can
// expose another generic token; every pass either shrinks s or leaves it
// unchanged after the first, so the loop ends.
func fixedPoint(raw string, pass func(string) string) string {
	s := pass(raw)
	for {
		next := pass(s)
		if next == s {
			return s
		}
		s = next
	}
}

func arabicPass(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = unifyArabic(s)
	for _, t := range arabicTokens {
		s = strings.ReplaceAll(s, t, "")
	}
	return collapse(stripPunct(s))
}

func latinPass(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = unifyArabic(foldLatin(s))
	for _, t := range arabicTokens {
		s = strings.ReplaceAll(s, t, "")
	}
	s = collapse(stripPunct(s))
	padded := " " + s + " "
	for _, t := range latinTokens {
		for strings.Contains(padded, " "+t+" ") {
			padded = strings.ReplaceAll(padded, " "+t+" ", " ")
		}
	}
	return collapse(padded)
}

// unifyArabic maps letter variants and removes tashkeel and tatweel.
func unifyArabic(s string) string {
	s, _, _ = transform.String(stripMarks, s)
	return strings.Map(func(r rune) rune {
		if r == 'ـ' {
			return -1
		}
		if u, ok := arabicVariants[r]; ok {
			return u
		}
		return r
	}, s)
}

// foldLatin lowercases and strips accents (société -> societe).
func foldLatin(s string) string {
	t := transform.Chain(norm.NFD, stripMarks, norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// stripPunct replaces anything that is not a letter, digit, underscore or space
// with a space.
func stripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_', unicode.IsSpace(r):
			return r
		default:
			return ' '
		}
	}, s)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
