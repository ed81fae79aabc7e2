package search

import (
	"strings"
	"unicode"
)

// stopwords are dropped during term extraction. Short function words
// would otherwise dominate the LIKE scan without carrying intent.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "but": true, "by": true, "did": true,
	"do": true, "for": true, "from": true, "had": true, "has": true,
	"have": true, "he": true, "her": true, "his": true, "how": true,
	"i": true, "in": true, "is": true, "it": true, "its": true,
	"me": true, "my": true, "no": true, "not": true, "of": true,
	"on": true, "or": true, "our": true, "she": true, "so": true,
	"that": true, "the": true, "their": true, "them": true,
	"then": true, "there": true, "they": true, "this": true,
	"to": true, "was": true, "we": true, "were": true, "what": true,
	"when": true, "where": true, "which": true, "who": true,
	"why": true, "will": true, "with": true, "you": true, "your": true,
}

// ExtractTerms lowercases the query, splits it on non-alphanumeric runs,
// and drops stopwords and single characters. Order follows first
// appearance; duplicates collapse.
func ExtractTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}

// keywordScore rates content against extracted terms: the fraction of
// terms present, scaled by a saturating factor for repeated occurrences.
// The result stays in [0, 1] so thresholds apply uniformly across
// strategies.
func keywordScore(content string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)

	matched, total := 0, 0
	for _, term := range terms {
		if n := strings.Count(lower, term); n > 0 {
			matched++
			total += n
		}
	}
	if matched == 0 {
		return 0
	}

	coverage := float64(matched) / float64(len(terms))
	frequency := float64(total) / float64(total+1)
	return coverage * frequency
}
