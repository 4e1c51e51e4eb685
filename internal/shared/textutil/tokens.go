package textutil

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// OrderedTokens returns the unique lowercase alphanumeric tokens of text
// longer than one rune, in first-seen order.
func OrderedTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if len([]rune(field)) <= 1 {
			continue
		}
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		out = append(out, field)
	}
	return out
}

// TokenSet is a set of tokens.
type TokenSet map[string]struct{}

// Tokens returns the token set of text.
func Tokens(text string) TokenSet {
	ordered := OrderedTokens(text)
	set := make(TokenSet, len(ordered))
	for _, tok := range ordered {
		set[tok] = struct{}{}
	}
	return set
}

// Intersect returns the sorted tokens present in both sets.
func (s TokenSet) Intersect(other TokenSet) []string {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	var out []string
	for tok := range small {
		if _, ok := large[tok]; ok {
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	return out
}

// OverlapCount returns |s ∩ other|.
func (s TokenSet) OverlapCount(other TokenSet) int {
	return len(s.Intersect(other))
}

// LexicalOverlap scores |q∩c| / sqrt(|q|·|c|), 0 when either side is empty
// or nothing overlaps.
func LexicalOverlap(query TokenSet, text string) float64 {
	if len(query) == 0 {
		return 0
	}
	candidate := Tokens(text)
	if len(candidate) == 0 {
		return 0
	}
	overlap := query.OverlapCount(candidate)
	if overlap == 0 {
		return 0
	}
	return float64(overlap) / math.Sqrt(float64(len(query)*len(candidate)))
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
