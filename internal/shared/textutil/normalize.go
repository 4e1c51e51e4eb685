package textutil

import "strings"

// NormalizeWhitespace collapses runs of whitespace to single spaces.
func NormalizeWhitespace(value string) string {
	if value == "" {
		return ""
	}
	return strings.Join(strings.Fields(value), " ")
}

// Compact normalizes whitespace and truncates to maxChars runes, replacing
// the tail with "..." when the text is cut.
func Compact(value string, maxChars int) string {
	compacted := NormalizeWhitespace(value)
	runes := []rune(compacted)
	if maxChars <= 0 || len(runes) <= maxChars {
		return compacted
	}
	cut := maxChars - 3
	if cut < 0 {
		cut = 0
	}
	return strings.TrimRight(string(runes[:cut]), " \t\n") + "..."
}

// TitleWords upper-cases the first letter of every space separated word and
// lower-cases the rest.
func TitleWords(value string) string {
	words := strings.Fields(value)
	for i, word := range words {
		runes := []rune(strings.ToLower(word))
		if len(runes) > 0 {
			runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
		}
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
