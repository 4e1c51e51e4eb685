package tokenutil

import (
	"strings"
	"testing"
)

func TestEstimateFast(t *testing.T) {
	cases := map[string]int{
		"":                 0,
		"   \n\t ":         0,
		"a b c d":          4,
		"incidentresponse": 4,
	}
	for input, want := range cases {
		if got := EstimateFast(input); got != want {
			t.Errorf("EstimateFast(%q) = %d, want %d", input, got, want)
		}
	}
}

func TestTruncateToTokensShortTextIsUntouched(t *testing.T) {
	for _, limit := range []int{0, -1, 100} {
		if got := TruncateToTokens("short text", limit); got != "short text" {
			t.Errorf("TruncateToTokens(limit=%d) = %q", limit, got)
		}
	}
}

func TestTruncateToTokensCutsLongText(t *testing.T) {
	text := strings.Repeat("checkout latency spike ", 200)
	got := TruncateToTokens(text, 8)
	if got == text {
		t.Fatal("expected long text to be truncated")
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
	if CountTokens(strings.TrimSuffix(got, "...")) > 8 && encoding != nil {
		t.Fatalf("truncated text exceeds the token budget: %q", got)
	}
}
