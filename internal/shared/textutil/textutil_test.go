package textutil

import (
	"math"
	"strings"
	"testing"
)

func TestOrderedTokens(t *testing.T) {
	got := OrderedTokens("Checkout-API latency: p95 > 2s on checkout, a b")
	want := []string{"checkout", "api", "latency", "p95", "2s", "on"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("OrderedTokens = %v, want %v", got, want)
	}
}

func TestLexicalOverlap(t *testing.T) {
	q := Tokens("checkout latency")
	if got := LexicalOverlap(q, "unrelated text"); got != 0 {
		t.Fatalf("expected 0 for disjoint text, got %v", got)
	}
	got := LexicalOverlap(q, "checkout latency spike")
	want := 2 / math.Sqrt(2*3)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("LexicalOverlap = %v, want %v", got, want)
	}
	if LexicalOverlap(TokenSet{}, "anything") != 0 {
		t.Fatal("expected 0 for empty query")
	}
}

func TestIntersectIsSorted(t *testing.T) {
	got := Tokens("zeta alpha mid").Intersect(Tokens("mid zeta alpha other"))
	if strings.Join(got, ",") != "alpha,mid,zeta" {
		t.Fatalf("Intersect = %v", got)
	}
}

func TestCompact(t *testing.T) {
	if got := Compact("  a\n\n b  ", 10); got != "a b" {
		t.Fatalf("Compact = %q", got)
	}
	long := strings.Repeat("x", 300)
	got := Compact(long, 260)
	if len([]rune(got)) != 260 || !strings.HasSuffix(got, "...") {
		t.Fatalf("Compact length = %d, suffix ok = %v", len([]rune(got)), strings.HasSuffix(got, "..."))
	}
}

func TestTitleWords(t *testing.T) {
	if got := TitleWords("incident response_policy"); got != "Incident Response_policy" {
		t.Fatalf("TitleWords = %q", got)
	}
}

func TestRound(t *testing.T) {
	if got := Round(0.123456, 4); got != 0.1235 {
		t.Fatalf("Round = %v", got)
	}
}
