package edit

import (
	"strings"
	"testing"
)

func TestFindMatch_Exact(t *testing.T) {
	content := "func foo() {\n\treturn 1\n}\n"
	result, err := FindMatch(content, "return 1")
	if err != nil {
		t.Fatalf("FindMatch returned error: %v", err)
	}
	if result.Level != MatchExact {
		t.Errorf("expected MatchExact, got %v", result.Level)
	}
	if result.Original != "return 1" {
		t.Errorf("expected original %q, got %q", "return 1", result.Original)
	}
}

func TestFindMatch_Ambiguous(t *testing.T) {
	content := "dup\ndup\n"
	if _, err := FindMatch(content, "dup"); err == nil {
		t.Error("expected ambiguous match error")
	}
}

func TestFindMatch_TrimmedLines(t *testing.T) {
	content := "call(a,   \nb)\nother := 2\n"
	result, err := FindMatch(content, "call(a,\nb)")
	if err != nil {
		t.Fatalf("FindMatch returned error: %v", err)
	}
	if result.Level != MatchTrimmedLines {
		t.Errorf("expected MatchTrimmedLines, got %v", result.Level)
	}
}

func TestFindMatch_NormalizedIndent(t *testing.T) {
	content := "func foo() {\n\treturn 1\n}\n"
	result, err := FindMatch(content, "  return 1")
	if err != nil {
		t.Fatalf("FindMatch returned error: %v", err)
	}
	if result.Level != MatchNormalizedIndent {
		t.Errorf("expected MatchNormalizedIndent, got %v", result.Level)
	}
}

func TestFindMatch_Wildcard(t *testing.T) {
	content := "start\nmiddle1\nmiddle2\nend\n"
	result, err := FindMatch(content, "start\n...\nend")
	if err != nil {
		t.Fatalf("FindMatch returned error: %v", err)
	}
	if result.Level != MatchWildcard {
		t.Errorf("expected MatchWildcard, got %v", result.Level)
	}
	if !strings.HasPrefix(result.Original, "start") || !strings.HasSuffix(result.Original, "end") {
		t.Errorf("expected match spanning start..end, got %q", result.Original)
	}
}

func TestFindMatch_Fuzzy(t *testing.T) {
	content := "func computeTotal(items []Item) int {\n\treturn sum\n}\n"
	// Slightly different from the actual line, close enough to fuzzy-match.
	result, err := FindMatch(content, "func computeTotal(item []Item) int {")
	if err != nil {
		t.Fatalf("FindMatch returned error: %v", err)
	}
	if result.Level != MatchFuzzy {
		t.Errorf("expected MatchFuzzy, got %v", result.Level)
	}
}

func TestFindMatch_NotFound(t *testing.T) {
	content := "completely unrelated content\n"
	if _, err := FindMatch(content, "totally different text that shares nothing"); err == nil {
		t.Error("expected no-match error")
	}
}

func TestFindMatch_EmptySearch(t *testing.T) {
	if _, err := FindMatch("content", ""); err == nil {
		t.Error("expected error for empty search")
	}
}

func TestApplyMatch(t *testing.T) {
	content := "before\nmiddle\nafter\n"
	result, err := FindMatch(content, "middle")
	if err != nil {
		t.Fatalf("FindMatch returned error: %v", err)
	}
	updated := ApplyMatch(content, result, "replaced")
	if updated != "before\nreplaced\nafter\n" {
		t.Errorf("unexpected result: %q", updated)
	}
}

func TestMatchLevel_String(t *testing.T) {
	cases := map[MatchLevel]string{
		MatchExact:            "exact",
		MatchTrimmedLines:     "trimmed",
		MatchNormalizedIndent: "reindented",
		MatchWildcard:         "wildcard",
		MatchFuzzy:            "fuzzy",
		MatchLevel(99):        "unknown",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("MatchLevel(%d).String() = %q, want %q", level, got, want)
		}
	}
}

func TestLineSimilarity(t *testing.T) {
	if got := lineSimilarity("abc", "abc"); got != 1.0 {
		t.Errorf("expected 1.0 for identical strings, got %v", got)
	}
	if got := lineSimilarity("abc", ""); got != 0.0 {
		t.Errorf("expected 0.0 when one side is empty, got %v", got)
	}
	if got := lineSimilarity("kitten", "sitting"); got <= 0 || got >= 1 {
		t.Errorf("expected a similarity strictly between 0 and 1, got %v", got)
	}
}
