package permission

import (
	"encoding/json"
	"testing"
)

type readArgs struct {
	Path string `json:"path"`
}

func pathExtractor(input json.RawMessage) []string {
	var a readArgs
	if err := json.Unmarshal(input, &a); err != nil || a.Path == "" {
		return nil
	}
	return []string{a.Path}
}

func args(t *testing.T, path string) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(readArgs{Path: path})
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return data
}

func TestEvaluate_NotAllowedNoSettings(t *testing.T) {
	policy := Policy{AllowedTools: map[string]bool{}}
	if got := Evaluate("fs_read", args(t, "/tmp/x"), policy); got != Deny {
		t.Errorf("expected Deny, got %v", got)
	}
}

func TestEvaluate_NoExtractorAllowed(t *testing.T) {
	policy := Policy{AllowedTools: map[string]bool{"ls": true}}
	if got := Evaluate("ls", json.RawMessage(`{}`), policy); got != Allow {
		t.Errorf("expected Allow, got %v", got)
	}
}

func TestEvaluate_NoExtractorNotAllowedButHasSettings(t *testing.T) {
	policy := Policy{
		AllowedTools: map[string]bool{},
		ToolSettings: map[string]PathPolicy{"ls": {}},
	}
	if got := Evaluate("ls", json.RawMessage(`{}`), policy); got != Ask {
		t.Errorf("expected Ask, got %v", got)
	}
}

func TestEvaluate_PathDenied(t *testing.T) {
	Register("fs_read_test_denied", pathExtractor)
	policy := Policy{
		AllowedTools: map[string]bool{"fs_read_test_denied": true},
		ToolSettings: map[string]PathPolicy{
			"fs_read_test_denied": {DeniedPaths: []string{"/etc/**"}},
		},
	}
	if got := Evaluate("fs_read_test_denied", args(t, "/etc/passwd"), policy); got != Deny {
		t.Errorf("expected Deny, got %v", got)
	}
}

func TestEvaluate_PathAllowed(t *testing.T) {
	Register("fs_read_test_allowed", pathExtractor)
	policy := Policy{
		AllowedTools: map[string]bool{"fs_read_test_allowed": true},
		ToolSettings: map[string]PathPolicy{
			"fs_read_test_allowed": {AllowedPaths: []string{"/home/user/**"}},
		},
	}
	if got := Evaluate("fs_read_test_allowed", args(t, "/home/user/project/main.go"), policy); got != Allow {
		t.Errorf("expected Allow, got %v", got)
	}
}

func TestEvaluate_PathNotInAllowSetAsks(t *testing.T) {
	Register("fs_read_test_partial", pathExtractor)
	policy := Policy{
		AllowedTools: map[string]bool{"fs_read_test_partial": true},
		ToolSettings: map[string]PathPolicy{
			"fs_read_test_partial": {AllowedPaths: []string{"/home/user/**"}},
		},
	}
	if got := Evaluate("fs_read_test_partial", args(t, "/var/log/syslog"), policy); got != Ask {
		t.Errorf("expected Ask, got %v", got)
	}
}

func TestEvaluate_DenyWinsOverAllow(t *testing.T) {
	Register("fs_read_test_conflict", pathExtractor)
	policy := Policy{
		AllowedTools: map[string]bool{"fs_read_test_conflict": true},
		ToolSettings: map[string]PathPolicy{
			"fs_read_test_conflict": {
				AllowedPaths: []string{"/home/user/**"},
				DeniedPaths:  []string{"/home/user/.ssh/**"},
			},
		},
	}
	if got := Evaluate("fs_read_test_conflict", args(t, "/home/user/.ssh/id_rsa"), policy); got != Deny {
		t.Errorf("expected Deny, got %v", got)
	}
}

func TestEvaluate_NoAllowSetAsks(t *testing.T) {
	Register("fs_read_test_noallow", pathExtractor)
	policy := Policy{
		AllowedTools: map[string]bool{"fs_read_test_noallow": true},
		ToolSettings: map[string]PathPolicy{"fs_read_test_noallow": {}},
	}
	if got := Evaluate("fs_read_test_noallow", args(t, "/anything"), policy); got != Ask {
		t.Errorf("expected Ask, got %v", got)
	}
}

func TestEvaluate_MalformedGlobAsks(t *testing.T) {
	Register("fs_read_test_badglob", pathExtractor)
	policy := Policy{
		AllowedTools: map[string]bool{"fs_read_test_badglob": true},
		ToolSettings: map[string]PathPolicy{
			"fs_read_test_badglob": {AllowedPaths: []string{"[unterminated"}},
		},
	}
	if got := Evaluate("fs_read_test_badglob", args(t, "/anything"), policy); got != Ask {
		t.Errorf("expected Ask on malformed glob, got %v", got)
	}
}

func TestEvaluate_NoPathsExtractedFallsBackToAllowedTools(t *testing.T) {
	Register("fs_read_test_nopath", pathExtractor)
	policy := Policy{AllowedTools: map[string]bool{"fs_read_test_nopath": true}}
	if got := Evaluate("fs_read_test_nopath", json.RawMessage(`{}`), policy); got != Allow {
		t.Errorf("expected Allow, got %v", got)
	}
}

func TestDecision_String(t *testing.T) {
	cases := map[Decision]string{Deny: "deny", Ask: "ask", Allow: "allow", Decision(99): "unknown"}
	for d, want := range cases {
		if got := d.String(); got != want {
			t.Errorf("Decision(%d).String() = %q, want %q", d, got, want)
		}
	}
}
