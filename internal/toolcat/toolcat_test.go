package toolcat

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/fluxterm/agentcore/internal/permission"
	"github.com/fluxterm/agentcore/internal/tools"
)

func allowAllPolicy() permission.Policy {
	allowed := make(map[string]bool)
	for _, n := range tools.AllToolNames() {
		allowed[n] = true
	}
	return permission.Policy{AllowedTools: allowed}
}

func newNativeCatalog(t *testing.T, policy permission.Policy) *Catalog {
	t.Helper()
	registry, err := tools.NewLocalToolRegistry(tools.DefaultToolConfig())
	if err != nil {
		t.Fatalf("NewLocalToolRegistry: %v", err)
	}
	cat := NewCatalog(registry, nil, policy)
	cat.Rebuild()
	return cat
}

func TestCatalog_NativeToolsRegistered(t *testing.T) {
	cat := newNativeCatalog(t, allowAllPolicy())
	for _, name := range tools.AllToolNames() {
		entry, ok := cat.Get(name)
		if !ok {
			t.Fatalf("expected %s in catalog", name)
		}
		if entry.Origin != OriginNative {
			t.Errorf("expected %s to be native, got %v", name, entry.Origin)
		}
	}
}

func TestCatalog_UnknownTool(t *testing.T) {
	cat := newNativeCatalog(t, allowAllPolicy())
	out, err := cat.Dispatch(context.Background(), "not_a_tool", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.IsError {
		t.Error("expected error output for unknown tool")
	}
}

func TestCatalog_DenyDecision(t *testing.T) {
	cat := newNativeCatalog(t, permission.Policy{AllowedTools: map[string]bool{}})
	out, err := cat.Dispatch(context.Background(), tools.ListToolName, json.RawMessage(`{"pattern":"*"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.IsError {
		t.Error("expected Deny to produce an error ToolOutput")
	}
}

func TestCatalog_AllowDecision(t *testing.T) {
	cat := newNativeCatalog(t, allowAllPolicy())
	dir := t.TempDir()
	out, err := cat.Dispatch(context.Background(), tools.ListToolName, mustMarshal(t, tools.ListArgs{Path: dir}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.IsError {
		t.Fatalf("unexpected error output: %s", out.Content)
	}
}

func TestCatalog_AskRequiredThenRecorded(t *testing.T) {
	policy := permission.Policy{
		AllowedTools: map[string]bool{tools.ReadFileToolName: true},
		ToolSettings: map[string]permission.PathPolicy{tools.ReadFileToolName: {}},
	}
	cat := newNativeCatalog(t, policy)

	args := mustMarshal(t, tools.ReadFileArgs{FilePath: "/tmp/whatever.txt"})

	_, err := cat.Dispatch(context.Background(), tools.ReadFileToolName, args)
	askErr, ok := err.(*AskRequired)
	if !ok {
		t.Fatalf("expected *AskRequired, got %v (%T)", err, err)
	}
	if askErr.ToolName != tools.ReadFileToolName {
		t.Errorf("expected tool name %s, got %s", tools.ReadFileToolName, askErr.ToolName)
	}

	cat.RecordAskDecision(tools.ReadFileToolName, args, true)

	out, err := cat.Dispatch(context.Background(), tools.ReadFileToolName, args)
	if err != nil {
		if _, stillAsking := err.(*AskRequired); stillAsking {
			t.Fatal("expected recorded approval to bypass the Ask gate")
		}
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.IsError {
		t.Fatal("expected a FILE_NOT_FOUND error output, not success, for a nonexistent path")
	}
}

func TestCatalog_Specs(t *testing.T) {
	cat := newNativeCatalog(t, allowAllPolicy())
	specs := cat.Specs()
	if len(specs) != len(tools.AllToolNames()) {
		t.Errorf("expected %d specs, got %d", len(tools.AllToolNames()), len(specs))
	}
}

func TestCatalog_Aliases(t *testing.T) {
	cat := newNativeCatalog(t, allowAllPolicy())
	cat.SetAliases(map[string]string{"read": tools.ReadFileToolName})
	entry, ok := cat.Get("read")
	if !ok {
		t.Fatal("expected alias to resolve")
	}
	if entry.Name != tools.ReadFileToolName {
		t.Errorf("expected resolved name %s, got %s", tools.ReadFileToolName, entry.Name)
	}
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
