package acp

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fluxterm/agentcore/internal/conversation"
)

func TestDiffPreview_Create(t *testing.T) {
	args, _ := json.Marshal(writeArgs{Command: "create", FilePath: "new.txt", Content: "line one\nline two\n"})
	use := conversation.ToolUseBlock{Name: "fs_write", Input: args}

	diff := diffPreview(use)
	if !strings.Contains(diff, "+line one") {
		t.Fatalf("expected unified diff with additions, got: %q", diff)
	}
}

func TestDiffPreview_StrReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "existing.txt")
	if err := os.WriteFile(path, []byte("hello world\n"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	args, _ := json.Marshal(writeArgs{Command: "str_replace", FilePath: path, OldText: "world", NewText: "there"})
	use := conversation.ToolUseBlock{Name: "fs_write", Input: args}

	diff := diffPreview(use)
	if !strings.Contains(diff, "-hello world") || !strings.Contains(diff, "+hello there") {
		t.Fatalf("expected unified diff showing the replacement, got: %q", diff)
	}
}

func TestDiffPreview_NonWriteToolReturnsEmpty(t *testing.T) {
	use := conversation.ToolUseBlock{Name: "execute_cmd", Input: []byte(`{"command":"ls"}`)}
	if diff := diffPreview(use); diff != "" {
		t.Fatalf("expected empty diff for non-write tool, got: %q", diff)
	}
}

func TestDiffPreview_NoChangeReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "same.txt")
	if err := os.WriteFile(path, []byte("unchanged\n"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	args, _ := json.Marshal(writeArgs{Command: "str_replace", FilePath: path, OldText: "missing", NewText: "missing"})
	use := conversation.ToolUseBlock{Name: "fs_write", Input: args}

	if diff := diffPreview(use); diff != "" {
		t.Fatalf("expected empty diff when content is unchanged, got: %q", diff)
	}
}
