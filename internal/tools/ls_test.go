package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestListTool_Spec(t *testing.T) {
	tool := NewListTool(DefaultOutputLimits())
	spec := tool.Spec()
	if spec.Name != ListToolName {
		t.Errorf("expected name %q, got %q", ListToolName, spec.Name)
	}
}

func TestListTool_Preview(t *testing.T) {
	tool := NewListTool(DefaultOutputLimits())

	tests := []struct {
		name     string
		args     json.RawMessage
		expected string
	}{
		{"explicit path", mustMarshalListArgs(ListArgs{Path: "/tmp"}), "/tmp"},
		{"no path", mustMarshalListArgs(ListArgs{}), "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tool.Preview(tt.args); result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestListTool_Execute(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "sub"), 0755)
	os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a"), 0644)
	os.WriteFile(filepath.Join(dir, "sub", "b.go"), []byte("package b"), 0644)
	os.WriteFile(filepath.Join(dir, "c.txt"), []byte("text"), 0644)

	tool := NewListTool(DefaultOutputLimits())

	t.Run("top level only by default", func(t *testing.T) {
		out, err := tool.Execute(context.Background(), mustMarshalListArgs(ListArgs{Path: dir}))
		if err != nil {
			t.Fatalf("Execute returned error: %v", err)
		}
		if !strings.Contains(out.Content, "a.go") || !strings.Contains(out.Content, "c.txt") {
			t.Errorf("expected top-level entries, got: %s", out.Content)
		}
		if strings.Contains(out.Content, "b.go") {
			t.Errorf("should not descend without recursive: %s", out.Content)
		}
	})

	t.Run("recursive descends into subdirectories", func(t *testing.T) {
		out, err := tool.Execute(context.Background(), mustMarshalListArgs(ListArgs{Path: dir, Recursive: true}))
		if err != nil {
			t.Fatalf("Execute returned error: %v", err)
		}
		if !strings.Contains(out.Content, "b.go") {
			t.Errorf("expected nested entry with recursive, got: %s", out.Content)
		}
	})

	t.Run("max_depth bounds recursion", func(t *testing.T) {
		deep := filepath.Join(dir, "sub", "deeper")
		os.MkdirAll(deep, 0755)
		os.WriteFile(filepath.Join(deep, "e.go"), []byte("package e"), 0644)

		out, err := tool.Execute(context.Background(), mustMarshalListArgs(ListArgs{Path: dir, Recursive: true, MaxDepth: 1}))
		if err != nil {
			t.Fatalf("Execute returned error: %v", err)
		}
		if strings.Contains(out.Content, "e.go") {
			t.Errorf("max_depth=1 should not reach the grandchild file, got: %s", out.Content)
		}
		if !strings.Contains(out.Content, "sub") {
			t.Errorf("max_depth=1 should still list the top-level subdirectory, got: %s", out.Content)
		}
	})

	t.Run("entries sorted case-insensitively", func(t *testing.T) {
		dir := t.TempDir()
		os.WriteFile(filepath.Join(dir, "Banana.go"), []byte("x"), 0644)
		os.WriteFile(filepath.Join(dir, "apple.go"), []byte("x"), 0644)
		os.WriteFile(filepath.Join(dir, "cherry.go"), []byte("x"), 0644)

		out, err := tool.Execute(context.Background(), mustMarshalListArgs(ListArgs{Path: dir}))
		if err != nil {
			t.Fatalf("Execute returned error: %v", err)
		}
		appleIdx := strings.Index(out.Content, "apple.go")
		bananaIdx := strings.Index(out.Content, "Banana.go")
		cherryIdx := strings.Index(out.Content, "cherry.go")
		if !(appleIdx < bananaIdx && bananaIdx < cherryIdx) {
			t.Errorf("expected case-insensitive ascending order, got: %s", out.Content)
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		out, err := tool.Execute(context.Background(), mustMarshalListArgs(ListArgs{Path: filepath.Join(dir, "does-not-exist")}))
		if err != nil {
			t.Fatalf("Execute returned error: %v", err)
		}
		if !strings.Contains(out.Content, string(ErrFileNotFound)) {
			t.Errorf("expected file-not-found error, got: %s", out.Content)
		}
	})

	t.Run("path is not a directory", func(t *testing.T) {
		out, err := tool.Execute(context.Background(), mustMarshalListArgs(ListArgs{Path: filepath.Join(dir, "a.go")}))
		if err != nil {
			t.Fatalf("Execute returned error: %v", err)
		}
		if !strings.Contains(out.Content, "is not a directory") {
			t.Errorf("expected not-a-directory error, got: %s", out.Content)
		}
	})
}

func TestListTool_SkipsSymlinks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real")
	os.MkdirAll(target, 0755)
	os.WriteFile(filepath.Join(target, "inside.go"), []byte("x"), 0644)

	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported on this platform: %v", err)
	}

	tool := NewListTool(DefaultOutputLimits())
	out, err := tool.Execute(context.Background(), mustMarshalListArgs(ListArgs{Path: dir, Recursive: true}))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if strings.Contains(out.Content, "inside.go") {
		t.Errorf("should not follow the symlinked directory, got: %s", out.Content)
	}
	if !strings.Contains(out.Content, "link") {
		t.Errorf("should still list the symlink entry itself, got: %s", out.Content)
	}
}

func TestListTool_MaxResults(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		os.WriteFile(filepath.Join(dir, string(rune('a'+i))+".go"), []byte("x"), 0644)
	}
	limits := DefaultOutputLimits()
	limits.MaxResults = 2
	tool := NewListTool(limits)

	out, err := tool.Execute(context.Background(), mustMarshalListArgs(ListArgs{Path: dir}))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !strings.Contains(out.Content, "[Results truncated at 2 entries]") {
		t.Errorf("expected truncation notice, got: %s", out.Content)
	}
}

func mustMarshalListArgs(args ListArgs) json.RawMessage {
	data, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return data
}
