package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFileTool_Spec(t *testing.T) {
	tool := NewWriteFileTool()
	spec := tool.Spec()
	if spec.Name != WriteFileToolName {
		t.Errorf("expected name %q, got %q", WriteFileToolName, spec.Name)
	}
}

func TestWriteFileTool_Create(t *testing.T) {
	dir := t.TempDir()
	tool := NewWriteFileTool()

	t.Run("creates new file", func(t *testing.T) {
		file := filepath.Join(dir, "new.txt")
		out, err := tool.Execute(context.Background(), mustMarshalWriteArgs(WriteFileArgs{
			Command: "create", FilePath: file, Content: "hello\nworld\n",
		}))
		if err != nil {
			t.Fatalf("Execute returned error: %v", err)
		}
		if out.IsError {
			t.Fatalf("unexpected error output: %s", out.Content)
		}
		data, err := os.ReadFile(file)
		if err != nil {
			t.Fatalf("file was not created: %v", err)
		}
		if string(data) != "hello\nworld\n" {
			t.Errorf("unexpected content: %q", data)
		}
		if len(out.Diffs) != 1 || out.Diffs[0].New != "hello\nworld\n" {
			t.Errorf("expected a diff with New content, got: %v", out.Diffs)
		}
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		file := filepath.Join(dir, "exists.txt")
		if err := os.WriteFile(file, []byte("old"), 0644); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		out, err := tool.Execute(context.Background(), mustMarshalWriteArgs(WriteFileArgs{
			Command: "create", FilePath: file, Content: "new",
		}))
		if err != nil {
			t.Fatalf("Execute returned error: %v", err)
		}
		if !out.IsError || !strings.Contains(out.Content, string(ErrAlreadyExists)) {
			t.Errorf("expected ALREADY_EXISTS error, got: %s", out.Content)
		}
		data, _ := os.ReadFile(file)
		if string(data) != "old" {
			t.Errorf("existing file should be untouched, got: %q", data)
		}
	})

	t.Run("creates parent directories", func(t *testing.T) {
		file := filepath.Join(dir, "nested", "deeper", "file.txt")
		out, err := tool.Execute(context.Background(), mustMarshalWriteArgs(WriteFileArgs{
			Command: "create", FilePath: file, Content: "x",
		}))
		if err != nil {
			t.Fatalf("Execute returned error: %v", err)
		}
		if out.IsError {
			t.Fatalf("unexpected error: %s", out.Content)
		}
		if _, err := os.Stat(file); err != nil {
			t.Errorf("expected nested file to exist: %v", err)
		}
	})
}

func TestWriteFileTool_StrReplace(t *testing.T) {
	dir := t.TempDir()
	tool := NewWriteFileTool()

	t.Run("exact match replace", func(t *testing.T) {
		file := filepath.Join(dir, "exact.txt")
		os.WriteFile(file, []byte("func foo() {\n\treturn 1\n}\n"), 0644)
		out, err := tool.Execute(context.Background(), mustMarshalWriteArgs(WriteFileArgs{
			Command: "str_replace", FilePath: file, OldText: "return 1", NewText: "return 2",
		}))
		if err != nil {
			t.Fatalf("Execute returned error: %v", err)
		}
		if out.IsError {
			t.Fatalf("unexpected error: %s", out.Content)
		}
		data, _ := os.ReadFile(file)
		if !strings.Contains(string(data), "return 2") {
			t.Errorf("replacement not applied: %s", data)
		}
		if !strings.Contains(out.Content, "match level: exact") {
			t.Errorf("expected exact match level reported, got: %s", out.Content)
		}
	})

	t.Run("whitespace-trimmed match", func(t *testing.T) {
		file := filepath.Join(dir, "trimmed.txt")
		os.WriteFile(file, []byte("value := 1  \nother := 2\n"), 0644)
		out, err := tool.Execute(context.Background(), mustMarshalWriteArgs(WriteFileArgs{
			Command: "str_replace", FilePath: file, OldText: "value := 1\nother := 2", NewText: "value := 9\nother := 2",
		}))
		if err != nil {
			t.Fatalf("Execute returned error: %v", err)
		}
		if out.IsError {
			t.Fatalf("unexpected error: %s", out.Content)
		}
		data, _ := os.ReadFile(file)
		if !strings.Contains(string(data), "value := 9") {
			t.Errorf("replacement not applied: %s", data)
		}
		if !strings.Contains(out.Content, "match level: trimmed") {
			t.Errorf("expected trimmed match level reported, got: %s", out.Content)
		}
	})

	t.Run("wildcard match", func(t *testing.T) {
		file := filepath.Join(dir, "wild.txt")
		os.WriteFile(file, []byte("start\nmiddle1\nmiddle2\nmiddle3\nend\n"), 0644)
		out, err := tool.Execute(context.Background(), mustMarshalWriteArgs(WriteFileArgs{
			Command: "str_replace", FilePath: file, OldText: "start\n...\nend", NewText: "replaced",
		}))
		if err != nil {
			t.Fatalf("Execute returned error: %v", err)
		}
		if out.IsError {
			t.Fatalf("unexpected error: %s", out.Content)
		}
		data, _ := os.ReadFile(file)
		if string(data) != "replaced\n" {
			t.Errorf("unexpected content: %q", data)
		}
	})

	t.Run("ambiguous match errors", func(t *testing.T) {
		file := filepath.Join(dir, "ambiguous.txt")
		os.WriteFile(file, []byte("dup\ndup\n"), 0644)
		out, err := tool.Execute(context.Background(), mustMarshalWriteArgs(WriteFileArgs{
			Command: "str_replace", FilePath: file, OldText: "dup", NewText: "x",
		}))
		if err != nil {
			t.Fatalf("Execute returned error: %v", err)
		}
		if !out.IsError {
			t.Errorf("expected ambiguous-match error, got success: %s", out.Content)
		}
	})

	t.Run("missing old_text", func(t *testing.T) {
		file := filepath.Join(dir, "noop.txt")
		os.WriteFile(file, []byte("content"), 0644)
		out, err := tool.Execute(context.Background(), mustMarshalWriteArgs(WriteFileArgs{
			Command: "str_replace", FilePath: file, OldText: "",
		}))
		if err != nil {
			t.Fatalf("Execute returned error: %v", err)
		}
		if !out.IsError || !strings.Contains(out.Content, "old_text is required") {
			t.Errorf("expected old_text-required error, got: %s", out.Content)
		}
	})

	t.Run("file not found", func(t *testing.T) {
		out, err := tool.Execute(context.Background(), mustMarshalWriteArgs(WriteFileArgs{
			Command: "str_replace", FilePath: filepath.Join(dir, "nope.txt"), OldText: "x", NewText: "y",
		}))
		if err != nil {
			t.Fatalf("Execute returned error: %v", err)
		}
		if !out.IsError || !strings.Contains(out.Content, string(ErrFileNotFound)) {
			t.Errorf("expected file-not-found error, got: %s", out.Content)
		}
	})
}

func TestWriteFileTool_InvalidCommand(t *testing.T) {
	tool := NewWriteFileTool()
	out, err := tool.Execute(context.Background(), mustMarshalWriteArgs(WriteFileArgs{
		Command: "delete", FilePath: "x",
	}))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !out.IsError || !strings.Contains(out.Content, "command must be") {
		t.Errorf("expected invalid-command error, got: %s", out.Content)
	}
}

func mustMarshalWriteArgs(args WriteFileArgs) json.RawMessage {
	data, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return data
}
