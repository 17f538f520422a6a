package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fluxterm/agentcore/internal/edit"
	"github.com/fluxterm/agentcore/internal/llm"
)

// maxDiffSize is the largest before/after payload fs_write will embed as a
// structured DiffData; beyond this, only the summary line is returned.
const maxDiffSize = 256 * 1024

// WriteFileTool implements the fs_write tool. It has two commands: create,
// which never overwrites an existing file, and str_replace, a deterministic
// find/replace against existing content using progressively fuzzier matching.
type WriteFileTool struct{}

// NewWriteFileTool creates a new WriteFileTool.
func NewWriteFileTool() *WriteFileTool {
	return &WriteFileTool{}
}

// WriteFileArgs are the arguments for fs_write.
type WriteFileArgs struct {
	Command  string `json:"command"` // "create" or "str_replace"
	FilePath string `json:"file_path"`
	Content  string `json:"content,omitempty"`   // for create
	OldText  string `json:"old_text,omitempty"`  // for str_replace
	NewText  string `json:"new_text,omitempty"`  // for str_replace
}

func (t *WriteFileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: WriteFileToolName,
		Description: `Create or edit a file. Two commands:
- create: write a brand new file. Fails if the file already exists — use str_replace to edit it instead.
- str_replace: deterministic find/replace against the file's current content. An old_text containing the literal token "..." is first tried as a wildcard, where "..." matches any run of characters, including newlines; after that, matching is progressively looser (exact, whitespace-trimmed, reindented, fuzzy).`,
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "Either 'create' or 'str_replace'",
					"enum":        []string{"create", "str_replace"},
				},
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Path to the file",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Full file content (create only)",
				},
				"old_text": map[string]interface{}{
					"type":        "string",
					"description": "Exact text to find and replace (str_replace only). May contain '...' to match any sequence.",
				},
				"new_text": map[string]interface{}{
					"type":        "string",
					"description": "Replacement text (str_replace only)",
				},
			},
			"required":             []string{"command", "file_path"},
			"additionalProperties": false,
		},
	}
}

func (t *WriteFileTool) Preview(args json.RawMessage) string {
	var a WriteFileArgs
	if err := json.Unmarshal(args, &a); err != nil || a.FilePath == "" {
		return ""
	}
	return a.FilePath
}

func (t *WriteFileTool) Execute(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error) {
	warning := WarnUnknownParams(args, []string{"command", "file_path", "content", "old_text", "new_text"})
	errOutput := func(msg string) llm.ToolOutput {
		return llm.ErrorOutput(warning + msg)
	}

	var a WriteFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errOutput(formatToolError(NewToolError(ErrInvalidParams, err.Error()))), nil
	}
	if a.FilePath == "" {
		return errOutput(formatToolError(NewToolError(ErrInvalidParams, "file_path is required"))), nil
	}

	switch a.Command {
	case "create":
		out, err := t.create(a)
		out.Content = warning + out.Content
		return out, err
	case "str_replace":
		out, err := t.strReplace(a)
		out.Content = warning + out.Content
		return out, err
	default:
		return errOutput(formatToolError(NewToolErrorf(ErrInvalidParams, "command must be 'create' or 'str_replace', got %q", a.Command))), nil
	}
}

func (t *WriteFileTool) create(a WriteFileArgs) (llm.ToolOutput, error) {
	absPath, err := sanitizePath(a.FilePath)
	if err != nil {
		return llm.ErrorOutput(formatToolError(NewToolError(ErrInvalidParams, err.Error()))), nil
	}

	if _, err := os.Stat(absPath); err == nil {
		return llm.ErrorOutput(formatToolError(NewToolErrorf(ErrAlreadyExists, "%s already exists; use str_replace to edit it", absPath))), nil
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return llm.ErrorOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "failed to create directory: %v", err))), nil
	}

	tempFile := absPath + ".tmp"
	if err := os.WriteFile(tempFile, []byte(a.Content), 0644); err != nil {
		return llm.ErrorOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "failed to write temp file: %v", err))), nil
	}
	if err := os.Rename(tempFile, absPath); err != nil {
		os.Remove(tempFile)
		return llm.ErrorOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "failed to rename temp file: %v", err))), nil
	}

	content := fmt.Sprintf("Created new file: %s\nSize: %d bytes, %d lines", absPath, len(a.Content), countLines(a.Content))
	return llm.ToolOutput{
		Content: content,
		Diffs:   []llm.DiffData{{File: absPath, Old: "", New: a.Content, Line: 1}},
	}, nil
}

// strReplace performs a deterministic string replacement using fuzzy matching.
func (t *WriteFileTool) strReplace(a WriteFileArgs) (llm.ToolOutput, error) {
	if a.OldText == "" {
		return llm.ErrorOutput(formatToolError(NewToolError(ErrInvalidParams, "old_text is required for str_replace"))), nil
	}

	path, err := sanitizePath(a.FilePath)
	if err != nil {
		return llm.ErrorOutput(formatToolError(NewToolError(ErrInvalidParams, err.Error()))), nil
	}

	// Serialize concurrent edits to the same file via a lock file; we can't
	// lock the file itself because rename() swaps the inode out from under
	// any fd another goroutine is holding.
	lockPath := path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return llm.ErrorOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "failed to create lock file: %v", err))), nil
	}
	defer func() {
		lockFile.Close()
		os.Remove(lockPath)
	}()
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return llm.ErrorOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "failed to lock: %v", err))), nil
	}
	defer syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return llm.ErrorOutput(formatToolError(NewToolError(ErrFileNotFound, path))), nil
		}
		return llm.ErrorOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "read error: %v", err))), nil
	}
	content := string(data)

	result, err := edit.FindMatch(content, a.OldText)
	if err != nil {
		return llm.ErrorOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "could not find old_text: %v", err))), nil
	}

	newContent := edit.ApplyMatch(content, result, a.NewText)

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tempFile, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return llm.ErrorOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "failed to create temp file: %v", err))), nil
	}
	tempPath := tempFile.Name()

	if _, err := tempFile.WriteString(newContent); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return llm.ErrorOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "failed to write temp file: %v", err))), nil
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempPath)
		return llm.ErrorOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "failed to close temp file: %v", err))), nil
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return llm.ErrorOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "failed to rename temp file: %v", err))), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Edited %s (match level: %s)\n", path, result.Level.String())
	fmt.Fprintf(&sb, "Replaced %d bytes with %d bytes", len(result.Original), len(a.NewText))

	oldLines := countLines(result.Original)
	newLines := countLines(a.NewText)
	if oldLines != newLines {
		fmt.Fprintf(&sb, "\nLines: %d -> %d", oldLines, newLines)
	}

	out := llm.ToolOutput{Content: sb.String()}
	if len(result.Original) < maxDiffSize && len(a.NewText) < maxDiffSize {
		startLine := strings.Count(content[:result.Start], "\n") + 1
		out.Diffs = []llm.DiffData{{File: path, Old: result.Original, New: a.NewText, Line: startLine}}
	}
	return out, nil
}

// countLines counts the number of lines in a string.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	count := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		count++
	}
	return count
}
