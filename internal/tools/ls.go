package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fluxterm/agentcore/internal/llm"
)

// ListTool implements the ls tool: a directory listing that never follows
// symlinks and sorts entries case-insensitively by path.
type ListTool struct {
	limits OutputLimits
}

// NewListTool creates a new ListTool.
func NewListTool(limits OutputLimits) *ListTool {
	return &ListTool{limits: limits}
}

// ListArgs are the arguments for ls.
type ListArgs struct {
	Path      string `json:"path,omitempty"`
	Recursive bool   `json:"recursive,omitempty"`
	MaxDepth  int    `json:"max_depth,omitempty"`
}

// FileEntry represents one directory entry in ls results.
type FileEntry struct {
	FilePath  string    `json:"file_path"`
	IsDir     bool      `json:"is_dir"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

func (t *ListTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ListToolName,
		Description: "List a directory's contents. Set recursive to descend into subdirectories, optionally bounded by max_depth. Never follows symlinks.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Directory to list (defaults to current directory)",
				},
				"recursive": map[string]interface{}{
					"type":        "boolean",
					"description": "Descend into subdirectories (default: false, top level only)",
				},
				"max_depth": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum depth to descend when recursive is set (default: unlimited)",
				},
			},
			"additionalProperties": false,
		},
	}
}

func (t *ListTool) Preview(args json.RawMessage) string {
	var a ListArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return ""
	}
	if a.Path != "" {
		return a.Path
	}
	return "."
}

func (t *ListTool) Execute(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	warning := WarnUnknownParams(args, []string{"path", "recursive", "max_depth"})
	textOutput := func(message string) llm.ToolOutput {
		return llm.TextOutput(warning + message)
	}

	var a ListArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return textOutput(formatToolError(NewToolError(ErrInvalidParams, err.Error()))), nil
	}

	basePath := a.Path
	if basePath == "" {
		var err error
		basePath, err = os.Getwd()
		if err != nil {
			return textOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "cannot get working directory: %v", err))), nil
		}
	}

	absBasePath, err := sanitizePath(basePath)
	if err != nil {
		return textOutput(formatToolError(NewToolError(ErrInvalidParams, err.Error()))), nil
	}

	info, err := os.Lstat(absBasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return textOutput(formatToolError(NewToolError(ErrFileNotFound, absBasePath))), nil
		}
		return textOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "stat error: %v", err))), nil
	}
	if !info.IsDir() {
		return textOutput(formatToolError(NewToolErrorf(ErrInvalidParams, "%s is not a directory", absBasePath))), nil
	}

	var entries []FileEntry
	maxResults := t.limits.MaxResults
	if maxResults <= 0 {
		maxResults = 200
	}
	truncated := false

	err = filepath.WalkDir(absBasePath, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
		if path == absBasePath {
			return nil
		}

		rel, relErr := filepath.Rel(absBasePath, path)
		if relErr != nil {
			return nil
		}
		depth := strings.Count(rel, string(filepath.Separator)) + 1

		// WalkDir's DirEntry is Lstat-based: a symlink, even one pointing at a
		// directory, reports d.IsDir() == false and is never descended into.
		// That's exactly "no symlink following" — listed as a plain entry,
		// not traversed.
		var skipDescend bool
		if d.IsDir() {
			switch {
			case !a.Recursive:
				skipDescend = true
			case a.MaxDepth > 0 && depth >= a.MaxDepth:
				skipDescend = true
			}
		}

		include := a.Recursive || depth == 1
		if !include {
			if skipDescend {
				return filepath.SkipDir
			}
			return nil
		}

		entryInfo, infoErr := d.Info()
		if infoErr != nil {
			if skipDescend {
				return filepath.SkipDir
			}
			return nil
		}

		entries = append(entries, FileEntry{
			FilePath:  path,
			IsDir:     d.IsDir(),
			SizeBytes: entryInfo.Size(),
			ModTime:   entryInfo.ModTime(),
		})

		if len(entries) >= maxResults {
			truncated = true
			return filepath.SkipAll
		}
		if skipDescend {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return textOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "walk error: %v", err))), nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].FilePath) < strings.ToLower(entries[j].FilePath)
	})

	if len(entries) == 0 {
		return textOutput("Directory is empty."), nil
	}

	return textOutput(formatListResults(entries, truncated, maxResults)), nil
}

func formatListResults(entries []FileEntry, truncated bool, maxResults int) string {
	var sb strings.Builder
	for _, e := range entries {
		typeIndicator := "f"
		if e.IsDir {
			typeIndicator = "d"
		}
		size := formatSize(e.SizeBytes)
		timeStr := e.ModTime.Format("2006-01-02 15:04")
		fmt.Fprintf(&sb, "[%s] %s  %s  %s\n", typeIndicator, size, timeStr, e.FilePath)
	}
	if truncated {
		fmt.Fprintf(&sb, "\n[Results truncated at %d entries]", maxResults)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%4dB", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%4.0f%c", float64(bytes)/float64(div), "KMGTPE"[exp])
}
