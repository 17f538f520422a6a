// Package ctxmgr expands a session's configured glob rules into the file
// contents injected alongside a user's prompt, capping total size and
// dropping overflow in a stable, reproducible order.
package ctxmgr

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// FileEntry is one file pulled in by a glob rule.
type FileEntry struct {
	Path    string
	Content string
}

// Bundle is the per-turn context payload: files within the size cap, and
// files that matched but were dropped for exceeding it. Dropped is surfaced
// to the caller for display; only Kept is ever sent to the model.
type Bundle struct {
	Kept    []FileEntry
	Dropped []FileEntry
}

// TotalChars returns the combined content length of the kept files.
func (b Bundle) TotalChars() int {
	total := 0
	for _, f := range b.Kept {
		total += len(f.Content)
	}
	return total
}

// charsPerToken mirrors the 3:1 char-to-token estimate used throughout the
// conversation/compaction accounting.
const charsPerToken = 3

// Manager expands a workspace's context globs into a Bundle, one per turn.
type Manager struct {
	root string
	log  *slog.Logger
}

// NewManager builds a Manager rooted at workspace.
func NewManager(workspace string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{root: workspace, log: logger}
}

// Expand resolves patterns (in declaration order) against the workspace
// root, deduplicating matches in first-match order, reads each file's
// contents, and drops the tail of the list once the running total exceeds
// maxTokens*3 chars. I/O failures are logged and the file silently skipped,
// per the context manager's non-fatal failure policy.
func (m *Manager) Expand(ctx context.Context, patterns []string, maxTokens int) Bundle {
	cap := maxTokens * charsPerToken

	seen := make(map[string]bool)
	var ordered []string
	for _, pattern := range patterns {
		if ctx.Err() != nil {
			break
		}
		matches, err := doublestar.Glob(os.DirFS(m.root), pattern)
		if err != nil {
			m.log.Warn("ctxmgr: invalid glob pattern", "pattern", pattern, "error", err)
			continue
		}
		for _, rel := range matches {
			if seen[rel] {
				continue
			}
			seen[rel] = true
			ordered = append(ordered, rel)
		}
	}

	entries := make([]FileEntry, 0, len(ordered))
	for _, rel := range ordered {
		abs := filepath.Join(m.root, rel)
		info, err := os.Stat(abs)
		if err != nil {
			m.log.Warn("ctxmgr: stat failed, skipping", "path", abs, "error", err)
			continue
		}
		if info.IsDir() {
			continue
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			m.log.Warn("ctxmgr: read failed, skipping", "path", abs, "error", err)
			continue
		}
		entries = append(entries, FileEntry{Path: rel, Content: string(data)})
	}

	return splitByCap(entries, cap)
}

// splitByCap drops entries off the tail of the match-ordered list, in that
// order, until the remaining prefix's total content fits within cap.
func splitByCap(entries []FileEntry, cap int) Bundle {
	total := 0
	for _, e := range entries {
		total += len(e.Content)
	}

	kept := entries
	var dropped []FileEntry
	for total > cap && len(kept) > 0 {
		last := kept[len(kept)-1]
		dropped = append(dropped, last)
		kept = kept[:len(kept)-1]
		total -= len(last.Content)
	}

	// dropped was built back-to-front; restore original match order.
	for i, j := 0, len(dropped)-1; i < j; i, j = i+1, j-1 {
		dropped[i], dropped[j] = dropped[j], dropped[i]
	}

	return Bundle{Kept: kept, Dropped: dropped}
}
