package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fluxterm/agentcore/internal/llm"
)

// WatchTool implements the fs_watch tool: add/remove/list/stop operations
// over a set of persistent watch handles. Each handle outlives the tool
// call that created it; file-change events are coalesced per debounce
// window and pushed onto an internal queue that internal/turn drains
// between tool-loop iterations to inject as synthetic notifications.
type WatchTool struct {
	debounce time.Duration

	mu      sync.Mutex
	handles map[string]*watchHandle
	nextID  int

	events chan FileChangeEvent
}

// NewWatchTool creates a new WatchTool. debounce is the default window used
// to coalesce rapid-fire events on the same path into a single reported
// change; a per-call debounce_ms overrides it.
func NewWatchTool(debounce time.Duration) *WatchTool {
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &WatchTool{
		debounce: debounce,
		handles:  make(map[string]*watchHandle),
		events:   make(chan FileChangeEvent, 256),
	}
}

// Events returns the channel watch handles push coalesced file-change
// notifications onto. internal/turn drains it non-blockingly between tool
// loop iterations; nothing in this package ever reads from it.
func (t *WatchTool) Events() <-chan FileChangeEvent {
	return t.events
}

// FileChangeEvent is a single coalesced filesystem change pushed by an
// active watch handle.
type FileChangeEvent struct {
	WatchID string
	Path    string
	Op      string
	Time    time.Time
}

// watchHandle is one active fs_watch registration. It owns the underlying
// fsnotify.Watcher and a goroutine that drains it until stop is closed.
type watchHandle struct {
	id        string
	path      string
	recursive bool
	watcher   *fsnotify.Watcher
	stop      chan struct{}
	stopped   chan struct{} // closed by the pump goroutine on exit
}

// WatchArgs are the arguments for fs_watch.
type WatchArgs struct {
	Operation  string `json:"operation"` // "add", "remove", "list", or "stop"
	Path       string `json:"path,omitempty"`
	Recursive  bool   `json:"recursive,omitempty"`
	WatchID    string `json:"watch_id,omitempty"`
	DebounceMs int    `json:"debounce_ms,omitempty"`
}

func (t *WatchTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: WatchToolName,
		Description: `Manage persistent filesystem watches. Four operations:
- add: start watching path (optionally recursive). Returns a watch_id; the watch keeps running after this call returns.
- remove: stop one watch by watch_id.
- list: show currently active watches.
- stop: stop every active watch.
Events from active watches are delivered to you as they arrive, between tool calls — you don't need to poll.`,
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"operation": map[string]interface{}{
					"type":        "string",
					"description": "One of: add, remove, list, stop",
					"enum":        []string{"add", "remove", "list", "stop"},
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File or directory to watch (add only)",
				},
				"recursive": map[string]interface{}{
					"type":        "boolean",
					"description": "Watch subdirectories too (add only, default: false)",
				},
				"watch_id": map[string]interface{}{
					"type":        "string",
					"description": "Identifier of the watch to stop (remove only)",
				},
				"debounce_ms": map[string]interface{}{
					"type":        "integer",
					"description": "Override the default debounce window in milliseconds (add only)",
				},
			},
			"required":             []string{"operation"},
			"additionalProperties": false,
		},
	}
}

func (t *WatchTool) Preview(args json.RawMessage) string {
	var a WatchArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Operation == "" {
		return ""
	}
	switch a.Operation {
	case "add":
		return fmt.Sprintf("add %s", a.Path)
	case "remove":
		return fmt.Sprintf("remove %s", a.WatchID)
	default:
		return a.Operation
	}
}

func (t *WatchTool) Execute(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error) {
	warning := WarnUnknownParams(args, []string{"operation", "path", "recursive", "watch_id", "debounce_ms"})
	textOutput := func(message string) llm.ToolOutput {
		return llm.TextOutput(warning + message)
	}

	var a WatchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return textOutput(formatToolError(NewToolError(ErrInvalidParams, err.Error()))), nil
	}

	switch a.Operation {
	case "add":
		return t.add(a, textOutput)
	case "remove":
		return t.remove(a, textOutput)
	case "list":
		return t.list(textOutput)
	case "stop":
		return t.stopAll(textOutput)
	default:
		return textOutput(formatToolError(NewToolErrorf(ErrInvalidParams, "operation must be one of add, remove, list, stop; got %q", a.Operation))), nil
	}
}

func (t *WatchTool) add(a WatchArgs, textOutput func(string) llm.ToolOutput) (llm.ToolOutput, error) {
	if a.Path == "" {
		return textOutput(formatToolError(NewToolError(ErrInvalidParams, "path is required for add"))), nil
	}

	path, err := sanitizePath(a.Path)
	if err != nil {
		return textOutput(formatToolError(NewToolError(ErrInvalidParams, err.Error()))), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return textOutput(formatToolError(NewToolError(ErrFileNotFound, path))), nil
		}
		return textOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "cannot stat path: %v", err))), nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return textOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "failed to create watcher: %v", err))), nil
	}
	if err := addWatchTargets(watcher, path, info, a.Recursive); err != nil {
		watcher.Close()
		return textOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "failed to watch %s: %v", path, err))), nil
	}

	debounce := t.debounce
	if a.DebounceMs > 0 {
		debounce = time.Duration(a.DebounceMs) * time.Millisecond
	}

	t.mu.Lock()
	t.nextID++
	id := fmt.Sprintf("w%d", t.nextID)
	handle := &watchHandle{
		id:        id,
		path:      path,
		recursive: a.Recursive,
		watcher:   watcher,
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	t.handles[id] = handle
	t.mu.Unlock()

	go t.pump(handle, debounce)

	return textOutput(fmt.Sprintf("Watching %s (watch_id: %s, recursive: %t)", path, id, a.Recursive)), nil
}

func (t *WatchTool) remove(a WatchArgs, textOutput func(string) llm.ToolOutput) (llm.ToolOutput, error) {
	if a.WatchID == "" {
		return textOutput(formatToolError(NewToolError(ErrInvalidParams, "watch_id is required for remove"))), nil
	}

	t.mu.Lock()
	handle, ok := t.handles[a.WatchID]
	if ok {
		delete(t.handles, a.WatchID)
	}
	t.mu.Unlock()

	if !ok {
		return textOutput(formatToolError(NewToolErrorf(ErrInvalidParams, "no active watch with id %q", a.WatchID))), nil
	}

	close(handle.stop)
	<-handle.stopped

	return textOutput(fmt.Sprintf("Stopped watching %s (watch_id: %s)", handle.path, handle.id)), nil
}

func (t *WatchTool) list(textOutput func(string) llm.ToolOutput) (llm.ToolOutput, error) {
	t.mu.Lock()
	ids := make([]string, 0, len(t.handles))
	snapshot := make(map[string]*watchHandle, len(t.handles))
	for id, h := range t.handles {
		ids = append(ids, id)
		snapshot[id] = h
	}
	t.mu.Unlock()

	if len(ids) == 0 {
		return textOutput("No active watches."), nil
	}
	sort.Strings(ids)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d active watch(es):\n", len(ids))
	for _, id := range ids {
		h := snapshot[id]
		fmt.Fprintf(&sb, "[%s] %s (recursive: %t)\n", h.id, h.path, h.recursive)
	}
	return textOutput(strings.TrimSuffix(sb.String(), "\n")), nil
}

func (t *WatchTool) stopAll(textOutput func(string) llm.ToolOutput) (llm.ToolOutput, error) {
	t.mu.Lock()
	handles := make([]*watchHandle, 0, len(t.handles))
	for _, h := range t.handles {
		handles = append(handles, h)
	}
	t.handles = make(map[string]*watchHandle)
	t.mu.Unlock()

	for _, h := range handles {
		close(h.stop)
	}
	for _, h := range handles {
		<-h.stopped
	}

	return textOutput(fmt.Sprintf("Stopped %d watch(es).", len(handles))), nil
}

// pump drains one handle's fsnotify events until stop is closed or the
// watcher's event channel closes, coalescing rapid events on the same path
// within debounce into a single FileChangeEvent push per path per window.
func (t *WatchTool) pump(h *watchHandle, debounce time.Duration) {
	defer close(h.stopped)
	defer h.watcher.Close()

	pending := make(map[string]fsnotify.Op)
	order := make([]string, 0)
	timer := time.NewTimer(debounce)
	defer timer.Stop()

	flush := func() bool {
		for _, name := range order {
			select {
			case t.events <- FileChangeEvent{WatchID: h.id, Path: name, Op: pending[name].String(), Time: time.Now()}:
			case <-h.stop:
				return false
			}
		}
		pending = make(map[string]fsnotify.Op)
		order = order[:0]
		return true
	}

	for {
		select {
		case <-h.stop:
			return
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if _, seen := pending[ev.Name]; !seen {
				order = append(order, ev.Name)
			}
			pending[ev.Name] |= ev.Op
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)
		case <-timer.C:
			if len(order) > 0 {
				if !flush() {
					return
				}
			}
			timer.Reset(debounce)
		case <-h.watcher.Errors:
			// Best-effort: dropped errors don't stop the watch.
		}
	}
}

// addWatchTargets registers path (and, if recursive and a directory, its
// subdirectories) with watcher.
func addWatchTargets(watcher *fsnotify.Watcher, path string, info os.FileInfo, recursive bool) error {
	if err := watcher.Add(path); err != nil {
		return err
	}
	if !info.IsDir() || !recursive {
		return nil
	}
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && p != path {
			if err := watcher.Add(p); err != nil {
				return nil // best-effort: skip directories we can't watch
			}
		}
		return nil
	})
}
