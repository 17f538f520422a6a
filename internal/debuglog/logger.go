package debuglog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fluxterm/agentcore/internal/llm"
)

// Logger writes JSONL requests/events to one file per ACP session. Grounded
// on the teacher's llm.DebugLogger: create-or-append a 0600 file named after
// the session id, flush requests immediately, buffer events.
type Logger struct {
	mu        sync.Mutex
	sessionID string
	file      *os.File
	writer    *bufio.Writer
}

// NewLogger opens (creating if needed) baseDir/sessionID.jsonl for appending.
// Log files older than 7 days under baseDir are pruned first.
func NewLogger(baseDir, sessionID string) (*Logger, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, err
	}
	_ = CleanupOldLogs(baseDir, 7*24*time.Hour)

	path := filepath.Join(baseDir, sessionID+".jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &Logger{sessionID: sessionID, file: file, writer: bufio.NewWriter(file)}, nil
}

// LogRequest records one outbound request. Safe to call on a nil *Logger.
func (l *Logger) LogRequest(provider, model string, req llm.Request) {
	if l == nil {
		return
	}
	entry := RequestEntry{
		Timestamp: time.Now().UTC(),
		SessionID: l.sessionID,
		Type:      "request",
		Provider:  provider,
		Model:     model,
		Request: RequestData{
			Messages:          convertMessages(req.Messages),
			Tools:             convertTools(req.Tools),
			ToolChoice:        convertToolChoice(req.ToolChoice),
			Search:            req.Search,
			ParallelToolCalls: req.ParallelToolCalls,
			MaxOutputTokens:   req.MaxOutputTokens,
			Temperature:       req.Temperature,
			TopP:              req.TopP,
			ReasoningEffort:   req.ReasoningEffort,
		},
	}
	l.write(entry)
	l.Flush()
}

// LogEvent records one received stream event.
func (l *Logger) LogEvent(event llm.Event) {
	if l == nil {
		return
	}
	entry := EventEntry{
		Timestamp: time.Now().UTC(),
		SessionID: l.sessionID,
		Type:      "event",
		EventType: string(event.Type),
		Text:      event.Text,
	}
	if event.Tool != nil {
		entry.ToolName = event.Tool.Name
	}
	if event.Err != nil {
		entry.Error = event.Err.Error()
	}
	l.write(entry)
}

func (l *Logger) write(v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = l.writer.Write(data)
	_, _ = l.writer.WriteString("\n")
}

// Flush forces buffered entries to disk.
func (l *Logger) Flush() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.writer.Flush()
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.Flush()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// CleanupOldLogs removes *.jsonl files under dir whose mtime is older than
// maxAge.
func CleanupOldLogs(dir string, maxAge time.Duration) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
	return nil
}

func convertToolChoice(tc llm.ToolChoice) *ToolChoice {
	if tc.Mode == "" {
		return nil
	}
	return &ToolChoice{Mode: string(tc.Mode), Name: tc.Name}
}

func convertTools(specs []llm.ToolSpec) []Tool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]Tool, len(specs))
	for i, s := range specs {
		out[i] = Tool{Name: s.Name, Description: s.Description}
	}
	return out
}

func convertMessages(msgs []llm.Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		if len(m.Parts) == 1 && m.Parts[0].Type == llm.PartText {
			out[i] = Message{Role: string(m.Role), Content: m.Parts[0].Text}
			continue
		}
		parts := make([]Part, len(m.Parts))
		for j, p := range m.Parts {
			part := Part{Type: string(p.Type), Text: p.Text}
			if p.ToolCall != nil {
				part.ToolCall = &ToolCall{ID: p.ToolCall.ID, Name: p.ToolCall.Name, Arguments: p.ToolCall.Arguments}
			}
			if p.ToolResult != nil {
				part.ToolResult = &ToolResult{ID: p.ToolResult.ID, Content: p.ToolResult.Content, IsError: p.ToolResult.IsError}
			}
			parts[j] = part
		}
		out[i] = Message{Role: string(m.Role), Content: parts}
	}
	return out
}
