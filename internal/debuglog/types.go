// Package debuglog writes JSONL traces of LLM requests and stream events for
// post-hoc debugging, following the teacher's internal/llm/debug_logger.go.
// The teacher additionally ships a terminal viewer (internal/debuglog's
// formatter/parser plus internal/ui) for its interactive chat TUI; this
// bridge has no TUI of its own (ACP clients render session/update
// notifications), so only the writer side is carried forward.
package debuglog

import (
	"encoding/json"
	"time"
)

// RequestEntry records one outbound LLM request.
type RequestEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	SessionID string      `json:"session_id"`
	Type      string      `json:"type"` // "request"
	Provider  string      `json:"provider"`
	Model     string      `json:"model"`
	Request   RequestData `json:"request"`
}

// RequestData is a flattened, loggable view of an llm.Request.
type RequestData struct {
	Messages          []Message   `json:"messages"`
	Tools             []Tool      `json:"tools,omitempty"`
	ToolChoice        *ToolChoice `json:"tool_choice,omitempty"`
	Search            bool        `json:"search,omitempty"`
	ParallelToolCalls bool        `json:"parallel_tool_calls,omitempty"`
	MaxOutputTokens   int         `json:"max_output_tokens,omitempty"`
	Temperature       float32     `json:"temperature,omitempty"`
	TopP              float32     `json:"top_p,omitempty"`
	ReasoningEffort   string      `json:"reasoning_effort,omitempty"`
}

// ToolChoice mirrors llm.ToolChoice for logging.
type ToolChoice struct {
	Mode string `json:"mode"`
	Name string `json:"name,omitempty"`
}

// Message is a simplified message for logging.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []Part
}

// Part represents a message content part.
type Part struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ToolCall is a simplified tool call for logging.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult is a simplified tool result for logging.
type ToolResult struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Tool is a simplified tool spec for logging.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// EventEntry records one received stream event.
type EventEntry struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"` // "event"
	EventType string    `json:"event_type"`
	Text      string    `json:"text,omitempty"`
	ToolName  string    `json:"tool_name,omitempty"`
	Error     string    `json:"error,omitempty"`
}
