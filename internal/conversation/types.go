// Package conversation holds the ordered message history for one session:
// the tool-result pairing invariant, the pending-next-user-message slot,
// summary-based compaction, and char/token accounting. It is a closed
// tagged union of message kinds rather than an open interface — there is a
// fixed, known set of message shapes and no need for dynamic dispatch.
package conversation

import (
	"encoding/json"

	"github.com/fluxterm/agentcore/internal/context"
)

// Kind discriminates the four message shapes the conversation ever holds.
type Kind int

const (
	KindUserPrompt Kind = iota
	KindAssistant
	KindToolResult
	KindSystemSummary
)

// ToolUseBlock is one tool invocation requested by the model, owned by the
// assistant message it appears in.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResultStatus is the outcome recorded for a ToolResult message.
type ToolResultStatus int

const (
	StatusSuccess ToolResultStatus = iota
	StatusError
	StatusCancelled
)

// Message is one entry of the conversation history. Only the fields for
// its Kind are meaningful; immutable once appended.
type Message struct {
	Kind Kind

	// KindUserPrompt
	Text    string
	Context ctxmgr.Bundle

	// KindAssistant
	AssistantText string
	ToolUses      []ToolUseBlock

	// KindToolResult
	ToolUseID string
	Status    ToolResultStatus
	Payload   string

	// KindSystemSummary
	Summary string
}

// UserPrompt builds a KindUserPrompt message carrying the turn's context
// bundle.
func UserPrompt(text string, bundle ctxmgr.Bundle) Message {
	return Message{Kind: KindUserPrompt, Text: text, Context: bundle}
}

// Assistant builds a KindAssistant message.
func Assistant(text string, toolUses []ToolUseBlock) Message {
	return Message{Kind: KindAssistant, AssistantText: text, ToolUses: toolUses}
}

// ToolResultOK builds a successful KindToolResult message.
func ToolResultOK(toolUseID, payload string) Message {
	return Message{Kind: KindToolResult, ToolUseID: toolUseID, Status: StatusSuccess, Payload: payload}
}

// ToolResultErr builds a failed KindToolResult message.
func ToolResultErr(toolUseID, payload string) Message {
	return Message{Kind: KindToolResult, ToolUseID: toolUseID, Status: StatusError, Payload: payload}
}

// ToolResultCancelled builds a cancelled KindToolResult message, used when
// a turn is cancelled with tool uses still unresolved.
func ToolResultCancelled(toolUseID, reason string) Message {
	return Message{Kind: KindToolResult, ToolUseID: toolUseID, Status: StatusCancelled, Payload: reason}
}

// SystemSummary builds a KindSystemSummary message, the compaction result
// that replaces a range of prior history.
func SystemSummary(text string) Message {
	return Message{Kind: KindSystemSummary, Summary: text}
}

// Sizes is the char-count breakdown returned by State.CalculateSizes.
type Sizes struct {
	Context   int
	User      int
	Assistant int
	Tools     int
}

// charsPerToken is the 3-char-per-token estimate spec.md's TokenUsage uses.
const charsPerToken = 3

// EstimateTokens converts a char count to a token count, rounding up.
func EstimateTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + charsPerToken - 1) / charsPerToken
}
