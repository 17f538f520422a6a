package conversation

import (
	"context"
	"fmt"

	"github.com/fluxterm/agentcore/internal/config"
	ctxmgr "github.com/fluxterm/agentcore/internal/context"
	"github.com/fluxterm/agentcore/internal/llm"
	"github.com/fluxterm/agentcore/internal/usage"
)

// CompactionConfig controls when and how the conversation summarizes its
// own history. Grounded on the teacher's internal/llm/engine.go
// CompactionConfig/DefaultCompactionConfig — not present verbatim in the
// retrieved copy of that file, reconstructed from its call sites
// (SetCompaction(inputLimit int, config CompactionConfig), the 90%-of-window
// threshold spec.md §4.6 names explicitly).
type CompactionConfig struct {
	// ThresholdRatio is the fraction of the model's input token limit that
	// triggers automatic compaction once exceeded.
	ThresholdRatio float64
}

// DefaultCompactionConfig returns the 90% threshold spec.md §4.6 specifies
// for implicit compaction.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{ThresholdRatio: 0.9}
}

// RequestPayload is the API-shaped request built by AsSendable: system
// prompt, compacted history, current tool catalog, and user settings. It is
// a thin wrapper over llm.Request — conversation state owns assembling the
// Messages field; the turn engine fills in Tools/Model/ToolChoice from the
// tool catalog and agent snapshot before sending.
type RequestPayload struct {
	SystemPrompt string
	Messages     []llm.Message
}

// ErrPairingViolation reports a tool-result pairing invariant breach: an
// assistant message was pushed, or a user turn was appended, while a
// previous assistant message's tool uses are not all resolved.
type ErrPairingViolation struct {
	ToolUseID string
}

func (e *ErrPairingViolation) Error() string {
	return fmt.Sprintf("tool-result pairing invariant violated: %s has no matching result", e.ToolUseID)
}

// State is the per-session conversation history: ordered messages, the
// single-slot pending user message, the latest compaction summary, and a
// running token accountant. Owned exclusively by the turn engine driving
// one session — never shared across goroutines without external locking,
// per spec.md §5's "conversation state is owned by the turn engine and
// never shared".
type State struct {
	messages            []Message
	pendingUserMessage  string
	latestSummary       string
	tokens              *usage.Accountant
	snapshot            *config.AgentSnapshot
	compaction          *CompactionConfig
	inputLimit          int
	unresolvedToolUses  map[string]bool // tool_use_id -> still pending
}

// NewState creates conversation state bound to an agent snapshot.
func NewState(snapshot *config.AgentSnapshot) *State {
	return &State{
		snapshot:           snapshot,
		tokens:             &usage.Accountant{},
		unresolvedToolUses: make(map[string]bool),
	}
}

// SetCompaction enables automatic compaction once the running token total
// exceeds cfg.ThresholdRatio of inputLimit.
func (s *State) SetCompaction(inputLimit int, cfg CompactionConfig) {
	s.inputLimit = inputLimit
	s.compaction = &cfg
}

// Accountant returns the running token accountant, for the turn engine to
// feed EventUsage figures into as a stream progresses.
func (s *State) Accountant() *usage.Accountant {
	return s.tokens
}

// SetNextUserMessage installs the single pending-user-message slot.
func (s *State) SetNextUserMessage(text string) {
	s.pendingUserMessage = text
}

// ResetNextUserMessage clears the pending-user-message slot without
// consuming it into history.
func (s *State) ResetNextUserMessage() {
	s.pendingUserMessage = ""
}

// PendingUserMessage returns the current pending-user-message slot.
func (s *State) PendingUserMessage() string {
	return s.pendingUserMessage
}

// AppendUserTurn consumes the pending user message and the turn's context
// bundle into a new KindUserPrompt message. Fails the pairing invariant
// check first: a new user turn must not start while a previous assistant
// message still has unresolved tool uses.
func (s *State) AppendUserTurn(bundle ctxmgr.Bundle) error {
	if err := s.checkResolved(); err != nil {
		return err
	}
	s.messages = append(s.messages, UserPrompt(s.pendingUserMessage, bundle))
	s.pendingUserMessage = ""
	return nil
}

// PushAssistant appends an assistant message, first checking that every
// tool use from the previous assistant message (if any) has already been
// resolved by a matching tool result.
func (s *State) PushAssistant(msg Message) error {
	if msg.Kind != KindAssistant {
		return fmt.Errorf("PushAssistant: message is not KindAssistant")
	}
	if err := s.checkResolved(); err != nil {
		return err
	}
	s.messages = append(s.messages, msg)
	for _, u := range msg.ToolUses {
		s.unresolvedToolUses[u.ID] = true
	}
	return nil
}

// PushToolResult appends a tool result, checked against the unresolved set
// left by the most recent assistant message.
func (s *State) PushToolResult(msg Message) error {
	if msg.Kind != KindToolResult {
		return fmt.Errorf("PushToolResult: message is not KindToolResult")
	}
	if !s.unresolvedToolUses[msg.ToolUseID] {
		return fmt.Errorf("PushToolResult: %s is not an outstanding tool use", msg.ToolUseID)
	}
	s.messages = append(s.messages, msg)
	delete(s.unresolvedToolUses, msg.ToolUseID)
	return nil
}

// checkResolved returns *ErrPairingViolation for the first tool use still
// outstanding, or nil if the history is in a state where a new user/
// assistant message may legally be appended.
func (s *State) checkResolved() error {
	for id, pending := range s.unresolvedToolUses {
		if pending {
			return &ErrPairingViolation{ToolUseID: id}
		}
	}
	return nil
}

// SynthesizeCancelledResults is called on turn cancellation: it appends a
// Cancelled tool result for every tool use still outstanding, restoring the
// pairing invariant before the unfinished assistant message (already
// pushed) is left as the last message, or dropped by the caller per
// spec.md §4.8's cancellation behavior.
func (s *State) SynthesizeCancelledResults(reason string) {
	for id, pending := range s.unresolvedToolUses {
		if !pending {
			continue
		}
		s.messages = append(s.messages, ToolResultCancelled(id, reason))
		delete(s.unresolvedToolUses, id)
	}
}

// DropLastAssistant removes the most recently pushed assistant message,
// used when a turn's stream ends in StreamProtocol or provider error and
// the conversation must roll back to before that message, per spec.md §7's
// "conversation rolled back to before user prompt" / §4.8's "rollback
// assistant_msg" step. Also clears any tool uses it registered as
// outstanding.
func (s *State) DropLastAssistant() {
	if len(s.messages) == 0 {
		return
	}
	last := s.messages[len(s.messages)-1]
	if last.Kind != KindAssistant {
		return
	}
	s.messages = s.messages[:len(s.messages)-1]
	for _, u := range last.ToolUses {
		delete(s.unresolvedToolUses, u.ID)
	}
}

// Messages returns the full ordered history, for inspection/testing.
func (s *State) Messages() []Message {
	return s.messages
}

// CalculateSizes returns char counts per category, 3:1 token conversion
// with ceiling rounding applied by the caller via EstimateTokens.
func (s *State) CalculateSizes() Sizes {
	var sizes Sizes
	for _, m := range s.messages {
		switch m.Kind {
		case KindUserPrompt:
			sizes.User += len(m.Text)
			for _, f := range m.Context.Kept {
				sizes.Context += len(f.Content)
			}
		case KindAssistant:
			sizes.Assistant += len(m.AssistantText)
			for _, u := range m.ToolUses {
				sizes.Tools += len(u.Input)
			}
		case KindToolResult:
			sizes.Tools += len(m.Payload)
		case KindSystemSummary:
			sizes.Assistant += len(m.Summary)
		}
	}
	return sizes
}

// EstimatedTotalTokens returns the 3:1 char-to-token estimate of the whole
// history, used against inputLimit to decide whether compaction is due.
func (s *State) EstimatedTotalTokens() int {
	sizes := s.CalculateSizes()
	return EstimateTokens(sizes.Context + sizes.User + sizes.Assistant + sizes.Tools)
}

// NeedsCompaction reports whether the conversation's estimated size exceeds
// the configured compaction threshold.
func (s *State) NeedsCompaction() bool {
	if s.compaction == nil || s.inputLimit <= 0 {
		return false
	}
	threshold := int(float64(s.inputLimit) * s.compaction.ThresholdRatio)
	return s.EstimatedTotalTokens() > threshold
}

// Summarizer produces a natural-language summary of a message range, via a
// "summarize the preceding conversation" directive to the configured LLM
// provider — implemented by internal/turn, which owns the Provider.
type Summarizer func(ctx context.Context, messages []Message) (string, error)

// Compact replaces the oldest messages up through (and including) the last
// fully-paired assistant/tool-result range with a single SystemSummary
// message, keeping the most recent keepTail messages verbatim. Triggered
// explicitly (/compact) or implicitly via NeedsCompaction.
func (s *State) Compact(ctx context.Context, keepTail int, summarize Summarizer) error {
	if keepTail < 0 {
		keepTail = 0
	}
	if len(s.messages) <= keepTail {
		return nil
	}
	cut := len(s.messages) - keepTail
	// Never cut mid-pairing: extend the cut point forward until it lands
	// just after a tool result (or a plain assistant message with no tool
	// uses), so the summarized range is self-contained.
	for cut < len(s.messages) && ((s.messages[cut-1].Kind == KindAssistant && len(s.messages[cut-1].ToolUses) > 0) || s.messages[cut].Kind == KindToolResult) {
		cut++
	}

	toSummarize := s.messages[:cut]
	summary, err := summarize(ctx, toSummarize)
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}

	rest := make([]Message, len(s.messages)-cut)
	copy(rest, s.messages[cut:])
	s.messages = append([]Message{SystemSummary(summary)}, rest...)
	s.latestSummary = summary
	s.tokens.Reset()
	return nil
}

// AsSendable builds the API-shaped request from the current history: the
// agent snapshot's system prompt plus the message history translated into
// llm.Message values. The tool catalog and model/sampling parameters are
// filled in by the turn engine, which owns the tool catalog and snapshot
// defaults this state does not.
func (s *State) AsSendable() RequestPayload {
	payload := RequestPayload{SystemPrompt: s.snapshot.SystemPrompt}
	for _, m := range s.messages {
		payload.Messages = append(payload.Messages, toLLMMessage(m))
	}
	return payload
}

func toLLMMessage(m Message) llm.Message {
	switch m.Kind {
	case KindUserPrompt:
		parts := []llm.Part{{Type: llm.PartText, Text: m.Text}}
		for _, f := range m.Context.Kept {
			parts = append(parts, llm.Part{Type: llm.PartText, Text: fmt.Sprintf("<file path=%q>\n%s\n</file>", f.Path, f.Content)})
		}
		return llm.Message{Role: llm.RoleUser, Parts: parts}
	case KindAssistant:
		parts := []llm.Part{{Type: llm.PartText, Text: m.AssistantText}}
		for _, u := range m.ToolUses {
			parts = append(parts, llm.Part{Type: llm.PartToolCall, ToolCall: &llm.ToolCall{
				ID:        u.ID,
				Name:      u.Name,
				Arguments: u.Input,
			}})
		}
		return llm.Message{Role: llm.RoleAssistant, Parts: parts}
	case KindToolResult:
		return llm.Message{Role: llm.RoleTool, Parts: []llm.Part{{
			Type: llm.PartToolResult,
			ToolResult: &llm.ToolResult{
				ID:      m.ToolUseID,
				Content: m.Payload,
				IsError: m.Status != StatusSuccess,
			},
		}}}
	case KindSystemSummary:
		return llm.SystemText(m.Summary)
	default:
		return llm.Message{}
	}
}
