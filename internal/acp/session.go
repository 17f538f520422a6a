package acp

import (
	"context"
	"fmt"
	"sync"

	"github.com/fluxterm/agentcore/internal/conversation"
	"github.com/fluxterm/agentcore/internal/turn"
)

// session owns one turn.Engine and enforces the single-prompt-in-flight
// rule spec.md §4.9 requires: "while a prompt request is in flight, other
// prompt requests on the same session are rejected with InvalidParams."
// Grounded on the original implementation's per-session actor
// (crates/chat-cli/src/cli/acp/server_session.rs) generalized per
// spec.md §9's re-architecture note to a state struct owned by one
// goroutine instead of a second actor task.
type session struct {
	id     string
	engine *turn.Engine

	mu        sync.Mutex
	promptBusy bool
}

func newSession(id string, engine *turn.Engine) *session {
	return &session{id: id, engine: engine}
}

// tryBeginPrompt claims the single prompt slot, returning false if a
// previous prompt on this session is still running.
func (s *session) tryBeginPrompt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.promptBusy {
		return false
	}
	s.promptBusy = true
	return true
}

func (s *session) endPrompt() {
	s.mu.Lock()
	s.promptBusy = false
	s.mu.Unlock()
}

// runPrompt drives one ACP prompt request through the turn engine, emitting
// session/update notifications as the engine reports progress and
// resolving any Ask permission decisions through the bridge's outbound
// session/request_permission round trip.
func (s *session) runPrompt(ctx context.Context, conn *Conn, text string) (StopReason, error) {
	onUpdate := func(u turn.Update) {
		if notif := translateUpdate(s.id, u); notif != nil {
			if err := conn.SendNotification("session/update", notif); err != nil {
				// Best-effort: a broken client connection surfaces on the
				// next Recv/Scan, not here.
				return
			}
		}
	}

	approve := func(ctx context.Context, approvalID string, use conversation.ToolUseBlock) (bool, error) {
		resp, err := conn.Call("session/request_permission", RequestPermissionParams{
			SessionID: s.id,
			ToolUseID: approvalID,
			ToolName:  use.Name,
			Diff:      diffPreview(use),
		}, 0)
		if err != nil {
			return false, fmt.Errorf("request_permission round trip: %w", err)
		}
		if resp.Error != nil {
			return false, fmt.Errorf("request_permission: %s", resp.Error.Message)
		}
		var result RequestPermissionResult
		if err := decodeResult(resp.Result, &result); err != nil {
			return false, fmt.Errorf("decode request_permission result: %w", err)
		}
		return result.Approved, nil
	}

	stop, err := s.engine.RunTurn(ctx, text, onUpdate, approve)
	return mapStopReason(stop), err
}

// mapStopReason translates the engine's StopReason to the ACP wire
// vocabulary. StopError has no StopReason of its own — it is carried in the
// JSON-RPC error object instead, handled by the caller before this is used.
func mapStopReason(s turn.StopReason) StopReason {
	switch s {
	case turn.StopEndTurn:
		return StopReasonEndTurn
	case turn.StopCancelled:
		return StopReasonCancelled
	default:
		return ""
	}
}

func translateUpdate(sessionID string, u turn.Update) *SessionUpdateParams {
	switch u.Kind {
	case turn.UpdateAgentContent:
		return &SessionUpdateParams{SessionID: sessionID, Update: AgentMessageChunk{Type: "agent_message_chunk", Text: u.Text}}
	case turn.UpdateToolCall:
		if u.ToolUse == nil {
			return nil
		}
		return &SessionUpdateParams{SessionID: sessionID, Update: ToolCallUpdate{Type: "tool_call", ToolUseID: u.ToolUse.ID, Name: u.ToolUse.Name}}
	case turn.UpdateToolCallFinished:
		if u.ToolUse == nil || u.Result == nil {
			return nil
		}
		return &SessionUpdateParams{SessionID: sessionID, Update: ToolCallFinishedUpdate{
			Type:      "tool_call_update",
			ToolUseID: u.ToolUse.ID,
			Status:    toolCallStatus(u.Result.Status),
			Content:   u.Result.Payload,
		}}
	case turn.UpdateToolOutputChunk:
		if u.ToolUse == nil || len(u.Chunk) == 0 {
			return nil
		}
		return &SessionUpdateParams{SessionID: sessionID, Update: ToolCallOutputChunk{
			Type:      "tool_call_output_chunk",
			ToolUseID: u.ToolUse.ID,
			Stream:    u.Stream,
			Chunk:     string(u.Chunk),
		}}
	case turn.UpdateFileChange:
		if u.FileChange == nil {
			return nil
		}
		return &SessionUpdateParams{SessionID: sessionID, Update: FileChangeUpdate{
			Type:    "file_change",
			WatchID: u.FileChange.WatchID,
			Path:    u.FileChange.Path,
			Op:      u.FileChange.Op,
		}}
	case turn.UpdateContextDropped:
		paths := make([]string, len(u.Dropped))
		for i, f := range u.Dropped {
			paths[i] = f.Path
		}
		return &SessionUpdateParams{SessionID: sessionID, Update: ContextDroppedUpdate{Type: "context_dropped", Paths: paths}}
	default:
		// UpdateApprovalRequest is carried by the synchronous
		// session/request_permission call, not a session/update
		// notification; UpdateEndTurn/UpdateStop are reflected in the
		// prompt response itself.
		return nil
	}
}

func toolCallStatus(status conversation.ToolResultStatus) string {
	switch status {
	case conversation.StatusSuccess:
		return "completed"
	case conversation.StatusError:
		return "failed"
	case conversation.StatusCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}
