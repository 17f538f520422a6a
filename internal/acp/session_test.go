package acp

import (
	"testing"

	"github.com/fluxterm/agentcore/internal/conversation"
	ctxmgr "github.com/fluxterm/agentcore/internal/context"
	"github.com/fluxterm/agentcore/internal/turn"
)

func TestMapStopReason(t *testing.T) {
	cases := map[turn.StopReason]StopReason{
		turn.StopEndTurn:   StopReasonEndTurn,
		turn.StopCancelled: StopReasonCancelled,
		turn.StopError:     "",
	}
	for in, want := range cases {
		if got := mapStopReason(in); got != want {
			t.Errorf("mapStopReason(%v)=%q, want %q", in, got, want)
		}
	}
}

func TestTranslateUpdate_AgentContent(t *testing.T) {
	u := turn.Update{Kind: turn.UpdateAgentContent, Text: "hi"}
	got := translateUpdate("s1", u)
	if got == nil {
		t.Fatal("expected a non-nil notification")
	}
	chunk, ok := got.Update.(AgentMessageChunk)
	if !ok || chunk.Text != "hi" {
		t.Fatalf("unexpected update payload: %+v", got.Update)
	}
}

func TestTranslateUpdate_ToolCallFinished(t *testing.T) {
	use := &conversation.ToolUseBlock{ID: "t1", Name: "execute_cmd"}
	result := &conversation.Message{Kind: conversation.KindToolResult, ToolUseID: "t1", Status: conversation.StatusError, Payload: "boom"}
	u := turn.Update{Kind: turn.UpdateToolCallFinished, ToolUse: use, Result: result}

	got := translateUpdate("s1", u)
	if got == nil {
		t.Fatal("expected a non-nil notification")
	}
	payload, ok := got.Update.(ToolCallFinishedUpdate)
	if !ok {
		t.Fatalf("unexpected update type: %T", got.Update)
	}
	if payload.Status != "failed" || payload.Content != "boom" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestTranslateUpdate_ContextDropped(t *testing.T) {
	u := turn.Update{Kind: turn.UpdateContextDropped, Dropped: []ctxmgr.FileEntry{{Path: "big.log"}}}
	got := translateUpdate("s1", u)
	payload, ok := got.Update.(ContextDroppedUpdate)
	if !ok || len(payload.Paths) != 1 || payload.Paths[0] != "big.log" {
		t.Fatalf("unexpected payload: %+v", got.Update)
	}
}

func TestTranslateUpdate_ApprovalRequestNotCarriedAsNotification(t *testing.T) {
	u := turn.Update{Kind: turn.UpdateApprovalRequest}
	if got := translateUpdate("s1", u); got != nil {
		t.Fatalf("expected nil, approval requests are a synchronous call not a notification, got %+v", got)
	}
}

func TestSession_PromptBusyGate(t *testing.T) {
	s := newSession("s1", nil)
	if !s.tryBeginPrompt() {
		t.Fatal("expected the first tryBeginPrompt to succeed")
	}
	if s.tryBeginPrompt() {
		t.Fatal("expected a concurrent tryBeginPrompt to fail while busy")
	}
	s.endPrompt()
	if !s.tryBeginPrompt() {
		t.Fatal("expected tryBeginPrompt to succeed again after endPrompt")
	}
}

func TestToolCallStatus(t *testing.T) {
	cases := map[conversation.ToolResultStatus]string{
		conversation.StatusSuccess:   "completed",
		conversation.StatusError:     "failed",
		conversation.StatusCancelled: "cancelled",
	}
	for in, want := range cases {
		if got := toolCallStatus(in); got != want {
			t.Errorf("toolCallStatus(%v)=%q, want %q", in, got, want)
		}
	}
}
