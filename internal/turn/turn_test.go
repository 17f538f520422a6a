package turn

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/fluxterm/agentcore/internal/config"
	ctxmgr "github.com/fluxterm/agentcore/internal/context"
	"github.com/fluxterm/agentcore/internal/conversation"
	"github.com/fluxterm/agentcore/internal/llm"
	"github.com/fluxterm/agentcore/internal/permission"
	"github.com/fluxterm/agentcore/internal/toolcat"
	"github.com/fluxterm/agentcore/internal/tools"
)

// scriptedStream replays a fixed, pre-recorded sequence of events, one
// exchange's worth, to a single Stream() call. fakeProvider hands out one
// scriptedStream per call to Stream, in order, so a test can script an
// entire multi-exchange turn.
type scriptedStream struct {
	events []llm.Event
	pos    int
}

func (s *scriptedStream) Recv() (llm.Event, error) {
	if s.pos >= len(s.events) {
		return llm.Event{}, io.EOF
	}
	e := s.events[s.pos]
	s.pos++
	return e, nil
}

func (s *scriptedStream) Close() error { return nil }

type fakeProvider struct {
	exchanges [][]llm.Event
	calls     int
}

func (p *fakeProvider) Name() string              { return "fake" }
func (p *fakeProvider) Credential() string        { return "none" }
func (p *fakeProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{ToolCalls: true}
}

func (p *fakeProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	if p.calls >= len(p.exchanges) {
		return &scriptedStream{events: []llm.Event{{Type: llm.EventDone}}}, nil
	}
	events := p.exchanges[p.calls]
	p.calls++
	return &scriptedStream{events: events}, nil
}

func newTestEngine(t *testing.T, provider *fakeProvider, allowedTools map[string]bool, toolSettings map[string]permission.PathPolicy) *Engine {
	t.Helper()

	registry, err := tools.NewLocalToolRegistry(tools.ToolConfig{Enabled: []string{tools.ExecuteToolName, tools.ReadFileToolName}})
	if err != nil {
		t.Fatalf("NewLocalToolRegistry: %v", err)
	}

	catalog := toolcat.NewCatalog(registry, nil, permission.Policy{
		AllowedTools: allowedTools,
		ToolSettings: toolSettings,
	})
	catalog.Rebuild()

	workspace := t.TempDir()
	snapshot := &config.AgentSnapshot{Name: "test", SystemPrompt: "be helpful"}
	state := conversation.NewState(snapshot)

	engine := NewEngine(provider, "claude-3-5-sonnet-20241022", catalog, ctxmgr.NewManager(workspace, nil), state, snapshot)
	return engine
}

func collectUpdates(engine *Engine, userText string, approve Approve) ([]Update, StopReason, error) {
	var updates []Update
	stop, err := engine.RunTurn(context.Background(), userText, func(u Update) {
		updates = append(updates, u)
	}, approve)
	return updates, stop, err
}

func alwaysApprove(ctx context.Context, id string, use conversation.ToolUseBlock) (bool, error) {
	return true, nil
}

func alwaysDeny(ctx context.Context, id string, use conversation.ToolUseBlock) (bool, error) {
	return false, nil
}

func TestRunTurn_PlainChat(t *testing.T) {
	provider := &fakeProvider{
		exchanges: [][]llm.Event{
			{
				{Type: llm.EventTextDelta, Text: "Hello"},
				{Type: llm.EventTextDelta, Text: " there"},
				{Type: llm.EventUsage, Use: &llm.Usage{InputTokens: 10, OutputTokens: 5}},
				{Type: llm.EventDone},
			},
		},
	}
	engine := newTestEngine(t, provider, nil, nil)

	updates, stop, err := collectUpdates(engine, "hi", alwaysApprove)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stop != StopEndTurn {
		t.Fatalf("stop=%v, want StopEndTurn", stop)
	}

	var text string
	sawEndTurn := false
	for _, u := range updates {
		if u.Kind == UpdateAgentContent {
			text += u.Text
		}
		if u.Kind == UpdateEndTurn {
			sawEndTurn = true
		}
	}
	if text != "Hello there" {
		t.Errorf("assembled text=%q, want %q", text, "Hello there")
	}
	if !sawEndTurn {
		t.Error("expected an UpdateEndTurn notification")
	}

	msgs := engine.State.Messages()
	if len(msgs) != 2 || msgs[1].AssistantText != "Hello there" {
		t.Fatalf("unexpected final history: %+v", msgs)
	}

	totals := engine.State.Accountant().Snapshot()
	if totals.InputTokens != 10 || totals.OutputTokens != 5 {
		t.Errorf("unexpected accountant totals: %+v", totals)
	}
}

func TestRunTurn_SingleToolCall(t *testing.T) {
	args, _ := json.Marshal(tools.ExecuteArgs{Command: "true"})
	provider := &fakeProvider{
		exchanges: [][]llm.Event{
			{
				{Type: llm.EventToolCall, Tool: &llm.ToolCall{ID: "call1", Name: tools.ExecuteToolName, Arguments: args}},
				{Type: llm.EventDone},
			},
			{
				{Type: llm.EventTextDelta, Text: "done"},
				{Type: llm.EventDone},
			},
		},
	}
	engine := newTestEngine(t, provider, map[string]bool{tools.ExecuteToolName: true}, nil)

	updates, stop, err := collectUpdates(engine, "run true", alwaysApprove)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stop != StopEndTurn {
		t.Fatalf("stop=%v, want StopEndTurn", stop)
	}

	sawToolCall, sawFinished := false, false
	for _, u := range updates {
		if u.Kind == UpdateToolCall {
			sawToolCall = true
		}
		if u.Kind == UpdateToolCallFinished {
			sawFinished = true
			if u.Result == nil || u.Result.Status != conversation.StatusSuccess {
				t.Errorf("expected successful tool result, got %+v", u.Result)
			}
		}
	}
	if !sawToolCall || !sawFinished {
		t.Fatalf("expected both UpdateToolCall and UpdateToolCallFinished, got %+v", updates)
	}

	msgs := engine.State.Messages()
	if len(msgs) != 4 {
		t.Fatalf("expected user/assistant/toolresult/assistant, got %d messages: %+v", len(msgs), msgs)
	}
	if msgs[2].Kind != conversation.KindToolResult || msgs[2].ToolUseID != "call1" {
		t.Fatalf("unexpected tool result message: %+v", msgs[2])
	}
}

func TestRunTurn_AskDenied(t *testing.T) {
	args, _ := json.Marshal(tools.ReadFileArgs{FilePath: "/etc/secret"})
	provider := &fakeProvider{
		exchanges: [][]llm.Event{
			{
				{Type: llm.EventToolCall, Tool: &llm.ToolCall{ID: "call1", Name: tools.ReadFileToolName, Arguments: args}},
				{Type: llm.EventDone},
			},
			{
				{Type: llm.EventTextDelta, Text: "ok, skipping that"},
				{Type: llm.EventDone},
			},
		},
	}
	// No AllowedPaths configured: Evaluate returns Ask for any path.
	engine := newTestEngine(t, provider, nil, map[string]permission.PathPolicy{
		tools.ReadFileToolName: {},
	})

	updates, stop, err := collectUpdates(engine, "read /etc/secret", alwaysDeny)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stop != StopEndTurn {
		t.Fatalf("stop=%v, want StopEndTurn", stop)
	}

	sawApproval := false
	for _, u := range updates {
		if u.Kind == UpdateApprovalRequest {
			sawApproval = true
			if u.ApprovalID == "" {
				t.Error("expected a non-empty ApprovalID")
			}
		}
	}
	if !sawApproval {
		t.Fatal("expected an UpdateApprovalRequest")
	}

	msgs := engine.State.Messages()
	if msgs[2].Kind != conversation.KindToolResult || msgs[2].Status != conversation.StatusCancelled {
		t.Fatalf("expected a cancelled tool result after denial, got %+v", msgs[2])
	}
}

func TestRunTurn_CancelMidTurn(t *testing.T) {
	provider := &fakeProvider{
		exchanges: [][]llm.Event{
			{
				{Type: llm.EventTextDelta, Text: "thinking..."},
				{Type: llm.EventDone},
			},
		},
	}
	engine := newTestEngine(t, provider, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled before the turn even starts looping

	var updates []Update
	stop, err := engine.RunTurn(ctx, "hi", func(u Update) { updates = append(updates, u) }, alwaysApprove)
	if stop != StopCancelled {
		t.Fatalf("stop=%v, want StopCancelled", stop)
	}
	if err == nil {
		t.Fatal("expected a non-nil error for a cancelled turn")
	}

	sawStop := false
	for _, u := range updates {
		if u.Kind == UpdateStop && u.Stop == StopCancelled {
			sawStop = true
		}
	}
	if !sawStop {
		t.Fatal("expected an UpdateStop with StopCancelled")
	}
}

func TestRunTurn_ExceedsMaxToolLoops(t *testing.T) {
	args, _ := json.Marshal(tools.ExecuteArgs{Command: "true"})
	toolCallEvents := []llm.Event{
		{Type: llm.EventToolCall, Tool: &llm.ToolCall{ID: "call", Name: tools.ExecuteToolName, Arguments: args}},
		{Type: llm.EventDone},
	}
	provider := &fakeProvider{}
	for i := 0; i < 5; i++ {
		provider.exchanges = append(provider.exchanges, toolCallEvents)
	}
	engine := newTestEngine(t, provider, map[string]bool{tools.ExecuteToolName: true}, nil)
	engine.MaxToolLoops = 3

	_, stop, err := collectUpdates(engine, "loop forever", alwaysApprove)
	if stop != StopError {
		t.Fatalf("stop=%v, want StopError", stop)
	}
	if err == nil {
		t.Fatal("expected an error when the tool loop bound is exceeded")
	}
}

func TestRunTurn_StreamProtocolErrorEndsTurn(t *testing.T) {
	provider := &fakeProvider{
		exchanges: [][]llm.Event{
			{
				{Type: llm.EventError, Err: &llm.StreamProtocolError{Message: "content block stop for index 3 was never started"}},
			},
		},
	}
	engine := newTestEngine(t, provider, nil, nil)

	_, stop, err := collectUpdates(engine, "hi", alwaysApprove)
	if stop != StopError {
		t.Fatalf("stop=%v, want StopError", stop)
	}
	if err == nil {
		t.Fatal("expected an error surfaced from the stream protocol error")
	}
}

func TestInterject_QueuesBetweenExchanges(t *testing.T) {
	args, _ := json.Marshal(tools.ExecuteArgs{Command: "true"})
	provider := &fakeProvider{
		exchanges: [][]llm.Event{
			{
				{Type: llm.EventToolCall, Tool: &llm.ToolCall{ID: "call1", Name: tools.ExecuteToolName, Arguments: args}},
				{Type: llm.EventDone},
			},
			{
				{Type: llm.EventTextDelta, Text: "got it"},
				{Type: llm.EventDone},
			},
		},
	}
	engine := newTestEngine(t, provider, map[string]bool{tools.ExecuteToolName: true}, nil)
	engine.Interject("also check this")

	_, stop, err := collectUpdates(engine, "run true", alwaysApprove)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stop != StopEndTurn {
		t.Fatalf("stop=%v, want StopEndTurn", stop)
	}

	foundInterjection := false
	for _, m := range engine.State.Messages() {
		if m.Kind == conversation.KindUserPrompt && m.Text == "also check this" {
			foundInterjection = true
		}
	}
	if !foundInterjection {
		t.Fatal("expected the interjected text to appear as a user message in history")
	}
}
