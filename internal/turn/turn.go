// Package turn drives one conversation turn: assembling the request from
// conversation state and the context manager, streaming the model's
// response, dispatching tool calls through the merged catalog, and looping
// until the model signals end-of-turn. Grounded throughout on the teacher's
// internal/llm/engine.go Engine.runLoop.
package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluxterm/agentcore/internal/config"
	ctxmgr "github.com/fluxterm/agentcore/internal/context"
	"github.com/fluxterm/agentcore/internal/conversation"
	"github.com/fluxterm/agentcore/internal/llm"
	"github.com/fluxterm/agentcore/internal/toolcat"
	"github.com/fluxterm/agentcore/internal/tools"
	"github.com/fluxterm/agentcore/internal/usage"
)

// defaultMaxToolLoops bounds the tool-use continuation loop, grounded on the
// teacher's defaultMaxTurns.
const defaultMaxToolLoops = 20

// callbackTimeout bounds persistence callbacks so they can outlive a
// cancelled turn's context long enough to commit, mirroring the teacher's
// callbackContext helper.
const callbackTimeout = 5 * time.Second

// StopReason is the terminal classification of a finished or aborted turn.
type StopReason int

const (
	StopEndTurn StopReason = iota
	StopError
	StopCancelled
)

// UpdateKind discriminates the ACP-facing notifications a turn emits as it
// runs. internal/acp translates these into session/update notifications.
type UpdateKind int

const (
	UpdateAgentContent UpdateKind = iota
	UpdateToolCall
	UpdateToolCallFinished
	UpdateToolOutputChunk
	UpdateFileChange
	UpdateApprovalRequest
	UpdateContextDropped
	UpdateEndTurn
	UpdateStop
)

// Update is one notification emitted during RunTurn, in stream order.
type Update struct {
	Kind UpdateKind

	Text string // UpdateAgentContent

	ToolUse *conversation.ToolUseBlock // UpdateToolCall / UpdateApprovalRequest / UpdateToolOutputChunk
	Result  *conversation.Message      // UpdateToolCallFinished

	Stream string // UpdateToolOutputChunk: "stdout" or "stderr"
	Chunk  []byte // UpdateToolOutputChunk

	FileChange *tools.FileChangeEvent // UpdateFileChange

	ApprovalID string // UpdateApprovalRequest

	Dropped []ctxmgr.FileEntry // UpdateContextDropped

	Stop StopReason // UpdateStop
	Err  error      // UpdateStop, when Stop == StopError
}

// Approve is consulted whenever the permission evaluator returns Ask for a
// tool call not already recorded this session. It blocks until the
// approval is resolved or ctx is cancelled — internal/acp implements it as
// an outbound session/request_permission round trip.
type Approve func(ctx context.Context, id string, use conversation.ToolUseBlock) (bool, error)

// OnUpdate receives every Update a turn emits, in order.
type OnUpdate func(Update)

// Engine runs turns for one session: one conversation.State, one merged
// tool catalog, one context manager, one model provider.
type Engine struct {
	Provider llm.Provider
	Model    string
	Catalog  *toolcat.Catalog
	Context  *ctxmgr.Manager
	State    *conversation.State
	Snapshot *config.AgentSnapshot

	MaxToolLoops int

	mu         sync.Mutex
	cancelTurn context.CancelFunc

	interjectMu  sync.Mutex
	interjection chan string

	callbackMu     sync.RWMutex
	onTurnComplete TurnCompletedCallback
}

// TurnCompletedCallback is invoked once a turn ends normally, with the
// session's full message history and running token totals, so a caller can
// persist the conversation incrementally and resume after a crash.
// Grounded on the teacher's internal/llm/engine.go TurnCompletedCallback —
// simplified from the teacher's per-exchange callbackStream wrapping (which
// also covers a response saved mid-tool-loop) to a single end-of-turn call,
// since RunTurn's single outer loop has one natural completion point rather
// than the teacher's per-response stream boundary.
type TurnCompletedCallback func(ctx context.Context, messages []conversation.Message, totals usage.Totals) error

// SetTurnCompletedCallback installs or clears (nil) the turn-completion
// callback. Safe to call between turns.
func (e *Engine) SetTurnCompletedCallback(cb TurnCompletedCallback) {
	e.callbackMu.Lock()
	e.onTurnComplete = cb
	e.callbackMu.Unlock()
}

func (e *Engine) getTurnCompletedCallback() TurnCompletedCallback {
	e.callbackMu.RLock()
	defer e.callbackMu.RUnlock()
	return e.onTurnComplete
}

// fireTurnCompleted runs the turn-completion callback, if any, under a
// timeout-bounded context detached from the turn's own cancellation so a
// persistence write started just before cancellation still gets a chance
// to commit, mirroring the teacher's callbackContext pattern.
func (e *Engine) fireTurnCompleted(ctx context.Context) error {
	cb := e.getTurnCompletedCallback()
	if cb == nil {
		return nil
	}
	cbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), callbackTimeout)
	defer cancel()
	return cb(cbCtx, e.State.Messages(), e.State.Accountant().Snapshot())
}

// NewEngine builds a turn engine for one session.
func NewEngine(provider llm.Provider, model string, catalog *toolcat.Catalog, ctxMgr *ctxmgr.Manager, state *conversation.State, snapshot *config.AgentSnapshot) *Engine {
	return &Engine{
		Provider:     provider,
		Model:        model,
		Catalog:      catalog,
		Context:      ctxMgr,
		State:        state,
		Snapshot:     snapshot,
		MaxToolLoops: defaultMaxToolLoops,
	}
}

// Cancel aborts the in-flight turn, if any. Safe to call from another
// goroutine (the ACP bridge's notification handler).
func (e *Engine) Cancel() {
	e.mu.Lock()
	cancel := e.cancelTurn
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Interject queues text to be folded in as a plain user turn between tool
// loop iterations of the turn currently running, draining any previously
// queued (and not yet delivered) interjection first. Grounded on the
// teacher's Engine.Interject/DrainInterjection.
func (e *Engine) Interject(text string) {
	e.interjectMu.Lock()
	if e.interjection == nil {
		e.interjection = make(chan string, 1)
	}
	ch := e.interjection
	e.interjectMu.Unlock()
	select {
	case <-ch:
	default:
	}
	ch <- text
}

// drainFileChangeEvents non-blockingly drains every event currently queued
// on the fs_watch tool's channel, emitting an UpdateFileChange notification
// for each, grounded on drainInterjection's own non-blocking drain pattern.
// Returns nil if fs_watch isn't enabled or nothing is pending.
func (e *Engine) drainFileChangeEvents(onUpdate OnUpdate) []tools.FileChangeEvent {
	ch, ok := e.Catalog.WatchEvents()
	if !ok {
		return nil
	}
	var events []tools.FileChangeEvent
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
			onUpdate(Update{Kind: UpdateFileChange, FileChange: &ev})
		default:
			return events
		}
	}
}

// formatFileChangeNote renders drained fs_watch events as a synthetic user
// turn so the model learns about them without having to poll fs_watch
// itself, mirroring how drainInterjection folds queued text into the turn.
func formatFileChangeNote(events []tools.FileChangeEvent) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[fs_watch] %d file change(s) observed:\n", len(events))
	for _, ev := range events {
		fmt.Fprintf(&sb, "[%s] %s (watch_id: %s)\n", ev.Op, ev.Path, ev.WatchID)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func (e *Engine) drainInterjection() (string, bool) {
	e.interjectMu.Lock()
	ch := e.interjection
	e.interjectMu.Unlock()
	if ch == nil {
		return "", false
	}
	select {
	case text := <-ch:
		return text, true
	default:
		return "", false
	}
}

// contextTokenBudget returns the char budget (in tokens, ctxmgr.Expand
// converts to chars internally) context files get: a quarter of the
// model's input window, per spec.md §3's ContextBundle note.
func (e *Engine) contextTokenBudget() int {
	limit := llm.InputLimitForModel(e.Model)
	return limit / 4
}

// RunTurn drives one user prompt through the tool-use loop until the model
// signals end of turn, a terminal error occurs, or the turn is cancelled
// via Cancel(). Updates are emitted through onUpdate in stream order;
// approve is consulted for any tool call the permission evaluator marks
// Ask. The returned StopReason is what internal/acp maps directly onto the
// ACP `prompt` response's stop_reason / error.
func (e *Engine) RunTurn(ctx context.Context, userText string, onUpdate OnUpdate, approve Approve) (StopReason, error) {
	turnCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancelTurn = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.cancelTurn = nil
		e.mu.Unlock()
		cancel()
	}()

	bundle := e.Context.Expand(turnCtx, e.Snapshot.Resources, e.contextTokenBudget())
	if len(bundle.Dropped) > 0 {
		onUpdate(Update{Kind: UpdateContextDropped, Dropped: bundle.Dropped})
	}

	e.State.SetNextUserMessage(userText)
	if err := e.State.AppendUserTurn(bundle); err != nil {
		return StopError, fmt.Errorf("append user turn: %w", err)
	}

	for loopCount := 0; loopCount < e.MaxToolLoops; loopCount++ {
		if turnCtx.Err() != nil {
			return StopCancelled, e.finishCancelled(onUpdate, turnCtx.Err())
		}

		if text, ok := e.drainInterjection(); ok && text != "" {
			e.State.SetNextUserMessage(text)
			if err := e.State.AppendUserTurn(ctxmgr.Bundle{}); err != nil {
				return StopError, fmt.Errorf("append interjection: %w", err)
			}
		}

		if events := e.drainFileChangeEvents(onUpdate); len(events) > 0 {
			e.State.SetNextUserMessage(formatFileChangeNote(events))
			if err := e.State.AppendUserTurn(ctxmgr.Bundle{}); err != nil {
				return StopError, fmt.Errorf("append file-change notification: %w", err)
			}
		}

		wantsMore, err := e.runOneExchange(turnCtx, onUpdate, approve)
		if err != nil {
			if turnCtx.Err() != nil {
				return StopCancelled, e.finishCancelled(onUpdate, turnCtx.Err())
			}
			onUpdate(Update{Kind: UpdateStop, Stop: StopError, Err: err})
			return StopError, err
		}
		if !wantsMore {
			_ = e.fireTurnCompleted(turnCtx) // best-effort persistence, mirrors the teacher's discarded callback error
			onUpdate(Update{Kind: UpdateEndTurn})
			return StopEndTurn, nil
		}
	}

	loopErr := fmt.Errorf("exceeded max tool loops (%d)", e.MaxToolLoops)
	onUpdate(Update{Kind: UpdateStop, Stop: StopError, Err: loopErr})
	return StopError, loopErr
}

// runOneExchange sends one request, consumes the resulting stream fully,
// dispatches any tool calls it contained, and reports whether the model
// wants another exchange (it emitted tool uses) or has ended the turn.
func (e *Engine) runOneExchange(ctx context.Context, onUpdate OnUpdate, approve Approve) (wantsMore bool, err error) {
	req := e.buildRequest()

	stream, err := e.Provider.Stream(ctx, req)
	if err != nil {
		return false, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	var assistantText string
	var toolUses []conversation.ToolUseBlock

	for {
		event, recvErr := stream.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			return false, fmt.Errorf("stream: %w", recvErr)
		}

		switch event.Type {
		case llm.EventTextDelta:
			assistantText += event.Text
			onUpdate(Update{Kind: UpdateAgentContent, Text: event.Text})
		case llm.EventToolCall:
			if event.Tool == nil {
				return false, fmt.Errorf("protocol error: tool_call event with no tool")
			}
			use := conversation.ToolUseBlock{ID: event.Tool.ID, Name: event.Tool.Name, Input: event.Tool.Arguments}
			toolUses = append(toolUses, use)
			onUpdate(Update{Kind: UpdateToolCall, ToolUse: &use})
		case llm.EventUsage:
			if event.Use != nil {
				e.State.Accountant().Add(event.Use.InputTokens, event.Use.OutputTokens, 0, 0)
			}
		case llm.EventError:
			return false, fmt.Errorf("provider stream error: %w", event.Err)
		case llm.EventRetry, llm.EventToolExecStart, llm.EventToolExecEnd, llm.EventDone:
			// no conversation-state action; EventDone just ends the loop below via EOF/next Recv.
		}
	}

	assistantMsg := conversation.Assistant(assistantText, toolUses)
	if err := e.State.PushAssistant(assistantMsg); err != nil {
		return false, fmt.Errorf("push assistant: %w", err)
	}

	if len(toolUses) == 0 {
		return false, nil
	}

	results := e.executeToolUses(ctx, toolUses, onUpdate, approve)
	for _, result := range results {
		if err := e.State.PushToolResult(result); err != nil {
			return false, fmt.Errorf("push tool result: %w", err)
		}
	}
	return true, nil
}

func (e *Engine) buildRequest() llm.Request {
	payload := e.State.AsSendable()
	messages := payload.Messages
	if payload.SystemPrompt != "" {
		messages = append([]llm.Message{llm.SystemText(payload.SystemPrompt)}, messages...)
	}
	return llm.Request{
		Model:             e.Model,
		Messages:          messages,
		Tools:             e.Catalog.Specs(),
		ToolChoice:        llm.ToolChoice{Mode: llm.ToolChoiceAuto},
		ParallelToolCalls: true,
	}
}

// executeToolUses dispatches every tool use concurrently, one goroutine per
// call, preserving result order by index — grounded on the teacher's
// executeToolCalls. A panicking tool call is recovered and turned into an
// error result rather than taking down the turn.
func (e *Engine) executeToolUses(ctx context.Context, uses []conversation.ToolUseBlock, onUpdate OnUpdate, approve Approve) []conversation.Message {
	type indexed struct {
		index  int
		result conversation.Message
	}

	resultCh := make(chan indexed, len(uses))
	var wg sync.WaitGroup
	for i, use := range uses {
		wg.Add(1)
		go func(idx int, u conversation.ToolUseBlock) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					resultCh <- indexed{idx, conversation.ToolResultErr(u.ID, fmt.Sprintf("tool panicked: %v", r))}
				}
			}()
			result := e.dispatchOne(ctx, u, onUpdate, approve)
			resultCh <- indexed{idx, result}
		}(i, use)
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	ordered := make([]conversation.Message, len(uses))
	for r := range resultCh {
		ordered[r.index] = r.result
	}
	return ordered
}

// toolOutputSink forwards streamed tool output (currently only execute_cmd's
// stdout/stderr) to onUpdate as UpdateToolOutputChunk notifications tagged
// with the originating tool use, so the ACP bridge can relay it before the
// call finishes instead of waiting for the buffered final result.
type toolOutputSink struct {
	use      conversation.ToolUseBlock
	onUpdate OnUpdate
}

func (s *toolOutputSink) Write(stream string, chunk []byte) {
	use := s.use
	s.onUpdate(Update{Kind: UpdateToolOutputChunk, ToolUse: &use, Stream: stream, Chunk: chunk})
}

// dispatchOne runs the permission-gated dispatch for one tool use,
// resolving an Ask decision via approve if needed, and emits the
// ToolCallFinished update once the outcome is known.
func (e *Engine) dispatchOne(ctx context.Context, use conversation.ToolUseBlock, onUpdate OnUpdate, approve Approve) conversation.Message {
	ctx = llm.ContextWithOutputSink(ctx, &toolOutputSink{use: use, onUpdate: onUpdate})
	output, err := e.Catalog.Dispatch(ctx, use.Name, json.RawMessage(use.Input))

	var askErr *toolcat.AskRequired
	if asAskRequired(err, &askErr) {
		id := uuid.NewString()
		onUpdate(Update{Kind: UpdateApprovalRequest, ToolUse: &use, ApprovalID: id})

		approved, approveErr := approve(ctx, id, use)
		if approveErr != nil || !approved {
			reason := "denied by user"
			if approveErr != nil {
				reason = approveErr.Error()
			}
			result := conversation.ToolResultCancelled(use.ID, reason)
			onUpdate(Update{Kind: UpdateToolCallFinished, ToolUse: &use, Result: &result})
			return result
		}

		e.Catalog.RecordAskDecision(use.Name, json.RawMessage(use.Input), true)
		output, err = e.Catalog.Dispatch(ctx, use.Name, json.RawMessage(use.Input))
	}

	var result conversation.Message
	switch {
	case err != nil && ctx.Err() != nil:
		result = conversation.ToolResultCancelled(use.ID, ctx.Err().Error())
	case err != nil:
		result = conversation.ToolResultErr(use.ID, err.Error())
	case output.IsError:
		result = conversation.ToolResultErr(use.ID, output.Content)
	default:
		result = conversation.ToolResultOK(use.ID, output.Content)
	}
	onUpdate(Update{Kind: UpdateToolCallFinished, ToolUse: &use, Result: &result})
	return result
}

func asAskRequired(err error, target **toolcat.AskRequired) bool {
	if err == nil {
		return false
	}
	if ar, ok := err.(*toolcat.AskRequired); ok {
		*target = ar
		return true
	}
	return false
}

// finishCancelled synthesizes Cancelled results for any tool uses left
// outstanding by a cancelled turn, emits the terminal update, and reports
// the triggering error.
func (e *Engine) finishCancelled(onUpdate OnUpdate, cause error) error {
	e.State.SynthesizeCancelledResults(cause.Error())
	onUpdate(Update{Kind: UpdateStop, Stop: StopCancelled, Err: cause})
	return cause
}

// Summarize asks the configured provider to summarize a message range via
// a one-shot, history-free request, for conversation.State.Compact to use
// as its Summarizer. A fresh, timeout-bounded context is used so a
// compaction triggered near a cancellation still gets a chance to commit,
// mirroring the teacher's callbackContext pattern.
func (e *Engine) Summarize(ctx context.Context, messages []conversation.Message) (string, error) {
	sumCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), callbackTimeout)
	defer cancel()

	var transcript string
	for _, m := range messages {
		switch m.Kind {
		case conversation.KindUserPrompt:
			transcript += "User: " + m.Text + "\n"
		case conversation.KindAssistant:
			transcript += "Assistant: " + m.AssistantText + "\n"
		case conversation.KindToolResult:
			transcript += "Tool result: " + m.Payload + "\n"
		case conversation.KindSystemSummary:
			transcript += "Earlier summary: " + m.Summary + "\n"
		}
	}

	req := llm.Request{
		Model: e.Model,
		Messages: []llm.Message{
			llm.SystemText("Summarize the preceding conversation concisely, preserving any facts, decisions, and file paths a continuation would need."),
			llm.UserText(transcript),
		},
	}
	stream, err := e.Provider.Stream(sumCtx, req)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	defer stream.Close()

	var summary string
	for {
		event, recvErr := stream.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			return "", fmt.Errorf("summarize stream: %w", recvErr)
		}
		if event.Type == llm.EventTextDelta {
			summary += event.Text
		}
	}
	return summary, nil
}
