package llm

import (
	"context"
	"encoding/json"
)

// FinishingTool is an optional interface for tools that signal agent completion.
// When a finishing tool is executed, the agentic loop should stop after this turn.
type FinishingTool interface {
	IsFinishingTool() bool
}

// Tool describes a callable external tool.
type Tool interface {
	Spec() ToolSpec
	Execute(ctx context.Context, args json.RawMessage) (ToolOutput, error)
	// Preview returns a human-readable description of what the tool will do,
	// shown to the user before execution starts. Returns "" if unavailable.
	Preview(args json.RawMessage) string
}

// ToolRegistry stores tools by name for execution.
type ToolRegistry struct {
	tools map[string]Tool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

func (r *ToolRegistry) Register(tool Tool) {
	r.tools[tool.Spec().Name] = tool
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

func (r *ToolRegistry) Unregister(name string) {
	delete(r.tools, name)
}

// IsFinishingTool returns true if the named tool is a finishing tool.
func (r *ToolRegistry) IsFinishingTool(name string) bool {
	tool, ok := r.tools[name]
	if !ok {
		return false
	}
	if ft, ok := tool.(FinishingTool); ok {
		return ft.IsFinishingTool()
	}
	return false
}

// AllSpecs returns the specs for all registered tools.
func (r *ToolRegistry) AllSpecs() []ToolSpec {
	specs := make([]ToolSpec, 0, len(r.tools))
	for _, tool := range r.tools {
		specs = append(specs, tool.Spec())
	}
	return specs
}

type callIDKey struct{}

// ContextWithCallID attaches the originating tool call ID to ctx, so tools
// that emit progress updates (spawn_agent-style subtasks) can tag them.
func ContextWithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey{}, id)
}

// CallIDFromContext retrieves the tool call ID attached by ContextWithCallID.
func CallIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callIDKey{}).(string)
	return id, ok
}

// OutputSink receives incremental output chunks from a tool as they are
// produced, ahead of that tool call's final ToolOutput. execute_cmd writes
// stdout/stderr to it as the child process runs. A tool with no sink
// attached to its context just buffers normally.
type OutputSink interface {
	Write(stream string, chunk []byte)
}

type outputSinkKey struct{}

// ContextWithOutputSink attaches an OutputSink to ctx, mirroring
// ContextWithCallID's side-channel so the shared Tool.Execute signature
// never has to change to carry it.
func ContextWithOutputSink(ctx context.Context, sink OutputSink) context.Context {
	return context.WithValue(ctx, outputSinkKey{}, sink)
}

// OutputSinkFromContext retrieves the OutputSink attached by
// ContextWithOutputSink.
func OutputSinkFromContext(ctx context.Context) (OutputSink, bool) {
	sink, ok := ctx.Value(outputSinkKey{}).(OutputSink)
	return sink, ok
}

// ToolErrorMessage builds a tool-role message carrying a failed ToolResult.
func ToolErrorMessage(id, name, errMsg string, thoughtSig []byte) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type: PartToolResult,
			ToolResult: &ToolResult{
				ID:      id,
				Name:    name,
				Content: errMsg,
				IsError: true,
			},
		}},
	}
}

// ToolResultMessageFromOutput builds a tool-role message from a ToolOutput,
// preserving structured content (diffs, images) alongside the text summary.
func ToolResultMessageFromOutput(id, name string, output ToolOutput, thoughtSig []byte) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type: PartToolResult,
			ToolResult: &ToolResult{
				ID:           id,
				Name:         name,
				Content:      output.Content,
				IsError:      output.IsError,
				ContentParts: output.ContentParts,
				Diffs:        output.Diffs,
				Images:       output.Images,
				ThoughtSig:   thoughtSig,
			},
		}},
	}
}
