package tools

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/fluxterm/agentcore/internal/llm"
)

func TestExecuteTool_Spec(t *testing.T) {
	tool := NewExecuteTool(DefaultOutputLimits())
	spec := tool.Spec()

	if spec.Name != ExecuteToolName {
		t.Errorf("expected name %q, got %q", ExecuteToolName, spec.Name)
	}
	if spec.Schema == nil {
		t.Fatal("spec should have a schema")
	}

	props, ok := spec.Schema["properties"].(map[string]interface{})
	if !ok {
		t.Fatal("schema should have properties")
	}
	for _, p := range []string{"command", "working_dir", "timeout_seconds", "env"} {
		if _, ok := props[p]; !ok {
			t.Errorf("schema should have %s property", p)
		}
	}
}

func TestExecuteTool_Preview(t *testing.T) {
	tool := NewExecuteTool(DefaultOutputLimits())

	tests := []struct {
		name     string
		args     json.RawMessage
		expected string
	}{
		{"short command", mustMarshalExecArgs(ExecuteArgs{Command: "echo hello"}), "echo hello"},
		{"description wins over command", mustMarshalExecArgs(ExecuteArgs{Command: "echo hello", Description: "say hi"}), "say hi"},
		{"empty command", mustMarshalExecArgs(ExecuteArgs{Command: ""}), ""},
		{"invalid JSON", json.RawMessage(`{invalid}`), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tool.Preview(tt.args); result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestExecuteTool_Execute(t *testing.T) {
	tool := NewExecuteTool(DefaultOutputLimits())

	tests := []struct {
		name     string
		args     json.RawMessage
		wantOut  string
		wantExit string
		wantErr  string
	}{
		{name: "successful command", args: mustMarshalExecArgs(ExecuteArgs{Command: "echo hello"}), wantOut: "hello", wantExit: "exit_code: 0"},
		{name: "stderr captured", args: mustMarshalExecArgs(ExecuteArgs{Command: "echo err >&2"}), wantOut: "err", wantExit: "exit_code: 0"},
		{name: "non-zero exit code", args: mustMarshalExecArgs(ExecuteArgs{Command: "exit 7"}), wantExit: "exit_code: 7"},
		{name: "missing command", args: mustMarshalExecArgs(ExecuteArgs{Command: ""}), wantErr: "command is required"},
		{name: "invalid JSON", args: json.RawMessage(`{invalid}`), wantErr: "Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := tool.Execute(context.Background(), tt.args)
			if err != nil {
				t.Fatalf("Execute returned error: %v", err)
			}
			text := output.Content
			if tt.wantErr != "" {
				if !strings.Contains(text, tt.wantErr) {
					t.Errorf("expected error containing %q, got: %s", tt.wantErr, text)
				}
				return
			}
			if tt.wantOut != "" && !strings.Contains(text, tt.wantOut) {
				t.Errorf("expected output containing %q, got: %s", tt.wantOut, text)
			}
			if tt.wantExit != "" && !strings.Contains(text, tt.wantExit) {
				t.Errorf("expected %q in output, got: %s", tt.wantExit, text)
			}
		})
	}
}

func TestExecuteTool_EnvOverride(t *testing.T) {
	tool := NewExecuteTool(DefaultOutputLimits())
	args := mustMarshalExecArgs(ExecuteArgs{
		Command: "echo $FOO",
		Env:     EnvMap{"FOO": "bar"},
	})
	output, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !strings.Contains(output.Content, "bar") {
		t.Errorf("expected env override in output, got: %s", output.Content)
	}
}

func TestExecuteTool_Timeout(t *testing.T) {
	tool := NewExecuteTool(DefaultOutputLimits())
	args := mustMarshalExecArgs(ExecuteArgs{Command: "sleep 10", TimeoutSeconds: 1})
	output, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !strings.Contains(output.Content, "[Command timed out]") {
		t.Errorf("expected timeout marker in output, got: %s", output.Content)
	}
}

func TestExecuteTool_OutputTruncation(t *testing.T) {
	limits := OutputLimits{MaxBytes: 10}
	tool := NewExecuteTool(limits)
	args := mustMarshalExecArgs(ExecuteArgs{Command: "echo 'aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa'"})
	output, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !strings.Contains(output.Content, "[Output truncated due to size limit]") {
		t.Errorf("expected truncation message in output, got: %s", output.Content)
	}
}

// fakeOutputSink collects streamed chunks for assertions, guarded by a
// mutex since os/exec copies stdout and stderr on separate goroutines.
type fakeOutputSink struct {
	mu     sync.Mutex
	chunks []struct {
		stream string
		data   string
	}
}

func (s *fakeOutputSink) Write(stream string, chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, struct {
		stream string
		data   string
	}{stream, string(chunk)})
}

func (s *fakeOutputSink) combined(stream string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sb strings.Builder
	for _, c := range s.chunks {
		if c.stream == stream {
			sb.WriteString(c.data)
		}
	}
	return sb.String()
}

func TestExecuteTool_OutputSink(t *testing.T) {
	tool := NewExecuteTool(DefaultOutputLimits())
	sink := &fakeOutputSink{}
	ctx := llm.ContextWithOutputSink(context.Background(), sink)

	args := mustMarshalExecArgs(ExecuteArgs{Command: "echo out; echo err >&2"})
	output, err := tool.Execute(ctx, args)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !strings.Contains(output.Content, "out") {
		t.Errorf("expected buffered stdout in final result, got: %s", output.Content)
	}
	if !strings.Contains(sink.combined("stdout"), "out") {
		t.Errorf("expected stdout streamed to sink, got chunks: %+v", sink.chunks)
	}
	if !strings.Contains(sink.combined("stderr"), "err") {
		t.Errorf("expected stderr streamed to sink, got chunks: %+v", sink.chunks)
	}
}

func TestExecuteTool_OutputSink_NoneAttached(t *testing.T) {
	tool := NewExecuteTool(DefaultOutputLimits())
	output, err := tool.Execute(context.Background(), mustMarshalExecArgs(ExecuteArgs{Command: "echo hello"}))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !strings.Contains(output.Content, "hello") {
		t.Errorf("expected buffered output without a sink attached, got: %s", output.Content)
	}
}

func TestEnvMap_UnmarshalJSON(t *testing.T) {
	t.Run("object form", func(t *testing.T) {
		var e EnvMap
		if err := json.Unmarshal([]byte(`{"A":"1","B":"2"}`), &e); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if e["A"] != "1" || e["B"] != "2" {
			t.Errorf("unexpected map: %v", e)
		}
	})

	t.Run("array-of-pairs form", func(t *testing.T) {
		var e EnvMap
		if err := json.Unmarshal([]byte(`[{"key":"A","value":"1"},{"key":"B","value":"2"}]`), &e); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if e["A"] != "1" || e["B"] != "2" {
			t.Errorf("unexpected map: %v", e)
		}
	})

	t.Run("array form with empty key errors", func(t *testing.T) {
		var e EnvMap
		if err := json.Unmarshal([]byte(`[{"key":"","value":"1"}]`), &e); err == nil {
			t.Error("expected error for empty key")
		}
	})
}

func mustMarshalExecArgs(args ExecuteArgs) json.RawMessage {
	data, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return data
}
