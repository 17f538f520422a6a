package tools

import (
	"testing"

	"github.com/fluxterm/agentcore/internal/llm"
)

func TestNewLocalToolRegistry(t *testing.T) {
	t.Run("registers all enabled tools", func(t *testing.T) {
		registry, err := NewLocalToolRegistry(DefaultToolConfig())
		if err != nil {
			t.Fatalf("NewLocalToolRegistry returned error: %v", err)
		}
		for _, name := range AllToolNames() {
			if !registry.IsEnabled(name) {
				t.Errorf("expected %s to be enabled", name)
			}
			if _, ok := registry.Get(name); !ok {
				t.Errorf("expected %s to be registered", name)
			}
		}
	})

	t.Run("rejects unknown tool names", func(t *testing.T) {
		cfg := DefaultToolConfig()
		cfg.Enabled = []string{"not_a_real_tool"}
		if _, err := NewLocalToolRegistry(cfg); err == nil {
			t.Error("expected error for unknown tool name")
		}
	})

	t.Run("only registers the configured subset", func(t *testing.T) {
		cfg := DefaultToolConfig()
		cfg.Enabled = []string{ReadFileToolName, ListToolName}
		registry, err := NewLocalToolRegistry(cfg)
		if err != nil {
			t.Fatalf("NewLocalToolRegistry returned error: %v", err)
		}
		if _, ok := registry.Get(WriteFileToolName); ok {
			t.Error("fs_write should not be registered")
		}
		if _, ok := registry.Get(ReadFileToolName); !ok {
			t.Error("fs_read should be registered")
		}
	})
}

func TestLocalToolRegistry_RegisterWith(t *testing.T) {
	registry, err := NewLocalToolRegistry(DefaultToolConfig())
	if err != nil {
		t.Fatalf("NewLocalToolRegistry returned error: %v", err)
	}
	toolRegistry := llm.NewToolRegistry()
	registry.RegisterWith(toolRegistry)

	for _, name := range AllToolNames() {
		if _, ok := toolRegistry.Get(name); !ok {
			t.Errorf("expected %s registered on the llm.ToolRegistry", name)
		}
	}
}

func TestLocalToolRegistry_GetSpecs(t *testing.T) {
	registry, err := NewLocalToolRegistry(DefaultToolConfig())
	if err != nil {
		t.Fatalf("NewLocalToolRegistry returned error: %v", err)
	}
	specs := registry.GetSpecs()
	if len(specs) != len(AllToolNames()) {
		t.Errorf("expected %d specs, got %d", len(AllToolNames()), len(specs))
	}
}

func TestLocalToolRegistry_SetLimits(t *testing.T) {
	registry, err := NewLocalToolRegistry(DefaultToolConfig())
	if err != nil {
		t.Fatalf("NewLocalToolRegistry returned error: %v", err)
	}
	newLimits := OutputLimits{MaxLines: 5, MaxBytes: 100, MaxResults: 1}
	registry.SetLimits(newLimits)
	if registry.limits != newLimits {
		t.Errorf("expected limits to be updated to %v, got %v", newLimits, registry.limits)
	}
}
