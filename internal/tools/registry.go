package tools

import (
	"time"

	"github.com/fluxterm/agentcore/internal/llm"
)

// LocalToolRegistry wires the six local tools into the llm engine's tool
// catalog. It carries no permission or approval state of its own — access
// control is evaluated earlier, by internal/permission, before a call ever
// reaches a tool's Execute method.
type LocalToolRegistry struct {
	config ToolConfig
	limits OutputLimits

	tools map[string]llm.Tool
}

// NewLocalToolRegistry builds a registry from configuration, constructing
// and registering every tool named in config.Enabled.
func NewLocalToolRegistry(toolConfig ToolConfig) (*LocalToolRegistry, error) {
	if errs := toolConfig.Validate(); len(errs) > 0 {
		return nil, errs[0]
	}

	r := &LocalToolRegistry{
		config: toolConfig,
		limits: DefaultOutputLimits(),
		tools:  make(map[string]llm.Tool),
	}

	if err := r.registerEnabledTools(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *LocalToolRegistry) registerEnabledTools() error {
	for _, specName := range r.config.Enabled {
		if err := r.registerTool(specName); err != nil {
			return err
		}
	}
	return nil
}

func (r *LocalToolRegistry) registerTool(specName string) error {
	if !ValidToolName(specName) {
		return NewToolErrorf(ErrInvalidParams, "unknown tool: %s", specName)
	}

	var tool llm.Tool

	switch specName {
	case ReadFileToolName:
		tool = NewReadFileTool(r.limits)
	case WriteFileToolName:
		tool = NewWriteFileTool()
	case ListToolName:
		tool = NewListTool(r.limits)
	case ExecuteToolName:
		tool = NewExecuteTool(r.limits)
	case ImageReadToolName:
		tool = NewImageReadTool()
	case WatchToolName:
		debounce := time.Duration(r.config.WatchDebounceMs) * time.Millisecond
		tool = NewWatchTool(debounce)
	default:
		return NewToolErrorf(ErrInvalidParams, "unimplemented tool: %s", specName)
	}

	r.tools[specName] = tool
	return nil
}

// RegisterWith registers all enabled tools into an llm.ToolRegistry. The
// turn loop does not use it; it dispatches through internal/toolcat.
func (r *LocalToolRegistry) RegisterWith(registry *llm.ToolRegistry) {
	for _, tool := range r.tools {
		registry.Register(tool)
	}
}

// GetSpecs returns tool specs for all enabled tools.
func (r *LocalToolRegistry) GetSpecs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.tools))
	for _, tool := range r.tools {
		specs = append(specs, tool.Spec())
	}
	return specs
}

// Get returns a tool by spec name.
func (r *LocalToolRegistry) Get(specName string) (llm.Tool, bool) {
	tool, ok := r.tools[specName]
	return tool, ok
}

// IsEnabled reports whether a tool is enabled in this registry's config.
func (r *LocalToolRegistry) IsEnabled(specName string) bool {
	return r.config.IsToolEnabled(specName)
}

// SetLimits updates the output limits and re-registers the tools that
// consult them.
func (r *LocalToolRegistry) SetLimits(limits OutputLimits) {
	r.limits = limits
	for _, specName := range r.config.Enabled {
		switch specName {
		case ReadFileToolName:
			r.tools[specName] = NewReadFileTool(r.limits)
		case ListToolName:
			r.tools[specName] = NewListTool(r.limits)
		case ExecuteToolName:
			r.tools[specName] = NewExecuteTool(r.limits)
		}
	}
}
