package tools

import (
	"fmt"
	"strings"
)

// ToolConfig holds the ambient (non-permission) configuration of the local
// tool system: which tools are registered and how their output is shaped.
// Path and command allowlists live in internal/permission, evaluated by the
// tool catalog before a call ever reaches these tools.
type ToolConfig struct {
	Enabled         []string `mapstructure:"enabled"`            // Enabled tool spec names
	ShellAutoRunEnv string   `mapstructure:"shell_auto_run_env"`  // Env var that, when "1", skips shell confirmation
	WatchDebounceMs int      `mapstructure:"watch_debounce_ms"`   // fs_watch coalescing window
}

// DefaultToolConfig returns sensible defaults for tool configuration.
func DefaultToolConfig() ToolConfig {
	return ToolConfig{
		Enabled:         AllToolNames(),
		ShellAutoRunEnv: "AGENTCORE_ALLOW_AUTORUN",
		WatchDebounceMs: 300,
	}
}

// Merge combines this config with another, with other taking precedence for non-empty values.
func (c ToolConfig) Merge(other ToolConfig) ToolConfig {
	result := c
	if len(other.Enabled) > 0 {
		result.Enabled = other.Enabled
	}
	if other.ShellAutoRunEnv != "" {
		result.ShellAutoRunEnv = other.ShellAutoRunEnv
	}
	if other.WatchDebounceMs > 0 {
		result.WatchDebounceMs = other.WatchDebounceMs
	}
	return result
}

// Validate checks the configuration for errors.
func (c *ToolConfig) Validate() []error {
	var errs []error
	for _, name := range c.Enabled {
		if !ValidToolName(name) {
			errs = append(errs, fmt.Errorf("unknown tool: %s", name))
		}
	}
	return errs
}

// IsToolEnabled checks if a tool is enabled.
func (c *ToolConfig) IsToolEnabled(specName string) bool {
	for _, name := range c.Enabled {
		if name == specName {
			return true
		}
	}
	return false
}

// EnabledSpecNames returns the spec names for all enabled tools.
func (c *ToolConfig) EnabledSpecNames() []string {
	return c.Enabled
}

// ParseToolsFlag parses a comma-separated list of tool names.
// Special values: "all" or "*" expand to all available tools.
func ParseToolsFlag(value string) []string {
	if value == "" {
		return nil
	}
	trimmed := strings.TrimSpace(value)
	if trimmed == "all" || trimmed == "*" {
		return AllToolNames()
	}
	parts := strings.Split(value, ",")
	var names []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			names = append(names, p)
		}
	}
	return names
}

// OutputLimits defines limits for tool output.
type OutputLimits struct {
	MaxLines       int   // Max lines for fs_read (default 2000)
	MaxBytes       int64 // Max bytes per tool output (default 50KB)
	MaxResults     int   // Max results for ls (default 200)
	CumulativeSoft int64 // Soft cumulative limit per turn (default 100KB)
	CumulativeHard int64 // Hard cumulative limit per turn (default 200KB)
}

// DefaultOutputLimits returns the default output limits.
func DefaultOutputLimits() OutputLimits {
	return OutputLimits{
		MaxLines:       2000,
		MaxBytes:       50 * 1024,
		MaxResults:     200,
		CumulativeSoft: 100 * 1024,
		CumulativeHard: 200 * 1024,
	}
}
