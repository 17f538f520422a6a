// Package config loads the per-agent configuration that seeds a session:
// system prompt, tool policy, context rules, hooks, and MCP server
// definitions. Layered merge (workspace overrides global) follows the
// teacher's internal/config/config.go viper.New()-per-file pattern.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fluxterm/agentcore/internal/mcp"
	"github.com/fluxterm/agentcore/internal/permission"
	"github.com/spf13/viper"
)

// HookCommand is one shell command run for a hook trigger.
type HookCommand struct {
	Command string `mapstructure:"command" json:"command"`
	Timeout int    `mapstructure:"timeout" json:"timeout"` // seconds, 0 = tool's own default
}

// AgentSnapshot is the immutable per-session configuration: system prompt,
// permission policy, tool aliases, context rules, hooks, MCP server
// definitions. Loaded once at session start from a JSON agent config file.
type AgentSnapshot struct {
	Name             string                            `mapstructure:"name" json:"name"`
	Description      string                            `mapstructure:"description" json:"description"`
	SystemPrompt     string                            `mapstructure:"systemPrompt" json:"systemPrompt"`
	Tools            []string                          `mapstructure:"tools" json:"tools"`
	ToolAliases      map[string]string                 `mapstructure:"toolAliases" json:"toolAliases"`
	AllowedTools     []string                          `mapstructure:"allowedTools" json:"allowedTools"`
	ToolsSettings    map[string]permission.PathPolicy  `mapstructure:"toolsSettings" json:"toolsSettings"`
	Resources        []string                          `mapstructure:"resources" json:"resources"`
	Hooks            map[string][]HookCommand          `mapstructure:"hooks" json:"hooks"`
	MCPServers       map[string]mcp.ServerConfig        `mapstructure:"mcpServers" json:"mcpServers"`
	UseLegacyMcpJSON bool                               `mapstructure:"useLegacyMcpJson" json:"useLegacyMcpJson"`
}

// Policy builds the permission.Policy this snapshot implies.
func (a *AgentSnapshot) Policy() permission.Policy {
	allowed := make(map[string]bool, len(a.AllowedTools))
	for _, name := range a.AllowedTools {
		allowed[name] = true
	}
	return permission.Policy{AllowedTools: allowed, ToolSettings: a.ToolsSettings}
}

func defaultSnapshot(name string) *AgentSnapshot {
	if name == "" {
		name = "default"
	}
	return &AgentSnapshot{
		Name:        name,
		Description: "Default coding agent",
		Tools:       []string{"fs_read", "fs_write", "ls", "execute_cmd", "image_read", "fs_watch"},
	}
}

// GlobalConfigDir returns the XDG config directory this process reads
// global agent configs and MCP definitions from.
func GlobalConfigDir() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "agentcore"), nil
}

func globalAgentPath(name string) (string, error) {
	dir, err := GlobalConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "agents", name+".json"), nil
}

func workspaceAgentPath(workspace, name string) string {
	return filepath.Join(workspace, ".amazonq", "agents", name+".json")
}

// Load resolves the agent config named agentName: a built-in default,
// overlaid by the user-global config (if present), overlaid by the
// workspace config (if present and workspace is non-empty). Load failures
// are collected and returned alongside the best-effort snapshot rather than
// aborting — spec.md §7's ConfigLoad kind: invalid configs are reported, a
// built-in default keeps the process running.
func Load(workspace, agentName string) (*AgentSnapshot, []error) {
	var errs []error
	snap := defaultSnapshot(agentName)

	if globalPath, err := globalAgentPath(snap.Name); err == nil {
		if loaded, loadErr := loadSnapshotFile(globalPath); loadErr != nil {
			if !os.IsNotExist(loadErr) {
				errs = append(errs, fmt.Errorf("global agent config %s: %w", globalPath, loadErr))
			}
		} else if loaded != nil {
			mergeSnapshot(snap, loaded)
		}
	}

	if workspace != "" {
		wsPath := workspaceAgentPath(workspace, snap.Name)
		if loaded, loadErr := loadSnapshotFile(wsPath); loadErr != nil {
			if !os.IsNotExist(loadErr) {
				errs = append(errs, fmt.Errorf("workspace agent config %s: %w", wsPath, loadErr))
			}
		} else if loaded != nil {
			mergeSnapshot(snap, loaded)
		}
	}

	return snap, errs
}

func loadSnapshotFile(path string) (*AgentSnapshot, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var snap AgentSnapshot
	if err := v.Unmarshal(&snap); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &snap, nil
}

// mergeSnapshot overlays the non-zero fields of overlay onto base.
func mergeSnapshot(base, overlay *AgentSnapshot) {
	if overlay.Name != "" {
		base.Name = overlay.Name
	}
	if overlay.Description != "" {
		base.Description = overlay.Description
	}
	if overlay.SystemPrompt != "" {
		base.SystemPrompt = overlay.SystemPrompt
	}
	if len(overlay.Tools) > 0 {
		base.Tools = overlay.Tools
	}
	if overlay.ToolAliases != nil {
		base.ToolAliases = overlay.ToolAliases
	}
	if len(overlay.AllowedTools) > 0 {
		base.AllowedTools = overlay.AllowedTools
	}
	if overlay.ToolsSettings != nil {
		base.ToolsSettings = overlay.ToolsSettings
	}
	if len(overlay.Resources) > 0 {
		base.Resources = overlay.Resources
	}
	if overlay.Hooks != nil {
		base.Hooks = overlay.Hooks
	}
	if overlay.MCPServers != nil {
		base.MCPServers = overlay.MCPServers
	}
	if overlay.UseLegacyMcpJSON {
		base.UseLegacyMcpJSON = overlay.UseLegacyMcpJSON
	}
}

// ResolveMCPServers returns the MCP servers this snapshot should start:
// servers declared directly on the snapshot, plus (when UseLegacyMcpJSON is
// set) servers discovered from the legacy config paths
// (~/.aws/amazonq/mcp.json, then <workspace>/.amazonq/mcp.json, workspace
// entries overriding global ones), mirroring the teacher's own
// workspace-overrides-global config precedence applied to a different pair
// of paths.
func ResolveMCPServers(workspace string, snap *AgentSnapshot) (map[string]mcp.ServerConfig, error) {
	servers := make(map[string]mcp.ServerConfig, len(snap.MCPServers))
	for name, cfg := range snap.MCPServers {
		servers[name] = cfg
	}

	if !snap.UseLegacyMcpJSON {
		return servers, nil
	}

	home, err := os.UserHomeDir()
	if err == nil {
		globalLegacy := filepath.Join(home, ".aws", "amazonq", "mcp.json")
		if cfg, loadErr := mcp.LoadConfigFromPath(globalLegacy); loadErr == nil {
			for name, server := range cfg.Servers {
				servers[name] = server
			}
		}
	}

	if workspace != "" {
		wsLegacy := filepath.Join(workspace, ".amazonq", "mcp.json")
		if cfg, loadErr := mcp.LoadConfigFromPath(wsLegacy); loadErr == nil {
			for name, server := range cfg.Servers {
				servers[name] = server
			}
		}
	}

	return servers, nil
}
