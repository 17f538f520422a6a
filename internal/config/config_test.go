package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fluxterm/agentcore/internal/mcp"
)

func TestDefaultSnapshot(t *testing.T) {
	snap := defaultSnapshot("")
	if snap.Name != "default" {
		t.Fatalf("name=%q, want %q", snap.Name, "default")
	}
	if len(snap.Tools) == 0 {
		t.Fatal("expected default tool list to be non-empty")
	}
}

func TestPolicy(t *testing.T) {
	snap := &AgentSnapshot{
		AllowedTools: []string{"fs_read", "ls"},
	}
	policy := snap.Policy()
	if !policy.AllowedTools["fs_read"] || !policy.AllowedTools["ls"] {
		t.Fatalf("expected fs_read and ls allowed, got %+v", policy.AllowedTools)
	}
	if policy.AllowedTools["execute_cmd"] {
		t.Fatal("did not expect execute_cmd to be allowed")
	}
}

func TestLoad_NoFilesPresent(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	workspace := t.TempDir()

	snap, errs := Load(workspace, "myagent")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if snap.Name != "myagent" {
		t.Fatalf("name=%q, want %q", snap.Name, "myagent")
	}
}

func TestLoad_WorkspaceOverridesGlobal(t *testing.T) {
	xdgHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdgHome)
	workspace := t.TempDir()

	globalDir := filepath.Join(xdgHome, "agentcore", "agents")
	if err := os.MkdirAll(globalDir, 0o755); err != nil {
		t.Fatal(err)
	}
	globalSnap := AgentSnapshot{
		Name:         "myagent",
		SystemPrompt: "global prompt",
		Tools:        []string{"fs_read"},
	}
	writeJSON(t, filepath.Join(globalDir, "myagent.json"), globalSnap)

	wsDir := filepath.Join(workspace, ".amazonq", "agents")
	if err := os.MkdirAll(wsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	wsSnap := AgentSnapshot{
		SystemPrompt: "workspace prompt",
	}
	writeJSON(t, filepath.Join(wsDir, "myagent.json"), wsSnap)

	snap, errs := Load(workspace, "myagent")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if snap.SystemPrompt != "workspace prompt" {
		t.Fatalf("systemPrompt=%q, want %q (workspace should override global)", snap.SystemPrompt, "workspace prompt")
	}
	if len(snap.Tools) != 1 || snap.Tools[0] != "fs_read" {
		t.Fatalf("expected global Tools to survive unreplaced, got %v", snap.Tools)
	}
}

func TestLoad_InvalidJSONReported(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	workspace := t.TempDir()
	wsDir := filepath.Join(workspace, ".amazonq", "agents")
	if err := os.MkdirAll(wsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(wsDir, "default.json"), []byte("{not valid json"), 0o644); err != nil {
		t.Fatal(err)
	}

	snap, errs := Load(workspace, "")
	if len(errs) == 0 {
		t.Fatal("expected a load error for invalid JSON")
	}
	if snap == nil || snap.Name != "default" {
		t.Fatal("expected a usable default snapshot despite the load error")
	}
}

func TestResolveMCPServers_DirectOnly(t *testing.T) {
	snap := &AgentSnapshot{
		MCPServers: map[string]mcp.ServerConfig{
			"git": {Command: "mcp-server-git"},
		},
	}
	servers, err := ResolveMCPServers("", snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(servers))
	}
}

func TestResolveMCPServers_LegacyWorkspaceOverridesGlobal(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	workspace := t.TempDir()

	globalDir := filepath.Join(home, ".aws", "amazonq")
	if err := os.MkdirAll(globalDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeJSON(t, filepath.Join(globalDir, "mcp.json"), mcp.Config{
		Servers: map[string]mcp.ServerConfig{
			"git": {Command: "global-git"},
			"db":  {Command: "global-db"},
		},
	})

	wsDir := filepath.Join(workspace, ".amazonq")
	if err := os.MkdirAll(wsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeJSON(t, filepath.Join(wsDir, "mcp.json"), mcp.Config{
		Servers: map[string]mcp.ServerConfig{
			"git": {Command: "workspace-git"},
		},
	})

	snap := &AgentSnapshot{UseLegacyMcpJSON: true}
	servers, err := ResolveMCPServers(workspace, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if servers["git"].Command != "workspace-git" {
		t.Fatalf("git command=%q, want %q (workspace should override global)", servers["git"].Command, "workspace-git")
	}
	if servers["db"].Command != "global-db" {
		t.Fatalf("db command=%q, want %q (global-only server should survive)", servers["db"].Command, "global-db")
	}
}

func writeJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}
