// Package toolcat merges the native built-in tool set (internal/tools) and
// every connected MCP server's tool catalog (internal/mcp) into one flat
// namespace, resolves name collisions, applies tool_aliases rewrites, and
// gates every call through internal/permission before it reaches a tool's
// Execute method.
package toolcat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fluxterm/agentcore/internal/llm"
	"github.com/fluxterm/agentcore/internal/mcp"
	"github.com/fluxterm/agentcore/internal/permission"
	"github.com/fluxterm/agentcore/internal/tools"
)

// Origin identifies where a catalog entry's tool implementation came from.
type Origin int

const (
	OriginNative Origin = iota
	OriginMCP
)

func (o Origin) String() string {
	if o == OriginMCP {
		return "mcp"
	}
	return "native"
}

// Entry is one row of the merged tool catalog.
type Entry struct {
	Name   string // the flat, collision-resolved name tools are called by
	Origin Origin
	Server string // MCP server name; empty for native tools
	Tool   llm.Tool
}

// AskRequired is returned by Dispatch when permission.Evaluate yields Ask.
// internal/turn catches this, runs the ACP session/request_permission round
// trip, and on approval re-invokes Dispatch after recording the decision
// with RecordAskDecision so the same call isn't re-prompted within the turn.
type AskRequired struct {
	ToolName string
	Args     json.RawMessage
}

func (e *AskRequired) Error() string {
	return fmt.Sprintf("tool %s requires approval", e.ToolName)
}

// Catalog is the merged, permission-gated view of every tool available to a
// turn: native tools always win name collisions; among MCP servers the one
// whose name sorts first keeps the bare name (load order is not tracked),
// and the others' duplicates are exposed as "<server>___<tool>" (triple
// underscore).
type Catalog struct {
	native *tools.LocalToolRegistry
	mcpMgr *mcp.Manager
	policy permission.Policy

	mu      sync.RWMutex
	entries map[string]Entry
	aliases map[string]string

	askMu    sync.Mutex
	askCache map[string]bool // "<tool>:<args>" -> approved, this session only
}

// NewCatalog builds a Catalog over a native tool registry and an MCP
// manager, evaluated against policy. Call Rebuild once both have tools
// registered/connected, and again whenever mcpMgr's catalog changes
// (internal/mcp's SetCatalogChangedFunc is the hook for that).
func NewCatalog(native *tools.LocalToolRegistry, mcpMgr *mcp.Manager, policy permission.Policy) *Catalog {
	return &Catalog{
		native:   native,
		mcpMgr:   mcpMgr,
		policy:   policy,
		entries:  make(map[string]Entry),
		aliases:  make(map[string]string),
		askCache: make(map[string]bool),
	}
}

// SetAliases installs a flat tool_aliases rewrite table (alias -> real
// name), applied before catalog lookup in Dispatch/Get.
func (c *Catalog) SetAliases(aliases map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aliases = aliases
}

// SetPolicy replaces the permission policy evaluated on every Dispatch call.
func (c *Catalog) SetPolicy(policy permission.Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = policy
}

// Rebuild recomputes the merged flat namespace from the native registry and
// the MCP manager's current per-server catalogs.
func (c *Catalog) Rebuild() {
	entries := make(map[string]Entry)

	for _, name := range c.native.GetSpecs() {
		tool, ok := c.native.Get(name.Name)
		if !ok {
			continue
		}
		entries[name.Name] = Entry{Name: name.Name, Origin: OriginNative, Tool: tool}
	}

	if c.mcpMgr != nil {
		servers := c.mcpMgr.AllTools()
		sort.Slice(servers, func(i, j int) bool { return servers[i].Server < servers[j].Server })
		for _, st := range servers {
			for _, spec := range st.Tools {
				exposed := spec.Name
				if _, collides := entries[exposed]; collides {
					exposed = fmt.Sprintf("%s___%s", st.Server, spec.Name)
				}
				if _, stillCollides := entries[exposed]; stillCollides {
					// Both the bare and the fully-qualified name are taken;
					// the entry added earlier (native, or a server that
					// sorted first) keeps it, this one is dropped.
					continue
				}
				tool := mcp.NewMCPTool(c.mcpMgr, st.Server, spec, exposed)
				entries[exposed] = Entry{Name: exposed, Origin: OriginMCP, Server: st.Server, Tool: tool}
			}
		}
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
}

// resolve applies the alias table, then returns the catalog entry for the
// resulting name.
func (c *Catalog) resolve(name string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if real, ok := c.aliases[name]; ok {
		name = real
	}
	entry, ok := c.entries[name]
	return entry, ok
}

// Specs returns the tool specs of the merged catalog, for inclusion in the
// model's tool list.
func (c *Catalog) Specs() []llm.ToolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	specs := make([]llm.ToolSpec, 0, len(c.entries))
	for _, e := range c.entries {
		specs = append(specs, e.Tool.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// PendingClients exposes the MCP manager's still-loading servers, so a
// caller can warn the model its MCP tool list may grow mid-session.
func (c *Catalog) PendingClients() []string {
	if c.mcpMgr == nil {
		return nil
	}
	return c.mcpMgr.PendingClients()
}

// Get returns the resolved entry for name, applying aliases.
func (c *Catalog) Get(name string) (Entry, bool) {
	return c.resolve(name)
}

// WatchEvents exposes the native fs_watch tool's event channel, so
// internal/turn can drain pushed file-change notifications between tool
// loop iterations. Returns false if fs_watch isn't enabled in this catalog.
func (c *Catalog) WatchEvents() (<-chan tools.FileChangeEvent, bool) {
	entry, ok := c.resolve(tools.WatchToolName)
	if !ok {
		return nil, false
	}
	wt, ok := entry.Tool.(*tools.WatchTool)
	if !ok {
		return nil, false
	}
	return wt.Events(), true
}

// RecordAskDecision remembers the outcome of an interactive approval for
// (toolName, args) for the remainder of the session, so a repeated identical
// call is not re-prompted.
func (c *Catalog) RecordAskDecision(toolName string, args json.RawMessage, approved bool) {
	c.askMu.Lock()
	defer c.askMu.Unlock()
	c.askCache[askCacheKey(toolName, args)] = approved
}

// Dispatch resolves name (through aliases), evaluates the permission policy,
// and executes the tool if allowed. A Deny decision returns an error
// ToolOutput without executing anything; an Ask decision not already
// recorded via RecordAskDecision returns *AskRequired for the caller (the
// turn engine) to resolve interactively.
func (c *Catalog) Dispatch(ctx context.Context, name string, args json.RawMessage) (llm.ToolOutput, error) {
	entry, ok := c.resolve(name)
	if !ok {
		return llm.ErrorOutput(fmt.Sprintf("unknown tool: %s", name)), nil
	}

	c.mu.RLock()
	policy := c.policy
	c.mu.RUnlock()

	decision := permission.Evaluate(entry.Name, args, policy)
	switch decision {
	case permission.Deny:
		return llm.ErrorOutput(fmt.Sprintf("tool %s is not permitted by the current policy", name)), nil
	case permission.Ask:
		c.askMu.Lock()
		approved := c.askCache[askCacheKey(entry.Name, args)]
		c.askMu.Unlock()
		if !approved {
			return llm.ToolOutput{}, &AskRequired{ToolName: entry.Name, Args: args}
		}
	}

	return entry.Tool.Execute(ctx, args)
}

func askCacheKey(toolName string, args json.RawMessage) string {
	var b strings.Builder
	b.WriteString(toolName)
	b.WriteByte(':')
	b.Write(args)
	return b.String()
}
