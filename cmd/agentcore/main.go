// Package main is the agentcore process entrypoint: it wires the agent
// config, tool catalog, MCP manager and Anthropic provider into a turn
// engine, then starts the ACP bridge on stdio. Grounded on the teacher's
// cmd/root.go (cobra.Command + Execute()) and cmd/serve.go (flag-heavy
// command that assembles config/llm/mcp/tools before serving).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fluxterm/agentcore/internal/acp"
	"github.com/fluxterm/agentcore/internal/config"
	ctxmgr "github.com/fluxterm/agentcore/internal/context"
	"github.com/fluxterm/agentcore/internal/conversation"
	"github.com/fluxterm/agentcore/internal/debuglog"
	"github.com/fluxterm/agentcore/internal/llm"
	"github.com/fluxterm/agentcore/internal/mcp"
	"github.com/fluxterm/agentcore/internal/session"
	"github.com/fluxterm/agentcore/internal/toolcat"
	"github.com/fluxterm/agentcore/internal/tools"
	"github.com/fluxterm/agentcore/internal/turn"
	"github.com/fluxterm/agentcore/internal/usage"
)

var (
	flagAgent      string
	flagModel      string
	flagCredential string
	flagDebug      bool
	flagLogLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "agentcore",
	Short: "ACP-speaking coding agent engine",
	Long: `agentcore drives a conversation-turn engine over stdio using the
Agent Client Protocol (ACP): an IDE or other ACP client sends JSON-RPC
requests on stdin and receives responses/notifications on stdout, one
session per workspace.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVar(&flagAgent, "agent", "default", "Agent config name to load")
	rootCmd.Flags().StringVar(&flagModel, "model", "claude-sonnet-4-20250514", "Anthropic model id")
	rootCmd.Flags().StringVar(&flagCredential, "credential", llm.AnthropicCredAuto, "Credential mode: auto, api_key, env")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "Write JSONL request/event traces per session")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "slog level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := newLogger(flagLogLevel)

	kvStore, err := session.OpenKVStore("")
	if err != nil {
		logger.Warn("failed to open state database, continuing without persistence", "error", err)
		kvStore = nil
	}
	if kvStore != nil {
		defer kvStore.Close()
	}

	var sessionStore session.Store
	sqliteStore, err := session.NewSQLiteStore(session.DefaultConfig())
	if err != nil {
		logger.Warn("failed to open session database, turns will not be persisted", "error", err)
		sessionStore = &session.NoopStore{}
	} else {
		sessionStore = sqliteStore
		defer sqliteStore.Close()
	}

	factory := func(ctx context.Context, workspace string) (*turn.Engine, error) {
		return buildEngine(ctx, workspace, logger, sessionStore)
	}

	conn := acp.NewConn(os.Stdin, os.Stdout, logger)
	server := acp.NewServer(conn, flagAgent, factory, logger)

	logger.Info("agentcore starting", "agent", flagAgent, "model", flagModel)
	if err := server.Run(); err != nil {
		return fmt.Errorf("acp server: %w", err)
	}
	return nil
}

// buildEngine assembles one turn.Engine for a new_session call: load the
// agent snapshot, build the native+MCP tool catalog under the snapshot's
// permission policy, build the context manager rooted at workspace, and
// wrap the Anthropic provider with a debug logger when --debug is set.
func buildEngine(ctx context.Context, workspace string, logger *slog.Logger, sessionStore session.Store) (*turn.Engine, error) {
	snapshot, loadErrs := config.Load(workspace, flagAgent)
	for _, e := range loadErrs {
		logger.Warn("agent config load issue", "error", e)
	}

	toolConfig := tools.ToolConfig{
		Enabled:         snapshot.Tools,
		ShellAutoRunEnv: "AGENTCORE_ALLOW_AUTORUN",
		WatchDebounceMs: 300,
	}
	if len(toolConfig.Enabled) == 0 {
		toolConfig = tools.DefaultToolConfig()
	}
	registry, err := tools.NewLocalToolRegistry(toolConfig)
	if err != nil {
		return nil, fmt.Errorf("build tool registry: %w", err)
	}

	mcpMgr := mcp.NewManager()
	servers, err := config.ResolveMCPServers(workspace, snapshot)
	if err != nil {
		return nil, fmt.Errorf("resolve mcp servers: %w", err)
	}
	mcpMgr.SetConfig(mcp.NewConfig(servers))
	for _, name := range mcpMgr.AvailableServers() {
		if err := mcpMgr.Enable(ctx, name); err != nil {
			logger.Warn("mcp server failed to start", "server", name, "error", err)
		}
	}

	policy := snapshot.Policy()
	catalog := toolcat.NewCatalog(registry, mcpMgr, policy)
	catalog.SetAliases(snapshot.ToolAliases)
	catalog.Rebuild()

	ctxMgr := ctxmgr.NewManager(workspace, logger)

	state := conversation.NewState(snapshot)
	inputLimit := llm.InputLimitForModel(flagModel)
	state.SetCompaction(inputLimit, conversation.DefaultCompactionConfig())

	provider, err := llm.NewAnthropicProvider(os.Getenv("ANTHROPIC_API_KEY"), flagModel, flagCredential)
	if err != nil {
		return nil, fmt.Errorf("build anthropic provider: %w", err)
	}

	var wrapped llm.Provider = provider
	if flagDebug {
		debugDir, dirErr := debugLogDir()
		if dirErr != nil {
			logger.Warn("could not resolve debug log directory, debug logging disabled", "error", dirErr)
		} else {
			sessionLogger, logErr := debuglog.NewLogger(debugDir, debugSessionID(workspace))
			if logErr != nil {
				logger.Warn("could not open debug log, debug logging disabled", "error", logErr)
			} else {
				wrapped = debuglog.WrapProvider(provider, sessionLogger)
			}
		}
	}

	engine := turn.NewEngine(wrapped, flagModel, catalog, ctxMgr, state, snapshot)
	engine.SetTurnCompletedCallback(persistTurn(sessionStore, workspace, logger))
	return engine, nil
}

// persistTurn builds a turn.TurnCompletedCallback that saves a session's full
// message history incrementally, so a crash mid-turn can resume from the last
// completed turn. The session record is created lazily on first callback
// (rather than up front in buildEngine) since a turn may never complete.
// Grounded on the teacher's incremental saving around TurnCompletedCallback in
// internal/llm/engine.go, adapted to session.Store's ReplaceMessages/
// UpdateMetrics methods.
func persistTurn(store session.Store, workspace string, logger *slog.Logger) turn.TurnCompletedCallback {
	var sessionID string

	return func(ctx context.Context, messages []conversation.Message, totals usage.Totals) error {
		if sessionID == "" {
			sess := &session.Session{
				Mode:     session.ModeACP,
				Provider: "anthropic",
				Model:    flagModel,
				CWD:      workspace,
				Status:   session.StatusActive,
			}
			if err := store.Create(ctx, sess); err != nil {
				logger.Warn("failed to create session record, turn will not be persisted", "error", err)
				return nil
			}
			sessionID = sess.ID
		}

		if err := store.ReplaceMessages(ctx, sessionID, toSessionMessages(sessionID, messages)); err != nil {
			logger.Warn("failed to persist turn messages", "session", sessionID, "error", err)
			return nil
		}
		if err := store.UpdateMetrics(ctx, sessionID, 0, 0, totals.InputTokens, totals.OutputTokens, totals.CacheReadTokens); err != nil {
			logger.Warn("failed to persist turn metrics", "session", sessionID, "error", err)
		}
		return nil
	}
}

// toSessionMessages flattens the turn engine's conversation.Message history
// into session.Message rows for storage. Each conversation.Message kind maps
// to the llm.Role its content would have occupied on the wire: user prompts
// and tool results round-trip as the user side of the exchange, assistant
// turns (with any tool-use blocks) as the assistant side. System summaries
// produced by compaction are stored as assistant messages so they remain
// visible in a resumed transcript.
func toSessionMessages(sessionID string, messages []conversation.Message) []session.Message {
	out := make([]session.Message, 0, len(messages))
	for i, msg := range messages {
		var role llm.Role
		var text string

		switch msg.Kind {
		case conversation.KindUserPrompt:
			role = llm.RoleUser
			text = msg.Text
		case conversation.KindAssistant:
			role = llm.RoleAssistant
			text = msg.AssistantText
		case conversation.KindToolResult:
			role = llm.RoleUser
			text = msg.Payload
		case conversation.KindSystemSummary:
			role = llm.RoleAssistant
			text = msg.Summary
		default:
			continue
		}

		out = append(out, session.Message{
			SessionID:   sessionID,
			Role:        role,
			Parts:       []llm.Part{{Type: llm.PartText, Text: text}},
			TextContent: text,
			Sequence:    i,
		})
	}
	return out
}

func debugLogDir() (string, error) {
	dir, err := session.DefaultKVPath()
	if err != nil {
		return "", err
	}
	return dir + "-debug", nil
}

func debugSessionID(workspace string) string {
	if workspace == "" {
		return "session"
	}
	sanitized := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' {
			return '_'
		}
		return r
	}, workspace)
	return strings.Trim(sanitized, "_")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// Structured logs go to stderr: stdout is reserved for JSON-RPC frames.
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
