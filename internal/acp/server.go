package acp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/fluxterm/agentcore/internal/turn"
)

// SessionFactory builds a fresh turn.Engine rooted at workspace, for
// new_session to call. cmd/agentcore supplies this, closing over the agent
// snapshot loading, tool catalog, and MCP manager construction that
// internal/acp has no business knowing about.
type SessionFactory func(ctx context.Context, workspace string) (*turn.Engine, error)

// Server is the ACP bridge (C9): one JSON-RPC connection, a session map
// keyed by UUID, and the method handlers spec.md §4.9 names. Re-implemented
// per spec.md §9's actor-to-state-struct redesign note: the original
// per-session and per-server actor tasks become a state struct (Server,
// session) owned by whichever goroutine is currently handling a request for
// it, with no shared mutable state left unguarded by session.mu.
type Server struct {
	conn       *Conn
	agentName  string
	newSession SessionFactory
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewServer builds an ACP bridge over conn. factory is consulted once per
// new_session call.
func NewServer(conn *Conn, agentName string, factory SessionFactory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		conn:       conn,
		agentName:  agentName,
		newSession: factory,
		logger:     logger.With("component", "acp.server"),
		sessions:   make(map[string]*session),
	}
}

// Run drives the connection's read loop until the input stream closes.
// Each inbound request or notification is dispatched in its own goroutine
// so one session's in-flight prompt cannot stall another session's
// requests; per-session ordering is still enforced by session.promptBusy.
func (s *Server) Run() error {
	return s.conn.ReadLoop(func(req *Request) {
		go s.dispatch(req)
	})
}

func (s *Server) dispatch(req *Request) {
	switch req.Method {
	case "initialize":
		s.reply(req, s.handleInitialize(), nil)
	case "new_session":
		s.replyResult(req, s.handleNewSession(req.Params))
	case "load_session":
		s.replyResult(req, s.handleLoadSession(req.Params))
	case "set_session_mode":
		s.reply(req, nil, errMethodNotFound(req.Method))
	case "prompt":
		// Long-running: handled inline on this request's own goroutine so
		// the read loop (and other sessions' requests) are never blocked.
		result, errPayload := s.handlePrompt(req.Params)
		s.reply(req, result, errPayload)
	case "cancel":
		s.handleCancel(req.Params)
		// notification: no response is sent.
	default:
		if !req.IsNotification() {
			s.reply(req, nil, errMethodNotFound(req.Method))
		}
	}
}

func (s *Server) reply(req *Request, result any, errPayload *ErrorPayload) {
	if req.IsNotification() {
		return
	}
	if err := s.conn.SendResponse(req.ID, result, errPayload); err != nil {
		s.logger.Warn("failed to write response", "method", req.Method, "error", err)
	}
}

func (s *Server) replyResult(req *Request, result any, err error) {
	if err != nil {
		s.reply(req, nil, errInternal(err.Error()))
		return
	}
	s.reply(req, result, nil)
}

func (s *Server) handleInitialize() *InitializeResult {
	return &InitializeResult{
		ProtocolVersion:   ProtocolVersion,
		AgentCapabilities: AgentCapabilities{LoadSession: true},
	}
}

func (s *Server) handleNewSession(raw json.RawMessage) (*NewSessionResult, error) {
	var params NewSessionParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("invalid new_session params: %w", err)
	}
	if params.Cwd == "" {
		return nil, fmt.Errorf("cwd is required")
	}

	engine, err := s.newSession(context.Background(), params.Cwd)
	if err != nil {
		return nil, fmt.Errorf("construct turn engine: %w", err)
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = newSession(id, engine)
	s.mu.Unlock()

	return &NewSessionResult{SessionID: id}, nil
}

func (s *Server) handleLoadSession(raw json.RawMessage) (*LoadSessionResult, error) {
	var params LoadSessionParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("invalid load_session params: %w", err)
	}

	s.mu.Lock()
	_, ok := s.sessions[params.SessionID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown session id %q", params.SessionID)
	}
	return &LoadSessionResult{SessionID: params.SessionID}, nil
}

func (s *Server) handlePrompt(raw json.RawMessage) (*PromptResult, *ErrorPayload) {
	var params PromptParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, errInvalidParams(fmt.Sprintf("invalid prompt params: %v", err))
	}

	s.mu.Lock()
	sess, ok := s.sessions[params.SessionID]
	s.mu.Unlock()
	if !ok {
		return nil, errInvalidParams(fmt.Sprintf("unknown session id %q", params.SessionID))
	}

	if !sess.tryBeginPrompt() {
		return nil, errInvalidParams("a prompt is already in flight for this session")
	}
	defer sess.endPrompt()

	var text string
	for _, block := range params.Content {
		if block.Type != "text" {
			s.logger.Warn("skipping non-text prompt content block", "type", block.Type)
			continue
		}
		text += block.Text
	}

	stop, err := sess.runPrompt(context.Background(), s.conn, text)
	if err != nil && stop == "" {
		return nil, errInternal(err.Error())
	}
	return &PromptResult{StopReason: stop}, nil
}

func (s *Server) handleCancel(raw json.RawMessage) {
	var params CancelParams
	if err := json.Unmarshal(raw, &params); err != nil {
		s.logger.Warn("invalid cancel params", "error", err)
		return
	}
	s.mu.Lock()
	sess, ok := s.sessions[params.SessionID]
	s.mu.Unlock()
	if !ok {
		return
	}
	sess.engine.Cancel()
}
