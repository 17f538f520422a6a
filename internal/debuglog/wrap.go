package debuglog

import (
	"context"

	"github.com/fluxterm/agentcore/internal/llm"
)

// WrapProvider decorates inner so every request/event it handles is also
// appended to logger, without changing its observed behavior. Grounded on
// the teacher's llm.WrapDebugStream/debugStream pair. A nil logger (debug
// logging disabled) makes this a no-op passthrough.
func WrapProvider(inner llm.Provider, logger *Logger) llm.Provider {
	if logger == nil {
		return inner
	}
	return &loggingProvider{inner: inner, logger: logger}
}

type loggingProvider struct {
	inner  llm.Provider
	logger *Logger
}

func (p *loggingProvider) Name() string                    { return p.inner.Name() }
func (p *loggingProvider) Credential() string               { return p.inner.Credential() }
func (p *loggingProvider) Capabilities() llm.Capabilities   { return p.inner.Capabilities() }

func (p *loggingProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	p.logger.LogRequest(p.inner.Name(), req.Model, req)
	stream, err := p.inner.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return &loggingStream{inner: stream, logger: p.logger}, nil
}

type loggingStream struct {
	inner  llm.Stream
	logger *Logger
}

func (s *loggingStream) Recv() (llm.Event, error) {
	event, err := s.inner.Recv()
	if err == nil {
		s.logger.LogEvent(event)
	}
	return event, err
}

func (s *loggingStream) Close() error { return s.inner.Close() }
