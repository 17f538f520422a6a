package llm

import (
	"context"
	"io"
	"strings"
)

// eventStream adapts a producer function writing to a channel into the
// Stream interface (Recv/Close), matching the contract providers use to
// turn a blocking SDK streaming call into pull-based Event delivery.
type eventStream struct {
	events <-chan Event
	errc   <-chan error
	cancel context.CancelFunc
	done   bool
}

// newEventStream runs produce in a goroutine and returns a Stream that
// yields whatever Events it sends on the channel, ending once produce
// returns: with produce's error if it returned one, otherwise with io.EOF.
func newEventStream(ctx context.Context, produce func(ctx context.Context, events chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	events := make(chan Event, 16)
	errc := make(chan error, 1)

	go func() {
		defer close(events)
		errc <- produce(ctx, events)
		close(errc)
	}()

	return &eventStream{events: events, errc: errc, cancel: cancel}
}

func (s *eventStream) Recv() (Event, error) {
	if s.done {
		return Event{}, io.EOF
	}
	event, ok := <-s.events
	if !ok {
		s.done = true
		if err := <-s.errc; err != nil {
			return Event{}, err
		}
		return Event{}, io.EOF
	}
	return event, nil
}

func (s *eventStream) Close() error {
	s.cancel()
	return nil
}

// chooseModel prefers an explicit per-request model override over the
// provider's configured default.
func chooseModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

// truncate shortens s to at most n runes, appending an ellipsis marker.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// modelInputLimits maps known model name substrings to their context window,
// in tokens. Unrecognized models fall back to a conservative default.
var modelInputLimits = []struct {
	substr string
	limit  int
}{
	{"claude-opus-4", 200000},
	{"claude-sonnet-4", 200000},
	{"claude-haiku-4", 200000},
}

const defaultInputLimit = 200000

// InputLimitForModel returns the context window size, in tokens, for the
// given model name.
func InputLimitForModel(model string) int {
	lower := strings.ToLower(model)
	for _, entry := range modelInputLimits {
		if strings.Contains(lower, entry.substr) {
			return entry.limit
		}
	}
	return defaultInputLimit
}

// schemaRequired extracts the "required" array from a tool's JSON schema.
func schemaRequired(schema map[string]interface{}) []string {
	raw, ok := schema["required"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
