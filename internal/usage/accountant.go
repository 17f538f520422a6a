package usage

import "sync"

// Accountant tracks the running token counts for one live session. It is
// held by internal/conversation.State, which resets it when Compact runs;
// the turn engine adds usage figures to it and hands a snapshot to its
// TurnCompletedCallback. This is distinct from the UsageEntry/aggregation
// machinery elsewhere in this package, which reports on
// completed, persisted history; Accountant only ever holds the current
// session's in-memory running totals.
type Accountant struct {
	mu sync.Mutex

	inputTokens      int
	outputTokens     int
	cacheReadTokens  int
	cacheWriteTokens int
}

// Totals is a point-in-time read of an Accountant's running counts.
type Totals struct {
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
}

// Total returns the sum of every tracked token kind.
func (t Totals) Total() int {
	return t.InputTokens + t.OutputTokens + t.CacheReadTokens + t.CacheWriteTokens
}

// Add accumulates one API response's usage figures into the running totals.
func (a *Accountant) Add(input, output, cacheRead, cacheWrite int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inputTokens += input
	a.outputTokens += output
	a.cacheReadTokens += cacheRead
	a.cacheWriteTokens += cacheWrite
}

// Snapshot returns the current running totals.
func (a *Accountant) Snapshot() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Totals{
		InputTokens:      a.inputTokens,
		OutputTokens:     a.outputTokens,
		CacheReadTokens:  a.cacheReadTokens,
		CacheWriteTokens: a.cacheWriteTokens,
	}
}

// Reset clears the running totals, used after a compaction collapses the
// history this accountant was tracking.
func (a *Accountant) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inputTokens = 0
	a.outputTokens = 0
	a.cacheReadTokens = 0
	a.cacheWriteTokens = 0
}
