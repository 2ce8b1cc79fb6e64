package agent

import (
	"sync"

	"github.com/nextlevelbuilder/betclaw/internal/classifier"
)

// Accumulator keeps one conversation's messages in delivery order.
type Accumulator struct {
	mu      sync.Mutex
	entries []classifier.Turn
	limit   int // 0 = unbounded
}

// NewAccumulator creates an accumulator that keeps at most limit entries,
// dropping the oldest. limit <= 0 keeps everything.
func NewAccumulator(limit int) *Accumulator {
	return &Accumulator{limit: limit}
}

// Append records a message from sender.
func (a *Accumulator) Append(sender, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = append(a.entries, classifier.Turn{Sender: sender, Text: text})
	if a.limit > 0 && len(a.entries) > a.limit {
		trimmed := make([]classifier.Turn, a.limit)
		copy(trimmed, a.entries[len(a.entries)-a.limit:])
		a.entries = trimmed
	}
}

// Snapshot returns a copy of the entries in delivery order.
func (a *Accumulator) Snapshot() []classifier.Turn {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]classifier.Turn, len(a.entries))
	copy(out, a.entries)
	return out
}

// Len returns the number of entries held.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
