package bets

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Entry is a snapshot row: a bet with its id and the time it entered its
// current state.
type Entry struct {
	ID    string    `json:"id"`
	Bet   Bet       `json:"bet"`
	Since time.Time `json:"since"`
}

type record struct {
	bet   Bet
	since time.Time
}

// Registry is the single source of truth for bet state in one conversation.
// Every method holds the same mutex, so a transition is never observed half
// applied. Safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	pending   map[string]record
	confirmed map[string]record
	retired   map[string]struct{}
	now       func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		pending:   make(map[string]record),
		confirmed: make(map[string]record),
		retired:   make(map[string]struct{}),
		now:       time.Now,
	}
}

// CreatePending records a new pending bet. It fails with ErrConflict when id
// is pending, confirmed or was used by an earlier bet.
func (r *Registry) CreatePending(id string, bet Bet) error {
	if id == "" {
		return fmt.Errorf("%w: empty bet id", ErrInvalidBet)
	}
	if err := bet.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inUseLocked(id) {
		return fmt.Errorf("create %s: %w", id, ErrConflict)
	}
	r.pending[id] = record{bet: bet, since: r.now()}
	return nil
}

// Confirm moves a bet from pending to confirmed and returns it.
func (r *Registry) Confirm(id string) (Bet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.pending[id]
	if !ok {
		return Bet{}, fmt.Errorf("confirm %s: %w", id, ErrNotFound)
	}
	delete(r.pending, id)
	r.confirmed[id] = record{bet: rec.bet, since: r.now()}
	return rec.bet, nil
}

// Resolve removes a confirmed bet and returns it. Callers only resolve once
// a winner is known; an inconclusive verdict leaves the bet confirmed.
func (r *Registry) Resolve(id string) (Bet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.confirmed[id]
	if !ok {
		return Bet{}, fmt.Errorf("resolve %s: %w", id, ErrNotFound)
	}
	delete(r.confirmed, id)
	r.retired[id] = struct{}{}
	return rec.bet, nil
}

// Pending returns the pending bet with the given id.
func (r *Registry) Pending(id string) (Bet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.pending[id]
	return rec.bet, ok
}

// Confirmed returns the confirmed bet with the given id.
func (r *Registry) Confirmed(id string) (Bet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.confirmed[id]
	return rec.bet, ok
}

// PendingSnapshot returns a copy of the pending bets ordered by creation time.
func (r *Registry) PendingSnapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshot(r.pending)
}

// ConfirmedSnapshot returns a copy of the confirmed bets ordered by
// confirmation time.
func (r *Registry) ConfirmedSnapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshot(r.confirmed)
}

// Counts returns the number of pending and confirmed bets.
func (r *Registry) Counts() (pending, confirmed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending), len(r.confirmed)
}

// ExpirePending drops pending bets created before cutoff and returns them in
// creation order. Expired ids are retired and cannot be reused.
func (r *Registry) ExpirePending(cutoff time.Time) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []Entry
	for id, rec := range r.pending {
		if rec.since.Before(cutoff) {
			expired = append(expired, Entry{ID: id, Bet: rec.bet, Since: rec.since})
			delete(r.pending, id)
			r.retired[id] = struct{}{}
		}
	}
	sortEntries(expired)
	return expired
}

func (r *Registry) inUseLocked(id string) bool {
	if _, ok := r.pending[id]; ok {
		return true
	}
	if _, ok := r.confirmed[id]; ok {
		return true
	}
	_, ok := r.retired[id]
	return ok
}

func snapshot(m map[string]record) []Entry {
	out := make([]Entry, 0, len(m))
	for id, rec := range m {
		out = append(out, Entry{ID: id, Bet: rec.bet, Since: rec.since})
	}
	sortEntries(out)
	return out
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Since.Equal(entries[j].Since) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].Since.Before(entries[j].Since)
	})
}
