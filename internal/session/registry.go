package session

import (
	"context"
	"slices"
	"sync"
)

const defaultHistory = 16

// Registry tracks running sessions and keeps the final stats of recently
// ended ones for the status API.
type Registry struct {
	mu      sync.RWMutex
	active  map[string]*Session
	order   []string
	history []Stats
	keep    int
}

// NewRegistry creates a registry remembering up to keep ended sessions.
func NewRegistry(keep int) *Registry {
	if keep <= 0 {
		keep = defaultHistory
	}
	return &Registry{active: make(map[string]*Session), keep: keep}
}

// Run registers s, runs it and moves it to the history when it ends.
func (r *Registry) Run(ctx context.Context, s *Session) error {
	r.mu.Lock()
	r.active[s.ID()] = s
	r.order = append(r.order, s.ID())
	r.mu.Unlock()

	err := s.Run(ctx)

	final := s.Stats()
	r.mu.Lock()
	delete(r.active, s.ID())
	r.order = slices.DeleteFunc(r.order, func(id string) bool { return id == s.ID() })
	r.history = append([]Stats{final}, r.history...)
	if len(r.history) > r.keep {
		r.history = r.history[:r.keep]
	}
	r.mu.Unlock()
	return err
}

// Get returns the stats of a running or recently ended session.
func (r *Registry) Get(id string) (Stats, bool) {
	r.mu.RLock()
	s, ok := r.active[id]
	if !ok {
		defer r.mu.RUnlock()
		for _, st := range r.history {
			if st.ID == id {
				return st, true
			}
		}
		return Stats{}, false
	}
	r.mu.RUnlock()
	return s.Stats(), true
}

// List returns running sessions in start order followed by ended sessions,
// most recent first.
func (r *Registry) List() []Stats {
	r.mu.RLock()
	running := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		running = append(running, r.active[id])
	}
	history := slices.Clone(r.history)
	r.mu.RUnlock()

	out := make([]Stats, 0, len(running)+len(history))
	for _, s := range running {
		out = append(out, s.Stats())
	}
	return append(out, history...)
}

// Active returns the number of running sessions.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// Lookup returns a running session.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.active[id]
	return s, ok
}
