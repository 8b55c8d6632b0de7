package cync

import (
	"sync"

	"github.com/cynclan/cync-lan/internal/infrastructure/metrics"
)

// SessionRegistry tracks live sessions in arrival order and elects the
// primary listener. Exactly one session is primary at a time; only the
// primary's status reports reach the state store, which keeps N sessions
// witnessing the same mesh from writing duplicate updates.
//
// Election rule: the first session added is primary. When the primary
// leaves, the earliest surviving session is promoted.
type SessionRegistry struct {
	mu      sync.RWMutex
	order   []*Session
	primary *Session
	logger  Logger
}

// NewSessionRegistry builds an empty registry. logger may be nil.
func NewSessionRegistry(logger Logger) *SessionRegistry {
	if logger == nil {
		logger = noopLogger{}
	}
	return &SessionRegistry{logger: logger}
}

// Add registers s at the end of the arrival order. Returns true when s
// became the primary listener.
func (r *SessionRegistry) Add(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, s)
	metrics.SessionsActive.Set(float64(len(r.order)))
	if r.primary != nil {
		return false
	}
	r.primary = s
	metrics.PrimaryElections.Inc()
	r.logger.Info("primary listener elected", "session", s.ID(), "addr", s.Addr())
	return true
}

// Remove drops s from the registry. If s was primary, the earliest
// surviving session is promoted; promoted is nil when the pool emptied.
func (r *SessionRegistry) Remove(s *Session) (promoted *Session, wasPrimary bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := -1
	for i, cur := range r.order {
		if cur == s {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	r.order = append(r.order[:idx], r.order[idx+1:]...)
	metrics.SessionsActive.Set(float64(len(r.order)))
	if r.primary != s {
		return nil, false
	}
	r.primary = nil
	if len(r.order) > 0 {
		r.primary = r.order[0]
		metrics.PrimaryElections.Inc()
		r.logger.Info("primary listener failover",
			"session", r.primary.ID(), "addr", r.primary.Addr(), "replacing", s.ID())
	}
	return r.primary, true
}

// Primary returns the current primary listener, or nil.
func (r *SessionRegistry) Primary() *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.primary
}

// IsPrimary reports whether s is the current primary listener.
func (r *SessionRegistry) IsPrimary(s *Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.primary == s
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// ReadyCount returns how many sessions can carry control frames.
func (r *SessionRegistry) ReadyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.order {
		if s.Ready() {
			n++
		}
	}
	return n
}

// All returns a snapshot of every session in arrival order.
func (r *SessionRegistry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, len(r.order))
	copy(out, r.order)
	return out
}

// Stats snapshots every session for the diagnostics surfaces.
func (r *SessionRegistry) Stats() []SessionStats {
	sessions := r.All()
	out := make([]SessionStats, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Stats())
	}
	return out
}

// Pick selects up to n sessions for command fan-out, ready sessions
// first, each tier in arrival order.
func (r *SessionRegistry) Pick(n int) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	picked := make([]*Session, 0, n)
	for _, s := range r.order {
		if s.Ready() {
			picked = append(picked, s)
			if len(picked) == n {
				return picked
			}
		}
	}
	for _, s := range r.order {
		if !s.Ready() && s.State() != StateClosed {
			picked = append(picked, s)
			if len(picked) == n {
				return picked
			}
		}
	}
	return picked
}

// FirstReady returns the earliest session able to carry control frames.
func (r *SessionRegistry) FirstReady() (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.order {
		if s.Ready() {
			return s, true
		}
	}
	return nil, false
}
