package stream

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Registry is the mutex-protected set of active sessions. Iteration order is
// insertion order; correctness never depends on it, but stable ordering is
// what makes the reference design's "last session owns the drain"
// optimization expressible.
//
// Go adaptation note: because the []byte chunks handed to fanOut are never
// mutated in place once produced, every session reads the same backing
// array — there is no destructive read for a "last session" to uniquely
// perform. Iterate still reports isLast so callers can special-case the
// final visit for bookkeeping (e.g. logging), but no session is treated
// differently for correctness.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	order    []uuid.UUID
	icyCount int
	closed   bool

	empty atomic.Bool // mirrors len(sessions) == 0 for lock-free fast-path reads
}

// NewRegistry creates an empty, open Registry.
func NewRegistry() *Registry {
	r := &Registry{sessions: make(map[uuid.UUID]*Session)}
	r.empty.Store(true)
	return r
}

// Insert adds a session to the registry. Returns false if the registry has
// already been closed (engine torn down) — the caller must not retain the
// session in that case.
func (r *Registry) Insert(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.sessions[s.ID] = s
	r.order = append(r.order, s.ID)
	if s.icy {
		r.icyCount++
	}
	r.empty.Store(false)
	return true
}

// RemoveByID removes a session. Safe to call even if the session is already
// gone (e.g. a disconnect callback racing with teardown) — a second removal
// is a silent no-op, matching "free only its own reference; do not
// dereference siblings."
func (r *Registry) RemoveByID(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

func (r *Registry) removeLocked(id uuid.UUID) {
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if s.icy {
		r.icyCount--
	}
	r.empty.Store(len(r.sessions) == 0)
	s.Close()
}

// Len returns the current session count.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// IsEmpty is a lock-free fast-path check. The reference design explicitly
// allows this unsynchronized read ("the worst case is a discarded frame
// during teardown").
func (r *Registry) IsEmpty() bool {
	return r.empty.Load()
}

// ICYCount returns the number of sessions with icy == true. Testable
// property: this always equals |{s : s.icy}| after every insert/remove.
func (r *Registry) ICYCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.icyCount
}

// Iterate visits every session in insertion order under the registry
// mutex, invoking fn(session, isLast). fn must not block or re-enter the
// Registry.
func (r *Registry) Iterate(fn func(s *Session, isLast bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.order)
	for i, id := range r.order {
		s := r.sessions[id]
		fn(s, i == n-1)
	}
}

// DrainAll removes every session, closes the registry to further inserts,
// and returns the removed sessions so the caller can send a reply-end to
// each without holding the registry mutex.
func (r *Registry) DrainAll() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, r.sessions[id])
		r.removeLocked(id)
	}
	return out
}

// Close marks the registry permanently closed; subsequent Insert calls
// return false. Used on engine teardown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}
