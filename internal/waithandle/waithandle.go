// Package waithandle implements the minimal (pid, job-id, basename,
// status) tuple retained after reap: enough identity to keep `wait` and
// `--on-process-exit` handlers working after a process's Process struct
// is gone from the active job list. Handles live in a
// github.com/hashicorp/golang-lru/v2 cache keyed by pid; the oldest is
// evicted first.
package waithandle

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity bounds the cache for a long-running shell.
const DefaultCapacity = 1024

// Handle is the retained identity of one process, valid after reap.
type Handle struct {
	Pid           int
	InternalJobID uint64
	BaseName      string

	mu     sync.Mutex
	status *int
}

// SetStatus records the process's final status. Idempotent: only the first
// call takes effect, matching Process.completed's "set exactly once"
// invariant.
func (h *Handle) SetStatus(status int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == nil {
		s := status
		h.status = &s
	}
}

// Status returns the recorded status, or ok=false if the process hasn't
// completed yet.
func (h *Handle) Status() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == nil {
		return 0, false
	}
	return *h.status, true
}

// Store is the process-wide pid -> *Handle cache, bounded by an LRU so a
// long-running shell's memory doesn't grow without bound across thousands
// of completed jobs.
type Store struct {
	mu    sync.Mutex
	cache *lru.Cache[int, *Handle]
}

// New creates a Store with capacity (DefaultCapacity if cap <= 0).
func New(cap int) *Store {
	if cap <= 0 {
		cap = DefaultCapacity
	}
	c, _ := lru.New[int, *Handle](cap) // only errors on cap <= 0, already guarded
	return &Store{cache: c}
}

// GetOrCreate returns the existing handle for pid, or lazily creates
// one. Safe for concurrent use since the reaper (main thread) and `wait`
// builtin calls share one Store.
func (s *Store) GetOrCreate(pid int, internalJobID uint64, baseName string) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.cache.Get(pid); ok {
		return h
	}
	h := &Handle{Pid: pid, InternalJobID: internalJobID, BaseName: baseName}
	s.cache.Add(pid, h)
	return h
}

// Lookup returns the handle for pid without creating one.
func (s *Store) Lookup(pid int) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Get(pid)
}

// Len reports how many handles are currently cached.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}
