// Package topic implements the shell's topic monitor: a small set of
// named, monotonically-increasing generation counters that let the
// execution engine and reaper sleep until "something happened in this
// category" rather than waiting on a specific signal or pid. One counter
// per topic, plus a single self-pipe any number of waiters can block on.
package topic

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/fish-shell/fish-shell-sub008/internal/log"
)

var logger = log.New(os.Stderr, "[topic] ")

// Topic names a category of event. The set is fixed and small.
type Topic int

const (
	SIGCHLD Topic = iota
	SIGHUPINT
	InternalExit
	numTopics
)

func (t Topic) String() string {
	switch t {
	case SIGCHLD:
		return "sigchld"
	case SIGHUPINT:
		return "sighupint"
	case InternalExit:
		return "internal_exit"
	default:
		return "unknown"
	}
}

// Generations is a point-in-time snapshot of every topic's counter, taken
// just before a process launches or just before
// the reaper computes its minimum-of-generations wait set.
type Generations [int(numTopics)]uint64

// Monitor owns one 64-bit generation counter per topic plus the self-pipe
// that lets Check(block=true) sleep without busy-polling. Bump never
// blocks (one atomic add and one non-blocking write(2) on the self-pipe),
// so internal/sigplumb's signal goroutine can call it at any time; it
// does go through the os.File's raw-conn path, which takes the file's
// internal write lock.
type Monitor struct {
	gens [int(numTopics)]uint64 // atomic

	mu         sync.Mutex
	readFD     *os.File
	writeFD    *os.File
	bufferByte [1]byte
}

// New creates a Monitor with a self-pipe ready for Check(block=true).
func New() (*Monitor, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, logErr("new", err)
	}
	return &Monitor{readFD: r, writeFD: w}, nil
}

// Close releases the self-pipe. Only called at process teardown.
func (m *Monitor) Close() error {
	m.writeFD.Close()
	return m.readFD.Close()
}

// Bump increments topic's generation counter and wakes any blocked Check
// call. Never blocks: callers are internal/sigplumb's signal goroutine
// and internal/reaper posting internal-process-exit notifications.
func (m *Monitor) Bump(t Topic) {
	atomic.AddUint64(&m.gens[int(t)], 1)
	// A single write(2) of one byte on the non-blocking pipe fd; if the
	// pipe's buffer is full EAGAIN is expected and ignored — the reader
	// only needs to wake up once per quiescent period, not once per Bump.
	if rc, err := m.writeFD.SyscallConn(); err == nil {
		rc.Write(func(fd uintptr) bool {
			unix.Write(int(fd), m.bufferByte[:])
			return true
		})
	}
}

// Snapshot reads every topic's current generation.
func (m *Monitor) Snapshot() Generations {
	var g Generations
	for i := range g {
		g[i] = atomic.LoadUint64(&m.gens[i])
	}
	return g
}

// Check reports whether any topic's generation has advanced past snapshot.
// If not and block is true, it reads one byte from the self-pipe,
// blocking until a Bump has written one, and then returns true without
// re-checking the counters. This is the only sanctioned way to wait for
// signal-derived events.
func (m *Monitor) Check(snapshot Generations, block bool) bool {
	if m.advanced(snapshot) {
		return true
	}
	if !block {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check under the lock in case a Bump landed between the caller's
	// snapshot and here.
	if m.advanced(snapshot) {
		return true
	}

	var b [1]byte
	m.readFD.SetReadDeadline(time.Time{})
	if _, err := m.readFD.Read(b[:]); err != nil {
		logger.Warnf("self-pipe read: %v", err)
	}
	return true
}

func (m *Monitor) advanced(snapshot Generations) bool {
	for i := range snapshot {
		if atomic.LoadUint64(&m.gens[i]) != snapshot[i] {
			return true
		}
	}
	return false
}

func logErr(op string, err error) error {
	wrapped := &topicError{op: op, err: err}
	logger.Errorf("%v", wrapped)
	return wrapped
}

type topicError struct {
	op  string
	err error
}

func (e *topicError) Error() string { return "topic: " + e.op + ": " + e.err.Error() }
func (e *topicError) Unwrap() error { return e.err }
