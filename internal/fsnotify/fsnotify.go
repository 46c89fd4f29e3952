// Package fsnotify is a thin inotify wrapper serving as the Linux
// backend for internal/uvar's cross-process change notifier: a watch on
// the universal-variable file's parent directory, since fish's
// atomic-rename-based rewrite (tempfile then rename over the target)
// only shows up as a move-to on the directory, not a modify on the
// (replaced) inode. Directory events carry the affected entry's name, so
// a read must walk a whole buffer of variable-length records; reading
// one bare event struct at a time would leave the name bytes in the
// stream to be misparsed as the next header.
package fsnotify

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"unsafe"

	"github.com/fish-shell/fish-shell-sub008/internal/log"

	"golang.org/x/sys/unix"
)

// logger is an object for logging package event to stdout.
var logger = log.New(os.Stdout, "fsnotify")

// watchMask covers the events a universal-variable rewrite can produce
// on the watched directory (or on the file itself, for a direct watch):
// creation, modification, a rename landing on the entry, and the watched
// path itself going away.
const watchMask = unix.IN_CREATE | unix.IN_MODIFY | unix.IN_MOVED_TO | unix.IN_DELETE_SELF

var (
	// ErrInvalidFD indicates the Watcher was unable to initialize.
	ErrInvalidFD = errors.New("invalid file descriptor")
	// ErrWatchExists indicates the path specifed is already being watched.
	ErrWatchExists = errors.New("path is already being watched")
	// ErrWatchDNE indicates the path specified is not being watched.
	ErrWatchDNE = errors.New("path is not being watched")
)

// NewWatcher creates a Watcher instance.
func NewWatcher() (*Watcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("init inotify fd for watcher; error: %w", err)
	}

	file := os.NewFile(uintptr(fd), "/proc/self/fd/3")
	if file == nil {
		unix.Close(fd)
		return nil, fmt.Errorf("watcher file descriptor; error: %w", ErrInvalidFD)
	}

	w := &Watcher{
		mutex:   new(sync.Mutex),
		watches: make(map[string]int),
		paths:   make(map[int]string),
		Events:  make(chan Event),
		done:    make(chan struct{}),
		fd:      fd,
		file:    file,
		closed:  make(chan struct{}),
	}

	go w.readEvents()
	return w, nil
}

// Watcher utilizes the inotify API to observe and publish events related
// watched filesystem entities.
type Watcher struct {
	mutex   *sync.Mutex
	watches map[string]int
	paths   map[int]string
	Events  chan Event

	fd   int
	file *os.File

	done   chan struct{}
	closed chan struct{}
}

// AddWatch instructs the Watcher to begin watching the specified path. The
// first return value is watch descriptor unique to this path. If the path is
// being watched, the ErrWatchExists error will be returned.
func (w *Watcher) AddWatch(path string) (int, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	wd, ok := w.watches[path]
	if ok {
		return wd, ErrWatchExists
	}

	wd, err := unix.InotifyAddWatch(w.fd, path, watchMask)
	if err != nil {
		return 0, fmt.Errorf("add watch; error: %w", err)
	}

	w.watches[path] = wd
	w.paths[wd] = path

	return wd, nil
}

// RemoveWatch instructs the Watcher to stop watching the specified path. If
// the path is not being watched, the ErrWatchDNE error will be returned.
func (w *Watcher) RemoveWatch(path string) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	wd, ok := w.watches[path]
	if !ok {
		return ErrWatchDNE
	}

	// On success, inotify_rm_watch() returns zero.  On error, -1 is returned
	// and errno is set to  indicate  the cause of the error.
	success, err := unix.InotifyRmWatch(w.fd, uint32(wd))
	if success == -1 {
		return fmt.Errorf("remove watch; error: %w", err)
	}

	delete(w.watches, path)
	delete(w.paths, wd)

	return nil
}

func (w *Watcher) Close() error {
	if w.isDone() {
		return nil
	}

	close(w.done)

	<-w.closed
	return nil
}

// isDone indicates if the watcher has intitiated closing.
func (w *Watcher) isDone() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// readEvents reads inotify events from the Watcher's inotify file
// descriptor and publishes them on the Watcher.Events channel. A single
// read can return several variable-length records: each header is
// followed by Len bytes of NUL-padded entry name when the watch is on a
// directory, so the buffer is walked record by record.
func (w *Watcher) readEvents() {
	defer close(w.closed)
	defer close(w.Events)

	go func() {
		<-w.done
		if err := w.file.Close(); err != nil {
			logger.Warnf("close watcher; error: %s", err)
		}
	}()

	buf := make([]byte, 4096)
	for {
		if w.isDone() {
			return
		}

		n, err := w.file.Read(buf)
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			return
		}
		if err != nil {
			if w.isDone() {
				return
			}
			logger.Warnf("inotify read; error: %s", err)
			continue
		}

		for offset := 0; offset+unix.SizeofInotifyEvent <= n; {
			raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
			nameLen := int(raw.Len)
			name := ""
			if nameLen > 0 && offset+unix.SizeofInotifyEvent+nameLen <= n {
				nb := buf[offset+unix.SizeofInotifyEvent : offset+unix.SizeofInotifyEvent+nameLen]
				name = string(bytes.TrimRight(nb, "\x00"))
			}

			// IN_DELETE_SELF occurs when the file/directory being watched is
			// removed. This should result in cleaning up the maps, otherwise
			// we are no longer in sync with the inotify kernel state.
			w.mutex.Lock()
			path, ok := w.paths[int(raw.Wd)]
			if ok && raw.Mask&unix.IN_DELETE_SELF == unix.IN_DELETE_SELF {
				delete(w.paths, int(raw.Wd))
				delete(w.watches, path)
			}
			w.mutex.Unlock()

			ev := newEvent(int(raw.Wd), raw.Mask, path, name)
			offset += unix.SizeofInotifyEvent + nameLen

			if ev.Op == 0 {
				continue
			}
			select {
			case <-w.done:
				return
			case w.Events <- ev:
			}
		}
	}
}

func newEvent(wd int, mask uint32, path, name string) Event {
	e := Event{Wd: wd, Path: path, Name: name}
	if mask&unix.IN_CREATE == unix.IN_CREATE {
		e.Op |= Create
	}
	if mask&unix.IN_MODIFY == unix.IN_MODIFY {
		e.Op |= Write
	}
	if mask&unix.IN_MOVED_TO == unix.IN_MOVED_TO {
		e.Op |= Rename
	}
	return e
}

// Event is one observed filesystem change. Name is the affected entry
// within Path when the watch is on a directory; empty for a watch on the
// file itself.
type Event struct {
	Op   Op
	Wd   int
	Path string
	Name string
}

type Op int

const (
	Create Op = 1 << iota
	Write
	Rename
)

func (op Op) String() string {
	var buffer bytes.Buffer

	if op&Create == Create {
		buffer.WriteString("|CREATE")
	}
	if op&Write == Write {
		buffer.WriteString("|WRITE")
	}
	if op&Rename == Rename {
		buffer.WriteString("|RENAME")
	}
	if buffer.Len() == 0 {
		return ""
	}
	return buffer.String()[1:] // strip leading pipe
}
