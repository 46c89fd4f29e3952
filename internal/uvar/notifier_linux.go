//go:build linux

package uvar

import (
	"path/filepath"
	"time"

	"github.com/fish-shell/fish-shell-sub008/internal/fsnotify"
)

// inotifyNotifier watches the universal-variable file's parent directory
// and forwards only events naming the file's own basename; the caller's
// Sync still re-stats the file, since inotify watches inodes/names, not
// "this specific atomic rewrite."
type inotifyNotifier struct {
	watcher *fsnotify.Watcher
	base    string
	changed chan struct{}
}

func newPlatformNotifier(path string, _ time.Duration) (Notifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if _, err := w.AddWatch(dir); err != nil {
		w.Close()
		return nil, err
	}
	n := &inotifyNotifier{
		watcher: w,
		base:    filepath.Base(path),
		changed: make(chan struct{}, 1),
	}
	go n.run()
	return n, nil
}

// run forwards directory events naming the universal-variable file (a
// tempfile rename lands as a move-to on its basename) as a "maybe
// changed" signal; Sync's identity check does the final filtering.
func (n *inotifyNotifier) run() {
	for ev := range n.watcher.Events {
		if ev.Name != "" && ev.Name != n.base {
			continue
		}
		select {
		case n.changed <- struct{}{}:
		default:
		}
	}
}

func (n *inotifyNotifier) Changed() <-chan struct{} { return n.changed }

func (n *inotifyNotifier) Close() error {
	return n.watcher.Close()
}
