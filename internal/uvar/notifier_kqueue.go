//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package uvar

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// kqueueNotifier watches the universal-variable file's parent directory
// via the cross-platform fsnotify library, which rides kqueue on these
// kernels. macOS's own
// notify_register_file_descriptor isn't something fsnotify exposes
// either, so Darwin shares this same directory-watch path; re-stating
// the file on every wakeup (done by the caller in Sync) confirms the
// change applies to it rather than some unrelated directory entry.
type kqueueNotifier struct {
	watcher *fsnotify.Watcher
	changed chan struct{}
}

func newPlatformNotifier(path string, _ time.Duration) (Notifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	n := &kqueueNotifier{
		watcher: w,
		changed: make(chan struct{}, 1),
	}
	go n.run()
	return n, nil
}

func (n *kqueueNotifier) run() {
	for {
		select {
		case _, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			select {
			case n.changed <- struct{}{}:
			default:
			}
		case <-n.watcher.Errors:
		}
	}
}

func (n *kqueueNotifier) Changed() <-chan struct{} { return n.changed }

func (n *kqueueNotifier) Close() error {
	return n.watcher.Close()
}
