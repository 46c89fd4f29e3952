package uvar

import (
	"os"
	"time"
)

// pollNotifier is the fallback notifier for platforms without a
// directory-watch primitive, also used whenever the platform-specific
// backend fails to initialize: a ticker that re-stats the file and
// broadcasts on any observed mtime/size change.
type pollNotifier struct {
	path    string
	changed chan struct{}
	done    chan struct{}
}

func newPollNotifier(path string, interval time.Duration) *pollNotifier {
	n := &pollNotifier{
		path:    path,
		changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go n.run(interval)
	return n
}

func (n *pollNotifier) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastID identity
	haveID := false
	for {
		select {
		case <-n.done:
			return
		case <-ticker.C:
			fi, err := os.Stat(n.path)
			if err != nil {
				continue
			}
			id := statIdentity(fi)
			if haveID && id == lastID {
				continue
			}
			lastID, haveID = id, true
			n.notify()
		}
	}
}

func (n *pollNotifier) notify() {
	select {
	case n.changed <- struct{}{}:
	default:
	}
}

func (n *pollNotifier) Changed() <-chan struct{} { return n.changed }

func (n *pollNotifier) Close() error {
	close(n.done)
	return nil
}
