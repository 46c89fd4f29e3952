//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

package uvar

import (
	"time"

	pkgerrors "github.com/pkg/errors"
)

// newPlatformNotifier has no directory-watch primitive to reach for on
// this platform; returning an error routes New straight to the polling fallback.
func newPlatformNotifier(path string, _ time.Duration) (Notifier, error) {
	return nil, pkgerrors.New("uvar: no platform notifier on this OS")
}
