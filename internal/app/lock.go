package app

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFile guards a peer directory against a second process.
const LockFile = ".peercall.lock"

// ErrPeerDirBusy means another process already runs this peer.
var ErrPeerDirBusy = errors.New("peer directory is in use by another process")

// LockPeerDir takes an exclusive, non-blocking lock on dir. The returned
// function releases it.
func LockPeerDir(dir string) (func(), error) {
	l := flock.New(filepath.Join(dir, LockFile))
	locked, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock peer dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrPeerDirBusy, dir)
	}
	return func() { _ = l.Unlock() }, nil
}
