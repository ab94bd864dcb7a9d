package babus

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// initLockTimeout bounds how long an open waits for another process that
// is mid-initialization of the same object.
const initLockTimeout = 5 * time.Second

var errInitLockTimeout = errors.New("babus: init lock timeout")

// initLock serializes creation and header initialization of one backing
// file across processes, via an advisory flock on a sidecar ".lock" file
// next to it.
//
// O_EXCL already decides which process creates the file; the flock closes
// the window in which the winner has created but not yet initialized the
// header, so a losing opener never mistakes an all-zero header for a magic
// mismatch. The sidecar persists; only holding the flock matters.
type initLock struct {
	file *os.File
}

// acquireInitLock takes the sidecar lock for path, polling with a
// non-blocking flock until the timeout.
func acquireInitLock(path string) (*initLock, error) {
	lockPath := path + ".lock"

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o666) //nolint:gosec // shared bus path
	if err != nil {
		return nil, fmt.Errorf("open init lock: %w", err)
	}

	deadline := time.Now().Add(initLockTimeout)

	const retryInterval = 2 * time.Millisecond

	for {
		flockErr := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if flockErr == nil {
			return &initLock{file: file}, nil
		}

		if time.Now().After(deadline) {
			_ = file.Close()

			return nil, fmt.Errorf("%w: %s", errInitLockTimeout, path)
		}

		time.Sleep(retryInterval)
	}
}

// release drops the flock. Safe on nil.
func (l *initLock) release() {
	if l == nil || l.file == nil {
		return
	}

	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}
