package download

import (
	"errors"
	"os"
)

// errLocked is returned by the platform lock primitives when another open
// handle holds a conflicting lock.
var errLocked = errors.New("download: lock held")

// maxLockAttempts bounds retries when the marker is replaced while locking.
const maxLockAttempts = 3

// fileLock is an exclusive advisory lock on a marker file. The operating
// system releases it when the holding process exits.
type fileLock struct {
	path string
	file *os.File
}

// tryFileLock acquires the lock at path without blocking. It returns
// ErrInProgressElsewhere when another handle holds it.
func tryFileLock(path string) (*fileLock, error) {
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, err
		}

		if err := lockFile(file, true); err != nil {
			_ = file.Close()
			if errors.Is(err, errLocked) {
				return nil, ErrInProgressElsewhere
			}
			return nil, err
		}

		// A releasing holder unlinks the marker before unlocking it. A lock
		// on an unlinked marker excludes nobody.
		if sameFile(file, path) {
			return &fileLock{path: path, file: file}, nil
		}
		_ = unlockFile(file)
		_ = file.Close()
	}
	return nil, ErrInProgressElsewhere
}

// Unlock removes the marker and releases the lock.
func (l *fileLock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := unlockFile(l.file)
	err = errors.Join(err, l.file.Close())
	l.file = nil
	return err
}

// lockHeld reports whether some handle holds the lock at path. A marker
// nobody holds, such as one left behind by a crashed process, is not held.
func lockHeld(path string) bool {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	defer file.Close()

	if err := lockFile(file, false); err != nil {
		return errors.Is(err, errLocked)
	}
	_ = unlockFile(file)
	return false
}

func sameFile(file *os.File, path string) bool {
	held, err := file.Stat()
	if err != nil {
		return false
	}
	current, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(held, current)
}
