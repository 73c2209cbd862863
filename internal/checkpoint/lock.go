package checkpoint

import (
	"os"

	"golang.org/x/sys/unix"
)

// acquireLock takes a blocking exclusive advisory lock on path and returns
// the release function. The kernel drops the lock if the process dies, so a
// crashed run never leaves the store permanently locked.
func acquireLock(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, err
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}
