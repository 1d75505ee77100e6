package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// Lock is a held cross-process exclusive lock. Release with Unlock.
type Lock struct {
	file    *os.File
	dirPath string // set when the mkdir fallback was used
}

// AcquireLock takes an exclusive advisory lock on path, blocking until it is
// available. The lock file is created if missing.
func AcquireLock(path string) (*Lock, error) {
	return acquire(path, 0)
}

// TryAcquireLock takes the lock without blocking. Returns (nil, nil) when the
// lock is held elsewhere.
func TryAcquireLock(path string) (*Lock, error) {
	return acquire(path, unix.LOCK_NB)
}

func acquire(path string, extraFlags int) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		// Some filesystems refuse lock files entirely; fall back to a
		// mkdir-based mutex directory.
		return acquireDirLock(path+".d", extraFlags != 0)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|extraFlags); err != nil {
		f.Close()
		if extraFlags&unix.LOCK_NB != 0 && (err == unix.EWOULDBLOCK || err == unix.EAGAIN) {
			return nil, nil
		}
		if err == unix.ENOLCK || err == unix.EOPNOTSUPP {
			return acquireDirLock(path+".d", extraFlags != 0)
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return &Lock{file: f}, nil
}

// acquireDirLock is the portable fallback: mkdir is atomic on every
// filesystem, so the directory's existence is the lock.
func acquireDirLock(dirPath string, nonBlocking bool) (*Lock, error) {
	for {
		err := os.Mkdir(dirPath, 0o755)
		if err == nil {
			return &Lock{dirPath: dirPath}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("mkdir lock %s: %w", dirPath, err)
		}
		if nonBlocking {
			return nil, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Unlock releases the lock. Safe to call once.
func (l *Lock) Unlock() error {
	if l == nil {
		return nil
	}
	if l.dirPath != "" {
		return os.Remove(l.dirPath)
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	cerr := l.file.Close()
	if err != nil {
		return err
	}
	return cerr
}
