// Package lock keeps a single client per session with an flock'd file that
// also records who holds it.
package lock

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Owner describes the process holding a session.
type Owner struct {
	PID      int
	UserID   string
	Socket   string
	Acquired time.Time
}

// HeldError is returned when another process holds the session lock.
type HeldError struct {
	Owner Owner
	Path  string
}

func (e *HeldError) Error() string {
	if e.Owner.UserID != "" {
		return fmt.Sprintf("session held by PID %d for user %s (%s)", e.Owner.PID, e.Owner.UserID, e.Path)
	}
	return fmt.Sprintf("session held by PID %d (%s)", e.Owner.PID, e.Path)
}

// Lock represents an acquired lock file.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive lock on path and writes owner into it. PID and
// acquisition time are filled in. Returns *HeldError if another process
// already holds it.
func Acquire(path string, owner Owner) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		held, _ := readOwner(path)
		return nil, &HeldError{Owner: held, Path: path}
	}

	owner.PID = os.Getpid()
	owner.Acquired = time.Now().UTC()
	if err := writeOwner(f, owner); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{file: f, path: path}, nil
}

// Holder reports the recorded owner of path while the lock is held. ok is
// false when nobody holds it.
func Holder(path string) (owner Owner, ok bool, err error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if errors.Is(err, os.ErrNotExist) {
		return Owner{}, false, nil
	}
	if err != nil {
		return Owner{}, false, err
	}
	defer func() { _ = f.Close() }()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err == nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return Owner{}, false, nil
	}
	owner, err = readOwner(path)
	return owner, err == nil, err
}

// Release releases the lock. Safe to call on nil receiver and more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before closing so a waiting Acquire never sees a stale owner.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func writeOwner(f *os.File, o Owner) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nuser=%s\nsocket=%s\ntime=%s\n",
		o.PID, o.UserID, o.Socket, o.Acquired.Format(time.RFC3339))
	return err
}

func readOwner(path string) (Owner, error) {
	f, err := os.Open(path)
	if err != nil {
		return Owner{}, err
	}
	defer func() { _ = f.Close() }()

	var o Owner
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			o.PID, _ = strconv.Atoi(val)
		case "user":
			o.UserID = val
		case "socket":
			o.Socket = val
		case "time":
			o.Acquired, _ = time.Parse(time.RFC3339, val)
		}
	}
	return o, sc.Err()
}
