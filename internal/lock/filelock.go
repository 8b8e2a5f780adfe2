// Package lock serializes writers of a shared file with flock(2).
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// FileLock is an exclusive advisory lock held on an open file.
// Keep the lock alive by keeping the file descriptor open.
type FileLock struct {
	path string
	f    *os.File
}

// Acquire opens path, creating it and its directory when missing, and blocks
// until it holds an exclusive lock on it.
func Acquire(path string) (*FileLock, error) {
	if path == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	return &FileLock{path: path, f: f}, nil
}

func (l *FileLock) Path() string { return l.path }

// File is the locked file, positioned at its start.
func (l *FileLock) File() *os.File { return l.f }

func (l *FileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}

// WriteFile replaces the content of path while holding its lock, so
// concurrent writers never interleave.
func WriteFile(path string, data []byte) error {
	l, err := Acquire(path)
	if err != nil {
		return err
	}
	defer func() { _ = l.Release() }()

	f := l.File()
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate %s: %w", path, err)
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return nil
}
