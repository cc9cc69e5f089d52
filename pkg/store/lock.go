package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	errs "tsscraper/pkg/errors"
)

// fileLock is an exclusive lock file next to a file-backed store. It
// holds the PID of the owning process.
type fileLock struct {
	path string
	held bool
}

func newFileLock(output string) *fileLock {
	return &fileLock{path: output + ".lock"}
}

func (l *fileLock) acquire() error {
	if l.held {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, fs.ErrExist) {
		owner := "unknown"
		if data, readErr := os.ReadFile(l.path); readErr == nil {
			owner = strings.TrimSpace(string(data))
		}
		return fmt.Errorf("%w: %s is held by pid %s (remove it if that run is gone)", errs.ErrStoreLocked, l.path, owner)
	}
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	_, writeErr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	closeErr := f.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		os.Remove(l.path)
		return fmt.Errorf("failed to write lock file: %w", err)
	}

	l.held = true
	return nil
}

func (l *fileLock) release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
