// Package lock provides the exclusive write lock of a memory workspace.
//
// Every mutation of a workspace runs while holding the lock. It combines an
// in-process semaphore, which orders goroutines of one engine, with an advisory
// file lock on <workspace>/.memory.lock, which orders separate processes
// sharing the workspace. The lock is not reentrant.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrTimeout is returned when the lock cannot be acquired within the timeout.
var ErrTimeout = errors.New("timed out waiting for workspace lock")

// DefaultTimeout is the default bounded wait of Acquire.
const DefaultTimeout = 10 * time.Second

// retryDelay is the polling interval for the file lock.
const retryDelay = 20 * time.Millisecond

// Workspace is the write lock of one workspace.
type Workspace struct {
	file    *flock.Flock
	sem     chan struct{}
	timeout time.Duration
}

// New creates the lock for the file at path. A timeout of zero or less uses DefaultTimeout.
func New(path string, timeout time.Duration) (*Workspace, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("NewLock: failed to create directory: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Workspace{
		file:    flock.New(path),
		sem:     make(chan struct{}, 1),
		timeout: timeout,
	}, nil
}

// Path returns the lock file path.
func (w *Workspace) Path() string {
	return w.file.Path()
}

// Acquire blocks until the lock is held, the timeout elapses or ctx is done.
//
// Returns ErrTimeout when the timeout elapses, or ctx.Err() if the caller's
// context ends first.
func (w *Workspace) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	select {
	case w.sem <- struct{}{}:
	case <-waitCtx.Done():
		return w.waitError(ctx)
	}

	locked, err := w.file.TryLockContext(waitCtx, retryDelay)
	if err != nil || !locked {
		<-w.sem
		if waitCtx.Err() != nil {
			return w.waitError(ctx)
		}
		if err == nil {
			err = ErrTimeout
		}
		return fmt.Errorf("Acquire: %w", err)
	}
	return nil
}

// Release releases a lock obtained with Acquire.
func (w *Workspace) Release() error {
	err := w.file.Unlock()
	select {
	case <-w.sem:
	default:
	}
	if err != nil {
		return fmt.Errorf("Release: %w", err)
	}
	return nil
}

// With runs fn while holding the lock. A release failure is returned only when
// fn itself succeeded.
func (w *Workspace) With(ctx context.Context, fn func() error) (err error) {
	if err := w.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		if releaseErr := w.Release(); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()
	return fn()
}

func (w *Workspace) waitError(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return ErrTimeout
}
