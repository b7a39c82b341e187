// Copyright 2026 The CloudYa Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrDeploymentInProgress is returned in fail-fast mode when another
// run already holds the target's lock.
var ErrDeploymentInProgress = errors.New("deployment already in progress for target")

// runLock is an exclusive per-target advisory lock. The lock file
// persists between runs; only the flock is released.
type runLock struct {
	file *os.File
	path string
}

// acquireRunLock takes the exclusive flock on path. With wait false
// (fail-fast), contention returns ErrDeploymentInProgress
// immediately; with wait true the call blocks until the holder
// releases.
func acquireRunLock(path string, wait bool) (*runLock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}

	how := unix.LOCK_EX
	if !wait {
		how |= unix.LOCK_NB
	}
	if err := unix.Flock(int(file.Fd()), how); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrDeploymentInProgress, path)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return &runLock{file: file, path: path}, nil
}

// Release drops the flock. Idempotent.
func (l *runLock) Release() error {
	if l.file == nil {
		return nil
	}
	file := l.file
	l.file = nil
	if err := unix.Flock(int(file.Fd()), unix.LOCK_UN); err != nil {
		file.Close()
		return fmt.Errorf("unlocking %s: %w", l.path, err)
	}
	return file.Close()
}
