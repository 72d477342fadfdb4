//go:build deadlock

// Package syncutil wraps the sync mutexes so that lock ordering problems can
// be caught during development.
//
// Use build tag -tags=deadlock to enable deadlock detection.
package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

const DeadlockEnabled = true

func init() {
	deadlock.Opts.DeadlockTimeout = 30 * time.Second
}

type Mutex struct {
	deadlock.Mutex
}

type RWMutex struct {
	deadlock.RWMutex
}
