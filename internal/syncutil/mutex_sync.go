//go:build !deadlock

// Package syncutil wraps the sync mutexes so that lock ordering problems can
// be caught during development.
//
// Use build tag -tags=deadlock to enable deadlock detection.
package syncutil

import "sync"

const DeadlockEnabled = false

type Mutex struct {
	sync.Mutex
}

type RWMutex struct {
	sync.RWMutex
}
