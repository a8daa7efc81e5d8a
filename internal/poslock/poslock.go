// Package poslock implements the position-lock set (spec.md §3): at most
// one ACTIVE signal per (instrument, timeframe). Mutated only by the signal
// generator (acquire on emission) and the outcome tracker (release on
// outcome).
package poslock

import (
	"sync"

	"github.com/sharplee/signalcore/internal/model"
)

// Set is the mutex-guarded lock set.
type Set struct {
	mu      sync.Mutex
	held    map[model.Key]string // key -> signal ID holding the lock
	mirror  Mirror
}

// Mirror optionally republishes lock state to an external store (e.g. Redis)
// for cross-process visibility. A nil Mirror is a no-op.
type Mirror interface {
	Acquire(key model.Key, signalID string)
	Release(key model.Key)
}

// New creates an empty lock set. mirror may be nil.
func New(mirror Mirror) *Set {
	return &Set{held: make(map[model.Key]string), mirror: mirror}
}

// Locked reports whether a key currently has an ACTIVE signal.
func (s *Set) Locked(key model.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.held[key]
	return ok
}

// Acquire locks a key for the given signal ID. Returns false if already
// locked (an invariant violation the caller must treat as fatal — spec §3:
// "at most one signal has state=ACTIVE").
func (s *Set) Acquire(key model.Key, signalID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.held[key]; ok {
		return false
	}
	s.held[key] = signalID
	if s.mirror != nil {
		s.mirror.Acquire(key, signalID)
	}
	return true
}

// Release unlocks a key, typically called by the outcome tracker on TP/SL.
func (s *Set) Release(key model.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.held, key)
	if s.mirror != nil {
		s.mirror.Release(key)
	}
}

// HolderID returns the signal ID currently holding the lock for key, if any.
func (s *Set) HolderID(key model.Key) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.held[key]
	return id, ok
}
