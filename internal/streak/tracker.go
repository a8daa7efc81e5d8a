// Package streak implements the per-(instrument, timeframe) signed outcome
// streak counter (spec.md §4.D).
package streak

import (
	"sync"

	"github.com/sharplee/signalcore/internal/model"
)

// Tracker holds the signed streak state for every tracked key.
type Tracker struct {
	mu    sync.Mutex
	state map[model.Key]model.StreakState
}

// New creates an empty streak tracker.
func New() *Tracker {
	return &Tracker{state: make(map[model.Key]model.StreakState)}
}

// Record applies one outcome to the key's streak:
//   - TP: current>=0 -> current+1, else reset to +1
//   - SL: current<=0 -> current-1, else reset to -1
func (t *Tracker) Record(key model.Key, outcome model.Outcome) model.StreakState {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state[key]
	switch outcome {
	case model.OutcomeTP:
		if s.Streak >= 0 {
			s.Streak++
		} else {
			s.Streak = 1
		}
		s.Wins++
	case model.OutcomeSL:
		if s.Streak <= 0 {
			s.Streak--
		} else {
			s.Streak = -1
		}
		s.Losses++
	}
	t.state[key] = s
	return s
}

// Get returns the current signed streak for a key (0 if never recorded).
func (t *Tracker) Get(key model.Key) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state[key].Streak
}

// GetState returns the full streak state for a key.
func (t *Tracker) GetState(key model.Key) model.StreakState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state[key]
}

// LoadAll seeds the tracker from persisted state (ports.StreakStore.LoadAll),
// so a restart resumes from the last confirmed streak (spec §4.D).
func (t *Tracker) LoadAll(states map[model.Key]model.StreakState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range states {
		t.state[k] = v
	}
}

// Snapshot returns a copy of the full current state map, for persistence or
// equality checks in replay-idempotence tests (spec §8).
func (t *Tracker) Snapshot() map[model.Key]model.StreakState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[model.Key]model.StreakState, len(t.state))
	for k, v := range t.state {
		out[k] = v
	}
	return out
}
