// Package liveness evicts clients that stop sending heartbeats. Heartbeat
// records are keyed by user, not by room: they outlive a single membership
// and are consulted against whichever room the user currently occupies.
package liveness

import (
	"sync"
	"time"

	"github.com/dkeye/voicegrid/internal/domain"
)

// Tracker is the heartbeat table. One record per connected call-eligible
// client; created on first beat, dropped on eviction or explicit leave.
type Tracker struct {
	mu    sync.Mutex
	beats map[domain.UserID]time.Time
	now   func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		beats: make(map[domain.UserID]time.Time),
		now:   time.Now,
	}
}

// Beat refreshes the user's heartbeat.
func (t *Tracker) Beat(userID domain.UserID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.beats[userID] = t.now()
}

// Forget drops the record.
func (t *Tracker) Forget(userID domain.UserID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.beats, userID)
}

// Stale lists users whose heartbeat age exceeds threshold.
func (t *Tracker) Stale(threshold time.Duration) []domain.UserID {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-threshold)
	var out []domain.UserID
	for uid, at := range t.beats {
		if at.Before(cutoff) {
			out = append(out, uid)
		}
	}
	return out
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.beats)
}
