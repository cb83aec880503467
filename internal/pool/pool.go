// Package pool owns the fixed set of media engine workers and picks the
// least loaded one for new room placement. Load gauges are recomputed from
// the room registry on demand; they are snapshots, never live counters.
package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicegrid/internal/media"
)

// Slot is one media engine worker tracked by the pool.
type Slot struct {
	Index        int
	Worker       media.Worker
	PID          int
	ClientsCount int
	RoomsCount   int
}

// RoomLoad is the registry's view of one room: which slot hosts it and how
// many clients it holds.
type RoomLoad struct {
	WorkerIndex int
	Clients     int
}

// SlotInfo is the read-only status view of a slot.
type SlotInfo struct {
	WorkerIndex  int `json:"workerIndex"`
	PID          int `json:"pid"`
	ClientsCount int `json:"clientsCount"`
	RoomsCount   int `json:"roomsCount"`
}

type Pool struct {
	mu    sync.Mutex
	slots []*Slot
}

// Init creates size workers up front. Any failure is returned as-is and the
// caller treats it as fatal: a worker that cannot start points at an engine
// provisioning problem no retry will fix.
func Init(ctx context.Context, engine media.Engine, size int) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool: size must be positive, got %d", size)
	}
	p := &Pool{}
	for i := 0; i < size; i++ {
		w, err := engine.CreateWorker(ctx)
		if err != nil {
			return nil, fmt.Errorf("pool: create worker %d: %w", i, err)
		}
		p.slots = append(p.slots, &Slot{Index: i, Worker: w, PID: w.PID()})
		log.Info().Str("module", "pool").Int("index", i).Int("pid", w.PID()).Msg("worker ready")
	}
	return p, nil
}

// RefreshStats recomputes every slot's gauges from the given room loads.
// Slots hosting no rooms are reset to zero.
func (p *Pool) RefreshStats(loads []RoomLoad) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshLocked(loads)
}

func (p *Pool) refreshLocked(loads []RoomLoad) {
	for _, s := range p.slots {
		s.ClientsCount = 0
		s.RoomsCount = 0
	}
	for _, l := range loads {
		if l.WorkerIndex < 0 || l.WorkerIndex >= len(p.slots) {
			continue
		}
		s := p.slots[l.WorkerIndex]
		s.ClientsCount += l.Clients
		s.RoomsCount++
	}
}

// SelectLeastLoaded returns the slot with the minimum client count, lowest
// index on ties. Valid only after RefreshStats; prefer Place, which does
// both under one lock.
func (p *Pool) SelectLeastLoaded() *Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selectLocked()
}

func (p *Pool) selectLocked() *Slot {
	best := p.slots[0]
	for _, s := range p.slots[1:] {
		if s.ClientsCount < best.ClientsCount {
			best = s
		}
	}
	return best
}

// Place refreshes stats from the given loads and picks the target slot.
func (p *Pool) Place(loads []RoomLoad) *Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshLocked(loads)
	return p.selectLocked()
}

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// Snapshot reports per-slot load for the workers status surface.
func (p *Pool) Snapshot() []SlotInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SlotInfo, 0, len(p.slots))
	for _, s := range p.slots {
		out = append(out, SlotInfo{
			WorkerIndex:  s.Index,
			PID:          s.PID,
			ClientsCount: s.ClientsCount,
			RoomsCount:   s.RoomsCount,
		})
	}
	return out
}

func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		s.Worker.Close()
	}
}
