package room

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicegrid/internal/domain"
	"github.com/dkeye/voicegrid/internal/pool"
)

// Registry maps active sessions to rooms. Creation suspends on router init,
// so concurrent joins for the same session are collapsed through
// singleflight: exactly one room and one router per session, always.
type Registry struct {
	pool *pool.Pool

	mu    sync.RWMutex
	rooms map[domain.SessionID]*Room

	creating singleflight.Group
}

func NewRegistry(p *pool.Pool) *Registry {
	return &Registry{
		pool:  p,
		rooms: make(map[domain.SessionID]*Room),
	}
}

func (r *Registry) Get(sessionID domain.SessionID) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[sessionID]
	return room, ok
}

// GetOrCreate returns the active room for the session, placing a new one on
// the least loaded worker if none exists. The room's router is live before
// the room becomes visible.
func (r *Registry) GetOrCreate(ctx context.Context, sessionID domain.SessionID) (*Room, error) {
	if room, ok := r.Get(sessionID); ok {
		return room, nil
	}

	v, err, _ := r.creating.Do(string(sessionID), func() (any, error) {
		if room, ok := r.Get(sessionID); ok {
			return room, nil
		}

		slot := r.pool.Place(r.Loads())
		room := New(sessionID, slot)
		if err := room.Load(ctx); err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.rooms[sessionID] = room
		r.mu.Unlock()
		log.Info().Str("module", "room.registry").Str("session", string(sessionID)).Int("worker", slot.Index).Msg("room created")
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

// Remove closes the room and deletes the entry. Only empty rooms are
// removed; a room that picked up a client in the meantime stays.
func (r *Registry) Remove(ctx context.Context, sessionID domain.SessionID) bool {
	r.mu.Lock()
	room, ok := r.rooms[sessionID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if room.ClientsCount() > 0 {
		r.mu.Unlock()
		log.Warn().Str("module", "room.registry").Str("session", string(sessionID)).Msg("remove skipped, room not empty")
		return false
	}
	delete(r.rooms, sessionID)
	r.mu.Unlock()

	room.Close()
	log.Info().Str("module", "room.registry").Str("session", string(sessionID)).Msg("room removed")
	return true
}

// Loads snapshots per-room placement for the worker pool's recompute.
func (r *Registry) Loads() []pool.RoomLoad {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]pool.RoomLoad, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, pool.RoomLoad{WorkerIndex: room.WorkerIndex(), Clients: room.ClientsCount()})
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
