// Package room holds per-call-session state: one router on one worker and
// the media state of every client in the call. The registry in this package
// is the single source of truth for which sessions are active.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicegrid/internal/domain"
	"github.com/dkeye/voicegrid/internal/media"
	"github.com/dkeye/voicegrid/internal/pool"
)

var (
	ErrInvalidAction = errors.New("room: invalid media action")
	ErrNoClient      = errors.New("room: no such client")
	ErrNoTransport   = errors.New("room: client has no such transport")
	ErrRoomClosed    = errors.New("room: closed")
)

// ClientConn is the slice of the signaling connection a room needs to push
// events to a member. Owned by the ws adapter; the room never closes it.
type ClientConn interface {
	TrySend(data []byte) error
}

// ClientQuery identifies the joining client.
type ClientQuery struct {
	UserID domain.UserID
	Device string
}

// clientMedia is one member's media state. Owned exclusively by the room.
type clientMedia struct {
	producerTransport media.Transport
	consumerTransport media.Transport
	producers         map[media.Kind]media.Producer
	produceParams     map[media.Kind]media.ProduceParams
	consumers         map[string]media.Consumer
}

func newClientMedia() *clientMedia {
	return &clientMedia{
		producers:     make(map[media.Kind]media.Producer),
		produceParams: make(map[media.Kind]media.ProduceParams),
		consumers:     make(map[string]media.Consumer),
	}
}

func (cm *clientMedia) close() {
	for _, c := range cm.consumers {
		c.Close()
	}
	for _, p := range cm.producers {
		p.Close()
	}
	if cm.producerTransport != nil {
		cm.producerTransport.Close()
	}
	if cm.consumerTransport != nil {
		cm.consumerTransport.Close()
	}
}

type client struct {
	query ClientQuery
	conn  ClientConn
	media *clientMedia
}

// Room is one active call session, bound to exactly one worker slot at any
// instant. Membership survives worker migration.
type Room struct {
	sessionID domain.SessionID

	mu          sync.RWMutex
	workerIndex int
	worker      media.Worker
	router      media.Router
	clients     map[domain.UserID]*client
	closed      bool
	createdAt   time.Time

	logger zerolog.Logger
}

func New(sessionID domain.SessionID, slot *pool.Slot) *Room {
	return &Room{
		sessionID:   sessionID,
		workerIndex: slot.Index,
		worker:      slot.Worker,
		clients:     make(map[domain.UserID]*client),
		createdAt:   time.Now(),
		logger:      log.With().Str("module", "room").Str("session", string(sessionID)).Logger(),
	}
}

// Load creates the room's router. Must complete before clients are admitted;
// the registry calls it before publishing the room.
func (r *Room) Load(ctx context.Context) error {
	router, err := r.worker.CreateRouter(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.router = router
	r.mu.Unlock()
	r.logger.Info().Int("worker", r.workerIndex).Str("router", router.ID()).Msg("room loaded")
	return nil
}

func (r *Room) SessionID() domain.SessionID { return r.sessionID }

func (r *Room) WorkerIndex() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.workerIndex
}

// AddClient registers a member. Idempotent per user: re-adding updates the
// connection without touching existing media state.
func (r *Room) AddClient(ctx context.Context, query ClientQuery, conn ClientConn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	if c, ok := r.clients[query.UserID]; ok {
		c.conn = conn
		c.query = query
		r.logger.Info().Str("user", string(query.UserID)).Msg("client reconnected")
		return nil
	}
	r.clients[query.UserID] = &client{query: query, conn: conn, media: newClientMedia()}
	r.logger.Info().Str("user", string(query.UserID)).Str("device", query.Device).Msg("client added")
	return nil
}

// RemoveClient tears down the member's media state and reports the
// remaining occupancy. Unknown users are a no-op.
func (r *Room) RemoveClient(ctx context.Context, userID domain.UserID) int {
	r.mu.Lock()
	c, ok := r.clients[userID]
	if ok {
		delete(r.clients, userID)
	}
	remaining := len(r.clients)
	r.mu.Unlock()

	if ok {
		c.media.close()
		r.logger.Info().Str("user", string(userID)).Int("remaining", remaining).Msg("client removed")
	}
	return remaining
}

func (r *Room) ClientsCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (r *Room) ClientIDs() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.clients))
	for id := range r.clients {
		out = append(out, id)
	}
	return out
}

func (r *Room) AudioProducerIDs() []string { return r.producerIDs(media.KindAudio) }
func (r *Room) VideoProducerIDs() []string { return r.producerIDs(media.KindVideo) }

func (r *Room) producerIDs(kind media.Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clients))
	for _, c := range r.clients {
		if p, ok := c.media.producers[kind]; ok {
			out = append(out, p.ID())
		}
	}
	return out
}

// Stats is the mediaRoomInfo status view.
type Stats struct {
	SessionID   domain.SessionID `json:"sessionId"`
	WorkerIndex int              `json:"workerIndex"`
	Clients     int              `json:"clients"`
	AudioTracks int              `json:"audioTracks"`
	VideoTracks int              `json:"videoTracks"`
	CreatedAt   time.Time        `json:"createdAt"`
}

func (r *Room) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{
		SessionID:   r.sessionID,
		WorkerIndex: r.workerIndex,
		Clients:     len(r.clients),
		CreatedAt:   r.createdAt,
	}
	for _, c := range r.clients {
		if _, ok := c.media.producers[media.KindAudio]; ok {
			s.AudioTracks++
		}
		if _, ok := c.media.producers[media.KindVideo]; ok {
			s.VideoTracks++
		}
	}
	return s
}

// Close releases the router and all client media state. Safe to call twice;
// the router is closed exactly once.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	clients := r.clients
	r.clients = make(map[domain.UserID]*client)
	router := r.router
	r.mu.Unlock()

	for _, c := range clients {
		c.media.close()
	}
	if router != nil {
		router.Close()
	}
	r.logger.Info().Msg("room closed")
}

// broadcastExcept pushes an event frame to every member but one. Send
// failures are the member's problem, not the broadcaster's.
func (r *Room) broadcastExcept(userID domain.UserID, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		r.logger.Error().Err(err).Msg("broadcast marshal")
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, c := range r.clients {
		if id == userID || c.conn == nil {
			continue
		}
		if err := c.conn.TrySend(b); err != nil {
			r.logger.Warn().Err(err).Str("user", string(id)).Msg("broadcast drop")
		}
	}
}
