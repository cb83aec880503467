// Package app wires the signaling surface to the room registry, worker pool
// and collaborators. The relay dispatches inbound messages; the hub tracks
// connected sessions and fans broadcast events out to interest groups.
package app

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicegrid/internal/domain"
)

// Conn is what the hub needs from a signaling connection. Owned by the ws
// adapter; the hub closes it only when dropping a member for backpressure.
type Conn interface {
	TrySend(data []byte) error
	Close()
}

// MemberGroup carries full call event traffic for a server.
func MemberGroup(serverID domain.ServerID) string {
	return fmt.Sprintf("server-%s", serverID)
}

// BackgroundGroup carries only occupancy summaries, for clients that just
// render badges.
func BackgroundGroup(serverID domain.ServerID) string {
	return fmt.Sprintf("server-background-%s", serverID)
}

type hubSession struct {
	token  string
	userID domain.UserID
	conn   Conn
	groups map[string]struct{}
}

// Hub tracks connected sessions and their group subscriptions.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*hubSession
	groups   map[string]map[string]*hubSession
}

func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]*hubSession),
		groups:   make(map[string]map[string]*hubSession),
	}
}

// Bind registers a connection under its token. Rebinding replaces the
// connection and keeps group subscriptions.
func (h *Hub) Bind(token string, userID domain.UserID, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[token]; ok {
		s.userID = userID
		s.conn = conn
		return
	}
	h.sessions[token] = &hubSession{
		token:  token,
		userID: userID,
		conn:   conn,
		groups: make(map[string]struct{}),
	}
	log.Info().Str("module", "app.hub").Str("token", token).Str("user", string(userID)).Msg("session bound")
}

// Unbind drops the session from every group and forgets it.
func (h *Hub) Unbind(token string) (domain.UserID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[token]
	if !ok {
		return "", false
	}
	for g := range s.groups {
		delete(h.groups[g], token)
		if len(h.groups[g]) == 0 {
			delete(h.groups, g)
		}
	}
	delete(h.sessions, token)
	log.Info().Str("module", "app.hub").Str("token", token).Msg("session unbound")
	return s.userID, true
}

func (h *Hub) UserOf(token string) (domain.UserID, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[token]
	if !ok {
		return "", false
	}
	return s.userID, true
}

func (h *Hub) JoinGroup(token, group string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[token]
	if !ok {
		return false
	}
	s.groups[group] = struct{}{}
	if h.groups[group] == nil {
		h.groups[group] = make(map[string]*hubSession)
	}
	h.groups[group][token] = s
	return true
}

func (h *Hub) LeaveGroup(token, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[token]
	if !ok {
		return
	}
	delete(s.groups, group)
	if members, ok := h.groups[group]; ok {
		delete(members, token)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
}

func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

type eventFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Broadcast pushes an event to every session in the group. A member whose
// send buffer stays full is dropped like a dead client: its connection is
// closed and the session unbound.
func (h *Hub) Broadcast(group, event string, payload any) {
	b, err := json.Marshal(eventFrame{Type: event, Data: payload})
	if err != nil {
		log.Error().Err(err).Str("module", "app.hub").Str("event", event).Msg("broadcast marshal")
		return
	}

	h.mu.RLock()
	var slow []*hubSession
	for _, s := range h.groups[group] {
		if err := s.conn.TrySend(b); err != nil {
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		log.Warn().Str("module", "app.hub").Str("token", s.token).Str("group", group).Msg("backpressure, dropping member")
		s.conn.Close()
		h.Unbind(s.token)
	}
}
