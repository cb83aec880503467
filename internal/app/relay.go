package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicegrid/internal/directory"
	"github.com/dkeye/voicegrid/internal/domain"
	"github.com/dkeye/voicegrid/internal/liveness"
	"github.com/dkeye/voicegrid/internal/pool"
	"github.com/dkeye/voicegrid/internal/presence"
	"github.com/dkeye/voicegrid/internal/room"
)

var (
	ErrUnknownUser = errors.New("app: connection has no authenticated user")
	ErrNoRoom      = errors.New("app: no active room for session")
	ErrNotVoice    = errors.New("app: channel is not voice-enabled")
)

// Relay is the signaling entry point. Every handler resolves the caller,
// mutates room state and emits broadcasts; errors stay local to the caller.
type Relay struct {
	Registry  *room.Registry
	Pool      *pool.Pool
	Hub       *Hub
	Directory directory.Store
	Presence  presence.Store
	Tracker   *liveness.Tracker
}

// userOf resolves the calling user from the connection token.
func (rl *Relay) userOf(ctx context.Context, token string) (domain.UserID, error) {
	uid, err := rl.Presence.Get(ctx, token)
	if err != nil {
		return "", err
	}
	if uid == "" {
		return "", ErrUnknownUser
	}
	return domain.UserID(uid), nil
}

// Register binds a freshly upgraded connection into the hub. The user may
// still be unknown when the auth service has not written the presence
// mapping yet; handlers resolve it per message, like the original flow.
func (rl *Relay) Register(ctx context.Context, token string, conn Conn) domain.UserID {
	uid, err := rl.Presence.Get(ctx, token)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Str("token", token).Msg("presence lookup failed on register")
	}
	rl.Hub.Bind(token, domain.UserID(uid), conn)
	return domain.UserID(uid)
}

// Ping refreshes the caller's heartbeat. The ws adapter replies pong.
func (rl *Relay) Ping(ctx context.Context, token string) error {
	uid, err := rl.userOf(ctx, token)
	if err != nil {
		return err
	}
	rl.Tracker.Beat(uid)
	return nil
}

// JoinRoom admits the caller into the channel's call session, creating the
// room via worker pool placement if needed. The caller is first detached
// from any other session it occupies: at most one active call per user.
func (rl *Relay) JoinRoom(ctx context.Context, token string, conn room.ClientConn, channelID domain.ChannelID, device string) error {
	uid, err := rl.userOf(ctx, token)
	if err != nil {
		return err
	}
	ch, err := rl.Directory.Channel(ctx, channelID)
	if err != nil {
		return err
	}
	if !ch.IsVoice {
		return fmt.Errorf("%w: %s", ErrNotVoice, channelID)
	}
	membership, err := rl.Directory.MembershipOf(ctx, uid, ch.ServerID)
	if err != nil {
		return err
	}

	if err := rl.detachFromPriorCalls(ctx, uid); err != nil {
		// Stale presence is cleaned up best effort; the join proceeds.
		log.Warn().Err(err).Str("module", "app.relay").Str("user", string(uid)).Msg("prior call cleanup incomplete")
	}

	if err := rl.Directory.ConnectToCall(ctx, channelID, membership.ID); err != nil {
		return err
	}

	if ch.IsServerChannel {
		ref := ch.Ref()
		ms := *membership
		ms.Channel = &ref
		rl.Hub.Broadcast(MemberGroup(ch.ServerID), "joinedChannel", struct {
			Channel    domain.ChannelRef `json:"channel"`
			Membership domain.Membership `json:"membership"`
		}{Channel: ref, Membership: ms})
		rl.broadcastOccupancy(ctx, ch.ServerID)
	}

	r, err := rl.Registry.GetOrCreate(ctx, channelID)
	if err != nil {
		return err
	}
	return r.AddClient(ctx, room.ClientQuery{UserID: uid, Device: device}, conn)
}

// detachFromPriorCalls removes the user from every call session it still
// occupies, both in-memory and in persisted presence.
func (rl *Relay) detachFromPriorCalls(ctx context.Context, uid domain.UserID) error {
	channels, err := rl.Directory.ChannelsWithUserInCall(ctx, uid)
	if err != nil {
		return err
	}
	var firstErr error
	for _, prior := range channels {
		if r, ok := rl.Registry.Get(prior.ID); ok {
			if remaining := r.RemoveClient(ctx, uid); remaining == 0 {
				rl.Registry.Remove(ctx, prior.ID)
			}
		}
		ms, err := rl.Directory.MembershipOf(ctx, uid, prior.ServerID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := rl.Directory.DisconnectFromCall(ctx, prior.ID, ms.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LeaveRoom detaches the caller from the channel's session, closing the
// room when it empties.
func (rl *Relay) LeaveRoom(ctx context.Context, token string, channelID domain.ChannelID) error {
	uid, err := rl.userOf(ctx, token)
	if err != nil {
		return err
	}
	ch, err := rl.Directory.Channel(ctx, channelID)
	if err != nil {
		return err
	}
	membership, err := rl.Directory.MembershipOf(ctx, uid, ch.ServerID)
	if err != nil {
		return err
	}
	if err := rl.Directory.DisconnectFromCall(ctx, channelID, membership.ID); err != nil {
		return err
	}

	if ch.IsServerChannel {
		ref := ch.Ref()
		ms := *membership
		ms.Channel = &ref
		rl.Hub.Broadcast(MemberGroup(ch.ServerID), "leavedChannel", struct {
			Channel    domain.ChannelRef `json:"channel"`
			Membership domain.Membership `json:"membership"`
		}{Channel: ref, Membership: ms})
		rl.broadcastOccupancy(ctx, ch.ServerID)
	}

	if r, ok := rl.Registry.Get(channelID); ok {
		if remaining := r.RemoveClient(ctx, uid); remaining == 0 {
			rl.Registry.Remove(ctx, channelID)
		}
	}
	rl.Tracker.Forget(uid)
	return nil
}

func (rl *Relay) broadcastOccupancy(ctx context.Context, serverID domain.ServerID) {
	members, err := rl.Directory.FirstChannelOccupancy(ctx, serverID)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("server", string(serverID)).Msg("occupancy lookup failed")
		return
	}
	rl.Hub.Broadcast(BackgroundGroup(serverID), "firstUsersInChannel", domain.NewOccupancySummary(serverID, members))
}

// Media relays one media sub-protocol message. The response goes to the
// caller only.
func (rl *Relay) Media(ctx context.Context, token string, channelID domain.ChannelID, action string, data []byte) (any, error) {
	uid, err := rl.userOf(ctx, token)
	if err != nil {
		return nil, err
	}
	r, ok := rl.Registry.Get(channelID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRoom, channelID)
	}
	return r.RelayMediaAction(ctx, uid, action, data)
}

// Reconfigure migrates the room to the currently least loaded worker. A
// no-op when the room already sits on it: a same-worker recreate would churn
// every client's transports for nothing.
func (rl *Relay) Reconfigure(ctx context.Context, token string, channelID domain.ChannelID) ([]room.MigrateResult, error) {
	if _, err := rl.userOf(ctx, token); err != nil {
		return nil, err
	}
	r, ok := rl.Registry.Get(channelID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRoom, channelID)
	}

	slot := rl.Pool.Place(rl.Registry.Loads())
	if slot.Index == r.WorkerIndex() {
		log.Info().Str("module", "app.relay").Str("session", string(channelID)).Int("worker", slot.Index).Msg("reconfigure skipped, already on least loaded worker")
		return nil, nil
	}

	results, err := r.Migrate(ctx, slot)
	if err != nil {
		return nil, err
	}
	for _, res := range results {
		if res.Degraded {
			log.Warn().Err(res.Err).Str("module", "app.relay").Str("session", string(channelID)).Str("user", string(res.UserID)).Msg("client degraded by migration")
		}
	}
	return results, nil
}

// RoomClientsInfo is the mediaRoomClients response.
type RoomClientsInfo struct {
	ClientsIDs       []domain.UserID `json:"clientsIds"`
	ProducerAudioIDs []string        `json:"producerAudioIds"`
	ProducerVideoIDs []string        `json:"producerVideoIds"`
}

func (rl *Relay) RoomClients(ctx context.Context, channelID domain.ChannelID) (RoomClientsInfo, error) {
	r, ok := rl.Registry.Get(channelID)
	if !ok {
		return RoomClientsInfo{}, fmt.Errorf("%w: %s", ErrNoRoom, channelID)
	}
	return RoomClientsInfo{
		ClientsIDs:       r.ClientIDs(),
		ProducerAudioIDs: r.AudioProducerIDs(),
		ProducerVideoIDs: r.VideoProducerIDs(),
	}, nil
}

func (rl *Relay) RoomInfo(ctx context.Context, channelID domain.ChannelID) (room.Stats, error) {
	r, ok := rl.Registry.Get(channelID)
	if !ok {
		return room.Stats{}, fmt.Errorf("%w: %s", ErrNoRoom, channelID)
	}
	return r.Stats(), nil
}

// WorkersInfo recomputes pool gauges from the registry and reports them.
func (rl *Relay) WorkersInfo() []pool.SlotInfo {
	rl.Pool.RefreshStats(rl.Registry.Loads())
	return rl.Pool.Snapshot()
}

// SubscribeServer joins the caller to a server's full event group.
func (rl *Relay) SubscribeServer(token string, serverID domain.ServerID) bool {
	return rl.Hub.JoinGroup(token, MemberGroup(serverID))
}

// WatchServer joins the caller to a server's occupancy-only group.
func (rl *Relay) WatchServer(token string, serverID domain.ServerID) bool {
	return rl.Hub.JoinGroup(token, BackgroundGroup(serverID))
}

// OnDisconnect releases the hub session. Room membership is left to the
// liveness monitor: a silent disconnect looks exactly like a dead client.
func (rl *Relay) OnDisconnect(token string) {
	rl.Hub.Unbind(token)
}
