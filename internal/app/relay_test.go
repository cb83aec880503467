package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicegrid/internal/app"
	"github.com/dkeye/voicegrid/internal/directory"
	"github.com/dkeye/voicegrid/internal/domain"
	"github.com/dkeye/voicegrid/internal/liveness"
	"github.com/dkeye/voicegrid/internal/media/mediatest"
	"github.com/dkeye/voicegrid/internal/pool"
	"github.com/dkeye/voicegrid/internal/presence"
	"github.com/dkeye/voicegrid/internal/room"
)

type fixture struct {
	relay  *app.Relay
	engine *mediatest.Engine
	dir    *directory.Memory
	pres   *presence.Memory
}

// newFixture seeds srv-1 with two voice channels and users u1..u7, each
// reachable under token tok-uN.
func newFixture(t *testing.T, workers int) *fixture {
	t.Helper()
	ctx := context.Background()

	engine := mediatest.NewEngine()
	p, err := pool.Init(ctx, engine, workers)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	dir := directory.NewMemory()
	dir.AddChannel(domain.Channel{ID: "ch-1", ServerID: "srv-1", Name: "general", IsVoice: true, IsServerChannel: true})
	dir.AddChannel(domain.Channel{ID: "ch-2", ServerID: "srv-1", Name: "gaming", IsVoice: true, IsServerChannel: true})
	dir.AddChannel(domain.Channel{ID: "ch-text", ServerID: "srv-1", Name: "chat", IsVoice: false, IsServerChannel: true})

	pres := presence.NewMemory()
	for i := 1; i <= 7; i++ {
		uid := fmt.Sprintf("u%d", i)
		dir.AddMembership(domain.Membership{
			ID:       domain.MembershipID("ms-" + uid),
			ServerID: "srv-1",
			User:     domain.MemberUser{ID: domain.UserID(uid), Nickname: "User " + uid},
		})
		require.NoError(t, pres.Set(ctx, "tok-"+uid, uid))
	}

	rl := &app.Relay{
		Registry:  room.NewRegistry(p),
		Pool:      p,
		Hub:       app.NewHub(),
		Directory: dir,
		Presence:  pres,
		Tracker:   liveness.NewTracker(),
	}
	return &fixture{relay: rl, engine: engine, dir: dir, pres: pres}
}

func (f *fixture) join(t *testing.T, user, channel string) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	f.relay.Register(context.Background(), "tok-"+user, conn)
	require.NoError(t, f.relay.JoinRoom(context.Background(), "tok-"+user, conn, domain.ChannelID(channel), "web"))
	return conn
}

func TestJoinRoomSharesOneRoomPerChannel(t *testing.T) {
	f := newFixture(t, 2)
	f.join(t, "u1", "ch-1")
	f.join(t, "u2", "ch-1")

	assert.Equal(t, 1, f.relay.Registry.Len())
	assert.Equal(t, int32(1), f.engine.RouterCreations.Load())

	r, ok := f.relay.Registry.Get("ch-1")
	require.True(t, ok)
	assert.ElementsMatch(t, []domain.UserID{"u1", "u2"}, r.ClientIDs())
	assert.Equal(t, 0, r.WorkerIndex())
}

func TestJoinRoomRejectsTextChannel(t *testing.T) {
	f := newFixture(t, 1)
	conn := &fakeConn{}
	err := f.relay.JoinRoom(context.Background(), "tok-u1", conn, "ch-text", "web")
	require.ErrorIs(t, err, app.ErrNotVoice)
}

func TestJoinRoomUnknownToken(t *testing.T) {
	f := newFixture(t, 1)
	err := f.relay.JoinRoom(context.Background(), "tok-stranger", &fakeConn{}, "ch-1", "web")
	require.ErrorIs(t, err, app.ErrUnknownUser)
}

func TestJoinMovesUserBetweenChannels(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	f.join(t, "u1", "ch-1")
	f.join(t, "u1", "ch-2")

	// At most one active call per user: the first room emptied and went away.
	_, ok := f.relay.Registry.Get("ch-1")
	assert.False(t, ok)
	r, ok := f.relay.Registry.Get("ch-2")
	require.True(t, ok)
	assert.Equal(t, []domain.UserID{"u1"}, r.ClientIDs())

	channels, err := f.dir.ChannelsWithUserInCall(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, domain.ChannelID("ch-2"), channels[0].ID)
}

func TestServerChannelJoinBroadcasts(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	member := &fakeConn{}
	f.relay.Register(ctx, "tok-u2", member)
	require.True(t, f.relay.SubscribeServer("tok-u2", "srv-1"))

	watcher := &fakeConn{}
	f.relay.Register(ctx, "tok-u3", watcher)
	require.True(t, f.relay.WatchServer("tok-u3", "srv-1"))

	f.join(t, "u1", "ch-1")

	typ, data := member.lastEvent(t)
	assert.Equal(t, "joinedChannel", typ)
	var ev struct {
		Channel    domain.ChannelRef `json:"channel"`
		Membership domain.Membership `json:"membership"`
	}
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, domain.ChannelID("ch-1"), ev.Channel.ID)
	assert.Equal(t, domain.UserID("u1"), ev.Membership.User.ID)
	require.NotNil(t, ev.Membership.Channel)
	assert.Equal(t, domain.ChannelID("ch-1"), ev.Membership.Channel.ID)

	typ, data = watcher.lastEvent(t)
	assert.Equal(t, "firstUsersInChannel", typ)
	var sum domain.OccupancySummary
	require.NoError(t, json.Unmarshal(data, &sum))
	assert.Equal(t, domain.ServerID("srv-1"), sum.ServerID)
	assert.Equal(t, 1, sum.TotalUsersInChannels)
}

func TestOccupancySummaryIsCapped(t *testing.T) {
	f := newFixture(t, 1)
	watcher := &fakeConn{}
	f.relay.Register(context.Background(), "tok-watch", watcher)
	require.True(t, f.relay.WatchServer("tok-watch", "srv-1"))

	for i := 1; i <= 7; i++ {
		f.join(t, fmt.Sprintf("u%d", i), "ch-1")
	}

	typ, data := watcher.lastEvent(t)
	require.Equal(t, "firstUsersInChannel", typ)
	var sum domain.OccupancySummary
	require.NoError(t, json.Unmarshal(data, &sum))
	assert.Len(t, sum.FirstUsersInChannels, domain.OccupancySummaryCap)
	assert.Equal(t, 7, sum.TotalUsersInChannels)
}

func TestLeaveRoomRemovesEmptyRoom(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	member := &fakeConn{}
	f.relay.Register(ctx, "tok-u2", member)
	require.True(t, f.relay.SubscribeServer("tok-u2", "srv-1"))

	f.join(t, "u1", "ch-1")
	require.NoError(t, f.relay.Ping(ctx, "tok-u1"))

	require.NoError(t, f.relay.LeaveRoom(ctx, "tok-u1", "ch-1"))

	_, ok := f.relay.Registry.Get("ch-1")
	assert.False(t, ok)
	assert.Equal(t, 0, f.relay.Tracker.Len())

	typ, _ := member.lastEvent(t)
	assert.Equal(t, "leavedChannel", typ)

	channels, err := f.dir.ChannelsWithUserInCall(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, channels)
}

func TestMediaRequiresActiveRoom(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.relay.Media(context.Background(), "tok-u1", "ch-1", room.ActionGetRouterRtpCapabilities, nil)
	require.ErrorIs(t, err, app.ErrNoRoom)
}

func TestMediaDispatchesToRoom(t *testing.T) {
	f := newFixture(t, 1)
	f.join(t, "u1", "ch-1")

	res, err := f.relay.Media(context.Background(), "tok-u1", "ch-1", room.ActionGetAudioProducerIDs, nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestReconfigureSkipsOnLeastLoadedWorker(t *testing.T) {
	f := newFixture(t, 1)
	f.join(t, "u1", "ch-1")

	results, err := f.relay.Reconfigure(context.Background(), "tok-u1", "ch-1")
	require.NoError(t, err)
	assert.Nil(t, results)

	// No second router was ever created.
	assert.Equal(t, int32(1), f.engine.RouterCreations.Load())
}

func TestReconfigureMigratesToIdleWorker(t *testing.T) {
	f := newFixture(t, 2)
	f.join(t, "u1", "ch-1")

	r, ok := f.relay.Registry.Get("ch-1")
	require.True(t, ok)
	require.Equal(t, 0, r.WorkerIndex())

	results, err := f.relay.Reconfigure(context.Background(), "tok-u1", "ch-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Degraded)
	assert.Equal(t, 1, r.WorkerIndex())
}

func TestRoomClientsAndInfo(t *testing.T) {
	f := newFixture(t, 1)
	f.join(t, "u1", "ch-1")

	info, err := f.relay.RoomClients(context.Background(), "ch-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"u1"}, info.ClientsIDs)
	assert.Empty(t, info.ProducerAudioIDs)

	stats, err := f.relay.RoomInfo(context.Background(), "ch-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionID("ch-1"), stats.SessionID)
	assert.Equal(t, 1, stats.Clients)
}

func TestWorkersInfoReflectsLoad(t *testing.T) {
	f := newFixture(t, 2)
	f.join(t, "u1", "ch-1")
	f.join(t, "u2", "ch-1")
	f.join(t, "u3", "ch-2")

	infos := f.relay.WorkersInfo()
	require.Len(t, infos, 2)
	assert.Equal(t, 2, infos[0].ClientsCount)
	assert.Equal(t, 1, infos[0].RoomsCount)
	assert.Equal(t, 1, infos[1].ClientsCount)
	assert.Equal(t, 1, infos[1].RoomsCount)
}

func TestPingBeatsTracker(t *testing.T) {
	f := newFixture(t, 1)
	require.ErrorIs(t, f.relay.Ping(context.Background(), "tok-stranger"), app.ErrUnknownUser)

	require.NoError(t, f.relay.Ping(context.Background(), "tok-u1"))
	assert.Equal(t, 1, f.relay.Tracker.Len())
}
