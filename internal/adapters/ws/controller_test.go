package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

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

func dispatchFixture(t *testing.T) (*Controller, *Conn) {
	t.Helper()
	ctx := context.Background()

	p, err := pool.Init(ctx, mediatest.NewEngine(), 1)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	dir := directory.NewMemory()
	dir.AddChannel(domain.Channel{ID: "ch-1", ServerID: "srv-1", Name: "general", IsVoice: true})
	dir.AddMembership(domain.Membership{ID: "ms-alice", ServerID: "srv-1", User: domain.MemberUser{ID: "alice", Nickname: "Alice"}})

	pres := presence.NewMemory()
	require.NoError(t, pres.Set(ctx, "tok", "alice"))

	ctl := &Controller{
		Relay: &app.Relay{
			Registry:  room.NewRegistry(p),
			Pool:      p,
			Hub:       app.NewHub(),
			Directory: dir,
			Presence:  pres,
			Tracker:   liveness.NewTracker(),
		},
		SendBuffer: 8,
		Limiter:    NewRateLimiter(100, time.Second),
	}

	conn := newConn(nil, ctl.SendBuffer, "web")
	ctl.Relay.Register(ctx, "tok", conn)
	return ctl, conn
}

func reply(t *testing.T, c *Conn) map[string]any {
	t.Helper()
	select {
	case b := <-c.send:
		var out map[string]any
		require.NoError(t, json.Unmarshal(b, &out))
		return out
	default:
		t.Fatal("no frame queued")
		return nil
	}
}

func TestDispatchPing(t *testing.T) {
	ctl, conn := dispatchFixture(t)
	ctl.handleSignal(context.Background(), "tok", conn, []byte(`{"type":"ping"}`))

	assert.Equal(t, "pong", reply(t, conn)["type"])
	assert.Equal(t, 1, ctl.Relay.Tracker.Len())
}

func TestDispatchJoinAndLeave(t *testing.T) {
	ctl, conn := dispatchFixture(t)
	ctx := context.Background()

	ctl.handleSignal(ctx, "tok", conn, []byte(`{"type":"joinRoom","channelId":"ch-1"}`))
	frame := reply(t, conn)
	assert.Equal(t, "joinedRoom", frame["type"])
	assert.Equal(t, "ch-1", frame["channelId"])
	assert.Equal(t, 1, ctl.Relay.Registry.Len())

	ctl.handleSignal(ctx, "tok", conn, []byte(`{"type":"mediaRoomClients","channelId":"ch-1"}`))
	frame = reply(t, conn)
	assert.Equal(t, "mediaRoomClients", frame["type"])

	ctl.handleSignal(ctx, "tok", conn, []byte(`{"type":"leaveRoom","channelId":"ch-1"}`))
	assert.Equal(t, "leftRoom", reply(t, conn)["type"])
	assert.Equal(t, 0, ctl.Relay.Registry.Len())
}

func TestDispatchMediaAction(t *testing.T) {
	ctl, conn := dispatchFixture(t)
	ctx := context.Background()

	ctl.handleSignal(ctx, "tok", conn, []byte(`{"type":"joinRoom","channelId":"ch-1"}`))
	reply(t, conn)

	ctl.handleSignal(ctx, "tok", conn, []byte(`{"type":"media","channelId":"ch-1","action":"getRouterRtpCapabilities"}`))
	frame := reply(t, conn)
	assert.Equal(t, "media", frame["type"])
	assert.Equal(t, "getRouterRtpCapabilities", frame["action"])
	assert.NotNil(t, frame["data"])
}

func TestDispatchErrors(t *testing.T) {
	ctl, conn := dispatchFixture(t)
	ctx := context.Background()

	ctl.handleSignal(ctx, "tok", conn, []byte(`not json`))
	assert.Equal(t, "error", reply(t, conn)["type"])

	ctl.handleSignal(ctx, "tok", conn, []byte(`{"type":"selfDestruct"}`))
	frame := reply(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "selfDestruct", frame["request"])

	// Media against no room.
	ctl.handleSignal(ctx, "tok", conn, []byte(`{"type":"media","channelId":"ch-1","action":"produce"}`))
	assert.Equal(t, "error", reply(t, conn)["type"])
}

func TestDispatchRateLimited(t *testing.T) {
	ctl, conn := dispatchFixture(t)
	ctl.Limiter = NewRateLimiter(1, time.Minute)
	ctx := context.Background()

	ctl.handleSignal(ctx, "tok", conn, []byte(`{"type":"ping"}`))
	reply(t, conn)

	ctl.handleSignal(ctx, "tok", conn, []byte(`{"type":"ping"}`))
	frame := reply(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "rate limited", frame["error"])
}

func TestDispatchWorkersInfo(t *testing.T) {
	ctl, conn := dispatchFixture(t)
	ctl.handleSignal(context.Background(), "tok", conn, []byte(`{"type":"workersInfo"}`))
	frame := reply(t, conn)
	assert.Equal(t, "workersInfo", frame["type"])
	assert.Len(t, frame["data"], 1)
}
