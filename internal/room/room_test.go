package room_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicegrid/internal/domain"
	"github.com/dkeye/voicegrid/internal/media"
	"github.com/dkeye/voicegrid/internal/media/mediatest"
	"github.com/dkeye/voicegrid/internal/pool"
	"github.com/dkeye/voicegrid/internal/room"
)

type recordConn struct {
	frames [][]byte
}

func (c *recordConn) TrySend(data []byte) error {
	c.frames = append(c.frames, data)
	return nil
}

func newTestRoom(t *testing.T, engine *mediatest.Engine) *room.Room {
	t.Helper()
	ctx := context.Background()
	p, err := pool.Init(ctx, engine, 1)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	slot := p.Place(nil)
	r := room.New("session-1", slot)
	require.NoError(t, r.Load(ctx))
	return r
}

func join(t *testing.T, r *room.Room, uid domain.UserID) *recordConn {
	t.Helper()
	conn := &recordConn{}
	require.NoError(t, r.AddClient(context.Background(), room.ClientQuery{UserID: uid, Device: "web"}, conn))
	return conn
}

// setupProducer walks a client through transport creation, connect and
// produce, returning the producer id.
func setupProducer(t *testing.T, r *room.Room, uid domain.UserID, kind media.Kind) string {
	t.Helper()
	ctx := context.Background()

	res, err := r.RelayMediaAction(ctx, uid, room.ActionCreateWebRtcTransport,
		json.RawMessage(`{"direction":"send"}`))
	require.NoError(t, err)
	params := res.(media.TransportParams)

	connectData, _ := json.Marshal(map[string]string{"transportId": params.ID, "offerSdp": "offer"})
	_, err = r.RelayMediaAction(ctx, uid, room.ActionConnectWebRtcTransport, connectData)
	require.NoError(t, err)

	produceData, _ := json.Marshal(map[string]string{
		"transportId": params.ID, "kind": string(kind), "trackId": "track-" + string(uid),
	})
	res, err = r.RelayMediaAction(ctx, uid, room.ActionProduce, produceData)
	require.NoError(t, err)
	return res.(map[string]any)["id"].(string)
}

func setupConsumer(t *testing.T, r *room.Room, uid domain.UserID, producerID string) string {
	t.Helper()
	ctx := context.Background()

	res, err := r.RelayMediaAction(ctx, uid, room.ActionCreateWebRtcTransport,
		json.RawMessage(`{"direction":"recv"}`))
	require.NoError(t, err)
	params := res.(media.TransportParams)

	consumeData, _ := json.Marshal(map[string]string{"transportId": params.ID, "producerId": producerID})
	res, err = r.RelayMediaAction(ctx, uid, room.ActionConsume, consumeData)
	require.NoError(t, err)
	return res.(map[string]any)["id"].(string)
}

func TestAddClientIsIdempotent(t *testing.T) {
	r := newTestRoom(t, mediatest.NewEngine())
	join(t, r, "alice")
	setupProducer(t, r, "alice", media.KindAudio)

	// Re-join swaps the connection but keeps media state.
	join(t, r, "alice")
	assert.Equal(t, 1, r.ClientsCount())
	assert.Len(t, r.AudioProducerIDs(), 1)
}

func TestRemoveClientReportsRemaining(t *testing.T) {
	r := newTestRoom(t, mediatest.NewEngine())
	join(t, r, "alice")
	join(t, r, "bob")

	assert.Equal(t, 1, r.RemoveClient(context.Background(), "alice"))
	assert.Equal(t, 0, r.RemoveClient(context.Background(), "bob"))
	// Unknown user is a no-op.
	assert.Equal(t, 0, r.RemoveClient(context.Background(), "nobody"))
}

func TestUnknownActionFails(t *testing.T) {
	r := newTestRoom(t, mediatest.NewEngine())
	join(t, r, "alice")

	_, err := r.RelayMediaAction(context.Background(), "alice", "teleport", nil)
	require.ErrorIs(t, err, room.ErrInvalidAction)
}

func TestActionForUnknownClientFails(t *testing.T) {
	r := newTestRoom(t, mediatest.NewEngine())

	_, err := r.RelayMediaAction(context.Background(), "ghost", room.ActionCreateWebRtcTransport,
		json.RawMessage(`{"direction":"send"}`))
	require.ErrorIs(t, err, room.ErrNoClient)
}

func TestGetRouterRtpCapabilities(t *testing.T) {
	r := newTestRoom(t, mediatest.NewEngine())
	join(t, r, "alice")

	res, err := r.RelayMediaAction(context.Background(), "alice", room.ActionGetRouterRtpCapabilities, nil)
	require.NoError(t, err)
	caps := res.(media.Capabilities)
	assert.NotEmpty(t, caps.Codecs)
}

func TestProduceBroadcastsNewProducer(t *testing.T) {
	r := newTestRoom(t, mediatest.NewEngine())
	alice := join(t, r, "alice")
	bob := join(t, r, "bob")

	producerID := setupProducer(t, r, "alice", media.KindAudio)

	// Only the other member hears about it.
	assert.Empty(t, alice.frames)
	require.Len(t, bob.frames, 1)

	var ev struct {
		Type       string `json:"type"`
		UserID     string `json:"userId"`
		ProducerID string `json:"producerId"`
		Kind       string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(bob.frames[0], &ev))
	assert.Equal(t, "newProducer", ev.Type)
	assert.Equal(t, "alice", ev.UserID)
	assert.Equal(t, producerID, ev.ProducerID)
	assert.Equal(t, "audio", ev.Kind)
}

func TestProducerIDAccessors(t *testing.T) {
	r := newTestRoom(t, mediatest.NewEngine())
	join(t, r, "alice")
	join(t, r, "bob")

	audioID := setupProducer(t, r, "alice", media.KindAudio)
	videoID := setupProducer(t, r, "bob", media.KindVideo)

	assert.Equal(t, []string{audioID}, r.AudioProducerIDs())
	assert.Equal(t, []string{videoID}, r.VideoProducerIDs())

	stats := r.Stats()
	assert.Equal(t, 2, stats.Clients)
	assert.Equal(t, 1, stats.AudioTracks)
	assert.Equal(t, 1, stats.VideoTracks)
}

func TestProducerControl(t *testing.T) {
	r := newTestRoom(t, mediatest.NewEngine())
	join(t, r, "alice")
	setupProducer(t, r, "alice", media.KindAudio)

	ctx := context.Background()
	_, err := r.RelayMediaAction(ctx, "alice", room.ActionProducerPause, json.RawMessage(`{"kind":"audio"}`))
	require.NoError(t, err)
	res, err := r.RelayMediaAction(ctx, "alice", room.ActionGetProducerStats, json.RawMessage(`{"kind":"audio"}`))
	require.NoError(t, err)
	assert.Equal(t, true, res.(map[string]any)["paused"])

	_, err = r.RelayMediaAction(ctx, "alice", room.ActionProducerClose, json.RawMessage(`{"kind":"audio"}`))
	require.NoError(t, err)
	assert.Empty(t, r.AudioProducerIDs())

	// Controls on a closed producer fail.
	_, err = r.RelayMediaAction(ctx, "alice", room.ActionProducerResume, json.RawMessage(`{"kind":"audio"}`))
	require.ErrorIs(t, err, media.ErrUnknownProducer)
}

func TestAllProducerControl(t *testing.T) {
	r := newTestRoom(t, mediatest.NewEngine())
	join(t, r, "alice")
	setupProducer(t, r, "alice", media.KindAudio)
	setupProducer(t, r, "alice", media.KindVideo)

	_, err := r.RelayMediaAction(context.Background(), "alice", room.ActionAllProducerClose, nil)
	require.NoError(t, err)
	assert.Empty(t, r.AudioProducerIDs())
	assert.Empty(t, r.VideoProducerIDs())
}

func TestConsumeAndConsumerControl(t *testing.T) {
	r := newTestRoom(t, mediatest.NewEngine())
	join(t, r, "alice")
	join(t, r, "bob")

	producerID := setupProducer(t, r, "alice", media.KindAudio)
	consumerID := setupConsumer(t, r, "bob", producerID)

	ctx := context.Background()
	data, _ := json.Marshal(map[string]string{"consumerId": consumerID})

	_, err := r.RelayMediaAction(ctx, "bob", room.ActionPauseAudioConsumer, data)
	require.NoError(t, err)
	res, err := r.RelayMediaAction(ctx, "bob", room.ActionGetConsumerStats, data)
	require.NoError(t, err)
	assert.Equal(t, true, res.(map[string]any)["paused"])

	_, err = r.RelayMediaAction(ctx, "bob", room.ActionRequestConsumerKeyFrame, data)
	require.NoError(t, err)

	// Consuming an unknown producer fails.
	res, err = r.RelayMediaAction(ctx, "bob", room.ActionCreateWebRtcTransport, json.RawMessage(`{"direction":"recv"}`))
	require.NoError(t, err)
	params := res.(media.TransportParams)
	badConsume, _ := json.Marshal(map[string]string{"transportId": params.ID, "producerId": "no-such"})
	_, err = r.RelayMediaAction(ctx, "bob", room.ActionConsume, badConsume)
	require.ErrorIs(t, err, media.ErrUnknownProducer)
}

func TestRestartICEAndTransportStats(t *testing.T) {
	r := newTestRoom(t, mediatest.NewEngine())
	join(t, r, "alice")

	ctx := context.Background()
	res, err := r.RelayMediaAction(ctx, "alice", room.ActionCreateWebRtcTransport, json.RawMessage(`{"direction":"send"}`))
	require.NoError(t, err)
	params := res.(media.TransportParams)

	data, _ := json.Marshal(map[string]string{"transportId": params.ID})
	res, err = r.RelayMediaAction(ctx, "alice", room.ActionRestartICE, data)
	require.NoError(t, err)
	assert.NotEmpty(t, res.(map[string]string)["offerSdp"])

	res, err = r.RelayMediaAction(ctx, "alice", room.ActionGetTransportStats, data)
	require.NoError(t, err)
	assert.Equal(t, params.ID, res.(map[string]any)["id"])

	// Stats for a transport the client does not own.
	bad, _ := json.Marshal(map[string]string{"transportId": "other"})
	_, err = r.RelayMediaAction(ctx, "alice", room.ActionGetTransportStats, bad)
	require.ErrorIs(t, err, room.ErrNoTransport)
}

func TestBadDirectionAndKindRejected(t *testing.T) {
	r := newTestRoom(t, mediatest.NewEngine())
	join(t, r, "alice")

	ctx := context.Background()
	_, err := r.RelayMediaAction(ctx, "alice", room.ActionCreateWebRtcTransport, json.RawMessage(`{"direction":"sideways"}`))
	require.ErrorIs(t, err, room.ErrInvalidAction)

	_, err = r.RelayMediaAction(ctx, "alice", room.ActionProduce, json.RawMessage(`{"kind":"smell"}`))
	require.ErrorIs(t, err, room.ErrInvalidAction)
}

func TestCloseIsIdempotent(t *testing.T) {
	engine := mediatest.NewEngine()
	r := newTestRoom(t, engine)
	join(t, r, "alice")

	r.Close()
	r.Close()

	routers := engine.Workers()[0].Routers()
	require.Len(t, routers, 1)
	assert.Equal(t, int32(1), routers[0].CloseCount.Load())

	// Joining a closed room fails.
	err := r.AddClient(context.Background(), room.ClientQuery{UserID: "bob"}, &recordConn{})
	require.ErrorIs(t, err, room.ErrRoomClosed)
}
