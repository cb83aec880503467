package pion

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicegrid/internal/media"
)

type transport struct {
	id     string
	dir    media.Direction
	router *router
	pc     *webrtc.PeerConnection

	mu        sync.Mutex
	closed    bool
	pending   []*producer // producers waiting for their remote track
	consumers map[string]*consumer
}

func newTransport(r *router, pc *webrtc.PeerConnection, dir media.Direction) *transport {
	t := &transport{
		id:        uuid.NewString(),
		dir:       dir,
		router:    r,
		pc:        pc,
		consumers: make(map[string]*consumer),
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "media.pion").Str("transport", t.id).Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		t.matchTrack(track)
	})
	return t
}

func (t *transport) ID() string                 { return t.id }
func (t *transport) Direction() media.Direction { return t.dir }

func (t *transport) Params() media.TransportParams {
	return media.TransportParams{
		ID:         t.id,
		Direction:  t.dir,
		ICEServers: t.router.worker.iceServers,
	}
}

// matchTrack resolves a pending producer when its remote track arrives.
// Producers are matched by the track id announced at produce time, falling
// back to the oldest pending producer of the same kind.
func (t *transport) matchTrack(track *webrtc.TrackRemote) {
	kind := media.KindAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = media.KindVideo
	}

	t.mu.Lock()
	var found *producer
	idx := -1
	for i, p := range t.pending {
		if p.trackID != "" && p.trackID == track.ID() {
			found, idx = p, i
			break
		}
		if found == nil && p.kind == kind {
			found, idx = p, i
		}
	}
	if found != nil {
		t.pending = append(t.pending[:idx], t.pending[idx+1:]...)
	}
	t.mu.Unlock()

	if found == nil {
		log.Warn().Str("module", "media.pion").Str("transport", t.id).Str("track_id", track.ID()).Msg("track without pending producer, dropping")
		return
	}

	found.ssrc.Store(uint32(track.SSRC()))
	logger := log.With().Str("module", "media.pion").Str("producer", found.id).Logger()
	found.relay.start(context.Background(), track, logger)
	logger.Info().Str("kind", string(kind)).Msg("producer track live")
}

func (t *transport) Connect(ctx context.Context, p media.ConnectParams) (media.ConnectResult, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return media.ConnectResult{}, media.ErrTransportClosed
	}
	t.mu.Unlock()

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.OfferSDP}
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return media.ConnectResult{}, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return media.ConnectResult{}, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return media.ConnectResult{}, err
	}
	<-gatherComplete

	return media.ConnectResult{AnswerSDP: t.pc.LocalDescription().SDP}, nil
}

func (t *transport) Produce(ctx context.Context, params media.ProduceParams) (media.Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, media.ErrTransportClosed
	}

	p := &producer{
		id:        uuid.NewString(),
		kind:      params.Kind,
		trackID:   params.TrackID,
		transport: t,
		relay:     newRelay(),
	}
	if params.Paused {
		p.Pause()
	}
	t.pending = append(t.pending, p)
	t.router.registerProducer(p)
	return p, nil
}

func (t *transport) Consume(ctx context.Context, params media.ConsumeParams) (media.Consumer, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, media.ErrTransportClosed
	}
	t.mu.Unlock()

	prod, ok := t.router.producer(params.ProducerID)
	if !ok {
		return nil, media.ErrUnknownProducer
	}

	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if prod.kind == media.KindVideo {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}

	local, err := webrtc.NewTrackLocalStaticRTP(capability, uuid.NewString(), "voicegrid")
	if err != nil {
		return nil, err
	}
	sender, err := t.pc.AddTrack(local)
	if err != nil {
		return nil, err
	}

	// Drain incoming RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	c := &consumer{
		id:        uuid.NewString(),
		kind:      prod.kind,
		prod:      prod,
		out:       newOutTrack(local),
		sender:    sender,
		transport: t,
	}
	prod.relay.addOut(c.id, c.out)

	t.mu.Lock()
	t.consumers[c.id] = c
	t.mu.Unlock()
	return c, nil
}

func (t *transport) RestartICE(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return "", media.ErrTransportClosed
	}
	t.mu.Unlock()

	offer, err := t.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		return "", err
	}
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	<-gatherComplete
	return t.pc.LocalDescription().SDP, nil
}

func (t *transport) Stats(ctx context.Context) (map[string]any, error) {
	report := t.pc.GetStats()
	out := make(map[string]any, len(report))
	for k, v := range report {
		out[k] = v
	}
	return out, nil
}

func (t *transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	pending := t.pending
	consumers := t.consumers
	t.pending = nil
	t.consumers = make(map[string]*consumer)
	t.mu.Unlock()

	for _, p := range pending {
		p.Close()
	}
	for _, c := range consumers {
		c.Close()
	}
	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "media.pion").Str("transport", t.id).Msg("close error")
	}
	t.router.dropTransport(t.id)
}

func (t *transport) dropConsumer(id string) {
	t.mu.Lock()
	delete(t.consumers, id)
	t.mu.Unlock()
}
