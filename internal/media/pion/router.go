package pion

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicegrid/internal/media"
)

type router struct {
	id     string
	worker *worker

	mu         sync.RWMutex
	closed     bool
	transports map[string]*transport
	producers  map[string]*producer
}

func newRouter(w *worker) *router {
	return &router{
		id:         uuid.NewString(),
		worker:     w,
		transports: make(map[string]*transport),
		producers:  make(map[string]*producer),
	}
}

func (r *router) ID() string { return r.id }

func (r *router) Capabilities() media.Capabilities {
	return media.Capabilities{Codecs: []media.CodecCapability{
		{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, FMTP: "minptime=10;useinbandfec=1"},
		{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
	}}
}

func (r *router) CreateTransport(ctx context.Context, dir media.Direction) (media.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, media.ErrRouterClosed
	}

	cfg := webrtc.Configuration{}
	for _, u := range r.worker.iceServers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{URLs: []string{u}})
	}
	pc, err := r.worker.api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	t := newTransport(r, pc, dir)
	r.transports[t.id] = t
	log.Info().Str("module", "media.pion").Str("router", r.id).Str("transport", t.id).Str("dir", string(dir)).Msg("transport created")
	return t, nil
}

func (r *router) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := r.transports
	r.transports = make(map[string]*transport)
	r.producers = make(map[string]*producer)
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	log.Info().Str("module", "media.pion").Str("router", r.id).Msg("router closed")
}

func (r *router) registerProducer(p *producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *router) unregisterProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *router) producer(id string) (*producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *router) dropTransport(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}
