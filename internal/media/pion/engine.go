// Package pion implements the media engine contract on top of pion/webrtc.
// Each worker gets its own webrtc.API with a private slice of the configured
// UDP port range, so worker load maps to distinct sockets like the
// out-of-process engine it stands in for.
package pion

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicegrid/internal/media"
)

type Engine struct {
	minPort    int
	maxPort    int
	slice      int
	iceServers []string

	mu      sync.Mutex
	created int
}

type Option func(*Engine)

func WithICEServers(urls []string) Option {
	return func(e *Engine) { e.iceServers = urls }
}

// NewEngine carves the [minPort, maxPort] UDP range into `workers` slices,
// one per worker that will be created.
func NewEngine(minPort, maxPort, workers int, opts ...Option) (*Engine, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("pion: worker count must be positive, got %d", workers)
	}
	if maxPort-minPort+1 < workers {
		return nil, fmt.Errorf("pion: port range %d-%d too small for %d workers", minPort, maxPort, workers)
	}
	e := &Engine{
		minPort:    minPort,
		maxPort:    maxPort,
		slice:      (maxPort - minPort + 1) / workers,
		iceServers: []string{"stun:stun.l.google.com:19302"},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) CreateWorker(ctx context.Context) (media.Worker, error) {
	e.mu.Lock()
	index := e.created
	e.created++
	e.mu.Unlock()

	lo := e.minPort + index*e.slice
	hi := lo + e.slice - 1
	if hi > e.maxPort {
		hi = e.maxPort
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("pion: register codecs: %w", err)
	}

	se := webrtc.SettingEngine{}
	if err := se.SetEphemeralUDPPortRange(uint16(lo), uint16(hi)); err != nil {
		return nil, fmt.Errorf("pion: set port range %d-%d: %w", lo, hi, err)
	}

	w := &worker{
		api:        webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se)),
		pid:        os.Getpid(),
		iceServers: e.iceServers,
	}
	log.Info().Str("module", "media.pion").Int("index", index).Int("port_lo", lo).Int("port_hi", hi).Msg("worker created")
	return w, nil
}

type worker struct {
	api        *webrtc.API
	pid        int
	iceServers []string

	mu      sync.Mutex
	routers []*router
}

func (w *worker) PID() int { return w.pid }

func (w *worker) CreateRouter(ctx context.Context) (media.Router, error) {
	r := newRouter(w)
	w.mu.Lock()
	w.routers = append(w.routers, r)
	w.mu.Unlock()
	return r, nil
}

func (w *worker) Close() {
	w.mu.Lock()
	routers := w.routers
	w.routers = nil
	w.mu.Unlock()
	for _, r := range routers {
		r.Close()
	}
}
