package pion

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type trackState int32

const (
	trackStateOk trackState = iota
	trackStateMuted
	trackStateDelete
)

// outTrack represents a single outgoing track to a subscriber.
type outTrack struct {
	track *webrtc.TrackLocalStaticRTP
	state atomic.Int32 // zero value is trackStateOk
}

func newOutTrack(track *webrtc.TrackLocalStaticRTP) *outTrack {
	return &outTrack{track: track}
}

func (ot *outTrack) getState() trackState { return trackState(ot.state.Load()) }
func (ot *outTrack) markOk()              { ot.state.Store(int32(trackStateOk)) }
func (ot *outTrack) markMuted()           { ot.state.Store(int32(trackStateMuted)) }
func (ot *outTrack) markDelete()          { ot.state.Store(int32(trackStateDelete)) }

// relay fans a producer's RTP out to its consumers' local tracks.
type relay struct {
	mu  sync.RWMutex
	src *webrtc.TrackRemote
	out map[string]*outTrack

	srcMuted atomic.Bool
	packets  atomic.Uint64
	cancel   context.CancelFunc
}

func newRelay() *relay {
	return &relay{out: make(map[string]*outTrack)}
}

// start binds the relay to its remote track and launches the forward loop.
func (r *relay) start(ctx context.Context, src *webrtc.TrackRemote, logger zerolog.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.src = src
	r.cancel = cancel
	r.mu.Unlock()
	go r.loop(ctx, logger)
}

func (r *relay) loop(ctx context.Context, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			logger.Error().Err(err).Msg("relay read RTP error, stopping")
			r.markAllDelete()
			return
		}
		r.packets.Add(1)
		if r.srcMuted.Load() {
			continue
		}
		r.forward(pkt, logger)
	}
}

func (r *relay) forward(pkt *rtp.Packet, logger zerolog.Logger) {
	r.mu.RLock()
	dirty := false
	for id, ot := range r.out {
		switch ot.getState() {
		case trackStateDelete:
			dirty = true
			continue
		case trackStateMuted:
			continue
		}
		if err := ot.track.WriteRTP(pkt); err != nil {
			logger.Error().Err(err).Str("consumer", id).Msg("relay write RTP error, marking outtrack as delete")
			ot.markDelete()
			dirty = true
		}
	}
	r.mu.RUnlock()

	// Cleanup is done outside the RLock.
	if dirty {
		r.cleanupDeleted()
	}
}

func (r *relay) cleanupDeleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ot := range r.out {
		if ot.getState() == trackStateDelete {
			delete(r.out, id)
		}
	}
}

func (r *relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.out {
		ot.markDelete()
	}
}

func (r *relay) addOut(id string, ot *outTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out[id] = ot
}

func (r *relay) removeOut(id string) {
	r.mu.RLock()
	ot, ok := r.out[id]
	r.mu.RUnlock()
	if ok {
		ot.markDelete()
	}
}

func (r *relay) stop() {
	r.mu.RLock()
	cancel := r.cancel
	r.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	r.markAllDelete()
}
