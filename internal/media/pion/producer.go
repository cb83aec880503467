package pion

import (
	"context"
	"sync/atomic"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicegrid/internal/media"
)

type producer struct {
	id        string
	kind      media.Kind
	trackID   string
	transport *transport
	relay     *relay
	ssrc      atomic.Uint32
	closed    atomic.Bool
}

func (p *producer) ID() string       { return p.id }
func (p *producer) Kind() media.Kind { return p.kind }

func (p *producer) Pause()       { p.relay.srcMuted.Store(true) }
func (p *producer) Resume()      { p.relay.srcMuted.Store(false) }
func (p *producer) Paused() bool { return p.relay.srcMuted.Load() }

func (p *producer) Stats(ctx context.Context) (map[string]any, error) {
	return map[string]any{
		"id":          p.id,
		"kind":        p.kind,
		"paused":      p.Paused(),
		"packetCount": p.relay.packets.Load(),
	}, nil
}

func (p *producer) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.relay.stop()
	p.transport.router.unregisterProducer(p.id)
}

type consumer struct {
	id        string
	kind      media.Kind
	prod      *producer
	out       *outTrack
	sender    *webrtc.RTPSender
	transport *transport
	closed    atomic.Bool
}

func (c *consumer) ID() string         { return c.id }
func (c *consumer) ProducerID() string { return c.prod.id }
func (c *consumer) Kind() media.Kind   { return c.kind }

func (c *consumer) Pause()  { c.out.markMuted() }
func (c *consumer) Resume() { c.out.markOk() }

// RequestKeyFrame asks the producing client for a full frame via PLI.
func (c *consumer) RequestKeyFrame() {
	ssrc := c.prod.ssrc.Load()
	if ssrc == 0 {
		return
	}
	err := c.prod.transport.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: ssrc},
	})
	if err != nil {
		log.Error().Err(err).Str("module", "media.pion").Str("consumer", c.id).Msg("PLI write error")
	}
}

func (c *consumer) Stats(ctx context.Context) (map[string]any, error) {
	return map[string]any{
		"id":         c.id,
		"producerId": c.prod.id,
		"kind":       c.kind,
		"paused":     c.out.getState() == trackStateMuted,
	}, nil
}

func (c *consumer) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.prod.relay.removeOut(c.id)
	if c.sender != nil {
		_ = c.sender.Stop()
	}
	c.transport.dropConsumer(c.id)
}
