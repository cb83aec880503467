// Package mediatest provides a deterministic in-memory media engine used by
// tests. It counts resource creations and lets tests inject failures.
package mediatest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voicegrid/internal/media"
)

type Engine struct {
	mu      sync.Mutex
	workers []*Worker

	// WorkerErr, when set, makes CreateWorker fail.
	WorkerErr error
	// ProduceHook, when set, is consulted before every produce. Returning an
	// error fails that produce call only.
	ProduceHook func(p media.ProduceParams) error

	RouterCreations atomic.Int32
}

func NewEngine() *Engine { return &Engine{} }

func (e *Engine) CreateWorker(ctx context.Context) (media.Worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.WorkerErr != nil {
		return nil, e.WorkerErr
	}
	w := &Worker{engine: e, pid: 1000 + len(e.workers)}
	e.workers = append(e.workers, w)
	return w, nil
}

func (e *Engine) Workers() []*Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Worker(nil), e.workers...)
}

type Worker struct {
	engine *Engine
	pid    int

	mu      sync.Mutex
	routers []*Router

	RouterCount atomic.Int32
	Closed      atomic.Bool
}

func (w *Worker) PID() int { return w.pid }

func (w *Worker) CreateRouter(ctx context.Context) (media.Router, error) {
	n := w.RouterCount.Add(1)
	w.engine.RouterCreations.Add(1)
	r := &Router{
		engine:    w.engine,
		id:        fmt.Sprintf("router-%d-%d", w.pid, n),
		producers: make(map[string]*Producer),
	}
	w.mu.Lock()
	w.routers = append(w.routers, r)
	w.mu.Unlock()
	return r, nil
}

func (w *Worker) Routers() []*Router {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*Router(nil), w.routers...)
}

func (w *Worker) Close() { w.Closed.Store(true) }

type Router struct {
	engine *Engine
	id     string

	mu        sync.Mutex
	closed    bool
	seq       int
	producers map[string]*Producer

	CloseCount atomic.Int32
}

func (r *Router) ID() string { return r.id }

func (r *Router) Capabilities() media.Capabilities {
	return media.Capabilities{Codecs: []media.CodecCapability{
		{MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{MimeType: "video/VP8", ClockRate: 90000},
	}}
}

func (r *Router) CreateTransport(ctx context.Context, dir media.Direction) (media.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, media.ErrRouterClosed
	}
	r.seq++
	return &Transport{
		router: r,
		id:     fmt.Sprintf("%s-transport-%d", r.id, r.seq),
		dir:    dir,
	}, nil
}

func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.CloseCount.Add(1)
}

type Transport struct {
	router *Router
	id     string
	dir    media.Direction

	Connected atomic.Bool
	ClosedF   atomic.Bool
}

func (t *Transport) ID() string                 { return t.id }
func (t *Transport) Direction() media.Direction { return t.dir }

func (t *Transport) Params() media.TransportParams {
	return media.TransportParams{ID: t.id, Direction: t.dir}
}

func (t *Transport) Connect(ctx context.Context, p media.ConnectParams) (media.ConnectResult, error) {
	if t.ClosedF.Load() {
		return media.ConnectResult{}, media.ErrTransportClosed
	}
	t.Connected.Store(true)
	return media.ConnectResult{AnswerSDP: "answer:" + p.OfferSDP}, nil
}

func (t *Transport) Produce(ctx context.Context, p media.ProduceParams) (media.Producer, error) {
	if t.ClosedF.Load() {
		return nil, media.ErrTransportClosed
	}
	if hook := t.router.engine.ProduceHook; hook != nil {
		if err := hook(p); err != nil {
			return nil, err
		}
	}
	t.router.mu.Lock()
	defer t.router.mu.Unlock()
	t.router.seq++
	prod := &Producer{
		id:      fmt.Sprintf("%s-producer-%d", t.router.id, t.router.seq),
		kind:    p.Kind,
		trackID: p.TrackID,
	}
	prod.paused.Store(p.Paused)
	t.router.producers[prod.id] = prod
	return prod, nil
}

func (t *Transport) Consume(ctx context.Context, p media.ConsumeParams) (media.Consumer, error) {
	if t.ClosedF.Load() {
		return nil, media.ErrTransportClosed
	}
	t.router.mu.Lock()
	defer t.router.mu.Unlock()
	prod, ok := t.router.producers[p.ProducerID]
	if !ok {
		return nil, media.ErrUnknownProducer
	}
	t.router.seq++
	return &Consumer{
		id:   fmt.Sprintf("%s-consumer-%d", t.router.id, t.router.seq),
		kind: prod.kind,
		prod: prod.id,
	}, nil
}

func (t *Transport) RestartICE(ctx context.Context) (string, error) {
	return "restart-offer:" + t.id, nil
}

func (t *Transport) Stats(ctx context.Context) (map[string]any, error) {
	return map[string]any{"id": t.id, "connected": t.Connected.Load()}, nil
}

func (t *Transport) Close() { t.ClosedF.Store(true) }

type Producer struct {
	id      string
	kind    media.Kind
	trackID string
	paused  atomic.Bool
	closed  atomic.Bool
}

func (p *Producer) ID() string       { return p.id }
func (p *Producer) Kind() media.Kind { return p.kind }
func (p *Producer) TrackID() string  { return p.trackID }
func (p *Producer) Pause()           { p.paused.Store(true) }
func (p *Producer) Resume()          { p.paused.Store(false) }
func (p *Producer) Paused() bool     { return p.paused.Load() }
func (p *Producer) IsClosed() bool   { return p.closed.Load() }

func (p *Producer) Stats(ctx context.Context) (map[string]any, error) {
	return map[string]any{"id": p.id, "kind": p.kind, "paused": p.Paused()}, nil
}

func (p *Producer) Close() { p.closed.Store(true) }

type Consumer struct {
	id     string
	kind   media.Kind
	prod   string
	paused atomic.Bool
	closed atomic.Bool
	pli    atomic.Int32
}

func (c *Consumer) ID() string         { return c.id }
func (c *Consumer) ProducerID() string { return c.prod }
func (c *Consumer) Kind() media.Kind   { return c.kind }
func (c *Consumer) Pause()             { c.paused.Store(true) }
func (c *Consumer) Resume()            { c.paused.Store(false) }
func (c *Consumer) RequestKeyFrame()   { c.pli.Add(1) }
func (c *Consumer) IsClosed() bool     { return c.closed.Load() }

func (c *Consumer) Stats(ctx context.Context) (map[string]any, error) {
	return map[string]any{"id": c.id, "producerId": c.prod, "paused": c.paused.Load()}, nil
}

func (c *Consumer) Close() { c.closed.Store(true) }
