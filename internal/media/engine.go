// Package media defines the contract between the call orchestrator and the
// media engine that owns the actual RTP plumbing. Rooms only ever talk to
// these interfaces; the pion-backed implementation lives in media/pion.
package media

import (
	"context"
	"errors"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

var (
	ErrRouterClosed     = errors.New("media: router closed")
	ErrTransportClosed  = errors.New("media: transport closed")
	ErrUnknownProducer  = errors.New("media: unknown producer")
	ErrUnknownConsumer  = errors.New("media: unknown consumer")
	ErrProducerInactive = errors.New("media: producer has no live track yet")
)

// Engine provisions workers. Worker creation failing at boot is fatal for
// the process; callers do not retry.
type Engine interface {
	CreateWorker(ctx context.Context) (Worker, error)
}

// Worker hosts routers. One worker is shared read-only by many rooms.
type Worker interface {
	PID() int
	CreateRouter(ctx context.Context) (Router, error)
	Close()
}

// Router is a call topology. Each room exclusively owns one router.
type Router interface {
	ID() string
	Capabilities() Capabilities
	CreateTransport(ctx context.Context, dir Direction) (Transport, error)
	Closed() bool
	Close()
}

// Transport is one client's send or receive leg into a router.
type Transport interface {
	ID() string
	Direction() Direction
	Params() TransportParams
	// Connect applies the client's offer and returns the engine's answer.
	Connect(ctx context.Context, p ConnectParams) (ConnectResult, error)
	Produce(ctx context.Context, p ProduceParams) (Producer, error)
	Consume(ctx context.Context, p ConsumeParams) (Consumer, error)
	// RestartICE renegotiates the ICE session and returns a fresh offer the
	// client answers with another connect.
	RestartICE(ctx context.Context) (string, error)
	Stats(ctx context.Context) (map[string]any, error)
	Close()
}

type Producer interface {
	ID() string
	Kind() Kind
	Pause()
	Resume()
	Paused() bool
	Stats(ctx context.Context) (map[string]any, error)
	Close()
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() Kind
	Pause()
	Resume()
	RequestKeyFrame()
	Stats(ctx context.Context) (map[string]any, error)
	Close()
}
