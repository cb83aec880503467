package room

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/voicegrid/internal/domain"
	"github.com/dkeye/voicegrid/internal/media"
)

// Media action vocabulary relayed on behalf of clients. The response goes
// back to the caller verbatim; some actions additionally notify the rest of
// the room.
const (
	ActionGetRouterRtpCapabilities = "getRouterRtpCapabilities"
	ActionCreateWebRtcTransport    = "createWebRtcTransport"
	ActionConnectWebRtcTransport   = "connectWebRtcTransport"
	ActionProduce                  = "produce"
	ActionConsume                  = "consume"
	ActionProducerClose            = "producerClose"
	ActionProducerPause            = "producerPause"
	ActionProducerResume           = "producerResume"
	ActionAllProducerClose         = "allProducerClose"
	ActionAllProducerPause         = "allProducerPause"
	ActionAllProducerResume        = "allProducerResume"
	ActionPauseAudioConsumer       = "pauseAudioConsumer"
	ActionResumeAudioConsumer      = "resumeAudioConsumer"
	ActionRequestConsumerKeyFrame  = "requestConsumerKeyFrame"
	ActionRestartICE               = "restartIce"
	ActionGetTransportStats        = "getTransportStats"
	ActionGetProducerStats         = "getProducerStats"
	ActionGetConsumerStats         = "getConsumerStats"
	ActionGetAudioProducerIDs      = "getAudioProducerIds"
	ActionGetVideoProducerIDs      = "getVideoProducerIds"
)

// RelayMediaAction dispatches one media sub-protocol message for userID.
// Unknown actions fail with ErrInvalidAction.
func (r *Room) RelayMediaAction(ctx context.Context, userID domain.UserID, action string, data json.RawMessage) (any, error) {
	switch action {
	case ActionGetRouterRtpCapabilities:
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.router.Capabilities(), nil
	case ActionCreateWebRtcTransport:
		return r.createTransport(ctx, userID, data)
	case ActionConnectWebRtcTransport:
		return r.connectTransport(ctx, userID, data)
	case ActionProduce:
		return r.produce(ctx, userID, data)
	case ActionConsume:
		return r.consume(ctx, userID, data)
	case ActionProducerClose, ActionProducerPause, ActionProducerResume:
		return r.producerControl(userID, action, data)
	case ActionAllProducerClose, ActionAllProducerPause, ActionAllProducerResume:
		return r.allProducerControl(userID, action)
	case ActionPauseAudioConsumer, ActionResumeAudioConsumer, ActionRequestConsumerKeyFrame, ActionGetConsumerStats:
		return r.consumerControl(ctx, userID, action, data)
	case ActionRestartICE:
		return r.restartICE(ctx, userID, data)
	case ActionGetTransportStats:
		return r.transportStats(ctx, userID, data)
	case ActionGetProducerStats:
		return r.producerStats(ctx, userID, data)
	case ActionGetAudioProducerIDs:
		return r.AudioProducerIDs(), nil
	case ActionGetVideoProducerIDs:
		return r.VideoProducerIDs(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidAction, action)
	}
}

func (r *Room) getClient(userID domain.UserID) (*client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrRoomClosed
	}
	c, ok := r.clients[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoClient, userID)
	}
	return c, nil
}

func (r *Room) createTransport(ctx context.Context, userID domain.UserID, data json.RawMessage) (any, error) {
	var p struct {
		Direction media.Direction `json:"direction"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.Direction != media.DirectionSend && p.Direction != media.DirectionRecv {
		return nil, fmt.Errorf("%w: bad direction %q", ErrInvalidAction, p.Direction)
	}

	c, err := r.getClient(userID)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	router := r.router
	r.mu.RUnlock()
	t, err := router.CreateTransport(ctx, p.Direction)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if p.Direction == media.DirectionSend {
		if old := c.media.producerTransport; old != nil {
			old.Close()
		}
		c.media.producerTransport = t
	} else {
		if old := c.media.consumerTransport; old != nil {
			old.Close()
		}
		c.media.consumerTransport = t
	}
	r.mu.Unlock()

	return t.Params(), nil
}

// transportByID resolves one of the client's two transports.
func (r *Room) transportByID(userID domain.UserID, id string) (media.Transport, error) {
	c, err := r.getClient(userID)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t := c.media.producerTransport; t != nil && t.ID() == id {
		return t, nil
	}
	if t := c.media.consumerTransport; t != nil && t.ID() == id {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoTransport, id)
}

func (r *Room) connectTransport(ctx context.Context, userID domain.UserID, data json.RawMessage) (any, error) {
	var p media.ConnectParams
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	t, err := r.transportByID(userID, p.TransportID)
	if err != nil {
		return nil, err
	}
	return t.Connect(ctx, p)
}

func (r *Room) produce(ctx context.Context, userID domain.UserID, data json.RawMessage) (any, error) {
	var p media.ProduceParams
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.Kind != media.KindAudio && p.Kind != media.KindVideo {
		return nil, fmt.Errorf("%w: bad kind %q", ErrInvalidAction, p.Kind)
	}

	c, err := r.getClient(userID)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	t := c.media.producerTransport
	r.mu.RUnlock()
	if t == nil {
		return nil, fmt.Errorf("%w: no producer transport", ErrNoTransport)
	}

	prod, err := t.Produce(ctx, p)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if old, ok := c.media.producers[p.Kind]; ok {
		old.Close()
	}
	c.media.producers[p.Kind] = prod
	c.media.produceParams[p.Kind] = p
	r.mu.Unlock()

	r.broadcastExcept(userID, struct {
		Type       string        `json:"type"`
		UserID     domain.UserID `json:"userId"`
		ProducerID string        `json:"producerId"`
		Kind       media.Kind    `json:"kind"`
	}{Type: "newProducer", UserID: userID, ProducerID: prod.ID(), Kind: p.Kind})

	return map[string]any{"id": prod.ID()}, nil
}

func (r *Room) consume(ctx context.Context, userID domain.UserID, data json.RawMessage) (any, error) {
	var p media.ConsumeParams
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}

	c, err := r.getClient(userID)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	t := c.media.consumerTransport
	r.mu.RUnlock()
	if t == nil {
		return nil, fmt.Errorf("%w: no consumer transport", ErrNoTransport)
	}

	cons, err := t.Consume(ctx, p)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	c.media.consumers[cons.ID()] = cons
	r.mu.Unlock()

	return map[string]any{
		"id":         cons.ID(),
		"producerId": cons.ProducerID(),
		"kind":       cons.Kind(),
	}, nil
}

func (r *Room) producerControl(userID domain.UserID, action string, data json.RawMessage) (any, error) {
	var p struct {
		Kind media.Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}

	c, err := r.getClient(userID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prod, ok := c.media.producers[p.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: no %s producer", media.ErrUnknownProducer, p.Kind)
	}
	switch action {
	case ActionProducerClose:
		prod.Close()
		delete(c.media.producers, p.Kind)
		delete(c.media.produceParams, p.Kind)
	case ActionProducerPause:
		prod.Pause()
	case ActionProducerResume:
		prod.Resume()
	}
	return true, nil
}

func (r *Room) allProducerControl(userID domain.UserID, action string) (any, error) {
	c, err := r.getClient(userID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for kind, prod := range c.media.producers {
		switch action {
		case ActionAllProducerClose:
			prod.Close()
			delete(c.media.producers, kind)
			delete(c.media.produceParams, kind)
		case ActionAllProducerPause:
			prod.Pause()
		case ActionAllProducerResume:
			prod.Resume()
		}
	}
	return true, nil
}

func (r *Room) consumerControl(ctx context.Context, userID domain.UserID, action string, data json.RawMessage) (any, error) {
	var p struct {
		ConsumerID string `json:"consumerId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}

	c, err := r.getClient(userID)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	cons, ok := c.media.consumers[p.ConsumerID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", media.ErrUnknownConsumer, p.ConsumerID)
	}

	switch action {
	case ActionPauseAudioConsumer:
		cons.Pause()
	case ActionResumeAudioConsumer:
		cons.Resume()
	case ActionRequestConsumerKeyFrame:
		cons.RequestKeyFrame()
	case ActionGetConsumerStats:
		return cons.Stats(ctx)
	}
	return true, nil
}

func (r *Room) restartICE(ctx context.Context, userID domain.UserID, data json.RawMessage) (any, error) {
	var p struct {
		TransportID string `json:"transportId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	t, err := r.transportByID(userID, p.TransportID)
	if err != nil {
		return nil, err
	}
	offer, err := t.RestartICE(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"offerSdp": offer}, nil
}

func (r *Room) transportStats(ctx context.Context, userID domain.UserID, data json.RawMessage) (any, error) {
	var p struct {
		TransportID string `json:"transportId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	t, err := r.transportByID(userID, p.TransportID)
	if err != nil {
		return nil, err
	}
	return t.Stats(ctx)
}

func (r *Room) producerStats(ctx context.Context, userID domain.UserID, data json.RawMessage) (any, error) {
	var p struct {
		Kind media.Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	c, err := r.getClient(userID)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	prod, ok := c.media.producers[p.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no %s producer", media.ErrUnknownProducer, p.Kind)
	}
	return prod.Stats(ctx)
}
