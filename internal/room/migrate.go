package room

import (
	"context"

	"github.com/dkeye/voicegrid/internal/domain"
	"github.com/dkeye/voicegrid/internal/media"
	"github.com/dkeye/voicegrid/internal/pool"
)

// MigrateResult reports the outcome of one client's move to the new router.
// A failed client keeps its membership with degraded media.
type MigrateResult struct {
	UserID   domain.UserID `json:"userId"`
	Degraded bool          `json:"degraded"`
	Err      error         `json:"-"`
}

type producerKey struct {
	owner domain.UserID
	kind  media.Kind
}

// Migrate rebinds the room to slot: new router, re-created transports,
// producers and consumers for every member, then an atomic swap and close of
// the old router. One client's failure degrades that client only; the
// membership set is never reduced.
func (r *Room) Migrate(ctx context.Context, slot *pool.Slot) ([]MigrateResult, error) {
	newRouter, err := slot.Worker.CreateRouter(ctx)
	if err != nil {
		return nil, err
	}

	// The room lock is held across the whole rebuild. Signaling for this
	// session queues behind the migration, which is exactly the
	// serialization the swap needs.
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		newRouter.Close()
		return nil, ErrRoomClosed
	}

	oldOwner := make(map[string]producerKey)
	for uid, c := range r.clients {
		for kind, p := range c.media.producers {
			oldOwner[p.ID()] = producerKey{owner: uid, kind: kind}
		}
	}

	results := make(map[domain.UserID]*MigrateResult, len(r.clients))
	fresh := make(map[domain.UserID]*clientMedia, len(r.clients))
	newProducers := make(map[producerKey]media.Producer)

	for uid, c := range r.clients {
		res := &MigrateResult{UserID: uid}
		results[uid] = res
		nm := newClientMedia()
		fresh[uid] = nm

		if c.media.producerTransport != nil {
			t, err := newRouter.CreateTransport(ctx, media.DirectionSend)
			if err != nil {
				res.Degraded, res.Err = true, err
			} else {
				nm.producerTransport = t
			}
		}
		if c.media.consumerTransport != nil {
			t, err := newRouter.CreateTransport(ctx, media.DirectionRecv)
			if err != nil {
				res.Degraded, res.Err = true, err
			} else {
				nm.consumerTransport = t
			}
		}
		if nm.producerTransport == nil {
			continue
		}
		for kind, params := range c.media.produceParams {
			prod, err := nm.producerTransport.Produce(ctx, params)
			if err != nil {
				res.Degraded, res.Err = true, err
				r.logger.Error().Err(err).Str("user", string(uid)).Str("kind", string(kind)).Msg("migrate produce failed, degrading client")
				continue
			}
			nm.producers[kind] = prod
			nm.produceParams[kind] = params
			newProducers[producerKey{owner: uid, kind: kind}] = prod
		}
	}

	// Consumers can only be rebuilt once every producer was attempted.
	for uid, c := range r.clients {
		nm := fresh[uid]
		if nm.consumerTransport == nil {
			continue
		}
		for _, cons := range c.media.consumers {
			key, ok := oldOwner[cons.ProducerID()]
			if !ok {
				continue
			}
			np, ok := newProducers[key]
			if !ok {
				// Source client degraded; this consumer stays gone.
				continue
			}
			ncons, err := nm.consumerTransport.Consume(ctx, media.ConsumeParams{ProducerID: np.ID()})
			if err != nil {
				results[uid].Degraded, results[uid].Err = true, err
				continue
			}
			nm.consumers[ncons.ID()] = ncons
		}
	}

	oldRouter := r.router
	for uid, c := range r.clients {
		c.media = fresh[uid]
	}
	r.workerIndex = slot.Index
	r.worker = slot.Worker
	r.router = newRouter
	oldRouter.Close()

	out := make([]MigrateResult, 0, len(results))
	for _, res := range results {
		out = append(out, *res)
	}
	r.logger.Info().Int("worker", slot.Index).Int("clients", len(out)).Msg("room migrated")
	return out, nil
}
