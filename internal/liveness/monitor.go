package liveness

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicegrid/internal/directory"
	"github.com/dkeye/voicegrid/internal/room"
)

// Monitor sweeps the heartbeat table at a fixed interval shorter than the
// staleness threshold, so a dead client is evicted within one poll cycle of
// crossing it. Everything here is best effort: a partial failure for one
// user never blocks the rest of the sweep.
type Monitor struct {
	Tracker   *Tracker
	Registry  *room.Registry
	Directory directory.Store

	Poll  time.Duration
	Stale time.Duration
}

func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Poll)
	defer ticker.Stop()
	log.Info().Str("module", "liveness").Dur("poll", m.Poll).Dur("stale", m.Stale).Msg("monitor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "liveness").Msg("monitor stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep evicts every client whose heartbeat is older than the threshold:
// remove from its room, drop the heartbeat record, release persisted call
// presence.
func (m *Monitor) Sweep(ctx context.Context) {
	for _, uid := range m.Tracker.Stale(m.Stale) {
		logger := log.With().Str("module", "liveness").Str("user", string(uid)).Logger()

		channels, err := m.Directory.ChannelsWithUserInCall(ctx, uid)
		if err != nil {
			logger.Error().Err(err).Msg("call lookup failed, skipping user this sweep")
			continue
		}

		for _, ch := range channels {
			if r, ok := m.Registry.Get(ch.ID); ok {
				if remaining := r.RemoveClient(ctx, uid); remaining == 0 {
					m.Registry.Remove(ctx, ch.ID)
				}
			}
			ms, err := m.Directory.MembershipOf(ctx, uid, ch.ServerID)
			if err != nil {
				logger.Error().Err(err).Str("channel", string(ch.ID)).Msg("membership lookup failed")
				continue
			}
			if err := m.Directory.DisconnectFromCall(ctx, ch.ID, ms.ID); err != nil {
				logger.Error().Err(err).Str("channel", string(ch.ID)).Msg("presence release failed")
			}
		}

		m.Tracker.Forget(uid)
		logger.Info().Int("channels", len(channels)).Msg("evicted stale client")
	}
}
