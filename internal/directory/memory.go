package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/voicegrid/internal/domain"
)

// Memory is an in-process Store used by tests and single-node setups.
type Memory struct {
	mu          sync.RWMutex
	channels    map[domain.ChannelID]domain.Channel
	memberships map[domain.MembershipID]domain.Membership
	// callMembers: channel -> set of membership ids in the call.
	callMembers map[domain.ChannelID]map[domain.MembershipID]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		channels:    make(map[domain.ChannelID]domain.Channel),
		memberships: make(map[domain.MembershipID]domain.Membership),
		callMembers: make(map[domain.ChannelID]map[domain.MembershipID]struct{}),
	}
}

// AddChannel seeds a channel.
func (m *Memory) AddChannel(ch domain.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.ID] = ch
}

// AddMembership seeds a server membership.
func (m *Memory) AddMembership(ms domain.Membership) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memberships[ms.ID] = ms
}

func (m *Memory) Channel(ctx context.Context, id domain.ChannelID) (*domain.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: channel %s", ErrNotFound, id)
	}
	return &ch, nil
}

func (m *Memory) MembershipOf(ctx context.Context, userID domain.UserID, serverID domain.ServerID) (*domain.Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ms := range m.memberships {
		if ms.User.ID == userID && ms.ServerID == serverID {
			out := ms
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: membership of %s on %s", ErrNotFound, userID, serverID)
}

func (m *Memory) ChannelsWithUserInCall(ctx context.Context, userID domain.UserID) ([]domain.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Channel
	for chID, members := range m.callMembers {
		for msID := range members {
			if ms, ok := m.memberships[msID]; ok && ms.User.ID == userID {
				if ch, ok := m.channels[chID]; ok {
					out = append(out, ch)
				}
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ConnectToCall(ctx context.Context, channelID domain.ChannelID, membershipID domain.MembershipID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[channelID]; !ok {
		return fmt.Errorf("%w: channel %s", ErrNotFound, channelID)
	}
	if m.callMembers[channelID] == nil {
		m.callMembers[channelID] = make(map[domain.MembershipID]struct{})
	}
	m.callMembers[channelID][membershipID] = struct{}{}
	return nil
}

func (m *Memory) DisconnectFromCall(ctx context.Context, channelID domain.ChannelID, membershipID domain.MembershipID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if members, ok := m.callMembers[channelID]; ok {
		delete(members, membershipID)
		if len(members) == 0 {
			delete(m.callMembers, channelID)
		}
	}
	return nil
}

func (m *Memory) FirstChannelOccupancy(ctx context.Context, serverID domain.ServerID) ([]domain.Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]domain.ChannelID, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		ch := m.channels[id]
		if ch.ServerID != serverID || !ch.IsVoice {
			continue
		}
		members, ok := m.callMembers[id]
		if !ok || len(members) == 0 {
			continue
		}
		out := make([]domain.Membership, 0, len(members))
		for msID := range members {
			if ms, ok := m.memberships[msID]; ok {
				out = append(out, ms)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	}
	return nil, nil
}

func (m *Memory) Close() error { return nil }
