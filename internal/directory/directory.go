// Package directory is the orchestrator's view of the chat backend's
// relational store: channels, server memberships and live call presence.
// The CRUD surface around it belongs to another service; only the queries
// the call path needs are exposed here.
package directory

import (
	"context"
	"errors"

	"github.com/dkeye/voicegrid/internal/domain"
)

var ErrNotFound = errors.New("directory: not found")

type Store interface {
	// Channel resolves a channel by id.
	Channel(ctx context.Context, id domain.ChannelID) (*domain.Channel, error)

	// MembershipOf resolves the user's membership on a server.
	MembershipOf(ctx context.Context, userID domain.UserID, serverID domain.ServerID) (*domain.Membership, error)

	// ChannelsWithUserInCall lists every channel the user currently
	// occupies a call in. More than one means stale presence to clean up.
	ChannelsWithUserInCall(ctx context.Context, userID domain.UserID) ([]domain.Channel, error)

	// ConnectToCall / DisconnectFromCall maintain persisted call presence.
	ConnectToCall(ctx context.Context, channelID domain.ChannelID, membershipID domain.MembershipID) error
	DisconnectFromCall(ctx context.Context, channelID domain.ChannelID, membershipID domain.MembershipID) error

	// FirstChannelOccupancy returns the call members of the server's first
	// voice channel that has an active call. Feeds the occupancy summary.
	FirstChannelOccupancy(ctx context.Context, serverID domain.ServerID) ([]domain.Membership, error)

	Close() error
}
