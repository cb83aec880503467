package directory_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicegrid/internal/directory"
	"github.com/dkeye/voicegrid/internal/domain"
)

func newSQLite(t *testing.T) *directory.SQLite {
	t.Helper()
	s, err := directory.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedSQLite(t *testing.T, s *directory.SQLite) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertChannel(ctx, domain.Channel{
		ID: "ch-1", ServerID: "srv-1", CategoryID: "cat-1", Name: "general", IsVoice: true, IsServerChannel: true,
	}))
	require.NoError(t, s.UpsertChannel(ctx, domain.Channel{
		ID: "ch-2", ServerID: "srv-1", Name: "gaming", IsVoice: true, IsServerChannel: true,
	}))
	require.NoError(t, s.UpsertMembership(ctx, domain.Membership{
		ID: "ms-alice", ServerID: "srv-1",
		User: domain.MemberUser{ID: "alice", Nickname: "Alice", Avatar: "a.png"},
	}))
	require.NoError(t, s.UpsertMembership(ctx, domain.Membership{
		ID: "ms-bob", ServerID: "srv-1",
		User:    domain.MemberUser{ID: "bob", Nickname: "Bob", IsMuted: true},
		IsOwner: true,
	}))
}

func TestSQLiteChannelLookup(t *testing.T) {
	s := newSQLite(t)
	seedSQLite(t, s)
	ctx := context.Background()

	ch, err := s.Channel(ctx, "ch-1")
	require.NoError(t, err)
	assert.Equal(t, "general", ch.Name)
	assert.Equal(t, "cat-1", ch.CategoryID)
	assert.True(t, ch.IsVoice)

	_, err = s.Channel(ctx, "nope")
	require.ErrorIs(t, err, directory.ErrNotFound)
}

func TestSQLiteMembershipOf(t *testing.T) {
	s := newSQLite(t)
	seedSQLite(t, s)
	ctx := context.Background()

	ms, err := s.MembershipOf(ctx, "bob", "srv-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MembershipID("ms-bob"), ms.ID)
	assert.True(t, ms.IsOwner)
	assert.True(t, ms.User.IsMuted)

	_, err = s.MembershipOf(ctx, "bob", "srv-other")
	require.ErrorIs(t, err, directory.ErrNotFound)
}

func TestSQLiteCallMembership(t *testing.T) {
	s := newSQLite(t)
	seedSQLite(t, s)
	ctx := context.Background()

	require.NoError(t, s.ConnectToCall(ctx, "ch-1", "ms-alice"))
	// Re-connecting is idempotent.
	require.NoError(t, s.ConnectToCall(ctx, "ch-1", "ms-alice"))
	require.NoError(t, s.ConnectToCall(ctx, "ch-2", "ms-bob"))

	channels, err := s.ChannelsWithUserInCall(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, domain.ChannelID("ch-1"), channels[0].ID)

	require.NoError(t, s.DisconnectFromCall(ctx, "ch-1", "ms-alice"))
	channels, err = s.ChannelsWithUserInCall(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, channels)
}

func TestSQLiteFirstChannelOccupancy(t *testing.T) {
	s := newSQLite(t)
	seedSQLite(t, s)
	ctx := context.Background()

	// No calls anywhere.
	members, err := s.FirstChannelOccupancy(ctx, "srv-1")
	require.NoError(t, err)
	assert.Empty(t, members)

	// Only the first voice channel with members is reported.
	require.NoError(t, s.ConnectToCall(ctx, "ch-2", "ms-bob"))
	members, err = s.FirstChannelOccupancy(ctx, "srv-1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, domain.UserID("bob"), members[0].User.ID)

	require.NoError(t, s.ConnectToCall(ctx, "ch-1", "ms-alice"))
	members, err = s.FirstChannelOccupancy(ctx, "srv-1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, domain.UserID("alice"), members[0].User.ID)
}

func TestSQLiteUpsertOverwrites(t *testing.T) {
	s := newSQLite(t)
	seedSQLite(t, s)
	ctx := context.Background()

	require.NoError(t, s.UpsertChannel(ctx, domain.Channel{
		ID: "ch-1", ServerID: "srv-1", Name: "renamed", IsVoice: true,
	}))
	ch, err := s.Channel(ctx, "ch-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", ch.Name)
	assert.Empty(t, ch.CategoryID)
}
