package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dkeye/voicegrid/internal/domain"
)

// SQLite implements Store against the backend's relational schema, reduced
// to the tables the call path touches.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS channels (
		id TEXT PRIMARY KEY,
		server_id TEXT NOT NULL,
		category_id TEXT,
		name TEXT NOT NULL,
		is_voice INTEGER NOT NULL DEFAULT 0,
		is_server_channel INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS memberships (
		id TEXT PRIMARY KEY,
		server_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		nickname TEXT NOT NULL,
		avatar TEXT,
		is_muted INTEGER NOT NULL DEFAULT 0,
		is_deafen INTEGER NOT NULL DEFAULT 0,
		is_owner INTEGER NOT NULL DEFAULT 0,
		is_server_muted INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS call_members (
		channel_id TEXT NOT NULL,
		membership_id TEXT NOT NULL,
		joined_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (channel_id, membership_id)
	);

	CREATE INDEX IF NOT EXISTS idx_channels_server_id ON channels(server_id);
	CREATE INDEX IF NOT EXISTS idx_memberships_user_server ON memberships(user_id, server_id);
	CREATE INDEX IF NOT EXISTS idx_call_members_membership ON call_members(membership_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// UpsertChannel seeds or updates a channel row.
func (s *SQLite) UpsertChannel(ctx context.Context, ch domain.Channel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (id, server_id, category_id, name, is_voice, is_server_channel)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			server_id = excluded.server_id,
			category_id = excluded.category_id,
			name = excluded.name,
			is_voice = excluded.is_voice,
			is_server_channel = excluded.is_server_channel`,
		ch.ID, ch.ServerID, ch.CategoryID, ch.Name, ch.IsVoice, ch.IsServerChannel)
	return err
}

// UpsertMembership seeds or updates a membership row.
func (s *SQLite) UpsertMembership(ctx context.Context, ms domain.Membership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (id, server_id, user_id, nickname, avatar, is_muted, is_deafen, is_owner, is_server_muted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			server_id = excluded.server_id,
			user_id = excluded.user_id,
			nickname = excluded.nickname,
			avatar = excluded.avatar,
			is_muted = excluded.is_muted,
			is_deafen = excluded.is_deafen,
			is_owner = excluded.is_owner,
			is_server_muted = excluded.is_server_muted`,
		ms.ID, ms.ServerID, ms.User.ID, ms.User.Nickname, ms.User.Avatar,
		ms.User.IsMuted, ms.User.IsDeafen, ms.IsOwner, ms.IsServerMuted)
	return err
}

func (s *SQLite) Channel(ctx context.Context, id domain.ChannelID) (*domain.Channel, error) {
	var ch domain.Channel
	var category sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, server_id, category_id, name, is_voice, is_server_channel
		FROM channels WHERE id = ?`, id).
		Scan(&ch.ID, &ch.ServerID, &category, &ch.Name, &ch.IsVoice, &ch.IsServerChannel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: channel %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	ch.CategoryID = category.String
	return &ch, nil
}

func (s *SQLite) MembershipOf(ctx context.Context, userID domain.UserID, serverID domain.ServerID) (*domain.Membership, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, server_id, user_id, nickname, avatar, is_muted, is_deafen, is_owner, is_server_muted
		FROM memberships WHERE user_id = ? AND server_id = ?`, userID, serverID)
	ms, err := scanMembership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: membership of %s on %s", ErrNotFound, userID, serverID)
	}
	if err != nil {
		return nil, err
	}
	return ms, nil
}

func (s *SQLite) ChannelsWithUserInCall(ctx context.Context, userID domain.UserID) ([]domain.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.server_id, c.category_id, c.name, c.is_voice, c.is_server_channel
		FROM channels c
		JOIN call_members cm ON cm.channel_id = c.id
		JOIN memberships m ON m.id = cm.membership_id
		WHERE m.user_id = ?
		ORDER BY c.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Channel
	for rows.Next() {
		var ch domain.Channel
		var category sql.NullString
		if err := rows.Scan(&ch.ID, &ch.ServerID, &category, &ch.Name, &ch.IsVoice, &ch.IsServerChannel); err != nil {
			return nil, err
		}
		ch.CategoryID = category.String
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (s *SQLite) ConnectToCall(ctx context.Context, channelID domain.ChannelID, membershipID domain.MembershipID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_members (channel_id, membership_id) VALUES (?, ?)
		ON CONFLICT(channel_id, membership_id) DO NOTHING`,
		channelID, membershipID)
	return err
}

func (s *SQLite) DisconnectFromCall(ctx context.Context, channelID domain.ChannelID, membershipID domain.MembershipID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM call_members WHERE channel_id = ? AND membership_id = ?`,
		channelID, membershipID)
	return err
}

func (s *SQLite) FirstChannelOccupancy(ctx context.Context, serverID domain.ServerID) ([]domain.Membership, error) {
	var channelID domain.ChannelID
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id FROM channels c
		WHERE c.server_id = ? AND c.is_voice = 1
		  AND EXISTS (SELECT 1 FROM call_members cm WHERE cm.channel_id = c.id)
		ORDER BY c.id LIMIT 1`, serverID).Scan(&channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.server_id, m.user_id, m.nickname, m.avatar, m.is_muted, m.is_deafen, m.is_owner, m.is_server_muted
		FROM memberships m
		JOIN call_members cm ON cm.membership_id = m.id
		WHERE cm.channel_id = ?
		ORDER BY m.id`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Membership
	for rows.Next() {
		ms, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ms)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMembership(row rowScanner) (*domain.Membership, error) {
	var ms domain.Membership
	var avatar sql.NullString
	err := row.Scan(&ms.ID, &ms.ServerID, &ms.User.ID, &ms.User.Nickname, &avatar,
		&ms.User.IsMuted, &ms.User.IsDeafen, &ms.IsOwner, &ms.IsServerMuted)
	if err != nil {
		return nil, err
	}
	ms.User.Avatar = avatar.String
	return &ms, nil
}
