// Package domain contains entities without logic, just meta-data.
package domain

type (
	UserID       string
	ChannelID    string
	ServerID     string
	MembershipID string

	// SessionID identifies an active call session. One voice channel
	// hosts at most one session, so the channel id doubles as the
	// session id.
	SessionID = ChannelID
)
