package domain

// MemberUser is the public slice of a user shown to other call participants.
type MemberUser struct {
	ID       UserID `json:"id"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar,omitempty"`
	IsMuted  bool   `json:"isMuted"`
	IsDeafen bool   `json:"isDeafen"`
}

// Membership ties a user to a server. Broadcast events carry it so clients
// can render the joining member without an extra fetch.
type Membership struct {
	ID            MembershipID `json:"id"`
	ServerID      ServerID     `json:"-"`
	User          MemberUser   `json:"user"`
	IsOwner       bool         `json:"isOwner"`
	IsServerMuted bool         `json:"isServerMuted"`
	Channel       *ChannelRef  `json:"channel,omitempty"`
}

// OccupancySummaryCap bounds how many members an occupancy summary lists.
const OccupancySummaryCap = 5

// OccupancySummary is the lightweight event sent to clients that only
// display occupancy badges, not full call membership.
type OccupancySummary struct {
	ServerID             ServerID     `json:"serverId"`
	FirstUsersInChannels []Membership `json:"firstUsersInChannels"`
	TotalUsersInChannels int          `json:"totalUsersInChannels"`
}

// NewOccupancySummary caps the member list and keeps the real total.
func NewOccupancySummary(serverID ServerID, members []Membership) OccupancySummary {
	total := len(members)
	if total > OccupancySummaryCap {
		members = members[:OccupancySummaryCap]
	}
	return OccupancySummary{
		ServerID:             serverID,
		FirstUsersInChannels: members,
		TotalUsersInChannels: total,
	}
}
