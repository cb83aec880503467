package domain

// Channel is the persistence collaborator's view of a channel,
// reduced to the fields the call orchestrator consults.
type Channel struct {
	ID              ChannelID `json:"id"`
	ServerID        ServerID  `json:"serverId"`
	CategoryID      string    `json:"categoryId,omitempty"`
	Name            string    `json:"name"`
	IsVoice         bool      `json:"isVoice"`
	IsServerChannel bool      `json:"isServerChannel"`
}

// ChannelRef is the lightweight channel view carried inside broadcast events.
type ChannelRef struct {
	ID         ChannelID `json:"id"`
	CategoryID string    `json:"categoryId,omitempty"`
	Name       string    `json:"name"`
}

func (c Channel) Ref() ChannelRef {
	return ChannelRef{ID: c.ID, CategoryID: c.CategoryID, Name: c.Name}
}
