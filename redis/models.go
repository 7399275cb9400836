package redis

import (
	"time"

	"github.com/driftpro/chatcore/chat"
)

// A presence represents a presence entry stored as a hash. LastSeen is in
// Unix milliseconds.
type presence struct {
	UserID   string `redis:"user_id"`
	Status   string `redis:"status"`
	LastSeen int64  `redis:"last_seen"`
}

func (p presence) ChatPresence() chat.Presence {
	return chat.Presence{
		UserID:   p.UserID,
		Status:   chat.Status(p.Status),
		LastSeen: time.UnixMilli(p.LastSeen).UTC(),
	}
}

// An event is the payload published when a message is accepted.
type event struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	Seq       int64  `json:"seq"`
}
