package chat

import (
	"slices"
	"time"
)

// Kind is the kind of a chat.
type Kind string

const (
	KindPrivate Kind = "private"
	KindGroup   Kind = "group"
)

// MessageType is the content type of a message.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeFile  MessageType = "file"
	TypeVideo MessageType = "video"
	TypeAudio MessageType = "audio"
)

func (t MessageType) valid() bool {
	switch t {
	case TypeText, TypeImage, TypeFile, TypeVideo, TypeAudio:
		return true
	}
	return false
}

// Tombstone replaces the content of a soft-deleted message.
const Tombstone = "This message was deleted"

// A Profile is the per-chat display data of a participant.
type Profile struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	// JoinedAt is set by the registry when the participant joins.
	JoinedAt time.Time `json:"joined_at,omitzero"`
}

// Settings are the per-viewer settings of a chat.
type Settings struct {
	Archived bool `json:"archived"`
	Pinned   bool `json:"pinned"`
	Muted    bool `json:"muted"`
}

// A SettingsUpdate changes the fields that are not nil.
type SettingsUpdate struct {
	Archived *bool `json:"archived,omitempty"`
	Pinned   *bool `json:"pinned,omitempty"`
	Muted    *bool `json:"muted,omitempty"`
}

func (u SettingsUpdate) apply(s Settings) Settings {
	if u.Archived != nil {
		s.Archived = *u.Archived
	}
	if u.Pinned != nil {
		s.Pinned = *u.Pinned
	}
	if u.Muted != nil {
		s.Muted = *u.Muted
	}
	return s
}

// GroupInfo holds the metadata only group chats carry.
type GroupInfo struct {
	Description      string   `json:"description,omitempty"`
	CreatorID        string   `json:"creator_id"`
	Admins           []string `json:"admins"`
	PinnedMessageIDs []string `json:"pinned_message_ids,omitempty"`
}

// A Summary is the denormalised last message of a chat.
type Summary struct {
	MessageID  string      `json:"message_id"`
	Seq        int64       `json:"seq"`
	Preview    string      `json:"preview"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Type       MessageType `json:"type"`
	Timestamp  time.Time   `json:"timestamp"`
}

// A Chat is a conversation with its own message sequence.
type Chat struct {
	ID           string              `json:"id"`
	Kind         Kind                `json:"kind"`
	Name         string              `json:"name,omitempty"`
	Participants []string            `json:"participants"`
	Profiles     map[string]Profile  `json:"profiles"`
	Settings     map[string]Settings `json:"settings"`
	LastMessage  *Summary            `json:"last_message,omitempty"`
	Group        *GroupInfo          `json:"group,omitempty"`
	LastSeq      int64               `json:"last_seq"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// HasParticipant reports whether id is a participant of the chat.
func (c Chat) HasParticipant(id string) bool {
	return slices.Contains(c.Participants, id)
}

// IsAdmin reports whether id administers the chat. Private chats have no
// admins.
func (c Chat) IsAdmin(id string) bool {
	return c.Group != nil && slices.Contains(c.Group.Admins, id)
}

// DisplayName returns the participant's name in this chat, or the id.
func (c Chat) DisplayName(id string) string {
	if p, ok := c.Profiles[id]; ok && p.Name != "" {
		return p.Name
	}
	return id
}

// A ChatView is a chat seen by one participant.
type ChatView struct {
	Chat
	Viewer   string   `json:"viewer"`
	Unread   int      `json:"unread"`
	Settings Settings `json:"viewer_settings"`
}

// An Attachment references binary content held by the blob store.
type Attachment struct {
	URL          string `json:"url"`
	Name         string `json:"name,omitempty"`
	Size         int64  `json:"size,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Duration     int    `json:"duration,omitempty"`
}

// A ReplyRef points at the message a message replies to.
type ReplyRef struct {
	MessageID  string `json:"message_id"`
	Preview    string `json:"preview"`
	SenderName string `json:"sender_name"`
}

// Provenance records where a forwarded message came from.
type Provenance struct {
	ChatID     string `json:"chat_id"`
	ChatName   string `json:"chat_name,omitempty"`
	MessageID  string `json:"message_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
}

// A Message is an entry in a chat's ordered log.
type Message struct {
	ID         string            `json:"id"`
	ChatID     string            `json:"chat_id"`
	ClientID   string            `json:"client_id,omitempty"`
	SenderID   string            `json:"sender_id"`
	SenderName string            `json:"sender_name"`
	Content    string            `json:"content"`
	Type       MessageType       `json:"type"`
	Attachment *Attachment       `json:"attachment,omitempty"`
	Seq        int64             `json:"seq"`
	CreatedAt  time.Time         `json:"created_at"`
	ReadBy     []string          `json:"read_by"`
	ReplyTo    *ReplyRef         `json:"reply_to,omitempty"`
	Forwarded  *Provenance       `json:"forwarded,omitempty"`
	Edited     bool              `json:"edited"`
	EditedAt   *time.Time        `json:"edited_at,omitempty"`
	Deleted    bool              `json:"deleted"`
	Void       bool              `json:"void,omitempty"`
	Reactions  map[string]string `json:"reactions"`
}

// ReadByParticipant reports whether id has observed the message.
func (m Message) ReadByParticipant(id string) bool {
	return slices.Contains(m.ReadBy, id)
}

// countsAsUnreadFor reports whether the message contributes to id's unread
// counter while it sits above id's read marker.
func (m Message) countsAsUnreadFor(id string) bool {
	return !m.Void && m.SenderID != id
}

// ReadState is the read marker and unread counter of one participant in
// one chat.
type ReadState struct {
	ChatID        string    `json:"chat_id"`
	ParticipantID string    `json:"participant_id"`
	Marker        int64     `json:"marker"`
	Unread        int       `json:"unread"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Category classifies a notification.
type Category string

const (
	CategoryNewMessage Category = "new-message"
	CategoryMention    Category = "mention"
	CategoryChatInvite Category = "chat-invite"
	CategorySystem     Category = "system"
)

// Priority of a notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// NotificationStatus moves forward only: unread, read, archived.
type NotificationStatus string

const (
	StatusUnread   NotificationStatus = "unread"
	StatusRead     NotificationStatus = "read"
	StatusArchived NotificationStatus = "archived"
)

func (s NotificationStatus) rank() int {
	switch s {
	case StatusUnread:
		return 0
	case StatusRead:
		return 1
	case StatusArchived:
		return 2
	}
	return -1
}

// A Notification is an in-app notification record.
type Notification struct {
	ID          string             `json:"id"`
	RecipientID string             `json:"recipient_id"`
	Title       string             `json:"title"`
	Body        string             `json:"body"`
	Category    Category           `json:"category"`
	Priority    Priority           `json:"priority"`
	Status      NotificationStatus `json:"status"`
	ChatID      string             `json:"chat_id,omitempty"`
	MessageID   string             `json:"message_id,omitempty"`
	DedupKey    string             `json:"-"`
	CreatedAt   time.Time          `json:"created_at"`
	ReadAt      *time.Time         `json:"read_at,omitempty"`
	ArchivedAt  *time.Time         `json:"archived_at,omitempty"`
}

// NotificationFilter selects notifications of one recipient.
type NotificationFilter struct {
	RecipientID string
	Status      NotificationStatus
	Limit       int
	Offset      int
}

// NotificationSettings are a user's delivery preferences. Categories maps a
// category to false to silence it; missing categories are enabled.
type NotificationSettings struct {
	UserID     string            `json:"user_id"`
	Email      bool              `json:"email"`
	InApp      bool              `json:"in_app"`
	Categories map[Category]bool `json:"categories,omitempty"`
}

// DefaultNotificationSettings enables every channel and category.
func DefaultNotificationSettings(userID string) NotificationSettings {
	return NotificationSettings{UserID: userID, Email: true, InApp: true}
}

func (s NotificationSettings) allows(c Category) bool {
	enabled, ok := s.Categories[c]
	return !ok || enabled
}

// Status is a user's presence status.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// Presence annotates a user for display. It is not authoritative.
type Presence struct {
	UserID   string    `json:"user_id"`
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}
