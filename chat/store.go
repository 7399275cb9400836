package chat

import (
	"context"
	"time"
)

// A ChatRepository persists chats. UpdateChat applies fn atomically to a
// single chat document; ReserveSeq atomically increments and returns the
// chat's sequence counter.
type ChatRepository interface {
	InsertChat(ctx context.Context, c Chat) error
	Chat(ctx context.Context, id string) (Chat, error)
	UpdateChat(ctx context.Context, id string, fn func(*Chat) error) (Chat, error)
	ListChats(ctx context.Context, participantID string) ([]Chat, error)
	ReserveSeq(ctx context.Context, chatID string) (int64, error)
}

// A MessageRepository persists messages. Reactions and read-by entries are
// stored per (message, participant) key so concurrent writers to different
// keys never conflict.
type MessageRepository interface {
	InsertMessage(ctx context.Context, m Message) error
	Message(ctx context.Context, id string) (Message, error)
	UpdateMessage(ctx context.Context, id string, fn func(*Message) error) (Message, error)
	// ScanMessages returns messages with afterSeq < seq <= uptoSeq in
	// ascending order, at most limit of them.
	ScanMessages(ctx context.Context, chatID string, afterSeq, uptoSeq int64, limit int) ([]Message, error)
	// ClaimClientID binds (chatID, clientID) to messageID unless it is
	// already bound, and returns the message id that owns the claim.
	ClaimClientID(ctx context.Context, chatID, clientID, messageID string) (string, error)
	// ReleaseClientID drops the claim if it is still held by messageID.
	ReleaseClientID(ctx context.Context, chatID, clientID, messageID string) error
	AddReadBy(ctx context.Context, messageID, participantID string) error
	// UpdateReaction sets the participant's reaction to fn(current); an
	// empty result removes it. It returns every reaction on the message.
	UpdateReaction(ctx context.Context, messageID, participantID string, fn func(current string) string) (map[string]string, error)
}

// A ReceiptRepository persists read markers and unread counters.
type ReceiptRepository interface {
	ReadState(ctx context.Context, chatID, participantID string) (ReadState, error)
	// UpdateReadState applies fn atomically to one (chat, participant)
	// state, creating a zero state when none exists.
	UpdateReadState(ctx context.Context, chatID, participantID string, fn func(*ReadState) error) (ReadState, error)
	DeleteReadState(ctx context.Context, chatID, participantID string) error
}

// A NotificationRepository persists in-app notifications, the delivery
// ledger used for dedup of external channels, and user preferences.
type NotificationRepository interface {
	// InsertNotification stores n unless a notification with the same
	// DedupKey exists. It reports whether n was stored.
	InsertNotification(ctx context.Context, n Notification) (bool, error)
	Notification(ctx context.Context, id string) (Notification, error)
	UpdateNotification(ctx context.Context, id string, fn func(*Notification) error) (Notification, error)
	ListNotifications(ctx context.Context, f NotificationFilter) ([]Notification, error)
	CountNotifications(ctx context.Context, recipientID string, status NotificationStatus) (int, error)
	Delivered(ctx context.Context, key string) (bool, error)
	MarkDelivered(ctx context.Context, key string) error
	NotificationSettings(ctx context.Context, userID string) (NotificationSettings, error)
	PutNotificationSettings(ctx context.Context, s NotificationSettings) error
}

// A Store provides every persistence primitive the core depends on.
type Store interface {
	ChatRepository
	MessageRepository
	ReceiptRepository
	NotificationRepository
}

// A Directory resolves participants to contact addresses.
type Directory interface {
	EmailAddress(ctx context.Context, participantID string) (string, error)
}

// An EmailRequest asks the email collaborator to render and send a
// template.
type EmailRequest struct {
	To       string            `json:"to"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data"`
}

// An EmailSender delivers email. Implementations must honour ctx.
type EmailSender interface {
	SendEmail(ctx context.Context, req EmailRequest) error
}

// A Publisher pushes accepted messages to live subscribers.
type Publisher interface {
	PublishMessage(ctx context.Context, m Message) error
}

// A Subscriber follows the messages published for one chat.
type Subscriber interface {
	SubscribeChat(ctx context.Context, chatID string) (Subscription, error)
}

// A Subscription delivers the sequence number of every message published
// to a chat after the subscription started.
type Subscription interface {
	Events() <-chan int64
	Close() error
}

// A PresenceStore keeps best-effort presence entries.
type PresenceStore interface {
	SetPresence(ctx context.Context, p Presence, ttl time.Duration) error
	Presence(ctx context.Context, userIDs ...string) (map[string]Presence, error)
}

// Metrics records core events. A nil Metrics is valid.
type Metrics interface {
	MessageAppended(kind Kind)
	SeqReserveRetry()
	Delivery(channel Channel, status DeliveryStatus)
	FanoutCompleted(d time.Duration)
}
