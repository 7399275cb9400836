package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/driftpro/chatcore/chat"
)

// A chatRow represents a chat in the database. Per-participant maps and
// group metadata are stored as JSON documents.
type chatRow struct {
	bun.BaseModel `bun:"table:chats"`

	ID           string                   `bun:",pk"`
	Kind         string                   `bun:",notnull"`
	Name         string                   `bun:",nullzero"`
	Participants []string                 `bun:",array,notnull"`
	Profiles     map[string]chat.Profile  `bun:"type:jsonb"`
	Settings     map[string]chat.Settings `bun:"type:jsonb"`
	LastMessage  *chat.Summary            `bun:"type:jsonb"`
	Group        *chat.GroupInfo          `bun:"group_info,type:jsonb"`
	LastSeq      int64                    `bun:",notnull,default:0"`
	CreatedAt    time.Time                `bun:",nullzero,notnull,default:now()"`
	UpdatedAt    time.Time                `bun:",nullzero,notnull,default:now()"`
}

func newChatRow(c chat.Chat) *chatRow {
	return &chatRow{
		ID:           c.ID,
		Kind:         string(c.Kind),
		Name:         c.Name,
		Participants: c.Participants,
		Profiles:     c.Profiles,
		Settings:     c.Settings,
		LastMessage:  c.LastMessage,
		Group:        c.Group,
		LastSeq:      c.LastSeq,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func (r chatRow) Chat() chat.Chat {
	return chat.Chat{
		ID:           r.ID,
		Kind:         chat.Kind(r.Kind),
		Name:         r.Name,
		Participants: r.Participants,
		Profiles:     r.Profiles,
		Settings:     r.Settings,
		LastMessage:  r.LastMessage,
		Group:        r.Group,
		LastSeq:      r.LastSeq,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// A message represents a message in the database.
type message struct {
	bun.BaseModel `bun:"table:messages"`

	ID         string           `bun:",pk"`
	ChatID     string           `bun:",notnull,unique:chat_seq"`
	Seq        int64            `bun:",notnull,unique:chat_seq"`
	ClientID   string           `bun:",nullzero"`
	SenderID   string           `bun:",nullzero"`
	SenderName string           `bun:",nullzero"`
	Content    string           `bun:",notnull"`
	Type       string           `bun:",notnull"`
	Attachment *chat.Attachment `bun:"type:jsonb"`
	ReplyTo    *chat.ReplyRef   `bun:"type:jsonb"`
	Forwarded  *chat.Provenance `bun:"type:jsonb"`
	Edited     bool             `bun:",notnull,default:false"`
	EditedAt   *time.Time
	Deleted    bool       `bun:",notnull,default:false"`
	Void       bool       `bun:",notnull,default:false"`
	CreatedAt  time.Time  `bun:",nullzero,notnull,default:now()"`
	Reactions  []reaction `bun:"rel:has-many,join:id=message_id"`
	Reads      []read     `bun:"rel:has-many,join:id=message_id"`
}

// A reaction is one participant's reaction to a message.
type reaction struct {
	bun.BaseModel `bun:"table:message_reactions"`

	MessageID     string    `bun:",pk"`
	ParticipantID string    `bun:",pk"`
	Emoji         string    `bun:",notnull"`
	CreatedAt     time.Time `bun:",nullzero,notnull,default:now()"`
}

// A read records that a participant observed a message.
type read struct {
	bun.BaseModel `bun:"table:message_reads"`

	MessageID     string    `bun:",pk"`
	ParticipantID string    `bun:",pk"`
	ReadAt        time.Time `bun:",nullzero,notnull,default:now()"`
}

func newMessage(m chat.Message) *message {
	return &message{
		ID:         m.ID,
		ChatID:     m.ChatID,
		Seq:        m.Seq,
		ClientID:   m.ClientID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		Type:       string(m.Type),
		Attachment: m.Attachment,
		ReplyTo:    m.ReplyTo,
		Forwarded:  m.Forwarded,
		Edited:     m.Edited,
		EditedAt:   m.EditedAt,
		Deleted:    m.Deleted,
		Void:       m.Void,
		CreatedAt:  m.CreatedAt,
	}
}

func (m message) ChatMessage() chat.Message {
	readBy := make([]string, len(m.Reads))
	for i, r := range m.Reads {
		readBy[i] = r.ParticipantID
	}
	reactions := make(map[string]string, len(m.Reactions))
	for _, r := range m.Reactions {
		reactions[r.ParticipantID] = r.Emoji
	}
	return chat.Message{
		ID:         m.ID,
		ChatID:     m.ChatID,
		ClientID:   m.ClientID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		Type:       chat.MessageType(m.Type),
		Attachment: m.Attachment,
		Seq:        m.Seq,
		CreatedAt:  m.CreatedAt,
		ReadBy:     readBy,
		ReplyTo:    m.ReplyTo,
		Forwarded:  m.Forwarded,
		Edited:     m.Edited,
		EditedAt:   m.EditedAt,
		Deleted:    m.Deleted,
		Void:       m.Void,
		Reactions:  reactions,
	}
}

// A clientID binds a client-supplied idempotency key to a message.
type clientID struct {
	bun.BaseModel `bun:"table:message_client_ids"`

	ChatID    string    `bun:",pk"`
	ClientID  string    `bun:",pk"`
	MessageID string    `bun:",notnull"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:now()"`
}

type readState struct {
	bun.BaseModel `bun:"table:read_states"`

	ChatID        string    `bun:",pk"`
	ParticipantID string    `bun:",pk"`
	Marker        int64     `bun:",notnull,default:0"`
	Unread        int       `bun:",notnull,default:0"`
	UpdatedAt     time.Time `bun:",nullzero,notnull,default:now()"`
}

func (r readState) ReadState() chat.ReadState {
	return chat.ReadState{
		ChatID:        r.ChatID,
		ParticipantID: r.ParticipantID,
		Marker:        r.Marker,
		Unread:        r.Unread,
		UpdatedAt:     r.UpdatedAt,
	}
}

type notification struct {
	bun.BaseModel `bun:"table:notifications"`

	ID          string    `bun:",pk"`
	RecipientID string    `bun:",notnull"`
	Title       string    `bun:",notnull"`
	Body        string    `bun:",notnull"`
	Category    string    `bun:",notnull"`
	Priority    string    `bun:",notnull"`
	Status      string    `bun:",notnull"`
	ChatID      string    `bun:",nullzero"`
	MessageID   string    `bun:",nullzero"`
	DedupKey    string    `bun:",nullzero,unique"`
	CreatedAt   time.Time `bun:",nullzero,notnull,default:now()"`
	ReadAt      *time.Time
	ArchivedAt  *time.Time
}

func newNotification(n chat.Notification) *notification {
	return &notification{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Title:       n.Title,
		Body:        n.Body,
		Category:    string(n.Category),
		Priority:    string(n.Priority),
		Status:      string(n.Status),
		ChatID:      n.ChatID,
		MessageID:   n.MessageID,
		DedupKey:    n.DedupKey,
		CreatedAt:   n.CreatedAt,
		ReadAt:      n.ReadAt,
		ArchivedAt:  n.ArchivedAt,
	}
}

func (n notification) Notification() chat.Notification {
	return chat.Notification{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Title:       n.Title,
		Body:        n.Body,
		Category:    chat.Category(n.Category),
		Priority:    chat.Priority(n.Priority),
		Status:      chat.NotificationStatus(n.Status),
		ChatID:      n.ChatID,
		MessageID:   n.MessageID,
		DedupKey:    n.DedupKey,
		CreatedAt:   n.CreatedAt,
		ReadAt:      n.ReadAt,
		ArchivedAt:  n.ArchivedAt,
	}
}

// A delivery is an entry of the external delivery ledger.
type delivery struct {
	bun.BaseModel `bun:"table:deliveries"`

	Key         string    `bun:",pk"`
	DeliveredAt time.Time `bun:",nullzero,notnull,default:now()"`
}

type notificationSettings struct {
	bun.BaseModel `bun:"table:notification_settings"`

	UserID     string                 `bun:",pk"`
	Email      bool                   `bun:",notnull"`
	InApp      bool                   `bun:",notnull"`
	Categories map[chat.Category]bool `bun:"type:jsonb"`
}

// A user is a directory entry. Users are managed outside this service.
type user struct {
	bun.BaseModel `bun:"table:users"`

	ID    string `bun:",pk"`
	Name  string `bun:",nullzero"`
	Email string `bun:",nullzero"`
}

var models = []any{
	(*chatRow)(nil),
	(*message)(nil),
	(*reaction)(nil),
	(*read)(nil),
	(*clientID)(nil),
	(*readState)(nil),
	(*notification)(nil),
	(*delivery)(nil),
	(*notificationSettings)(nil),
	(*user)(nil),
}
