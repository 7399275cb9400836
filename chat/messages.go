package chat

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"time"
)

const (
	reserveAttempts = 3
	loadPageSize    = 100

	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// MessageStore is the ordered append log of every chat.
type MessageStore struct {
	store    Store
	chats    *Registry
	receipts *ReceiptTracker
	commits  *commitTracker
	logger   *slog.Logger
	metrics  Metrics
	now      func() time.Time
	newID    func() string
}

// AppendRequest describes a message to append.
type AppendRequest struct {
	ChatID     string
	SenderID   string
	Content    string
	Type       MessageType
	Attachment *Attachment
	ReplyToID  string
	// ClientID makes retries of the same send idempotent.
	ClientID  string
	Forwarded *Provenance
}

func (req *AppendRequest) validate() error {
	if req.Type == "" {
		req.Type = TypeText
	}
	if !req.Type.valid() {
		return invalidArgument("unknown message type %q", req.Type)
	}
	if req.Type == TypeText && strings.TrimSpace(req.Content) == "" {
		return invalidArgument("text messages must not be empty")
	}
	if req.Type != TypeText && (req.Attachment == nil || req.Attachment.URL == "") {
		return invalidArgument("%s messages need an attachment reference", req.Type)
	}
	return nil
}

// Append stores a new message at the end of its chat. The sequence number
// is reserved in a short atomic step; the body is written afterwards, and
// readers only see the message once every earlier slot is written too.
func (s *MessageStore) Append(ctx context.Context, req AppendRequest) (Message, error) {
	if err := req.validate(); err != nil {
		return Message{}, err
	}
	c, err := s.chats.access(ctx, req.ChatID, req.SenderID)
	if err != nil {
		return Message{}, err
	}
	s.commits.init(c.ID, c.LastSeq)

	m := Message{
		ID:         s.newID(),
		ChatID:     c.ID,
		ClientID:   req.ClientID,
		SenderID:   req.SenderID,
		SenderName: c.DisplayName(req.SenderID),
		Content:    req.Content,
		Type:       req.Type,
		Attachment: req.Attachment,
		ReadBy:     []string{req.SenderID},
		Forwarded:  req.Forwarded,
		Reactions:  map[string]string{},
	}
	if req.ReplyToID != "" {
		ref, err := s.replyRef(ctx, c.ID, req.ReplyToID)
		if err != nil {
			return Message{}, err
		}
		m.ReplyTo = ref
	}

	if m.ClientID != "" {
		owner, err := s.store.ClaimClientID(ctx, c.ID, m.ClientID, m.ID)
		if err != nil {
			return Message{}, unavailable("claim client id", err)
		}
		if owner != m.ID {
			return s.claimed(ctx, c.ID, m.ClientID, owner)
		}
	}

	seq, err := s.reserve(ctx, c.ID)
	if err != nil {
		s.release(ctx, m)
		return Message{}, err
	}
	m.Seq = seq
	m.CreatedAt = s.now()

	if err := s.store.InsertMessage(ctx, m); err != nil {
		s.void(ctx, c.ID, seq)
		s.release(ctx, m)
		s.commits.commit(c.ID, seq)
		return Message{}, unavailable("insert message", err)
	}
	if err := s.receipts.messageAppended(ctx, c, m); err != nil {
		s.logger.Error("Could not bump unread counters", "chat_id", c.ID, "seq", seq, "error", err.Error())
	}
	s.commits.commit(c.ID, seq)

	summary := Summary{
		MessageID:  m.ID,
		Seq:        m.Seq,
		Preview:    PreviewOf(m),
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Type:       m.Type,
		Timestamp:  m.CreatedAt,
	}
	if err := s.chats.UpdateLastMessageSummary(ctx, c.ID, summary); err != nil {
		s.logger.Warn("Could not update last message", "chat_id", c.ID, "error", err.Error())
	}
	if s.metrics != nil {
		s.metrics.MessageAppended(c.Kind)
	}
	s.logger.Info("Message appended", "chat_id", c.ID, "message_id", m.ID, "seq", m.Seq)
	return m, nil
}

// claimed resolves a retry whose client id is already bound to owner.
func (s *MessageStore) claimed(ctx context.Context, chatID, clientID, owner string) (Message, error) {
	m, err := s.store.Message(ctx, owner)
	if CodeOf(err) == CodeNotFound {
		return Message{}, conflict("message with client id %s is still being appended", clientID)
	}
	if err != nil {
		return Message{}, unavailable("load message", err)
	}
	s.logger.Debug("Duplicate append", "chat_id", chatID, "client_id", clientID, "message_id", owner)
	return m, nil
}

func (s *MessageStore) replyRef(ctx context.Context, chatID, id string) (*ReplyRef, error) {
	r, err := s.store.Message(ctx, id)
	if CodeOf(err) == CodeNotFound || (err == nil && (r.ChatID != chatID || r.Void)) {
		return nil, invalidArgument("reply target %s is not a message of chat %s", id, chatID)
	}
	if err != nil {
		return nil, unavailable("load reply target", err)
	}
	return &ReplyRef{MessageID: r.ID, Preview: PreviewOf(r), SenderName: r.SenderName}, nil
}

// reserve takes the next sequence number, retrying immediately when the
// store reports contention.
func (s *MessageStore) reserve(ctx context.Context, chatID string) (int64, error) {
	var err error
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		var seq int64
		seq, err = s.store.ReserveSeq(ctx, chatID)
		if err == nil {
			return seq, nil
		}
		if !errors.Is(err, ErrConflict) {
			break
		}
		if s.metrics != nil {
			s.metrics.SeqReserveRetry()
		}
	}
	return 0, unavailable("reserve sequence", err)
}

// void fills a reserved slot whose body could not be written.
func (s *MessageStore) void(ctx context.Context, chatID string, seq int64) {
	m := Message{
		ID:        s.newID(),
		ChatID:    chatID,
		Content:   Tombstone,
		Type:      TypeText,
		Seq:       seq,
		CreatedAt: s.now(),
		Deleted:   true,
		Void:      true,
		Reactions: map[string]string{},
	}
	if err := s.store.InsertMessage(context.WithoutCancel(ctx), m); err != nil {
		s.logger.Error("Could not fill void slot", "chat_id", chatID, "seq", seq, "error", err.Error())
	}
}

func (s *MessageStore) release(ctx context.Context, m Message) {
	if m.ClientID == "" {
		return
	}
	if err := s.store.ReleaseClientID(context.WithoutCancel(ctx), m.ChatID, m.ClientID, m.ID); err != nil {
		s.logger.Warn("Could not release client id", "chat_id", m.ChatID, "client_id", m.ClientID, "error", err.Error())
	}
}

// Load returns the messages of a chat with a sequence number above
// afterSeq, in ascending order. The sequence ends at the last message
// committed when iteration starts; callers resume from the last seq they
// saw. Iteration stops with ctx's error when ctx is cancelled.
func (s *MessageStore) Load(ctx context.Context, chatID, viewerID string, afterSeq int64) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		if afterSeq < 0 {
			yield(Message{}, invalidArgument("sequence numbers are not negative"))
			return
		}
		c, err := s.chats.access(ctx, chatID, viewerID)
		if err != nil {
			yield(Message{}, err)
			return
		}
		upto := s.commits.visible(c)
		for after := afterSeq; after < upto; {
			page, err := s.store.ScanMessages(ctx, chatID, after, upto, loadPageSize)
			if err != nil {
				yield(Message{}, unavailable("scan messages", err))
				return
			}
			for _, m := range page {
				if m.Void {
					continue
				}
				if err := ctx.Err(); err != nil {
					yield(Message{}, err)
					return
				}
				if !yield(m, nil) {
					return
				}
			}
			if len(page) < loadPageSize {
				return
			}
			after = page[len(page)-1].Seq
		}
	}
}

// History returns up to limit messages after afterSeq.
func (s *MessageStore) History(ctx context.Context, chatID, viewerID string, afterSeq int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)
	out := make([]Message, 0, limit)
	for m, err := range s.Load(ctx, chatID, viewerID, afterSeq) {
		if err != nil {
			return nil, err
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Edit replaces the content of a message. Only the sender may edit, and
// deleted messages cannot be edited.
func (s *MessageStore) Edit(ctx context.Context, messageID, editorID, content string) (Message, error) {
	m, err := s.store.UpdateMessage(ctx, messageID, func(m *Message) error {
		if m.Deleted {
			return notFound("message %s does not exist", messageID)
		}
		if m.SenderID != editorID {
			return forbidden("only the sender can edit message %s", messageID)
		}
		if m.Type == TypeText && strings.TrimSpace(content) == "" {
			return invalidArgument("text messages must not be empty")
		}
		now := s.now()
		m.Content = content
		m.Edited = true
		m.EditedAt = &now
		return nil
	})
	if err != nil {
		return Message{}, s.messageError(messageID, err)
	}
	s.refreshSummary(ctx, m)
	return m, nil
}

// SoftDelete replaces a message with a tombstone. The sender and the admins
// of a group chat may delete. Deleting twice is a no-op.
func (s *MessageStore) SoftDelete(ctx context.Context, messageID, actorID string) error {
	m, err := s.store.Message(ctx, messageID)
	if err != nil {
		return s.messageError(messageID, err)
	}
	if m.Void {
		return notFound("message %s does not exist", messageID)
	}
	if m.SenderID != actorID {
		c, err := s.chats.Chat(ctx, m.ChatID)
		if err != nil {
			return err
		}
		if !c.IsAdmin(actorID) {
			return forbidden("%s cannot delete message %s", actorID, messageID)
		}
	}
	if m.Deleted {
		return nil
	}
	m, err = s.store.UpdateMessage(ctx, messageID, func(m *Message) error {
		m.Deleted = true
		m.Content = Tombstone
		m.Attachment = nil
		return nil
	})
	if err != nil {
		return s.messageError(messageID, err)
	}
	s.refreshSummary(ctx, m)
	s.logger.Info("Message deleted", "chat_id", m.ChatID, "message_id", m.ID, "actor_id", actorID)
	return nil
}

// refreshSummary rewrites the chat's last message summary when m is it.
func (s *MessageStore) refreshSummary(ctx context.Context, m Message) {
	c, err := s.chats.Chat(ctx, m.ChatID)
	if err != nil || c.LastMessage == nil || c.LastMessage.MessageID != m.ID {
		return
	}
	sum := *c.LastMessage
	sum.Preview = PreviewOf(m)
	if err := s.chats.UpdateLastMessageSummary(ctx, c.ID, sum); err != nil {
		s.logger.Warn("Could not refresh last message", "chat_id", c.ID, "error", err.Error())
	}
}

func (s *MessageStore) messageError(id string, err error) error {
	if CodeOf(err) == CodeNotFound {
		return notFound("message %s does not exist", id)
	}
	return unavailable("update message", err)
}

// scanRange calls fn for every stored message of a chat with
// after < seq <= upto, in ascending order.
func scanRange(ctx context.Context, store MessageRepository, chatID string, after, upto int64, fn func(Message) error) error {
	for after < upto {
		page, err := store.ScanMessages(ctx, chatID, after, upto, loadPageSize)
		if err != nil {
			return unavailable("scan messages", err)
		}
		for _, m := range page {
			if err := fn(m); err != nil {
				return err
			}
		}
		if len(page) < loadPageSize {
			return nil
		}
		after = page[len(page)-1].Seq
	}
	return nil
}
