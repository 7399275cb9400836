package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Options configures a Core. Only the store is required.
type Options struct {
	Logger    *slog.Logger
	Directory Directory
	Email     EmailSender
	Publisher Publisher
	Presence  PresenceStore
	Metrics   Metrics

	// FanoutWorkers bounds concurrent deliveries per channel. Defaults to 8.
	FanoutWorkers int
	// EmailTimeout bounds each email call. Defaults to 5s.
	EmailTimeout time.Duration
	// EmailLimiter rate limits email calls. Nil means unlimited.
	EmailLimiter *rate.Limiter
	// PresenceTTL defaults to 2m.
	PresenceTTL time.Duration

	Now   func() time.Time
	NewID func() string
}

// Core wires the messaging components together.
type Core struct {
	Chats     *Registry
	Messages  *MessageStore
	Receipts  *ReceiptTracker
	Reactions *ReactionManager
	Forwarder *Forwarder
	Fanout    *Fanout
	Inbox     *Inbox
	Presence  *PresenceView

	publisher Publisher
	logger    *slog.Logger
}

// New returns a Core backed by store.
func New(store Store, opts Options) *Core {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.FanoutWorkers <= 0 {
		opts.FanoutWorkers = 8
	}
	if opts.EmailTimeout <= 0 {
		opts.EmailTimeout = 5 * time.Second
	}
	if opts.PresenceTTL <= 0 {
		opts.PresenceTTL = 2 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	now, newID, logger := opts.Now, opts.NewID, opts.Logger

	commits := newCommitTracker()
	chats := &Registry{store: store, logger: logger, now: now, newID: newID}
	receipts := &ReceiptTracker{store: store, chats: chats, commits: commits, logger: logger, now: now}
	messages := &MessageStore{
		store:    store,
		chats:    chats,
		receipts: receipts,
		commits:  commits,
		logger:   logger,
		metrics:  opts.Metrics,
		now:      now,
		newID:    newID,
	}
	c := &Core{
		Chats:     chats,
		Messages:  messages,
		Receipts:  receipts,
		Reactions: &ReactionManager{store: store, chats: chats, logger: logger},
		Fanout: &Fanout{
			store:        store,
			directory:    opts.Directory,
			email:        opts.Email,
			limiter:      opts.EmailLimiter,
			workers:      opts.FanoutWorkers,
			emailTimeout: opts.EmailTimeout,
			logger:       logger,
			metrics:      opts.Metrics,
			now:          now,
			newID:        newID,
		},
		Inbox:     &Inbox{store: store, now: now},
		Presence:  &PresenceView{store: opts.Presence, ttl: opts.PresenceTTL, now: now},
		publisher: opts.Publisher,
		logger:    logger,
	}
	c.Forwarder = &Forwarder{store: store, chats: chats, messages: messages, logger: logger, deliver: c.deliver}
	return c
}

// Send appends a message and notifies the other participants. Notification
// failures are reported in the FanoutReport and never fail the send.
func (c *Core) Send(ctx context.Context, req AppendRequest) (Message, FanoutReport, error) {
	m, err := c.Messages.Append(ctx, req)
	if err != nil {
		return Message{}, FanoutReport{}, err
	}
	return m, c.deliver(ctx, m), nil
}

// Forward copies a message into another chat and notifies its participants.
func (c *Core) Forward(ctx context.Context, originChatID, messageID, targetChatID, forwarderID string) (Message, FanoutReport, error) {
	return c.Forwarder.Forward(ctx, originChatID, messageID, targetChatID, forwarderID)
}

// deliver publishes m to live subscribers and fans out notifications.
func (c *Core) deliver(ctx context.Context, m Message) FanoutReport {
	if c.publisher != nil {
		if err := c.publisher.PublishMessage(ctx, m); err != nil {
			c.logger.Warn("Could not publish message", "chat_id", m.ChatID, "message_id", m.ID, "error", err.Error())
		}
	}
	report, err := c.Fanout.NewMessage(ctx, m.ChatID, m.ID, m.SenderID, PreviewOf(m))
	if err != nil {
		c.logger.Error("Fanout failed", "chat_id", m.ChatID, "message_id", m.ID, "error", err.Error())
		return FanoutReport{EventKey: "message:" + m.ID, ChatID: m.ChatID, MessageID: m.ID}
	}
	if err := report.Err(); err != nil {
		c.logger.Warn("Fanout partially failed", "chat_id", m.ChatID, "message_id", m.ID, "error", err.Error())
	}
	return report
}

// CreateChat creates a chat and, for group chats, invites every other
// participant.
func (c *Core) CreateChat(ctx context.Context, req CreateChatRequest) (Chat, FanoutReport, error) {
	ch, err := c.Chats.CreateChat(ctx, req)
	if err != nil {
		return Chat{}, FanoutReport{}, err
	}
	if ch.Kind != KindGroup {
		return ch, FanoutReport{}, nil
	}
	return ch, c.invite(ctx, ch.ID, ch.Group.CreatorID, ch.Participants), nil
}

// AddParticipant adds a member to a group chat and invites them.
func (c *Core) AddParticipant(ctx context.Context, chatID, actorID, participantID string, p Profile) (Chat, FanoutReport, error) {
	ch, err := c.Chats.AddParticipant(ctx, chatID, actorID, participantID, p)
	if err != nil {
		return Chat{}, FanoutReport{}, err
	}
	return ch, c.invite(ctx, chatID, actorID, []string{participantID}), nil
}

func (c *Core) invite(ctx context.Context, chatID, actorID string, ids []string) FanoutReport {
	report, err := c.Fanout.ChatInvite(ctx, chatID, actorID, ids)
	if err != nil {
		c.logger.Error("Invite fanout failed", "chat_id", chatID, "error", err.Error())
		return report
	}
	if err := report.Err(); err != nil {
		c.logger.Warn("Invite fanout partially failed", "chat_id", chatID, "error", err.Error())
	}
	return report
}
