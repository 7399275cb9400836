package chat

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"time"
)

// Registry owns chat metadata and per-viewer settings.
type Registry struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// CreateChatRequest describes a new chat.
type CreateChatRequest struct {
	Kind           Kind
	Name           string
	ParticipantIDs []string
	Profiles       map[string]Profile
	Group          *GroupInfo
}

// ListOptions filters ListChats.
type ListOptions struct {
	IncludeArchived bool
}

// CreateChat validates req and stores a new chat.
func (r *Registry) CreateChat(ctx context.Context, req CreateChatRequest) (Chat, error) {
	if len(req.ParticipantIDs) == 0 {
		return Chat{}, invalidArgument("a chat needs at least one participant")
	}
	seen := make(map[string]bool, len(req.ParticipantIDs))
	for _, id := range req.ParticipantIDs {
		if id == "" {
			return Chat{}, invalidArgument("participant ids must not be empty")
		}
		if seen[id] {
			return Chat{}, invalidArgument("participant %s is listed twice", id)
		}
		seen[id] = true
	}

	var group *GroupInfo
	switch req.Kind {
	case KindPrivate:
		if len(req.ParticipantIDs) != 2 {
			return Chat{}, invalidArgument("a private chat has exactly two participants, got %d", len(req.ParticipantIDs))
		}
		if req.Group != nil {
			return Chat{}, invalidArgument("group metadata is only valid for group chats")
		}
	case KindGroup:
		g := GroupInfo{}
		if req.Group != nil {
			g = *req.Group
		}
		if g.CreatorID == "" {
			g.CreatorID = req.ParticipantIDs[0]
		}
		if !seen[g.CreatorID] {
			return Chat{}, invalidArgument("creator %s is not a participant", g.CreatorID)
		}
		admins := []string{g.CreatorID}
		for _, a := range g.Admins {
			if !seen[a] {
				return Chat{}, invalidArgument("admin %s is not a participant", a)
			}
			if !slices.Contains(admins, a) {
				admins = append(admins, a)
			}
		}
		g.Admins = admins
		g.PinnedMessageIDs = nil
		group = &g
	default:
		return Chat{}, invalidArgument("unknown chat kind %q", req.Kind)
	}

	now := r.now()
	c := Chat{
		ID:           r.newID(),
		Kind:         req.Kind,
		Name:         req.Name,
		Participants: slices.Clone(req.ParticipantIDs),
		Profiles:     make(map[string]Profile, len(req.ParticipantIDs)),
		Settings:     make(map[string]Settings, len(req.ParticipantIDs)),
		Group:        group,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, id := range c.Participants {
		p := req.Profiles[id]
		p.JoinedAt = now
		c.Profiles[id] = p
		c.Settings[id] = Settings{}
	}
	if err := r.store.InsertChat(ctx, c); err != nil {
		return Chat{}, unavailable("insert chat", err)
	}
	r.logger.Info("Chat created", "chat_id", c.ID, "kind", c.Kind, "participants", len(c.Participants))
	return c, nil
}

// Chat returns the chat with the given id.
func (r *Registry) Chat(ctx context.Context, id string) (Chat, error) {
	c, err := r.store.Chat(ctx, id)
	if err != nil {
		if CodeOf(err) == CodeNotFound {
			return Chat{}, notFound("chat %s does not exist", id)
		}
		return Chat{}, unavailable("load chat", err)
	}
	return c, nil
}

// Member returns the chat if participantID belongs to it.
func (r *Registry) Member(ctx context.Context, chatID, participantID string) (Chat, error) {
	c, err := r.Chat(ctx, chatID)
	if err != nil {
		return Chat{}, err
	}
	if !c.HasParticipant(participantID) {
		return Chat{}, forbidden("%s is not a participant of chat %s", participantID, chatID)
	}
	return c, nil
}

// access is Member for operations where a missing chat must not be
// distinguishable from a chat the caller cannot see.
func (r *Registry) access(ctx context.Context, chatID, participantID string) (Chat, error) {
	c, err := r.Member(ctx, chatID, participantID)
	if CodeOf(err) == CodeNotFound {
		return Chat{}, forbidden("%s cannot access chat %s", participantID, chatID)
	}
	return c, err
}

// ListChats returns the chats participantID belongs to, pinned chats first
// and then by most recent activity. Archived chats are left out unless
// requested.
func (r *Registry) ListChats(ctx context.Context, participantID string, opts ListOptions) ([]ChatView, error) {
	chats, err := r.store.ListChats(ctx, participantID)
	if err != nil {
		return nil, unavailable("list chats", err)
	}
	out := make([]ChatView, 0, len(chats))
	for _, c := range chats {
		s := c.Settings[participantID]
		if s.Archived && !opts.IncludeArchived {
			continue
		}
		rs, err := r.store.ReadState(ctx, c.ID, participantID)
		if err != nil {
			return nil, unavailable("load read state", err)
		}
		out = append(out, ChatView{Chat: c, Viewer: participantID, Unread: rs.Unread, Settings: s})
	}
	slices.SortStableFunc(out, func(a, b ChatView) int {
		if a.Settings.Pinned != b.Settings.Pinned {
			if a.Settings.Pinned {
				return -1
			}
			return 1
		}
		return cmp.Compare(activity(b.Chat).UnixNano(), activity(a.Chat).UnixNano())
	})
	return out, nil
}

func activity(c Chat) time.Time {
	if c.LastMessage != nil && c.LastMessage.Timestamp.After(c.UpdatedAt) {
		return c.LastMessage.Timestamp
	}
	return c.UpdatedAt
}

// UpdateSettings changes participantID's own settings of a chat. Other
// participants' settings are never touched.
func (r *Registry) UpdateSettings(ctx context.Context, chatID, participantID string, upd SettingsUpdate) (Settings, error) {
	var out Settings
	_, err := r.store.UpdateChat(ctx, chatID, func(c *Chat) error {
		if !c.HasParticipant(participantID) {
			return forbidden("%s is not a participant of chat %s", participantID, chatID)
		}
		if c.Settings == nil {
			c.Settings = make(map[string]Settings)
		}
		out = upd.apply(c.Settings[participantID])
		c.Settings[participantID] = out
		return nil
	})
	if err != nil {
		return Settings{}, r.chatError(chatID, "update settings", err)
	}
	return out, nil
}

// AddParticipant adds participantID to a group chat on behalf of actorID.
// The new member's read marker starts at the chat's current sequence, so
// earlier history never counts as unread.
func (r *Registry) AddParticipant(ctx context.Context, chatID, actorID, participantID string, p Profile) (Chat, error) {
	if participantID == "" {
		return Chat{}, invalidArgument("participant id must not be empty")
	}
	c, err := r.store.UpdateChat(ctx, chatID, func(c *Chat) error {
		if c.Kind != KindGroup {
			return invalidArgument("participants can only be added to group chats")
		}
		if !c.HasParticipant(actorID) {
			return forbidden("%s is not a participant of chat %s", actorID, chatID)
		}
		if c.HasParticipant(participantID) {
			return invalidArgument("%s is already a participant of chat %s", participantID, chatID)
		}
		c.Participants = append(c.Participants, participantID)
		if c.Profiles == nil {
			c.Profiles = make(map[string]Profile)
		}
		if c.Settings == nil {
			c.Settings = make(map[string]Settings)
		}
		now := r.now()
		p.JoinedAt = now
		c.Profiles[participantID] = p
		c.Settings[participantID] = Settings{}
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Chat{}, r.chatError(chatID, "add participant", err)
	}
	_, err = r.store.UpdateReadState(ctx, chatID, participantID, func(rs *ReadState) error {
		rs.Marker = c.LastSeq
		rs.Unread = 0
		rs.UpdatedAt = r.now()
		return nil
	})
	if err != nil {
		return Chat{}, unavailable("init read state", err)
	}
	return c, nil
}

// RemoveParticipant removes participantID and every per-participant entry
// from a group chat. Private chats are archived instead of left.
func (r *Registry) RemoveParticipant(ctx context.Context, chatID, participantID string) error {
	_, err := r.store.UpdateChat(ctx, chatID, func(c *Chat) error {
		if c.Kind != KindGroup {
			return invalidArgument("participants cannot leave a private chat; archive it instead")
		}
		if !c.HasParticipant(participantID) {
			return notFound("%s is not a participant of chat %s", participantID, chatID)
		}
		if len(c.Participants) == 1 {
			return invalidArgument("cannot remove the last participant of chat %s", chatID)
		}
		c.Participants = slices.DeleteFunc(c.Participants, func(id string) bool { return id == participantID })
		delete(c.Profiles, participantID)
		delete(c.Settings, participantID)
		if c.Group != nil {
			c.Group.Admins = slices.DeleteFunc(c.Group.Admins, func(id string) bool { return id == participantID })
			if len(c.Group.Admins) == 0 {
				c.Group.Admins = []string{c.Participants[0]}
			}
		}
		c.UpdatedAt = r.now()
		return nil
	})
	if err != nil {
		return r.chatError(chatID, "remove participant", err)
	}
	if err := r.store.DeleteReadState(ctx, chatID, participantID); err != nil {
		return unavailable("delete read state", err)
	}
	r.logger.Info("Participant removed", "chat_id", chatID, "participant_id", participantID)
	return nil
}

// UpdateLastMessageSummary records s as the chat's last message unless a
// later message is already recorded.
func (r *Registry) UpdateLastMessageSummary(ctx context.Context, chatID string, s Summary) error {
	_, err := r.store.UpdateChat(ctx, chatID, func(c *Chat) error {
		if c.LastMessage != nil && c.LastMessage.Seq > s.Seq {
			return nil
		}
		c.LastMessage = &s
		c.UpdatedAt = s.Timestamp
		return nil
	})
	return r.chatError(chatID, "update last message", err)
}

// SetMessagePinned pins or unpins a message of a group chat. Only admins
// may do so.
func (r *Registry) SetMessagePinned(ctx context.Context, chatID, actorID, messageID string, pinned bool) (Chat, error) {
	m, err := r.store.Message(ctx, messageID)
	if err != nil {
		if CodeOf(err) == CodeNotFound {
			return Chat{}, notFound("message %s does not exist", messageID)
		}
		return Chat{}, unavailable("load message", err)
	}
	if m.ChatID != chatID || m.Deleted {
		return Chat{}, notFound("message %s does not exist in chat %s", messageID, chatID)
	}
	c, err := r.store.UpdateChat(ctx, chatID, func(c *Chat) error {
		if c.Group == nil {
			return invalidArgument("only group chats have pinned messages")
		}
		if !c.IsAdmin(actorID) {
			return forbidden("%s is not an admin of chat %s", actorID, chatID)
		}
		has := slices.Contains(c.Group.PinnedMessageIDs, messageID)
		switch {
		case pinned && !has:
			c.Group.PinnedMessageIDs = append(c.Group.PinnedMessageIDs, messageID)
		case !pinned && has:
			c.Group.PinnedMessageIDs = slices.DeleteFunc(c.Group.PinnedMessageIDs, func(id string) bool { return id == messageID })
		}
		return nil
	})
	if err != nil {
		return Chat{}, r.chatError(chatID, "pin message", err)
	}
	return c, nil
}

// chatError passes coded errors through and wraps store failures.
func (r *Registry) chatError(chatID, op string, err error) error {
	if err != nil {
		r.logger.Debug("Chat update rejected", "chat_id", chatID, "op", op, "error", err.Error())
	}
	return unavailable(op, err)
}
