package chat

import (
	"context"
	"log/slog"
	"strings"
)

// ReactionManager keeps one reaction per participant per message.
type ReactionManager struct {
	store  Store
	chats  *Registry
	logger *slog.Logger
}

// React sets the participant's reaction on a message to emoji. Reacting
// again with the same emoji removes the reaction. It returns every reaction
// on the message after the change.
func (rm *ReactionManager) React(ctx context.Context, messageID, participantID, emoji string) (map[string]string, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, invalidArgument("emoji must not be empty")
	}
	m, err := rm.store.Message(ctx, messageID)
	if CodeOf(err) == CodeNotFound || (err == nil && m.Void) {
		return nil, notFound("message %s does not exist", messageID)
	}
	if err != nil {
		return nil, unavailable("load message", err)
	}
	if _, err := rm.chats.access(ctx, m.ChatID, participantID); err != nil {
		return nil, err
	}
	if m.Deleted {
		return nil, notFound("message %s was deleted", messageID)
	}

	reactions, err := rm.store.UpdateReaction(ctx, messageID, participantID, func(current string) string {
		if current == emoji {
			return ""
		}
		return emoji
	})
	if err != nil {
		return nil, unavailable("update reaction", err)
	}
	rm.logger.Debug("Reaction updated", "message_id", messageID, "participant_id", participantID, "emoji", emoji)
	return reactions, nil
}
