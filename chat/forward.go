package chat

import (
	"context"
	"log/slog"
)

// Forwarder copies messages between chats.
type Forwarder struct {
	store    Store
	chats    *Registry
	messages *MessageStore
	logger   *slog.Logger
	// deliver runs the post-append pipeline for the new message.
	deliver func(ctx context.Context, m Message) FanoutReport
}

// Forward appends a copy of a message to targetChatID on behalf of
// forwarderID, who must belong to both chats. The copy is authored by the
// forwarder and names the original sender in its provenance; forwarding a
// forward keeps the first origin.
func (fw *Forwarder) Forward(ctx context.Context, originChatID, messageID, targetChatID, forwarderID string) (Message, FanoutReport, error) {
	origin, err := fw.chats.access(ctx, originChatID, forwarderID)
	if err != nil {
		return Message{}, FanoutReport{}, err
	}
	if _, err := fw.chats.access(ctx, targetChatID, forwarderID); err != nil {
		return Message{}, FanoutReport{}, err
	}
	m, err := fw.store.Message(ctx, messageID)
	if CodeOf(err) == CodeNotFound || (err == nil && (m.ChatID != originChatID || m.Void || m.Deleted)) {
		return Message{}, FanoutReport{}, notFound("message %s does not exist in chat %s", messageID, originChatID)
	}
	if err != nil {
		return Message{}, FanoutReport{}, unavailable("load message", err)
	}

	prov := m.Forwarded
	if prov == nil {
		prov = &Provenance{
			ChatID:     origin.ID,
			ChatName:   origin.Name,
			MessageID:  m.ID,
			SenderID:   m.SenderID,
			SenderName: m.SenderName,
		}
	}
	var att *Attachment
	if m.Attachment != nil {
		a := *m.Attachment
		att = &a
	}
	out, err := fw.messages.Append(ctx, AppendRequest{
		ChatID:     targetChatID,
		SenderID:   forwarderID,
		Content:    m.Content,
		Type:       m.Type,
		Attachment: att,
		Forwarded:  prov,
	})
	if err != nil {
		return Message{}, FanoutReport{}, err
	}
	fw.logger.Info("Message forwarded", "origin_chat_id", originChatID, "origin_message_id", messageID, "chat_id", targetChatID, "message_id", out.ID)

	var report FanoutReport
	if fw.deliver != nil {
		report = fw.deliver(ctx, out)
	}
	return out, report, nil
}
