package api

import (
	"net/http"

	"github.com/driftpro/chatcore/chat"
)

func (a *API) listMessages(w http.ResponseWriter, r *http.Request, participantID string) {
	type response struct {
		Messages []chat.Message `json:"messages"`
		// Next is the after value that continues the listing.
		Next int64 `json:"next"`
	}

	after, ok := a.intQuery(w, r, "after")
	if !ok {
		return
	}
	limit, ok := a.intQuery(w, r, "limit")
	if !ok {
		return
	}

	msgs, err := a.Core.Messages.History(r.Context(), r.PathValue("chatID"), participantID, after, int(limit))
	if err != nil {
		a.fail(w, err, "Could not list messages")
		return
	}
	a.Logger.Info("Got messages", "count", len(msgs))

	res := response{Messages: msgs, Next: after}
	if len(msgs) > 0 {
		res.Next = msgs[len(msgs)-1].Seq
	}
	a.respond(w, http.StatusOK, res)
}

func (a *API) createMessage(w http.ResponseWriter, r *http.Request, participantID string) {
	type request struct {
		Content    string           `json:"content" validate:"max=10000"`
		Type       chat.MessageType `json:"type" validate:"omitempty,oneof=text image file video audio"`
		Attachment *chat.Attachment `json:"attachment"`
		ReplyTo    string           `json:"reply_to"`
		ClientID   string           `json:"client_id" validate:"max=64"`
	}

	var body request
	if !a.decode(w, r, &body) {
		return
	}
	if body.Type == "" {
		body.Type = chat.TypeText
	}

	msg, report, err := a.Core.Send(r.Context(), chat.AppendRequest{
		ChatID:     r.PathValue("chatID"),
		SenderID:   participantID,
		Content:    body.Content,
		Type:       body.Type,
		Attachment: body.Attachment,
		ReplyToID:  body.ReplyTo,
		ClientID:   body.ClientID,
	})
	if err != nil {
		a.fail(w, err, "Could not send message")
		return
	}
	a.respond(w, http.StatusCreated, messageResponse{Message: msg, Fanout: report})
}

func (a *API) forwardMessage(w http.ResponseWriter, r *http.Request, participantID string) {
	type request struct {
		TargetChatID string `json:"target_chat_id" validate:"notblank"`
	}

	var body request
	if !a.decode(w, r, &body) {
		return
	}
	msg, report, err := a.Core.Forward(r.Context(), r.PathValue("chatID"), r.PathValue("messageID"), body.TargetChatID, participantID)
	if err != nil {
		a.fail(w, err, "Could not forward message")
		return
	}
	a.respond(w, http.StatusCreated, messageResponse{Message: msg, Fanout: report})
}

func (a *API) editMessage(w http.ResponseWriter, r *http.Request, participantID string) {
	type request struct {
		Content string `json:"content" validate:"notblank,max=10000"`
	}

	var body request
	if !a.decode(w, r, &body) {
		return
	}
	msg, err := a.Core.Messages.Edit(r.Context(), r.PathValue("messageID"), participantID, body.Content)
	if err != nil {
		a.fail(w, err, "Could not edit message")
		return
	}
	a.respond(w, http.StatusOK, msg)
}

func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request, participantID string) {
	if err := a.Core.Messages.SoftDelete(r.Context(), r.PathValue("messageID"), participantID); err != nil {
		a.fail(w, err, "Could not delete message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) createReaction(w http.ResponseWriter, r *http.Request, participantID string) {
	type (
		request struct {
			Emoji string `json:"emoji" validate:"notblank,max=32"`
		}
		response struct {
			MessageID string            `json:"message_id"`
			Reactions map[string]string `json:"reactions"`
		}
	)

	messageID := r.PathValue("messageID")
	var body request
	if !a.decode(w, r, &body) {
		return
	}

	reactions, err := a.Core.Reactions.React(r.Context(), messageID, participantID, body.Emoji)
	if err != nil {
		a.fail(w, err, "Could not react to message "+messageID)
		return
	}
	a.respond(w, http.StatusOK, response{MessageID: messageID, Reactions: reactions})
}
