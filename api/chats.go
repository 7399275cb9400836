package api

import (
	"errors"
	"net/http"

	"github.com/driftpro/chatcore/chat"
)

func (a *API) listChats(w http.ResponseWriter, r *http.Request, participantID string) {
	type response struct {
		Chats []chat.ChatView `json:"chats"`
	}

	opts := chat.ListOptions{IncludeArchived: r.URL.Query().Get("archived") == "true"}
	views, err := a.Core.Chats.ListChats(r.Context(), participantID, opts)
	if err != nil {
		a.fail(w, err, "Could not list chats")
		return
	}
	if views == nil {
		views = []chat.ChatView{}
	}
	a.respond(w, http.StatusOK, response{Chats: views})
}

func (a *API) createChat(w http.ResponseWriter, r *http.Request, participantID string) {
	type (
		member struct {
			ID        string `json:"id" validate:"notblank"`
			Name      string `json:"name"`
			AvatarURL string `json:"avatar_url" validate:"omitempty,url"`
		}
		request struct {
			Kind        chat.Kind `json:"kind" validate:"required,oneof=private group"`
			Name        string    `json:"name" validate:"max=100"`
			Description string    `json:"description" validate:"max=500"`
			Members     []member  `json:"members" validate:"dive"`
		}
	)

	var body request
	if !a.decode(w, r, &body) {
		return
	}

	// The creator is always a participant.
	req := chat.CreateChatRequest{
		Kind:           body.Kind,
		Name:           body.Name,
		ParticipantIDs: []string{participantID},
		Profiles:       make(map[string]chat.Profile, len(body.Members)+1),
	}
	for _, m := range body.Members {
		if m.ID != participantID {
			req.ParticipantIDs = append(req.ParticipantIDs, m.ID)
		}
		req.Profiles[m.ID] = chat.Profile{Name: m.Name, AvatarURL: m.AvatarURL}
	}
	if body.Kind == chat.KindGroup {
		req.Group = &chat.GroupInfo{Description: body.Description, CreatorID: participantID}
	}

	c, report, err := a.Core.CreateChat(r.Context(), req)
	if err != nil {
		a.fail(w, err, "Could not create chat")
		return
	}
	a.respond(w, http.StatusCreated, chatResponse{Chat: c, Fanout: report})
}

func (a *API) getChat(w http.ResponseWriter, r *http.Request, participantID string) {
	c, err := a.Core.Chats.Member(r.Context(), r.PathValue("chatID"), participantID)
	if err != nil {
		a.fail(w, err, "Could not get chat")
		return
	}
	a.respond(w, http.StatusOK, c)
}

func (a *API) updateSettings(w http.ResponseWriter, r *http.Request, participantID string) {
	var body chat.SettingsUpdate
	if !a.decode(w, r, &body) {
		return
	}
	s, err := a.Core.Chats.UpdateSettings(r.Context(), r.PathValue("chatID"), participantID, body)
	if err != nil {
		a.fail(w, err, "Could not update settings")
		return
	}
	a.respond(w, http.StatusOK, s)
}

func (a *API) addParticipant(w http.ResponseWriter, r *http.Request, participantID string) {
	type request struct {
		ID        string `json:"id" validate:"notblank"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatar_url" validate:"omitempty,url"`
	}

	var body request
	if !a.decode(w, r, &body) {
		return
	}
	profile := chat.Profile{Name: body.Name, AvatarURL: body.AvatarURL}
	c, report, err := a.Core.AddParticipant(r.Context(), r.PathValue("chatID"), participantID, body.ID, profile)
	if err != nil {
		a.fail(w, err, "Could not add participant")
		return
	}
	a.respond(w, http.StatusOK, chatResponse{Chat: c, Fanout: report})
}

// removeParticipant lets participants leave and admins remove others.
func (a *API) removeParticipant(w http.ResponseWriter, r *http.Request, participantID string) {
	chatID, target := r.PathValue("chatID"), r.PathValue("participantID")
	c, err := a.Core.Chats.Member(r.Context(), chatID, participantID)
	if err != nil {
		a.fail(w, err, "Could not remove participant")
		return
	}
	if target != participantID && !c.IsAdmin(participantID) {
		a.respondError(w, http.StatusForbidden, errors.New("not an admin"), "Only admins can remove other participants")
		return
	}
	if err := a.Core.Chats.RemoveParticipant(r.Context(), chatID, target); err != nil {
		a.fail(w, err, "Could not remove participant")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) pinMessage(pinned bool) func(w http.ResponseWriter, r *http.Request, participantID string) {
	return func(w http.ResponseWriter, r *http.Request, participantID string) {
		c, err := a.Core.Chats.SetMessagePinned(r.Context(), r.PathValue("chatID"), participantID, r.PathValue("messageID"), pinned)
		if err != nil {
			a.fail(w, err, "Could not update pinned messages")
			return
		}
		a.respond(w, http.StatusOK, c)
	}
}

func (a *API) markRead(w http.ResponseWriter, r *http.Request, participantID string) {
	type request struct {
		UpToSeq    *int64   `json:"up_to_seq" validate:"required_without=MessageIDs,omitempty,min=0"`
		MessageIDs []string `json:"message_ids" validate:"required_without=UpToSeq,omitempty,max=500,dive,notblank"`
	}

	var body request
	if !a.decode(w, r, &body) {
		return
	}
	chatID := r.PathValue("chatID")
	var err error
	if body.UpToSeq != nil {
		err = a.Core.Receipts.MarkRead(r.Context(), chatID, participantID, *body.UpToSeq)
	} else {
		err = a.Core.Receipts.MarkBatchRead(r.Context(), chatID, participantID, body.MessageIDs)
	}
	if err != nil {
		a.fail(w, err, "Could not mark messages read")
		return
	}
	a.unreadCount(w, r, participantID)
}

func (a *API) unreadCount(w http.ResponseWriter, r *http.Request, participantID string) {
	type response struct {
		ChatID string `json:"chat_id"`
		Unread int    `json:"unread"`
	}

	chatID := r.PathValue("chatID")
	n, err := a.Core.Receipts.UnreadCount(r.Context(), chatID, participantID)
	if err != nil {
		a.fail(w, err, "Could not count unread messages")
		return
	}
	a.respond(w, http.StatusOK, response{ChatID: chatID, Unread: n})
}
