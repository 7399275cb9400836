package api

import (
	"net/http"

	"github.com/driftpro/chatcore/chat"
)

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request, participantID string) {
	type response struct {
		Notifications []chat.Notification `json:"notifications"`
	}

	limit, ok := a.intQuery(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := a.intQuery(w, r, "offset")
	if !ok {
		return
	}
	status := chat.NotificationStatus(r.URL.Query().Get("status"))
	ns, err := a.Core.Inbox.List(r.Context(), participantID, status, int(limit), int(offset))
	if err != nil {
		a.fail(w, err, "Could not list notifications")
		return
	}
	if ns == nil {
		ns = []chat.Notification{}
	}
	a.respond(w, http.StatusOK, response{Notifications: ns})
}

func (a *API) unreadNotifications(w http.ResponseWriter, r *http.Request, participantID string) {
	type response struct {
		Unread int `json:"unread"`
	}

	n, err := a.Core.Inbox.UnreadCount(r.Context(), participantID)
	if err != nil {
		a.fail(w, err, "Could not count notifications")
		return
	}
	a.respond(w, http.StatusOK, response{Unread: n})
}

func (a *API) markAllNotificationsRead(w http.ResponseWriter, r *http.Request, participantID string) {
	type response struct {
		Updated int `json:"updated"`
	}

	n, err := a.Core.Inbox.MarkAllRead(r.Context(), participantID)
	if err != nil {
		a.fail(w, err, "Could not mark notifications read")
		return
	}
	a.respond(w, http.StatusOK, response{Updated: n})
}

func (a *API) markNotificationRead(w http.ResponseWriter, r *http.Request, participantID string) {
	n, err := a.Core.Inbox.MarkRead(r.Context(), r.PathValue("notificationID"), participantID)
	if err != nil {
		a.fail(w, err, "Could not mark notification read")
		return
	}
	a.respond(w, http.StatusOK, n)
}

func (a *API) archiveNotification(w http.ResponseWriter, r *http.Request, participantID string) {
	n, err := a.Core.Inbox.Archive(r.Context(), r.PathValue("notificationID"), participantID)
	if err != nil {
		a.fail(w, err, "Could not archive notification")
		return
	}
	a.respond(w, http.StatusOK, n)
}

func (a *API) notificationSettings(w http.ResponseWriter, r *http.Request, participantID string) {
	s, err := a.Core.Inbox.Settings(r.Context(), participantID)
	if err != nil {
		a.fail(w, err, "Could not get notification settings")
		return
	}
	a.respond(w, http.StatusOK, s)
}

func (a *API) updateNotificationSettings(w http.ResponseWriter, r *http.Request, participantID string) {
	type request struct {
		Email      bool                   `json:"email"`
		InApp      bool                   `json:"in_app"`
		Categories map[chat.Category]bool `json:"categories"`
	}

	var body request
	if !a.decode(w, r, &body) {
		return
	}
	s, err := a.Core.Inbox.UpdateSettings(r.Context(), chat.NotificationSettings{
		UserID:     participantID,
		Email:      body.Email,
		InApp:      body.InApp,
		Categories: body.Categories,
	})
	if err != nil {
		a.fail(w, err, "Could not update notification settings")
		return
	}
	a.respond(w, http.StatusOK, s)
}

func (a *API) setPresence(w http.ResponseWriter, r *http.Request, participantID string) {
	type request struct {
		Status chat.Status `json:"status" validate:"required,oneof=online away offline"`
	}

	var body request
	if !a.decode(w, r, &body) {
		return
	}
	if err := a.Core.Presence.SetStatus(r.Context(), participantID, body.Status); err != nil {
		a.fail(w, err, "Could not set presence")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getPresence annotates the users named by repeated user parameters.
func (a *API) getPresence(w http.ResponseWriter, r *http.Request, _ string) {
	type response struct {
		Presence map[string]chat.Presence `json:"presence"`
	}

	ids := r.URL.Query()["user"]
	if len(ids) == 0 || len(ids) > 200 {
		a.respond(w, http.StatusBadRequest, errorResponse{Error: "Between 1 and 200 user parameters are required"})
		return
	}
	ps, err := a.Core.Presence.Annotate(r.Context(), ids...)
	if err != nil {
		a.fail(w, err, "Could not get presence")
		return
	}
	a.respond(w, http.StatusOK, response{Presence: ps})
}
