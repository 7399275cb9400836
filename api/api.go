package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/driftpro/chatcore/api/validator"
	"github.com/driftpro/chatcore/chat"
)

// ParticipantHeader carries the caller's identity. It is set by the
// authenticating proxy in front of the service and trusted as is.
const ParticipantHeader = "X-Participant-ID"

// API provides the REST endpoints for the application.
type API struct {
	Logger *slog.Logger
	Core   *chat.Core
	// Stream follows live messages for the websocket endpoint. The endpoint
	// answers 503 when it is nil.
	Stream chat.Subscriber
	// Metrics is served on /metrics when set.
	Metrics http.Handler
	Val     *validator.Validator

	once     sync.Once
	mux      *http.ServeMux
	upgrader websocket.Upgrader
}

func (a *API) setupRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /chats", a.identified(a.listChats))
	mux.HandleFunc("POST /chats", a.identified(a.createChat))
	mux.HandleFunc("GET /chats/{chatID}", a.identified(a.getChat))
	mux.HandleFunc("PATCH /chats/{chatID}/settings", a.identified(a.updateSettings))
	mux.HandleFunc("POST /chats/{chatID}/participants", a.identified(a.addParticipant))
	mux.HandleFunc("DELETE /chats/{chatID}/participants/{participantID}", a.identified(a.removeParticipant))
	mux.HandleFunc("PUT /chats/{chatID}/pins/{messageID}", a.identified(a.pinMessage(true)))
	mux.HandleFunc("DELETE /chats/{chatID}/pins/{messageID}", a.identified(a.pinMessage(false)))

	mux.HandleFunc("GET /chats/{chatID}/messages", a.identified(a.listMessages))
	mux.HandleFunc("POST /chats/{chatID}/messages", a.identified(a.createMessage))
	mux.HandleFunc("POST /chats/{chatID}/messages/{messageID}/forward", a.identified(a.forwardMessage))
	mux.HandleFunc("PATCH /messages/{messageID}", a.identified(a.editMessage))
	mux.HandleFunc("DELETE /messages/{messageID}", a.identified(a.deleteMessage))
	mux.HandleFunc("POST /messages/{messageID}/reactions", a.identified(a.createReaction))

	mux.HandleFunc("POST /chats/{chatID}/read", a.identified(a.markRead))
	mux.HandleFunc("GET /chats/{chatID}/unread", a.identified(a.unreadCount))
	mux.HandleFunc("GET /chats/{chatID}/stream", a.identified(a.stream))

	mux.HandleFunc("GET /notifications", a.identified(a.listNotifications))
	mux.HandleFunc("GET /notifications/unread", a.identified(a.unreadNotifications))
	mux.HandleFunc("POST /notifications/read", a.identified(a.markAllNotificationsRead))
	mux.HandleFunc("POST /notifications/{notificationID}/read", a.identified(a.markNotificationRead))
	mux.HandleFunc("POST /notifications/{notificationID}/archive", a.identified(a.archiveNotification))
	mux.HandleFunc("GET /notifications/settings", a.identified(a.notificationSettings))
	mux.HandleFunc("PUT /notifications/settings", a.identified(a.updateNotificationSettings))

	mux.HandleFunc("PUT /presence", a.identified(a.setPresence))
	mux.HandleFunc("GET /presence", a.identified(a.getPresence))

	if a.Metrics != nil {
		mux.Handle("GET /metrics", a.Metrics)
	}

	a.mux = mux
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Browsers connect from the web app's origin; identity comes from
		// the proxy header, not from cookies.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	if a.Val == nil {
		a.Val = validator.New()
	}
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path)
	a.mux.ServeHTTP(w, r)
}

// identified rejects requests without a participant id and passes the id
// on to h.
func (a *API) identified(h func(w http.ResponseWriter, r *http.Request, participantID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(ParticipantHeader)
		if id == "" {
			a.respond(w, http.StatusUnauthorized, errorResponse{Error: "Missing " + ParticipantHeader + " header"})
			return
		}
		h(w, r, id)
	}
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	res := errorResponse{Error: msg}
	var cerr *chat.Error
	if errors.As(err, &cerr) {
		res.Code = cerr.Code.String()
		if status < http.StatusInternalServerError {
			res.Reason = cerr.Message
		}
	}
	if status >= http.StatusInternalServerError {
		a.Logger.Error("Error", "error", err.Error())
	} else {
		a.Logger.Info("Request rejected", "status", status, "error", err.Error())
	}
	a.respond(w, status, res)
}

// fail responds with the status matching err's code.
func (a *API) fail(w http.ResponseWriter, err error, msg string) {
	a.respondError(w, statusOf(err), err, msg)
}

func statusOf(err error) int {
	switch chat.CodeOf(err) {
	case chat.CodeInvalidArgument:
		return http.StatusBadRequest
	case chat.CodeForbidden:
		return http.StatusForbidden
	case chat.CodeNotFound:
		return http.StatusNotFound
	case chat.CodeConflict:
		return http.StatusConflict
	case chat.CodeUnavailable:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// decode reads a JSON body into v and validates it. It responds and
// returns false on failure.
func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return false
	}
	if err := r.Body.Close(); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not close request body")
		return false
	}
	return a.validateBody(w, v)
}

func (a *API) validateBody(w http.ResponseWriter, s any) bool {
	errs := a.Val.ValidateStruct(s)
	type response struct {
		Errors []validator.ValidationError `json:"errors"`
	}

	if len(errs) > 0 {
		a.respond(w, http.StatusBadRequest, &response{
			Errors: errs,
		})
		return false
	}
	return true
}

// intQuery parses an optional non-negative integer query parameter.
func (a *API) intQuery(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		if err == nil {
			err = errors.New("negative value")
		}
		a.respondError(w, http.StatusBadRequest, err, "Invalid "+name+" parameter")
		return 0, false
	}
	return n, true
}
