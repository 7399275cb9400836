package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// stream pushes the chat's messages over a websocket. It first sends every
// message after the "after" parameter, then follows new messages. Each
// event triggers a catch-up from the last sequence number sent, so dropped
// or reordered events never leave gaps.
func (a *API) stream(w http.ResponseWriter, r *http.Request, participantID string) {
	chatID := r.PathValue("chatID")
	after, ok := a.intQuery(w, r, "after")
	if !ok {
		return
	}
	if _, err := a.Core.Chats.Member(r.Context(), chatID, participantID); err != nil {
		a.fail(w, err, "Could not open stream")
		return
	}
	if a.Stream == nil {
		a.respond(w, http.StatusServiceUnavailable, errorResponse{Error: "Live stream is not available"})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before the catch-up so nothing published in between is
	// missed.
	sub, err := a.Stream.SubscribeChat(ctx, chatID)
	if err != nil {
		a.respondError(w, http.StatusServiceUnavailable, err, "Could not open stream")
		return
	}
	defer sub.Close()

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.Warn("Could not upgrade connection", "error", err.Error())
		return
	}
	defer conn.Close()
	a.Logger.Info("Stream opened", "chat_id", chatID, "participant_id", participantID, "after", after)

	// The reader only handles control frames; it ends the stream when the
	// client goes away.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	last := after
	catchUp := func() error {
		for m, err := range a.Core.Messages.Load(ctx, chatID, participantID, last) {
			if err != nil {
				return err
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(m); err != nil {
				return err
			}
			last = m.Seq
		}
		return nil
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	err = catchUp()
	for err == nil {
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case seq, ok := <-sub.Events():
			if !ok {
				err = errors.New("subscription closed")
				break
			}
			if seq > last {
				err = catchUp()
			}
		case <-ticker.C:
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		}
	}
	if !errors.Is(err, context.Canceled) {
		a.Logger.Warn("Stream closed", "chat_id", chatID, "participant_id", participantID, "error", err.Error())
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stream failed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		return
	}
	a.Logger.Info("Stream closed", "chat_id", chatID, "participant_id", participantID)
}
