package api

import "github.com/driftpro/chatcore/chat"

// An errorResponse is the body of every failed request. Code and Reason are
// set for errors the core classified; Reason is omitted for server errors.
type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// A messageResponse is a stored message with the report of the
// notifications it caused.
type messageResponse struct {
	Message chat.Message      `json:"message"`
	Fanout  chat.FanoutReport `json:"fanout"`
}

// A chatResponse is a chat with the report of the invitations it caused.
type chatResponse struct {
	Chat   chat.Chat         `json:"chat"`
	Fanout chat.FanoutReport `json:"fanout"`
}
