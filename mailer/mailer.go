// Package mailer hands email requests to the mail service over NATS
// request/reply.
package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/driftpro/chatcore/chat"
)

// DefaultSubject is the subject the mail service answers on.
const DefaultSubject = "mail.send"

// Config configures the NATS connection.
type Config struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Mailer sends email through the mail service.
type Mailer struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// Connect connects to NATS.
func Connect(cfg Config, logger *slog.Logger) (*Mailer, error) {
	opts := []nats.Option{
		nats.Name("chatcore-mailer"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	return &Mailer{conn: conn, subject: subject, logger: logger}, nil
}

// Close drains the connection.
func (m *Mailer) Close() error {
	return m.conn.Drain()
}

// A reply is the mail service's answer to a request.
type reply struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Permanent bool   `json:"permanent,omitempty"`
}

// ErrRejected is returned when the mail service refuses a request for good,
// for example because the address is invalid.
var ErrRejected = errors.New("mail rejected")

// SendEmail sends req and waits for the mail service to accept it. The wait
// is bounded by ctx.
func (m *Mailer) SendEmail(ctx context.Context, req chat.EmailRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal email request: %w", err)
	}
	msg, err := m.conn.RequestWithContext(ctx, m.subject, data)
	if err != nil {
		return fmt.Errorf("nats request: %w", err)
	}
	return decodeReply(msg.Data)
}

func decodeReply(data []byte) error {
	var r reply
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("unmarshal reply: %w", err)
	}
	if r.OK {
		return nil
	}
	if r.Permanent {
		return fmt.Errorf("%w: %s: %w", ErrRejected, r.Error, chat.ErrInvalidArgument)
	}
	return fmt.Errorf("mail service: %s", r.Error)
}

var _ chat.EmailSender = (*Mailer)(nil)
