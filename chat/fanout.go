package chat

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
)

// DeliveryStatus is the outcome of one delivery.
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryDuplicate DeliveryStatus = "duplicate"
	DeliverySkipped   DeliveryStatus = "skipped"
	DeliveryFailed    DeliveryStatus = "failed"
)

// A Delivery is the outcome of delivering one event to one recipient on
// one channel.
type Delivery struct {
	RecipientID string         `json:"recipient_id"`
	Channel     Channel        `json:"channel"`
	Status      DeliveryStatus `json:"status"`
	Retryable   bool           `json:"retryable,omitempty"`
	Err         error          `json:"-"`
	Error       string         `json:"error,omitempty"`
}

// A FanoutReport lists every delivery attempted for an event.
type FanoutReport struct {
	EventKey   string     `json:"event_key"`
	ChatID     string     `json:"chat_id"`
	MessageID  string     `json:"message_id,omitempty"`
	Recipients []string   `json:"recipients"`
	Deliveries []Delivery `json:"deliveries"`
}

// Failed returns the deliveries that failed.
func (r FanoutReport) Failed() []Delivery {
	var out []Delivery
	for _, d := range r.Deliveries {
		if d.Status == DeliveryFailed {
			out = append(out, d)
		}
	}
	return out
}

// Err returns a PartialFailure error describing the failed deliveries, or
// nil when none failed.
func (r FanoutReport) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	errs := make([]error, len(failed))
	for i, d := range failed {
		errs[i] = fmt.Errorf("%s via %s: %w", d.RecipientID, d.Channel, d.Err)
	}
	return &Error{
		Code:    CodePartialFailure,
		Message: fmt.Sprintf("%d of %d deliveries failed", len(failed), len(r.Deliveries)),
		Err:     errors.Join(errs...),
	}
}

// Status returns the status of the delivery to recipientID on ch.
func (r FanoutReport) Status(recipientID string, ch Channel) (DeliveryStatus, bool) {
	for _, d := range r.Deliveries {
		if d.RecipientID == recipientID && d.Channel == ch {
			return d.Status, true
		}
	}
	return "", false
}

// Fanout delivers notifications for chat events. Every (recipient,
// channel) pair is delivered independently; a failure of one never stops
// the others.
type Fanout struct {
	store        Store
	directory    Directory
	email        EmailSender
	limiter      *rate.Limiter
	workers      int
	emailTimeout time.Duration
	logger       *slog.Logger
	metrics      Metrics
	now          func() time.Time
	newID        func() string
}

// event is one notification-worthy occurrence.
type event struct {
	key       string
	chat      Chat
	messageID string
	title     string
	body      string
	template  string
	category  Category
	priority  Priority
	// upgrade returns the category and priority for a recipient that
	// differs from the event default, if any.
	upgrade func(recipientID string) (Category, Priority, bool)
	// perMembership scopes dedup to the recipient's current membership,
	// so leaving and rejoining a chat is a new event.
	perMembership bool
}

func (ev event) dedupKey(recipientID string) string {
	key := ev.key + ":" + recipientID
	if ev.perMembership {
		key += ":" + strconv.FormatInt(ev.chat.Profiles[recipientID].JoinedAt.UnixNano(), 10)
	}
	return key
}

// NewMessage notifies every participant of the chat except the sender and
// those who muted the chat. Calling it again for the same message never
// notifies a recipient twice. Mentions are looked up in the whole message,
// not in the preview.
func (f *Fanout) NewMessage(ctx context.Context, chatID, messageID, senderID, preview string) (FanoutReport, error) {
	c, err := f.store.Chat(ctx, chatID)
	if err != nil {
		return FanoutReport{}, unavailable("load chat", err)
	}
	m, err := f.store.Message(ctx, messageID)
	if err != nil {
		return FanoutReport{}, unavailable("load message", err)
	}
	var text string
	if !m.Deleted {
		text = plainText(m.Content)
	}
	var recipients []string
	for _, p := range c.Participants {
		if p == senderID || c.Settings[p].Muted {
			continue
		}
		recipients = append(recipients, p)
	}

	sender := c.DisplayName(senderID)
	title := sender
	if c.Kind == KindGroup && c.Name != "" {
		title = sender + " in " + c.Name
	}
	body := Preview(preview)
	ev := event{
		key:       "message:" + messageID,
		chat:      c,
		messageID: messageID,
		title:     title,
		body:      body,
		template:  string(CategoryNewMessage),
		category:  CategoryNewMessage,
		priority:  PriorityLow,
		upgrade: func(id string) (Category, Priority, bool) {
			if mentions(text, c.DisplayName(id)) {
				return CategoryMention, PriorityHigh, true
			}
			return "", "", false
		},
	}
	return f.dispatch(ctx, ev, recipients), nil
}

// ChatInvite tells invitees that actorID added them to a chat.
func (f *Fanout) ChatInvite(ctx context.Context, chatID, actorID string, inviteeIDs []string) (FanoutReport, error) {
	c, err := f.store.Chat(ctx, chatID)
	if err != nil {
		return FanoutReport{}, unavailable("load chat", err)
	}
	var recipients []string
	for _, id := range inviteeIDs {
		if id != actorID && c.HasParticipant(id) && !slices.Contains(recipients, id) {
			recipients = append(recipients, id)
		}
	}
	name := c.Name
	if name == "" {
		name = "a chat"
	}
	ev := event{
		key:      "invite:" + chatID,
		chat:     c,
		title:    "New chat",
		body:     Preview(c.DisplayName(actorID) + " added you to " + name),
		template: string(CategoryChatInvite),
		category: CategoryChatInvite,
		priority: PriorityMedium,

		perMembership: true,
	}
	return f.dispatch(ctx, ev, recipients), nil
}

// dispatch runs the in-app and email deliveries of ev on two bounded
// pools, so a slow email sink never holds up in-app records.
func (f *Fanout) dispatch(ctx context.Context, ev event, recipients []string) FanoutReport {
	start := f.now()
	var (
		mu         sync.Mutex
		deliveries = make([]Delivery, 0, 2*len(recipients))
	)
	record := func(d Delivery) {
		if d.Err != nil {
			d.Error = d.Err.Error()
		}
		mu.Lock()
		deliveries = append(deliveries, d)
		mu.Unlock()
		if f.metrics != nil {
			f.metrics.Delivery(d.Channel, d.Status)
		}
	}

	var inApp, email errgroup.Group
	inApp.SetLimit(f.workers)
	email.SetLimit(f.workers)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, r := range recipients {
			inApp.Go(func() error {
				record(f.deliverInApp(ctx, ev, r))
				return nil
			})
		}
		_ = inApp.Wait()
	}()
	for _, r := range recipients {
		email.Go(func() error {
			record(f.deliverEmail(ctx, ev, r))
			return nil
		})
	}
	_ = email.Wait()
	<-done

	slices.SortFunc(deliveries, func(a, b Delivery) int {
		return cmp.Or(cmp.Compare(a.RecipientID, b.RecipientID), cmp.Compare(a.Channel, b.Channel))
	})
	if f.metrics != nil {
		f.metrics.FanoutCompleted(f.now().Sub(start))
	}
	return FanoutReport{
		EventKey:   ev.key,
		ChatID:     ev.chat.ID,
		MessageID:  ev.messageID,
		Recipients: recipients,
		Deliveries: deliveries,
	}
}

func (f *Fanout) categoryFor(ev event, recipientID string) (Category, Priority) {
	if ev.upgrade != nil {
		if c, p, ok := ev.upgrade(recipientID); ok {
			return c, p
		}
	}
	return ev.category, ev.priority
}

func (f *Fanout) settings(ctx context.Context, userID string) (NotificationSettings, error) {
	s, err := f.store.NotificationSettings(ctx, userID)
	if CodeOf(err) == CodeNotFound {
		return DefaultNotificationSettings(userID), nil
	}
	return s, err
}

func (f *Fanout) deliverInApp(ctx context.Context, ev event, recipientID string) Delivery {
	d := Delivery{RecipientID: recipientID, Channel: ChannelInApp}
	category, priority := f.categoryFor(ev, recipientID)
	s, err := f.settings(ctx, recipientID)
	if err != nil {
		return failed(d, unavailable("load notification settings", err))
	}
	if !s.InApp || !s.allows(category) {
		d.Status = DeliverySkipped
		return d
	}
	n := Notification{
		ID:          f.newID(),
		RecipientID: recipientID,
		Title:       ev.title,
		Body:        ev.body,
		Category:    category,
		Priority:    priority,
		Status:      StatusUnread,
		ChatID:      ev.chat.ID,
		MessageID:   ev.messageID,
		DedupKey:    ev.dedupKey(recipientID),
		CreatedAt:   f.now(),
	}
	stored, err := f.store.InsertNotification(ctx, n)
	if err != nil {
		f.logger.Warn("Could not store notification", "event", ev.key, "recipient_id", recipientID, "error", err.Error())
		return failed(d, unavailable("insert notification", err))
	}
	d.Status = DeliveryDelivered
	if !stored {
		d.Status = DeliveryDuplicate
	}
	return d
}

func (f *Fanout) deliverEmail(ctx context.Context, ev event, recipientID string) Delivery {
	d := Delivery{RecipientID: recipientID, Channel: ChannelEmail}
	if f.email == nil || f.directory == nil {
		d.Status = DeliverySkipped
		return d
	}
	category, priority := f.categoryFor(ev, recipientID)
	s, err := f.settings(ctx, recipientID)
	if err != nil {
		return failed(d, unavailable("load notification settings", err))
	}
	if !s.Email || !s.allows(category) {
		d.Status = DeliverySkipped
		return d
	}

	key := ev.dedupKey(recipientID) + ":" + string(ChannelEmail)
	sent, err := f.store.Delivered(ctx, key)
	if err != nil {
		return failed(d, unavailable("check delivery ledger", err))
	}
	if sent {
		d.Status = DeliveryDuplicate
		return d
	}
	addr, err := f.directory.EmailAddress(ctx, recipientID)
	if err != nil {
		return failed(d, unavailable("resolve email address", err))
	}
	if addr == "" {
		d.Status = DeliverySkipped
		return d
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return failed(d, unavailable("wait for email rate limit", err))
		}
	}

	req := EmailRequest{
		To:       addr,
		Template: ev.template,
		Data: map[string]string{
			"title":      ev.title,
			"body":       ev.body,
			"chat_id":    ev.chat.ID,
			"chat_name":  ev.chat.Name,
			"message_id": ev.messageID,
			"category":   string(category),
			"priority":   string(priority),
		},
	}
	if err := f.sendEmail(ctx, req); err != nil {
		f.logger.Warn("Could not send email", "event", ev.key, "recipient_id", recipientID, "error", err.Error())
		return failed(d, unavailable("send email", err))
	}
	if err := f.store.MarkDelivered(ctx, key); err != nil {
		f.logger.Error("Could not record email delivery", "event", ev.key, "recipient_id", recipientID, "error", err.Error())
	}
	d.Status = DeliveryDelivered
	return d
}

// sendEmail calls the email sink and gives up after the email timeout even
// if the sink ignores its context.
func (f *Fanout) sendEmail(ctx context.Context, req EmailRequest) error {
	ctx, cancel := context.WithTimeout(ctx, f.emailTimeout)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		errc <- f.email.SendEmail(ctx, req)
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return fmt.Errorf("email to %s: %w", req.To, ctx.Err())
	}
}

func failed(d Delivery, err error) Delivery {
	d.Status = DeliveryFailed
	d.Err = err
	switch CodeOf(err) {
	case CodeInvalidArgument, CodeForbidden, CodeNotFound:
	default:
		d.Retryable = true
	}
	return d
}

// mentions reports whether text mentions name as @name, ignoring case.
func mentions(text, name string) bool {
	if name == "" {
		return false
	}
	text, want := strings.ToLower(text), "@"+strings.ToLower(name)
	for i := 0; ; {
		j := strings.Index(text[i:], want)
		if j < 0 {
			return false
		}
		end := i + j + len(want)
		if end == len(text) {
			return true
		}
		if r, _ := utf8.DecodeRuneInString(text[end:]); !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return true
		}
		i = end
	}
}
