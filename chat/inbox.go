package chat

import (
	"context"
	"time"
)

const (
	defaultInboxLimit = 20
	maxInboxLimit     = 100
)

// Inbox answers notification queries for one recipient at a time.
type Inbox struct {
	store Store
	now   func() time.Time
}

// List returns the recipient's notifications, newest first. An empty status
// lists every status.
func (in *Inbox) List(ctx context.Context, recipientID string, status NotificationStatus, limit, offset int) ([]Notification, error) {
	if status != "" && status.rank() < 0 {
		return nil, invalidArgument("unknown notification status %q", status)
	}
	if limit <= 0 {
		limit = defaultInboxLimit
	}
	ns, err := in.store.ListNotifications(ctx, NotificationFilter{
		RecipientID: recipientID,
		Status:      status,
		Limit:       min(limit, maxInboxLimit),
		Offset:      max(offset, 0),
	})
	if err != nil {
		return nil, unavailable("list notifications", err)
	}
	return ns, nil
}

// UnreadCount returns how many of the recipient's notifications are unread.
func (in *Inbox) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	n, err := in.store.CountNotifications(ctx, recipientID, StatusUnread)
	if err != nil {
		return 0, unavailable("count notifications", err)
	}
	return n, nil
}

// MarkRead marks a notification read.
func (in *Inbox) MarkRead(ctx context.Context, id, recipientID string) (Notification, error) {
	return in.transition(ctx, id, recipientID, StatusRead)
}

// Archive archives a notification.
func (in *Inbox) Archive(ctx context.Context, id, recipientID string) (Notification, error) {
	return in.transition(ctx, id, recipientID, StatusArchived)
}

// MarkAllRead marks every unread notification of the recipient read and
// returns how many changed.
func (in *Inbox) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	changed := 0
	for {
		ns, err := in.store.ListNotifications(ctx, NotificationFilter{RecipientID: recipientID, Status: StatusUnread, Limit: maxInboxLimit})
		if err != nil {
			return changed, unavailable("list notifications", err)
		}
		for _, n := range ns {
			if _, err := in.transition(ctx, n.ID, recipientID, StatusRead); err != nil {
				return changed, err
			}
			changed++
		}
		if len(ns) < maxInboxLimit {
			return changed, nil
		}
	}
}

// transition moves a notification forward to status. Moving backwards or
// sideways is a no-op, and the read time is set only once.
func (in *Inbox) transition(ctx context.Context, id, recipientID string, status NotificationStatus) (Notification, error) {
	n, err := in.store.UpdateNotification(ctx, id, func(n *Notification) error {
		if n.RecipientID != recipientID {
			return forbidden("notification %s belongs to another recipient", id)
		}
		if status.rank() <= n.Status.rank() {
			return nil
		}
		now := in.now()
		if n.ReadAt == nil {
			n.ReadAt = &now
		}
		if status == StatusArchived {
			n.ArchivedAt = &now
		}
		n.Status = status
		return nil
	})
	if CodeOf(err) == CodeNotFound {
		return Notification{}, notFound("notification %s does not exist", id)
	}
	if err != nil {
		return Notification{}, unavailable("update notification", err)
	}
	return n, nil
}

// Settings returns the recipient's delivery preferences.
func (in *Inbox) Settings(ctx context.Context, userID string) (NotificationSettings, error) {
	s, err := in.store.NotificationSettings(ctx, userID)
	if CodeOf(err) == CodeNotFound {
		return DefaultNotificationSettings(userID), nil
	}
	if err != nil {
		return NotificationSettings{}, unavailable("load notification settings", err)
	}
	return s, nil
}

// UpdateSettings replaces the recipient's delivery preferences.
func (in *Inbox) UpdateSettings(ctx context.Context, s NotificationSettings) (NotificationSettings, error) {
	if s.UserID == "" {
		return NotificationSettings{}, invalidArgument("user id must not be empty")
	}
	for c := range s.Categories {
		switch c {
		case CategoryNewMessage, CategoryMention, CategoryChatInvite, CategorySystem:
		default:
			return NotificationSettings{}, invalidArgument("unknown category %q", c)
		}
	}
	if err := in.store.PutNotificationSettings(ctx, s); err != nil {
		return NotificationSettings{}, unavailable("store notification settings", err)
	}
	return s, nil
}
