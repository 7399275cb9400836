package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const markAttempts = 5

// errStale aborts a read state update whose marker moved since it was read.
var errStale = errors.New("read marker moved")

// ReceiptTracker records which messages participants have seen and keeps
// their unread counters.
type ReceiptTracker struct {
	store   Store
	chats   *Registry
	commits *commitTracker
	logger  *slog.Logger
	now     func() time.Time
}

// messageAppended bumps the unread counter of every participant m counts
// for. It runs before m is committed, so a concurrent MarkRead cannot pass
// m without seeing the bump.
func (t *ReceiptTracker) messageAppended(ctx context.Context, c Chat, m Message) error {
	var errs []error
	for _, p := range c.Participants {
		if !m.countsAsUnreadFor(p) {
			continue
		}
		_, err := t.store.UpdateReadState(ctx, c.ID, p, func(rs *ReadState) error {
			if m.Seq > rs.Marker {
				rs.Unread++
				rs.UpdatedAt = t.now()
			}
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MarkRead moves the participant's read marker up to upToSeq and records
// the participant on every message it passes. Lower or equal values are
// no-ops; the marker never moves past the last committed message.
func (t *ReceiptTracker) MarkRead(ctx context.Context, chatID, participantID string, upToSeq int64) error {
	if upToSeq < 0 {
		return invalidArgument("sequence numbers are not negative")
	}
	c, err := t.chats.access(ctx, chatID, participantID)
	if err != nil {
		return err
	}
	upToSeq = min(upToSeq, t.commits.visible(c))

	for attempt := 0; attempt < markAttempts; attempt++ {
		rs, err := t.store.ReadState(ctx, chatID, participantID)
		if err != nil {
			return unavailable("load read state", err)
		}
		if upToSeq <= rs.Marker {
			return nil
		}
		passed := 0
		err = scanRange(ctx, t.store, chatID, rs.Marker, upToSeq, func(m Message) error {
			if m.countsAsUnreadFor(participantID) {
				passed++
			}
			return t.addReadBy(ctx, m, participantID)
		})
		if err != nil {
			return err
		}
		err = t.advance(ctx, chatID, participantID, rs.Marker, upToSeq, passed)
		if errors.Is(err, errStale) {
			continue
		}
		return err
	}
	return conflict("read marker of %s in chat %s keeps moving", participantID, chatID)
}

// MarkBatchRead records the participant on each of the given messages, then
// moves the read marker across the longest run above it that the
// participant has read or authored.
func (t *ReceiptTracker) MarkBatchRead(ctx context.Context, chatID, participantID string, messageIDs []string) error {
	c, err := t.chats.access(ctx, chatID, participantID)
	if err != nil {
		return err
	}
	for _, id := range messageIDs {
		m, err := t.store.Message(ctx, id)
		if CodeOf(err) == CodeNotFound {
			return notFound("message %s does not exist", id)
		}
		if err != nil {
			return unavailable("load message", err)
		}
		if m.ChatID != chatID {
			return invalidArgument("message %s does not belong to chat %s", id, chatID)
		}
		if err := t.addReadBy(ctx, m, participantID); err != nil {
			return err
		}
	}

	upto := t.commits.visible(c)
	for attempt := 0; attempt < markAttempts; attempt++ {
		rs, err := t.store.ReadState(ctx, chatID, participantID)
		if err != nil {
			return unavailable("load read state", err)
		}
		next, passed := rs.Marker, 0
		err = scanRange(ctx, t.store, chatID, rs.Marker, upto, func(m Message) error {
			if m.Seq != next+1 || !(m.Void || m.Deleted || m.SenderID == participantID || m.ReadByParticipant(participantID)) {
				return errStop
			}
			next = m.Seq
			if m.countsAsUnreadFor(participantID) {
				passed++
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			return err
		}
		if next == rs.Marker {
			return nil
		}
		err = t.advance(ctx, chatID, participantID, rs.Marker, next, passed)
		if errors.Is(err, errStale) {
			continue
		}
		return err
	}
	return conflict("read marker of %s in chat %s keeps moving", participantID, chatID)
}

var errStop = errors.New("stop")

// advance moves the marker from from to to and takes passed messages off
// the unread counter, unless another update moved the marker first.
func (t *ReceiptTracker) advance(ctx context.Context, chatID, participantID string, from, to int64, passed int) error {
	_, err := t.store.UpdateReadState(ctx, chatID, participantID, func(rs *ReadState) error {
		if rs.Marker != from {
			return errStale
		}
		rs.Marker = to
		rs.Unread = max(0, rs.Unread-passed)
		rs.UpdatedAt = t.now()
		return nil
	})
	if err != nil && !errors.Is(err, errStale) {
		return unavailable("update read state", err)
	}
	return err
}

func (t *ReceiptTracker) addReadBy(ctx context.Context, m Message, participantID string) error {
	if m.Void || m.ReadByParticipant(participantID) {
		return nil
	}
	if err := t.store.AddReadBy(ctx, m.ID, participantID); err != nil {
		return unavailable("add read-by", err)
	}
	return nil
}

// UnreadCount returns the participant's unread counter.
func (t *ReceiptTracker) UnreadCount(ctx context.Context, chatID, participantID string) (int, error) {
	if _, err := t.chats.access(ctx, chatID, participantID); err != nil {
		return 0, err
	}
	rs, err := t.store.ReadState(ctx, chatID, participantID)
	if err != nil {
		return 0, unavailable("load read state", err)
	}
	return rs.Unread, nil
}
