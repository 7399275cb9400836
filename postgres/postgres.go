package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/driftpro/chatcore/chat"
)

// Postgres provides storage in PostgreSQL.
type Postgres struct {
	bun *bun.DB
}

// Connect connects to the database and ping the DB to ensure the connection is
// working.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		bun: db,
	}, nil
}

// Close closes the database connection pool.
func (pg *Postgres) Close() error {
	return pg.bun.Close()
}

// Migrate creates the tables the store needs if they do not exist.
func (pg *Postgres) Migrate(ctx context.Context) error {
	for _, m := range models {
		if _, err := pg.bun.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}
	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*notification)(nil), "notifications_recipient_idx", []string{"recipient_id", "status", "created_at"}},
		{(*readState)(nil), "read_states_participant_idx", []string{"participant_id"}},
	}
	for _, idx := range indexes {
		_, err := pg.bun.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.columns...).IfNotExists().Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// storeError maps driver errors to the core's error codes.
func storeError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, chat.ErrNotFound)
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) && pgErr.IntegrityViolation() {
		return fmt.Errorf("%s: %w: %w", op, chat.ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// lockKey takes a transaction-scoped advisory lock on key, serialising
// writers of one logical key without locking a whole row.
func lockKey(ctx context.Context, tx bun.Tx, key string) error {
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(?)", int64(xxhash.Sum64String(key))); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

// InsertChat inserts a chat into the database.
func (pg *Postgres) InsertChat(ctx context.Context, c chat.Chat) error {
	if _, err := pg.bun.NewInsert().Model(newChatRow(c)).Exec(ctx); err != nil {
		return storeError("insert chat", err)
	}
	return nil
}

// Chat returns a chat by id.
func (pg *Postgres) Chat(ctx context.Context, id string) (chat.Chat, error) {
	var row chatRow
	if err := pg.bun.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx); err != nil {
		return chat.Chat{}, storeError("select chat", err)
	}
	return row.Chat(), nil
}

// UpdateChat applies fn to a chat under a row lock. The sequence counter
// is left to ReserveSeq.
func (pg *Postgres) UpdateChat(ctx context.Context, id string, fn func(*chat.Chat) error) (chat.Chat, error) {
	var out chat.Chat
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var row chatRow
		if err := tx.NewSelect().Model(&row).Where("id = ?", id).For("UPDATE").Scan(ctx); err != nil {
			return storeError("select chat", err)
		}
		c := row.Chat()
		if err := fn(&c); err != nil {
			return err
		}
		c.ID, c.LastSeq = id, row.LastSeq
		_, err := tx.NewUpdate().Model(newChatRow(c)).WherePK().ExcludeColumn("last_seq", "created_at").Exec(ctx)
		if err != nil {
			return storeError("update chat", err)
		}
		out = c
		return nil
	})
	return out, err
}

// ListChats returns the chats participantID belongs to.
func (pg *Postgres) ListChats(ctx context.Context, participantID string) ([]chat.Chat, error) {
	var rows []chatRow
	err := pg.bun.NewSelect().
		Model(&rows).
		Where("? = ANY(participants)", participantID).
		Order("id").
		Scan(ctx)
	if err != nil {
		return nil, storeError("select chats", err)
	}
	out := make([]chat.Chat, len(rows))
	for i, r := range rows {
		out[i] = r.Chat()
	}
	return out, nil
}

// ReserveSeq increments a chat's sequence counter in a single statement.
func (pg *Postgres) ReserveSeq(ctx context.Context, chatID string) (int64, error) {
	var seq int64
	err := pg.bun.NewUpdate().
		Model((*chatRow)(nil)).
		Set("last_seq = last_seq + 1").
		Where("id = ?", chatID).
		Returning("last_seq").
		Scan(ctx, &seq)
	if err != nil {
		return 0, storeError("reserve seq", err)
	}
	return seq, nil
}

// InsertMessage inserts a message and its initial read-by entries.
func (pg *Postgres) InsertMessage(ctx context.Context, m chat.Message) error {
	return pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(newMessage(m)).Exec(ctx); err != nil {
			return storeError("insert message", err)
		}
		if len(m.ReadBy) > 0 {
			reads := make([]read, len(m.ReadBy))
			for i, p := range m.ReadBy {
				reads[i] = read{MessageID: m.ID, ParticipantID: p, ReadAt: m.CreatedAt}
			}
			if _, err := tx.NewInsert().Model(&reads).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
				return storeError("insert reads", err)
			}
		}
		return nil
	})
}

// Message returns a message with its reactions and read-by entries.
func (pg *Postgres) Message(ctx context.Context, id string) (chat.Message, error) {
	return pg.message(ctx, pg.bun, id)
}

func (pg *Postgres) message(ctx context.Context, db bun.IDB, id string) (chat.Message, error) {
	var m message
	err := db.NewSelect().
		Model(&m).
		Relation("Reactions").
		Relation("Reads", func(q *bun.SelectQuery) *bun.SelectQuery { return q.Order("read_at", "participant_id") }).
		Where("?TableAlias.id = ?", id).
		Scan(ctx)
	if err != nil {
		return chat.Message{}, storeError("select message", err)
	}
	return m.ChatMessage(), nil
}

// UpdateMessage applies fn under a row lock and stores the body fields.
func (pg *Postgres) UpdateMessage(ctx context.Context, id string, fn func(*chat.Message) error) (chat.Message, error) {
	var out chat.Message
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var locked string
		if err := tx.NewSelect().Model((*message)(nil)).Column("id").Where("id = ?", id).For("UPDATE").Scan(ctx, &locked); err != nil {
			return storeError("lock message", err)
		}
		m, err := pg.message(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(&m); err != nil {
			return err
		}
		_, err = tx.NewUpdate().
			Model(newMessage(m)).
			Column("content", "attachment", "edited", "edited_at", "deleted").
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return storeError("update message", err)
		}
		out, err = pg.message(ctx, tx, id)
		return err
	})
	return out, err
}

// ScanMessages returns messages of a chat in a sequence range.
func (pg *Postgres) ScanMessages(ctx context.Context, chatID string, afterSeq, uptoSeq int64, limit int) ([]chat.Message, error) {
	var msgs []message
	err := pg.bun.NewSelect().
		Model(&msgs).
		Relation("Reactions").
		Relation("Reads").
		Where("chat_id = ?", chatID).
		Where("seq > ?", afterSeq).
		Where("seq <= ?", uptoSeq).
		Order("seq ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, storeError("scan messages", err)
	}
	out := make([]chat.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.ChatMessage()
	}
	return out, nil
}

// ClaimClientID binds a client id to messageID unless already bound.
func (pg *Postgres) ClaimClientID(ctx context.Context, chatID, cid, messageID string) (string, error) {
	row := &clientID{ChatID: chatID, ClientID: cid, MessageID: messageID}
	if _, err := pg.bun.NewInsert().Model(row).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
		return "", storeError("claim client id", err)
	}
	var owner clientID
	err := pg.bun.NewSelect().Model(&owner).Where("chat_id = ?", chatID).Where("client_id = ?", cid).Scan(ctx)
	if err != nil {
		return "", storeError("select client id", err)
	}
	return owner.MessageID, nil
}

// ReleaseClientID drops a claim still held by messageID.
func (pg *Postgres) ReleaseClientID(ctx context.Context, chatID, cid, messageID string) error {
	_, err := pg.bun.NewDelete().
		Model((*clientID)(nil)).
		Where("chat_id = ?", chatID).
		Where("client_id = ?", cid).
		Where("message_id = ?", messageID).
		Exec(ctx)
	if err != nil {
		return storeError("release client id", err)
	}
	return nil
}

// AddReadBy records that participantID observed a message.
func (pg *Postgres) AddReadBy(ctx context.Context, messageID, participantID string) error {
	r := &read{MessageID: messageID, ParticipantID: participantID}
	if _, err := pg.bun.NewInsert().Model(r).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
		return storeError("insert read", err)
	}
	return nil
}

// UpdateReaction sets one participant's reaction under an advisory lock on
// the (message, participant) key.
func (pg *Postgres) UpdateReaction(ctx context.Context, messageID, participantID string, fn func(string) string) (map[string]string, error) {
	var out map[string]string
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockKey(ctx, tx, "reaction:"+messageID+":"+participantID); err != nil {
			return err
		}
		var cur reaction
		err := tx.NewSelect().Model(&cur).Where("message_id = ?", messageID).Where("participant_id = ?", participantID).Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return storeError("select reaction", err)
		}
		switch next := fn(cur.Emoji); {
		case next == "":
			_, err = tx.NewDelete().Model((*reaction)(nil)).Where("message_id = ?", messageID).Where("participant_id = ?", participantID).Exec(ctx)
		default:
			r := &reaction{MessageID: messageID, ParticipantID: participantID, Emoji: next}
			_, err = tx.NewInsert().Model(r).On("CONFLICT (message_id, participant_id) DO UPDATE").Set("emoji = EXCLUDED.emoji").Exec(ctx)
		}
		if err != nil {
			return storeError("write reaction", err)
		}
		var all []reaction
		if err := tx.NewSelect().Model(&all).Where("message_id = ?", messageID).Scan(ctx); err != nil {
			return storeError("select reactions", err)
		}
		out = make(map[string]string, len(all))
		for _, r := range all {
			out[r.ParticipantID] = r.Emoji
		}
		return nil
	})
	return out, err
}

// ReadState returns a participant's read state, zero if none exists.
func (pg *Postgres) ReadState(ctx context.Context, chatID, participantID string) (chat.ReadState, error) {
	var rs readState
	err := pg.bun.NewSelect().Model(&rs).Where("chat_id = ?", chatID).Where("participant_id = ?", participantID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.ReadState{ChatID: chatID, ParticipantID: participantID}, nil
	}
	if err != nil {
		return chat.ReadState{}, storeError("select read state", err)
	}
	return rs.ReadState(), nil
}

// UpdateReadState applies fn to one read state under an advisory lock.
func (pg *Postgres) UpdateReadState(ctx context.Context, chatID, participantID string, fn func(*chat.ReadState) error) (chat.ReadState, error) {
	var out chat.ReadState
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockKey(ctx, tx, "read:"+chatID+":"+participantID); err != nil {
			return err
		}
		row := readState{ChatID: chatID, ParticipantID: participantID}
		err := tx.NewSelect().Model(&row).Where("chat_id = ?", chatID).Where("participant_id = ?", participantID).Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return storeError("select read state", err)
		}
		rs := row.ReadState()
		if err := fn(&rs); err != nil {
			return err
		}
		row = readState{ChatID: chatID, ParticipantID: participantID, Marker: rs.Marker, Unread: rs.Unread, UpdatedAt: rs.UpdatedAt}
		_, err = tx.NewInsert().
			Model(&row).
			On("CONFLICT (chat_id, participant_id) DO UPDATE").
			Set("marker = EXCLUDED.marker").
			Set("unread = EXCLUDED.unread").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return storeError("upsert read state", err)
		}
		out = row.ReadState()
		return nil
	})
	return out, err
}

// DeleteReadState removes a participant's read state.
func (pg *Postgres) DeleteReadState(ctx context.Context, chatID, participantID string) error {
	_, err := pg.bun.NewDelete().Model((*readState)(nil)).Where("chat_id = ?", chatID).Where("participant_id = ?", participantID).Exec(ctx)
	if err != nil {
		return storeError("delete read state", err)
	}
	return nil
}

// InsertNotification inserts n unless its dedup key exists.
func (pg *Postgres) InsertNotification(ctx context.Context, n chat.Notification) (bool, error) {
	res, err := pg.bun.NewInsert().Model(newNotification(n)).On("CONFLICT (dedup_key) DO NOTHING").Exec(ctx)
	if err != nil {
		return false, storeError("insert notification", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// Notification returns a notification by id.
func (pg *Postgres) Notification(ctx context.Context, id string) (chat.Notification, error) {
	var n notification
	if err := pg.bun.NewSelect().Model(&n).Where("id = ?", id).Scan(ctx); err != nil {
		return chat.Notification{}, storeError("select notification", err)
	}
	return n.Notification(), nil
}

// UpdateNotification applies fn to a notification under a row lock.
func (pg *Postgres) UpdateNotification(ctx context.Context, id string, fn func(*chat.Notification) error) (chat.Notification, error) {
	var out chat.Notification
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var row notification
		if err := tx.NewSelect().Model(&row).Where("id = ?", id).For("UPDATE").Scan(ctx); err != nil {
			return storeError("select notification", err)
		}
		n := row.Notification()
		if err := fn(&n); err != nil {
			return err
		}
		n.ID = id
		_, err := tx.NewUpdate().Model(newNotification(n)).Column("status", "read_at", "archived_at").WherePK().Exec(ctx)
		if err != nil {
			return storeError("update notification", err)
		}
		out = n
		return nil
	})
	return out, err
}

// ListNotifications returns matching notifications, newest first.
func (pg *Postgres) ListNotifications(ctx context.Context, f chat.NotificationFilter) ([]chat.Notification, error) {
	var rows []notification
	q := pg.bun.NewSelect().
		Model(&rows).
		Where("recipient_id = ?", f.RecipientID).
		Order("created_at DESC", "id DESC").
		Limit(f.Limit).
		Offset(f.Offset)
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, storeError("select notifications", err)
	}
	out := make([]chat.Notification, len(rows))
	for i, n := range rows {
		out[i] = n.Notification()
	}
	return out, nil
}

// CountNotifications counts a recipient's notifications in status.
func (pg *Postgres) CountNotifications(ctx context.Context, recipientID string, status chat.NotificationStatus) (int, error) {
	n, err := pg.bun.NewSelect().
		Model((*notification)(nil)).
		Where("recipient_id = ?", recipientID).
		Where("status = ?", string(status)).
		Count(ctx)
	if err != nil {
		return 0, storeError("count notifications", err)
	}
	return n, nil
}

// Delivered reports whether key is in the delivery ledger.
func (pg *Postgres) Delivered(ctx context.Context, key string) (bool, error) {
	ok, err := pg.bun.NewSelect().Model((*delivery)(nil)).Where("key = ?", key).Exists(ctx)
	if err != nil {
		return false, storeError("select delivery", err)
	}
	return ok, nil
}

// MarkDelivered adds key to the delivery ledger.
func (pg *Postgres) MarkDelivered(ctx context.Context, key string) error {
	d := &delivery{Key: key, DeliveredAt: time.Now()}
	if _, err := pg.bun.NewInsert().Model(d).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
		return storeError("insert delivery", err)
	}
	return nil
}

// NotificationSettings returns a user's delivery preferences.
func (pg *Postgres) NotificationSettings(ctx context.Context, userID string) (chat.NotificationSettings, error) {
	var s notificationSettings
	if err := pg.bun.NewSelect().Model(&s).Where("user_id = ?", userID).Scan(ctx); err != nil {
		return chat.NotificationSettings{}, storeError("select notification settings", err)
	}
	return chat.NotificationSettings{UserID: s.UserID, Email: s.Email, InApp: s.InApp, Categories: s.Categories}, nil
}

// PutNotificationSettings replaces a user's delivery preferences.
func (pg *Postgres) PutNotificationSettings(ctx context.Context, s chat.NotificationSettings) error {
	row := &notificationSettings{UserID: s.UserID, Email: s.Email, InApp: s.InApp, Categories: s.Categories}
	_, err := pg.bun.NewInsert().
		Model(row).
		On("CONFLICT (user_id) DO UPDATE").
		Set("email = EXCLUDED.email").
		Set("in_app = EXCLUDED.in_app").
		Set("categories = EXCLUDED.categories").
		Exec(ctx)
	if err != nil {
		return storeError("upsert notification settings", err)
	}
	return nil
}

// EmailAddress returns a user's email address, or "" when the user is
// unknown.
func (pg *Postgres) EmailAddress(ctx context.Context, participantID string) (string, error) {
	var u user
	err := pg.bun.NewSelect().Model(&u).Column("email").Where("id = ?", participantID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storeError("select user", err)
	}
	return u.Email, nil
}

var (
	_ chat.Store     = (*Postgres)(nil)
	_ chat.Directory = (*Postgres)(nil)
)
