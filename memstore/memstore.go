// Package memstore provides in-process implementations of the chat
// collaborators. It backs tests and single-node deployments without
// Postgres.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/driftpro/chatcore/chat"
)

const stripes = 64

// Store keeps chats, messages, read states and notifications in memory.
// Updates of one key are serialised by a striped lock, so callers' update
// functions never run under the global lock.
type Store struct {
	locks [stripes]sync.Mutex

	mu            sync.RWMutex
	chats         map[string]chat.Chat
	messages      map[string]chat.Message
	seqs          map[string]map[int64]string
	clientIDs     map[string]string
	readBy        map[string][]string
	reactions     map[string]map[string]string
	readStates    map[string]chat.ReadState
	notifications map[string]chat.Notification
	dedup         map[string]string
	delivered     map[string]bool
	settings      map[string]chat.NotificationSettings
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		chats:         make(map[string]chat.Chat),
		messages:      make(map[string]chat.Message),
		seqs:          make(map[string]map[int64]string),
		clientIDs:     make(map[string]string),
		readBy:        make(map[string][]string),
		reactions:     make(map[string]map[string]string),
		readStates:    make(map[string]chat.ReadState),
		notifications: make(map[string]chat.Notification),
		dedup:         make(map[string]string),
		delivered:     make(map[string]bool),
		settings:      make(map[string]chat.NotificationSettings),
	}
}

// lock locks the stripe of key and returns its unlock function.
func (s *Store) lock(key string) func() {
	m := &s.locks[xxhash.Sum64String(key)%stripes]
	m.Lock()
	return m.Unlock
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, chat.ErrNotFound)
}

func pairKey(a, b string) string {
	return a + "\x00" + b
}

// InsertChat stores a new chat.
func (s *Store) InsertChat(_ context.Context, c chat.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[c.ID]; ok {
		return fmt.Errorf("chat %s: %w", c.ID, chat.ErrConflict)
	}
	s.chats[c.ID] = cloneChat(c)
	s.seqs[c.ID] = make(map[int64]string)
	return nil
}

// Chat returns a chat by id.
func (s *Store) Chat(_ context.Context, id string) (chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return chat.Chat{}, notFound("chat", id)
	}
	return cloneChat(c), nil
}

// UpdateChat applies fn to a copy of the chat and stores the result unless
// fn fails. The sequence counter is owned by ReserveSeq and never changes
// here.
func (s *Store) UpdateChat(ctx context.Context, id string, fn func(*chat.Chat) error) (chat.Chat, error) {
	defer s.lock("chat:" + id)()
	c, err := s.Chat(ctx, id)
	if err != nil {
		return chat.Chat{}, err
	}
	if err := fn(&c); err != nil {
		return chat.Chat{}, err
	}
	s.mu.Lock()
	c.ID = id
	c.LastSeq = s.chats[id].LastSeq
	s.chats[id] = cloneChat(c)
	s.mu.Unlock()
	return c, nil
}

// ListChats returns the chats participantID belongs to, ordered by id.
func (s *Store) ListChats(_ context.Context, participantID string) ([]chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []chat.Chat
	for _, c := range s.chats {
		if c.HasParticipant(participantID) {
			out = append(out, cloneChat(c))
		}
	}
	slices.SortFunc(out, func(a, b chat.Chat) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// ReserveSeq increments the chat's sequence counter.
func (s *Store) ReserveSeq(_ context.Context, chatID string) (int64, error) {
	defer s.lock("chat:" + chatID)()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return 0, notFound("chat", chatID)
	}
	c.LastSeq++
	s.chats[chatID] = c
	return c.LastSeq, nil
}

// InsertMessage stores a message in its sequence slot.
func (s *Store) InsertMessage(_ context.Context, m chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slots, ok := s.seqs[m.ChatID]
	if !ok {
		return notFound("chat", m.ChatID)
	}
	if _, ok := s.messages[m.ID]; ok {
		return fmt.Errorf("message %s: %w", m.ID, chat.ErrConflict)
	}
	if _, ok := slots[m.Seq]; ok {
		return fmt.Errorf("chat %s seq %d: %w", m.ChatID, m.Seq, chat.ErrConflict)
	}
	slots[m.Seq] = m.ID
	s.readBy[m.ID] = slices.Clone(m.ReadBy)
	s.reactions[m.ID] = maps.Clone(m.Reactions)
	m.ReadBy, m.Reactions = nil, nil
	s.messages[m.ID] = cloneMessage(m)
	return nil
}

// Message returns a message by id.
func (s *Store) Message(_ context.Context, id string) (chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.message(id)
}

// message assembles a message; s.mu must be held.
func (s *Store) message(id string) (chat.Message, error) {
	m, ok := s.messages[id]
	if !ok {
		return chat.Message{}, notFound("message", id)
	}
	m = cloneMessage(m)
	m.ReadBy = slices.Clone(s.readBy[id])
	m.Reactions = maps.Clone(s.reactions[id])
	if m.Reactions == nil {
		m.Reactions = map[string]string{}
	}
	return m, nil
}

// UpdateMessage applies fn to a copy of the message and stores the body
// fields it changed. Read-by and reactions have their own primitives.
func (s *Store) UpdateMessage(ctx context.Context, id string, fn func(*chat.Message) error) (chat.Message, error) {
	defer s.lock("message:" + id)()
	m, err := s.Message(ctx, id)
	if err != nil {
		return chat.Message{}, err
	}
	if err := fn(&m); err != nil {
		return chat.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.messages[id]
	cur.Content = m.Content
	cur.Attachment = m.Attachment
	cur.Edited = m.Edited
	cur.EditedAt = m.EditedAt
	cur.Deleted = m.Deleted
	s.messages[id] = cloneMessage(cur)
	return s.message(id)
}

// ScanMessages returns the messages of a chat with afterSeq < seq <= uptoSeq.
func (s *Store) ScanMessages(_ context.Context, chatID string, afterSeq, uptoSeq int64, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slots, ok := s.seqs[chatID]
	if !ok {
		return nil, notFound("chat", chatID)
	}
	var out []chat.Message
	for seq := max(afterSeq, 0) + 1; seq <= uptoSeq && len(out) < limit; seq++ {
		id, ok := slots[seq]
		if !ok {
			continue
		}
		m, err := s.message(id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ClaimClientID binds a client id to messageID unless already bound.
func (s *Store) ClaimClientID(_ context.Context, chatID, clientID, messageID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey(chatID, clientID)
	if owner, ok := s.clientIDs[k]; ok {
		return owner, nil
	}
	s.clientIDs[k] = messageID
	return messageID, nil
}

// ReleaseClientID drops a claim still held by messageID.
func (s *Store) ReleaseClientID(_ context.Context, chatID, clientID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey(chatID, clientID)
	if s.clientIDs[k] == messageID {
		delete(s.clientIDs, k)
	}
	return nil
}

// AddReadBy records participantID on the message.
func (s *Store) AddReadBy(_ context.Context, messageID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[messageID]; !ok {
		return notFound("message", messageID)
	}
	if !slices.Contains(s.readBy[messageID], participantID) {
		s.readBy[messageID] = append(s.readBy[messageID], participantID)
	}
	return nil
}

// UpdateReaction sets one participant's reaction to fn(current).
func (s *Store) UpdateReaction(_ context.Context, messageID, participantID string, fn func(string) string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[messageID]; !ok {
		return nil, notFound("message", messageID)
	}
	rs := s.reactions[messageID]
	if rs == nil {
		rs = make(map[string]string)
		s.reactions[messageID] = rs
	}
	if next := fn(rs[participantID]); next == "" {
		delete(rs, participantID)
	} else {
		rs[participantID] = next
	}
	return maps.Clone(rs), nil
}

// ReadState returns a participant's read state, zero if none exists.
func (s *Store) ReadState(_ context.Context, chatID, participantID string) (chat.ReadState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.readStates[pairKey(chatID, participantID)]
	if !ok {
		return chat.ReadState{ChatID: chatID, ParticipantID: participantID}, nil
	}
	return rs, nil
}

// UpdateReadState applies fn to one read state.
func (s *Store) UpdateReadState(ctx context.Context, chatID, participantID string, fn func(*chat.ReadState) error) (chat.ReadState, error) {
	k := pairKey(chatID, participantID)
	defer s.lock("read:" + k)()
	rs, err := s.ReadState(ctx, chatID, participantID)
	if err != nil {
		return chat.ReadState{}, err
	}
	if err := fn(&rs); err != nil {
		return chat.ReadState{}, err
	}
	rs.ChatID, rs.ParticipantID = chatID, participantID
	s.mu.Lock()
	s.readStates[k] = rs
	s.mu.Unlock()
	return rs, nil
}

// DeleteReadState removes a participant's read state.
func (s *Store) DeleteReadState(_ context.Context, chatID, participantID string) error {
	k := pairKey(chatID, participantID)
	defer s.lock("read:" + k)()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.readStates, k)
	return nil
}

// InsertNotification stores n unless its dedup key was seen before.
func (s *Store) InsertNotification(_ context.Context, n chat.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.DedupKey != "" {
		if _, ok := s.dedup[n.DedupKey]; ok {
			return false, nil
		}
		s.dedup[n.DedupKey] = n.ID
	}
	s.notifications[n.ID] = cloneNotification(n)
	return true, nil
}

// Notification returns a notification by id.
func (s *Store) Notification(_ context.Context, id string) (chat.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok {
		return chat.Notification{}, notFound("notification", id)
	}
	return cloneNotification(n), nil
}

// UpdateNotification applies fn to one notification.
func (s *Store) UpdateNotification(ctx context.Context, id string, fn func(*chat.Notification) error) (chat.Notification, error) {
	defer s.lock("notification:" + id)()
	n, err := s.Notification(ctx, id)
	if err != nil {
		return chat.Notification{}, err
	}
	if err := fn(&n); err != nil {
		return chat.Notification{}, err
	}
	n.ID = id
	s.mu.Lock()
	s.notifications[id] = cloneNotification(n)
	s.mu.Unlock()
	return n, nil
}

// ListNotifications returns matching notifications, newest first.
func (s *Store) ListNotifications(_ context.Context, f chat.NotificationFilter) ([]chat.Notification, error) {
	s.mu.RLock()
	var out []chat.Notification
	for _, n := range s.notifications {
		if n.RecipientID == f.RecipientID && (f.Status == "" || n.Status == f.Status) {
			out = append(out, cloneNotification(n))
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b chat.Notification) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// CountNotifications counts a recipient's notifications in status.
func (s *Store) CountNotifications(_ context.Context, recipientID string, status chat.NotificationStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, x := range s.notifications {
		if x.RecipientID == recipientID && x.Status == status {
			n++
		}
	}
	return n, nil
}

// Delivered reports whether key is in the delivery ledger.
func (s *Store) Delivered(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.delivered[key], nil
}

// MarkDelivered adds key to the delivery ledger.
func (s *Store) MarkDelivered(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered[key] = true
	return nil
}

// NotificationSettings returns a user's preferences.
func (s *Store) NotificationSettings(_ context.Context, userID string) (chat.NotificationSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.settings[userID]
	if !ok {
		return chat.NotificationSettings{}, notFound("notification settings", userID)
	}
	ns.Categories = maps.Clone(ns.Categories)
	return ns, nil
}

// PutNotificationSettings replaces a user's preferences.
func (s *Store) PutNotificationSettings(_ context.Context, ns chat.NotificationSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns.Categories = maps.Clone(ns.Categories)
	s.settings[ns.UserID] = ns
	return nil
}
