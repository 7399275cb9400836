package chat_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/neilotoole/slogt"

	"github.com/driftpro/chatcore/chat"
	"github.com/driftpro/chatcore/memstore"
)

// newCore returns a Core over store with deterministic ids and a clock that
// ticks one second per reading.
func newCore(t *testing.T, store chat.Store, opts chat.Options) *chat.Core {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slogt.New(t)
	}
	if opts.NewID == nil {
		var (
			mu sync.Mutex
			n  int
		)
		opts.NewID = func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("id-%d", n)
		}
	}
	if opts.Now == nil {
		var (
			mu  sync.Mutex
			now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		)
		opts.Now = func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(time.Second)
			return now
		}
	}
	return chat.New(store, opts)
}

func createGroup(t *testing.T, core *chat.Core, ids ...string) chat.Chat {
	t.Helper()
	profiles := make(map[string]chat.Profile, len(ids))
	for _, id := range ids {
		profiles[id] = chat.Profile{Name: titleCase(id)}
	}
	c, err := core.Chats.CreateChat(context.Background(), chat.CreateChatRequest{
		Kind:           chat.KindGroup,
		Name:           "team",
		ParticipantIDs: ids,
		Profiles:       profiles,
	})
	if err != nil {
		t.Fatalf("Could not create group: %v", err)
	}
	return c
}

func createPrivate(t *testing.T, core *chat.Core, a, b string) chat.Chat {
	t.Helper()
	c, err := core.Chats.CreateChat(context.Background(), chat.CreateChatRequest{
		Kind:           chat.KindPrivate,
		ParticipantIDs: []string{a, b},
		Profiles: map[string]chat.Profile{
			a: {Name: titleCase(a)},
			b: {Name: titleCase(b)},
		},
	})
	if err != nil {
		t.Fatalf("Could not create private chat: %v", err)
	}
	return c
}

func send(t *testing.T, core *chat.Core, chatID, senderID, text string) chat.Message {
	t.Helper()
	m, err := core.Messages.Append(context.Background(), chat.AppendRequest{
		ChatID:   chatID,
		SenderID: senderID,
		Content:  text,
	})
	if err != nil {
		t.Fatalf("Could not append message: %v", err)
	}
	return m
}

func unread(t *testing.T, core *chat.Core, chatID, participantID string) int {
	t.Helper()
	n, err := core.Receipts.UnreadCount(context.Background(), chatID, participantID)
	if err != nil {
		t.Fatalf("Could not count unread messages: %v", err)
	}
	return n
}

func loadAll(t *testing.T, core *chat.Core, chatID, viewerID string, after int64) []chat.Message {
	t.Helper()
	var out []chat.Message
	for m, err := range core.Messages.Load(context.Background(), chatID, viewerID, after) {
		if err != nil {
			t.Fatalf("Could not load messages: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func seqs(ms []chat.Message) []int64 {
	out := make([]int64, len(ms))
	for i, m := range ms {
		out[i] = m.Seq
	}
	return out
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

func checkCode(t *testing.T, err error, want chat.Code) {
	t.Helper()
	if got := chat.CodeOf(err); got != want {
		t.Errorf("Got error %v (%s), want %s", err, got, want)
	}
}

// flakyStore wraps a memory store and lets tests fail selected calls.
type flakyStore struct {
	*memstore.Store
	insertMessage func(m chat.Message) error
	reserveSeq    func(chatID string) error
}

func (s *flakyStore) InsertMessage(ctx context.Context, m chat.Message) error {
	if s.insertMessage != nil {
		if err := s.insertMessage(m); err != nil {
			return err
		}
	}
	return s.Store.InsertMessage(ctx, m)
}

func (s *flakyStore) ReserveSeq(ctx context.Context, chatID string) (int64, error) {
	if s.reserveSeq != nil {
		if err := s.reserveSeq(chatID); err != nil {
			return 0, err
		}
	}
	return s.Store.ReserveSeq(ctx, chatID)
}

// testEmail records sent email. sendEmail, when set, decides the outcome.
type testEmail struct {
	sendEmail func(ctx context.Context, req chat.EmailRequest) error

	mu   sync.Mutex
	sent []chat.EmailRequest
}

func (e *testEmail) SendEmail(ctx context.Context, req chat.EmailRequest) error {
	if e.sendEmail != nil {
		if err := e.sendEmail(ctx, req); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, req)
	return nil
}

func (e *testEmail) count(to string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, r := range e.sent {
		if r.To == to {
			n++
		}
	}
	return n
}
