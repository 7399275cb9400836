package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/driftpro/chatcore/chat"
)

func TestStore_UpdateChatKeepsSequence(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.InsertChat(ctx, chat.Chat{ID: "c", Kind: chat.KindGroup, Participants: []string{"a"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReserveSeq(ctx, "c"); err != nil {
		t.Fatal(err)
	}
	c, err := s.UpdateChat(ctx, "c", func(c *chat.Chat) error {
		c.Name = "renamed"
		c.LastSeq = 0
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.LastSeq != 1 || c.Name != "renamed" {
		t.Errorf("Got %+v, want the rename with seq 1", c)
	}

	boom := errors.New("boom")
	if _, err := s.UpdateChat(ctx, "c", func(c *chat.Chat) error {
		c.Name = "lost"
		return boom
	}); !errors.Is(err, boom) {
		t.Errorf("Got %v, want the update error", err)
	}
	got, _ := s.Chat(ctx, "c")
	if got.Name != "renamed" {
		t.Errorf("Failed update was applied: %q", got.Name)
	}

	if _, err := s.Chat(ctx, "nope"); !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("Got %v, want not found", err)
	}
}

func TestStore_MessageCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.InsertChat(ctx, chat.Chat{ID: "c", Participants: []string{"a", "b"}}); err != nil {
		t.Fatal(err)
	}
	m := chat.Message{ID: "m", ChatID: "c", Seq: 1, ReadBy: []string{"a"}, Reactions: map[string]string{}}
	if err := s.InsertMessage(ctx, m); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertMessage(ctx, chat.Message{ID: "m2", ChatID: "c", Seq: 1}); !errors.Is(err, chat.ErrConflict) {
		t.Errorf("Got %v, want a conflict for a taken slot", err)
	}

	got, _ := s.Message(ctx, "m")
	got.ReadBy[0] = "mutated"
	if err := s.AddReadBy(ctx, "m", "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddReadBy(ctx, "m", "b"); err != nil {
		t.Fatal(err)
	}
	reactions, err := s.UpdateReaction(ctx, "m", "b", func(string) string { return "👍" })
	if err != nil {
		t.Fatal(err)
	}
	reactions["b"] = "mutated"

	got, _ = s.Message(ctx, "m")
	if diff := cmp.Diff([]string{"a", "b"}, got.ReadBy); diff != "" {
		t.Errorf("Read-by mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]string{"b": "👍"}, got.Reactions); diff != "" {
		t.Errorf("Reactions mismatch (-want +got):\n%s", diff)
	}

	updated, err := s.UpdateMessage(ctx, "m", func(m *chat.Message) error {
		m.Content = "edited"
		m.ReadBy = nil
		m.Reactions = nil
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Content != "edited" || len(updated.ReadBy) != 2 || len(updated.Reactions) != 1 {
		t.Errorf("Got %+v, want only the content changed", updated)
	}
}

func TestStore_ScanMessagesNegativeCursor(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.InsertChat(ctx, chat.Chat{ID: "c", Participants: []string{"a", "b"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertMessage(ctx, chat.Message{ID: "m", ChatID: "c", Seq: 1}); err != nil {
		t.Fatal(err)
	}

	done := make(chan []chat.Message, 1)
	go func() {
		ms, _ := s.ScanMessages(ctx, "c", -(1 << 40), 1, 10)
		done <- ms
	}()
	select {
	case ms := <-done:
		if len(ms) != 1 || ms[0].ID != "m" {
			t.Errorf("Got %+v, want message m", ms)
		}
	case <-time.After(time.Second):
		t.Fatal("Scan from a negative cursor did not return")
	}
}

func TestStore_ClientIDs(t *testing.T) {
	ctx := context.Background()
	s := New()
	owner, _ := s.ClaimClientID(ctx, "c", "k", "m1")
	again, _ := s.ClaimClientID(ctx, "c", "k", "m2")
	if owner != "m1" || again != "m1" {
		t.Errorf("Got owners %q and %q, want m1 for both", owner, again)
	}
	_ = s.ReleaseClientID(ctx, "c", "k", "m2")
	if o, _ := s.ClaimClientID(ctx, "c", "k", "m3"); o != "m1" {
		t.Errorf("Release by a non-owner dropped the claim")
	}
	_ = s.ReleaseClientID(ctx, "c", "k", "m1")
	if o, _ := s.ClaimClientID(ctx, "c", "k", "m3"); o != "m3" {
		t.Errorf("Got owner %q after release, want m3", o)
	}
}

func TestStore_Notifications(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"n1", "n2", "n3"} {
		ok, err := s.InsertNotification(ctx, chat.Notification{
			ID:          id,
			RecipientID: "bob",
			Status:      chat.StatusUnread,
			DedupKey:    "k" + id,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil || !ok {
			t.Fatalf("Insert %s: %v %v", id, ok, err)
		}
	}
	if ok, _ := s.InsertNotification(ctx, chat.Notification{ID: "n4", RecipientID: "bob", DedupKey: "kn1"}); ok {
		t.Error("Duplicate dedup key was stored")
	}

	page, _ := s.ListNotifications(ctx, chat.NotificationFilter{RecipientID: "bob", Limit: 2, Offset: 1})
	var ids []string
	for _, n := range page {
		ids = append(ids, n.ID)
	}
	if diff := cmp.Diff([]string{"n2", "n1"}, ids); diff != "" {
		t.Errorf("Page mismatch (-want +got):\n%s", diff)
	}
	if n, _ := s.CountNotifications(ctx, "bob", chat.StatusUnread); n != 3 {
		t.Errorf("Counted %d unread, want 3", n)
	}
}

func TestPresence_Expires(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ps := NewPresence()
	ps.now = func() time.Time { return now }
	_ = ps.SetPresence(context.Background(), chat.Presence{UserID: "bob", Status: chat.StatusOnline}, time.Minute)

	if got, _ := ps.Presence(context.Background(), "bob"); got["bob"].Status != chat.StatusOnline {
		t.Errorf("Got %+v, want bob online", got)
	}
	now = now.Add(time.Minute)
	if got, _ := ps.Presence(context.Background(), "bob"); len(got) != 0 {
		t.Errorf("Got %+v after the TTL, want nothing", got)
	}
}

func TestBroker(t *testing.T) {
	ctx := context.Background()
	b := NewBroker()
	sub, err := b.SubscribeChat(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	_ = b.PublishMessage(ctx, chat.Message{ChatID: "other", Seq: 9})
	_ = b.PublishMessage(ctx, chat.Message{ChatID: "c", Seq: 1})

	select {
	case seq := <-sub.Events():
		if seq != 1 {
			t.Errorf("Got seq %d, want 1", seq)
		}
	case <-time.After(time.Second):
		t.Fatal("No event received")
	}
	if err := sub.Close(); err != nil {
		t.Fatal(err)
	}
	_ = sub.Close()
	if _, ok := <-sub.Events(); ok {
		t.Error("Events channel still open after Close")
	}
	_ = b.PublishMessage(ctx, chat.Message{ChatID: "c", Seq: 2})
}
