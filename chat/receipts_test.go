package chat_test

import (
	"context"
	"sync"
	"testing"

	"github.com/driftpro/chatcore/chat"
	"github.com/driftpro/chatcore/memstore"
)

func TestReceiptTracker_UnreadAccuracy(t *testing.T) {
	core := newCore(t, memstore.New(), chat.Options{})
	c := createPrivate(t, core, "alice", "bob")
	for range 5 {
		send(t, core, c.ID, "alice", "ping")
	}
	if got := unread(t, core, c.ID, "bob"); got != 5 {
		t.Errorf("Bob's unread count is %d, want 5", got)
	}
	if got := unread(t, core, c.ID, "alice"); got != 0 {
		t.Errorf("Alice's unread count is %d, want 0", got)
	}

	if err := core.Receipts.MarkRead(context.Background(), c.ID, "bob", 3); err != nil {
		t.Fatal(err)
	}
	if got := unread(t, core, c.ID, "bob"); got != 2 {
		t.Errorf("Bob's unread count is %d, want 2", got)
	}
	for _, m := range loadAll(t, core, c.ID, "bob", 0) {
		if want := m.Seq <= 3; m.ReadByParticipant("bob") != want {
			t.Errorf("Message %d read by bob = %v, want %v", m.Seq, !want, want)
		}
	}
}

func TestReceiptTracker_MarkReadMonotonic(t *testing.T) {
	tests := []struct {
		name       string
		marks      []int64
		wantUnread int
	}{
		{name: "Lower", marks: []int64{4, 2}, wantUnread: 2},
		{name: "Same", marks: []int64{3, 3}, wantUnread: 3},
		{name: "Zero", marks: []int64{5, 0}, wantUnread: 1},
		{name: "PastEnd", marks: []int64{100, 1}, wantUnread: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core := newCore(t, memstore.New(), chat.Options{})
			c := createPrivate(t, core, "alice", "bob")
			for range 6 {
				send(t, core, c.ID, "alice", "ping")
			}
			for _, k := range tt.marks {
				if err := core.Receipts.MarkRead(context.Background(), c.ID, "bob", k); err != nil {
					t.Fatalf("MarkRead(%d) failed: %v", k, err)
				}
			}
			if got := unread(t, core, c.ID, "bob"); got != tt.wantUnread {
				t.Errorf("Unread count is %d, want %d", got, tt.wantUnread)
			}
		})
	}
}

func TestReceiptTracker_Forbidden(t *testing.T) {
	core := newCore(t, memstore.New(), chat.Options{})
	c := createPrivate(t, core, "alice", "bob")

	checkCode(t, core.Receipts.MarkRead(context.Background(), c.ID, "mallory", 1), chat.CodeForbidden)
	checkCode(t, core.Receipts.MarkRead(context.Background(), "nope", "alice", 1), chat.CodeForbidden)
	checkCode(t, core.Receipts.MarkBatchRead(context.Background(), c.ID, "mallory", nil), chat.CodeForbidden)
	_, err := core.Receipts.UnreadCount(context.Background(), "nope", "alice")
	checkCode(t, err, chat.CodeForbidden)
}

func TestReceiptTracker_MarkBatchRead(t *testing.T) {
	core := newCore(t, memstore.New(), chat.Options{})
	c := createPrivate(t, core, "alice", "bob")
	var ms []chat.Message
	for range 3 {
		ms = append(ms, send(t, core, c.ID, "alice", "a"))
	}
	ms = append(ms, send(t, core, c.ID, "bob", "b"))
	ms = append(ms, send(t, core, c.ID, "alice", "c"))

	// Reading out of order leaves the marker before the first gap.
	if err := core.Receipts.MarkBatchRead(context.Background(), c.ID, "bob", []string{ms[0].ID, ms[2].ID}); err != nil {
		t.Fatal(err)
	}
	if got := unread(t, core, c.ID, "bob"); got != 3 {
		t.Errorf("Unread count is %d, want 3", got)
	}

	// Closing the gap moves the marker across bob's own message too.
	if err := core.Receipts.MarkBatchRead(context.Background(), c.ID, "bob", []string{ms[1].ID}); err != nil {
		t.Fatal(err)
	}
	if got := unread(t, core, c.ID, "bob"); got != 1 {
		t.Errorf("Unread count is %d, want 1", got)
	}

	// A lower MarkRead afterwards changes nothing.
	if err := core.Receipts.MarkRead(context.Background(), c.ID, "bob", 1); err != nil {
		t.Fatal(err)
	}
	if got := unread(t, core, c.ID, "bob"); got != 1 {
		t.Errorf("Unread count is %d, want 1", got)
	}

	other := createPrivate(t, core, "alice", "bob")
	foreign := send(t, core, other.ID, "alice", "elsewhere")
	checkCode(t, core.Receipts.MarkBatchRead(context.Background(), c.ID, "bob", []string{foreign.ID}), chat.CodeInvalidArgument)
	checkCode(t, core.Receipts.MarkBatchRead(context.Background(), c.ID, "bob", []string{"nope"}), chat.CodeNotFound)
}

func TestReceiptTracker_ConcurrentAppendAndMarkRead(t *testing.T) {
	core := newCore(t, memstore.New(), chat.Options{})
	c := createPrivate(t, core, "alice", "bob")

	const n = 200
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range n {
			_, err := core.Messages.Append(context.Background(), chat.AppendRequest{ChatID: c.ID, SenderID: "alice", Content: "ping"})
			if err != nil {
				t.Errorf("Append failed: %v", err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for k := int64(1); k <= n; k += 7 {
			if err := core.Receipts.MarkRead(context.Background(), c.ID, "bob", k); err != nil {
				t.Errorf("MarkRead(%d) failed: %v", k, err)
			}
		}
	}()
	wg.Wait()

	if err := core.Receipts.MarkRead(context.Background(), c.ID, "bob", n); err != nil {
		t.Fatal(err)
	}
	if got := unread(t, core, c.ID, "bob"); got != 0 {
		t.Errorf("Unread count is %d after reading everything, want 0", got)
	}
}
