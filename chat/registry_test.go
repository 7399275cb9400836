package chat_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/driftpro/chatcore/chat"
	"github.com/driftpro/chatcore/memstore"
)

func TestRegistry_CreateChat(t *testing.T) {
	tests := []struct {
		name     string
		req      chat.CreateChatRequest
		wantCode chat.Code
		want     *chat.GroupInfo
	}{
		{
			name:     "PrivateWithThree",
			req:      chat.CreateChatRequest{Kind: chat.KindPrivate, ParticipantIDs: []string{"a", "b", "c"}},
			wantCode: chat.CodeInvalidArgument,
		},
		{
			name:     "PrivateWithOne",
			req:      chat.CreateChatRequest{Kind: chat.KindPrivate, ParticipantIDs: []string{"a"}},
			wantCode: chat.CodeInvalidArgument,
		},
		{
			name:     "Duplicates",
			req:      chat.CreateChatRequest{Kind: chat.KindGroup, ParticipantIDs: []string{"a", "b", "a"}},
			wantCode: chat.CodeInvalidArgument,
		},
		{
			name:     "Empty",
			req:      chat.CreateChatRequest{Kind: chat.KindGroup},
			wantCode: chat.CodeInvalidArgument,
		},
		{
			name:     "UnknownKind",
			req:      chat.CreateChatRequest{Kind: "channel", ParticipantIDs: []string{"a"}},
			wantCode: chat.CodeInvalidArgument,
		},
		{
			name: "AdminNotParticipant",
			req: chat.CreateChatRequest{
				Kind:           chat.KindGroup,
				ParticipantIDs: []string{"a", "b"},
				Group:          &chat.GroupInfo{Admins: []string{"z"}},
			},
			wantCode: chat.CodeInvalidArgument,
		},
		{
			name: "PrivateWithGroupInfo",
			req: chat.CreateChatRequest{
				Kind:           chat.KindPrivate,
				ParticipantIDs: []string{"a", "b"},
				Group:          &chat.GroupInfo{},
			},
			wantCode: chat.CodeInvalidArgument,
		},
		{
			name: "Group",
			req: chat.CreateChatRequest{
				Kind:           chat.KindGroup,
				ParticipantIDs: []string{"a", "b", "c"},
				Group:          &chat.GroupInfo{Description: "d", CreatorID: "b", Admins: []string{"c"}, PinnedMessageIDs: []string{"x"}},
			},
			want: &chat.GroupInfo{Description: "d", CreatorID: "b", Admins: []string{"b", "c"}},
		},
		{
			name: "GroupDefaultsCreator",
			req:  chat.CreateChatRequest{Kind: chat.KindGroup, ParticipantIDs: []string{"a", "b"}},
			want: &chat.GroupInfo{CreatorID: "a", Admins: []string{"a"}},
		},
		{
			name: "Private",
			req:  chat.CreateChatRequest{Kind: chat.KindPrivate, ParticipantIDs: []string{"a", "b"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core := newCore(t, memstore.New(), chat.Options{})
			c, err := core.Chats.CreateChat(context.Background(), tt.req)
			if tt.wantCode != chat.CodeUnknown {
				checkCode(t, err, tt.wantCode)
				return
			}
			if err != nil {
				t.Fatalf("CreateChat failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, c.Group); diff != "" {
				t.Errorf("Group info mismatch (-want +got):\n%s", diff)
			}
			stored, err := core.Chats.Chat(context.Background(), c.ID)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(c, stored); diff != "" {
				t.Errorf("Stored chat mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRegistry_UpdateSettingsIsPerViewer(t *testing.T) {
	core := newCore(t, memstore.New(), chat.Options{})
	c := createPrivate(t, core, "alice", "bob")
	yes := true

	got, err := core.Chats.UpdateSettings(context.Background(), c.ID, "alice", chat.SettingsUpdate{Muted: &yes, Pinned: &yes})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(chat.Settings{Muted: true, Pinned: true}, got); diff != "" {
		t.Errorf("Settings mismatch (-want +got):\n%s", diff)
	}
	stored, _ := core.Chats.Chat(context.Background(), c.ID)
	if diff := cmp.Diff(chat.Settings{}, stored.Settings["bob"]); diff != "" {
		t.Errorf("Bob's settings changed (-want +got):\n%s", diff)
	}

	_, err = core.Chats.UpdateSettings(context.Background(), c.ID, "mallory", chat.SettingsUpdate{Muted: &yes})
	checkCode(t, err, chat.CodeForbidden)
	_, err = core.Chats.UpdateSettings(context.Background(), "nope", "alice", chat.SettingsUpdate{Muted: &yes})
	checkCode(t, err, chat.CodeNotFound)
}

func TestRegistry_ListChats(t *testing.T) {
	core := newCore(t, memstore.New(), chat.Options{})
	yes := true
	old := createPrivate(t, core, "alice", "bob")
	pinned := createPrivate(t, core, "alice", "carol")
	archived := createPrivate(t, core, "alice", "dave")
	recent := createGroup(t, core, "alice", "bob", "carol")

	send(t, core, old.ID, "bob", "first")
	send(t, core, recent.ID, "bob", "latest")
	send(t, core, recent.ID, "carol", "latest, really")
	if _, err := core.Chats.UpdateSettings(context.Background(), pinned.ID, "alice", chat.SettingsUpdate{Pinned: &yes}); err != nil {
		t.Fatal(err)
	}
	if _, err := core.Chats.UpdateSettings(context.Background(), archived.ID, "alice", chat.SettingsUpdate{Archived: &yes}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		opts chat.ListOptions
		want []string
	}{
		{name: "Default", want: []string{pinned.ID, recent.ID, old.ID}},
		{name: "IncludeArchived", opts: chat.ListOptions{IncludeArchived: true}, want: []string{pinned.ID, recent.ID, old.ID, archived.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			views, err := core.Chats.ListChats(context.Background(), "alice", tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, v := range views {
				got = append(got, v.ID)
				if v.ID == recent.ID && v.Unread != 2 {
					t.Errorf("Unread count of %s is %d, want 2", v.ID, v.Unread)
				}
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Chat order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRegistry_RemoveParticipant(t *testing.T) {
	core := newCore(t, memstore.New(), chat.Options{})
	private := createPrivate(t, core, "alice", "bob")
	group := createGroup(t, core, "alice", "bob", "carol")
	send(t, core, group.ID, "bob", "hi")
	yes := true
	if _, err := core.Chats.UpdateSettings(context.Background(), group.ID, "alice", chat.SettingsUpdate{Muted: &yes}); err != nil {
		t.Fatal(err)
	}

	checkCode(t, core.Chats.RemoveParticipant(context.Background(), private.ID, "bob"), chat.CodeInvalidArgument)
	checkCode(t, core.Chats.RemoveParticipant(context.Background(), group.ID, "mallory"), chat.CodeNotFound)

	if err := core.Chats.RemoveParticipant(context.Background(), group.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	c, _ := core.Chats.Chat(context.Background(), group.ID)
	if diff := cmp.Diff([]string{"bob", "carol"}, c.Participants); diff != "" {
		t.Errorf("Participants mismatch (-want +got):\n%s", diff)
	}
	if _, ok := c.Settings["alice"]; ok {
		t.Error("Alice's settings survived removal")
	}
	if _, ok := c.Profiles["alice"]; ok {
		t.Error("Alice's profile survived removal")
	}
	if diff := cmp.Diff([]string{"bob"}, c.Group.Admins); diff != "" {
		t.Errorf("Admins mismatch (-want +got):\n%s", diff)
	}
	_, err := core.Receipts.UnreadCount(context.Background(), group.ID, "alice")
	checkCode(t, err, chat.CodeForbidden)

	if err := core.Chats.RemoveParticipant(context.Background(), group.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	checkCode(t, core.Chats.RemoveParticipant(context.Background(), group.ID, "carol"), chat.CodeInvalidArgument)
}

func TestRegistry_AddParticipant(t *testing.T) {
	core := newCore(t, memstore.New(), chat.Options{})
	group := createGroup(t, core, "alice", "bob")
	send(t, core, group.ID, "alice", "before dave")

	_, err := core.Chats.AddParticipant(context.Background(), group.ID, "mallory", "dave", chat.Profile{})
	checkCode(t, err, chat.CodeForbidden)
	_, err = core.Chats.AddParticipant(context.Background(), group.ID, "alice", "bob", chat.Profile{})
	checkCode(t, err, chat.CodeInvalidArgument)

	c, err := core.Chats.AddParticipant(context.Background(), group.ID, "alice", "dave", chat.Profile{Name: "Dave"})
	if err != nil {
		t.Fatal(err)
	}
	if !c.HasParticipant("dave") || c.DisplayName("dave") != "Dave" {
		t.Errorf("Got %+v, want dave to be a participant", c)
	}
	if got := unread(t, core, group.ID, "dave"); got != 0 {
		t.Errorf("Dave's unread count is %d, want 0", got)
	}
	send(t, core, group.ID, "alice", "after dave")
	if got := unread(t, core, group.ID, "dave"); got != 1 {
		t.Errorf("Dave's unread count is %d, want 1", got)
	}

	private := createPrivate(t, core, "alice", "bob")
	_, err = core.Chats.AddParticipant(context.Background(), private.ID, "alice", "dave", chat.Profile{})
	checkCode(t, err, chat.CodeInvalidArgument)
}

func TestRegistry_SetMessagePinned(t *testing.T) {
	core := newCore(t, memstore.New(), chat.Options{})
	group := createGroup(t, core, "alice", "bob")
	m := send(t, core, group.ID, "bob", "pin me")

	_, err := core.Chats.SetMessagePinned(context.Background(), group.ID, "bob", m.ID, true)
	checkCode(t, err, chat.CodeForbidden)

	c, err := core.Chats.SetMessagePinned(context.Background(), group.ID, "alice", m.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{m.ID}, c.Group.PinnedMessageIDs); diff != "" {
		t.Errorf("Pinned mismatch (-want +got):\n%s", diff)
	}
	c, err = core.Chats.SetMessagePinned(context.Background(), group.ID, "alice", m.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Group.PinnedMessageIDs) != 1 {
		t.Errorf("Pinning twice gave %v", c.Group.PinnedMessageIDs)
	}
	c, err = core.Chats.SetMessagePinned(context.Background(), group.ID, "alice", m.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Group.PinnedMessageIDs) != 0 {
		t.Errorf("Unpinning left %v", c.Group.PinnedMessageIDs)
	}
}
