package memstore

import (
	"maps"
	"slices"

	"github.com/driftpro/chatcore/chat"
)

func cloneChat(c chat.Chat) chat.Chat {
	c.Participants = slices.Clone(c.Participants)
	c.Profiles = maps.Clone(c.Profiles)
	c.Settings = maps.Clone(c.Settings)
	if c.LastMessage != nil {
		s := *c.LastMessage
		c.LastMessage = &s
	}
	if c.Group != nil {
		g := *c.Group
		g.Admins = slices.Clone(g.Admins)
		g.PinnedMessageIDs = slices.Clone(g.PinnedMessageIDs)
		c.Group = &g
	}
	return c
}

func cloneMessage(m chat.Message) chat.Message {
	if m.Attachment != nil {
		a := *m.Attachment
		m.Attachment = &a
	}
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		m.ReplyTo = &r
	}
	if m.Forwarded != nil {
		p := *m.Forwarded
		m.Forwarded = &p
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		m.EditedAt = &t
	}
	m.ReadBy = slices.Clone(m.ReadBy)
	m.Reactions = maps.Clone(m.Reactions)
	return m
}

func cloneNotification(n chat.Notification) chat.Notification {
	if n.ReadAt != nil {
		t := *n.ReadAt
		n.ReadAt = &t
	}
	if n.ArchivedAt != nil {
		t := *n.ArchivedAt
		n.ArchivedAt = &t
	}
	return n
}
