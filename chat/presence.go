package chat

import (
	"context"
	"time"
)

// PresenceView annotates users with a best-effort status.
type PresenceView struct {
	store PresenceStore
	ttl   time.Duration
	now   func() time.Time
}

// SetStatus records the user's status. Entries expire after the presence
// TTL unless refreshed.
func (v *PresenceView) SetStatus(ctx context.Context, userID string, status Status) error {
	switch status {
	case StatusOnline, StatusAway, StatusOffline:
	default:
		return invalidArgument("unknown presence status %q", status)
	}
	if userID == "" {
		return invalidArgument("user id must not be empty")
	}
	if v.store == nil {
		return nil
	}
	p := Presence{UserID: userID, Status: status, LastSeen: v.now()}
	if err := v.store.SetPresence(ctx, p, v.ttl); err != nil {
		return unavailable("set presence", err)
	}
	return nil
}

// Status returns the user's status; unknown users are offline.
func (v *PresenceView) Status(ctx context.Context, userID string) (Presence, error) {
	ps, err := v.Annotate(ctx, userID)
	if err != nil {
		return Presence{}, err
	}
	return ps[userID], nil
}

// Annotate returns the status of every given user.
func (v *PresenceView) Annotate(ctx context.Context, userIDs ...string) (map[string]Presence, error) {
	out := make(map[string]Presence, len(userIDs))
	for _, id := range userIDs {
		out[id] = Presence{UserID: id, Status: StatusOffline}
	}
	if v.store == nil || len(userIDs) == 0 {
		return out, nil
	}
	found, err := v.store.Presence(ctx, userIDs...)
	if err != nil {
		return out, unavailable("load presence", err)
	}
	for id, p := range found {
		if _, ok := out[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
