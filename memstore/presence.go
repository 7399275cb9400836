package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/driftpro/chatcore/chat"
)

// Presence keeps presence entries until their TTL runs out.
type Presence struct {
	mu      sync.Mutex
	entries map[string]presenceEntry
	now     func() time.Time
}

type presenceEntry struct {
	p       chat.Presence
	expires time.Time
}

// NewPresence returns an empty Presence using the wall clock.
func NewPresence() *Presence {
	return &Presence{entries: make(map[string]presenceEntry), now: time.Now}
}

// SetPresence stores p for ttl.
func (ps *Presence) SetPresence(_ context.Context, p chat.Presence, ttl time.Duration) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.entries[p.UserID] = presenceEntry{p: p, expires: ps.now().Add(ttl)}
	return nil
}

// Presence returns the live entries of the given users.
func (ps *Presence) Presence(_ context.Context, userIDs ...string) (map[string]chat.Presence, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	now := ps.now()
	out := make(map[string]chat.Presence, len(userIDs))
	for _, id := range userIDs {
		e, ok := ps.entries[id]
		if !ok {
			continue
		}
		if !now.Before(e.expires) {
			delete(ps.entries, id)
			continue
		}
		out[id] = e.p
	}
	return out, nil
}
