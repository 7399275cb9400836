package chat

import "sync"

// commitTracker tracks, per chat, the highest sequence number below which
// every reserved slot has been written. Slots finish out of order; the
// watermark only moves across a contiguous run.
type commitTracker struct {
	mu    sync.Mutex
	chats map[string]*chatCommits
}

type chatCommits struct {
	watermark int64
	pending   map[int64]struct{}
}

func newCommitTracker() *commitTracker {
	return &commitTracker{chats: make(map[string]*chatCommits)}
}

// init seeds the watermark of a chat the first time it is seen. The seed is
// the store's last sequence number, so this process must be the only
// writer for the chat.
func (t *commitTracker) init(chatID string, lastSeq int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.chats[chatID]; !ok {
		t.chats[chatID] = &chatCommits{watermark: lastSeq, pending: make(map[int64]struct{})}
	}
}

// commit marks seq as written and returns the new watermark.
func (t *commitTracker) commit(chatID string, seq int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.chats[chatID]
	if !ok {
		c = &chatCommits{watermark: seq - 1, pending: make(map[int64]struct{})}
		t.chats[chatID] = c
	}
	if seq <= c.watermark {
		return c.watermark
	}
	c.pending[seq] = struct{}{}
	for {
		if _, ok := c.pending[c.watermark+1]; !ok {
			break
		}
		delete(c.pending, c.watermark+1)
		c.watermark++
	}
	return c.watermark
}

func (t *commitTracker) watermark(chatID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.chats[chatID]; ok {
		return c.watermark
	}
	return 0
}

// visible returns the watermark of c, seeding it from the stored sequence
// counter on first use.
func (t *commitTracker) visible(c Chat) int64 {
	t.init(c.ID, c.LastSeq)
	return t.watermark(c.ID)
}
