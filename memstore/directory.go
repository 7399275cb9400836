package memstore

import (
	"context"
	"sync"
)

// Directory maps participants to email addresses.
type Directory struct {
	mu     sync.RWMutex
	emails map[string]string
}

// NewDirectory returns a Directory holding emails.
func NewDirectory(emails map[string]string) *Directory {
	d := &Directory{emails: make(map[string]string, len(emails))}
	for id, e := range emails {
		d.emails[id] = e
	}
	return d
}

// SetEmailAddress records a participant's address.
func (d *Directory) SetEmailAddress(participantID, email string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emails[participantID] = email
}

// EmailAddress returns the participant's address, or "" when unknown.
func (d *Directory) EmailAddress(_ context.Context, participantID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.emails[participantID], nil
}
