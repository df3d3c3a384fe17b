// Package presence tracks which users are reachable right now and over
// which connection.
package presence

import (
	"sort"
	"sync"

	"parley/internal/models"
)

// Notifier receives every status change produced by the registry.
type Notifier interface {
	StatusChanged(update models.StatusUpdate)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(update models.StatusUpdate)

func (f NotifierFunc) StatusChanged(update models.StatusUpdate) {
	f(update)
}

// Registry maps a user id to at most one live connection and a status.
//
// Entries are keyed by user id; a reverse index maps connection id back to
// the user that registered it last, so disconnect cleanup is O(1).
// Mutations are expected to come from a single goroutine (the hub loop);
// the lock only makes concurrent readers safe.
type Registry struct {
	entries map[string]models.PresenceEntry
	byConn  map[string]string
	notify  Notifier

	mu sync.RWMutex
}

func NewRegistry(notify Notifier) *Registry {
	if notify == nil {
		notify = NotifierFunc(func(models.StatusUpdate) {})
	}
	return &Registry{
		entries: make(map[string]models.PresenceEntry),
		byConn:  make(map[string]string),
		notify:  notify,
	}
}

// Register binds userID to connID with status online. The last registration
// wins. If the connection was previously registered under another user id,
// that user's entry is left in place.
func (r *Registry) Register(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bind(userID, connID)
}

func (r *Registry) bind(userID, connID string) {
	if prev, ok := r.entries[userID]; ok && prev.ConnectionID != "" && prev.ConnectionID != connID {
		if r.byConn[prev.ConnectionID] == userID {
			delete(r.byConn, prev.ConnectionID)
		}
	}

	r.entries[userID] = models.PresenceEntry{
		UserID:       userID,
		ConnectionID: connID,
		Status:       models.StatusOnline,
	}
	r.byConn[connID] = userID
}

// SetStatus updates the status of userID, creating a status-only entry for
// unknown users, and notifies about the change.
func (r *Registry) SetStatus(userID string, status models.Status) {
	r.mu.Lock()
	entry, ok := r.entries[userID]
	if !ok {
		entry = models.PresenceEntry{UserID: userID}
	}
	entry.Status = status
	r.entries[userID] = entry
	r.mu.Unlock()

	r.notify.StatusChanged(models.StatusUpdate{UserID: userID, Status: status})
}

// Lookup returns the live connection of userID.
func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[userID]
	if !ok || entry.ConnectionID == "" {
		return "", false
	}
	return entry.ConnectionID, true
}

// UnregisterByConnection removes the user bound to connID and notifies that
// the user went offline. Connections that never registered are ignored.
func (r *Registry) UnregisterByConnection(connID string) (string, bool) {
	r.mu.Lock()
	userID, ok := r.byConn[connID]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	delete(r.byConn, connID)

	entry, ok := r.entries[userID]
	if !ok || entry.ConnectionID != connID {
		r.mu.Unlock()
		return "", false
	}
	delete(r.entries, userID)
	r.mu.Unlock()

	r.notify.StatusChanged(models.StatusUpdate{UserID: userID, Status: models.StatusOffline})
	return userID, true
}

func (r *Registry) Get(userID string) (models.PresenceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[userID]
	return entry, ok
}

// Snapshot returns all entries ordered by user id.
func (r *Registry) Snapshot() []models.PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]models.PresenceEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UserID < entries[j].UserID
	})
	return entries
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Clear drops every entry without notifying.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]models.PresenceEntry)
	r.byConn = make(map[string]string)
}
