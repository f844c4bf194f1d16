// Package presence tracks which users are currently online, rebuilt wholesale
// on each roster snapshot and patched by join/leave events.
package presence

import (
	"log"
	"sort"
	"sync"

	"github.com/evertasker/chatsync/pkg/wire"
)

// Tracker owns the presence roster. No entry for a user means
// unknown/offline.
type Tracker struct {
	mu       sync.RWMutex
	roster   map[string]wire.PresenceEntry
	handlers []*changeHandler
	logger   *log.Logger
}

type changeHandler struct {
	fn     func(roster []wire.PresenceEntry)
	active bool
}

// New creates an empty Tracker. A nil logger falls back to log.Default().
func New(logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{
		roster: make(map[string]wire.PresenceEntry),
		logger: logger,
	}
}

// HandleSync replaces the entire roster with a snapshot. Any divergence
// accumulated from lost or reordered join/leave events is healed here.
func (t *Tracker) HandleSync(entries []wire.PresenceEntry) {
	t.mu.Lock()
	t.roster = make(map[string]wire.PresenceEntry, len(entries))
	for _, e := range entries {
		t.roster[e.UserID] = e
	}
	t.mu.Unlock()
	t.notify()
}

// HandleJoin upserts one entry. A join for an already-present user refreshes
// its entry.
func (t *Tracker) HandleJoin(entry wire.PresenceEntry) {
	t.mu.Lock()
	t.roster[entry.UserID] = entry
	t.mu.Unlock()
	t.notify()
}

// HandleLeave removes one entry. Removing an absent entry is a no-op, so a
// leave arriving before its join has no effect.
func (t *Tracker) HandleLeave(userID string) {
	t.mu.Lock()
	if _, ok := t.roster[userID]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.roster, userID)
	t.mu.Unlock()
	t.notify()
}

// IsOnline reports whether the user is in the current roster.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.roster[userID]
	return ok
}

// Roster returns a snapshot of the current roster sorted by user id.
func (t *Tracker) Roster() []wire.PresenceEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

// OnChange registers a handler invoked with a roster snapshot on every
// mutation. The returned unsubscribe function is idempotent.
func (t *Tracker) OnChange(handler func(roster []wire.PresenceEntry)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := &changeHandler{fn: handler, active: true}
	t.handlers = append(t.handlers, h)

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if !h.active {
			return
		}
		h.active = false
		for i, other := range t.handlers {
			if other == h {
				t.handlers = append(t.handlers[:i:i], t.handlers[i+1:]...)
				break
			}
		}
	}
}

func (t *Tracker) snapshotLocked() []wire.PresenceEntry {
	entries := make([]wire.PresenceEntry, 0, len(t.roster))
	for _, e := range t.roster {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
	return entries
}

func (t *Tracker) notify() {
	t.mu.RLock()
	handlers := make([]*changeHandler, len(t.handlers))
	copy(handlers, t.handlers)
	snapshot := t.snapshotLocked()
	t.mu.RUnlock()

	for _, h := range handlers {
		h.fn(snapshot)
	}
}
