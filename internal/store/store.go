// Package store owns the ordered message log of every conversation and
// reconciles optimistic local sends with confirmed server events.
package store

import (
	"log"
	"sort"
	"sync"

	"github.com/evertasker/chatsync/pkg/wire"
)

// Store holds one message log per conversation id. Logs are ordered newest
// first by created-at timestamp, message id as tiebreak; the final order is a
// pure function of the message set and never depends on arrival order.
type Store struct {
	mu       sync.RWMutex
	logs     map[string][]wire.Message
	handlers []*changeHandler
	logger   *log.Logger

	// notifyMu is acquired before mu is released by a mutator, so handlers
	// receive snapshots in mutation order even with concurrent writers.
	notifyMu sync.Mutex
}

type changeHandler struct {
	fn     func(conversationID string, messages []wire.Message)
	active bool
}

// New creates an empty Store. A nil logger falls back to log.Default().
func New(logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		logs:   make(map[string][]wire.Message),
		logger: logger,
	}
}

// newerThan reports whether a sorts before b in a newest-first log.
func newerThan(a, b *wire.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// AppendLocal inserts a locally-originated message before any server
// confirmation so the sender's view updates without latency. The caller must
// assign a stable id so the server echo deduplicates against this copy.
func (s *Store) AppendLocal(conversationID string, msg wire.Message) {
	s.MergeRemote(conversationID, msg)
}

// MergeRemote merges a server-confirmed message into the log. A message with
// a known id only advances: its status moves forward through
// sent < delivered < read and never regresses. Unknown ids are inserted in
// order.
func (s *Store) MergeRemote(conversationID string, msg wire.Message) {
	s.mu.Lock()
	messages := s.logs[conversationID]

	for i := range messages {
		if messages[i].ID == msg.ID {
			if msg.Status <= messages[i].Status {
				s.mu.Unlock()
				return
			}
			messages[i].Status = msg.Status
			s.notifyUnlock(conversationID)
			return
		}
	}

	pos := sort.Search(len(messages), func(i int) bool {
		return !newerThan(&messages[i], &msg)
	})
	messages = append(messages, wire.Message{})
	copy(messages[pos+1:], messages[pos:])
	messages[pos] = msg
	s.logs[conversationID] = messages
	s.notifyUnlock(conversationID)
}

// UpdateStatus advances a message's status. Unknown message ids and
// regressing transitions are no-ops.
func (s *Store) UpdateStatus(conversationID, messageID string, status wire.Status) {
	s.mu.Lock()
	messages := s.logs[conversationID]
	updated := false
	for i := range messages {
		if messages[i].ID == messageID {
			if status > messages[i].Status {
				messages[i].Status = status
				updated = true
			}
			break
		}
	}
	if !updated {
		s.mu.Unlock()
		return
	}
	s.notifyUnlock(conversationID)
}

// Remove deletes a message from the log. Idempotent.
func (s *Store) Remove(conversationID, messageID string) {
	s.mu.Lock()
	messages := s.logs[conversationID]
	removed := false
	for i := range messages {
		if messages[i].ID == messageID {
			s.logs[conversationID] = append(messages[:i:i], messages[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		s.mu.Unlock()
		return
	}
	s.notifyUnlock(conversationID)
}

// Clear drops the entire log for a conversation.
func (s *Store) Clear(conversationID string) {
	s.mu.Lock()
	if _, ok := s.logs[conversationID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.logs, conversationID)
	s.notifyUnlock(conversationID)
}

// SetHistory replaces a conversation's log with a bulk load, re-sorted into
// the canonical order.
func (s *Store) SetHistory(conversationID string, messages []wire.Message) {
	sorted := make([]wire.Message, len(messages))
	copy(sorted, messages)
	sort.Slice(sorted, func(i, j int) bool {
		return newerThan(&sorted[i], &sorted[j])
	})

	s.mu.Lock()
	s.logs[conversationID] = sorted
	s.notifyUnlock(conversationID)
}

// Messages returns a snapshot of a conversation's log, newest first.
func (s *Store) Messages(conversationID string) []wire.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(conversationID)
}

// OnChange registers a handler invoked with a log snapshot after every
// mutation. The returned unsubscribe function is idempotent.
func (s *Store) OnChange(handler func(conversationID string, messages []wire.Message)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := &changeHandler{fn: handler, active: true}
	s.handlers = append(s.handlers, h)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !h.active {
			return
		}
		h.active = false
		for i, other := range s.handlers {
			if other == h {
				s.handlers = append(s.handlers[:i:i], s.handlers[i+1:]...)
				break
			}
		}
	}
}

func (s *Store) snapshotLocked(conversationID string) []wire.Message {
	messages := s.logs[conversationID]
	if messages == nil {
		return nil
	}
	snapshot := make([]wire.Message, len(messages))
	copy(snapshot, messages)
	return snapshot
}

// notifyUnlock snapshots the mutated log, releases the data lock and delivers
// the snapshot to every handler. Taking notifyMu before dropping mu keeps
// delivery in mutation order; taking it after the mutation keeps handlers off
// the data lock. The caller must hold mu.
func (s *Store) notifyUnlock(conversationID string) {
	snapshot := s.snapshotLocked(conversationID)
	handlers := make([]*changeHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.notifyMu.Lock()
	s.mu.Unlock()

	for _, h := range handlers {
		h.fn(conversationID, snapshot)
	}
	s.notifyMu.Unlock()
}
