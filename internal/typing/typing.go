// Package typing maintains the decaying per-conversation sets of users who
// are currently composing a message, and debounces the local user's own
// composition signals.
package typing

import (
	"log"
	"sort"
	"sync"
	"time"
)

// DefaultTimeout bounds indicator staleness when a stop signal is lost: a
// typing entry expires this long after its last start signal.
const DefaultTimeout = 3 * time.Second

// Tracker owns the typing set of every conversation. Each entry carries an
// expiry timer rearmed by every start signal.
type Tracker struct {
	mu       sync.Mutex
	timeout  time.Duration
	sets     map[string]map[string]*time.Timer
	handlers []*changeHandler
	closed   bool
	logger   *log.Logger
}

type changeHandler struct {
	fn     func(conversationID string, userIDs []string)
	active bool
}

// NewTracker creates a Tracker. A zero timeout selects DefaultTimeout; a nil
// logger falls back to log.Default().
func NewTracker(timeout time.Duration, logger *log.Logger) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{
		timeout: timeout,
		sets:    make(map[string]map[string]*time.Timer),
		logger:  logger,
	}
}

// HandleSignal applies one typing:update. A start (re)inserts the user and
// (re)arms its expiry timer, replacing any prior timer; a stop removes the
// user immediately and cancels the timer.
func (t *Tracker) HandleSignal(conversationID, userID string, typing bool) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	if typing {
		set := t.sets[conversationID]
		if set == nil {
			set = make(map[string]*time.Timer)
			t.sets[conversationID] = set
		}
		if timer, ok := set[userID]; ok {
			timer.Stop()
		}
		set[userID] = time.AfterFunc(t.timeout, func() {
			t.expire(conversationID, userID)
		})
	} else {
		if !t.removeLocked(conversationID, userID) {
			t.mu.Unlock()
			return
		}
	}

	snapshot := t.snapshotLocked(conversationID)
	t.mu.Unlock()
	t.notify(conversationID, snapshot)
}

// Typing returns the users currently composing in the conversation, sorted.
func (t *Tracker) Typing(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(conversationID)
}

// Clear drops the conversation's entire typing set, e.g. when the local user
// leaves the conversation.
func (t *Tracker) Clear(conversationID string) {
	t.mu.Lock()
	set, ok := t.sets[conversationID]
	if !ok {
		t.mu.Unlock()
		return
	}
	for _, timer := range set {
		timer.Stop()
	}
	delete(t.sets, conversationID)
	t.mu.Unlock()
	t.notify(conversationID, nil)
}

// OnChange registers a handler invoked with a set snapshot after every
// mutation. The returned unsubscribe function is idempotent.
func (t *Tracker) OnChange(handler func(conversationID string, userIDs []string)) func() {
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

// Close stops every pending expiry timer. The tracker ignores signals after
// Close.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for _, set := range t.sets {
		for _, timer := range set {
			timer.Stop()
		}
	}
	t.sets = make(map[string]map[string]*time.Timer)
}

// expire runs on the timer goroutine when a start signal was never refreshed
// or explicitly stopped.
func (t *Tracker) expire(conversationID, userID string) {
	t.mu.Lock()
	if t.closed || !t.removeLocked(conversationID, userID) {
		t.mu.Unlock()
		return
	}
	snapshot := t.snapshotLocked(conversationID)
	t.mu.Unlock()
	t.notify(conversationID, snapshot)
}

func (t *Tracker) removeLocked(conversationID, userID string) bool {
	set, ok := t.sets[conversationID]
	if !ok {
		return false
	}
	timer, ok := set[userID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(set, userID)
	if len(set) == 0 {
		delete(t.sets, conversationID)
	}
	return true
}

func (t *Tracker) snapshotLocked(conversationID string) []string {
	set := t.sets[conversationID]
	if len(set) == 0 {
		return nil
	}
	users := make([]string, 0, len(set))
	for id := range set {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

func (t *Tracker) notify(conversationID string, snapshot []string) {
	t.mu.Lock()
	handlers := make([]*changeHandler, len(t.handlers))
	copy(handlers, t.handlers)
	t.mu.Unlock()

	for _, h := range handlers {
		h.fn(conversationID, snapshot)
	}
}
