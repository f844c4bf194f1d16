package typing

import (
	"log"
	"sync"
	"time"

	"github.com/evertasker/chatsync/pkg/wire"
)

// DefaultIdle is how long after the last keystroke the notifier pushes an
// automatic stop, covering inputs abandoned without clearing them.
const DefaultIdle = 3 * time.Second

// Pusher sends an outbound event on a joined topic. Satisfied by the channel
// multiplexer.
type Pusher interface {
	Push(topic, event string, payload any) error
}

// Notifier debounces the local user's composition events into at most one
// typing:start push per burst of keystrokes and exactly one typing:stop when
// the burst ends.
type Notifier struct {
	mu     sync.Mutex
	pusher Pusher
	idle   time.Duration
	active map[string]*time.Timer
	closed bool
	logger *log.Logger
}

// NewNotifier creates a Notifier pushing through p. A zero idle duration
// selects DefaultIdle; a nil logger falls back to log.Default().
func NewNotifier(p Pusher, idle time.Duration, logger *log.Logger) *Notifier {
	if idle <= 0 {
		idle = DefaultIdle
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Notifier{
		pusher: p,
		idle:   idle,
		active: make(map[string]*time.Timer),
		logger: logger,
	}
}

// Keystroke records local typing activity on a topic. The first keystroke of
// a burst pushes typing:start; every keystroke rearms the idle timer that
// eventually pushes the automatic stop.
func (n *Notifier) Keystroke(topic string) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}

	timer, bursting := n.active[topic]
	if bursting {
		timer.Stop()
	}
	n.active[topic] = time.AfterFunc(n.idle, func() {
		n.Stop(topic)
	})
	n.mu.Unlock()

	if !bursting {
		if err := n.pusher.Push(topic, wire.EventTypingStart, nil); err != nil {
			n.logger.Printf("typing: dropping start for %s: %v", topic, err)
		}
	}
}

// Stop ends the current burst on a topic, pushing typing:stop exactly once.
// Called when the input empties, a message is sent, or the idle timer fires.
// A no-op when no burst is active.
func (n *Notifier) Stop(topic string) {
	n.mu.Lock()
	timer, bursting := n.active[topic]
	if bursting {
		timer.Stop()
		delete(n.active, topic)
	}
	closed := n.closed
	n.mu.Unlock()

	if !bursting || closed {
		return
	}
	if err := n.pusher.Push(topic, wire.EventTypingStop, nil); err != nil {
		n.logger.Printf("typing: dropping stop for %s: %v", topic, err)
	}
}

// Close cancels all pending idle timers without pushing stops.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for _, timer := range n.active {
		timer.Stop()
	}
	n.active = make(map[string]*time.Timer)
}
