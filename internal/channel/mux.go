// Package channel multiplexes logical topics over the single connection. It
// is the sole authority on which topics are joined, routes inbound frames to
// the event bus and exposes outbound pushes on joined topics.
package channel

import (
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/evertasker/chatsync/internal/bus"
	"github.com/evertasker/chatsync/pkg/wire"
)

// ErrNotJoined is returned by Push when the target topic is not currently
// joined. The push is dropped, never queued.
var ErrNotJoined = errors.New("topic not joined")

// Sender sends one frame over the active connection. Satisfied by the socket
// manager.
type Sender interface {
	Send(f *wire.Frame) error
}

// Mux owns the joined-topic registry and the desired-topic set. Joined
// entries exist only while a connection is up; desired entries record join
// intent across disconnects so the socket manager can re-issue joins after a
// reconnect.
type Mux struct {
	mu      sync.Mutex
	sender  Sender
	bus     *bus.Bus
	joined  map[string]string // topic -> join ref
	desired map[string]bool
	logger  *log.Logger
}

// New creates a Mux sending through s and publishing inbound events on b.
// A nil logger falls back to log.Default().
func New(s Sender, b *bus.Bus, logger *log.Logger) *Mux {
	if logger == nil {
		logger = log.Default()
	}
	return &Mux{
		sender:  s,
		bus:     b,
		joined:  make(map[string]string),
		desired: make(map[string]bool),
		logger:  logger,
	}
}

// Join subscribes to a topic. Idempotent: joining an already-joined topic
// changes nothing, so repeated joins never double-deliver events. With no
// active connection the desired set still records the intent and the join is
// retried after the next (re)connect.
func (m *Mux) Join(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.desired[topic] = true
	return m.joinLocked(topic)
}

func (m *Mux) joinLocked(topic string) error {
	if _, ok := m.joined[topic]; ok {
		return nil
	}

	ref := uuid.NewString()
	f, err := wire.NewFrame(topic, wire.EventJoin, nil)
	if err != nil {
		return err
	}
	f.JoinRef = ref
	f.Ref = ref

	if err := m.sender.Send(f); err != nil {
		m.logger.Printf("channel: deferring join of %s: %v", topic, err)
		return nil
	}
	m.joined[topic] = ref
	return nil
}

// Leave unsubscribes from a topic and drops it from the desired set.
// Idempotent. Routing stops before the leave request goes out, so a stray
// event arriving after logical departure is never delivered.
func (m *Mux) Leave(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.desired, topic)
	return m.leaveLocked(topic)
}

func (m *Mux) leaveLocked(topic string) error {
	ref, ok := m.joined[topic]
	if !ok {
		return nil
	}
	delete(m.joined, topic)

	f, err := wire.NewFrame(topic, wire.EventLeave, nil)
	if err != nil {
		return err
	}
	f.JoinRef = ref
	f.Ref = uuid.NewString()

	if err := m.sender.Send(f); err != nil {
		m.logger.Printf("channel: leave of %s not sent: %v", topic, err)
	}
	return nil
}

// Push sends an outbound event on an already-joined topic. A push to an
// unjoined topic or over a down connection is dropped with a warning; the
// caller must resend.
func (m *Mux) Push(topic, event string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref, ok := m.joined[topic]
	if !ok {
		m.logger.Printf("channel: dropping %s push: %s not joined", event, topic)
		return ErrNotJoined
	}

	f, err := wire.NewFrame(topic, event, payload)
	if err != nil {
		return err
	}
	f.JoinRef = ref
	f.Ref = uuid.NewString()

	if err := m.sender.Send(f); err != nil {
		m.logger.Printf("channel: dropping %s push on %s: %v", event, topic, err)
		return err
	}
	return nil
}

// HandleFrame routes one inbound frame. Control frames are consumed here;
// application events on joined topics are republished on the event bus under
// their event name, payload parsed once into its typed form. Frames for
// unjoined topics and malformed payloads are dropped and logged.
func (m *Mux) HandleFrame(f *wire.Frame) {
	switch f.Event {
	case wire.EventReply:
		m.handleReply(f)
		return
	case wire.EventError, wire.EventClose:
		// The server tore the channel down; drop it from joined but keep
		// the desire so the next rejoin restores it.
		m.mu.Lock()
		_, wasJoined := m.joined[f.Topic]
		delete(m.joined, f.Topic)
		m.mu.Unlock()
		if wasJoined {
			m.logger.Printf("channel: %s closed by server (%s)", f.Topic, f.Event)
		}
		return
	}

	m.mu.Lock()
	_, joined := m.joined[f.Topic]
	m.mu.Unlock()
	if !joined {
		m.logger.Printf("channel: dropping %s for unjoined topic %s", f.Event, f.Topic)
		return
	}

	payload, err := wire.ParseEventPayload(f.Event, f.Payload)
	if err != nil {
		m.logger.Printf("channel: dropping %s on %s: %v", f.Event, f.Topic, err)
		return
	}
	m.bus.Publish(f.Event, payload)
}

func (m *Mux) handleReply(f *wire.Frame) {
	reply := &wire.Reply{}
	if err := json.Unmarshal(f.Payload, reply); err != nil {
		m.logger.Printf("channel: dropping malformed reply on %s: %v", f.Topic, err)
		return
	}
	if reply.Status != wire.ReplyOK {
		m.logger.Printf("channel: %s request on %s rejected: %s", reply.Status, f.Topic, reply.Response)
		// A rejected join must not leave the topic marked joined.
		m.mu.Lock()
		if ref, ok := m.joined[f.Topic]; ok && ref == f.Ref {
			delete(m.joined, f.Topic)
		}
		m.mu.Unlock()
	}
}

// Rejoin re-issues joins for the union of the always-on topics and the
// desired set. Called by the socket manager after every successful connect.
func (m *Mux) Rejoin(alwaysOn ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, topic := range alwaysOn {
		m.desired[topic] = true
	}
	for topic := range m.desired {
		if err := m.joinLocked(topic); err != nil {
			m.logger.Printf("channel: rejoin of %s failed: %v", topic, err)
		}
	}
}

// Reset clears the joined registry after a transport loss. The desired set
// survives so application state is re-synchronized, not reset.
func (m *Mux) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joined = make(map[string]string)
}

// LeaveAll leaves every joined topic and clears the desired set. Called on
// explicit disconnect.
func (m *Mux) LeaveAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for topic := range m.joined {
		if err := m.leaveLocked(topic); err != nil {
			m.logger.Printf("channel: leave of %s failed: %v", topic, err)
		}
	}
	m.desired = make(map[string]bool)
}

// Joined reports whether the topic is currently joined.
func (m *Mux) Joined(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.joined[topic]
	return ok
}

// Desired returns a copy of the desired-topic set.
func (m *Mux) Desired() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	topics := make([]string, 0, len(m.desired))
	for topic := range m.desired {
		topics = append(topics, topic)
	}
	return topics
}
