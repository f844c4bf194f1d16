// Package socket owns the lifecycle of the single transport connection:
// connect, authenticate, heartbeat, disconnect and reconnect with backoff.
package socket

import (
	"context"
	"errors"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evertasker/chatsync/internal/transport"
	"github.com/evertasker/chatsync/pkg/wire"
)

// ErrNotConnected is returned by Send when no connection is established.
var ErrNotConnected = errors.New("not connected")

// DefaultBackoff is the reconnect schedule after an unexpected close. Retries
// continue at the final interval forever; the client never gives up on its
// own.
var DefaultBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// DefaultHeartbeat is the interval between heartbeat frames. A heartbeat left
// unacknowledged by the next tick tears the transport down and triggers the
// reconnect path.
const DefaultHeartbeat = 30 * time.Second

// FrameHandler consumes demultiplexed inbound frames. Satisfied by the
// channel multiplexer.
type FrameHandler interface {
	HandleFrame(f *wire.Frame)
}

// Config configures a Manager.
type Config struct {
	// URL of the websocket endpoint, e.g. ws://host:4000/socket/websocket.
	URL string

	// Dialer establishing connections. Defaults to the gobwas websocket
	// dialer.
	Dialer transport.Dialer

	// Backoff is the reconnect schedule. Defaults to DefaultBackoff.
	Backoff []time.Duration

	// Heartbeat is the heartbeat interval. Zero selects DefaultHeartbeat;
	// a negative value disables heartbeats.
	Heartbeat time.Duration

	Logger *log.Logger
}

type stateHandler struct {
	fn     func(State)
	active bool
}

// Manager owns the transport connection and its state machine:
// disconnected -> connecting -> connected, with connected falling to error on
// transport loss and error/disconnected returning to connecting on manual or
// scheduled retry. There is no terminal state.
type Manager struct {
	cfg    Config
	logger *log.Logger

	frames FrameHandler
	onUp   func()
	onDown func()

	mu         sync.Mutex
	state      State
	conn       transport.Conn
	done       chan struct{}
	gen        int
	handlers   []*stateHandler
	token      string
	selfID     string
	userClosed bool
	retry      *time.Timer
	attempt    int
	pendingHB  bool
}

// NewManager creates a Manager in the disconnected state.
func NewManager(cfg Config) *Manager {
	if cfg.Dialer == nil {
		cfg.Dialer = transport.WebSocketDialer{}
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger,
		state:  StateDisconnected,
	}
}

// Bind wires the manager to its collaborators: frames receives every inbound
// non-control frame, onUp runs after each successful (re)connect and onDown
// after each transport loss. Must be called before Connect.
func (m *Manager) Bind(frames FrameHandler, onUp, onDown func()) {
	m.frames = frames
	m.onUp = onUp
	m.onDown = onDown
}

// Connect opens the transport with the given bearer token. A no-op when
// already connected or connecting.
func (m *Manager) Connect(token, selfID string) error {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	// A manual connect supersedes any scheduled retry.
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.token = token
	m.selfID = selfID
	m.userClosed = false
	notify := m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	notify()

	return m.dial()
}

// SelfID returns the local user's entity id supplied at Connect time.
func (m *Manager) SelfID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selfID
}

// Disconnect closes the transport and cancels any pending reconnect.
// Idempotent; always lands in the disconnected state. Never blocks on the
// read loop, so it is safe to call from state-change handlers and event
// subscribers, which run on that goroutine; the loops observe the closed
// connection and wind down on their own, fenced by the generation counter.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.userClosed = true
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.attempt = 0
	conn := m.conn
	m.conn = nil
	m.gen++
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	notify := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	notify()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnStateChange registers a handler invoked once immediately with the current
// state and again on every transition. The returned unsubscribe function is
// idempotent.
func (m *Manager) OnStateChange(handler func(State)) func() {
	m.mu.Lock()
	h := &stateHandler{fn: handler, active: true}
	m.handlers = append(m.handlers, h)
	current := m.state
	m.mu.Unlock()

	handler(current)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !h.active {
			return
		}
		h.active = false
		for i, other := range m.handlers {
			if other == h {
				m.handlers = append(m.handlers[:i:i], m.handlers[i+1:]...)
				break
			}
		}
	}
}

// Send writes one frame to the active connection.
func (m *Manager) Send(f *wire.Frame) error {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()

	if conn == nil || state != StateConnected {
		return ErrNotConnected
	}
	data, err := f.Encode()
	if err != nil {
		return err
	}
	return conn.Write(context.Background(), data)
}

func (m *Manager) dial() error {
	conn, err := m.cfg.Dialer.Dial(context.Background(), m.buildURL())

	m.mu.Lock()
	if m.userClosed {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return nil
	}
	if err != nil {
		m.logger.Printf("socket: connect failed: %v", err)
		notify := m.setStateLocked(StateError)
		m.scheduleRetryLocked()
		m.mu.Unlock()
		notify()
		return err
	}

	m.conn = conn
	m.gen++
	gen := m.gen
	m.done = make(chan struct{})
	done := m.done
	m.attempt = 0
	m.pendingHB = false
	notify := m.setStateLocked(StateConnected)
	m.mu.Unlock()
	notify()

	m.logger.Printf("socket: connected to %s", conn.RemoteAddr())

	go m.readLoop(conn, gen)
	if m.cfg.Heartbeat > 0 {
		go m.heartbeatLoop(conn, done)
	}

	if m.onUp != nil {
		m.onUp()
	}
	return nil
}

func (m *Manager) buildURL() string {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return m.cfg.URL
	}
	q := u.Query()
	q.Set("token", m.token)
	q.Set("vsn", "2.0.0")
	u.RawQuery = q.Encode()
	return u.String()
}

func (m *Manager) readLoop(conn transport.Conn, gen int) {
	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			m.connLost(gen, err)
			return
		}

		f := &wire.Frame{}
		if err := f.Decode(data); err != nil {
			m.logger.Printf("socket: dropping frame: %v", err)
			continue
		}

		if f.Topic == wire.TopicControl {
			m.mu.Lock()
			m.pendingHB = false
			m.mu.Unlock()
			continue
		}

		if m.frames != nil {
			m.frames.HandleFrame(f)
		}
	}
}

func (m *Manager) heartbeatLoop(conn transport.Conn, done chan struct{}) {
	ticker := time.NewTicker(m.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.mu.Lock()
			missed := m.pendingHB
			m.pendingHB = true
			m.mu.Unlock()

			if missed {
				m.logger.Printf("socket: heartbeat unacknowledged, closing transport")
				conn.Close()
				return
			}

			f, err := wire.NewFrame(wire.TopicControl, wire.EventHeartbeat, nil)
			if err != nil {
				continue
			}
			f.Ref = uuid.NewString()
			data, err := f.Encode()
			if err != nil {
				continue
			}
			if err := conn.Write(context.Background(), data); err != nil {
				m.logger.Printf("socket: heartbeat write failed: %v", err)
			}
		}
	}
}

// connLost handles an unexpected transport closure. A closure caused by
// Disconnect or superseded by a newer connection is ignored.
func (m *Manager) connLost(gen int, err error) {
	m.mu.Lock()
	if m.gen != gen || m.userClosed {
		m.mu.Unlock()
		return
	}
	m.logger.Printf("socket: connection lost: %v", err)
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	notify := m.setStateLocked(StateError)
	m.scheduleRetryLocked()
	m.mu.Unlock()

	if m.onDown != nil {
		m.onDown()
	}
	notify()
}

// scheduleRetryLocked arms the next reconnect attempt. The schedule advances
// monotonically and stays at its final interval; it resets only after a
// successful reconnect.
func (m *Manager) scheduleRetryLocked() {
	idx := m.attempt
	if idx >= len(m.cfg.Backoff) {
		idx = len(m.cfg.Backoff) - 1
	}
	delay := m.cfg.Backoff[idx]
	m.attempt++
	if m.retry != nil {
		m.retry.Stop()
	}
	m.retry = time.AfterFunc(delay, m.retryConnect)
}

func (m *Manager) retryConnect() {
	m.mu.Lock()
	if m.userClosed || m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return
	}
	notify := m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	notify()

	m.dial()
}

// setStateLocked records a transition and returns the notification to run
// after the lock is released. Handlers never run under the manager lock.
func (m *Manager) setStateLocked(state State) func() {
	if m.state == state {
		return func() {}
	}
	m.state = state
	handlers := make([]*stateHandler, len(m.handlers))
	copy(handlers, m.handlers)
	return func() {
		for _, h := range handlers {
			m.mu.Lock()
			active := h.active
			m.mu.Unlock()
			if active {
				h.fn(state)
			}
		}
	}
}
