// Package chatsync is the realtime synchronization core of a chat client. It
// maintains one websocket connection to the backend, multiplexes conversation
// topics over it and keeps per-conversation state (messages, delivery status,
// typing indicators, presence) consistent with the event stream while
// reflecting the local user's own actions optimistically.
package chatsync

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/evertasker/chatsync/internal/bus"
	"github.com/evertasker/chatsync/internal/channel"
	"github.com/evertasker/chatsync/internal/presence"
	"github.com/evertasker/chatsync/internal/socket"
	"github.com/evertasker/chatsync/internal/store"
	"github.com/evertasker/chatsync/internal/typing"
	"github.com/evertasker/chatsync/pkg/wire"
)

// ConnectionState mirrors the socket state machine for consumers.
type ConnectionState int

const (
	Disconnected    = ConnectionState(socket.StateDisconnected)
	Connecting      = ConnectionState(socket.StateConnecting)
	Connected       = ConnectionState(socket.StateConnected)
	ConnectionError = ConnectionState(socket.StateError)
)

// String returns the state name.
func (s ConnectionState) String() string { return socket.State(s).String() }

// Config configures a Client. Only URL is required.
type Config struct {
	// URL of the websocket endpoint, e.g. ws://host:4000/socket/websocket.
	URL string

	// TypingTimeout is how long a remote typing indicator survives without a
	// refresh. Zero selects the 3-second default.
	TypingTimeout time.Duration

	// TypingIdle is how long after the local user's last keystroke an
	// automatic typing stop is pushed. Zero selects the default.
	TypingIdle time.Duration

	// Backoff overrides the reconnect schedule.
	Backoff []time.Duration

	// Heartbeat overrides the heartbeat interval; negative disables.
	Heartbeat time.Duration

	Logger *log.Logger
}

// Client wires the connection manager, channel multiplexer, event bus and
// state trackers into one synchronization core. Construct with New, tear down
// with Close; independent instances are fully isolated.
type Client struct {
	logger   *log.Logger
	bus      *bus.Bus
	sock     *socket.Manager
	mux      *channel.Mux
	presence *presence.Tracker
	typing   *typing.Tracker
	notifier *typing.Notifier
	store    *store.Store
	unsubs   []func()
	closed   bool
}

// New creates a Client. The client holds no connection until Connect.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	c := &Client{logger: logger}
	c.bus = bus.New(logger)
	c.sock = socket.NewManager(socket.Config{
		URL:       cfg.URL,
		Backoff:   cfg.Backoff,
		Heartbeat: cfg.Heartbeat,
		Logger:    logger,
	})
	c.mux = channel.New(c.sock, c.bus, logger)
	c.sock.Bind(c.mux, c.rejoin, c.mux.Reset)

	c.presence = presence.New(logger)
	c.typing = typing.NewTracker(cfg.TypingTimeout, logger)
	c.notifier = typing.NewNotifier(c.mux, cfg.TypingIdle, logger)
	c.store = store.New(logger)

	c.subscribeStores()
	return c
}

// rejoin runs after every successful (re)connect: the always-on topics plus
// everything still desired from before the disconnect.
func (c *Client) rejoin() {
	c.mux.Rejoin(wire.UserTopic(c.sock.SelfID()), wire.TopicPresence)
}

func (c *Client) subscribeStores() {
	c.unsubs = append(c.unsubs,
		c.bus.Subscribe(wire.EventMessageNew, func(payload any) {
			m, ok := payload.(*wire.Message)
			if !ok || m.ConversationID() == "" {
				return
			}
			c.store.MergeRemote(m.ConversationID(), *m)
		}),
		c.bus.Subscribe(wire.EventMessageHistory, func(payload any) {
			p, ok := payload.(*wire.HistoryPayload)
			if !ok || p.ConversationID() == "" {
				return
			}
			c.store.SetHistory(p.ConversationID(), p.Messages)
		}),
		c.bus.Subscribe(wire.EventMessageStatus, func(payload any) {
			p, ok := payload.(*wire.StatusPayload)
			if !ok || p.ConversationID() == "" {
				return
			}
			c.store.UpdateStatus(p.ConversationID(), p.MessageID, p.Status)
		}),
		c.bus.Subscribe(wire.EventMessageDeleted, func(payload any) {
			p, ok := payload.(*wire.DeletedPayload)
			if !ok || p.ConversationID() == "" {
				return
			}
			c.store.Remove(p.ConversationID(), p.MessageID)
		}),
		c.bus.Subscribe(wire.EventTypingUpdate, func(payload any) {
			p, ok := payload.(*wire.TypingPayload)
			if !ok || p.ConversationID() == "" {
				return
			}
			c.typing.HandleSignal(p.ConversationID(), p.UserID, p.Typing)
		}),
		c.bus.Subscribe(wire.EventPresenceSync, func(payload any) {
			p, ok := payload.(*wire.PresenceSyncPayload)
			if !ok {
				return
			}
			c.presence.HandleSync(p.Users)
		}),
		c.bus.Subscribe(wire.EventPresenceJoin, func(payload any) {
			p, ok := payload.(*wire.PresenceEntry)
			if !ok {
				return
			}
			c.presence.HandleJoin(*p)
		}),
		c.bus.Subscribe(wire.EventPresenceLeave, func(payload any) {
			p, ok := payload.(*wire.PresenceLeavePayload)
			if !ok {
				return
			}
			c.presence.HandleLeave(p.UserID)
		}),
	)
}

// Connect opens the connection with the given bearer token and local user id.
// A no-op when already connected or connecting.
func (c *Client) Connect(token, selfID string) error {
	return c.sock.Connect(token, selfID)
}

// Disconnect leaves every joined topic and closes the connection. Idempotent.
func (c *Client) Disconnect() {
	c.mux.LeaveAll()
	c.sock.Disconnect()
}

// Close tears the client down: disconnects and stops every timer. Idempotent.
func (c *Client) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.Disconnect()
	c.notifier.Close()
	c.typing.Close()
	for _, unsub := range c.unsubs {
		unsub()
	}
}

// ConnectionState returns the current connection state.
func (c *Client) ConnectionState() ConnectionState {
	return ConnectionState(c.sock.State())
}

// OnConnectionChange registers a handler invoked once immediately with the
// current state and again on every transition. Returns an idempotent
// unsubscribe function.
func (c *Client) OnConnectionChange(handler func(ConnectionState)) func() {
	return c.sock.OnStateChange(func(s socket.State) {
		handler(ConnectionState(s))
	})
}

// OnEvent subscribes directly to the event bus under an event name. Payloads
// are the typed structs of the wire package.
func (c *Client) OnEvent(event string, handler func(payload any)) func() {
	return c.bus.Subscribe(event, handler)
}

// JoinChat subscribes to a 1:1 conversation topic. Idempotent.
func (c *Client) JoinChat(chatID string) error { return c.mux.Join(wire.ChatTopic(chatID)) }

// JoinGroup subscribes to a group conversation topic. Idempotent.
func (c *Client) JoinGroup(groupID string) error { return c.mux.Join(wire.GroupTopic(groupID)) }

// LeaveChat unsubscribes from a 1:1 conversation topic and clears its typing
// set. The message log is kept for a later revisit.
func (c *Client) LeaveChat(chatID string) error {
	c.typing.Clear(chatID)
	return c.mux.Leave(wire.ChatTopic(chatID))
}

// LeaveGroup unsubscribes from a group conversation topic and clears its
// typing set.
func (c *Client) LeaveGroup(groupID string) error {
	c.typing.Clear(groupID)
	return c.mux.Leave(wire.GroupTopic(groupID))
}

// MessageOptions carries the optional fields of an outbound message.
type MessageOptions struct {
	Type      wire.MessageType
	MediaURL  string
	ReplyToID string
}

// SendChatMessage optimistically appends a message to the chat's log and
// pushes it to the backend. The returned copy carries the stable id the
// server echo will deduplicate against. The local copy stays at status sent
// until a confirmation advances it.
func (c *Client) SendChatMessage(chatID, content string, opts ...MessageOptions) wire.Message {
	return c.send(wire.ChatTopic(chatID), chatID, false, content, opts)
}

// SendGroupMessage is SendChatMessage for a group conversation.
func (c *Client) SendGroupMessage(groupID, content string, opts ...MessageOptions) wire.Message {
	return c.send(wire.GroupTopic(groupID), groupID, true, content, opts)
}

func (c *Client) send(topic, conversationID string, group bool, content string, opts []MessageOptions) wire.Message {
	var opt MessageOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	if opt.Type == "" {
		opt.Type = wire.TypeText
	}

	msg := wire.Message{
		ID:        uuid.NewString(),
		SenderID:  c.sock.SelfID(),
		Content:   content,
		Type:      opt.Type,
		Status:    wire.StatusSent,
		MediaURL:  opt.MediaURL,
		ReplyToID: opt.ReplyToID,
		CreatedAt: time.Now().UTC(),
	}
	if group {
		msg.GroupID = conversationID
	} else {
		msg.ChatID = conversationID
	}

	c.store.AppendLocal(conversationID, msg)

	// Sending a message ends the local typing burst.
	c.notifier.Stop(topic)

	payload := wire.SendPayload{
		ID:        msg.ID,
		Content:   msg.Content,
		Type:      msg.Type,
		MediaURL:  msg.MediaURL,
		ReplyToID: msg.ReplyToID,
	}
	if err := c.mux.Push(topic, wire.EventMessageSend, payload); err != nil {
		c.logger.Printf("chatsync: message %s not sent: %v", msg.ID, err)
	}
	return msg
}

// UpdateChatMessageStatus advances a message's delivery status locally and
// pushes the update. Regressions are ignored.
func (c *Client) UpdateChatMessageStatus(chatID, messageID string, status wire.Status) {
	c.updateStatus(wire.ChatTopic(chatID), chatID, false, messageID, status)
}

// UpdateGroupMessageStatus is UpdateChatMessageStatus for a group.
func (c *Client) UpdateGroupMessageStatus(groupID, messageID string, status wire.Status) {
	c.updateStatus(wire.GroupTopic(groupID), groupID, true, messageID, status)
}

func (c *Client) updateStatus(topic, conversationID string, group bool, messageID string, status wire.Status) {
	c.store.UpdateStatus(conversationID, messageID, status)

	payload := wire.StatusPayload{MessageID: messageID, Status: status}
	if group {
		payload.GroupID = conversationID
	} else {
		payload.ChatID = conversationID
	}
	if err := c.mux.Push(topic, wire.EventMessageStatus, payload); err != nil {
		c.logger.Printf("chatsync: status update for %s not sent: %v", messageID, err)
	}
}

// ChatKeystroke records local typing activity in a chat; at most one
// typing:start is pushed per burst.
func (c *Client) ChatKeystroke(chatID string) { c.notifier.Keystroke(wire.ChatTopic(chatID)) }

// GroupKeystroke is ChatKeystroke for a group.
func (c *Client) GroupKeystroke(groupID string) { c.notifier.Keystroke(wire.GroupTopic(groupID)) }

// StopChatTyping ends the local typing burst in a chat, e.g. when the input
// empties.
func (c *Client) StopChatTyping(chatID string) { c.notifier.Stop(wire.ChatTopic(chatID)) }

// StopGroupTyping is StopChatTyping for a group.
func (c *Client) StopGroupTyping(groupID string) { c.notifier.Stop(wire.GroupTopic(groupID)) }

// Messages returns a snapshot of a conversation's log, newest first.
func (c *Client) Messages(conversationID string) []wire.Message {
	return c.store.Messages(conversationID)
}

// ClearMessages drops a conversation's log, e.g. before a history reload.
func (c *Client) ClearMessages(conversationID string) { c.store.Clear(conversationID) }

// SetHistory bulk-loads a conversation's log from a request/response history
// fetch before realtime events take over.
func (c *Client) SetHistory(conversationID string, messages []wire.Message) {
	c.store.SetHistory(conversationID, messages)
}

// OnMessages registers a handler invoked with a log snapshot after every
// message mutation.
func (c *Client) OnMessages(handler func(conversationID string, messages []wire.Message)) func() {
	return c.store.OnChange(handler)
}

// IsOnline reports whether a user is in the current presence roster.
func (c *Client) IsOnline(userID string) bool { return c.presence.IsOnline(userID) }

// OnlineUsers returns the current roster sorted by user id.
func (c *Client) OnlineUsers() []wire.PresenceEntry { return c.presence.Roster() }

// OnPresence registers a handler invoked with the full roster on every
// presence mutation.
func (c *Client) OnPresence(handler func(roster []wire.PresenceEntry)) func() {
	return c.presence.OnChange(handler)
}

// TypingUsers returns the users currently composing in a conversation.
func (c *Client) TypingUsers(conversationID string) []string {
	return c.typing.Typing(conversationID)
}

// OnTyping registers a handler invoked after every typing-set mutation.
func (c *Client) OnTyping(handler func(conversationID string, userIDs []string)) func() {
	return c.typing.OnChange(handler)
}
