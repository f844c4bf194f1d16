// Package server is a reference implementation of the topic backend the
// client synchronizes against: per-topic membership, message echo, typing
// relay and lobby presence. It backs the integration tests and the demo
// server binary; it keeps no history and does no real authentication.
package server

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/evertasker/chatsync/pkg/wire"
)

// Server routes frames between the sessions joined to each topic.
type Server struct {
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	topics map[string]map[*session]bool
}

// New creates a Server. A nil logger falls back to log.Default().
func New(logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		topics: make(map[string]map[*session]bool),
	}
}

// Router returns the HTTP routes: the websocket endpoint and a health check.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/socket/websocket", s.handleSocket).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleSocket upgrades the connection and pumps frames for one session. The
// bearer token doubles as the user id: any non-empty token is accepted.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("server: upgrade failed: %v", err)
		return
	}

	sess := &session{
		userID: token,
		conn:   conn,
		send:   make(chan []byte, 32),
		topics: make(map[string]bool),
	}

	go sess.writePump(s.logger)
	s.readPump(sess)
}

func (s *Server) readPump(sess *session) {
	defer s.dropSession(sess)

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}

		f := &wire.Frame{}
		if err := f.Decode(data); err != nil {
			s.logger.Printf("server: dropping frame from %s: %v", sess.userID, err)
			continue
		}
		s.dispatch(sess, f)
	}
}

func (s *Server) dispatch(sess *session, f *wire.Frame) {
	switch f.Event {
	case wire.EventHeartbeat:
		sess.reply(f, wire.ReplyOK, nil)
	case wire.EventJoin:
		s.join(sess, f)
	case wire.EventLeave:
		s.leave(sess, f)
	case wire.EventMessageSend:
		s.relayMessage(sess, f)
	case wire.EventMessageStatus:
		s.relayStatus(sess, f)
	case wire.EventTypingStart, wire.EventTypingStop:
		s.relayTyping(sess, f)
	default:
		s.logger.Printf("server: unhandled event %s from %s", f.Event, sess.userID)
	}
}

func (s *Server) join(sess *session, f *wire.Frame) {
	s.mu.Lock()
	members := s.topics[f.Topic]
	if members == nil {
		members = make(map[*session]bool)
		s.topics[f.Topic] = members
	}
	members[sess] = true
	sess.topics[f.Topic] = true
	s.mu.Unlock()

	sess.reply(f, wire.ReplyOK, nil)

	if f.Topic == wire.TopicPresence {
		s.syncPresence(sess)
		s.broadcast(wire.TopicPresence, wire.EventPresenceJoin, wire.PresenceEntry{
			UserID:      sess.userID,
			Status:      "online",
			OnlineSince: time.Now().UTC(),
		}, sess)
	}
}

func (s *Server) leave(sess *session, f *wire.Frame) {
	s.mu.Lock()
	s.removeLocked(sess, f.Topic)
	s.mu.Unlock()

	sess.reply(f, wire.ReplyOK, nil)

	if f.Topic == wire.TopicPresence {
		s.broadcast(wire.TopicPresence, wire.EventPresenceLeave, wire.PresenceLeavePayload{
			UserID: sess.userID,
		}, sess)
	}
}

// syncPresence sends the full roster snapshot to a newly joined member.
func (s *Server) syncPresence(sess *session) {
	s.mu.Lock()
	users := make([]wire.PresenceEntry, 0, len(s.topics[wire.TopicPresence]))
	for member := range s.topics[wire.TopicPresence] {
		users = append(users, wire.PresenceEntry{
			UserID:      member.userID,
			Status:      "online",
			OnlineSince: time.Now().UTC(),
		})
	}
	s.mu.Unlock()

	f, err := wire.NewFrame(wire.TopicPresence, wire.EventPresenceSync, wire.PresenceSyncPayload{Users: users})
	if err != nil {
		return
	}
	sess.sendFrame(s.logger, f)
}

func (s *Server) relayMessage(sess *session, f *wire.Frame) {
	if !s.member(sess, f.Topic) {
		sess.reply(f, wire.ReplyError, nil)
		return
	}

	p := &wire.SendPayload{}
	if err := f.DecodePayload(p); err != nil {
		s.logger.Printf("server: dropping message:send from %s: %v", sess.userID, err)
		sess.reply(f, wire.ReplyError, nil)
		return
	}

	msg := wire.Message{
		ID:        p.ID,
		SenderID:  sess.userID,
		Content:   p.Content,
		Type:      p.Type,
		Status:    wire.StatusSent,
		MediaURL:  p.MediaURL,
		ReplyToID: p.ReplyToID,
		CreatedAt: time.Now().UTC(),
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == "" {
		msg.Type = wire.TypeText
	}
	kind, id := wire.SplitTopic(f.Topic)
	switch kind {
	case "group":
		msg.GroupID = id
	default:
		msg.ChatID = id
	}

	sess.reply(f, wire.ReplyOK, nil)
	// Echo to every member including the sender; the sender's client
	// deduplicates against its optimistic copy by id.
	s.broadcast(f.Topic, wire.EventMessageNew, msg, nil)
}

func (s *Server) relayStatus(sess *session, f *wire.Frame) {
	if !s.member(sess, f.Topic) {
		sess.reply(f, wire.ReplyError, nil)
		return
	}

	p := &wire.StatusPayload{}
	if err := f.DecodePayload(p); err != nil {
		s.logger.Printf("server: dropping message:status from %s: %v", sess.userID, err)
		sess.reply(f, wire.ReplyError, nil)
		return
	}
	if p.ChatID == "" && p.GroupID == "" {
		kind, id := wire.SplitTopic(f.Topic)
		if kind == "group" {
			p.GroupID = id
		} else {
			p.ChatID = id
		}
	}

	sess.reply(f, wire.ReplyOK, nil)
	s.broadcast(f.Topic, wire.EventMessageStatus, p, nil)
}

func (s *Server) relayTyping(sess *session, f *wire.Frame) {
	if !s.member(sess, f.Topic) {
		return
	}

	p := wire.TypingPayload{
		UserID: sess.userID,
		Typing: f.Event == wire.EventTypingStart,
	}
	kind, id := wire.SplitTopic(f.Topic)
	if kind == "group" {
		p.GroupID = id
	} else {
		p.ChatID = id
	}

	s.broadcast(f.Topic, wire.EventTypingUpdate, p, sess)
}

// member reports whether the session has joined the topic.
func (s *Server) member(sess *session, topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topics[topic][sess]
}

// broadcast fans an event out to every member of a topic, optionally
// excluding one session. A member with a full send buffer is skipped.
func (s *Server) broadcast(topic, event string, payload any, except *session) {
	f, err := wire.NewFrame(topic, event, payload)
	if err != nil {
		s.logger.Printf("server: cannot broadcast %s: %v", event, err)
		return
	}
	data, err := f.Encode()
	if err != nil {
		return
	}

	s.mu.Lock()
	members := make([]*session, 0, len(s.topics[topic]))
	for member := range s.topics[topic] {
		if member != except {
			members = append(members, member)
		}
	}
	s.mu.Unlock()

	for _, member := range members {
		select {
		case member.send <- data:
		default:
			s.logger.Printf("server: %s send buffer full, dropping %s", member.userID, event)
		}
	}
}

// dropSession removes a closed session from every topic and announces its
// departure from the lobby.
func (s *Server) dropSession(sess *session) {
	s.mu.Lock()
	inPresence := sess.topics[wire.TopicPresence]
	for topic := range sess.topics {
		s.removeLocked(sess, topic)
	}
	s.mu.Unlock()

	if inPresence {
		s.broadcast(wire.TopicPresence, wire.EventPresenceLeave, wire.PresenceLeavePayload{
			UserID: sess.userID,
		}, sess)
	}
	sess.close()
}

func (s *Server) removeLocked(sess *session, topic string) {
	delete(sess.topics, topic)
	members := s.topics[topic]
	delete(members, sess)
	if len(members) == 0 {
		delete(s.topics, topic)
	}
}
