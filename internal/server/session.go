package server

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/evertasker/chatsync/pkg/wire"
)

// session is one connected client: its identity, its joined topics and the
// outgoing send buffer drained by writePump.
type session struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte

	// topics is guarded by the server mutex.
	topics map[string]bool

	closeOnce sync.Once
}

// writePump serializes all writes to the websocket connection.
func (s *session) writePump(logger *log.Logger) {
	for data := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Printf("server: write to %s failed: %v", s.userID, err)
			break
		}
	}
	s.conn.Close()
}

// reply answers a pushed frame with a phx_reply carrying the same refs.
func (s *session) reply(f *wire.Frame, status string, response any) {
	payload := wire.Reply{Status: status}
	if response != nil {
		if data, err := json.Marshal(response); err == nil {
			payload.Response = data
		}
	}
	reply, err := wire.NewFrame(f.Topic, wire.EventReply, payload)
	if err != nil {
		return
	}
	reply.JoinRef = f.JoinRef
	reply.Ref = f.Ref

	data, err := reply.Encode()
	if err != nil {
		return
	}
	select {
	case s.send <- data:
	default:
	}
}

// sendFrame queues one frame for the session, dropping it when the buffer is
// full.
func (s *session) sendFrame(logger *log.Logger, f *wire.Frame) {
	data, err := f.Encode()
	if err != nil {
		return
	}
	select {
	case s.send <- data:
	default:
		logger.Printf("server: %s send buffer full, dropping %s", s.userID, f.Event)
	}
}

// close shuts the send channel exactly once; writePump then closes the
// connection.
func (s *session) close() {
	s.closeOnce.Do(func() { close(s.send) })
}
