// Package wire defines the JSON frame format and event payloads spoken over
// the websocket connection. Every frame is a single JSON object carrying a
// topic, an event name and an event-specific payload.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Control events. Frames with these event names manage the channel lifecycle
// and never reach application subscribers.
const (
	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventReply     = "phx_reply"
	EventError     = "phx_error"
	EventClose     = "phx_close"
	EventHeartbeat = "heartbeat"
)

// Application events.
const (
	EventMessageNew     = "message:new"
	EventMessageDeleted = "message:deleted"
	EventMessageStatus  = "message:status"
	EventMessageHistory = "messages:history"
	EventMessageSend    = "message:send"
	EventTypingUpdate   = "typing:update"
	EventTypingStart    = "typing:start"
	EventTypingStop     = "typing:stop"
	EventPresenceSync   = "presence:sync"
	EventPresenceJoin   = "presence:join"
	EventPresenceLeave  = "presence:leave"
)

// TopicControl is the reserved topic for heartbeats and their replies.
const TopicControl = "phoenix"

// TopicPresence is the shared lobby topic every connected client joins.
const TopicPresence = "presence:lobby"

// UserTopic names the per-user topic carrying events addressed to one user.
func UserTopic(userID string) string { return "user:" + userID }

// ChatTopic names the topic for a 1:1 conversation.
func ChatTopic(chatID string) string { return "chat:" + chatID }

// GroupTopic names the topic for a group conversation.
func GroupTopic(groupID string) string { return "group:" + groupID }

// SplitTopic splits a topic string into its kind ("user", "chat", "group",
// "presence") and identifier. The identifier is empty when the topic has no
// id part.
func SplitTopic(topic string) (kind, id string) {
	kind, id, _ = strings.Cut(topic, ":")
	return kind, id
}

// Frame is one websocket text frame.
//
// JoinRef identifies the channel join the frame belongs to; Ref correlates a
// push with its phx_reply. Both are optional on broadcast frames.
type Frame struct {
	JoinRef string          `json:"join_ref,omitempty"`
	Ref     string          `json:"ref,omitempty"`
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame builds a frame with the payload marshalled to JSON.
func NewFrame(topic, event string, payload any) (*Frame, error) {
	f := &Frame{Topic: topic, Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
		}
		f.Payload = data
	}
	return f, nil
}

// Encode encodes the frame into JSON bytes.
func (f *Frame) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return data, nil
}

// Decode decodes JSON bytes into the frame.
func (f *Frame) Decode(data []byte) error {
	if err := json.Unmarshal(data, f); err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}
	if f.Topic == "" || f.Event == "" {
		return fmt.Errorf("frame missing topic or event")
	}
	return nil
}

// DecodePayload unmarshals the frame's payload into dst.
func (f *Frame) DecodePayload(dst any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("empty %s payload", f.Event)
	}
	if err := json.Unmarshal(f.Payload, dst); err != nil {
		return fmt.Errorf("malformed %s payload: %w", f.Event, err)
	}
	return nil
}

// ReplyStatus values carried in a phx_reply payload.
const (
	ReplyOK    = "ok"
	ReplyError = "error"
)

// Reply is the payload of a phx_reply frame.
type Reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}
