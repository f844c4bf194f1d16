package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the delivery status of a message. Statuses only move forward
// through sent < delivered < read; a regressing update must be ignored by
// consumers.
type Status int

const (
	StatusSent Status = iota
	StatusDelivered
	StatusRead
)

// String returns the wire representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return "unknown"
	}
}

// ParseStatus parses a wire status string.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "sent":
		return StatusSent, nil
	case "delivered":
		return StatusDelivered, nil
	case "read":
		return StatusRead, nil
	default:
		return StatusSent, fmt.Errorf("unknown message status %q", s)
	}
}

// MarshalJSON encodes the status as its wire string.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a wire status string.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MessageType describes the content kind of a message.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeVoice    MessageType = "voice"
	TypeDocument MessageType = "document"
	TypeLocation MessageType = "location"
)

// Message is a chat message. Exactly one of ChatID and GroupID is set and
// names the conversation the message belongs to. Identity is the ID field;
// merges deduplicate on it.
type Message struct {
	ID        string      `json:"id"`
	SenderID  string      `json:"sender_id"`
	ChatID    string      `json:"chat_id,omitempty"`
	GroupID   string      `json:"group_id,omitempty"`
	Content   string      `json:"content"`
	Type      MessageType `json:"message_type"`
	Status    Status      `json:"status"`
	MediaURL  string      `json:"media_url,omitempty"`
	ReplyToID string      `json:"reply_to_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// ConversationID returns the chat or group id the message belongs to.
func (m *Message) ConversationID() string {
	if m.ChatID != "" {
		return m.ChatID
	}
	return m.GroupID
}
