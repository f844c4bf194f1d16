package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// SendPayload is pushed with message:send. The client supplies the message id
// so the server's message:new echo deduplicates against the optimistic local
// copy.
type SendPayload struct {
	ID        string      `json:"id"`
	Content   string      `json:"content"`
	Type      MessageType `json:"message_type"`
	MediaURL  string      `json:"media_url,omitempty"`
	ReplyToID string      `json:"reply_to_id,omitempty"`
}

// StatusPayload travels both ways as message:status.
type StatusPayload struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id,omitempty"`
	GroupID   string `json:"group_id,omitempty"`
	Status    Status `json:"status"`
}

// ConversationID returns the chat or group id the update belongs to.
func (p *StatusPayload) ConversationID() string {
	if p.ChatID != "" {
		return p.ChatID
	}
	return p.GroupID
}

// DeletedPayload is broadcast as message:deleted.
type DeletedPayload struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id,omitempty"`
	GroupID   string `json:"group_id,omitempty"`
}

// ConversationID returns the chat or group id the deletion belongs to.
func (p *DeletedPayload) ConversationID() string {
	if p.ChatID != "" {
		return p.ChatID
	}
	return p.GroupID
}

// HistoryPayload is the messages:history bulk load for one conversation.
type HistoryPayload struct {
	ChatID   string    `json:"chat_id,omitempty"`
	GroupID  string    `json:"group_id,omitempty"`
	Messages []Message `json:"messages"`
}

// ConversationID returns the chat or group id the history belongs to.
func (p *HistoryPayload) ConversationID() string {
	if p.ChatID != "" {
		return p.ChatID
	}
	return p.GroupID
}

// TypingPayload is broadcast as typing:update.
type TypingPayload struct {
	UserID  string `json:"user_id"`
	ChatID  string `json:"chat_id,omitempty"`
	GroupID string `json:"group_id,omitempty"`
	Typing  bool   `json:"typing"`
}

// ConversationID returns the chat or group id the signal belongs to.
func (p *TypingPayload) ConversationID() string {
	if p.ChatID != "" {
		return p.ChatID
	}
	return p.GroupID
}

// PresenceEntry describes one online user.
type PresenceEntry struct {
	UserID      string    `json:"user_id"`
	Status      string    `json:"status"`
	OnlineSince time.Time `json:"online_since"`
}

// PresenceSyncPayload is the full roster snapshot sent as presence:sync.
type PresenceSyncPayload struct {
	Users []PresenceEntry `json:"users"`
}

// PresenceLeavePayload is sent as presence:leave.
type PresenceLeavePayload struct {
	UserID string `json:"user_id"`
}

// ParseEventPayload parses an inbound payload once, at ingestion, into the
// closed struct type for its event name. Events outside the known set keep
// their raw JSON so generic subscribers can still observe them.
func ParseEventPayload(event string, raw json.RawMessage) (any, error) {
	switch event {
	case EventMessageNew:
		p := &Message{}
		return p, unmarshalPayload(event, raw, p)
	case EventMessageStatus:
		p := &StatusPayload{}
		return p, unmarshalPayload(event, raw, p)
	case EventMessageDeleted:
		p := &DeletedPayload{}
		return p, unmarshalPayload(event, raw, p)
	case EventMessageHistory:
		p := &HistoryPayload{}
		return p, unmarshalPayload(event, raw, p)
	case EventTypingUpdate:
		p := &TypingPayload{}
		return p, unmarshalPayload(event, raw, p)
	case EventPresenceSync:
		p := &PresenceSyncPayload{}
		return p, unmarshalPayload(event, raw, p)
	case EventPresenceJoin:
		p := &PresenceEntry{}
		return p, unmarshalPayload(event, raw, p)
	case EventPresenceLeave:
		p := &PresenceLeavePayload{}
		return p, unmarshalPayload(event, raw, p)
	default:
		return raw, nil
	}
}

func unmarshalPayload(event string, raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty %s payload", event)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("malformed %s payload: %w", event, err)
	}
	return nil
}
