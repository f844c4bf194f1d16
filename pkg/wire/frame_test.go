package wire_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/evertasker/chatsync/pkg/wire"
)

func TestFrame_EncodeDecode(t *testing.T) {
	f, err := wire.NewFrame("chat:42", wire.EventMessageSend, wire.SendPayload{
		ID:      "m1",
		Content: "hello",
		Type:    wire.TypeText,
	})
	if err != nil {
		t.Fatalf("NewFrame() error = %v", err)
	}
	f.JoinRef = "j1"
	f.Ref = "r1"

	data, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded := &wire.Frame{}
	if err := decoded.Decode(data); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.Topic != "chat:42" || decoded.Event != wire.EventMessageSend {
		t.Errorf("decoded frame = %s/%s, want chat:42/%s", decoded.Topic, decoded.Event, wire.EventMessageSend)
	}
	if decoded.JoinRef != "j1" || decoded.Ref != "r1" {
		t.Errorf("decoded refs = %q/%q, want j1/r1", decoded.JoinRef, decoded.Ref)
	}

	p := &wire.SendPayload{}
	if err := decoded.DecodePayload(p); err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if p.ID != "m1" || p.Content != "hello" {
		t.Errorf("payload = %+v, want id m1 content hello", p)
	}
}

func TestFrame_DecodeRejectsIncompleteFrames(t *testing.T) {
	for _, data := range []string{
		`not json`,
		`{"event":"message:new"}`,
		`{"topic":"chat:1"}`,
	} {
		f := &wire.Frame{}
		if err := f.Decode([]byte(data)); err == nil {
			t.Errorf("Decode(%q) expected error", data)
		}
	}
}

func TestParseEventPayload_TypedDispatch(t *testing.T) {
	raw := json.RawMessage(`{"id":"m1","sender_id":"u1","chat_id":"c1","content":"hi","message_type":"text","status":"delivered","created_at":"2026-08-01T10:00:00Z"}`)

	payload, err := wire.ParseEventPayload(wire.EventMessageNew, raw)
	if err != nil {
		t.Fatalf("ParseEventPayload() error = %v", err)
	}
	msg, ok := payload.(*wire.Message)
	if !ok {
		t.Fatalf("expected *wire.Message, got %T", payload)
	}
	if msg.Status != wire.StatusDelivered {
		t.Errorf("status = %v, want delivered", msg.Status)
	}
	if msg.ConversationID() != "c1" {
		t.Errorf("ConversationID() = %q, want c1", msg.ConversationID())
	}

	payload, err = wire.ParseEventPayload(wire.EventTypingUpdate, json.RawMessage(`{"user_id":"u2","chat_id":"c1","typing":true}`))
	if err != nil {
		t.Fatalf("ParseEventPayload(typing) error = %v", err)
	}
	if p, ok := payload.(*wire.TypingPayload); !ok || !p.Typing || p.UserID != "u2" {
		t.Errorf("typing payload = %#v, want u2 typing", payload)
	}
}

func TestParseEventPayload_MalformedIsError(t *testing.T) {
	if _, err := wire.ParseEventPayload(wire.EventMessageNew, json.RawMessage(`"oops"`)); err == nil {
		t.Error("expected error for malformed message:new payload")
	}
	if _, err := wire.ParseEventPayload(wire.EventPresenceSync, nil); err == nil {
		t.Error("expected error for empty presence:sync payload")
	}
}

func TestParseEventPayload_UnknownEventPassesThrough(t *testing.T) {
	raw := json.RawMessage(`{"anything":1}`)
	payload, err := wire.ParseEventPayload("custom:event", raw)
	if err != nil {
		t.Fatalf("ParseEventPayload() error = %v", err)
	}
	if _, ok := payload.(json.RawMessage); !ok {
		t.Errorf("expected raw passthrough, got %T", payload)
	}
}

func TestStatus_Ordering(t *testing.T) {
	if !(wire.StatusSent < wire.StatusDelivered && wire.StatusDelivered < wire.StatusRead) {
		t.Error("status ordering must be sent < delivered < read")
	}
	if _, err := wire.ParseStatus("bogus"); err == nil {
		t.Error("expected error for unknown status")
	}
	st, err := wire.ParseStatus("read")
	if err != nil || st != wire.StatusRead {
		t.Errorf("ParseStatus(read) = %v, %v", st, err)
	}
}

func TestSplitTopic(t *testing.T) {
	kind, id := wire.SplitTopic(wire.ChatTopic("42"))
	if kind != "chat" || id != "42" {
		t.Errorf("SplitTopic(chat:42) = %q, %q", kind, id)
	}
	kind, id = wire.SplitTopic(wire.TopicControl)
	if kind != "phoenix" || id != "" {
		t.Errorf("SplitTopic(phoenix) = %q, %q", kind, id)
	}
}

func TestMessage_JSONFieldNames(t *testing.T) {
	msg := wire.Message{
		ID:        "m1",
		SenderID:  "u1",
		ChatID:    "c1",
		Content:   "hi",
		Type:      wire.TypeText,
		Status:    wire.StatusRead,
		CreatedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if fields["sender_id"] != "u1" || fields["message_type"] != "text" || fields["status"] != "read" {
		t.Errorf("unexpected wire field names: %v", fields)
	}
}
