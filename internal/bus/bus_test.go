package bus_test

import (
	"io"
	"log"
	"testing"

	"github.com/evertasker/chatsync/internal/bus"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestBus_SubscribersInvokedInOrder(t *testing.T) {
	b := bus.New(quietLogger())

	var got []int
	b.Subscribe("ev", func(any) { got = append(got, 1) })
	b.Subscribe("ev", func(any) { got = append(got, 2) })
	b.Subscribe("ev", func(any) { got = append(got, 3) })

	b.Publish("ev", nil)

	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("handlers ran as %v, want [1 2 3]", got)
	}
}

func TestBus_FIFOPerEventName(t *testing.T) {
	b := bus.New(quietLogger())

	var got []string
	b.Subscribe("ev", func(payload any) { got = append(got, payload.(string)) })

	b.Publish("ev", "a")
	b.Publish("ev", "b")
	b.Publish("ev", "c")

	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("payloads arrived as %v, want [a b c]", got)
	}
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	b := bus.New(quietLogger())

	calls := 0
	unsub := b.Subscribe("ev", func(any) { calls++ })
	b.Subscribe("ev", func(any) { calls += 10 })

	b.Publish("ev", nil)
	unsub()
	unsub()
	b.Publish("ev", nil)

	if calls != 21 {
		t.Errorf("calls = %d, want 21 (second handler still registered)", calls)
	}
}

func TestBus_PanickingHandlerDoesNotStopOthers(t *testing.T) {
	b := bus.New(quietLogger())

	ran := false
	b.Subscribe("ev", func(any) { panic("boom") })
	b.Subscribe("ev", func(any) { ran = true })

	b.Publish("ev", nil)

	if !ran {
		t.Error("handler after panicking handler did not run")
	}
}

func TestBus_EventNamesAreIndependent(t *testing.T) {
	b := bus.New(quietLogger())

	calls := 0
	b.Subscribe("a", func(any) { calls++ })

	b.Publish("b", nil)
	if calls != 0 {
		t.Errorf("handler for a ran on publish of b")
	}
}

func TestBus_UnsubscribeDuringPublish(t *testing.T) {
	b := bus.New(quietLogger())

	var unsub2 func()
	calls2 := 0
	b.Subscribe("ev", func(any) { unsub2() })
	unsub2 = b.Subscribe("ev", func(any) { calls2++ })

	// The first handler unsubscribes the second mid-publish; the second must
	// not run afterwards.
	b.Publish("ev", nil)
	b.Publish("ev", nil)

	if calls2 != 0 {
		t.Errorf("unsubscribed handler ran %d times", calls2)
	}
}
