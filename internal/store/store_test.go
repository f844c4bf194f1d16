package store_test

import (
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/evertasker/chatsync/internal/store"
	"github.com/evertasker/chatsync/pkg/wire"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func msg(id string, createdAt time.Time, status wire.Status) wire.Message {
	return wire.Message{
		ID:        id,
		SenderID:  "u1",
		ChatID:    "c1",
		Content:   "content " + id,
		Type:      wire.TypeText,
		Status:    status,
		CreatedAt: createdAt,
	}
}

func ids(messages []wire.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}

func TestStore_SendEchoRace(t *testing.T) {
	s := store.New(quietLogger())
	t0 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	s.AppendLocal("conv1", msg("m1", t0, wire.StatusSent))
	s.MergeRemote("conv1", msg("m1", t0, wire.StatusDelivered))

	messages := s.Messages("conv1")
	if len(messages) != 1 {
		t.Fatalf("log length = %d, want 1", len(messages))
	}
	if messages[0].Status != wire.StatusDelivered {
		t.Errorf("status = %v, want delivered", messages[0].Status)
	}
}

func TestStore_StatusNeverRegresses(t *testing.T) {
	s := store.New(quietLogger())
	t0 := time.Now().UTC()

	s.AppendLocal("c1", msg("m1", t0, wire.StatusSent))

	// Apply updates in a deliberately backwards order.
	s.UpdateStatus("c1", "m1", wire.StatusRead)
	s.UpdateStatus("c1", "m1", wire.StatusDelivered)
	s.MergeRemote("c1", msg("m1", t0, wire.StatusSent))

	if got := s.Messages("c1")[0].Status; got != wire.StatusRead {
		t.Errorf("status = %v, want read (maximum of applied statuses)", got)
	}
}

func TestStore_UpdateStatusUnknownMessageIsNoop(t *testing.T) {
	s := store.New(quietLogger())
	s.UpdateStatus("c1", "missing", wire.StatusRead)
	if got := s.Messages("c1"); got != nil {
		t.Errorf("log = %v, want empty", got)
	}
}

func TestStore_OrderIndependentOfArrival(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	messages := []wire.Message{
		msg("m1", base.Add(1*time.Second), wire.StatusSent),
		msg("m2", base.Add(2*time.Second), wire.StatusSent),
		msg("m3", base.Add(3*time.Second), wire.StatusSent),
		msg("m4", base.Add(4*time.Second), wire.StatusSent),
	}

	permutations := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{2, 0, 3, 1},
		{1, 3, 0, 2},
	}

	for _, perm := range permutations {
		s := store.New(quietLogger())
		for _, i := range perm {
			s.MergeRemote("c1", messages[i])
		}
		got := ids(s.Messages("c1"))
		want := []string{"m4", "m3", "m2", "m1"} // newest first
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("arrival order %v produced log %v, want %v", perm, got, want)
		}
	}
}

func TestStore_TiebreakOnEqualTimestamps(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	s1 := store.New(quietLogger())
	s1.MergeRemote("c1", msg("a", t0, wire.StatusSent))
	s1.MergeRemote("c1", msg("b", t0, wire.StatusSent))

	s2 := store.New(quietLogger())
	s2.MergeRemote("c1", msg("b", t0, wire.StatusSent))
	s2.MergeRemote("c1", msg("a", t0, wire.StatusSent))

	if fmt.Sprint(ids(s1.Messages("c1"))) != fmt.Sprint(ids(s2.Messages("c1"))) {
		t.Errorf("tiebreak depends on arrival order: %v vs %v",
			ids(s1.Messages("c1")), ids(s2.Messages("c1")))
	}
}

func TestStore_RemoveAndClearAreIdempotent(t *testing.T) {
	s := store.New(quietLogger())
	t0 := time.Now().UTC()

	s.MergeRemote("c1", msg("m1", t0, wire.StatusSent))
	s.Remove("c1", "m1")
	s.Remove("c1", "m1")
	if got := s.Messages("c1"); len(got) != 0 {
		t.Errorf("log after remove = %v, want empty", got)
	}

	s.MergeRemote("c1", msg("m2", t0, wire.StatusSent))
	s.Clear("c1")
	s.Clear("c1")
	if got := s.Messages("c1"); got != nil {
		t.Errorf("log after clear = %v, want nil", got)
	}
}

func TestStore_SetHistorySortsAndMergesWithLaterEvents(t *testing.T) {
	s := store.New(quietLogger())
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	// History arrives in backend order (oldest first).
	s.SetHistory("c1", []wire.Message{
		msg("m1", base.Add(1*time.Second), wire.StatusRead),
		msg("m2", base.Add(2*time.Second), wire.StatusRead),
	})

	got := ids(s.Messages("c1"))
	if fmt.Sprint(got) != fmt.Sprint([]string{"m2", "m1"}) {
		t.Errorf("history order = %v, want [m2 m1]", got)
	}

	// A realtime echo of a message already in history must not duplicate.
	s.MergeRemote("c1", msg("m2", base.Add(2*time.Second), wire.StatusSent))
	if got := s.Messages("c1"); len(got) != 2 {
		t.Errorf("log length after overlapping merge = %d, want 2", len(got))
	}
	if got := s.Messages("c1")[0].Status; got != wire.StatusRead {
		t.Errorf("status regressed to %v after overlapping merge", got)
	}
}

func TestStore_OnChangeNotifiesWithSnapshot(t *testing.T) {
	s := store.New(quietLogger())
	t0 := time.Now().UTC()

	var lastConv string
	var lastLen int
	calls := 0
	unsub := s.OnChange(func(conversationID string, messages []wire.Message) {
		calls++
		lastConv = conversationID
		lastLen = len(messages)
	})

	s.MergeRemote("c1", msg("m1", t0, wire.StatusSent))
	if calls != 1 || lastConv != "c1" || lastLen != 1 {
		t.Errorf("after merge: calls=%d conv=%s len=%d", calls, lastConv, lastLen)
	}

	// A no-op merge (same id, same status) must not notify.
	s.MergeRemote("c1", msg("m1", t0, wire.StatusSent))
	if calls != 1 {
		t.Errorf("no-op merge notified (calls=%d)", calls)
	}

	unsub()
	unsub()
	s.MergeRemote("c1", msg("m2", t0.Add(time.Second), wire.StatusSent))
	if calls != 1 {
		t.Errorf("unsubscribed handler still notified (calls=%d)", calls)
	}
}

func TestStore_ConcurrentMergesNotifyInMutationOrder(t *testing.T) {
	s := store.New(quietLogger())
	t0 := time.Now().UTC()

	var sizes []int
	s.OnChange(func(_ string, messages []wire.Message) {
		sizes = append(sizes, len(messages))
	})

	// A local sender and the read loop insert concurrently. Every handler
	// call must see the log one message larger than the previous call: a
	// snapshot delivered after a fresher one would show up as a shrink.
	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("m%d-%02d", g, i)
				s.MergeRemote("c1", msg(id, t0.Add(time.Duration(i)*time.Second), wire.StatusSent))
			}
		}(g)
	}
	wg.Wait()

	if len(sizes) != 100 {
		t.Fatalf("handler ran %d times, want 100", len(sizes))
	}
	for i, size := range sizes {
		if size != i+1 {
			t.Fatalf("snapshot %d has %d messages, want %d", i, size, i+1)
		}
	}
}
