package typing_test

import (
	"sync"
	"testing"
	"time"

	"github.com/evertasker/chatsync/internal/typing"
	"github.com/evertasker/chatsync/pkg/wire"
)

type recordingPusher struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (p *recordingPusher) Push(topic, event string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, topic+"/"+event)
	return nil
}

func (p *recordingPusher) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	copy(out, p.events)
	return out
}

func TestNotifier_OneStartPerBurst(t *testing.T) {
	p := &recordingPusher{}
	n := typing.NewNotifier(p, time.Hour, quietLogger())
	defer n.Close()

	n.Keystroke("chat:1")
	n.Keystroke("chat:1")
	n.Keystroke("chat:1")
	n.Stop("chat:1")

	want := []string{
		"chat:1/" + wire.EventTypingStart,
		"chat:1/" + wire.EventTypingStop,
	}
	got := p.snapshot()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("pushes = %v, want %v", got, want)
	}
}

func TestNotifier_StopWithoutBurstIsNoop(t *testing.T) {
	p := &recordingPusher{}
	n := typing.NewNotifier(p, time.Hour, quietLogger())
	defer n.Close()

	n.Stop("chat:1")
	n.Stop("chat:1")

	if got := p.snapshot(); len(got) != 0 {
		t.Errorf("pushes = %v, want none", got)
	}
}

func TestNotifier_IdleTimerPushesAutomaticStop(t *testing.T) {
	p := &recordingPusher{}
	n := typing.NewNotifier(p, 40*time.Millisecond, quietLogger())
	defer n.Close()

	n.Keystroke("chat:1")

	waitFor(t, time.Second, func() bool {
		return len(p.snapshot()) == 2
	}, "idle timer never pushed the automatic stop")

	got := p.snapshot()
	if got[1] != "chat:1/"+wire.EventTypingStop {
		t.Errorf("second push = %s, want typing:stop", got[1])
	}

	// A new keystroke after the auto-stop begins a fresh burst.
	n.Keystroke("chat:1")
	waitFor(t, time.Second, func() bool {
		return len(p.snapshot()) >= 3
	}, "new burst did not push a start")
	if got := p.snapshot(); got[2] != "chat:1/"+wire.EventTypingStart {
		t.Errorf("third push = %s, want typing:start", got[2])
	}
}

func TestNotifier_TopicsAreIndependent(t *testing.T) {
	p := &recordingPusher{}
	n := typing.NewNotifier(p, time.Hour, quietLogger())
	defer n.Close()

	n.Keystroke("chat:1")
	n.Keystroke("group:2")
	n.Stop("chat:1")

	got := p.snapshot()
	if len(got) != 3 {
		t.Fatalf("pushes = %v, want start/start/stop", got)
	}
	// The group burst is still active.
	n.Stop("group:2")
	if got := p.snapshot(); len(got) != 4 {
		t.Errorf("pushes = %v, want 4 after group stop", got)
	}
}
