package hierarchy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testEvent(sessionID string) Event {
	return &SessionArchivedEvent{
		BaseEvent: newBaseEvent(sessionID, "root", time.Now()),
	}
}

func TestNotifierListeners(t *testing.T) {
	n := NewNotifier(nil)
	var seen []string
	n.Attach(ListenerFunc(func(e Event) {
		seen = append(seen, e.SessionID())
	}))

	n.Emit(testEvent("s1"))
	n.Emit(testEvent("s2"))
	require.Equal(t, []string{"s1", "s2"}, seen)
}

func TestNotifierSubscribe(t *testing.T) {
	n := NewNotifier(nil)
	ch := n.Subscribe(4)

	n.Emit(testEvent("s1"))
	select {
	case e := <-ch:
		require.Equal(t, "s1", e.SessionID())
		require.Equal(t, "session_archived", e.EventType())
	default:
		t.Fatal("expected a buffered event")
	}

	n.Unsubscribe(ch)
	_, open := <-ch
	require.False(t, open, "unsubscribed channel must be closed")

	// Emitting after unsubscribe must not panic.
	n.Emit(testEvent("s2"))
}

func TestNotifierDropsWhenSubscriberFull(t *testing.T) {
	n := NewNotifier(nil)
	ch := n.Subscribe(1)

	n.Emit(testEvent("kept"))
	// Buffer full: this emit must not block the caller.
	done := make(chan struct{})
	go func() {
		n.Emit(testEvent("dropped"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full subscriber channel")
	}

	e := <-ch
	require.Equal(t, "kept", e.SessionID())
	n.Unsubscribe(ch)
}

func TestNotifierNilSafe(t *testing.T) {
	var n *Notifier
	n.Emit(testEvent("s1")) // must not panic
	n.Attach(ListenerFunc(func(Event) {}))
}
