package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skorotkiewicz/gg-retro/internal/protocol"
)

func TestFindDefaultsToOffline(t *testing.T) {
	h := New()
	s := h.Find(100)
	if s.Status != protocol.StatusNotAvail {
		t.Errorf("got status %v, want StatusNotAvail", s.Status)
	}
}

func TestRegisterSeedsOfflineState(t *testing.T) {
	h := New()
	h.Register(100)
	if got := h.Find(100).Status; got != protocol.StatusNotAvail {
		t.Errorf("got status %v, want StatusNotAvail", got)
	}
	if h.Online() != 1 {
		t.Errorf("got %d online, want 1", h.Online())
	}
}

func TestRegisterReplacesAndClosesPreviousChannel(t *testing.T) {
	h := New()
	first := h.Register(100)
	h.Register(100)

	require.Eventually(t, func() bool {
		_, open := <-first
		return !open
	}, time.Second, time.Millisecond, "previous channel should be closed on replacement")
}

func TestNotifyWakesSubscribedWatcherOnly(t *testing.T) {
	h := New()
	watcherCh := h.Register(1)
	h.Subscribe(1, []protocol.UIN{2})

	h.Notify(Status{UIN: 2, Status: protocol.StatusAvail})

	select {
	case uin := <-watcherCh:
		if uin != 2 {
			t.Errorf("got wake for uin %d, want 2", uin)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a wake notification")
	}

	if got := h.Find(2).Status; got != protocol.StatusAvail {
		t.Errorf("got status %v, want StatusAvail", got)
	}
}

func TestNotifyDoesNotWakeUnsubscribedWatcher(t *testing.T) {
	h := New()
	watcherCh := h.Register(1)

	h.Notify(Status{UIN: 2, Status: protocol.StatusAvail})

	select {
	case uin := <-watcherCh:
		t.Fatalf("unexpected wake for uin %d", uin)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifyNeverBlocksOnFullChannel(t *testing.T) {
	h := New()
	h.Register(1)
	h.Subscribe(1, []protocol.UIN{2})

	done := make(chan struct{})
	go func() {
		for i := 0; i < notifyBuffer*4; i++ {
			h.Notify(Status{UIN: 2, Status: protocol.StatusAvail})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full channel")
	}
}

func TestRefreshReannouncesCurrentStatus(t *testing.T) {
	h := New()
	watcherCh := h.Register(1)
	h.Subscribe(1, []protocol.UIN{2})
	h.Notify(Status{UIN: 2, Status: protocol.StatusBusy, Description: "away"})
	<-watcherCh // drain the Notify wake

	h.Refresh(2)

	select {
	case uin := <-watcherCh:
		if uin != 2 {
			t.Errorf("got wake for uin %d, want 2", uin)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a refresh wake")
	}
}

func TestUnregisterClosesChannelAndRemovesFromObservers(t *testing.T) {
	h := New()
	watcherCh := h.Register(1)
	h.Subscribe(1, []protocol.UIN{2})

	h.Unregister(1, []protocol.UIN{2})

	require.Eventually(t, func() bool {
		_, open := <-watcherCh
		return !open
	}, time.Second, time.Millisecond)

	// Subsequent notifies for uin 2 must not panic or find a stale watcher.
	h.Notify(Status{UIN: 2, Status: protocol.StatusAvail})
}

func TestUnsubscribeStopsFutureNotifications(t *testing.T) {
	h := New()
	watcherCh := h.Register(1)
	h.Subscribe(1, []protocol.UIN{2})
	h.Unsubscribe(1, []protocol.UIN{2})

	h.Notify(Status{UIN: 2, Status: protocol.StatusAvail})

	select {
	case uin := <-watcherCh:
		t.Fatalf("unexpected wake for uin %d after unsubscribe", uin)
	case <-time.After(50 * time.Millisecond):
	}
}
