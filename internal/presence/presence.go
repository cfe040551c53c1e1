// Package presence implements the in-memory pub/sub hub session
// controllers use to publish and watch buddy-list status changes.
package presence

import (
	"sync"

	"github.com/skorotkiewicz/gg-retro/internal/protocol"
)

// notifyBuffer bounds the per-watcher wake channel. Sends beyond this
// drop silently; watchers re-read current state via Find, so a
// dropped wake only delays a refresh, never loses state.
const notifyBuffer = 8

// Status is the last known presence of a single UIN.
type Status struct {
	UIN         protocol.UIN
	Status      protocol.Status
	Description string
	Time        uint32
}

func offline(uin protocol.UIN) Status {
	return Status{UIN: uin, Status: protocol.StatusNotAvail}
}

// Hub tracks presence state and the watcher graph over it.
type Hub struct {
	mu        sync.Mutex
	state     map[protocol.UIN]Status
	observers map[protocol.UIN]map[protocol.UIN]struct{}
	sessions  map[protocol.UIN]chan protocol.UIN
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		state:     make(map[protocol.UIN]Status),
		observers: make(map[protocol.UIN]map[protocol.UIN]struct{}),
		sessions:  make(map[protocol.UIN]chan protocol.UIN),
	}
}

// Online reports how many UINs currently have a registered channel.
func (h *Hub) Online() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Find returns the last known status for uin, defaulting to offline.
func (h *Hub) Find(uin protocol.UIN) Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.state[uin]; ok {
		return s
	}
	return offline(uin)
}

// Register creates (or replaces) the notification channel for uin.
// A previous channel, if any, is closed so its consumer observes the
// replacement and exits. The new UIN starts offline until the first
// Notify.
func (h *Hub) Register(uin protocol.UIN) <-chan protocol.UIN {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.sessions[uin]; ok {
		close(prev)
	}
	ch := make(chan protocol.UIN, notifyBuffer)
	h.sessions[uin] = ch
	if _, ok := h.state[uin]; !ok {
		h.state[uin] = offline(uin)
	}
	return ch
}

// Subscribe adds watcher as an observer of every uin in watched.
func (h *Hub) Subscribe(watcher protocol.UIN, watched []protocol.UIN) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, uin := range watched {
		set, ok := h.observers[uin]
		if !ok {
			set = make(map[protocol.UIN]struct{})
			h.observers[uin] = set
		}
		set[watcher] = struct{}{}
	}
}

// Unsubscribe removes watcher as an observer of every uin in watched.
func (h *Hub) Unsubscribe(watcher protocol.UIN, watched []protocol.UIN) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, uin := range watched {
		if set, ok := h.observers[uin]; ok {
			delete(set, watcher)
			if len(set) == 0 {
				delete(h.observers, uin)
			}
		}
	}
}

// Notify updates uin's status and wakes every watcher that currently
// has a registered channel. Sends never block: a full channel is a
// dropped wake, not a blocked caller. The sends happen while h.mu is
// held, so a concurrent Register/Unregister can't close a channel
// already picked as a send target out from under this loop.
func (h *Hub) Notify(s Status) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.state[s.UIN] = s
	for watcher := range h.observers[s.UIN] {
		ch, ok := h.sessions[watcher]
		if !ok {
			continue
		}
		select {
		case ch <- s.UIN:
		default:
		}
	}
}

// Refresh re-announces uin's current status to its watchers.
func (h *Hub) Refresh(uin protocol.UIN) {
	h.Notify(h.Find(uin))
}

// Unregister drops uin's session channel and removes it from every
// watched UIN's observer set.
func (h *Hub) Unregister(uin protocol.UIN, watched []protocol.UIN) {
	h.mu.Lock()
	if ch, ok := h.sessions[uin]; ok {
		delete(h.sessions, uin)
		close(ch)
	}
	h.mu.Unlock()

	h.Unsubscribe(uin, watched)
}
