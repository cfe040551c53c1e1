// Package dispatcher implements the durable message relay: persist a
// message first, then attempt live delivery to an online recipient.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/skorotkiewicz/gg-retro/internal/metrics"
	"github.com/skorotkiewicz/gg-retro/internal/protocol"
	"github.com/skorotkiewicz/gg-retro/internal/storage"
)

// sessionBuffer is the dispatcher's per-recipient channel capacity.
const sessionBuffer = 100

// deliveryTimeout bounds how long dispatch waits for a busy recipient
// session to accept a wake before giving up.
const deliveryTimeout = 5 * time.Second

// kickGrace is the pause after closing a prior session's channel, to
// let its consumer observe the close and exit before a new one
// registers under the same UIN.
const kickGrace = 20 * time.Millisecond

// ErrDeliveryTimeout is returned by Dispatch when an online
// recipient's session did not accept the wake signal in time.
var ErrDeliveryTimeout = errors.New("dispatcher: delivery timed out")

// SessionMessage is the sum type carried on a registered session
// channel: either a forced disconnect or a wake pointing at a
// specific durable message id.
type SessionMessage struct {
	Disconnect bool
	MessageID  int64
}

// Dispatcher owns the registered-session map and the repositories it
// persists through.
type Dispatcher struct {
	users    storage.UserRepository
	messages storage.MessageRepository
	metrics  *metrics.Recorder

	sessionsMu sync.Mutex
	sessions   map[protocol.UIN]chan SessionMessage
}

// New creates a dispatcher backed by the given repositories. A nil
// recorder disables metrics recording.
func New(users storage.UserRepository, messages storage.MessageRepository, rec *metrics.Recorder) *Dispatcher {
	if rec == nil {
		rec = metrics.Disabled()
	}
	return &Dispatcher{
		users:    users,
		messages: messages,
		metrics:  rec,
		sessions: make(map[protocol.UIN]chan SessionMessage),
	}
}

// Register creates the session channel for uin, replacing none (use
// Kick first if a prior session might still be registered).
func (d *Dispatcher) Register(uin protocol.UIN) <-chan SessionMessage {
	ch := make(chan SessionMessage, sessionBuffer)
	d.sessionsMu.Lock()
	d.sessions[uin] = ch
	d.sessionsMu.Unlock()
	return ch
}

// Unregister drops uin's session channel, if any.
func (d *Dispatcher) Unregister(uin protocol.UIN) {
	d.sessionsMu.Lock()
	ch, ok := d.sessions[uin]
	if ok {
		delete(d.sessions, uin)
	}
	d.sessionsMu.Unlock()
	if ok {
		close(ch)
	}
}

// Kick evicts any session currently registered for uin, signalling it
// to disconnect, and pauses briefly so the evicted session's consumer
// has a chance to exit before a caller re-registers under the same
// UIN.
func (d *Dispatcher) Kick(uin protocol.UIN) {
	d.sessionsMu.Lock()
	ch, ok := d.sessions[uin]
	if ok {
		delete(d.sessions, uin)
	}
	d.sessionsMu.Unlock()

	if !ok {
		return
	}

	select {
	case ch <- SessionMessage{Disconnect: true}:
	default:
	}
	close(ch)
	time.Sleep(kickGrace)
}

// Dispatch relays send from sender to send.Recipient: it verifies both
// parties exist, persists the message unconditionally, then attempts
// a live wake if the recipient has a registered session.
func (d *Dispatcher) Dispatch(ctx context.Context, sender protocol.UIN, send protocol.SendMessage) (protocol.AckStatus, error) {
	if ok, err := d.users.Exists(ctx, uint32(sender)); err != nil {
		return 0, fmt.Errorf("dispatcher: check sender: %w", err)
	} else if !ok {
		d.metrics.ObserveDispatch("not_delivered")
		return protocol.AckNotDelivered, nil
	}
	if ok, err := d.users.Exists(ctx, uint32(send.Recipient)); err != nil {
		return 0, fmt.Errorf("dispatcher: check recipient: %w", err)
	} else if !ok {
		d.metrics.ObserveDispatch("not_delivered")
		return protocol.AckNotDelivered, nil
	}

	stored, err := d.messages.Store(ctx, uint32(send.Recipient), &storage.QueuedMessage{
		SenderUIN:  uint32(sender),
		Seq:        send.Seq,
		Time:       uint32(time.Now().Unix()),
		Class:      uint32(send.Class),
		Message:    send.Message,
		Formatting: encodeFormatting(send.Formatting),
	})
	if err != nil {
		return 0, fmt.Errorf("dispatcher: store message: %w", err)
	}

	d.sessionsMu.Lock()
	ch, online := d.sessions[send.Recipient]
	d.sessionsMu.Unlock()

	if !online {
		d.metrics.ObserveDispatch("queued")
		return protocol.AckQueued, nil
	}

	select {
	case ch <- SessionMessage{MessageID: stored.ID}:
		d.metrics.ObserveDispatch("delivered")
		return protocol.AckDelivered, nil
	case <-time.After(deliveryTimeout):
		return 0, ErrDeliveryTimeout
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func encodeFormatting(entries []protocol.RichTextEntry) []byte {
	if len(entries) == 0 {
		return nil
	}
	return protocol.EncodeRichText(entries)
}
