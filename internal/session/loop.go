package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/skorotkiewicz/gg-retro/internal/presence"
	"github.com/skorotkiewicz/gg-retro/internal/protocol"
)

// runLoop is the steady-state four-way multiplex (spec's five-way
// counting shutdown separately from the idle timer): shutdown
// cancellation, the idle timer, the dispatcher channel, the presence
// channel, and inbound packets.
func (c *Controller) runLoop(ctx context.Context, reader <-chan inboundFrame) error {
	idleTimeout := c.deps.idleTimeout()
	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			c.send(protocol.Frame{Type: protocol.PacketAmbiguous0B, Payload: protocol.Disconnect{}})
			return ErrShutdown

		case <-idle.C:
			return ErrSessionTimeout

		case sm, ok := <-c.dispatcherCh:
			if !ok {
				return nil
			}
			if sm.Disconnect {
				c.send(protocol.Frame{Type: protocol.PacketAmbiguous0B, Payload: protocol.Disconnect{}})
				return nil
			}
			if err := c.handleQueuedMessage(ctx, sm.MessageID); err != nil {
				c.log.Warn("deliver queued message failed", zap.Uint32("uin", uint32(c.uin)), zap.Error(err))
			}
			resetTimer(idle, idleTimeout)

		case watched, ok := <-c.presenceCh:
			if !ok {
				return nil
			}
			c.handlePresenceWake(watched)
			resetTimer(idle, idleTimeout)

		case msg, ok := <-reader:
			if !ok || errors.Is(msg.err, io.EOF) {
				return nil // peer closed the connection: a graceful close
			}
			if msg.err != nil {
				return fmt.Errorf("session: read: %w", msg.err)
			}
			done, err := c.handleFrame(ctx, *msg.frame)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			resetTimer(idle, idleTimeout)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// handleFrame processes one inbound packet. It returns done=true when
// the session should end gracefully (a client-initiated Disconnect).
func (c *Controller) handleFrame(ctx context.Context, f protocol.Frame) (bool, error) {
	switch p := f.Payload.(type) {
	case protocol.Disconnect:
		return true, nil

	case protocol.PingPacket:
		return false, c.send(protocol.Frame{Type: protocol.PacketPong, Payload: protocol.Pong{}})

	case protocol.SendMessage:
		status, err := c.deps.Dispatcher.Dispatch(ctx, c.uin, p)
		if err != nil {
			c.log.Warn("dispatch failed", zap.Uint32("sender", uint32(c.uin)), zap.Error(err))
			status = protocol.AckNotDelivered
		}
		return false, c.send(protocol.Frame{Type: protocol.PacketSendMsgAck, Payload: protocol.SendMsgAck{
			Status: status, Recipient: p.Recipient, Seq: p.Seq,
		}})

	case protocol.NewStatusPacket:
		c.deps.Presence.Notify(presence.Status{
			UIN: c.uin, Status: p.Status, Description: p.Description, Time: p.Time,
		})
		return false, nil

	case protocol.NotifyFirst:
		c.contactBuffer = append(c.contactBuffer, p.Entries...)
		return false, nil

	case protocol.NotifyLast:
		c.contactBuffer = append(c.contactBuffer, p.Entries...)
		entries := c.contactBuffer
		c.contactBuffer = nil
		if err := c.handleContactList(ctx, entries); err != nil {
			return false, err
		}
		return false, c.deliverPendingMessages(ctx)

	case protocol.ListEmpty:
		return false, c.deliverPendingMessages(ctx)

	default:
		c.log.Debug("ignoring unhandled packet", zap.Uint32("type", uint32(f.Type)))
		return false, nil
	}
}

func (c *Controller) handleQueuedMessage(ctx context.Context, id int64) error {
	msg, err := c.deps.Messages.FindOnePending(ctx, id)
	if err != nil {
		return fmt.Errorf("find pending: %w", err)
	}

	if _, blocked := c.blocked[protocol.UIN(msg.SenderUIN)]; !blocked {
		if err := c.send(protocol.Frame{Type: protocol.PacketRecvMsg, Payload: protocol.RecvMsg{
			Sender:     protocol.UIN(msg.SenderUIN),
			Seq:        msg.Seq,
			Time:       msg.Time,
			Class:      protocol.MessageClass(msg.Class),
			Message:    msg.Message,
			Formatting: protocol.DecodeRichText(msg.Formatting),
			HasFormat:  len(msg.Formatting) > 0,
		}}); err != nil {
			return fmt.Errorf("send recv_msg: %w", err)
		}
	}

	return c.deps.Messages.MarkSingleDelivered(ctx, id)
}

func (c *Controller) handlePresenceWake(watched protocol.UIN) {
	status := c.deps.Presence.Find(watched)
	contact := protocol.ContactStatus{
		UIN:         watched,
		Status:      status.Status,
		Description: status.Description,
		HasDescr:    status.Description != "",
		Time:        status.Time,
		HasTime:     status.Time != 0,
	}
	if err := c.send(protocol.Frame{Type: protocol.PacketStatus60, Payload: protocol.Status60{Contact: contact}}); err != nil {
		c.log.Warn("send status60 failed", zap.Uint32("uin", uint32(c.uin)), zap.Error(err))
	}
}

// handleContactList processes the concatenated NotifyFirst+NotifyLast
// entries: splits buddies/friends/blocked, keeps only UINs that exist,
// subscribes to their presence, and pushes the initial snapshot.
func (c *Controller) handleContactList(ctx context.Context, entries []protocol.ContactEntry) error {
	var candidates []protocol.UIN
	for _, e := range entries {
		switch e.Type {
		case protocol.ContactFriend:
			c.friends[e.UIN] = struct{}{}
			candidates = append(candidates, e.UIN)
		case protocol.ContactBlocked:
			c.blocked[e.UIN] = struct{}{}
		default:
			c.buddies[e.UIN] = struct{}{}
			candidates = append(candidates, e.UIN)
		}
	}

	uins := make([]uint32, len(candidates))
	for i, u := range candidates {
		uins[i] = uint32(u)
	}
	users, err := c.deps.Users.FindByUINs(ctx, uins)
	if err != nil {
		return fmt.Errorf("find contacts: %w", err)
	}

	existing := make([]protocol.UIN, 0, len(users))
	for _, u := range users {
		existing = append(existing, protocol.UIN(u.UIN))
	}
	c.watched = existing

	c.deps.Presence.Subscribe(c.uin, existing)

	contacts := make([]protocol.ContactStatus, 0, len(existing))
	for _, uin := range existing {
		status := c.deps.Presence.Find(uin)
		contacts = append(contacts, protocol.ContactStatus{
			UIN:         uin,
			Status:      status.Status,
			Description: status.Description,
			HasDescr:    status.Description != "",
			Time:        status.Time,
			HasTime:     status.Time != 0,
		})
	}
	if err := c.send(protocol.Frame{Type: protocol.PacketNotifyReply60, Payload: protocol.NotifyReply60{Contacts: contacts}}); err != nil {
		return fmt.Errorf("send notify_reply60: %w", err)
	}

	time.Sleep(refreshDelay)
	c.deps.Presence.Refresh(c.uin)
	return nil
}

// deliverPendingMessages drains the offline queue in batches until one
// comes back empty, per spec's "repeatedly fetch up to 100" rule.
func (c *Controller) deliverPendingMessages(ctx context.Context) error {
	for {
		pending, err := c.deps.Messages.FindPending(ctx, uint32(c.uin))
		if err != nil {
			return fmt.Errorf("find pending: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(pending))
		for _, msg := range pending {
			if _, blocked := c.blocked[protocol.UIN(msg.SenderUIN)]; !blocked {
				if err := c.send(protocol.Frame{Type: protocol.PacketRecvMsg, Payload: protocol.RecvMsg{
					Sender:     protocol.UIN(msg.SenderUIN),
					Seq:        msg.Seq,
					Time:       msg.Time,
					Class:      protocol.MessageClass(msg.Class),
					Message:    msg.Message,
					Formatting: protocol.DecodeRichText(msg.Formatting),
					HasFormat:  len(msg.Formatting) > 0,
				}}); err != nil {
					return fmt.Errorf("send recv_msg: %w", err)
				}
			}
			ids = append(ids, msg.ID)
		}

		if err := c.deps.Messages.MarkDelivered(ctx, ids); err != nil {
			return fmt.Errorf("mark delivered: %w", err)
		}

		time.Sleep(pendingBatchPause)
	}
}

// cleanup always runs on the way out of Run: drop subscriptions,
// publish offline, unregister from both hubs, and best-effort flush.
func (c *Controller) cleanup() {
	c.deps.Presence.Notify(presence.Status{UIN: c.uin, Status: protocol.StatusNotAvail})
	c.deps.Dispatcher.Unregister(c.uin)
	c.deps.Presence.Unregister(c.uin, c.watched)

	if tc, ok := c.conn.(interface{ CloseWrite() error }); ok {
		tc.CloseWrite()
	}
	c.conn.Close()
}
