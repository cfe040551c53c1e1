// Package session implements the per-connection state machine: the
// only component that owns a client's socket, from greeting through
// authentication into the steady-state multiplex loop.
package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/skorotkiewicz/gg-retro/internal/dispatcher"
	"github.com/skorotkiewicz/gg-retro/internal/presence"
	"github.com/skorotkiewicz/gg-retro/internal/protocol"
	"github.com/skorotkiewicz/gg-retro/internal/storage"
)

const (
	defaultAuthTimeout = 60 * time.Second
	defaultIdleTimeout = 5 * time.Minute
	writeTimeout       = 10 * time.Second

	seedMin = 100_000
	seedMax = 1_000_000

	pendingBatchPause = 5 * time.Millisecond
	refreshDelay      = 50 * time.Millisecond
)

// Deps are the collaborators every session shares; one Deps is built
// once at startup and handed to every spawned Controller. AuthTimeout
// and IdleTimeout default to 60s/5m when zero; tests shrink them to
// exercise the timeout paths without waiting on the wall clock.
type Deps struct {
	Users      storage.UserRepository
	Messages   storage.MessageRepository
	Presence   *presence.Hub
	Dispatcher *dispatcher.Dispatcher
	Logger     *zap.Logger

	AuthTimeout time.Duration
	IdleTimeout time.Duration
}

func (d Deps) authTimeout() time.Duration {
	if d.AuthTimeout > 0 {
		return d.AuthTimeout
	}
	return defaultAuthTimeout
}

func (d Deps) idleTimeout() time.Duration {
	if d.IdleTimeout > 0 {
		return d.IdleTimeout
	}
	return defaultIdleTimeout
}

// Controller runs one client connection's entire lifecycle.
type Controller struct {
	deps Deps
	conn net.Conn
	log  *zap.Logger

	uin protocol.UIN

	buddies map[protocol.UIN]struct{}
	friends map[protocol.UIN]struct{}
	blocked map[protocol.UIN]struct{}
	watched []protocol.UIN

	contactBuffer   []protocol.ContactEntry
	initialPresence presence.Status
	dispatcherCh    <-chan dispatcher.SessionMessage
	presenceCh      <-chan protocol.UIN
}

// New constructs a controller for a freshly accepted connection.
func New(deps Deps, conn net.Conn) *Controller {
	return &Controller{
		deps: deps,
		conn: conn,
		log:  deps.Logger,
	}
}

// Run drives the connection to completion: greeting, authentication,
// the running loop, and cleanup. It returns nil on a graceful close
// and a non-nil error for every other termination reason (auth
// timeout, idle timeout, protocol error, I/O error, shutdown).
func (c *Controller) Run(ctx context.Context) error {
	seed, err := randomSeed()
	if err != nil {
		return fmt.Errorf("session: generate seed: %w", err)
	}
	if err := c.send(protocol.Frame{Type: protocol.PacketWelcome, Payload: protocol.Welcome{Seed: seed}}); err != nil {
		return fmt.Errorf("session: send welcome: %w", err)
	}

	reader := startReader(c.conn, protocol.ModeServer)

	login, err := c.awaitLogin(ctx, reader)
	if err != nil {
		return err
	}

	if err := c.authenticate(ctx, login, seed); err != nil {
		return err
	}

	c.sync()
	defer c.cleanup()

	return c.runLoop(ctx, reader)
}

func randomSeed() (uint32, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(seedMax-seedMin))
	if err != nil {
		return 0, err
	}
	return uint32(n.Int64() + seedMin), nil
}

func (c *Controller) awaitLogin(ctx context.Context, reader <-chan inboundFrame) (protocol.Login60, error) {
	timer := time.NewTimer(c.deps.authTimeout())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return protocol.Login60{}, ErrShutdown
		case <-timer.C:
			return protocol.Login60{}, ErrAuthTimeout
		case msg, ok := <-reader:
			if !ok || msg.err != nil {
				return protocol.Login60{}, fmt.Errorf("session: awaiting login: %w", errOrClosed(msg.err))
			}
			if login, ok := msg.frame.Payload.(protocol.Login60); ok {
				return login, nil
			}
			// Anything else before Login60 is ignored, per spec's
			// "wait for Login60" framing (no other C->S packet is
			// meaningful pre-authentication).
		}
	}
}

func errOrClosed(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("connection closed")
}

func (c *Controller) authenticate(ctx context.Context, login protocol.Login60, seed uint32) error {
	user, err := c.deps.Users.FindByUIN(ctx, uint32(login.UIN))
	if err != nil {
		c.send(protocol.Frame{Type: protocol.PacketLoginFailed, Payload: protocol.LoginFailed{}})
		return fmt.Errorf("%w: uin %d", ErrInvalidCredentials, login.UIN)
	}

	expected := protocol.LoginHash([]byte(user.Password), seed)
	if expected != login.Hash {
		c.send(protocol.Frame{Type: protocol.PacketLoginFailed, Payload: protocol.LoginFailed{}})
		return fmt.Errorf("%w: uin %d", ErrInvalidCredentials, login.UIN)
	}

	c.uin = login.UIN
	c.contactBuffer = nil
	c.buddies = make(map[protocol.UIN]struct{})
	c.friends = make(map[protocol.UIN]struct{})
	c.blocked = make(map[protocol.UIN]struct{})

	if err := c.send(protocol.Frame{Type: protocol.PacketLoginOk, Payload: protocol.LoginOk{}}); err != nil {
		return fmt.Errorf("session: send login ok: %w", err)
	}

	c.initialPresence = loginPresence(login)
	return nil
}

func loginPresence(login protocol.Login60) presence.Status {
	status := login.Status
	if status == 0 {
		status = protocol.StatusAvail
	}
	return presence.Status{
		UIN:         login.UIN,
		Status:      status,
		Description: login.Description,
		Time:        login.Time,
	}
}

// sync performs the kick/register/publish sequence between LoginOk
// and entering the running loop.
func (c *Controller) sync() {
	c.deps.Dispatcher.Kick(c.uin)
	c.dispatcherCh = c.deps.Dispatcher.Register(c.uin)
	c.presenceCh = c.deps.Presence.Register(c.uin)
	c.deps.Presence.Notify(c.initialPresence)
}

func (c *Controller) send(f protocol.Frame) error {
	out, err := protocol.Encode(nil, f)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = c.conn.Write(out)
	return err
}
