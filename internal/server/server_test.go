package server

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/skorotkiewicz/gg-retro/internal/dispatcher"
	"github.com/skorotkiewicz/gg-retro/internal/presence"
	"github.com/skorotkiewicz/gg-retro/internal/protocol"
	"github.com/skorotkiewicz/gg-retro/internal/session"
	"github.com/skorotkiewicz/gg-retro/internal/storage"
)

func testDeps(t *testing.T) (session.Deps, *presence.Hub) {
	t.Helper()
	users := storage.NewMemoryUserRepository()
	messages := storage.NewMemoryMessageRepository()
	hub := presence.New()
	disp := dispatcher.New(users, messages, nil)
	return session.Deps{
		Users:       users,
		Messages:    messages,
		Presence:    hub,
		Dispatcher:  disp,
		Logger:      zap.NewNop(),
		AuthTimeout: 200 * time.Millisecond,
		IdleTimeout: 200 * time.Millisecond,
	}, hub
}

func TestAcceptorAcceptsAndWelcomes(t *testing.T) {
	deps, hub := testDeps(t)
	a := New("127.0.0.1:0", deps, hub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	var addr string
	for i := 0; i < 50; i++ {
		if a.listener != nil {
			addr = a.listener.Addr().String()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("acceptor never bound a listener")
	}

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	buf := make([]byte, 12)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	frame, _, err := protocol.Decode(buf[:n], protocol.ModeClient)
	if err != nil {
		t.Fatalf("decode welcome: %v", err)
	}
	if frame == nil {
		t.Fatal("decode welcome: incomplete frame")
	}
	if frame.Type != protocol.PacketWelcome {
		t.Fatalf("expected Welcome, got type 0x%04X", frame.Type)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("acceptor did not shut down after cancellation")
	}
}
