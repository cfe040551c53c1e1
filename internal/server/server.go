// Package server implements the acceptor (spec §4.6): a plain accept
// loop that spawns one session controller per TCP connection and
// races every spawned session against a shared shutdown signal.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skorotkiewicz/gg-retro/internal/metrics"
	"github.com/skorotkiewicz/gg-retro/internal/presence"
	"github.com/skorotkiewicz/gg-retro/internal/session"
)

// metricsPollInterval is how often the acceptor samples the presence
// hub's online count into the metrics recorder.
const metricsPollInterval = 15 * time.Second

// Acceptor owns the GG wire listener and every session spawned from
// it.
type Acceptor struct {
	addr string
	deps session.Deps
	hub  *presence.Hub
	rec  *metrics.Recorder
	log  *zap.Logger

	listener net.Listener
	wg       sync.WaitGroup
}

// New builds an acceptor listening on addr. A nil recorder disables
// metrics polling.
func New(addr string, deps session.Deps, hub *presence.Hub, rec *metrics.Recorder) *Acceptor {
	if rec == nil {
		rec = metrics.Disabled()
	}
	return &Acceptor{addr: addr, deps: deps, hub: hub, rec: rec, log: deps.Logger}
}

// Run binds the listener and accepts connections until ctx is
// cancelled, spawning one session per connection. It returns once the
// listener is closed and every spawned session has returned.
func (a *Acceptor) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", a.addr, err)
	}
	a.listener = ln
	a.log.Info("gg listener bound", zap.String("addr", a.addr))

	a.wg.Add(1)
	go a.pollMetrics(ctx)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				a.wg.Wait()
				return nil
			default:
				return fmt.Errorf("server: accept: %w", err)
			}
		}

		a.wg.Add(1)
		go a.serve(ctx, conn)
	}
}

func (a *Acceptor) serve(ctx context.Context, conn net.Conn) {
	defer a.wg.Done()
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	ctrl := session.New(a.deps, conn)

	if err := ctrl.Run(ctx); err != nil {
		a.log.Info("session ended", zap.String("remote_addr", remote), zap.Error(err))
	} else {
		a.log.Debug("session closed", zap.String("remote_addr", remote))
	}
}

func (a *Acceptor) pollMetrics(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(metricsPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.rec.SetOnlineUsers(a.hub.Online())
		}
	}
}
