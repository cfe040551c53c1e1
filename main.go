package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/skorotkiewicz/gg-retro/internal/auth"
	"github.com/skorotkiewicz/gg-retro/internal/config"
	"github.com/skorotkiewicz/gg-retro/internal/dispatcher"
	"github.com/skorotkiewicz/gg-retro/internal/httpapi"
	"github.com/skorotkiewicz/gg-retro/internal/logging"
	"github.com/skorotkiewicz/gg-retro/internal/metrics"
	"github.com/skorotkiewicz/gg-retro/internal/presence"
	"github.com/skorotkiewicz/gg-retro/internal/server"
	"github.com/skorotkiewicz/gg-retro/internal/session"
	"github.com/skorotkiewicz/gg-retro/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	memoryMode := flag.Bool("memory", false, "run with in-memory repositories instead of opening the sqlite db")
	flag.Parse()

	printBanner()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *memoryMode {
		cfg.DB = ":memory:"
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	users, messages, tokens, closeDB, err := openRepositories(cfg, log)
	if err != nil {
		return fmt.Errorf("open repositories: %w", err)
	}
	defer closeDB()

	rec, registry := metrics.New()
	hub := presence.New()
	disp := dispatcher.New(users, messages, rec)

	deps := session.Deps{
		Users:      users,
		Messages:   messages,
		Presence:   hub,
		Dispatcher: disp,
		Logger:     log,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	secret := []byte(cfg.Security.JWTSecret)
	if len(secret) == 0 {
		secret = []byte("gg-retro-dev-secret-change-me")
		log.Warn("no security.jwt_secret configured; using an insecure development default")
	}
	issuer := auth.NewTokenIssuer(secret, cfg.Security.BcryptCost, 24*time.Hour)

	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr(),
		Handler: httpapi.NewRouter(httpapi.Config{
			Users:    users,
			Tokens:   tokens,
			Issuer:   issuer,
			Hostname: cfg.Hostname,
			GGPort:   cfg.GGPort,
			Registry: registry,
			Logger:   log,
		}),
	}

	ggSrv := server.New(cfg.GGAddr(), deps, hub, rec)

	errCh := make(chan error, 2)
	go func() {
		log.Info("http listener bound", zap.String("addr", cfg.HTTPAddr()))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		if err := ggSrv.Run(ctx); err != nil {
			errCh <- fmt.Errorf("gg: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		cancel()
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown error", zap.Error(err))
	}

	log.Info("server stopped gracefully")
	return nil
}

func openRepositories(cfg *config.Config, log *zap.Logger) (storage.UserRepository, storage.MessageRepository, storage.TokenRepository, func(), error) {
	if cfg.DB == "" || cfg.DB == ":memory:" {
		log.Info("running with in-memory repositories; data does not survive a restart")
		return storage.NewMemoryUserRepository(), storage.NewMemoryMessageRepository(), storage.NewMemoryTokenRepository(), func() {}, nil
	}

	db, err := storage.Open(cfg.DB)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	log.Info("opened sqlite database", zap.String("path", cfg.DB))
	return storage.NewSQLUserRepository(db),
		storage.NewSQLMessageRepository(db),
		storage.NewSQLTokenRepository(db),
		func() { db.Close() },
		nil
}

func printBanner() {
	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║           gg-retro  —  GG 6.0           ║")
	fmt.Println("║      retro instant-messaging server     ║")
	fmt.Println("╚════════════════════════════════════════╝")
	fmt.Println()
}
