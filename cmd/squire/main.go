package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/erazemk/squire/internal/api"
	"github.com/erazemk/squire/internal/clock"
	"github.com/erazemk/squire/internal/config"
	"github.com/erazemk/squire/internal/db"
	"github.com/erazemk/squire/internal/notify"
	"github.com/erazemk/squire/internal/relay"
	"github.com/erazemk/squire/internal/store"
	"github.com/erazemk/squire/internal/transfer"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	closeLog, err := setupLogger(cfg.LogPath, cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg); err != nil {
		slog.Error("server error", "error", err)
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check if DB exists, auto-init if not.
	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		database, password, err := initDatabase(cfg.DBPath, cfg.AdminUser)
		if err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		database.Close()

		printInitResult(cfg.DBPath, cfg.AdminUser, password)
		fmt.Println()
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	if err := db.EnsureSchema(database); err != nil {
		return fmt.Errorf("ensuring database schema: %w", err)
	}
	if err := store.SeedTransferSettings(ctx, database, cfg.TransferSettings()); err != nil {
		return err
	}
	slog.Info("database ready", "path", cfg.DBPath)

	jwtSecret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		return fmt.Errorf("loading JWT secret: %w", err)
	}

	hub := notify.NewHub()
	go hub.Run(ctx)

	// Notices go through redis when configured so every instance's hub
	// sees them; otherwise straight to the local hub.
	var pub notify.Publisher = hub
	if cfg.RedisAddr != "" {
		client, err := notify.NewRedisClient(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer client.Close()

		broker := notify.NewRedisBroker(client)
		if err := broker.Ping(ctx); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		if err := broker.Subscribe(ctx, hub); err != nil {
			return err
		}
		pub = broker
		slog.Info("notice fan-out via redis", "channel", notify.DefaultChannel)
	}

	clk := clock.NewSystem()
	notices := notify.NewService(database, pub, clk)

	var presence relay.Presence = relay.Always
	if cfg.RelayRequiresGM {
		presence = hub
	}
	rel := relay.New(presence, relay.WithTimeout(cfg.RelayTimeout))

	backend := &store.Backend{DB: database}
	coord := transfer.New(transfer.Deps{
		Inventory: backend,
		Directory: backend,
		Requests:  backend,
		Notifier:  notices,
		Relay:     rel,
		Settings:  backend,
	}, transfer.WithClock(clk))
	rel.Register(transfer.OpMoveItem, coord.RelayHandler())
	defer coord.Stop()

	if _, err := coord.Restore(ctx); err != nil {
		return fmt.Errorf("restoring open transfers: %w", err)
	}

	// Timers expire requests on time; the sweep catches anything a timer
	// missed, such as requests left open by another instance.
	sweeper := cron.New(cron.WithChain(
		cron.Recover(cronLogger{}),
		cron.SkipIfStillRunning(cronLogger{}),
	), cron.WithLogger(cronLogger{}))
	if _, err := sweeper.AddFunc(cfg.Sweep, func() {
		n, err := coord.ExpireOverdue(ctx)
		if err != nil {
			slog.Error("expiry sweep failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("expiry sweep", "expired", n)
		}
	}); err != nil {
		return fmt.Errorf("scheduling expiry sweep: %w", err)
	}
	if _, err := sweeper.AddFunc("@hourly", func() {
		n, err := store.PurgeRevokedTokens(ctx, database, clk.Now())
		if err != nil {
			slog.Error("token purge failed", "error", err)
			return
		}
		slog.Debug("purged revoked tokens", "count", n)
	}); err != nil {
		return fmt.Errorf("scheduling token purge: %w", err)
	}
	sweeper.Start()
	defer func() { <-sweeper.Stop().Done() }()

	router := api.NewRouter(api.Deps{
		DB:          database,
		JWTSecret:   jwtSecret,
		Coordinator: coord,
		Notices:     notices,
		Hub:         hub,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.LoggingMiddleware(router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server started", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("server stopped, closing database")
	return nil
}
