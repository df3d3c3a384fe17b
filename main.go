package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"parley/internal/api"
	"parley/internal/auth"
	"parley/internal/commands"
	"parley/internal/config"
	"parley/internal/http"
	"parley/internal/presence"
	"parley/internal/storage"
	"parley/internal/ws"
)

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("parley", flag.ContinueOnError)
	showPresence := fs.Bool("presence", false, "Print the users a running server has online and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*showPresence)
	if err != nil {
		return err
	}

	if *showPresence {
		return commands.Presence(os.Stdout, cfg)
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	authService, err := auth.NewAuthService(ctx, auth.Config{
		Secret:      cfg.JWTSecret,
		TokenExpiry: cfg.TokenExpiry,
	}, bbStorage)
	if err != nil {
		return err
	}

	observers := []presence.Observer{presence.ObserverFunc(bbStorage.RecordStatus)}
	if cfg.RedisURL != "" {
		client, err := presence.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		mirror := presence.NewRedisMirror(client, logger)
		// Entries left behind by a previous run are stale.
		if err := mirror.Reset(ctx); err != nil {
			return err
		}
		observers = append(observers, mirror)
		logger.Info("mirroring presence to redis")
	}

	hub := ws.NewHub(ws.HubConfig{Logger: logger, Observers: observers})
	socket := ws.NewServer(authService, hub, ws.ServerConfig{
		AllowedOrigin: cfg.FrontendURL,
		QueueSize:     cfg.SendQueueSize,
		Logger:        logger,
	})

	handlers := api.New(authService, bbStorage, hub, api.Options{
		TokenExpiry: cfg.TokenExpiry,
		Logger:      logger,
	})

	apiServer := http.NewAPIServer(handlers, socket.HandleConnections, http.APIServerConfig{
		Addr:        cfg.APIAddr,
		FrontendURL: cfg.FrontendURL,
		Logger:      logger,
	})
	adminServer := http.NewAdminServer(api.NewAdminHandler(hub, logger), cfg.AdminAddr, logger)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gCtx)
		return nil
	})

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin server shutdown error", "error", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server shutdown error", "error", err)
		}
		<-hub.Done()
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}
