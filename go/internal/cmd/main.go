package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/planningpoker/go/internal/config"
	"github.com/mcdev12/planningpoker/go/internal/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	setupLogging(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	roomStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("failed to open room store")
	}
	defer roomStore.Close()

	app := session.NewApp(roomStore, clockwork.NewRealClock(), session.Config{
		PresenceGrace:    cfg.Session.PresenceGrace,
		RoomIdleTTL:      cfg.Session.RoomIdleTTL,
		SubscriberBuffer: cfg.Session.SubscriberBuffer,
	})
	defer app.Close()

	services, err := setupServices(app, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up gateway")
	}

	server := setupServer(services, cfg)

	log.Info().
		Str("addr", server.Addr).
		Str("store", cfg.Store.Backend).
		Bool("relay", cfg.NATS.Enabled()).
		Dur("presence_grace", cfg.Session.PresenceGrace).
		Dur("room_idle_ttl", cfg.Session.RoomIdleTTL).
		Msg("starting planning poker server")

	// Start gateway service (connection manager and relay)
	go func() {
		if err := services.Gateway.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stops the connection manager, which closes every socket.
	cancel()
	time.Sleep(500 * time.Millisecond)

	log.Info().Msg("planning poker server shutdown complete")
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		log.Warn().Str("level", level).Msg("unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
