package main

import (
	"context"
	"fmt"

	"github.com/mcdev12/planningpoker/go/internal/config"
	"github.com/mcdev12/planningpoker/go/internal/gateway"
	"github.com/mcdev12/planningpoker/go/internal/session"
	"github.com/mcdev12/planningpoker/go/internal/store"
)

type Services struct {
	App     *session.App
	Gateway *gateway.Service
}

// openStore connects the configured room store backend.
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	backend, err := store.ParseBackend(cfg.Store.Backend)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Store.Timeout)
	defer cancel()

	switch backend {
	case store.BackendRedis:
		return store.NewRedisStore(connectCtx, store.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
			Timeout:  cfg.Store.Timeout,
		})
	case store.BackendPostgres:
		return store.NewPostgresStore(connectCtx, cfg.Database.DSN())
	default:
		return store.NewMemoryStore(), nil
	}
}

func setupServices(app *session.App, cfg config.Config) (*Services, error) {
	// Session app → gateway (connections, REST, relay)
	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.ConnectionConfig.CheckOrigin = originChecker(cfg.AllowedOrigins)
	if cfg.NATS.Enabled() {
		gatewayConfig.RelayEnabled = true
		gatewayConfig.RelayConfig.URL = cfg.NATS.URL
		gatewayConfig.RelayConfig.StreamName = cfg.NATS.Stream
	}

	gatewayService, err := gateway.NewService(app, gatewayConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway service: %w", err)
	}

	return &Services{
		App:     app,
		Gateway: gatewayService,
	}, nil
}
