// Package gateway serves rooms over HTTP and WebSocket: clients join and
// command a room on /ws/room, watch it on /ws/observe, and create or inspect
// rooms through the REST routes.
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/session"
	"github.com/mcdev12/planningpoker/go/internal/session/events"
	"github.com/rs/zerolog/log"
)

// RoomApp is the set of room operations the gateway drives.
type RoomApp interface {
	CreateRoom(ctx context.Context, task models.Task) (string, string, error)
	JoinRoom(ctx context.Context, code, name, playerID string, spectator bool) (events.JoinedPayload, error)
	CastVote(ctx context.Context, code, playerID, raw string) error
	Reveal(ctx context.Context, code, actorID string) (models.Outcome, error)
	Reset(ctx context.Context, code, actorID string) error
	KickPlayer(ctx context.Context, code, actorID, targetID string) error
	UpdateTask(ctx context.Context, code, actorID string, task models.Task) error
	Leave(ctx context.Context, code, playerID string) error

	Connected(code, playerID string)
	Disconnected(code, playerID string)
	Subscribe(ctx context.Context, code string) (*session.Subscription, error)
	View(ctx context.Context, code, viewerID string) (events.RoomView, error)
	Hosts(code string) bool
	ActiveRooms() []session.RoomSummary
	Connections() int
}

// Service is the room gateway: WebSocket connections, REST routes and the
// optional cross-instance relay.
type Service struct {
	app               RoomApp
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	relay             *Relay
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	RelayConfig      RelayConfig
	// RelayEnabled turns on the JetStream relay between instances.
	RelayEnabled bool
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		RelayConfig:      DefaultRelayConfig(),
	}
}

// NewService creates a new gateway service
func NewService(app RoomApp, config Config) (*Service, error) {
	connectionManager := NewConnectionManager(app, config.ConnectionConfig)

	var relay *Relay
	if config.RelayEnabled {
		var err error
		relay, err = NewRelay(app, connectionManager, config.RelayConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create relay: %w", err)
		}
		connectionManager.SetWatcher(relay)
	}

	return &Service{
		app:               app,
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(app, connectionManager, relay != nil),
		stateHandler:      NewStateHandler(app),
		relay:             relay,
	}, nil
}

// Start runs the connection manager and relay until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Bool("relay", s.relay != nil).Msg("starting room gateway service")

	go s.connectionManager.Start(ctx)

	if s.relay != nil {
		go func() {
			if err := s.relay.Start(ctx); err != nil {
				log.Error().Err(err).Msg("relay failed")
			}
		}()
	}

	<-ctx.Done()

	log.Info().Msg("room gateway service shutting down")
	return s.Stop()
}

// Stop gracefully shuts down the gateway service
func (s *Service) Stop() error {
	if s.relay != nil {
		if err := s.relay.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop relay")
		}
	}
	log.Info().Msg("room gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket and REST routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("room gateway routes registered")
}

// Stats summarises the gateway for the info endpoint.
type Stats struct {
	Service           string `json:"service"`
	Status            string `json:"status"`
	TotalConnections  int    `json:"total_connections"`
	PlayerConnections int    `json:"player_connections"`
	ActiveRooms       int    `json:"active_rooms"`
	HostedRooms       int    `json:"hosted_rooms"`
	Relay             bool   `json:"relay"`
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() Stats {
	conns := s.connectionManager.GetConnectionStats()
	return Stats{
		Service:           "poker_gateway",
		Status:            "running",
		TotalConnections:  conns.TotalConnections,
		PlayerConnections: s.app.Connections(),
		ActiveRooms:       conns.ActiveRooms,
		HostedRooms:       len(s.app.ActiveRooms()),
		Relay:             s.relay != nil,
	}
}
