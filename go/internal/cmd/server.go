package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mcdev12/planningpoker/go/internal/config"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const serviceVersion = "1.0.0"

func setupServer(services *Services, cfg config.Config) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	// Register gateway routes (WebSocket and REST)
	services.Gateway.RegisterRoutes(mux)

	setupHealthCheck(mux)
	setupInfo(mux, services)

	handler := c.Handler(mux)

	return &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     h2c.NewHandler(handler, &http2.Server{}),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}

func setupInfo(mux *http.ServeMux, services *Services) {
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		stats := services.Gateway.GetStats()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"service":"planning-poker","version":%q,"connections":%d,"rooms":%d,"relay":%t}`,
			serviceVersion, stats.TotalConnections, stats.HostedRooms, stats.Relay)
	})
}

// originChecker builds the websocket origin check from the allowed origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, o := range allowed {
			if strings.EqualFold(strings.TrimSuffix(o, "/"), u.Scheme+"://"+u.Host) {
				return true
			}
		}
		return false
	}
}
