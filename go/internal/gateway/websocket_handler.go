package gateway

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/session"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for rooms
type WebSocketHandler struct {
	app               RoomApp
	connectionManager *ConnectionManager
	relayEnabled      bool
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(app RoomApp, cm *ConnectionManager, relayEnabled bool) *WebSocketHandler {
	return &WebSocketHandler{
		app:               app,
		connectionManager: cm,
		relayEnabled:      relayEnabled,
	}
}

// HandleRoomConnection joins the caller to a room and upgrades the request.
// Join failures are answered with a plain HTTP error before upgrading.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	roomCode := session.NormalizeRoomCode(query.Get("room_code"))
	if roomCode == "" {
		http.Error(w, "room_code is required", http.StatusBadRequest)
		return
	}

	playerID := query.Get("player_id")
	if playerID == "" {
		playerID = session.NewPlayerID()
	}
	spectator, _ := strconv.ParseBool(query.Get("spectator"))

	// Presence is marked first so a concurrent departure of an older
	// connection cannot remove the player we are about to admit.
	h.app.Connected(roomCode, playerID)

	joined, err := h.app.JoinRoom(r.Context(), roomCode, query.Get("name"), playerID, spectator)
	if err != nil {
		h.app.Disconnected(roomCode, playerID)
		log.Info().
			Err(err).
			Str("room_code", roomCode).
			Str("player_id", playerID).
			Msg("join rejected")
		writeError(w, err)
		return
	}

	sub, err := h.app.Subscribe(r.Context(), roomCode)
	if err != nil {
		h.app.Disconnected(roomCode, playerID)
		writeError(w, err)
		return
	}

	if err := h.connectionManager.AttachPlayer(w, r, joined, roomCode, sub); err != nil {
		sub.Close()
		h.app.Disconnected(roomCode, playerID)
		log.Error().
			Err(err).
			Str("room_code", roomCode).
			Str("player_id", playerID).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleObserveConnection streams a room read-only. Rooms hosted by another
// instance are followed through the relay.
func (h *WebSocketHandler) HandleObserveConnection(w http.ResponseWriter, r *http.Request) {
	roomCode := session.NormalizeRoomCode(r.URL.Query().Get("room_code"))
	if !session.ValidRoomCode(roomCode) {
		writeError(w, fmt.Errorf("room %q: %w", roomCode, models.ErrRoomNotFound))
		return
	}

	var sub *session.Subscription
	if h.app.Hosts(roomCode) || !h.relayEnabled {
		var err error
		sub, err = h.app.Subscribe(r.Context(), roomCode)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	if err := h.connectionManager.AttachObserver(w, r, roomCode, sub); err != nil {
		if sub != nil {
			sub.Close()
		}
		log.Error().
			Err(err).
			Str("room_code", roomCode).
			Msg("failed to upgrade observer connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/room", h.HandleRoomConnection)
	mux.HandleFunc("/ws/observe", h.HandleObserveConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
