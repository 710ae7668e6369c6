package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/session"
	"github.com/rs/zerolog/log"
)

// CreateRoomRequest is the body of POST /api/rooms
type CreateRoomRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CreateRoomResponse tells the creator where to join and with which id
type CreateRoomResponse struct {
	RoomCode string `json:"room_code"`
	OwnerID  string `json:"owner_id"`
}

// StateHandler handles the REST side of rooms
type StateHandler struct {
	app RoomApp
}

// NewStateHandler creates a new state handler
func NewStateHandler(app RoomApp) *StateHandler {
	return &StateHandler{app: app}
}

// HandleCreateRoom handles POST /api/rooms
func (h *StateHandler) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CreateRoomRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	code, ownerID, err := h.app.CreateRoom(r.Context(), models.Task{Title: req.Title, Description: req.Description})
	if err != nil {
		log.Error().Err(err).Msg("failed to create room")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateRoomResponse{RoomCode: code, OwnerID: ownerID})
}

// HandleGetRoomState handles GET /api/rooms/{code}/state
func (h *StateHandler) HandleGetRoomState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	code := session.NormalizeRoomCode(extractRoomCodeFromPath(r.URL.Path))
	if code == "" {
		http.Error(w, "Room code is required", http.StatusBadRequest)
		return
	}
	if !session.ValidRoomCode(code) {
		writeError(w, fmt.Errorf("room %q: %w", code, models.ErrRoomNotFound))
		return
	}

	// Public view: nobody's hidden vote is disclosed.
	view, err := h.app.View(r.Context(), code, "")
	if err != nil {
		log.Debug().Err(err).Str("room_code", code).Msg("failed to get room state")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleGetActiveRooms handles GET /api/rooms/active
func (h *StateHandler) HandleGetActiveRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.app.ActiveRooms())
}

// RegisterStateRoutes registers room HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/rooms", h.HandleCreateRoom)
	mux.HandleFunc("/api/rooms/active", h.HandleGetActiveRooms)

	mux.HandleFunc("/api/rooms/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/state") {
			h.HandleGetRoomState(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

// extractRoomCodeFromPath extracts the code from /api/rooms/{code}/state
func extractRoomCodeFromPath(path string) string {
	const prefix = "/api/rooms/"
	const suffix = "/state"

	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return ""
	}
	if len(path) <= len(prefix)+len(suffix) {
		return ""
	}
	return path[len(prefix) : len(path)-len(suffix)]
}
