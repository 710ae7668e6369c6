// Package store persists room records. Every backend satisfies the same
// contract: CreateRoom is check-then-create, SaveRoom replaces the whole
// record atomically, and unknown codes yield models.ErrRoomNotFound.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mcdev12/planningpoker/go/internal/models"
)

// Store is implemented by every backend.
type Store interface {
	CreateRoom(ctx context.Context, room *models.Room) error
	LoadRoom(ctx context.Context, code string) (*models.Room, error)
	SaveRoom(ctx context.Context, room *models.Room) error
	DeleteRoom(ctx context.Context, code string) error
	Close() error
}

// Backend names accepted by STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// ParseBackend validates a backend name.
func ParseBackend(name string) (string, error) {
	switch b := strings.ToLower(strings.TrimSpace(name)); b {
	case "", BackendMemory:
		return BackendMemory, nil
	case BackendRedis, BackendPostgres:
		return b, nil
	default:
		return "", fmt.Errorf("unknown store backend %q", name)
	}
}

func marshalRoom(room *models.Room) ([]byte, error) {
	data, err := json.Marshal(room)
	if err != nil {
		return nil, fmt.Errorf("marshal room %s: %w", room.Code, err)
	}
	return data, nil
}

func unmarshalRoom(code string, data []byte) (*models.Room, error) {
	var room models.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("unmarshal room %s: %w", code, err)
	}
	ensureMaps(&room)
	return &room, nil
}

func ensureMaps(room *models.Room) {
	if room.Players == nil {
		room.Players = make(map[string]*models.Player)
	}
	if room.KickedPlayers == nil {
		room.KickedPlayers = make(map[string]models.KickRecord)
	}
}
