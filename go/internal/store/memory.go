package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcdev12/planningpoker/go/internal/models"
)

// MemoryStore keeps rooms in process memory. Rooms are stored as deep
// copies so callers can never alias stored state.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*models.Room
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*models.Room)}
}

func (s *MemoryStore) CreateRoom(_ context.Context, room *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rooms[room.Code]; exists {
		return fmt.Errorf("room %s: %w", room.Code, models.ErrRoomExists)
	}
	s.rooms[room.Code] = room.Clone()
	return nil
}

func (s *MemoryStore) LoadRoom(_ context.Context, code string) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[code]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", code, models.ErrRoomNotFound)
	}
	return room.Clone(), nil
}

func (s *MemoryStore) SaveRoom(_ context.Context, room *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rooms[room.Code] = room.Clone()
	return nil
}

func (s *MemoryStore) DeleteRoom(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rooms, code)
	return nil
}

// Len returns the number of stored rooms.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

func (s *MemoryStore) Close() error { return nil }
