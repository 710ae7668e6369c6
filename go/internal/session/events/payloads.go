package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/planningpoker/go/internal/models"
)

// Envelope is the frame every room event travels in, over websockets and NATS.
type Envelope struct {
	ID        string          `json:"id"`        // Event UUID
	RoomCode  string          `json:"room_code"` // Room the event belongs to
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Version   uint64          `json:"version"`   // Room version that produced the event
	Origin    string          `json:"origin,omitempty"`
	Data      json.RawMessage `json:"data"` // Event-specific payload
}

// EventType represents the type of room event
type EventType string

const (
	EventTypeJoined        EventType = "Joined"
	EventTypeRoomSnapshot  EventType = "RoomSnapshot"
	EventTypeVotesRevealed EventType = "VotesRevealed"
	EventTypeRoundReset    EventType = "RoundReset"
	EventTypeOwnerChanged  EventType = "OwnerChanged"
	EventTypePlayerKicked  EventType = "PlayerKicked"
	EventTypeError         EventType = "Error"
)

// NewEnvelope marshals payload into a fresh envelope.
func NewEnvelope(roomCode string, eventType EventType, version uint64, at time.Time, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Envelope{
		ID:        uuid.New().String(),
		RoomCode:  roomCode,
		Type:      eventType,
		Timestamp: at,
		Version:   version,
		Data:      data,
	}, nil
}

// JoinedPayload is sent to a client once its join is accepted.
type JoinedPayload struct {
	PlayerID  string `json:"player_id"`
	Name      string `json:"name"`
	Spectator bool   `json:"spectator"`
	IsOwner   bool   `json:"is_owner"`
}

// VotesRevealedPayload carries the classification of a revealed round.
type VotesRevealedPayload struct {
	RevealedBy string         `json:"revealed_by"`
	Outcome    models.Outcome `json:"outcome"`
}

// RoundResetPayload announces a new round.
type RoundResetPayload struct {
	ResetBy string `json:"reset_by"`
}

// OwnerChangedPayload is emitted on ownership failover.
type OwnerChangedPayload struct {
	PreviousOwnerID string `json:"previous_owner_id,omitempty"`
	NewOwnerID      string `json:"new_owner_id,omitempty"`
	NewOwnerName    string `json:"new_owner_name,omitempty"`
}

// PlayerKickedPayload tells the room, and the kicked player, who was removed.
type PlayerKickedPayload struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	KickedBy string `json:"kicked_by"`
}

// ErrorPayload reports a rejected command to the client that sent it.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseEventPayload parses envelope data into the matching payload struct.
func ParseEventPayload(env *Envelope) (any, error) {
	var payload any
	switch env.Type {
	case EventTypeJoined:
		payload = &JoinedPayload{}
	case EventTypeRoomSnapshot:
		payload = &RoomView{}
	case EventTypeVotesRevealed:
		payload = &VotesRevealedPayload{}
	case EventTypeRoundReset:
		payload = &RoundResetPayload{}
	case EventTypeOwnerChanged:
		payload = &OwnerChangedPayload{}
	case EventTypePlayerKicked:
		payload = &PlayerKickedPayload{}
	case EventTypeError:
		payload = &ErrorPayload{}
	default:
		return nil, nil // Unknown event type
	}
	if err := json.Unmarshal(env.Data, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
