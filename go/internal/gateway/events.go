package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/session"
	"github.com/mcdev12/planningpoker/go/internal/session/events"
	"github.com/rs/zerolog/log"
)

// CommandType is the type of a client frame.
type CommandType string

const (
	CommandVote   CommandType = "vote"
	CommandReveal CommandType = "reveal"
	CommandReset  CommandType = "reset"
	CommandKick   CommandType = "kick"
	CommandTask   CommandType = "task"
	CommandLeave  CommandType = "leave"
)

// ClientMessage is a command frame sent by a websocket client.
type ClientMessage struct {
	Type        CommandType `json:"type"`
	Value       string      `json:"value,omitempty"`
	PlayerID    string      `json:"player_id,omitempty"`
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
}

// UnmarshalJSON accepts a vote value sent either as a string or a number.
func (m *ClientMessage) UnmarshalJSON(data []byte) error {
	type plain ClientMessage
	var raw struct {
		plain
		Value json.RawMessage `json:"value,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = ClientMessage(raw.plain)
	m.Value = ""
	if len(raw.Value) == 0 || string(raw.Value) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.Value, &s); err == nil {
		m.Value = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw.Value, &n); err != nil {
		return err
	}
	m.Value = n.String()
	return nil
}

// decodeClientMessage parses a frame and rejects command types the gateway
// does not know.
func decodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", models.ErrMalformedCommand, err)
	}
	switch msg.Type {
	case CommandVote, CommandReveal, CommandReset, CommandKick, CommandTask, CommandLeave:
		return msg, nil
	case "":
		return ClientMessage{}, fmt.Errorf("%w: missing type", models.ErrMalformedCommand)
	default:
		return ClientMessage{}, fmt.Errorf("%w: unknown command %q", models.ErrMalformedCommand, msg.Type)
	}
}

// renderUpdate turns a committed update into the frames one viewer receives:
// the domain events first, then the viewer's snapshot.
func renderUpdate(u session.Update, viewerID string, now time.Time) ([]*events.Envelope, error) {
	room := u.Room
	out := make([]*events.Envelope, 0, len(u.Events)+1)
	for _, ev := range u.Events {
		env, err := events.NewEnvelope(room.Code, ev.Type, room.Version, now, ev.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}

	env, err := events.NewEnvelope(room.Code, events.EventTypeRoomSnapshot, room.Version, now, events.BuildView(room, viewerID))
	if err != nil {
		return nil, err
	}
	return append(out, env), nil
}

// errorEnvelope reports a rejected command to the client that sent it.
func errorEnvelope(roomCode string, err error, now time.Time) *events.Envelope {
	env, mErr := events.NewEnvelope(roomCode, events.EventTypeError, 0, now, events.ErrorPayload{
		Code:    models.ErrorCode(err),
		Message: err.Error(),
	})
	if mErr != nil {
		return &events.Envelope{RoomCode: roomCode, Type: events.EventTypeError, Timestamp: now}
	}
	return env
}

// httpStatus maps domain errors to HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrRoomNotFound), errors.Is(err, models.ErrPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrBanned), errors.Is(err, models.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, models.ErrInvalidVote), errors.Is(err, models.ErrMalformedCommand):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrRoundClosed), errors.Is(err, models.ErrRoomExists):
		return http.StatusConflict
	case errors.Is(err, models.ErrIncompleteVoting):
		return http.StatusPreconditionFailed
	case errors.Is(err, models.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError sends an error as a JSON body with the mapped status.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), events.ErrorPayload{
		Code:    models.ErrorCode(err),
		Message: err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
