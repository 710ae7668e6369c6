package session

import (
	"fmt"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Authorize is the single owner check behind Reveal, Reset, Kick and task
// updates. The owner is always allowed. A room without an owner lets any of
// its current members act, never outsiders.
func Authorize(room *models.Room, actorID string) error {
	if room.IsOwner(actorID) {
		return nil
	}

	if room.OwnerID == "" {
		if _, ok := room.Player(actorID); ok {
			log.Warn().
				Str("room_code", room.Code).
				Str("player_id", actorID).
				Msg("room has no owner, allowing member to act as owner")
			return nil
		}
	}

	return fmt.Errorf("player %s in room %s: %w", actorID, room.Code, models.ErrUnauthorized)
}
