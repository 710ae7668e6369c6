// Package session coordinates live rooms: one actor goroutine per room applies
// commands in order, persists the result and fans snapshots out to
// subscribers, while presence tracking drives cleanup and owner failover.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/session/events"
	"github.com/mcdev12/planningpoker/go/internal/voting"
	"github.com/rs/zerolog/log"
)

// AnonymousName is used for players joining without a display name.
const AnonymousName = "Anonymous"

// Config tunes presence and room lifetime.
type Config struct {
	PresenceGrace    time.Duration
	RoomIdleTTL      time.Duration
	SubscriberBuffer int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		PresenceGrace:    0,
		RoomIdleTTL:      5 * time.Minute,
		SubscriberBuffer: 64,
	}
}

// App exposes the room operations used by the gateway.
type App struct {
	registry *Registry
	presence *Presence
	clock    Clock

	newCode func() string
	newID   func() string
}

// NewApp wires a registry and presence tracker over store.
func NewApp(store RoomStore, clock Clock, cfg Config) *App {
	app := &App{
		clock:    clock,
		registry: NewRegistry(store, clock, cfg.RoomIdleTTL, cfg.SubscriberBuffer),
		newCode:  NewRoomCode,
		newID:    NewPlayerID,
	}
	app.presence = newPresence(clock, cfg.PresenceGrace, app)
	return app
}

// CreateRoom opens a room for task and returns its code and the owner id
// the creator should join with.
func (a *App) CreateRoom(ctx context.Context, task models.Task) (string, string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := a.newCode()
		ownerID := a.newID()
		room := models.NewRoom(code, ownerID, task, a.clock.Now())

		err := a.registry.create(ctx, room)
		if errors.Is(err, models.ErrRoomExists) {
			log.Debug().Str("room_code", code).Int("attempt", attempt+1).Msg("room code collision, retrying")
			continue
		}
		if err != nil {
			return "", "", err
		}

		log.Info().
			Str("room_code", code).
			Str("owner_id", ownerID).
			Str("title", room.Task.Title).
			Msg("room created")
		return code, ownerID, nil
	}
	return "", "", fmt.Errorf("no free room code after %d attempts: %w", maxCodeAttempts, models.ErrStorageUnavailable)
}

// JoinRoom admits playerID, generating an id when empty, or brings a known
// player back online. A returning player keeps their name unless a new one
// is given.
func (a *App) JoinRoom(ctx context.Context, code, name, playerID string, spectator bool) (events.JoinedPayload, error) {
	var joined events.JoinedPayload

	actor, err := a.actor(ctx, code)
	if err != nil {
		return joined, err
	}
	if playerID == "" {
		playerID = a.newID()
	}
	name = strings.TrimSpace(name)

	err = actor.do(ctx, "join", func(room *models.Room, now time.Time) (bool, []Event, error) {
		display := name
		if _, known := room.Player(playerID); !known && display == "" {
			display = AnonymousName
		}
		p, err := room.Join(playerID, display, spectator, now)
		if err != nil {
			return false, nil, err
		}
		joined = events.JoinedPayload{
			PlayerID:  p.ID,
			Name:      p.Name,
			Spectator: p.Spectator,
			IsOwner:   room.IsOwner(p.ID),
		}
		return true, nil, nil
	})
	if err != nil {
		if errors.Is(err, models.ErrBanned) {
			log.Info().Str("room_code", actor.code).Str("player_id", playerID).Msg("kicked player tried to rejoin")
		}
		return events.JoinedPayload{}, err
	}

	log.Info().
		Str("room_code", actor.code).
		Str("player_id", joined.PlayerID).
		Str("name", joined.Name).
		Bool("spectator", joined.Spectator).
		Bool("is_owner", joined.IsOwner).
		Msg("player joined room")
	return joined, nil
}

// CastVote parses raw and records it as the player's vote for this round.
func (a *App) CastVote(ctx context.Context, code, playerID, raw string) error {
	vote, err := models.ParseVote(raw)
	if err != nil {
		return err
	}
	actor, err := a.actor(ctx, code)
	if err != nil {
		return err
	}
	return actor.do(ctx, "vote", func(room *models.Room, _ time.Time) (bool, []Event, error) {
		if err := voting.CastVote(room, playerID, vote); err != nil {
			return false, nil, err
		}
		return true, nil, nil
	})
}

// Reveal closes the round and returns its classification.
func (a *App) Reveal(ctx context.Context, code, actorID string) (models.Outcome, error) {
	var outcome models.Outcome

	actor, err := a.actor(ctx, code)
	if err != nil {
		return outcome, err
	}
	err = actor.do(ctx, "reveal", func(room *models.Room, _ time.Time) (bool, []Event, error) {
		if err := Authorize(room, actorID); err != nil {
			return false, nil, err
		}
		out, err := voting.Reveal(room)
		if err != nil {
			return false, nil, err
		}
		outcome = out
		return true, []Event{{
			Type:    events.EventTypeVotesRevealed,
			Payload: events.VotesRevealedPayload{RevealedBy: actorID, Outcome: out},
		}}, nil
	})
	if err != nil {
		return models.Outcome{}, err
	}

	log.Info().
		Str("room_code", actor.code).
		Str("classification", string(outcome.Classification)).
		Int("voter_count", outcome.VoterCount).
		Msg("votes revealed")
	return outcome, nil
}

// Reset clears every vote and starts a new round.
func (a *App) Reset(ctx context.Context, code, actorID string) error {
	actor, err := a.actor(ctx, code)
	if err != nil {
		return err
	}
	return actor.do(ctx, "reset", func(room *models.Room, _ time.Time) (bool, []Event, error) {
		if err := Authorize(room, actorID); err != nil {
			return false, nil, err
		}
		voting.Reset(room)
		return true, []Event{{
			Type:    events.EventTypeRoundReset,
			Payload: events.RoundResetPayload{ResetBy: actorID},
		}}, nil
	})
}

// KickPlayer removes targetID and bans it from rejoining.
func (a *App) KickPlayer(ctx context.Context, code, actorID, targetID string) error {
	actor, err := a.actor(ctx, code)
	if err != nil {
		return err
	}

	var kicked events.PlayerKickedPayload
	err = actor.do(ctx, "kick", func(room *models.Room, now time.Time) (bool, []Event, error) {
		if err := Authorize(room, actorID); err != nil {
			return false, nil, err
		}
		if actorID == targetID {
			return false, nil, fmt.Errorf("player %s cannot kick themselves: %w", actorID, models.ErrUnauthorized)
		}
		rec, err := room.Kick(actorID, targetID, now)
		if err != nil {
			return false, nil, err
		}
		kicked = events.PlayerKickedPayload{PlayerID: targetID, Name: rec.Name, KickedBy: actorID}
		return true, []Event{{Type: events.EventTypePlayerKicked, Payload: kicked}}, nil
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("room_code", actor.code).
		Str("player_id", targetID).
		Str("kicked_by", actorID).
		Msg("player kicked")
	return nil
}

// UpdateTask replaces the task being estimated.
func (a *App) UpdateTask(ctx context.Context, code, actorID string, task models.Task) error {
	actor, err := a.actor(ctx, code)
	if err != nil {
		return err
	}
	task = models.NormalizeTask(task)
	return actor.do(ctx, "task", func(room *models.Room, _ time.Time) (bool, []Event, error) {
		if err := Authorize(room, actorID); err != nil {
			return false, nil, err
		}
		if room.Task == task {
			return false, nil, nil
		}
		room.Task = task
		return true, nil, nil
	})
}

// Leave removes the player right away. Leaving twice is a no-op.
func (a *App) Leave(ctx context.Context, code, playerID string) error {
	actor, err := a.actor(ctx, code)
	if err != nil {
		return err
	}
	return actor.do(ctx, "leave", departure(playerID, true))
}

// depart is the presence path: it skips players that reconnected meanwhile.
func (a *App) depart(ctx context.Context, code, playerID string, remove bool) error {
	actor, ok := a.registry.lookup(code)
	if !ok {
		return nil
	}
	leave := departure(playerID, remove)
	return actor.do(ctx, "depart", func(room *models.Room, now time.Time) (bool, []Event, error) {
		if a.presence.IsConnected(code, playerID) {
			return false, nil, nil
		}
		return leave(room, now)
	})
}

// departure marks the player offline, optionally removes them, and lets
// ownership fail over if the owner is gone.
func departure(playerID string, remove bool) mutation {
	return func(room *models.Room, _ time.Time) (bool, []Event, error) {
		changed := room.SetOffline(playerID)
		if remove {
			changed = room.RemovePlayer(playerID) || changed
		}
		room.ReassignOwner()
		return changed, nil, nil
	}
}

// Connected tells presence that a connection for the player is live.
func (a *App) Connected(code, playerID string) {
	a.presence.Connected(NormalizeRoomCode(code), playerID)
}

// Disconnected tells presence that one of the player's connections dropped.
func (a *App) Disconnected(code, playerID string) {
	a.presence.Disconnected(NormalizeRoomCode(code), playerID)
}

// Subscribe streams the room: the current snapshot first, then one update
// per committed change.
func (a *App) Subscribe(ctx context.Context, code string) (*Subscription, error) {
	actor, err := a.actor(ctx, code)
	if err != nil {
		return nil, err
	}
	return actor.subscribe(ctx)
}

// Snapshot returns a copy of the last committed room.
func (a *App) Snapshot(ctx context.Context, code string) (*models.Room, error) {
	actor, err := a.actor(ctx, code)
	if err != nil {
		return nil, err
	}
	return actor.Snapshot().Clone(), nil
}

// View renders the room as viewerID sees it.
func (a *App) View(ctx context.Context, code, viewerID string) (events.RoomView, error) {
	actor, err := a.actor(ctx, code)
	if err != nil {
		return events.RoomView{}, err
	}
	return events.BuildView(actor.Snapshot(), viewerID), nil
}

// Hosts reports whether this process currently runs the room.
func (a *App) Hosts(code string) bool {
	_, ok := a.registry.lookup(NormalizeRoomCode(code))
	return ok
}

// ActiveRooms lists the rooms hosted by this process.
func (a *App) ActiveRooms() []RoomSummary {
	return a.registry.Summaries()
}

// Connections returns the number of live player connections.
func (a *App) Connections() int {
	return a.presence.Connections()
}

// Close stops all room actors and timers.
func (a *App) Close() {
	a.presence.close()
	a.registry.Close()
}

func (a *App) actor(ctx context.Context, code string) (*roomActor, error) {
	code = NormalizeRoomCode(code)
	if !ValidRoomCode(code) {
		return nil, fmt.Errorf("room %q: %w", code, models.ErrRoomNotFound)
	}
	return a.registry.get(ctx, code)
}
