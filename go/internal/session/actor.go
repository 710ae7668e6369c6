package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/session/events"
	"github.com/rs/zerolog/log"
)

// mutation edits the working copy of a room and reports whether anything
// changed. Returning an error discards the working copy.
type mutation func(room *models.Room, now time.Time) (changed bool, evs []Event, err error)

type command struct {
	ctx     context.Context
	name    string
	apply   mutation
	inspect func(room *models.Room)
	retire  bool
	reply   chan commandResult
}

type commandResult struct {
	err     error
	retired bool
}

// roomActor is the single writer of one room. Every command runs on its
// goroutine; readers use the last committed snapshot.
type roomActor struct {
	code  string
	store RoomStore
	clock Clock

	room     *models.Room
	snapshot atomic.Pointer[models.Room]
	broker   *broker

	// onCommit is told about every committed room so the registry can
	// arm or cancel idle eviction.
	onCommit func(room *models.Room)

	cmds     chan command
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newRoomActor(room *models.Room, store RoomStore, clock Clock, buffer int, onCommit func(*models.Room)) *roomActor {
	a := &roomActor{
		code:     room.Code,
		store:    store,
		clock:    clock,
		room:     room,
		broker:   newBroker(buffer),
		onCommit: onCommit,
		cmds:     make(chan command),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	a.snapshot.Store(room.Clone())
	return a
}

func (a *roomActor) run() {
	defer close(a.done)
	defer a.broker.close()

	log.Debug().Str("room_code", a.code).Msg("room actor started")
	for {
		select {
		case <-a.quit:
			log.Debug().Str("room_code", a.code).Msg("room actor stopped")
			return
		case cmd := <-a.cmds:
			res := a.execute(cmd)
			cmd.reply <- res
			if res.retired {
				log.Debug().Str("room_code", a.code).Msg("room actor retired")
				return
			}
		}
	}
}

func (a *roomActor) execute(cmd command) commandResult {
	switch {
	case cmd.inspect != nil:
		cmd.inspect(a.room)
		return commandResult{}
	case cmd.retire:
		return a.executeRetire(cmd)
	}

	now := a.clock.Now()
	working := a.room.Clone()
	previousOwner := working.OwnerID

	changed, evs, err := cmd.apply(working, now)
	if err != nil {
		log.Debug().
			Err(err).
			Str("room_code", a.code).
			Str("command", cmd.name).
			Msg("command rejected")
		return commandResult{err: err}
	}

	if working.OwnerID != previousOwner {
		changed = true
		evs = append(evs, ownerChangedEvent(working, previousOwner))
	}
	if !changed {
		return commandResult{}
	}

	working.Version++
	working.UpdatedAt = now
	if err := a.store.SaveRoom(cmd.ctx, working); err != nil {
		log.Error().
			Err(err).
			Str("room_code", a.code).
			Str("command", cmd.name).
			Msg("failed to save room, command discarded")
		return commandResult{err: fmt.Errorf("save room %s: %w: %v", a.code, models.ErrStorageUnavailable, err)}
	}

	a.room = working
	snap := working.Clone()
	a.snapshot.Store(snap)
	a.broker.publish(Update{Room: snap, Events: evs})
	if a.onCommit != nil {
		a.onCommit(snap)
	}
	return commandResult{}
}

// executeRetire deletes the room if it is still empty. Once retired the
// actor accepts no more commands.
func (a *roomActor) executeRetire(cmd command) commandResult {
	if len(a.room.Players) > 0 {
		return commandResult{}
	}
	if err := a.store.DeleteRoom(cmd.ctx, a.code); err != nil && !errors.Is(err, models.ErrRoomNotFound) {
		return commandResult{err: fmt.Errorf("delete room %s: %w: %v", a.code, models.ErrStorageUnavailable, err)}
	}
	return commandResult{retired: true}
}

func ownerChangedEvent(room *models.Room, previous string) Event {
	payload := events.OwnerChangedPayload{
		PreviousOwnerID: previous,
		NewOwnerID:      room.OwnerID,
	}
	if p, ok := room.Player(room.OwnerID); ok {
		payload.NewOwnerName = p.Name
	}

	log.Info().
		Str("room_code", room.Code).
		Str("previous_owner_id", previous).
		Str("new_owner_id", room.OwnerID).
		Msg("room ownership changed")

	return Event{Type: events.EventTypeOwnerChanged, Payload: payload}
}

// send hands cmd to the actor and waits for the answer. A stopped actor
// means the room was evicted.
func (a *roomActor) send(ctx context.Context, cmd command) (commandResult, error) {
	cmd.ctx = ctx
	cmd.reply = make(chan commandResult, 1)

	select {
	case a.cmds <- cmd:
	case <-a.done:
		return commandResult{}, fmt.Errorf("room %s: %w", a.code, models.ErrRoomNotFound)
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}

	select {
	case res := <-cmd.reply:
		return res, nil
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}
}

func (a *roomActor) do(ctx context.Context, name string, fn mutation) error {
	res, err := a.send(ctx, command{name: name, apply: fn})
	if err != nil {
		return err
	}
	return res.err
}

func (a *roomActor) inspect(ctx context.Context, fn func(room *models.Room)) error {
	_, err := a.send(ctx, command{name: "inspect", inspect: fn})
	return err
}

func (a *roomActor) retire(ctx context.Context) (bool, error) {
	res, err := a.send(ctx, command{name: "retire", retire: true})
	if err != nil {
		return false, err
	}
	return res.retired, res.err
}

// subscribe registers a subscriber between two commits and hands it the
// current room first, so it never misses or reorders an update.
func (a *roomActor) subscribe(ctx context.Context) (*Subscription, error) {
	var sub *Subscription
	err := a.inspect(ctx, func(*models.Room) {
		sub = a.broker.subscribe()
		a.broker.send(sub, Update{Room: a.snapshot.Load()})
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Snapshot returns the last committed room. Callers must not modify it.
func (a *roomActor) Snapshot() *models.Room {
	return a.snapshot.Load()
}

func (a *roomActor) stop() {
	a.stopOnce.Do(func() { close(a.quit) })
	<-a.done
}
