package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// RoomStore is the shared record store rooms are persisted in.
type RoomStore interface {
	// CreateRoom stores a new room, failing with models.ErrRoomExists if the
	// code is taken.
	CreateRoom(ctx context.Context, room *models.Room) error
	// LoadRoom fails with models.ErrRoomNotFound for unknown codes.
	LoadRoom(ctx context.Context, code string) (*models.Room, error)
	// SaveRoom replaces the whole room record in one atomic write.
	SaveRoom(ctx context.Context, room *models.Room) error
	DeleteRoom(ctx context.Context, code string) error
}

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
}

// RoomSummary describes a live room for operators.
type RoomSummary struct {
	Code        string    `json:"room_code"`
	Title       string    `json:"title"`
	Players     int       `json:"players"`
	OnlineCount int       `json:"online_count"`
	Revealed    bool      `json:"revealed"`
	Subscribers int       `json:"subscribers"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// evictionTimeout bounds the store delete done when an idle room is evicted.
const evictionTimeout = 5 * time.Second

type idleTimer struct {
	timer  clockwork.Timer
	cancel chan struct{}
}

// Registry maps room codes to their actors. Rooms are loaded from the store
// on first use and evicted once they have been empty for idleTTL.
type Registry struct {
	store   RoomStore
	clock   Clock
	idleTTL time.Duration
	buffer  int

	mu     sync.Mutex
	actors map[string]*roomActor
	closed bool
	loads  singleflight.Group

	timersMu   sync.Mutex
	idleTimers map[string]*idleTimer
}

// NewRegistry creates an empty registry.
func NewRegistry(store RoomStore, clock Clock, idleTTL time.Duration, subscriberBuffer int) *Registry {
	return &Registry{
		store:      store,
		clock:      clock,
		idleTTL:    idleTTL,
		buffer:     subscriberBuffer,
		actors:     make(map[string]*roomActor),
		idleTimers: make(map[string]*idleTimer),
	}
}

// create persists a brand new room and starts its actor.
func (r *Registry) create(ctx context.Context, room *models.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("registry closed: %w", models.ErrStorageUnavailable)
	}
	if _, ok := r.actors[room.Code]; ok {
		return fmt.Errorf("room %s: %w", room.Code, models.ErrRoomExists)
	}

	if err := r.store.CreateRoom(ctx, room); err != nil {
		if errors.Is(err, models.ErrRoomExists) {
			return err
		}
		return fmt.Errorf("create room %s: %w: %v", room.Code, models.ErrStorageUnavailable, err)
	}

	r.spawn(room)
	return nil
}

// get returns the actor of code, loading the room from the store if this
// process does not host it yet. Loads run outside r.mu; concurrent misses
// for the same code share one load.
func (r *Registry) get(ctx context.Context, code string) (*roomActor, error) {
	if a, hosted, err := r.hosted(code); hosted || err != nil {
		return a, err
	}

	v, err, _ := r.loads.Do(code, func() (interface{}, error) {
		room, err := r.store.LoadRoom(ctx, code)
		if err != nil {
			if errors.Is(err, models.ErrRoomNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("load room %s: %w: %v", code, models.ErrStorageUnavailable, err)
		}
		restore(room)

		r.mu.Lock()
		defer r.mu.Unlock()
		if a, ok := r.actors[code]; ok {
			return a, nil
		}
		if r.closed {
			return nil, fmt.Errorf("registry closed: %w", models.ErrStorageUnavailable)
		}
		log.Info().Str("room_code", code).Int("players", len(room.Players)).Msg("room loaded from store")
		return r.spawn(room), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*roomActor), nil
}

// hosted returns the actor of code when this process runs it.
func (r *Registry) hosted(code string) (*roomActor, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.actors[code]; ok {
		return a, true, nil
	}
	if r.closed {
		return nil, false, fmt.Errorf("registry closed: %w", models.ErrStorageUnavailable)
	}
	return nil, false, nil
}

// lookup returns a hosted actor without touching the store.
func (r *Registry) lookup(code string) (*roomActor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[code]
	return a, ok
}

// spawn starts the actor for room. Caller must hold r.mu.
func (r *Registry) spawn(room *models.Room) *roomActor {
	a := newRoomActor(room, r.store, r.clock, r.buffer, r.observe)
	r.actors[room.Code] = a
	go a.run()
	r.observe(room)
	return a
}

// restore marks every player of a stored room offline: their connections
// belonged to a process that no longer hosts the room. Ownership is
// reassessed the same way a disconnect would.
func restore(room *models.Room) {
	for id := range room.Players {
		room.SetOffline(id)
	}
	room.ReassignOwner()
}

// observe arms idle eviction for empty rooms and cancels it otherwise.
func (r *Registry) observe(room *models.Room) {
	if len(room.Players) == 0 {
		r.scheduleEviction(room.Code)
		return
	}
	r.cancelEviction(room.Code)
}

func (r *Registry) scheduleEviction(code string) {
	r.timersMu.Lock()
	defer r.timersMu.Unlock()

	if _, exists := r.idleTimers[code]; exists {
		return
	}

	it := &idleTimer{
		timer:  r.clock.NewTimer(r.idleTTL),
		cancel: make(chan struct{}),
	}
	r.idleTimers[code] = it

	go func() {
		select {
		case <-it.timer.Chan():
			r.timersMu.Lock()
			current := r.idleTimers[code] == it
			if current {
				delete(r.idleTimers, code)
			}
			r.timersMu.Unlock()
			if current {
				r.evict(code)
			}
		case <-it.cancel:
			stopAndDrainTimer(it.timer)
		}
	}()

	log.Debug().Str("room_code", code).Dur("idle_ttl", r.idleTTL).Msg("scheduled idle eviction")
}

func (r *Registry) cancelEviction(code string) {
	r.timersMu.Lock()
	defer r.timersMu.Unlock()

	if it, exists := r.idleTimers[code]; exists {
		close(it.cancel)
		delete(r.idleTimers, code)
		log.Debug().Str("room_code", code).Msg("cancelled idle eviction")
	}
}

// evict drops an idle room if it is still empty when asked.
func (r *Registry) evict(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.actors[code]
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), evictionTimeout)
	defer cancel()

	retired, err := a.retire(ctx)
	if err != nil {
		log.Error().Err(err).Str("room_code", code).Msg("failed to evict idle room")
		return
	}
	if !retired {
		return
	}
	delete(r.actors, code)
	log.Info().Str("room_code", code).Msg("evicted idle room")
}

// Summaries lists the rooms hosted by this process, ordered by code.
func (r *Registry) Summaries() []RoomSummary {
	r.mu.Lock()
	actors := make([]*roomActor, 0, len(r.actors))
	for _, a := range r.actors {
		actors = append(actors, a)
	}
	r.mu.Unlock()

	out := make([]RoomSummary, 0, len(actors))
	for _, a := range actors {
		room := a.Snapshot()
		out = append(out, RoomSummary{
			Code:        room.Code,
			Title:       room.Task.Title,
			Players:     len(room.Players),
			OnlineCount: room.OnlineCount(),
			Revealed:    room.Revealed,
			Subscribers: a.broker.count(),
			UpdatedAt:   room.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Close stops every actor and pending eviction. Rooms stay in the store.
func (r *Registry) Close() {
	r.timersMu.Lock()
	for code, it := range r.idleTimers {
		close(it.cancel)
		delete(r.idleTimers, code)
	}
	r.timersMu.Unlock()

	r.mu.Lock()
	r.closed = true
	actors := r.actors
	r.actors = make(map[string]*roomActor)
	r.mu.Unlock()

	for _, a := range actors {
		a.stop()
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
