package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// departureTimeout bounds the room command run when a player goes away.
const departureTimeout = 5 * time.Second

type presenceKey struct {
	roomCode string
	playerID string
}

type pendingRemoval struct {
	timer  clockwork.Timer
	cancel chan struct{}
}

// departer applies a departure to a room.
type departer interface {
	depart(ctx context.Context, roomCode, playerID string, remove bool) error
}

// Presence counts live connections per player. When a player's last
// connection drops they are marked offline at once, which runs ownership
// failover, and removed from the room after the grace period unless they
// reconnect first.
type Presence struct {
	clock Clock
	grace time.Duration
	rooms departer

	mu      sync.Mutex
	conns   map[presenceKey]int
	pending map[presenceKey]*pendingRemoval
}

func newPresence(clock Clock, grace time.Duration, rooms departer) *Presence {
	return &Presence{
		clock:   clock,
		grace:   grace,
		rooms:   rooms,
		conns:   make(map[presenceKey]int),
		pending: make(map[presenceKey]*pendingRemoval),
	}
}

// Connected records a new live connection and cancels any pending removal.
func (p *Presence) Connected(roomCode, playerID string) {
	key := presenceKey{roomCode, playerID}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.conns[key]++
	if pr, ok := p.pending[key]; ok {
		close(pr.cancel)
		delete(p.pending, key)
		log.Debug().Str("room_code", roomCode).Str("player_id", playerID).Msg("player reconnected within grace period")
	}
}

// Disconnected records a dropped connection. Calls beyond the number of
// Connected calls are ignored.
func (p *Presence) Disconnected(roomCode, playerID string) {
	key := presenceKey{roomCode, playerID}

	p.mu.Lock()
	n, ok := p.conns[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	if n > 1 {
		p.conns[key] = n - 1
		p.mu.Unlock()
		return
	}
	delete(p.conns, key)
	immediate := p.grace <= 0
	if !immediate {
		p.scheduleRemoval(key)
	}
	p.mu.Unlock()

	log.Info().
		Str("room_code", roomCode).
		Str("player_id", playerID).
		Dur("grace", p.grace).
		Msg("player lost last connection")

	p.runDeparture(key, immediate)
}

// IsConnected reports whether the player has at least one live connection.
func (p *Presence) IsConnected(roomCode, playerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[presenceKey{roomCode, playerID}] > 0
}

// Connections returns the number of tracked live connections.
func (p *Presence) Connections() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for _, n := range p.conns {
		total += n
	}
	return total
}

// scheduleRemoval arms the grace timer. Caller must hold p.mu.
func (p *Presence) scheduleRemoval(key presenceKey) {
	if existing, ok := p.pending[key]; ok {
		close(existing.cancel)
	}

	pr := &pendingRemoval{
		timer:  p.clock.NewTimer(p.grace),
		cancel: make(chan struct{}),
	}
	p.pending[key] = pr

	go func() {
		select {
		case <-pr.timer.Chan():
			p.mu.Lock()
			current := p.pending[key] == pr
			if current {
				delete(p.pending, key)
			}
			p.mu.Unlock()
			if current {
				p.runDeparture(key, true)
			}
		case <-pr.cancel:
			stopAndDrainTimer(pr.timer)
		}
	}()
}

func (p *Presence) runDeparture(key presenceKey, remove bool) {
	ctx, cancel := context.WithTimeout(context.Background(), departureTimeout)
	defer cancel()

	if err := p.rooms.depart(ctx, key.roomCode, key.playerID, remove); err != nil {
		log.Warn().
			Err(err).
			Str("room_code", key.roomCode).
			Str("player_id", key.playerID).
			Bool("remove", remove).
			Msg("failed to apply departure")
	}
}

// close cancels every pending removal.
func (p *Presence) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, pr := range p.pending {
		close(pr.cancel)
		delete(p.pending, key)
	}
}
