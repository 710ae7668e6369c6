package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	DefaultTaskTitle       = "New Estimate"
	DefaultTaskDescription = "Add a more detailed description here."
)

// Task is the item being estimated.
type Task struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// NormalizeTask trims the task and fills in defaults for empty fields.
func NormalizeTask(t Task) Task {
	t.Title = strings.TrimSpace(t.Title)
	t.Description = strings.TrimSpace(t.Description)
	if t.Title == "" {
		t.Title = DefaultTaskTitle
	}
	if t.Description == "" {
		t.Description = DefaultTaskDescription
	}
	return t
}

// KickRecord remembers who removed a player and when.
type KickRecord struct {
	Name     string    `json:"name"`
	KickedBy string    `json:"kicked_by"`
	KickedAt time.Time `json:"kicked_at"`
}

// Room is one estimation session.
type Room struct {
	Code          string                `json:"code"`
	Task          Task                  `json:"task"`
	Players       map[string]*Player    `json:"players"`
	Revealed      bool                  `json:"revealed"`
	OwnerID       string                `json:"owner_id,omitempty"`
	KickedPlayers map[string]KickRecord `json:"kicked_players,omitempty"`
	Outcome       *Outcome              `json:"outcome,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
	Version       uint64                `json:"version"`
}

// NewRoom creates an empty room owned by ownerID.
func NewRoom(code, ownerID string, task Task, now time.Time) *Room {
	return &Room{
		Code:          code,
		Task:          NormalizeTask(task),
		Players:       make(map[string]*Player),
		OwnerID:       ownerID,
		KickedPlayers: make(map[string]KickRecord),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy of the room.
func (r *Room) Clone() *Room {
	cp := *r
	cp.Players = make(map[string]*Player, len(r.Players))
	for id, p := range r.Players {
		cp.Players[id] = p.clone()
	}
	cp.KickedPlayers = make(map[string]KickRecord, len(r.KickedPlayers))
	for id, k := range r.KickedPlayers {
		cp.KickedPlayers[id] = k
	}
	if r.Outcome != nil {
		o := r.Outcome.clone()
		cp.Outcome = &o
	}
	return &cp
}

// Player returns the player with the given id.
func (r *Room) Player(id string) (*Player, bool) {
	p, ok := r.Players[id]
	return p, ok
}

// IsKicked reports whether id was kicked from the room.
func (r *Room) IsKicked(id string) bool {
	_, ok := r.KickedPlayers[id]
	return ok
}

// IsOwner reports whether id currently holds ownership.
func (r *Room) IsOwner(id string) bool {
	return r.OwnerID != "" && r.OwnerID == id
}

// SortedPlayers returns players ordered by tenure.
func (r *Room) SortedPlayers() []*Player {
	players := make([]*Player, 0, len(r.Players))
	for _, p := range r.Players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		return joinedBefore(players[i], players[j])
	})
	return players
}

// OnlineCount returns the number of online players.
func (r *Room) OnlineCount() int {
	n := 0
	for _, p := range r.Players {
		if p.Online {
			n++
		}
	}
	return n
}

// Join admits a player, or brings an existing one back online. If the owner
// is not an online player afterwards, the longest-tenured online player is
// promoted, so a creator who never arrives does not lock the room.
func (r *Room) Join(id, name string, spectator bool, now time.Time) (*Player, error) {
	if r.IsKicked(id) {
		return nil, fmt.Errorf("join room %s: %w", r.Code, ErrBanned)
	}

	name = strings.TrimSpace(name)
	p, ok := r.Players[id]
	if ok {
		p.Online = true
		if name != "" {
			p.Name = name
		}
	} else {
		p = &Player{
			ID:        id,
			Name:      name,
			Online:    true,
			Spectator: spectator,
			JoinedAt:  now,
		}
		r.Players[id] = p
	}

	r.ReassignOwner()
	return p, nil
}

// SetOffline marks a player as disconnected. It returns false if the player
// is absent or already offline.
func (r *Room) SetOffline(id string) bool {
	p, ok := r.Players[id]
	if !ok || !p.Online {
		return false
	}
	p.Online = false
	return true
}

// RemovePlayer deletes a player. Removing an absent player is a no-op.
func (r *Room) RemovePlayer(id string) bool {
	if _, ok := r.Players[id]; !ok {
		return false
	}
	delete(r.Players, id)
	return true
}

// Kick removes target and bans its id from rejoining.
func (r *Room) Kick(actorID, targetID string, now time.Time) (KickRecord, error) {
	target, ok := r.Players[targetID]
	if !ok {
		return KickRecord{}, fmt.Errorf("kick %s: %w", targetID, ErrPlayerNotFound)
	}
	rec := KickRecord{
		Name:     target.Name,
		KickedBy: actorID,
		KickedAt: now,
	}
	r.KickedPlayers[targetID] = rec
	delete(r.Players, targetID)
	return rec, nil
}

// OwnerPresent reports whether the owner is an online player of the room.
func (r *Room) OwnerPresent() bool {
	p, ok := r.Players[r.OwnerID]
	return ok && p.Online
}

// NextOwner picks the online player with the longest tenure. It is a pure
// function of the player set so every observer computes the same answer.
func NextOwner(players map[string]*Player) string {
	var best *Player
	for _, p := range players {
		if !p.Online {
			continue
		}
		if best == nil || joinedBefore(p, best) {
			best = p
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

// OwnerChange describes an ownership transfer.
type OwnerChange struct {
	Previous string
	Next     string
}

// Changed reports whether the transfer moved ownership.
func (c OwnerChange) Changed() bool {
	return c.Previous != c.Next
}

// ReassignOwner promotes the longest-tenured online player when the owner is
// not an online player of the room, and unsets ownership when nobody is
// online. An owner who is present keeps the room.
func (r *Room) ReassignOwner() OwnerChange {
	change := OwnerChange{Previous: r.OwnerID, Next: r.OwnerID}
	if r.OwnerPresent() {
		return change
	}
	r.OwnerID = NextOwner(r.Players)
	change.Next = r.OwnerID
	return change
}
