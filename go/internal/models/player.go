package models

import "time"

// Player is a participant of a room.
type Player struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Vote      *Vote     `json:"vote,omitempty"`
	Online    bool      `json:"online"`
	Spectator bool      `json:"spectator,omitempty"`
	JoinedAt  time.Time `json:"joined_at"`
}

// HasVoted reports whether the player has a vote in the current round.
func (p *Player) HasVoted() bool {
	return p.Vote != nil
}

// CanVote reports whether the player counts towards the reveal guard.
func (p *Player) CanVote() bool {
	return p.Online && !p.Spectator
}

func (p *Player) clone() *Player {
	cp := *p
	if p.Vote != nil {
		v := *p.Vote
		cp.Vote = &v
	}
	return &cp
}

// joinedBefore orders players by tenure, falling back to id for equal timestamps.
func joinedBefore(a, b *Player) bool {
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return a.ID < b.ID
}
