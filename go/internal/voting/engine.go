// Package voting holds the round state machine and the aggregation rules that
// turn a set of revealed votes into a verdict.
package voting

import (
	"fmt"

	"github.com/mcdev12/planningpoker/go/internal/models"
)

// State is the phase of the current round.
type State string

const (
	StateCollecting State = "Collecting"
	StateRevealed   State = "Revealed"
)

// StateOf derives the round phase from the room.
func StateOf(room *models.Room) State {
	if room.Revealed {
		return StateRevealed
	}
	return StateCollecting
}

// CastVote records a player's vote, replacing any earlier vote of the round.
func CastVote(room *models.Room, playerID string, vote models.Vote) error {
	if room.Revealed {
		return fmt.Errorf("cast vote in room %s: %w", room.Code, models.ErrRoundClosed)
	}
	p, ok := room.Player(playerID)
	if !ok {
		return fmt.Errorf("cast vote: %w", models.ErrPlayerNotFound)
	}
	if p.Spectator {
		return fmt.Errorf("spectators cannot vote: %w", models.ErrUnauthorized)
	}
	v := vote
	p.Vote = &v
	return nil
}

// CanReveal checks the reveal guard: at least one vote, and when more than one
// player is present every online non-spectator has voted.
func CanReveal(room *models.Room) error {
	if room.Revealed {
		return fmt.Errorf("reveal room %s: %w", room.Code, models.ErrRoundClosed)
	}

	voted := 0
	for _, p := range room.Players {
		if p.HasVoted() {
			voted++
		}
	}
	if voted == 0 {
		return fmt.Errorf("reveal room %s: no votes cast: %w", room.Code, models.ErrIncompleteVoting)
	}

	if len(room.Players) > 1 {
		progress := ProgressOf(room)
		if progress.Voted < progress.Eligible {
			return fmt.Errorf("reveal room %s: %d of %d voted: %w",
				room.Code, progress.Voted, progress.Eligible, models.ErrIncompleteVoting)
		}
	}
	return nil
}

// Reveal closes the round and classifies the result.
func Reveal(room *models.Room) (models.Outcome, error) {
	if err := CanReveal(room); err != nil {
		return models.Outcome{}, err
	}
	outcome := Classify(Voters(room))
	room.Revealed = true
	room.Outcome = &outcome
	return outcome, nil
}

// Reset clears every vote and the previous outcome, starting a new round.
func Reset(room *models.Room) {
	for _, p := range room.Players {
		p.Vote = nil
	}
	room.Revealed = false
	room.Outcome = nil
}

// Voters lists the players holding a vote, ordered by tenure.
func Voters(room *models.Room) []models.Voter {
	var voters []models.Voter
	for _, p := range room.SortedPlayers() {
		if !p.HasVoted() {
			continue
		}
		voters = append(voters, models.Voter{
			PlayerID: p.ID,
			Name:     p.Name,
			Vote:     *p.Vote,
		})
	}
	return voters
}

// Progress counts votes among the players expected to vote.
type Progress struct {
	Voted    int `json:"voted"`
	Eligible int `json:"eligible"`
	Percent  int `json:"percent"`
}

// ProgressOf computes voting progress over online non-spectators.
func ProgressOf(room *models.Room) Progress {
	var pr Progress
	for _, p := range room.Players {
		if !p.CanVote() {
			continue
		}
		pr.Eligible++
		if p.HasVoted() {
			pr.Voted++
		}
	}
	if pr.Eligible > 0 {
		pr.Percent = pr.Voted * 100 / pr.Eligible
	}
	return pr
}
