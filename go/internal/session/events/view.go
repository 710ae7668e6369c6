package events

import (
	"time"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/voting"
)

// RoomView is the snapshot clients render. Votes stay hidden until reveal,
// except the viewer's own.
type RoomView struct {
	RoomCode    string          `json:"room_code"`
	Task        models.Task     `json:"task"`
	OwnerID     string          `json:"owner_id,omitempty"`
	State       voting.State    `json:"state"`
	Revealed    bool            `json:"revealed"`
	Players     []PlayerView    `json:"players"`
	Progress    voting.Progress `json:"progress"`
	OnlineCount int             `json:"online_count"`
	Outcome     *models.Outcome `json:"outcome,omitempty"`
	Version     uint64          `json:"version"`
	UpdatedAt   time.Time       `json:"updated_at"`

	// ViewerID is the player this view was rendered for; empty for observers.
	ViewerID string `json:"viewer_id,omitempty"`
}

// PlayerView is one row of the player list.
type PlayerView struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Online    bool         `json:"online"`
	Spectator bool         `json:"spectator"`
	IsOwner   bool         `json:"is_owner"`
	HasVoted  bool         `json:"has_voted"`
	Vote      *models.Vote `json:"vote,omitempty"`
	JoinedAt  time.Time    `json:"joined_at"`
}

// BuildView renders room for viewerID. Pass an empty viewer for the public view.
func BuildView(room *models.Room, viewerID string) RoomView {
	view := RoomView{
		RoomCode:    room.Code,
		Task:        room.Task,
		OwnerID:     room.OwnerID,
		State:       voting.StateOf(room),
		Revealed:    room.Revealed,
		Progress:    voting.ProgressOf(room),
		OnlineCount: room.OnlineCount(),
		Version:     room.Version,
		UpdatedAt:   room.UpdatedAt,
		ViewerID:    viewerID,
	}
	if room.Outcome != nil {
		o := *room.Outcome
		view.Outcome = &o
	}

	sorted := room.SortedPlayers()
	view.Players = make([]PlayerView, 0, len(sorted))
	for _, p := range sorted {
		pv := PlayerView{
			ID:        p.ID,
			Name:      p.Name,
			Online:    p.Online,
			Spectator: p.Spectator,
			IsOwner:   room.IsOwner(p.ID),
			HasVoted:  p.HasVoted(),
			JoinedAt:  p.JoinedAt,
		}
		if p.Vote != nil && (room.Revealed || (viewerID != "" && p.ID == viewerID)) {
			v := *p.Vote
			pv.Vote = &v
		}
		view.Players = append(view.Players, pv)
	}
	return view
}
