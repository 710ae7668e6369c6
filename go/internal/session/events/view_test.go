package events

import (
	"testing"
	"time"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/voting"
)

func votedRoom(t *testing.T) *models.Room {
	t.Helper()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	room := models.NewRoom("ABCDEF", "ada", models.Task{}, now)
	for i, id := range []string{"ada", "bob"} {
		if _, err := room.Join(id, id, false, now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}
	five, _ := models.ParseVote("5")
	eight, _ := models.ParseVote("8")
	if err := voting.CastVote(room, "ada", five); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if err := voting.CastVote(room, "bob", eight); err != nil {
		t.Fatalf("vote: %v", err)
	}
	return room
}

func TestBuildViewHidesVotesUntilReveal(t *testing.T) {
	room := votedRoom(t)

	tests := []struct {
		name    string
		viewer  string
		visible map[string]bool
	}{
		{name: "public", viewer: "", visible: map[string]bool{"ada": false, "bob": false}},
		{name: "ada", viewer: "ada", visible: map[string]bool{"ada": true, "bob": false}},
		{name: "bob", viewer: "bob", visible: map[string]bool{"ada": false, "bob": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := BuildView(room, tt.viewer)
			if view.State != voting.StateCollecting {
				t.Errorf("Expected Collecting, got %s", view.State)
			}
			for _, p := range view.Players {
				if !p.HasVoted {
					t.Errorf("Expected %s to show as voted", p.ID)
				}
				if got := p.Vote != nil; got != tt.visible[p.ID] {
					t.Errorf("Vote of %s visible=%v, expected %v", p.ID, got, tt.visible[p.ID])
				}
			}
		})
	}
}

func TestBuildViewAfterReveal(t *testing.T) {
	room := votedRoom(t)
	if _, err := voting.Reveal(room); err != nil {
		t.Fatalf("reveal: %v", err)
	}

	view := BuildView(room, "")
	if view.State != voting.StateRevealed || view.Outcome == nil {
		t.Fatalf("Expected revealed view with outcome, got %+v", view)
	}
	for _, p := range view.Players {
		if p.Vote == nil {
			t.Errorf("Expected vote of %s to be visible after reveal", p.ID)
		}
	}
	if view.Players[0].ID != "ada" || !view.Players[0].IsOwner {
		t.Errorf("Expected owner ada listed first, got %+v", view.Players[0])
	}
	if view.Progress.Voted != 2 || view.Progress.Percent != 100 {
		t.Errorf("Unexpected progress %+v", view.Progress)
	}
}

func TestSnapshotEnvelopeRoundTrip(t *testing.T) {
	room := votedRoom(t)
	env, err := NewEnvelope(room.Code, EventTypeRoomSnapshot, 7, time.Now().UTC(), BuildView(room, "ada"))
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if env.ID == "" || env.Version != 7 {
		t.Errorf("Unexpected envelope header %+v", env)
	}

	payload, err := ParseEventPayload(env)
	if err != nil {
		t.Fatalf("ParseEventPayload failed: %v", err)
	}
	view, ok := payload.(*RoomView)
	if !ok {
		t.Fatalf("Expected *RoomView, got %T", payload)
	}
	if view.ViewerID != "ada" || len(view.Players) != 2 {
		t.Errorf("Unexpected view %+v", view)
	}
	if view.Players[0].Vote == nil || view.Players[0].Vote.String() != "5" {
		t.Errorf("Expected ada to see her own 5, got %v", view.Players[0].Vote)
	}
}
