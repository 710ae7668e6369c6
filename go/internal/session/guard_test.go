package session

import (
	"errors"
	"testing"
	"time"

	"github.com/mcdev12/planningpoker/go/internal/models"
)

func TestAuthorize(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	room := models.NewRoom("ABCDEF", "owner", models.Task{}, now)
	for _, id := range []string{"owner", "member"} {
		if _, err := room.Join(id, id, false, now); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}
	orphan := room.Clone()
	orphan.OwnerID = ""

	tests := []struct {
		name    string
		room    *models.Room
		actor   string
		allowed bool
	}{
		{name: "owner", room: room, actor: "owner", allowed: true},
		{name: "member", room: room, actor: "member", allowed: false},
		{name: "outsider", room: room, actor: "stranger", allowed: false},
		{name: "member of ownerless room", room: orphan, actor: "member", allowed: true},
		{name: "outsider of ownerless room", room: orphan, actor: "stranger", allowed: false},
		{name: "empty actor of ownerless room", room: orphan, actor: "", allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.room, tt.actor)
			if tt.allowed && err != nil {
				t.Errorf("Expected %q to be allowed, got %v", tt.actor, err)
			}
			if !tt.allowed && !errors.Is(err, models.ErrUnauthorized) {
				t.Errorf("Expected ErrUnauthorized for %q, got %v", tt.actor, err)
			}
		})
	}
}
