package voting

import (
	"errors"
	"testing"
	"time"

	"github.com/mcdev12/planningpoker/go/internal/models"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newRoom(t *testing.T, ids ...string) *models.Room {
	t.Helper()
	room := models.NewRoom("ROOMXX", "", models.Task{Title: "Login page"}, t0)
	for i, id := range ids {
		if _, err := room.Join(id, "name-"+id, false, t0.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("Join %s failed: %v", id, err)
		}
	}
	return room
}

func mustVote(t *testing.T, raw string) models.Vote {
	t.Helper()
	v, err := models.ParseVote(raw)
	if err != nil {
		t.Fatalf("ParseVote(%q) failed: %v", raw, err)
	}
	return v
}

func TestCastVoteKeepsLastValue(t *testing.T) {
	room := newRoom(t, "a")
	for _, raw := range []string{"1", "?", "13", "5"} {
		if err := CastVote(room, "a", mustVote(t, raw)); err != nil {
			t.Fatalf("CastVote(%s) failed: %v", raw, err)
		}
	}
	if got := room.Players["a"].Vote.String(); got != "5" {
		t.Errorf("Expected last vote 5 to be retained, got %s", got)
	}
}

func TestCastVoteRejections(t *testing.T) {
	room := newRoom(t, "a")
	room.Join("watcher", "Watcher", true, t0.Add(time.Minute))

	if err := CastVote(room, "ghost", mustVote(t, "3")); !errors.Is(err, models.ErrPlayerNotFound) {
		t.Errorf("Expected ErrPlayerNotFound, got %v", err)
	}
	if err := CastVote(room, "watcher", mustVote(t, "3")); !errors.Is(err, models.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized for spectator, got %v", err)
	}

	CastVote(room, "a", mustVote(t, "3"))
	if _, err := Reveal(room); err != nil {
		t.Fatalf("Reveal failed: %v", err)
	}
	if err := CastVote(room, "a", mustVote(t, "8")); !errors.Is(err, models.ErrRoundClosed) {
		t.Errorf("Expected ErrRoundClosed, got %v", err)
	}
	if got := room.Players["a"].Vote.String(); got != "3" {
		t.Errorf("Expected rejected vote to leave 3 in place, got %s", got)
	}
}

func TestRevealGuard(t *testing.T) {
	t.Run("no votes", func(t *testing.T) {
		room := newRoom(t, "a")
		if _, err := Reveal(room); !errors.Is(err, models.ErrIncompleteVoting) {
			t.Errorf("Expected ErrIncompleteVoting, got %v", err)
		}
	})

	t.Run("single player with a vote", func(t *testing.T) {
		room := newRoom(t, "a")
		CastVote(room, "a", mustVote(t, "2"))
		out, err := Reveal(room)
		if err != nil {
			t.Fatalf("Reveal failed: %v", err)
		}
		if out.Classification != models.ClassificationInconclusive {
			t.Errorf("Expected Inconclusive, got %s", out.Classification)
		}
	})

	t.Run("missing vote", func(t *testing.T) {
		room := newRoom(t, "a", "b", "c")
		CastVote(room, "a", mustVote(t, "2"))
		CastVote(room, "b", mustVote(t, "2"))
		if _, err := Reveal(room); !errors.Is(err, models.ErrIncompleteVoting) {
			t.Errorf("Expected ErrIncompleteVoting, got %v", err)
		}
		if room.Revealed {
			t.Error("Expected rejected reveal to leave the round open")
		}
	})

	t.Run("spectators and offline players are not waited for", func(t *testing.T) {
		room := newRoom(t, "a", "b", "c")
		room.Join("watcher", "Watcher", true, t0.Add(time.Minute))
		room.SetOffline("c")
		CastVote(room, "a", mustVote(t, "2"))
		CastVote(room, "b", mustVote(t, "3"))
		if _, err := Reveal(room); err != nil {
			t.Errorf("Expected reveal to succeed, got %v", err)
		}
	})

	t.Run("already revealed", func(t *testing.T) {
		room := newRoom(t, "a")
		CastVote(room, "a", mustVote(t, "2"))
		Reveal(room)
		if _, err := Reveal(room); !errors.Is(err, models.ErrRoundClosed) {
			t.Errorf("Expected ErrRoundClosed, got %v", err)
		}
	})
}

func TestResetStartsNewRound(t *testing.T) {
	room := newRoom(t, "a", "b")
	CastVote(room, "a", mustVote(t, "3"))
	CastVote(room, "b", mustVote(t, "∞"))
	if _, err := Reveal(room); err != nil {
		t.Fatalf("Reveal failed: %v", err)
	}
	if StateOf(room) != StateRevealed || room.Outcome == nil {
		t.Fatal("Expected revealed room with an outcome")
	}

	Reset(room)

	if StateOf(room) != StateCollecting {
		t.Errorf("Expected Collecting, got %s", StateOf(room))
	}
	if room.Outcome != nil {
		t.Error("Expected outcome to be cleared")
	}
	for id, p := range room.Players {
		if p.HasVoted() {
			t.Errorf("Expected vote of %s to be cleared", id)
		}
	}
}

func TestProgressOf(t *testing.T) {
	room := newRoom(t, "a", "b", "c", "d")
	room.Join("watcher", "Watcher", true, t0.Add(time.Minute))
	CastVote(room, "a", mustVote(t, "1"))

	got := ProgressOf(room)
	want := Progress{Voted: 1, Eligible: 4, Percent: 25}
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}
