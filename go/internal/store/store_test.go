package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mcdev12/planningpoker/go/internal/models"
)

func sampleRoom(t *testing.T) *models.Room {
	t.Helper()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	room := models.NewRoom("QWERTY", "p1", models.Task{Title: "Checkout"}, now)
	room.Join("p1", "Ana", false, now)
	room.Join("p2", "Bo", true, now.Add(time.Second))
	room.Join("p3", "Cy", false, now.Add(2*time.Second))
	v, err := models.ParseVote("∞")
	if err != nil {
		t.Fatalf("ParseVote failed: %v", err)
	}
	room.Players["p1"].Vote = &v
	if _, err := room.Kick("p1", "p3", now.Add(time.Minute)); err != nil {
		t.Fatalf("Kick failed: %v", err)
	}
	room.Version = 7
	return room
}

func TestMemoryStoreContract(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	room := sampleRoom(t)

	if _, err := s.LoadRoom(ctx, room.Code); !errors.Is(err, models.ErrRoomNotFound) {
		t.Fatalf("Expected ErrRoomNotFound, got %v", err)
	}
	if err := s.CreateRoom(ctx, room); err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if err := s.CreateRoom(ctx, room); !errors.Is(err, models.ErrRoomExists) {
		t.Fatalf("Expected ErrRoomExists, got %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	room.Players["p1"].Name = "changed"
	loaded, err := s.LoadRoom(ctx, room.Code)
	if err != nil {
		t.Fatalf("LoadRoom failed: %v", err)
	}
	if loaded.Players["p1"].Name != "Ana" {
		t.Errorf("Expected stored name Ana, got %q", loaded.Players["p1"].Name)
	}

	loaded.Revealed = true
	if err := s.SaveRoom(ctx, loaded); err != nil {
		t.Fatalf("SaveRoom failed: %v", err)
	}
	again, _ := s.LoadRoom(ctx, room.Code)
	if !again.Revealed {
		t.Error("Expected saved room to be revealed")
	}

	if err := s.DeleteRoom(ctx, room.Code); err != nil {
		t.Fatalf("DeleteRoom failed: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Expected empty store, got %d rooms", s.Len())
	}
}

func TestRedisFieldEncoding(t *testing.T) {
	room := sampleRoom(t)

	fields, err := encodeRoomFields(room)
	if err != nil {
		t.Fatalf("encodeRoomFields failed: %v", err)
	}
	for _, field := range []string{fieldRoom, "player:p1", "player:p2", "kicked:p3"} {
		if _, ok := fields[field]; !ok {
			t.Errorf("Expected field %q", field)
		}
	}

	raw := make(map[string]string, len(fields))
	for k, v := range fields {
		raw[k] = v.(string)
	}
	decoded, err := decodeRoomFields(room.Code, raw)
	if err != nil {
		t.Fatalf("decodeRoomFields failed: %v", err)
	}

	if decoded.Version != 7 || decoded.OwnerID != "p1" || decoded.Task.Title != "Checkout" {
		t.Errorf("Unexpected header %+v", decoded)
	}
	if len(decoded.Players) != 2 {
		t.Fatalf("Expected 2 players, got %d", len(decoded.Players))
	}
	if got := decoded.Players["p1"].Vote.String(); got != "∞" {
		t.Errorf("Expected vote ∞, got %s", got)
	}
	if !decoded.Players["p2"].Spectator {
		t.Error("Expected p2 to stay a spectator")
	}
	if !decoded.IsKicked("p3") || decoded.KickedPlayers["p3"].Name != "Cy" {
		t.Errorf("Expected kick record for p3, got %+v", decoded.KickedPlayers)
	}
}

func TestDecodeRoomFieldsWithoutHeader(t *testing.T) {
	_, err := decodeRoomFields("QWERTY", map[string]string{"player:p1": `{"id":"p1"}`})
	if !errors.Is(err, models.ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound, got %v", err)
	}
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: BackendMemory},
		{in: "Redis", want: BackendRedis},
		{in: " postgres ", want: BackendPostgres},
		{in: "etcd", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseBackend(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBackend(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseBackend(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRedisStoreContract(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	s, err := NewRedisStore(ctx, RedisConfig{Addr: mr.Addr(), TTL: time.Hour, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer s.Close()

	room := sampleRoom(t)
	if _, err := s.LoadRoom(ctx, room.Code); !errors.Is(err, models.ErrRoomNotFound) {
		t.Fatalf("Expected ErrRoomNotFound, got %v", err)
	}
	if err := s.CreateRoom(ctx, room); err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	// The expiry is set together with the create.
	if ttl := mr.TTL(roomKey(room.Code)); ttl != time.Hour {
		t.Errorf("Expected TTL of 1h after create, got %v", ttl)
	}
	if err := s.CreateRoom(ctx, room); !errors.Is(err, models.ErrRoomExists) {
		t.Fatalf("Expected ErrRoomExists, got %v", err)
	}

	loaded, err := s.LoadRoom(ctx, room.Code)
	if err != nil {
		t.Fatalf("LoadRoom failed: %v", err)
	}
	if len(loaded.Players) != 2 || !loaded.IsKicked("p3") || loaded.Version != 7 {
		t.Errorf("Unexpected room after create: %+v", loaded)
	}

	mr.FastForward(30 * time.Minute)
	loaded.RemovePlayer("p2")
	loaded.Revealed = true
	if err := s.SaveRoom(ctx, loaded); err != nil {
		t.Fatalf("SaveRoom failed: %v", err)
	}
	if ttl := mr.TTL(roomKey(room.Code)); ttl != time.Hour {
		t.Errorf("Expected TTL refreshed by save, got %v", ttl)
	}
	again, err := s.LoadRoom(ctx, room.Code)
	if err != nil {
		t.Fatalf("LoadRoom failed: %v", err)
	}
	if !again.Revealed {
		t.Error("Expected saved room to be revealed")
	}
	if _, ok := again.Player("p2"); ok {
		t.Error("Expected removed player to be gone after save")
	}

	if err := s.DeleteRoom(ctx, room.Code); err != nil {
		t.Fatalf("DeleteRoom failed: %v", err)
	}
	if _, err := s.LoadRoom(ctx, room.Code); !errors.Is(err, models.ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound after delete, got %v", err)
	}
}

func TestRedisCreateWithoutTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	s, err := NewRedisStore(ctx, RedisConfig{Addr: mr.Addr(), Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer s.Close()

	room := models.NewRoom("ZXCVBN", "", models.Task{}, time.Now())
	if err := s.CreateRoom(ctx, room); err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if ttl := mr.TTL(roomKey(room.Code)); ttl != 0 {
		t.Errorf("Expected no TTL, got %v", ttl)
	}
}
