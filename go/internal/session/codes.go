package session

import (
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

const (
	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	roomCodeLength   = 6

	// maxCodeAttempts bounds the check-then-create loop of CreateRoom.
	maxCodeAttempts = 10
)

// NewRoomCode returns a random 6-letter room code. Uniqueness is checked by
// the store when the room is created.
func NewRoomCode() string {
	var b strings.Builder
	b.Grow(roomCodeLength)
	for i := 0; i < roomCodeLength; i++ {
		b.WriteByte(roomCodeAlphabet[rand.IntN(len(roomCodeAlphabet))])
	}
	return b.String()
}

// NewPlayerID returns an opaque, globally unique player id.
func NewPlayerID() string {
	return uuid.New().String()
}

// NormalizeRoomCode upper-cases user input so codes are case-insensitive.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidRoomCode reports whether code has the shape of a room code.
func ValidRoomCode(code string) bool {
	if len(code) != roomCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}
