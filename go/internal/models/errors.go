package models

import "errors"

// Command errors. All of them leave the room unchanged.
var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrBanned             = errors.New("player was kicked from this room")
	ErrInvalidVote        = errors.New("invalid vote")
	ErrRoundClosed        = errors.New("round is closed")
	ErrIncompleteVoting   = errors.New("not every player has voted")
	ErrUnauthorized       = errors.New("only the room owner may do this")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrPlayerNotFound     = errors.New("player not in room")
	ErrMalformedCommand   = errors.New("malformed command")

	// ErrRoomExists is returned by stores when a room code is already taken.
	ErrRoomExists = errors.New("room code already in use")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrRoomNotFound, "RoomNotFound"},
	{ErrBanned, "Banned"},
	{ErrInvalidVote, "InvalidVote"},
	{ErrRoundClosed, "RoundClosed"},
	{ErrIncompleteVoting, "IncompleteVoting"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrStorageUnavailable, "StorageUnavailable"},
	{ErrPlayerNotFound, "PlayerNotFound"},
	{ErrMalformedCommand, "MalformedCommand"},
	{ErrRoomExists, "RoomExists"},
}

// ErrorCode maps an error to the code clients see on the wire.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "Internal"
}
