package room

import "errors"

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomFull       = errors.New("room is full")
	ErrGameInProgress = errors.New("game already in progress")
	ErrHostCannotJoin = errors.New("host cannot join own room as guest")
	ErrCodeExhausted  = errors.New("could not allocate a unique room code")
	ErrNotInRoom      = errors.New("player is not in a room")
	ErrAlreadyInRoom  = errors.New("player is already in another room")
	ErrPersistClosed  = errors.New("durable writer is closed")
)
