package engine

import "errors"

var (
	ErrWrongPhase     = errors.New("action not allowed in current phase")
	ErrInvalidChoice  = errors.New("choice must be A or B")
	ErrReasonTooShort = errors.New("reason is too short")
	ErrReasonTooLong  = errors.New("reason is too long")
	ErrNoOpponent     = errors.New("waiting for a second player")
	ErrNotPlayer      = errors.New("user is not playing in this room")
	// ErrStalePhase is returned to timer callbacks and triggers that lost the
	// race against another transition.
	ErrStalePhase = errors.New("phase already advanced")
	ErrBusy       = errors.New("room is waiting on the judge")
	ErrRoomClosed = errors.New("room is closed")
)
