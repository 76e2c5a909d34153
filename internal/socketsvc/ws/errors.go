package ws

import (
	"errors"
	"time"

	"github.com/avvvet/explain-services/internal/auth"
	"github.com/avvvet/explain-services/internal/comm"
	"github.com/avvvet/explain-services/internal/gamesvc/engine"
	"github.com/avvvet/explain-services/internal/gamesvc/ratelimit"
	"github.com/avvvet/explain-services/internal/gamesvc/room"
	log "github.com/sirupsen/logrus"
)

var (
	errInvalidPayload   = errors.New("invalid message payload")
	errUnknownEvent     = errors.New("unknown event")
	errIdentityMismatch = errors.New("token does not match the connected user")
)

// public lists the errors whose text may be shown to players as is.
var public = []error{
	errInvalidPayload,
	errUnknownEvent,
	errIdentityMismatch,
	auth.ErrNoIdentity,
	room.ErrRoomNotFound,
	room.ErrRoomFull,
	room.ErrGameInProgress,
	room.ErrHostCannotJoin,
	room.ErrAlreadyInRoom,
	room.ErrNotInRoom,
	room.ErrCodeExhausted,
	engine.ErrWrongPhase,
	engine.ErrInvalidChoice,
	engine.ErrReasonTooShort,
	engine.ErrReasonTooLong,
	engine.ErrNoOpponent,
	engine.ErrNotPlayer,
	engine.ErrStalePhase,
	engine.ErrBusy,
	engine.ErrRoomClosed,
}

// ClientError converts err into the payload sent to a player. Anything not
// known to be safe is logged and reported as an opaque failure.
func ClientError(err error, fields log.Fields) comm.Error {
	var limit *ratelimit.LimitError
	if errors.As(err, &limit) {
		return comm.Error{Message: limit.Error(), RetryAfter: seconds(limit.RetryAfter)}
	}
	if errors.Is(err, ratelimit.ErrDailyLimitExceeded) {
		return comm.Error{
			Message:    ratelimit.ErrDailyLimitExceeded.Error(),
			RetryAfter: seconds(ratelimit.ResetIn(time.Now())),
		}
	}
	for _, known := range public {
		if errors.Is(err, known) {
			return comm.Error{Message: known.Error()}
		}
	}

	log.WithFields(fields).Errorf("Error [Ws] %s", err)
	return comm.Error{Message: "internal error"}
}

// lostRace reports errors returned to a trigger that another transition
// already overtook. They are expected and never shown to players.
func lostRace(err error) bool {
	return errors.Is(err, engine.ErrStalePhase) ||
		errors.Is(err, engine.ErrRoomClosed) ||
		errors.Is(err, engine.ErrBusy) ||
		errors.Is(err, engine.ErrWrongPhase)
}

// seconds rounds d up to whole seconds.
func seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
