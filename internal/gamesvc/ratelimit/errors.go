package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

var ErrDailyLimitExceeded = errors.New("daily game limit reached")

// ErrRateLimited matches every *LimitError via errors.Is.
var ErrRateLimited = errors.New("rate limited")

const (
	ScopeUser       = "user"
	ScopeConnection = "connection"
)

// LimitError reports an exhausted action budget and when to try again.
type LimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("too many %s actions, retry in %s", e.Scope, e.RetryAfter.Round(time.Second))
}

func (e *LimitError) Is(target error) bool {
	return target == ErrRateLimited
}
