package catalog

import (
	"errors"
	"fmt"
)

// Sentinel errors for catalog operations.
var (
	ErrNotFound    = errors.New("catalog: not found")
	ErrRateLimited = errors.New("catalog: rate limited by server")
	ErrBadRequest  = errors.New("catalog: bad request")
	ErrServer      = errors.New("catalog: server error")
	ErrInvalidID   = errors.New("catalog: invalid game id")
)

// Error wraps an underlying error with operation context.
type Error struct {
	Op     string
	GameID int64
	Err    error
}

func (e *Error) Error() string {
	if e.GameID != 0 {
		return fmt.Sprintf("catalog %s [%d]: %v", e.Op, e.GameID, e.Err)
	}
	return fmt.Sprintf("catalog %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapError(op string, gameID int64, err error) error {
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Op: op, GameID: gameID, Err: err}
}
