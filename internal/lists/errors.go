package lists

import (
	"errors"
	"fmt"
)

// Error kinds returned by the service. Match them with errors.Is.
var (
	// ErrInitialization reports that the default lists could not be created.
	ErrInitialization = errors.New("lists: initialization failed")
	// ErrWrite reports a failed add or move.
	ErrWrite = errors.New("lists: write failed")
	// ErrDelete reports a failed removal.
	ErrDelete = errors.New("lists: delete failed")
	// ErrLookup reports a failed read.
	ErrLookup = errors.New("lists: lookup failed")
	// ErrInvalidInput reports a request rejected before touching the store.
	ErrInvalidInput = errors.New("lists: invalid input")
	// ErrGameNotInList reports a move whose source list does not hold the game.
	ErrGameNotInList = errors.New("lists: game not in source list")
)

// ServiceError carries the error kind, the operation code, and a message fit for end users.
type ServiceError struct {
	kind    error
	code    string
	message string
	err     error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Is matches the error kind.
func (e *ServiceError) Is(target error) bool {
	return e.kind != nil && target == e.kind
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

// Message returns a message that can be shown to end users.
func (e *ServiceError) Message() string {
	return e.message
}

func newServiceError(kind error, operation, reason, message string, cause error) error {
	return &ServiceError{
		kind:    kind,
		code:    fmt.Sprintf("%s.%s", operation, reason),
		message: message,
		err:     cause,
	}
}
