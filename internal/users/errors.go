package users

import (
	"errors"
	"fmt"
)

// Error kinds returned by the service. Match them with errors.Is.
var (
	ErrInvalidInput       = errors.New("users: invalid input")
	ErrEmailTaken         = errors.New("users: email already registered")
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	ErrUnauthenticated    = errors.New("users: unauthenticated")
	ErrProvisioning       = errors.New("users: account provisioning failed")
	ErrNotFound           = errors.New("users: account not found")
	ErrUnavailable        = errors.New("users: storage unavailable")
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
