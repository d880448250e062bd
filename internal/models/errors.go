package models

import (
	"errors"
	"fmt"
)

// Error kinds shared by every collaborator client. Match with errors.Is.
var (
	ErrNetwork   = errors.New("network failure")
	ErrAuth      = errors.New("authentication failure")
	ErrMalformed = errors.New("malformed response")
	ErrRejected  = errors.New("request rejected")
)

// RequestError describes a failed call to a remote API.
// Err may hold a *Error with the exchange's code and message.
type RequestError struct {
	Op         string
	Kind       error
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %v (status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *RequestError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
