package faucet

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrorKind classifies why a disbursement did not happen.
type ErrorKind string

const (
	InvalidInput              ErrorKind = "InvalidInput"
	UnknownToken              ErrorKind = "UnknownToken"
	RateLimited               ErrorKind = "RateLimited"
	InsufficientFaucetBalance ErrorKind = "InsufficientFaucetBalance"
	NonceUnavailable          ErrorKind = "NonceUnavailable"
	BroadcastCollision        ErrorKind = "BroadcastCollision"
	ChainError                ErrorKind = "ChainError"
)

// Error is the single error type returned by Issuer.Issue.
type Error struct {
	Kind    ErrorKind
	Message string
	// RetryAfter is set for RateLimited.
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// KindOf reports the ErrorKind carried by err. Errors that did not come from
// the Issuer are treated as ChainError.
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ChainError
}
