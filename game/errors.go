package game

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindInvalidConfiguration ErrorKind = "InvalidConfiguration"
	KindNotFound             ErrorKind = "NotFound"
	KindInvalidState         ErrorKind = "InvalidState"
	KindNotYourTurn          ErrorKind = "NotYourTurn"
	KindAlreadyRevealed      ErrorKind = "AlreadyRevealed"
	KindInvalidCode          ErrorKind = "InvalidCode"
	KindCodeAlreadyUsed      ErrorKind = "CodeAlreadyUsed"
	KindAuthentication       ErrorKind = "AuthenticationError"
	KindPlayerNotInGame      ErrorKind = "PlayerNotInGame"
	KindInternal             ErrorKind = "InternalError"
)

// Error is a failure the caller can act on: Kind selects the response
// status, Message is safe to show to clients.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

var (
	ErrGameNotFound   = newError(KindNotFound, "game not found")
	ErrPlayerNotFound = newError(KindNotFound, "player not found")
	ErrCardNotFound   = newError(KindNotFound, "card not found")
	ErrGameNotActive  = newError(KindInvalidState, "game is not in progress")
	ErrNotYourTurn    = newError(KindNotYourTurn, "not your turn")
	ErrCardRevealed   = newError(KindAlreadyRevealed, "card already revealed")
	ErrInvalidCode    = newError(KindInvalidCode, "invalid code")
	ErrCodeUsed       = newError(KindCodeAlreadyUsed, "code already used")
	ErrUnauthorized   = newError(KindAuthentication, "missing or invalid credential")
	ErrNotInGame      = newError(KindPlayerNotInGame, "player is not in this game")
)

func invalidConfig(format string, args ...any) *Error {
	return newError(KindInvalidConfiguration, fmt.Sprintf(format, args...))
}

func invalidState(format string, args ...any) *Error {
	return newError(KindInvalidState, fmt.Sprintf(format, args...))
}

// Internal wraps an infrastructure failure. The cause is kept for logging
// but never shown to clients.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal server error", Err: err}
}

// KindOf reports the kind of err. Anything that is not an *Error is an
// internal failure.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the client-facing message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
