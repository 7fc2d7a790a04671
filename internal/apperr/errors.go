// Package apperr defines the typed error taxonomy shared by the HTTP and
// realtime transports, so callers can branch with errors.As instead of
// string-matching messages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies which error taxonomy bucket an error belongs to.
type Kind string

const (
	KindAuth       Kind = "auth"
	KindQueue      Kind = "queue"
	KindMatchState Kind = "match_state"
	KindStorage    Kind = "storage"
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
)

// Error is a typed application error carrying a Kind so transports can map
// it to the right wire-level response (HTTP status code or error event).
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newErr(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Auth(message string) *Error               { return newErr(KindAuth, message, nil) }
func Queue(message string) *Error              { return newErr(KindQueue, message, nil) }
func MatchState(message string) *Error         { return newErr(KindMatchState, message, nil) }
func NotFound(message string) *Error           { return newErr(KindNotFound, message, nil) }
func Validation(message string) *Error         { return newErr(KindValidation, message, nil) }
func Storage(message string, err error) *Error { return newErr(KindStorage, message, err) }

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
