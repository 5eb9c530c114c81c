// Package apperr defines the error taxonomy shared by the coordinators and the
// HTTP surface. Every rejection carries a stable reason code.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindUnavailable Kind = "unavailable"
	KindInternal    Kind = "internal"
)

// Reason codes.
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeSessionNotFound      = "SESSION_NOT_FOUND"
	CodeRoundNotFound        = "ROUND_NOT_FOUND"
	CodePollNotFound         = "POLL_NOT_FOUND"
	CodeInvalidState         = "INVALID_STATE"
	CodeAlreadyWon           = "ALREADY_WON"
	CodeNotInPool            = "NOT_IN_POOL"
	CodeNoEligible           = "NO_ELIGIBLE_CANDIDATES"
	CodeRoundFinished        = "ROUND_ALREADY_FINISHED"
	CodeRoundInUse           = "ROUND_IN_USE"
	CodePollNotActive        = "POLL_NOT_ACTIVE"
	CodePollExpired          = "POLL_EXPIRED"
	CodeAlreadyVoted         = "ALREADY_VOTED"
	CodeNoSelection          = "NO_SELECTION"
	CodeTooManySelections    = "TOO_MANY_SELECTIONS"
	CodeUnknownOption        = "UNKNOWN_OPTION"
	CodePersistenceTimeout   = "PERSISTENCE_TIMEOUT"
	CodePersistenceFailure   = "PERSISTENCE_FAILURE"
	CodeRateLimited          = "RATE_LIMITED"
	CodeSessionBusy          = "SESSION_BUSY"
	CodeDirectoryUnavailable = "DIRECTORY_UNAVAILABLE"
)

type Error struct {
	Kind    Kind
	Code    string
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

func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func NotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// Persistence classifies a storage failure. Deadline and cancellation errors
// become Unavailable so callers can retry.
func Persistence(message string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindUnavailable, Code: CodePersistenceTimeout, Message: message, Err: err}
	}
	return &Error{Kind: KindInternal, Code: CodePersistenceFailure, Message: message, Err: err}
}

func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Is reports whether err is an *Error with the given code.
func Is(err error, code string) bool {
	return CodeOf(err) == code
}
