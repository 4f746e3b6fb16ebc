package core

// User-facing error messages with support codes.
//
// Errors are first matched by identity (errors.Is / errors.As) against the
// export errors this package returns, then by case-insensitive substring
// against known driver and network messages. The first match wins.
//
// # Export Errors (EXP001-EXP099)
//
//	EXP001 - Not found: The form, version or reservation does not exist
//	         Action: Check the id and try again
//
//	EXP002 - Invalid request: Export parameters are not valid
//	         Action: Check type, format, template, version and date range
//
//	EXP003 - Transform failed: Submission data could not be formatted
//	         Action: Try another template or contact support
//
//	EXP004 - Storage failed: The export file could not be stored or read
//	         Action: Please try again later
//
//	EXP005 - Not ready: The export file has not been produced yet
//	         Action: Poll the reservation until it is ready
//
//	EXP006 - Busy: Too many exports are running
//	         Action: Please wait a moment and try again
//
//	EXP007 - Stalled: The export did not finish in time
//	         Action: Request the export again
//
//	EXP008 - Shutting down: The server is restarting
//	         Action: Request the export again in a few moments
//
// # Database Errors (DB004-DB007)
//
//	DB004 - Connection refused    Patterns: "connection refused"
//	DB005 - Connection reset      Patterns: "connection reset"
//	DB006 - Timeout               Patterns: "timeout"
//	DB007 - Deadlock              Patterns: "deadlock"
//
// # Request Errors (REQ001-REQ002)
//
//	REQ001 - Request cancelled    context.Canceled
//	REQ002 - Request timed out    context.DeadlineExceeded
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Rate limited        Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the application log for the
// technical error.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorKind matches errors by identity.
type errorKind struct {
	match func(error) bool
	msg   UserMessage
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

var errorKinds = []errorKind{
	{
		match: is(ErrInvalidRequest),
		msg: UserMessage{
			Message: "Export parameters are not valid",
			Action:  "Check type, format, template, version and date range",
			Code:    "EXP002",
		},
	},
	{
		match: is(ErrNotReady),
		msg: UserMessage{
			Message: "The export file has not been produced yet",
			Action:  "Poll the reservation until it is ready",
			Code:    "EXP005",
		},
	},
	{
		match: is(ErrExportStalled),
		msg: UserMessage{
			Message: "The export did not finish in time",
			Action:  "Request the export again",
			Code:    "EXP007",
		},
	},
	{
		match: is(ErrTooManyExports),
		msg: UserMessage{
			Message: "Too many exports are running",
			Action:  "Please wait a moment and try again",
			Code:    "EXP006",
		},
	},
	{
		match: is(ErrWorkerClosed),
		msg: UserMessage{
			Message: "The server is restarting",
			Action:  "Request the export again in a few moments",
			Code:    "EXP008",
		},
	},
	{
		match: func(err error) bool {
			var se *StorageError
			return errors.As(err, &se)
		},
		msg: UserMessage{
			Message: "The export file could not be stored or read",
			Action:  "Please try again later",
			Code:    "EXP004",
		},
	},
	{
		match: func(err error) bool {
			var fe *FormatError
			return errors.As(err, &fe)
		},
		msg: UserMessage{
			Message: "Submission data could not be formatted",
			Action:  "Try another template or contact support",
			Code:    "EXP003",
		},
	},
	{
		match: is(ErrNotFound),
		msg: UserMessage{
			Message: "The form, version or reservation does not exist",
			Action:  "Check the id and try again",
			Code:    "EXP001",
		},
	},
	{
		match: is(context.Canceled),
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "REQ001",
		},
	},
	{
		match: is(context.DeadlineExceeded),
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Narrow the date range or try again later",
			Code:    "REQ002",
		},
	},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user
// messages for errors that carry no type, such as driver and dial errors.
var errorPatterns = []errorPattern{
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Narrow the date range or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. Known
// export errors are matched by identity, other errors by their text. If
// nothing matches, a generic message with code ERR000 is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, k := range errorKinds {
		if k.match(err) {
			return k.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
