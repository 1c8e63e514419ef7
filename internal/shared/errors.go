package shared

import (
	"context"
	"errors"
)

var (
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// SafeMessage pairs a sentinel error with text that may be shown to the user.
type SafeMessage struct {
	Err     error
	Message string
}

const genericMessage = "Something went wrong. Please try again."

var baseMessages = []SafeMessage{
	{ErrInvalidCredentials, "Wrong password."},
	{ErrCSRFTokenMissing, "The form expired. Reload the page and try again."},
	{ErrCSRFTokenMismatch, "The form expired. Reload the page and try again."},
	{ErrIdempotencyConflict, "This form was already submitted."},
	{context.DeadlineExceeded, "The operation took too long. Please try again."},
}

// UserSafeMessage returns the first message whose error matches err, checking the
// supplied messages before the shared ones. Unknown errors get a generic text so
// internal details never reach the page.
func UserSafeMessage(err error, messages ...SafeMessage) string {
	if err == nil {
		return ""
	}
	for _, list := range [][]SafeMessage{messages, baseMessages} {
		for _, m := range list {
			if errors.Is(err, m.Err) {
				return m.Message
			}
		}
	}
	return genericMessage
}
