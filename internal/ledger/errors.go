package ledger

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
)

// IsRateLimited reports whether the backend rejected the call for quota reasons.
func IsRateLimited(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests
	}
	return false
}

// IsTransientResponse reports whether the backend answered with a retryable status.
// Errors without a response are excluded: the call may already have been applied.
func IsTransientResponse(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && IsTransient(err)
}

// IsTransient reports whether a failed call is worth retrying. Google API errors are
// transient for 408, 429 and 5xx; other API errors, invalid tab names and context
// cancellation are permanent. Anything else (I/O, network) is retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrInvalidTabName) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusRequestTimeout, gerr.Code == http.StatusTooManyRequests:
			return true
		case gerr.Code >= http.StatusInternalServerError:
			return true
		default:
			return false
		}
	}
	return true
}
