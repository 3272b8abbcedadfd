package gcal

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// Error kinds. Callers match them with errors.Is.
var (
	// ErrAuth: no bearer token, or the service rejected it. Not retried;
	// the caller must re-authenticate.
	ErrAuth = errors.New("calendar: authentication required")

	// ErrCursorInvalid: the stored sync cursor was rejected. The cursor has
	// already been cleared; the next pull performs a full listing.
	ErrCursorInvalid = errors.New("calendar: sync cursor invalid")

	// ErrNotFound: the remote event no longer exists.
	ErrNotFound = errors.New("calendar: event not found")

	// ErrTransient: network or service failure for this call only.
	ErrTransient = errors.New("calendar: transient failure")
)

// Error wraps a failed remote operation with its kind.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the kind sentinel of err, defaulting to ErrTransient for
// unclassified errors and nil for nil.
func KindOf(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAuth):
		return ErrAuth
	case errors.Is(err, ErrCursorInvalid):
		return ErrCursorInvalid
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	default:
		return ErrTransient
	}
}

// classify maps a service/transport error to a typed *Error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized:
			return &Error{Op: op, Kind: ErrAuth, Err: err}
		case http.StatusForbidden:
			if rateLimited(gerr) {
				return &Error{Op: op, Kind: ErrTransient, Err: err}
			}
			return &Error{Op: op, Kind: ErrAuth, Err: err}
		case http.StatusNotFound, http.StatusGone:
			return &Error{Op: op, Kind: ErrNotFound, Err: err}
		}
	}
	return &Error{Op: op, Kind: ErrTransient, Err: err}
}

// rateLimited reports whether a 403 carries a quota reason. The calendar
// API answers rate limits with 403, and those clear on their own.
func rateLimited(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}

// cursorRejected reports whether a list call failed because the sync token
// expired. The service answers 410 Gone for that.
func cursorRejected(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusGone
}
