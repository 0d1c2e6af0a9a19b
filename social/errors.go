package social

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jacentio/flock/events"
	"github.com/jacentio/flock/store"
)

// Error kinds. Every error returned by the core wraps exactly one of these
// or a store/bus sentinel.
var (
	// ErrValidation is a caller error and is never retried.
	ErrValidation = errors.New("flock: validation failed")

	// ErrConflict means an idempotency guard tripped (duplicate follow, like or username).
	ErrConflict = errors.New("flock: conflict")

	// ErrNotFound means a referenced post, profile or edge does not exist.
	ErrNotFound = errors.New("flock: not found")

	// ErrFanoutIncomplete means some fan-out chunks committed and others did not.
	ErrFanoutIncomplete = errors.New("flock: fan-out incomplete")
)

var (
	ErrSelfFollow    = fmt.Errorf("%w: users cannot follow themselves", ErrValidation)
	ErrMissingID     = fmt.Errorf("%w: id is required", ErrValidation)
	ErrEmptyPost     = fmt.Errorf("%w: post needs content or an image", ErrValidation)
	ErrMissingHandle = fmt.Errorf("%w: username is required", ErrValidation)

	ErrAlreadyFollowing = fmt.Errorf("%w: already following", ErrConflict)
	ErrAlreadyLiked     = fmt.Errorf("%w: already liked", ErrConflict)
	ErrUsernameTaken    = fmt.Errorf("%w: username taken", ErrConflict)
	ErrProfileExists    = fmt.Errorf("%w: profile already exists", ErrConflict)
	ErrDuplicatePost    = fmt.Errorf("%w: post id already used", ErrConflict)

	ErrNotFollowing = fmt.Errorf("%w: not following", ErrNotFound)
	ErrNotLiked     = fmt.Errorf("%w: not liked", ErrNotFound)
	ErrPostNotFound = fmt.Errorf("%w: post", ErrNotFound)
	ErrUserNotFound = fmt.Errorf("%w: user", ErrNotFound)
)

// Kind classifies an error for callers that map it onto a transport status.
type Kind string

const (
	KindValidation  Kind = "VALIDATION"
	KindConflict    Kind = "CONFLICT"
	KindNotFound    Kind = "NOT_FOUND"
	KindUnavailable Kind = "UNAVAILABLE"
	KindInternal    Kind = "INTERNAL"
)

// KindOf returns the kind of err. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, store.ErrTransient), errors.Is(err, events.ErrPublish):
		return KindUnavailable
	default:
		return KindInternal
	}
}

// HTTPStatus maps err onto an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether err may succeed when the request is repeated.
func Retryable(err error) bool {
	return KindOf(err) == KindUnavailable || errors.Is(err, ErrFanoutIncomplete)
}
