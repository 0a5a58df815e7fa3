package remote

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a remote failure so the orchestrator can pick a policy
// without inspecting backend-specific errors.
type Kind string

const (
	KindTransient   Kind = "transient-network"
	KindAuth        Kind = "auth-failure"
	KindRateLimited Kind = "rate-limited"
	KindConflict    Kind = "conflict"
	KindNotFound    Kind = "not-found"
)

// ErrNotFound is the sentinel for a missing remote object. Clients wrap it
// in an *Error with KindNotFound so both errors.Is checks work.
var ErrNotFound = errors.New("remote object not found")

// Error is the uniform failure type returned by every client. RetryAfter is
// a server-provided pause hint, zero when absent.
type Error struct {
	Kind       Kind
	Path       string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote %s (%s): %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("remote %s: %s", e.Path, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so callers can compare against a
// prototype like &Error{Kind: KindAuth}.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// KindOf extracts the failure kind, defaulting to transient for errors that
// did not come from a client.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindTransient
}

// IsRetryable reports whether another attempt could plausibly succeed.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited, KindConflict:
		return true
	default:
		return false
	}
}

// IsRateLimited reports whether the failure warrants an extended pause.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

// RetryAfterHint returns the server-provided pause, or zero when none was
// given.
func RetryAfterHint(err error) time.Duration {
	var re *Error
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}
