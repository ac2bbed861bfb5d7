package errutil

import (
	"errors"
	"fmt"
	"time"
)

// CoreStatus classifies failures the way the pipeline reacts to them: retry,
// re-authenticate, flag, or give up.
type CoreStatus string

const (
	StatusUnavailable        CoreStatus = "UNAVAILABLE"         // transient, retryable
	StatusTooManyRequests    CoreStatus = "TOO_MANY_REQUESTS"   // rate limited, retry after hint
	StatusReauthRequired     CoreStatus = "REAUTH_REQUIRED"     // credential dead, user must re-link
	StatusValidationFailed   CoreStatus = "VALIDATION_FAILED"   // implausible data, flagged not retried
	StatusInvariantViolation CoreStatus = "INVARIANT_VIOLATION" // model invariant broken, hard error
	StatusConflict           CoreStatus = "CONFLICT"            // duplicate run / lock contention
	StatusNotFound           CoreStatus = "NOT_FOUND"
	StatusInternal           CoreStatus = "INTERNAL"
)

type BaseError struct {
	Code       CoreStatus    `json:"code"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Err        error         `json:"-"`
}

func (e BaseError) Status() CoreStatus { return e.Code }

func (e BaseError) Unwrap() error { return e.Err }

func (e BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

type Option func(*BaseError)

func WithErr(err error) Option {
	return func(be *BaseError) { be.Err = err }
}

func WithRetryAfter(d time.Duration) Option {
	return func(be *BaseError) { be.RetryAfter = d }
}

func New(code CoreStatus, message string, opts ...Option) error {
	be := BaseError{Code: code, Message: message}
	for _, opt := range opts {
		opt(&be)
	}
	return be
}

func Unavailable(msg string, options ...Option) error {
	return New(StatusUnavailable, msg, options...)
}

func TooManyRequests(msg string, options ...Option) error {
	return New(StatusTooManyRequests, msg, options...)
}

func ReauthRequired(msg string, options ...Option) error {
	return New(StatusReauthRequired, msg, options...)
}

func ValidationFailed(msg string, options ...Option) error {
	return New(StatusValidationFailed, msg, options...)
}

func InvariantViolation(msg string, options ...Option) error {
	return New(StatusInvariantViolation, msg, options...)
}

func Conflict(msg string, options ...Option) error {
	return New(StatusConflict, msg, options...)
}

func NotFound(msg string, options ...Option) error {
	return New(StatusNotFound, msg, options...)
}

func Internal(msg string, options ...Option) error {
	return New(StatusInternal, msg, options...)
}

func statusOf(err error) (CoreStatus, bool) {
	var be BaseError
	if errors.As(err, &be) {
		return be.Code, true
	}
	return "", false
}

// IsRetryable reports whether the job retry loop should attempt the work again.
// Unclassified errors are treated as retryable so a transient network hiccup
// wrapped by a third-party client still gets its bounded retries.
func IsRetryable(err error) bool {
	code, ok := statusOf(err)
	if !ok {
		return true
	}
	switch code {
	case StatusUnavailable, StatusTooManyRequests, StatusInternal:
		return true
	default:
		return false
	}
}

func IsReauth(err error) bool {
	code, ok := statusOf(err)
	return ok && code == StatusReauthRequired
}

func IsConflict(err error) bool {
	code, ok := statusOf(err)
	return ok && code == StatusConflict
}

func IsInvariantViolation(err error) bool {
	code, ok := statusOf(err)
	return ok && code == StatusInvariantViolation
}

// RetryAfter extracts the rate-limit hint, zero when none was carried.
func RetryAfter(err error) time.Duration {
	var be BaseError
	if errors.As(err, &be) {
		return be.RetryAfter
	}
	return 0
}
