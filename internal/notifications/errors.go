package notifications

import "errors"

// Request errors.
var (
	ErrInvalidRequest        = errors.New("invalid notification request")
	ErrNotificationNotFound  = errors.New("notification not found")
	ErrHistoryUnavailable    = errors.New("study history unavailable")
	ErrDispatcherNotDefined  = errors.New("no dispatcher configured")
	ErrSettingsUnavailable   = errors.New("notification settings unavailable")
)

// RetryableError wraps a dispatch error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}

// IsRetryable reports whether a dispatch error may succeed on a later tick.
// Unknown errors are treated as retryable.
func IsRetryable(err error) bool {
	var r *RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}
