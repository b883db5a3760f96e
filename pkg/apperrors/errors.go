package apperrors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrDuplicate    = errors.New("duplicate")
	ErrInvalidInput = errors.New("invalid input")
	ErrIntegrity    = errors.New("data integrity violation")
	ErrLockHeld     = errors.New("lock already held")
)

// Transient wraps an error that is safe to retry (network timeouts, rate
// limits, temporary external-service failures).
type Transient struct {
	Err error
}

func (t *Transient) Error() string { return t.Err.Error() }
func (t *Transient) Unwrap() error { return t.Err }

// IsRetryable implements the retry package's RetryableError interface.
func (t *Transient) IsRetryable() bool { return true }

// Permanent wraps an error that must not be retried (entity deleted,
// malformed input, authorization failure at the external provider).
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// IsRetryable implements the retry package's RetryableError interface.
func (p *Permanent) IsRetryable() bool { return false }

// AsTransient marks err retryable. Returns nil for a nil err.
func AsTransient(err error) error {
	if err == nil {
		return nil
	}
	return &Transient{Err: err}
}

// AsPermanent marks err non-retryable. Returns nil for a nil err.
func AsPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// IsTransient reports whether err is explicitly marked retryable.
// Unclassified errors are treated as permanent so a buggy worker cannot
// retry its way around a real defect.
func IsTransient(err error) bool {
	var t *Transient
	return errors.As(err, &t)
}
