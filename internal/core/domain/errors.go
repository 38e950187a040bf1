package domain

import (
	"errors"
	"fmt"
)

// Business rejections. Each call fails fast on the first violated
// precondition and the caller sees the specific reason.
var (
	ErrPatronNotFound    = errors.New("patron not found")
	ErrPatronInactive    = errors.New("patron is not active")
	ErrBookNotFound      = errors.New("book not found")
	ErrBookUnavailable   = errors.New("book is not available")
	ErrBookAlreadyLoaned = errors.New("book is already loaned")
	ErrPatronLoanLimit   = errors.New("patron has reached the active loan limit")
	ErrInvalidDueDate    = errors.New("invalid due date")
	ErrNotesTooLong      = errors.New("notes exceed the maximum length")
	ErrLoanNotFound      = errors.New("loan not found")
	ErrRenewalLimit      = errors.New("renewal limit exceeded")
	ErrLoanNotActive     = errors.New("loan is not active")
	ErrAlreadyReturned   = errors.New("book has already been returned")
	ErrAlreadyLost       = errors.New("book is marked as lost")
	ErrNoFineDue         = errors.New("no fine is due on this loan")
	ErrFineAlreadyPaid   = errors.New("fine has already been paid")
)

// Concurrency conflict: a record changed between read and write.
var ErrStaleWrite = errors.New("stale write: record changed since it was read")

// ErrConflict signals an insert colliding with an existing id.
var ErrConflict = errors.New("record already exists")

// TransientError marks gateway/repository infrastructure failures
// (timeouts, unavailability) so callers can retry with backoff. It is
// never used for business rejections.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError for the given operation.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
