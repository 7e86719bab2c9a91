package appointment

import (
	"errors"
	"fmt"
)

// ErrResourceNotFound is returned by resource lookups when the id is unknown or the resource is inactive.
var ErrResourceNotFound = errors.New("resource not found")

// ErrorKind classifies an expected booking failure.
type ErrorKind string

const (
	KindDateTooSoon         ErrorKind = "DATE_TOO_SOON"
	KindCategoryMismatch    ErrorKind = "CATEGORY_MISMATCH"
	KindClosedDay           ErrorKind = "CLOSED_DAY"
	KindSlotTaken           ErrorKind = "SLOT_TAKEN"
	KindResourceNotFound    ErrorKind = "RESOURCE_NOT_FOUND"
	KindServiceNotFound     ErrorKind = "SERVICE_NOT_FOUND"
	KindDatabaseError       ErrorKind = "DATABASE_ERROR"
	KindAppointmentNotFound ErrorKind = "APPOINTMENT_NOT_FOUND"
	KindInvalidTransition   ErrorKind = "INVALID_TRANSITION"
	KindCancellationWindow  ErrorKind = "CANCELLATION_WINDOW"
	KindInvalidRequest      ErrorKind = "INVALID_REQUEST"
	KindBlockNotFound       ErrorKind = "BLOCK_NOT_FOUND"
)

// Retryable reports whether the caller may retry the same request unchanged.
func (k ErrorKind) Retryable() bool {
	return k == KindDatabaseError
}

// UserCorrectable reports whether the customer can fix the request (another date, slot or service mix).
func (k ErrorKind) UserCorrectable() bool {
	switch k {
	case KindDateTooSoon, KindCategoryMismatch, KindClosedDay, KindSlotTaken, KindCancellationWindow:
		return true
	}
	return false
}

// Failure is a typed, expected failure carried inside service results.
type Failure struct {
	Kind    ErrorKind
	Details map[string]string
}

// NewFailure builds a Failure with optional key/value detail pairs.
func NewFailure(kind ErrorKind, kv ...string) *Failure {
	f := &Failure{Kind: kind, Details: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Details[kv[i]] = kv[i+1]
	}
	return f
}

func (f *Failure) Error() string {
	if msg, ok := f.Details["reason"]; ok && msg != "" {
		return fmt.Sprintf("%s: %s", f.Kind, msg)
	}
	return string(f.Kind)
}
