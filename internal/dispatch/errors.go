package dispatch

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a job or offer does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotOwner is returned when the caller does not own the job or offer.
	ErrNotOwner = errors.New("not owned by caller")
	// ErrOfferUnavailable is returned when an offer is no longer pending: it
	// was already resolved, it lapsed, or another contractor won the job.
	ErrOfferUnavailable = errors.New("offer no longer available")
	// ErrInvalidTransition is returned when the job is not in a status the
	// requested action can start from.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError wraps a user-facing validation message. Fields names the
// payload fields that are missing or malformed, if any.
type ValidationError struct {
	Msg    string
	Fields []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Msg
	}
	return e.Msg + ": " + strings.Join(e.Fields, ", ")
}

// PaymentError reports a failed, missing or canceled payment hold. The job
// stays in pending_payment.
type PaymentError struct {
	JobID string
	Msg   string
	Err   error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return "payment: " + e.Msg + ": " + e.Err.Error()
	}
	return "payment: " + e.Msg
}

func (e *PaymentError) Unwrap() error { return e.Err }
