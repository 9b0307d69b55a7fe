package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad input: missing owner, kind, total or type details.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition is returned when the current status does not permit the operation.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrAlreadyFinal is the terminal-state case of ErrInvalidTransition.
	ErrAlreadyFinal = fmt.Errorf("%w: booking is already final", ErrInvalidTransition)
	// ErrPaymentServiceUnavailable means the capture/refund call failed or timed out. Retryable.
	ErrPaymentServiceUnavailable = errors.New("payment service unavailable")
	// ErrPaymentDeclined means the provider refused the capture or refund. Not retryable.
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrReferenceConflict is a booking reference collision. Handled by regenerating.
	ErrReferenceConflict = errors.New("booking reference conflict")
	ErrNotFound          = errors.New("booking not found")
	// ErrUnavailable covers storage and lock acquisition failures.
	ErrUnavailable = errors.New("booking store unavailable")
)

// TransitionError describes a rejected state machine operation.
type TransitionError struct {
	Op   string
	From Status
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s from %s: %v", e.Op, e.From, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func newTransitionError(op string, from Status) error {
	if from.IsTerminal() {
		return &TransitionError{Op: op, From: from, Err: ErrAlreadyFinal}
	}
	return &TransitionError{Op: op, From: from, Err: ErrInvalidTransition}
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
