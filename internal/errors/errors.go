// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNotConnected   = errors.New("broker not connected")
	ErrBridgeTripped  = errors.New("bridge circuit open, request rejected")
	ErrFlagUnreadable = errors.New("flag record unreadable")
	ErrSetupNotFound  = errors.New("setup not found")
	ErrConfigInvalid  = errors.New("invalid configuration")
)

// BrokerError represents an error from the broker bridge.
type BrokerError struct {
	Op      string
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker error [%s]: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("broker error [%s]: %s", e.Op, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(op, message string, err error) *BrokerError {
	return &BrokerError{
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// DuplicateRegistrationError is returned when a ticket is re-registered
// with the monitor under conflicting parameters. Registering the same
// ticket twice with identical parameters is a no-op, not an error.
type DuplicateRegistrationError struct {
	Ticket int64
	Symbol string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("ticket %d already registered with conflicting parameters (symbol %s)", e.Ticket, e.Symbol)
}

// NewDuplicateRegistrationError creates a new DuplicateRegistrationError.
func NewDuplicateRegistrationError(ticket int64, symbol string) *DuplicateRegistrationError {
	return &DuplicateRegistrationError{Ticket: ticket, Symbol: symbol}
}

// CloseExhaustedError is returned when every close attempt for a ticket
// failed. It is escalated to the operator, never silently dropped.
type CloseExhaustedError struct {
	Ticket   int64
	Symbol   string
	Attempts int
	LastErr  error
}

func (e *CloseExhaustedError) Error() string {
	return fmt.Sprintf("close exhausted for ticket %d (%s) after %d attempts: %v", e.Ticket, e.Symbol, e.Attempts, e.LastErr)
}

func (e *CloseExhaustedError) Unwrap() error {
	return e.LastErr
}

// NewCloseExhaustedError creates a new CloseExhaustedError.
func NewCloseExhaustedError(ticket int64, symbol string, attempts int, lastErr error) *CloseExhaustedError {
	return &CloseExhaustedError{
		Ticket:   ticket,
		Symbol:   symbol,
		Attempts: attempts,
		LastErr:  lastErr,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
