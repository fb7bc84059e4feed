package pointledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/pointledger/transaction"
	"github.com/xraph/pointledger/types"
)

// Sentinel errors for common failure scenarios.
var (
	// Account errors
	ErrAccountNotFound    = errors.New("pointledger: account not found")
	ErrInsufficientFunds  = errors.New("pointledger: insufficient points")
	ErrBalanceCapExceeded = errors.New("pointledger: balance cap exceeded")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("pointledger: subscription not found")
	ErrSubscriptionExists   = errors.New("pointledger: user already has a live subscription")
	ErrSubscriptionTerminal = errors.New("pointledger: subscription is in a terminal state")
	ErrInvalidTransition    = errors.New("pointledger: invalid subscription transition")
	ErrSubscriptionConflict = errors.New("pointledger: subscription was modified concurrently")

	// Store errors
	ErrStoreNotReady     = errors.New("pointledger: store not ready")
	ErrStoreClosed       = errors.New("pointledger: store is closed")
	ErrTransactionFailed = errors.New("pointledger: transaction failed")
	ErrMigrationFailed   = errors.New("pointledger: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("pointledger: validation failed for %s: %s", e.Field, e.Message)
}

// InsufficientFunds is returned when a debit exceeds the balance.
type InsufficientFunds struct {
	Required  types.Points
	Available types.Points
}

func (e *InsufficientFunds) Error() string {
	return fmt.Sprintf("pointledger: insufficient points: required %s, available %s", e.Required, e.Available)
}

func (e *InsufficientFunds) Is(target error) bool { return target == ErrInsufficientFunds }

// BalanceCapExceeded is returned when a credit would push the balance past
// types.MaxBalance.
type BalanceCapExceeded struct {
	Amount  types.Points
	Balance types.Points
	Max     types.Points
}

func (e *BalanceCapExceeded) Error() string {
	return fmt.Sprintf("pointledger: crediting %s to %s exceeds the %s cap", e.Amount, e.Balance, e.Max)
}

func (e *BalanceCapExceeded) Is(target error) bool { return target == ErrBalanceCapExceeded }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "pointledger: no errors"
	case 1:
		return e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("pointledger: %d errors occurred: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// ErrorOrNil returns e as an error, or nil when nothing was collected.
func (e MultiError) ErrorOrNil() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// ErrorType is the discriminator surfaced to API callers.
type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "VALIDATION_ERROR"
	ErrorTypeInsufficientFunds ErrorType = "INSUFFICIENT_FUNDS"
	ErrorTypeBalanceCap        ErrorType = "BALANCE_CAP_EXCEEDED"
	ErrorTypeBusinessRule      ErrorType = "BUSINESS_RULE_VIOLATION"
	ErrorTypeNotFound          ErrorType = "NOT_FOUND"
	ErrorTypeSystem            ErrorType = "SYSTEM_ERROR"
)

// Classify maps err onto the error taxonomy.
func Classify(err error) ErrorType {
	switch {
	case IsValidation(err):
		return ErrorTypeValidation
	case IsInsufficientFunds(err):
		return ErrorTypeInsufficientFunds
	case IsBalanceCap(err):
		return ErrorTypeBalanceCap
	case IsBusinessRuleViolation(err):
		return ErrorTypeBusinessRule
	case IsNotFound(err):
		return ErrorTypeNotFound
	default:
		return ErrorTypeSystem
	}
}

// IsValidation returns true if the error is a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	if errors.As(err, &ve) {
		return true
	}
	var pve *ValidationError
	return errors.As(err, &pve)
}

// IsInsufficientFunds returns true if a debit was refused for lack of points.
func IsInsufficientFunds(err error) bool {
	return errors.Is(err, ErrInsufficientFunds)
}

// IsBalanceCap returns true if a credit was refused by the balance cap.
func IsBalanceCap(err error) bool {
	return errors.Is(err, ErrBalanceCapExceeded)
}

// IsBusinessRuleViolation returns true if the request conflicts with the
// current state of a subscription.
func IsBusinessRuleViolation(err error) bool {
	return errors.Is(err, ErrSubscriptionExists) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrSubscriptionTerminal)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSubscriptionConflict) ||
		errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrTransactionFailed)
}

// Rejection builds the error a store returns when applying a transaction
// of kind and amount to balance would break the balance bounds.
func Rejection(kind transaction.Kind, amount, balance types.Points) error {
	if kind.IsCredit() {
		return &BalanceCapExceeded{Amount: amount, Balance: balance, Max: types.MaxBalance}
	}
	return &InsufficientFunds{Required: amount, Available: balance}
}
