/*
errors.go - Centralized error types for the ledger package

ERROR CATEGORIES:
  1. Validation errors - bad input, rejected before any mutation
  2. State errors - legal input against an entry in the wrong state
  3. Not-found errors - missing broker/branch/ledger/entry/booking refs
  4. Conflict errors - duplicate deposit reference
  5. Store errors - persistence failures

The HTTP layer maps these with errors.Is/As onto 400/404/409 responses;
anything unrecognized becomes a 500.
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for zero or negative transaction amounts.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrMissingField is returned when a required field is absent.
	ErrMissingField = errors.New("missing required field")

	// ErrInvalidPaymentMode is returned for an unknown modeOfPayment.
	ErrInvalidPaymentMode = errors.New("invalid payment mode")

	// ErrBrokerNotAssociated is returned when the broker has no active
	// association with the requested branch.
	ErrBrokerNotAssociated = errors.New("broker is not actively associated with branch")

	// ErrDuplicateReference is returned when a deposit reference already
	// exists within the (broker, branch) ledger.
	ErrDuplicateReference = errors.New("reference number already exists for this broker and branch")

	// ErrReferenceNotFound is returned when a manual allocation targets an
	// unknown deposit reference.
	ErrReferenceNotFound = errors.New("reference number not found")

	// ErrNotPending is returned when approving or rejecting an entry that
	// is not in Pending state.
	ErrNotPending = errors.New("transaction is not pending")

	// ErrNotOnAccount is returned when on-account semantics are required
	// but the entry is not an on-account credit.
	ErrNotOnAccount = errors.New("transaction is not an on-account credit")

	// ErrCreditNotApproved is returned when a manual allocation targets a
	// credit that is still pending or was rejected. Only approved credits
	// hold allocatable funds.
	ErrCreditNotApproved = errors.New("credit is not approved")

	// Not-found sentinels for referenced records.
	ErrBrokerNotFound         = errors.New("broker not found")
	ErrBranchNotFound         = errors.New("branch not found")
	ErrLedgerNotFound         = errors.New("ledger not found")
	ErrEntryNotFound          = errors.New("transaction not found")
	ErrBookingNotFound        = errors.New("booking not found")
	ErrBankNotFound           = errors.New("bank not found")
	ErrCashLocationNotFound   = errors.New("cash location not found")
	ErrSubPaymentModeNotFound = errors.New("sub payment mode not found")

	// ErrSubPaymentModeInactive is returned when a Bank entry references a
	// disabled sub payment mode.
	ErrSubPaymentModeInactive = errors.New("sub payment mode is not active")

	// ErrConcurrentModification is returned when optimistic locking detects
	// a conflicting write to the same ledger.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - carry additional context
// =============================================================================

// AllocationError reports an allocation request that exceeds what is
// available, either on the credit side or the booking side.
type AllocationError struct {
	BookingID string
	Requested decimal.Decimal
	Available decimal.Decimal
	Reason    string // "exceeds_outstanding" | "exceeds_remaining_credit"
}

func (e *AllocationError) Error() string {
	if e.BookingID != "" {
		return fmt.Sprintf("allocation of %s against booking %s exceeds available %s (%s)",
			e.Requested, e.BookingID, e.Available, e.Reason)
	}
	return fmt.Sprintf("allocation of %s exceeds available %s (%s)",
		e.Requested, e.Available, e.Reason)
}

// ValidationError wraps a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrMissingField }

func missingField(field string) error {
	return &ValidationError{Field: field, Message: "is required"}
}
