/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

ENVELOPE:
  Every response is wrapped in {"success": bool, "data": ..., "message":
  ...}. Errors carry success=false and a human-readable message; field
  level details ride in "details" when available.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO: Response types returned to clients

VALIDATION:
  The domain service owns validation; DTOs are pure data carriers. The
  handlers only reject bodies that fail to decode.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/service.go: The inputs these map onto
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/dealer-ledger/ledger"
)

// =============================================================================
// ENVELOPE
// =============================================================================

// Envelope is the uniform response wrapper.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// AdjustmentRequest is one creation-time (booking, amount) offset.
type AdjustmentRequest struct {
	Booking string          `json:"booking"`
	Amount  decimal.Decimal `json:"amount"`
}

// CreateTransactionRequest is the body for creating a ledger entry.
type CreateTransactionRequest struct {
	Type                  string              `json:"type"`
	Amount                decimal.Decimal     `json:"amount"`
	ModeOfPayment         string              `json:"modeOfPayment"`
	SubPaymentMode        string              `json:"subPaymentMode,omitempty"`
	ReferenceNumber       string              `json:"referenceNumber,omitempty"`
	BookingID             string              `json:"bookingId,omitempty"`
	BankID                string              `json:"bankId,omitempty"`
	CashLocation          string              `json:"cashLocation,omitempty"`
	Remark                string              `json:"remark,omitempty"`
	Date                  *time.Time          `json:"date,omitempty"`
	CreatedBy             string              `json:"createdBy,omitempty"`
	AdjustAgainstBookings []AdjustmentRequest `json:"adjustAgainstBookings,omitempty"`
}

// DepositRequest is the body for an on-account deposit.
type DepositRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	ModeOfPayment   string          `json:"modeOfPayment"`
	SubPaymentMode  string          `json:"subPaymentMode,omitempty"`
	ReferenceNumber string          `json:"referenceNumber"`
	BankID          string          `json:"bankId,omitempty"`
	Remark          string          `json:"remark,omitempty"`
	Date            *time.Time      `json:"date,omitempty"`
	CreatedBy       string          `json:"createdBy,omitempty"`
}

// AllocateRequest is the body for manual allocation by reference.
type AllocateRequest struct {
	ReferenceNumber string              `json:"referenceNumber"`
	Allocations     []AdjustmentRequest `json:"allocations"`
}

// ApprovalRequest carries the approver identity and optional remark.
type ApprovalRequest struct {
	ApprovedBy string `json:"approvedBy"`
	Remark     string `json:"remark,omitempty"`
}

// RejectRequest carries the rejector identity and the mandatory reason.
type RejectRequest struct {
	RejectedBy string `json:"rejectedBy"`
	Reason     string `json:"reason"`
}

// LoadScenarioRequest selects a demo scenario by name.
type LoadScenarioRequest struct {
	Name string `json:"name"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// LedgerDTO is the full ledger payload. Balances are derived figures;
// ReconciliationDrift exposes cached-vs-derived on-account disagreement
// (zero in a healthy ledger).
type LedgerDTO struct {
	ID                  string          `json:"id"`
	BrokerID            string          `json:"broker_id"`
	BranchID            string          `json:"branch_id"`
	CurrentBalance      decimal.Decimal `json:"current_balance"`
	OnAccountBalance    decimal.Decimal `json:"on_account_balance"`
	ReconciliationDrift decimal.Decimal `json:"reconciliation_drift"`
	Entries             []ledger.Entry  `json:"entries"`
	Version             int             `json:"version"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// TransactionResultDTO is returned by mutating entry operations.
type TransactionResultDTO struct {
	Entry            *ledger.Entry            `json:"entry"`
	CurrentBalance   decimal.Decimal          `json:"current_balance"`
	OnAccountBalance decimal.Decimal          `json:"on_account_balance"`
	Allocations      []ledger.AllocationEvent `json:"allocations,omitempty"`
}

// AllocationResultDTO is returned by allocation endpoints.
type AllocationResultDTO struct {
	Allocations      []ledger.AllocationEvent `json:"allocations"`
	OnAccountBalance decimal.Decimal          `json:"on_account_balance"`
}

// PendingEntriesDTO is one page of pending entries.
type PendingEntriesDTO struct {
	Entries []ledger.Entry `json:"entries"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	PerPage int            `json:"per_page"`
}

func toLedgerDTO(l *ledger.BrokerLedger) LedgerDTO {
	entries := l.Entries
	if entries == nil {
		entries = []ledger.Entry{}
	}
	return LedgerDTO{
		ID:                  l.ID,
		BrokerID:            l.BrokerID,
		BranchID:            l.BranchID,
		CurrentBalance:      l.CurrentBalance,
		OnAccountBalance:    l.OnAccountBalance(),
		ReconciliationDrift: l.Reconcile(),
		Entries:             entries,
		Version:             l.Version,
		UpdatedAt:           l.UpdatedAt,
	}
}

func toTransactionResult(l *ledger.BrokerLedger, e *ledger.Entry, events []ledger.AllocationEvent) TransactionResultDTO {
	return TransactionResultDTO{
		Entry:            e,
		CurrentBalance:   l.CurrentBalance,
		OnAccountBalance: l.OnAccountBalance(),
		Allocations:      events,
	}
}
