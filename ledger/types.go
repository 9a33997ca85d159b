/*
Package ledger implements the broker on-account ledger for the dealership
back office.

PURPOSE:
  One BrokerLedger exists per (broker, branch) pair. It owns an ordered
  collection of CREDIT/DEBIT entries, tracks two derived balances, and
  matches unallocated ("on-account") deposits against outstanding booking
  debits.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: one CREDIT or DEBIT transaction with payment mode, approval
    status and (for credits) a list of allocations
  - Allocation: attaches part of a credit to a specific booking's debit
  - BrokerLedger: the aggregate root, addressable entry arena included
  - Master records: Broker, Branch, Booking, Bank, CashLocation,
    SubPaymentMode - read collaborators used for validation

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, no floats in balances
  2. Approved-only: Pending/Rejected entries never affect balances
  3. Single allocation ledger: creation-time adjustments, automatic and
     manual allocations all live in Entry.Allocations, distinguished by
     AllocationType. Outstanding amounts are read from one list only.
  4. Entries are never deleted; cancellation is a status change

SEE ALSO:
  - balance.go: derived balance and outstanding-debit computations
  - allocation.go: the oldest-first allocation engine
  - service.go: orchestration, validation, approval workflow
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENUMS
// =============================================================================

// EntryType distinguishes money in from money out.
// CREDIT increases currentBalance, DEBIT decreases it:
//
//	currentBalance = sum(approved CREDIT) - sum(approved DEBIT)
type EntryType string

const (
	Credit EntryType = "CREDIT"
	Debit  EntryType = "DEBIT"
)

// PaymentMode is how the money moved.
type PaymentMode string

const (
	ModeCash                PaymentMode = "Cash"
	ModeBank                PaymentMode = "Bank"
	ModeFinanceDisbursement PaymentMode = "Finance Disbursement"
	ModeExchange            PaymentMode = "Exchange"
	ModePayOrder            PaymentMode = "Pay Order"
	ModeCommission          PaymentMode = "Commission"
)

// ValidPaymentMode reports whether m is one of the known modes.
func ValidPaymentMode(m PaymentMode) bool {
	switch m {
	case ModeCash, ModeBank, ModeFinanceDisbursement, ModeExchange, ModePayOrder, ModeCommission:
		return true
	}
	return false
}

// ApprovalStatus gates whether an entry contributes to balances.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "Pending"
	StatusApproved ApprovalStatus = "Approved"
	StatusRejected ApprovalStatus = "Rejected"
)

// AllocationType records how an allocation came to be.
type AllocationType string

const (
	// AllocationAuto: produced by the allocation engine, oldest-debit-first.
	AllocationAuto AllocationType = "AUTO"
	// AllocationManual: operator targeted a deposit reference at bookings.
	AllocationManual AllocationType = "MANUAL"
	// AllocationAdjustment: specified by the creator at transaction time.
	AllocationAdjustment AllocationType = "ADJUSTMENT"
)

// AutoAllocationStatus marks how far the engine got with a credit.
type AutoAllocationStatus string

const (
	AutoAllocationNone      AutoAllocationStatus = ""
	AutoAllocationPartial   AutoAllocationStatus = "PARTIAL"
	AutoAllocationCompleted AutoAllocationStatus = "COMPLETED"
)

// =============================================================================
// ALLOCATION - sub-record of a CREDIT entry
// =============================================================================

type Allocation struct {
	ID        string          `json:"id"`
	BookingID string          `json:"booking_id"`
	Amount    decimal.Decimal `json:"amount"`
	Date      time.Time       `json:"date"`
	Type      AllocationType  `json:"type"`
}

// =============================================================================
// ENTRY - one CREDIT or DEBIT transaction
// =============================================================================

type Entry struct {
	ID     string          `json:"id"`
	Date   time.Time       `json:"date"`
	Type   EntryType       `json:"type"`
	Amount decimal.Decimal `json:"amount"`

	Mode             PaymentMode `json:"mode_of_payment"`
	SubPaymentModeID string      `json:"sub_payment_mode_id,omitempty"`
	BankID           string      `json:"bank_id,omitempty"`
	CashLocationID   string      `json:"cash_location_id,omitempty"`

	// ReferenceNumber identifies a depositable on-account reference.
	// Unique within the (broker, branch) ledger when present.
	ReferenceNumber string `json:"reference_number,omitempty"`

	BookingID string `json:"booking_id,omitempty"`
	BranchID  string `json:"branch_id"`

	// OnAccount marks a credit with no immediate booking assignment,
	// held as available balance pending allocation.
	OnAccount   bool         `json:"on_account"`
	Allocations []Allocation `json:"allocations,omitempty"`

	Status          ApprovalStatus       `json:"approval_status"`
	AutoAllocation  AutoAllocationStatus `json:"auto_allocation_status,omitempty"`
	ApprovedBy      string               `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time           `json:"approved_at,omitempty"`
	RejectedBy      string               `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time           `json:"rejected_at,omitempty"`
	RejectionReason string               `json:"rejection_reason,omitempty"`

	Remark    string    `json:"remark,omitempty"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Allocated returns the total already allocated from this entry.
func (e *Entry) Allocated() decimal.Decimal {
	total := decimal.Zero
	for _, a := range e.Allocations {
		total = total.Add(a.Amount)
	}
	return total
}

// Remaining returns the unallocated portion of this entry's amount.
func (e *Entry) Remaining() decimal.Decimal {
	return e.Amount.Sub(e.Allocated())
}

// IsApproved reports whether the entry counts toward balances.
func (e *Entry) IsApproved() bool { return e.Status == StatusApproved }

// IsAllocatable reports whether the allocation engine may draw from this
// entry: an approved on-account credit that carries a deposit reference
// and still has remaining balance.
func (e *Entry) IsAllocatable() bool {
	return e.Type == Credit &&
		e.IsApproved() &&
		e.OnAccount &&
		e.ReferenceNumber != "" &&
		e.Remaining().IsPositive()
}

// =============================================================================
// BROKER LEDGER - aggregate root, one per (broker, branch)
// =============================================================================

type BrokerLedger struct {
	ID       string `json:"id"`
	BrokerID string `json:"broker_id"`
	BranchID string `json:"branch_id"`

	// CurrentBalance is the net of approved transactions:
	// sum(approved CREDIT) - sum(approved DEBIT).
	CurrentBalance decimal.Decimal `json:"current_balance"`

	// OnAccount is a running cache of unallocated approved on-account
	// credit. OnAccountBalance() is the authoritative derived figure;
	// Reconcile() reports any drift between the two.
	OnAccount decimal.Decimal `json:"on_account"`

	Entries []Entry `json:"transactions"`

	// Version supports optimistic concurrency on save.
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entry returns a pointer into the ledger's entry arena by stable ID,
// or nil if absent. Mutations through the pointer are persisted on the
// next SaveLedger.
func (l *BrokerLedger) Entry(id string) *Entry {
	for i := range l.Entries {
		if l.Entries[i].ID == id {
			return &l.Entries[i]
		}
	}
	return nil
}

// EntryByReference returns the entry carrying the given deposit reference,
// or nil. References are unique within one ledger.
func (l *BrokerLedger) EntryByReference(ref string) *Entry {
	if ref == "" {
		return nil
	}
	for i := range l.Entries {
		if l.Entries[i].ReferenceNumber == ref {
			return &l.Entries[i]
		}
	}
	return nil
}

// =============================================================================
// MASTER RECORDS - read collaborators
// =============================================================================

// Broker is a channel partner bringing vehicle bookings to branches.
type Broker struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Phone     string         `json:"phone,omitempty"`
	Branches  []BrokerBranch `json:"branches"`
	CreatedAt time.Time      `json:"created_at"`
}

// BrokerBranch is a broker's association with one branch.
type BrokerBranch struct {
	BranchID string `json:"branch_id"`
	Active   bool   `json:"active"`
}

// ActiveIn reports whether the broker is actively associated with a branch.
func (b *Broker) ActiveIn(branchID string) bool {
	for _, bb := range b.Branches {
		if bb.BranchID == branchID {
			return bb.Active
		}
	}
	return false
}

type Branch struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	City      string    `json:"city,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Booking is a vehicle booking; debits against it represent money the
// broker owes for it. Read-only from the ledger's point of view.
type Booking struct {
	ID           string          `json:"id"`
	Number       string          `json:"booking_number"`
	BranchID     string          `json:"branch_id"`
	CustomerName string          `json:"customer_name,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Bank struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type CashLocation struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	BranchID string `json:"branch_id,omitempty"`
}

type SubPaymentMode struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}
