/*
service.go - Ledger service: validation, approval workflow, orchestration

PURPOSE:
  The Service is the single entry point for every ledger mutation and
  query. It validates input against master records, applies the approval
  workflow, invokes the allocation engine after approval events, and
  persists the aggregate.

APPROVAL WORKFLOW:
  Pending -> Approved | Rejected. Terminal states are terminal.
  Initial state depends on type and mode:
    DEBIT        -> Approved immediately (approver = creator)
    CREDIT Cash  -> Approved immediately
    CREDIT other -> Pending

  Only Approved entries contribute to balances. Approving a credit adds
  its amount to the balance; approving a debit subtracts it. An approved
  on-account credit joins the on-account pool and auto-allocation runs
  synchronously before the call returns.

CONCURRENCY:
  Every mutation takes the per-(broker, branch) lock for the whole
  read-modify-write cycle, so an approval and the auto-allocation it
  triggers can never interleave with another writer on the same ledger.
  Store-level version checks back this up across processes.

FAILURE ATOMICITY:
  All validation happens before mutation. Mutations are applied to the
  in-memory aggregate and persisted with one SaveLedger call; a failed
  save leaves the stored ledger untouched.
*/
package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/dealer-ledger/ids"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store Store
	locks keyedMutex

	now   func() time.Time
	newID func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides the ID source (tests).
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: ids.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// keyedMutex serializes writers per (broker, branch) ledger.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func ledgerKey(brokerID, branchID string) string {
	return brokerID + "/" + branchID
}

// =============================================================================
// TRANSACTION CREATION
// =============================================================================

// AddTransactionInput carries everything needed to create one entry.
type AddTransactionInput struct {
	Type             EntryType
	Amount           decimal.Decimal
	Mode             PaymentMode
	SubPaymentModeID string
	ReferenceNumber  string
	BookingID        string
	BankID           string
	CashLocationID   string
	Remark           string
	Date             *time.Time
	CreatedBy        string

	// AdjustAgainstBookings records creation-time offsets against specific
	// bookings. Stored as ADJUSTMENT allocations on the new credit.
	AdjustAgainstBookings []AllocationRequest
}

// AddTransaction validates and appends a new entry, creating the ledger on
// first use. Auto-approved entries take effect (and may trigger
// auto-allocation) before the call returns.
func (s *Service) AddTransaction(ctx context.Context, brokerID, branchID string, in AddTransactionInput) (*BrokerLedger, *Entry, []AllocationEvent, error) {
	if in.Type != Credit && in.Type != Debit {
		return nil, nil, nil, missingField("type")
	}
	if !in.Amount.IsPositive() {
		return nil, nil, nil, ErrInvalidAmount
	}
	if err := s.validateAssociation(ctx, brokerID, branchID); err != nil {
		return nil, nil, nil, err
	}
	if err := s.validateModeFields(ctx, in.Mode, in.SubPaymentModeID, in.BankID, in.CashLocationID); err != nil {
		return nil, nil, nil, err
	}
	if in.Mode == ModeCash && in.CashLocationID == "" {
		return nil, nil, nil, missingField("cashLocation")
	}
	if in.BookingID != "" {
		if _, err := s.store.GetBooking(ctx, in.BookingID); err != nil {
			return nil, nil, nil, err
		}
	}
	if in.Type == Debit && len(in.AdjustAgainstBookings) > 0 {
		return nil, nil, nil, &ValidationError{Field: "adjustAgainstBookings", Message: "only valid on CREDIT transactions"}
	}

	unlock := s.locks.lock(ledgerKey(brokerID, branchID))
	defer unlock()

	l, err := s.store.GetOrCreateLedger(ctx, brokerID, branchID)
	if err != nil {
		return nil, nil, nil, err
	}

	if in.ReferenceNumber != "" && l.EntryByReference(in.ReferenceNumber) != nil {
		return nil, nil, nil, ErrDuplicateReference
	}

	adjustments, err := s.validateAdjustments(ctx, l, in)
	if err != nil {
		return nil, nil, nil, err
	}

	now := s.now()
	date := now
	if in.Date != nil {
		date = *in.Date
	}

	entry := Entry{
		ID:               s.newID(),
		Date:             date,
		Type:             in.Type,
		Amount:           in.Amount,
		Mode:             in.Mode,
		SubPaymentModeID: in.SubPaymentModeID,
		BankID:           in.BankID,
		CashLocationID:   in.CashLocationID,
		ReferenceNumber:  in.ReferenceNumber,
		BookingID:        in.BookingID,
		BranchID:         branchID,
		Allocations:      adjustments,
		Remark:           in.Remark,
		CreatedBy:        in.CreatedBy,
		CreatedAt:        now,
		Status:           initialStatus(in.Type, in.Mode),
	}

	// A credit with no booking, no adjustments and no deposit reference is
	// an on-account deposit awaiting allocation.
	if in.Type == Credit && in.BookingID == "" && len(adjustments) == 0 && in.ReferenceNumber == "" {
		entry.OnAccount = true
	}

	if entry.Status == StatusApproved {
		entry.ApprovedBy = in.CreatedBy
		entry.ApprovedAt = &now
	}

	l.Entries = append(l.Entries, entry)
	e := l.Entry(entry.ID)

	var events []AllocationEvent
	if e.IsApproved() {
		events = s.applyApprovalEffects(l, e, now)
	}

	l.UpdatedAt = now
	if err := s.store.SaveLedger(ctx, l); err != nil {
		return nil, nil, nil, err
	}
	return l, l.Entry(entry.ID), events, nil
}

// initialStatus implements the default approval assignment: debits and
// cash credits take effect immediately, everything else awaits approval.
func initialStatus(t EntryType, mode PaymentMode) ApprovalStatus {
	if t == Debit || mode == ModeCash {
		return StatusApproved
	}
	return StatusPending
}

// applyApprovalEffects adjusts balances for a newly approved entry and
// runs the allocation engine when the event makes new matching possible.
func (s *Service) applyApprovalEffects(l *BrokerLedger, e *Entry, now time.Time) []AllocationEvent {
	switch e.Type {
	case Credit:
		l.CurrentBalance = l.CurrentBalance.Add(e.Amount)
		if e.OnAccount {
			// Remaining, not Amount: a credit may already carry
			// allocations when it gets approved.
			l.OnAccount = l.OnAccount.Add(e.Remaining())
			return l.AutoAllocate(now, s.newID)
		}
	case Debit:
		l.CurrentBalance = l.CurrentBalance.Sub(e.Amount)
		if e.BookingID != "" {
			// New debt: try covering it from existing on-account funds.
			return l.AutoAllocate(now, s.newID)
		}
	}
	return nil
}

// validateAdjustments checks each creation-time adjustment against the
// booking's outstanding debit and the credit amount being created.
func (s *Service) validateAdjustments(ctx context.Context, l *BrokerLedger, in AddTransactionInput) ([]Allocation, error) {
	if len(in.AdjustAgainstBookings) == 0 {
		return nil, nil
	}

	now := s.now()
	remaining := in.Amount
	var allocations []Allocation
	for _, r := range in.AdjustAgainstBookings {
		if r.BookingID == "" {
			return nil, missingField("adjustAgainstBookings.booking")
		}
		if !r.Amount.IsPositive() {
			return nil, ErrInvalidAmount
		}
		if _, err := s.store.GetBooking(ctx, r.BookingID); err != nil {
			return nil, err
		}
		if outstanding := l.Outstanding(r.BookingID); r.Amount.GreaterThan(outstanding) {
			return nil, &AllocationError{
				BookingID: r.BookingID,
				Requested: r.Amount,
				Available: outstanding,
				Reason:    "exceeds_outstanding",
			}
		}
		if r.Amount.GreaterThan(remaining) {
			return nil, &AllocationError{
				BookingID: r.BookingID,
				Requested: r.Amount,
				Available: remaining,
				Reason:    "exceeds_remaining_credit",
			}
		}
		remaining = remaining.Sub(r.Amount)
		allocations = append(allocations, Allocation{
			ID:        s.newID(),
			BookingID: r.BookingID,
			Amount:    r.Amount,
			Date:      now,
			Type:      AllocationAdjustment,
		})
	}
	return allocations, nil
}

// =============================================================================
// ON-ACCOUNT DEPOSIT
// =============================================================================

// DepositInput creates an on-account credit identified by a mandatory
// unique deposit reference.
type DepositInput struct {
	Amount           decimal.Decimal
	Mode             PaymentMode
	SubPaymentModeID string
	ReferenceNumber  string
	BankID           string
	Remark           string
	Date             *time.Time
	CreatedBy        string
}

// DepositOnAccount records an unbooked credit held for later allocation.
// Cash deposits take effect immediately and auto-allocation runs before
// the call returns; other modes await approval.
func (s *Service) DepositOnAccount(ctx context.Context, brokerID, branchID string, in DepositInput) (*BrokerLedger, *Entry, []AllocationEvent, error) {
	if !in.Amount.IsPositive() {
		return nil, nil, nil, ErrInvalidAmount
	}
	ref := strings.TrimSpace(in.ReferenceNumber)
	if ref == "" {
		return nil, nil, nil, missingField("referenceNumber")
	}
	if err := s.validateAssociation(ctx, brokerID, branchID); err != nil {
		return nil, nil, nil, err
	}
	if err := s.validateModeFields(ctx, in.Mode, in.SubPaymentModeID, in.BankID, ""); err != nil {
		return nil, nil, nil, err
	}

	unlock := s.locks.lock(ledgerKey(brokerID, branchID))
	defer unlock()

	l, err := s.store.GetOrCreateLedger(ctx, brokerID, branchID)
	if err != nil {
		return nil, nil, nil, err
	}
	if l.EntryByReference(ref) != nil {
		return nil, nil, nil, ErrDuplicateReference
	}

	now := s.now()
	date := now
	if in.Date != nil {
		date = *in.Date
	}

	entry := Entry{
		ID:               s.newID(),
		Date:             date,
		Type:             Credit,
		Amount:           in.Amount,
		Mode:             in.Mode,
		SubPaymentModeID: in.SubPaymentModeID,
		BankID:           in.BankID,
		ReferenceNumber:  ref,
		BranchID:         branchID,
		OnAccount:        true,
		Remark:           in.Remark,
		CreatedBy:        in.CreatedBy,
		CreatedAt:        now,
		Status:           initialStatus(Credit, in.Mode),
	}
	if entry.Status == StatusApproved {
		entry.ApprovedBy = in.CreatedBy
		entry.ApprovedAt = &now
	}

	l.Entries = append(l.Entries, entry)
	e := l.Entry(entry.ID)

	var events []AllocationEvent
	if e.IsApproved() {
		events = s.applyApprovalEffects(l, e, now)
	}

	l.UpdatedAt = now
	if err := s.store.SaveLedger(ctx, l); err != nil {
		return nil, nil, nil, err
	}
	return l, l.Entry(entry.ID), events, nil
}

// =============================================================================
// APPROVAL TRANSITIONS
// =============================================================================

// Approve transitions a pending entry to Approved, applies its balance
// effects and runs auto-allocation where the event enables matching.
func (s *Service) Approve(ctx context.Context, brokerID, branchID, entryID, approvedBy, remark string) (*BrokerLedger, *Entry, []AllocationEvent, error) {
	return s.approve(ctx, brokerID, branchID, entryID, approvedBy, remark, false)
}

// ApproveOnAccount is Approve restricted to on-account credits.
func (s *Service) ApproveOnAccount(ctx context.Context, brokerID, branchID, entryID, approvedBy, remark string) (*BrokerLedger, *Entry, []AllocationEvent, error) {
	return s.approve(ctx, brokerID, branchID, entryID, approvedBy, remark, true)
}

func (s *Service) approve(ctx context.Context, brokerID, branchID, entryID, approvedBy, remark string, onAccountOnly bool) (*BrokerLedger, *Entry, []AllocationEvent, error) {
	unlock := s.locks.lock(ledgerKey(brokerID, branchID))
	defer unlock()

	l, err := s.store.GetLedger(ctx, brokerID, branchID)
	if err != nil {
		return nil, nil, nil, err
	}
	e := l.Entry(entryID)
	if e == nil {
		return nil, nil, nil, ErrEntryNotFound
	}
	if onAccountOnly && !(e.Type == Credit && e.OnAccount) {
		return nil, nil, nil, ErrNotOnAccount
	}
	if e.Status != StatusPending {
		return nil, nil, nil, ErrNotPending
	}

	now := s.now()
	e.Status = StatusApproved
	e.ApprovedBy = approvedBy
	e.ApprovedAt = &now
	if remark != "" {
		e.Remark = remark
	}

	events := s.applyApprovalEffects(l, e, now)

	l.UpdatedAt = now
	if err := s.store.SaveLedger(ctx, l); err != nil {
		return nil, nil, nil, err
	}
	return l, e, events, nil
}

// Reject transitions a pending entry to Rejected. Rejected entries never
// contribute to any balance, so no balance adjustment happens here.
func (s *Service) Reject(ctx context.Context, brokerID, branchID, entryID, rejectedBy, reason string) (*BrokerLedger, *Entry, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, nil, missingField("reason")
	}

	unlock := s.locks.lock(ledgerKey(brokerID, branchID))
	defer unlock()

	l, err := s.store.GetLedger(ctx, brokerID, branchID)
	if err != nil {
		return nil, nil, err
	}
	e := l.Entry(entryID)
	if e == nil {
		return nil, nil, ErrEntryNotFound
	}
	if e.Status != StatusPending {
		return nil, nil, ErrNotPending
	}

	now := s.now()
	e.Status = StatusRejected
	e.RejectionReason = reason
	e.RejectedBy = rejectedBy
	e.RejectedAt = &now

	l.UpdatedAt = now
	if err := s.store.SaveLedger(ctx, l); err != nil {
		return nil, nil, err
	}
	return l, e, nil
}

// =============================================================================
// ALLOCATION OPERATIONS
// =============================================================================

// AllocateReference applies manual allocations from the deposit identified
// by reference. Bookings must exist; the total must not exceed the
// credit's remaining balance.
func (s *Service) AllocateReference(ctx context.Context, brokerID, branchID, ref string, reqs []AllocationRequest) (*BrokerLedger, []AllocationEvent, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, nil, missingField("referenceNumber")
	}
	if len(reqs) == 0 {
		return nil, nil, missingField("allocations")
	}
	for _, r := range reqs {
		if _, err := s.store.GetBooking(ctx, r.BookingID); err != nil {
			return nil, nil, err
		}
	}

	unlock := s.locks.lock(ledgerKey(brokerID, branchID))
	defer unlock()

	l, err := s.store.GetLedger(ctx, brokerID, branchID)
	if err != nil {
		return nil, nil, err
	}

	events, err := l.AllocateReference(ref, reqs, s.now(), s.newID)
	if err != nil {
		return nil, nil, err
	}

	l.UpdatedAt = s.now()
	if err := s.store.SaveLedger(ctx, l); err != nil {
		return nil, nil, err
	}
	return l, events, nil
}

// AutoAllocate runs the allocation engine on demand. Saves only when the
// engine actually applied something.
func (s *Service) AutoAllocate(ctx context.Context, brokerID, branchID string) (*BrokerLedger, []AllocationEvent, error) {
	unlock := s.locks.lock(ledgerKey(brokerID, branchID))
	defer unlock()

	l, err := s.store.GetLedger(ctx, brokerID, branchID)
	if err != nil {
		return nil, nil, err
	}

	events := l.AutoAllocate(s.now(), s.newID)
	if len(events) == 0 {
		return l, nil, nil
	}

	l.UpdatedAt = s.now()
	if err := s.store.SaveLedger(ctx, l); err != nil {
		return nil, nil, err
	}
	return l, events, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Ledger returns the full ledger for (broker, branch), creating an empty
// one on first access.
func (s *Service) Ledger(ctx context.Context, brokerID, branchID string) (*BrokerLedger, error) {
	if err := s.validateAssociation(ctx, brokerID, branchID); err != nil {
		return nil, err
	}
	return s.store.GetOrCreateLedger(ctx, brokerID, branchID)
}

// PendingEntries lists entries awaiting approval, oldest first, paginated.
func (s *Service) PendingEntries(ctx context.Context, brokerID, branchID string, page, perPage int) ([]Entry, int, error) {
	l, err := s.store.GetLedger(ctx, brokerID, branchID)
	if err != nil {
		return nil, 0, err
	}

	var pending []Entry
	for _, e := range l.Entries {
		if e.Status == StatusPending {
			pending = append(pending, e)
		}
	}
	total := len(pending)

	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= total {
		return []Entry{}, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return pending[start:end], total, nil
}

// PendingDebitsResult pairs the outstanding-per-booking list with the
// funds available to cover it.
type PendingDebitsResult struct {
	Debits           []PendingDebit  `json:"pending_debits"`
	OnAccountBalance decimal.Decimal `json:"on_account_balance"`
}

// PendingDebits lists bookings with outstanding balances.
func (s *Service) PendingDebits(ctx context.Context, brokerID, branchID string) (*PendingDebitsResult, error) {
	l, err := s.store.GetLedger(ctx, brokerID, branchID)
	if err != nil {
		return nil, err
	}
	return &PendingDebitsResult{
		Debits:           l.PendingDebits(),
		OnAccountBalance: l.OnAccountBalance(),
	}, nil
}

// OnAccountReference summarizes one deposit reference and what is left of it.
type OnAccountReference struct {
	EntryID         string               `json:"entry_id"`
	ReferenceNumber string               `json:"reference_number"`
	Date            time.Time            `json:"date"`
	Amount          decimal.Decimal      `json:"amount"`
	Allocated       decimal.Decimal      `json:"allocated"`
	Remaining       decimal.Decimal      `json:"remaining"`
	Status          AutoAllocationStatus `json:"auto_allocation_status,omitempty"`
}

// OnAccountSummaryResult is the on-account balance plus its references.
type OnAccountSummaryResult struct {
	OnAccountBalance decimal.Decimal      `json:"on_account_balance"`
	References       []OnAccountReference `json:"references"`
}

// OnAccountSummary lists approved on-account deposit references with
// their remaining amounts.
func (s *Service) OnAccountSummary(ctx context.Context, brokerID, branchID string) (*OnAccountSummaryResult, error) {
	l, err := s.store.GetLedger(ctx, brokerID, branchID)
	if err != nil {
		return nil, err
	}

	refs := []OnAccountReference{}
	for i := range l.Entries {
		e := &l.Entries[i]
		if e.Type != Credit || !e.IsApproved() || !e.OnAccount || e.ReferenceNumber == "" {
			continue
		}
		refs = append(refs, OnAccountReference{
			EntryID:         e.ID,
			ReferenceNumber: e.ReferenceNumber,
			Date:            e.Date,
			Amount:          e.Amount,
			Allocated:       e.Allocated(),
			Remaining:       e.Remaining(),
			Status:          e.AutoAllocation,
		})
	}
	return &OnAccountSummaryResult{
		OnAccountBalance: l.OnAccountBalance(),
		References:       refs,
	}, nil
}

// =============================================================================
// VALIDATION HELPERS
// =============================================================================

func (s *Service) validateAssociation(ctx context.Context, brokerID, branchID string) error {
	if _, err := s.store.GetBranch(ctx, branchID); err != nil {
		return err
	}
	broker, err := s.store.GetBroker(ctx, brokerID)
	if err != nil {
		return err
	}
	if !broker.ActiveIn(branchID) {
		return ErrBrokerNotAssociated
	}
	return nil
}

func (s *Service) validateModeFields(ctx context.Context, mode PaymentMode, subModeID, bankID, cashLocationID string) error {
	if mode == "" {
		return missingField("modeOfPayment")
	}
	if !ValidPaymentMode(mode) {
		return ErrInvalidPaymentMode
	}

	switch mode {
	case ModeBank:
		if subModeID == "" {
			return missingField("subPaymentMode")
		}
		sub, err := s.store.GetSubPaymentMode(ctx, subModeID)
		if err != nil {
			return err
		}
		if !sub.Active {
			return ErrSubPaymentModeInactive
		}
		if bankID == "" {
			return missingField("bank")
		}
		if _, err := s.store.GetBank(ctx, bankID); err != nil {
			return err
		}
	case ModeCash:
		if cashLocationID != "" {
			if _, err := s.store.GetCashLocation(ctx, cashLocationID); err != nil {
				return err
			}
		}
	}
	return nil
}
