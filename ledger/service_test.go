package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/dealer-ledger/ledger"
	"github.com/warp/dealer-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	brokerID  = "broker-1"
	branchID  = "branch-north"
	branch2ID = "branch-south"
)

func newTestService(t *testing.T) (*ledger.Service, *store.Memory) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	require.NoError(t, mem.SaveBranch(ctx, ledger.Branch{ID: branchID, Name: "North Showroom"}))
	require.NoError(t, mem.SaveBranch(ctx, ledger.Branch{ID: branch2ID, Name: "South Showroom"}))
	require.NoError(t, mem.SaveBroker(ctx, ledger.Broker{
		ID:   brokerID,
		Name: "Sharma Motors",
		Branches: []ledger.BrokerBranch{
			{BranchID: branchID, Active: true},
			{BranchID: branch2ID, Active: true},
		},
	}))
	require.NoError(t, mem.SaveBroker(ctx, ledger.Broker{
		ID:   "broker-inactive",
		Name: "Dormant Broker",
		Branches: []ledger.BrokerBranch{
			{BranchID: branchID, Active: false},
		},
	}))
	for _, id := range []string{"bk-1", "bk-2", "bk-3"} {
		require.NoError(t, mem.SaveBooking(ctx, ledger.Booking{
			ID: id, Number: "BKG-" + id, BranchID: branchID,
			Amount: decimal.NewFromInt(100000),
		}))
	}
	require.NoError(t, mem.SaveBank(ctx, ledger.Bank{ID: "bank-hdfc", Name: "HDFC"}))
	require.NoError(t, mem.SaveCashLocation(ctx, ledger.CashLocation{ID: "cash-main", Name: "Main Counter", BranchID: branchID}))
	require.NoError(t, mem.SaveSubPaymentMode(ctx, ledger.SubPaymentMode{ID: "sub-neft", Name: "NEFT", Active: true}))
	require.NoError(t, mem.SaveSubPaymentMode(ctx, ledger.SubPaymentMode{ID: "sub-old", Name: "DD", Active: false}))

	return ledger.NewService(mem), mem
}

func depositCash(t *testing.T, svc *ledger.Service, amount int64, ref string, date time.Time) *ledger.BrokerLedger {
	t.Helper()
	l, _, _, err := svc.DepositOnAccount(context.Background(), brokerID, branchID, ledger.DepositInput{
		Amount:          decimal.NewFromInt(amount),
		Mode:            ledger.ModeCash,
		ReferenceNumber: ref,
		Date:            &date,
		CreatedBy:       "cashier-1",
	})
	require.NoError(t, err)
	return l
}

func bookingDebit(t *testing.T, svc *ledger.Service, amount int64, bookingID string, date time.Time) *ledger.BrokerLedger {
	t.Helper()
	l, _, _, err := svc.AddTransaction(context.Background(), brokerID, branchID, ledger.AddTransactionInput{
		Type:      ledger.Debit,
		Amount:    decimal.NewFromInt(amount),
		Mode:      ledger.ModeExchange,
		BookingID: bookingID,
		Date:      &date,
		CreatedBy: "accounts-1",
	})
	require.NoError(t, err)
	return l
}

func day(n int) time.Time {
	return time.Date(2026, time.March, n, 10, 0, 0, 0, time.UTC)
}

func amt(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

// requireConsistent asserts the two derived-balance invariants plus the
// on-account cache reconciliation after any operation.
func requireConsistent(t *testing.T, l *ledger.BrokerLedger) {
	t.Helper()
	assert.True(t, l.CurrentBalance.Equal(l.ComputedBalance()),
		"currentBalance %s != computed %s", l.CurrentBalance, l.ComputedBalance())
	assert.False(t, l.OnAccountBalance().IsNegative(), "on-account balance went negative")
	assert.True(t, l.Reconcile().IsZero(),
		"on-account cache drifted by %s", l.Reconcile())
}

// =============================================================================
// TRANSACTION CREATION & VALIDATION
// =============================================================================

func TestAddTransaction_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		in      ledger.AddTransactionInput
		wantErr error
	}{
		{
			name:    "missing type",
			in:      ledger.AddTransactionInput{Amount: amt(100), Mode: ledger.ModeCash},
			wantErr: ledger.ErrMissingField,
		},
		{
			name:    "non-positive amount",
			in:      ledger.AddTransactionInput{Type: ledger.Credit, Amount: amt(0), Mode: ledger.ModeCash},
			wantErr: ledger.ErrInvalidAmount,
		},
		{
			name:    "unknown payment mode",
			in:      ledger.AddTransactionInput{Type: ledger.Credit, Amount: amt(100), Mode: "UPI"},
			wantErr: ledger.ErrInvalidPaymentMode,
		},
		{
			name:    "bank mode without sub payment mode",
			in:      ledger.AddTransactionInput{Type: ledger.Credit, Amount: amt(100), Mode: ledger.ModeBank, BankID: "bank-hdfc"},
			wantErr: ledger.ErrMissingField,
		},
		{
			name: "bank mode with inactive sub payment mode",
			in: ledger.AddTransactionInput{
				Type: ledger.Credit, Amount: amt(100), Mode: ledger.ModeBank,
				SubPaymentModeID: "sub-old", BankID: "bank-hdfc",
			},
			wantErr: ledger.ErrSubPaymentModeInactive,
		},
		{
			name: "bank mode without bank",
			in: ledger.AddTransactionInput{
				Type: ledger.Credit, Amount: amt(100), Mode: ledger.ModeBank,
				SubPaymentModeID: "sub-neft",
			},
			wantErr: ledger.ErrMissingField,
		},
		{
			name:    "cash mode without cash location",
			in:      ledger.AddTransactionInput{Type: ledger.Credit, Amount: amt(100), Mode: ledger.ModeCash},
			wantErr: ledger.ErrMissingField,
		},
		{
			name: "unknown booking",
			in: ledger.AddTransactionInput{
				Type: ledger.Credit, Amount: amt(100), Mode: ledger.ModeCash,
				CashLocationID: "cash-main", BookingID: "bk-missing",
			},
			wantErr: ledger.ErrBookingNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, _, err := svc.AddTransaction(ctx, brokerID, branchID, tc.in)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestAddTransaction_BrokerNotAssociated(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, _, err := svc.AddTransaction(context.Background(), "broker-inactive", branchID, ledger.AddTransactionInput{
		Type: ledger.Credit, Amount: amt(100), Mode: ledger.ModeCash, CashLocationID: "cash-main",
	})
	assert.ErrorIs(t, err, ledger.ErrBrokerNotAssociated)
}

func TestAddTransaction_DebitAutoApproved(t *testing.T) {
	// GIVEN: a fresh ledger
	// WHEN: a debit is recorded against a booking
	// THEN: it is approved immediately, stamped with the creator, and the
	//       balance reflects it

	svc, _ := newTestService(t)

	l, e, _, err := svc.AddTransaction(context.Background(), brokerID, branchID, ledger.AddTransactionInput{
		Type:      ledger.Debit,
		Amount:    amt(3000),
		Mode:      ledger.ModeExchange,
		BookingID: "bk-1",
		CreatedBy: "accounts-1",
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusApproved, e.Status)
	assert.Equal(t, "accounts-1", e.ApprovedBy)
	assert.NotNil(t, e.ApprovedAt)
	assert.True(t, l.CurrentBalance.Equal(amt(-3000)))
	requireConsistent(t, l)
}

func TestAddTransaction_CashCreditAutoApproved(t *testing.T) {
	svc, _ := newTestService(t)

	l, e, _, err := svc.AddTransaction(context.Background(), brokerID, branchID, ledger.AddTransactionInput{
		Type:           ledger.Credit,
		Amount:         amt(2500),
		Mode:           ledger.ModeCash,
		CashLocationID: "cash-main",
		BookingID:      "bk-1",
		CreatedBy:      "cashier-1",
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusApproved, e.Status)
	assert.False(t, e.OnAccount, "credit tied to a booking is not on-account")
	assert.True(t, l.CurrentBalance.Equal(amt(2500)))
	requireConsistent(t, l)
}

func TestAddTransaction_UnbookedCreditIsOnAccount(t *testing.T) {
	svc, _ := newTestService(t)

	l, e, _, err := svc.AddTransaction(context.Background(), brokerID, branchID, ledger.AddTransactionInput{
		Type:           ledger.Credit,
		Amount:         amt(1000),
		Mode:           ledger.ModeCash,
		CashLocationID: "cash-main",
		CreatedBy:      "cashier-1",
	})
	require.NoError(t, err)

	assert.True(t, e.OnAccount, "unbooked credit with no adjustments and no reference is on-account")
	assert.True(t, l.OnAccountBalance().Equal(amt(1000)))
	requireConsistent(t, l)
}

func TestAddTransaction_AdjustAgainstBookings(t *testing.T) {
	// GIVEN: booking bk-1 owes 3000
	// WHEN: a cash credit of 2000 is created adjusted against bk-1
	// THEN: bk-1's outstanding drops to 1000 through an ADJUSTMENT allocation

	svc, _ := newTestService(t)
	bookingDebit(t, svc, 3000, "bk-1", day(1))

	l, e, _, err := svc.AddTransaction(context.Background(), brokerID, branchID, ledger.AddTransactionInput{
		Type:           ledger.Credit,
		Amount:         amt(2000),
		Mode:           ledger.ModeCash,
		CashLocationID: "cash-main",
		CreatedBy:      "cashier-1",
		AdjustAgainstBookings: []ledger.AllocationRequest{
			{BookingID: "bk-1", Amount: amt(2000)},
		},
	})
	require.NoError(t, err)

	require.Len(t, e.Allocations, 1)
	assert.Equal(t, ledger.AllocationAdjustment, e.Allocations[0].Type)
	assert.False(t, e.OnAccount)
	assert.True(t, l.Outstanding("bk-1").Equal(amt(1000)))
	requireConsistent(t, l)
}

func TestAddTransaction_AdjustmentExceedsOutstanding_Rejected(t *testing.T) {
	svc, _ := newTestService(t)
	bookingDebit(t, svc, 3000, "bk-1", day(1))

	_, _, _, err := svc.AddTransaction(context.Background(), brokerID, branchID, ledger.AddTransactionInput{
		Type:           ledger.Credit,
		Amount:         amt(5000),
		Mode:           ledger.ModeCash,
		CashLocationID: "cash-main",
		AdjustAgainstBookings: []ledger.AllocationRequest{
			{BookingID: "bk-1", Amount: amt(4000)},
		},
	})

	var allocErr *ledger.AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, "exceeds_outstanding", allocErr.Reason)
}

func TestAddTransaction_AdjustmentExceedsCredit_Rejected(t *testing.T) {
	svc, _ := newTestService(t)
	bookingDebit(t, svc, 5000, "bk-1", day(1))

	_, _, _, err := svc.AddTransaction(context.Background(), brokerID, branchID, ledger.AddTransactionInput{
		Type:           ledger.Credit,
		Amount:         amt(2000),
		Mode:           ledger.ModeCash,
		CashLocationID: "cash-main",
		AdjustAgainstBookings: []ledger.AllocationRequest{
			{BookingID: "bk-1", Amount: amt(3000)},
		},
	})

	var allocErr *ledger.AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, "exceeds_remaining_credit", allocErr.Reason)
}

// =============================================================================
// ON-ACCOUNT DEPOSITS
// =============================================================================

func TestDepositOnAccount_RequiresReference(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, _, err := svc.DepositOnAccount(context.Background(), brokerID, branchID, ledger.DepositInput{
		Amount: amt(5000),
		Mode:   ledger.ModeCash,
	})
	assert.ErrorIs(t, err, ledger.ErrMissingField)

	_, _, _, err = svc.DepositOnAccount(context.Background(), brokerID, branchID, ledger.DepositInput{
		Amount:          amt(5000),
		Mode:            ledger.ModeCash,
		ReferenceNumber: "   ",
	})
	assert.ErrorIs(t, err, ledger.ErrMissingField, "blank reference is rejected")
}

func TestDepositOnAccount_DuplicateReference_Conflict(t *testing.T) {
	// GIVEN: deposit "R1" exists for (broker, branch)
	// WHEN: a second deposit reuses "R1"
	// THEN: it fails with ErrDuplicateReference and the first is unaffected

	svc, _ := newTestService(t)
	depositCash(t, svc, 5000, "R1", day(1))

	_, _, _, err := svc.DepositOnAccount(context.Background(), brokerID, branchID, ledger.DepositInput{
		Amount:          amt(700),
		Mode:            ledger.ModeCash,
		ReferenceNumber: "R1",
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateReference)

	l, err := svc.Ledger(context.Background(), brokerID, branchID)
	require.NoError(t, err)
	require.Len(t, l.Entries, 1)
	assert.True(t, l.Entries[0].Amount.Equal(amt(5000)), "original deposit unchanged")
	requireConsistent(t, l)
}

func TestDepositOnAccount_BankModePending(t *testing.T) {
	svc, _ := newTestService(t)

	l, e, events, err := svc.DepositOnAccount(context.Background(), brokerID, branchID, ledger.DepositInput{
		Amount:           amt(5000),
		Mode:             ledger.ModeBank,
		SubPaymentModeID: "sub-neft",
		BankID:           "bank-hdfc",
		ReferenceNumber:  "NEFT-881",
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusPending, e.Status)
	assert.Empty(t, events, "pending deposit must not allocate")
	assert.True(t, l.CurrentBalance.IsZero())
	assert.True(t, l.OnAccountBalance().IsZero())
	requireConsistent(t, l)
}

// =============================================================================
// APPROVAL WORKFLOW
// =============================================================================

func TestApprovalGating(t *testing.T) {
	// GIVEN: a pending bank credit of 1000
	// WHEN: it is approved
	// THEN: currentBalance moves by exactly 1000 and, being on-account,
	//       the funds become eligible for allocation

	svc, _ := newTestService(t)
	ctx := context.Background()

	_, e, _, err := svc.DepositOnAccount(ctx, brokerID, branchID, ledger.DepositInput{
		Amount:           amt(1000),
		Mode:             ledger.ModeBank,
		SubPaymentModeID: "sub-neft",
		BankID:           "bank-hdfc",
		ReferenceNumber:  "NEFT-1",
	})
	require.NoError(t, err)

	l, err := svc.Ledger(ctx, brokerID, branchID)
	require.NoError(t, err)
	assert.True(t, l.CurrentBalance.IsZero(), "pending credit must not move the balance")

	l, approved, _, err := svc.Approve(ctx, brokerID, branchID, e.ID, "manager-1", "verified with bank")
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusApproved, approved.Status)
	assert.Equal(t, "manager-1", approved.ApprovedBy)
	assert.True(t, l.CurrentBalance.Equal(amt(1000)))
	assert.True(t, l.OnAccountBalance().Equal(amt(1000)))
	requireConsistent(t, l)
}

func TestApprove_NotPending_Rejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	l := depositCash(t, svc, 500, "R1", day(1)) // cash: already approved
	entryID := l.Entries[0].ID

	_, _, _, err := svc.Approve(ctx, brokerID, branchID, entryID, "manager-1", "")
	assert.ErrorIs(t, err, ledger.ErrNotPending)
}

func TestApprove_UnknownEntry_NotFound(t *testing.T) {
	svc, _ := newTestService(t)
	depositCash(t, svc, 500, "R1", day(1))

	_, _, _, err := svc.Approve(context.Background(), brokerID, branchID, "no-such-entry", "manager-1", "")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func TestApproveOnAccount_RejectsBookedCredit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, e, _, err := svc.AddTransaction(ctx, brokerID, branchID, ledger.AddTransactionInput{
		Type:             ledger.Credit,
		Amount:           amt(900),
		Mode:             ledger.ModeBank,
		SubPaymentModeID: "sub-neft",
		BankID:           "bank-hdfc",
		BookingID:        "bk-1",
	})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPending, e.Status)

	_, _, _, err = svc.ApproveOnAccount(ctx, brokerID, branchID, e.ID, "manager-1", "")
	assert.ErrorIs(t, err, ledger.ErrNotOnAccount)
}

func TestReject_NeverContributes(t *testing.T) {
	// GIVEN: a pending bank deposit
	// WHEN: it is rejected
	// THEN: no balance moves, and the entry is terminal

	svc, _ := newTestService(t)
	ctx := context.Background()

	_, e, _, err := svc.DepositOnAccount(ctx, brokerID, branchID, ledger.DepositInput{
		Amount:           amt(4000),
		Mode:             ledger.ModeBank,
		SubPaymentModeID: "sub-neft",
		BankID:           "bank-hdfc",
		ReferenceNumber:  "NEFT-9",
	})
	require.NoError(t, err)

	l, rejected, err := svc.Reject(ctx, brokerID, branchID, e.ID, "manager-1", "amount mismatch")
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusRejected, rejected.Status)
	assert.Equal(t, "amount mismatch", rejected.RejectionReason)
	assert.Equal(t, "manager-1", rejected.RejectedBy)
	assert.NotNil(t, rejected.RejectedAt)
	assert.Empty(t, rejected.ApprovedBy, "rejection is not an approval")
	assert.Nil(t, rejected.ApprovedAt)
	assert.True(t, l.CurrentBalance.IsZero())
	assert.True(t, l.OnAccountBalance().IsZero())
	requireConsistent(t, l)

	// Terminal: cannot approve afterwards.
	_, _, _, err = svc.Approve(ctx, brokerID, branchID, e.ID, "manager-2", "")
	assert.ErrorIs(t, err, ledger.ErrNotPending)
}

func TestReject_RequiresReason(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, e, _, err := svc.DepositOnAccount(ctx, brokerID, branchID, ledger.DepositInput{
		Amount:           amt(4000),
		Mode:             ledger.ModeBank,
		SubPaymentModeID: "sub-neft",
		BankID:           "bank-hdfc",
		ReferenceNumber:  "NEFT-10",
	})
	require.NoError(t, err)

	_, _, err = svc.Reject(ctx, brokerID, branchID, e.ID, "manager-1", " ")
	assert.ErrorIs(t, err, ledger.ErrMissingField)
}

// =============================================================================
// BALANCE INVARIANT ACROSS MIXED OPERATIONS
// =============================================================================

func TestBalanceInvariant_AcrossOperations(t *testing.T) {
	// currentBalance == sum(approved credits) - sum(approved debits)
	// at every step, and the on-account cache never drifts.

	svc, _ := newTestService(t)
	ctx := context.Background()

	requireConsistent(t, depositCash(t, svc, 10000, "R1", day(1)))
	requireConsistent(t, bookingDebit(t, svc, 4000, "bk-1", day(2)))

	_, pending, _, err := svc.DepositOnAccount(ctx, brokerID, branchID, ledger.DepositInput{
		Amount:           amt(2500),
		Mode:             ledger.ModeBank,
		SubPaymentModeID: "sub-neft",
		BankID:           "bank-hdfc",
		ReferenceNumber:  "NEFT-2",
	})
	require.NoError(t, err)

	l, err := svc.Ledger(ctx, brokerID, branchID)
	require.NoError(t, err)
	requireConsistent(t, l)
	assert.True(t, l.CurrentBalance.Equal(amt(6000)), "10000 credit - 4000 debit")

	l, _, _, err = svc.Approve(ctx, brokerID, branchID, pending.ID, "manager-1", "")
	require.NoError(t, err)
	requireConsistent(t, l)
	assert.True(t, l.CurrentBalance.Equal(amt(8500)))
}

// =============================================================================
// QUERIES
// =============================================================================

func TestPendingEntries_Paginated(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i, ref := range []string{"N-1", "N-2", "N-3"} {
		d := day(i + 1)
		_, _, _, err := svc.DepositOnAccount(ctx, brokerID, branchID, ledger.DepositInput{
			Amount:           amt(1000),
			Mode:             ledger.ModeBank,
			SubPaymentModeID: "sub-neft",
			BankID:           "bank-hdfc",
			ReferenceNumber:  ref,
			Date:             &d,
		})
		require.NoError(t, err)
	}

	page1, total, err := svc.PendingEntries(ctx, brokerID, branchID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page1, 2)

	page2, _, err := svc.PendingEntries(ctx, brokerID, branchID, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page2, 1)

	empty, _, err := svc.PendingEntries(ctx, brokerID, branchID, 3, 2)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOnAccountSummary(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	depositCash(t, svc, 5000, "R1", day(1))
	bookingDebit(t, svc, 3000, "bk-1", day(2))

	summary, err := svc.OnAccountSummary(ctx, brokerID, branchID)
	require.NoError(t, err)

	assert.True(t, summary.OnAccountBalance.Equal(amt(2000)))
	require.Len(t, summary.References, 1)
	ref := summary.References[0]
	assert.Equal(t, "R1", ref.ReferenceNumber)
	assert.True(t, ref.Allocated.Equal(amt(3000)))
	assert.True(t, ref.Remaining.Equal(amt(2000)))
	assert.Equal(t, ledger.AutoAllocationPartial, ref.Status)
}

func TestLedger_FindOrCreateIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	l1, err := svc.Ledger(ctx, brokerID, branchID)
	require.NoError(t, err)
	l2, err := svc.Ledger(ctx, brokerID, branchID)
	require.NoError(t, err)

	assert.Equal(t, l1.ID, l2.ID)
	assert.True(t, l1.CurrentBalance.IsZero())
	assert.Empty(t, l1.Entries)
}
