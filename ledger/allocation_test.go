package ledger_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/dealer-ledger/ledger"
)

// =============================================================================
// AUTO-ALLOCATION
// =============================================================================

func TestAutoAllocate_DepositThenDebits(t *testing.T) {
	// GIVEN: a 5000 cash deposit "R1"
	// WHEN: a 3000 debit for bk-1 arrives, then a 5000 debit for bk-2
	// THEN: R1 covers bk-1 fully and bk-2 partially, leaving bk-2 with
	//       3000 outstanding and the on-account balance at zero

	svc, _ := newTestService(t)

	depositCash(t, svc, 5000, "R1", day(1))

	l := bookingDebit(t, svc, 3000, "bk-1", day(2))
	assert.True(t, l.Outstanding("bk-1").IsZero())
	assert.True(t, l.OnAccountBalance().Equal(amt(2000)))
	requireConsistent(t, l)

	l = bookingDebit(t, svc, 5000, "bk-2", day(3))
	assert.True(t, l.Outstanding("bk-2").Equal(amt(3000)))
	assert.True(t, l.OnAccountBalance().IsZero())
	assert.True(t, l.CurrentBalance.Equal(amt(-3000)))
	requireConsistent(t, l)

	deposit := l.EntryByReference("R1")
	require.NotNil(t, deposit)
	assert.Equal(t, ledger.AutoAllocationCompleted, deposit.AutoAllocation)
	require.Len(t, deposit.Allocations, 2)
	for _, a := range deposit.Allocations {
		assert.Equal(t, ledger.AllocationAuto, a.Type)
	}
}

func TestAutoAllocate_OldestDebitFirst(t *testing.T) {
	// GIVEN: debits for bk-2 (day 3) and bk-1 (day 1), entered out of order
	// WHEN: a 4000 deposit arrives
	// THEN: bk-1 is settled before bk-2 because its debit is older

	svc, _ := newTestService(t)

	bookingDebit(t, svc, 3000, "bk-2", day(3))
	bookingDebit(t, svc, 3000, "bk-1", day(1))

	l := depositCash(t, svc, 4000, "R1", day(5))

	assert.True(t, l.Outstanding("bk-1").IsZero(), "oldest debit covered first")
	assert.True(t, l.Outstanding("bk-2").Equal(amt(2000)))
	requireConsistent(t, l)
}

func TestAutoAllocate_DrawsAcrossMultipleCredits(t *testing.T) {
	// A single large debit is covered by two deposits, oldest credit first.

	svc, _ := newTestService(t)

	depositCash(t, svc, 2000, "R1", day(1))
	depositCash(t, svc, 4000, "R2", day(2))

	l := bookingDebit(t, svc, 5000, "bk-1", day(3))

	assert.True(t, l.Outstanding("bk-1").IsZero())
	assert.True(t, l.OnAccountBalance().Equal(amt(1000)))

	r1 := l.EntryByReference("R1")
	r2 := l.EntryByReference("R2")
	require.NotNil(t, r1)
	require.NotNil(t, r2)
	assert.True(t, r1.Remaining().IsZero(), "oldest credit drained first")
	assert.Equal(t, ledger.AutoAllocationCompleted, r1.AutoAllocation)
	assert.True(t, r2.Remaining().Equal(amt(1000)))
	assert.Equal(t, ledger.AutoAllocationPartial, r2.AutoAllocation)
	requireConsistent(t, l)
}

func TestAutoAllocate_Idempotent(t *testing.T) {
	// Re-running the engine with no new entries must change nothing.

	svc, _ := newTestService(t)
	ctx := context.Background()

	depositCash(t, svc, 5000, "R1", day(1))
	before := bookingDebit(t, svc, 3000, "bk-1", day(2))

	after, events, err := svc.AutoAllocate(ctx, brokerID, branchID)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, before.Version, after.Version, "no-op run must not bump the version")
	assert.True(t, before.OnAccount.Equal(after.OnAccount))

	deposit := after.EntryByReference("R1")
	require.NotNil(t, deposit)
	assert.Len(t, deposit.Allocations, 1)
	requireConsistent(t, after)
}

func TestAutoAllocate_PicksUpBacklogOnApproval(t *testing.T) {
	// A pending bank deposit sits out of allocation until approved, at
	// which point the engine sweeps existing outstanding debits.

	svc, _ := newTestService(t)
	ctx := context.Background()

	bookingDebit(t, svc, 3000, "bk-1", day(1))

	_, e, _, err := svc.DepositOnAccount(ctx, brokerID, branchID, ledger.DepositInput{
		Amount:           amt(5000),
		Mode:             ledger.ModeBank,
		SubPaymentModeID: "sub-neft",
		BankID:           "bank-hdfc",
		ReferenceNumber:  "NEFT-7",
	})
	require.NoError(t, err)

	l, err := svc.Ledger(ctx, brokerID, branchID)
	require.NoError(t, err)
	assert.True(t, l.Outstanding("bk-1").Equal(amt(3000)), "pending deposit must not allocate")

	l, _, events, err := svc.Approve(ctx, brokerID, branchID, e.ID, "manager-1", "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "bk-1", events[0].BookingID)
	assert.True(t, events[0].Amount.Equal(amt(3000)))
	assert.True(t, l.Outstanding("bk-1").IsZero())
	assert.True(t, l.OnAccountBalance().Equal(amt(2000)))
	requireConsistent(t, l)
}

func TestAutoAllocate_Conservation(t *testing.T) {
	// Across an arbitrary run: no credit over-allocated, no booking
	// over-covered, allocations never lost.

	svc, _ := newTestService(t)

	depositCash(t, svc, 1500, "R1", day(1))
	bookingDebit(t, svc, 2000, "bk-1", day(2))
	depositCash(t, svc, 3000, "R2", day(3))
	bookingDebit(t, svc, 1800, "bk-2", day(4))
	l := depositCash(t, svc, 700, "R3", day(5))

	var allocated decimal.Decimal
	for i := range l.Entries {
		e := &l.Entries[i]
		if e.Type != ledger.Credit {
			continue
		}
		assert.False(t, e.Remaining().IsNegative(), "credit %s over-allocated", e.ReferenceNumber)
		allocated = allocated.Add(e.Allocated())
	}
	for _, bk := range []string{"bk-1", "bk-2"} {
		assert.False(t, l.Outstanding(bk).IsNegative(), "booking %s over-covered", bk)
	}
	assert.True(t, allocated.Equal(amt(3800)), "every rupee of debit is covered")
	requireConsistent(t, l)
}

// =============================================================================
// MANUAL ALLOCATION BY REFERENCE
// =============================================================================

// referencedCredit records an approved cash credit carrying a reference
// but no booking. These sit outside the auto-allocation pool, so their
// funds are placed by hand.
func referencedCredit(t *testing.T, svc *ledger.Service, amount int64, ref string) {
	t.Helper()
	_, e, _, err := svc.AddTransaction(context.Background(), brokerID, branchID, ledger.AddTransactionInput{
		Type:            ledger.Credit,
		Amount:          decimal.NewFromInt(amount),
		Mode:            ledger.ModeCash,
		CashLocationID:  "cash-main",
		ReferenceNumber: ref,
		CreatedBy:       "cashier-1",
	})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusApproved, e.Status)
	require.False(t, e.OnAccount)
}

func TestAllocateReference_Applies(t *testing.T) {
	// GIVEN: bk-1 owes 5000 and an approved referenced credit of 4000
	//        that the auto engine cannot touch
	// WHEN: 2500 of it is allocated to bk-1 by reference
	// THEN: a MANUAL allocation lands and the outstanding shrinks

	svc, _ := newTestService(t)
	ctx := context.Background()

	bookingDebit(t, svc, 5000, "bk-1", day(1))
	referencedCredit(t, svc, 4000, "RCPT-1")

	l, err := svc.Ledger(ctx, brokerID, branchID)
	require.NoError(t, err)
	require.True(t, l.Outstanding("bk-1").Equal(amt(5000)), "referenced credit must not auto-sweep")

	l, events, err := svc.AllocateReference(ctx, brokerID, branchID, "RCPT-1", []ledger.AllocationRequest{
		{BookingID: "bk-1", Amount: amt(2500)},
	})
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, ledger.AllocationManual, events[0].Type)
	assert.True(t, l.Outstanding("bk-1").Equal(amt(2500)))
	assert.True(t, l.EntryByReference("RCPT-1").Remaining().Equal(amt(1500)))
	requireConsistent(t, l)
}

func TestAllocateReference_SplitAcrossBookings(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bookingDebit(t, svc, 3000, "bk-1", day(1))
	bookingDebit(t, svc, 2000, "bk-2", day(2))
	referencedCredit(t, svc, 4000, "RCPT-1")

	l, events, err := svc.AllocateReference(ctx, brokerID, branchID, "RCPT-1", []ledger.AllocationRequest{
		{BookingID: "bk-1", Amount: amt(3000)},
		{BookingID: "bk-2", Amount: amt(1000)},
	})
	require.NoError(t, err)

	assert.Len(t, events, 2)
	assert.True(t, l.Outstanding("bk-1").IsZero())
	assert.True(t, l.Outstanding("bk-2").Equal(amt(1000)))
	assert.True(t, l.EntryByReference("RCPT-1").Remaining().IsZero())
	requireConsistent(t, l)
}

func TestAllocateReference_ExceedsOutstanding(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bookingDebit(t, svc, 2000, "bk-1", day(1))
	referencedCredit(t, svc, 5000, "RCPT-1")

	_, _, err := svc.AllocateReference(ctx, brokerID, branchID, "RCPT-1", []ledger.AllocationRequest{
		{BookingID: "bk-1", Amount: amt(3000)},
	})

	var allocErr *ledger.AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, "exceeds_outstanding", allocErr.Reason)
	assert.Equal(t, "bk-1", allocErr.BookingID)

	// Nothing applied.
	l, err := svc.Ledger(ctx, brokerID, branchID)
	require.NoError(t, err)
	assert.True(t, l.Outstanding("bk-1").Equal(amt(2000)))
	assert.True(t, l.EntryByReference("RCPT-1").Remaining().Equal(amt(5000)))
}

func TestAllocateReference_UnknownReference(t *testing.T) {
	svc, _ := newTestService(t)
	depositCash(t, svc, 5000, "R1", day(1))

	_, _, err := svc.AllocateReference(context.Background(), brokerID, branchID, "NOPE", []ledger.AllocationRequest{
		{BookingID: "bk-1", Amount: amt(100)},
	})
	assert.ErrorIs(t, err, ledger.ErrReferenceNotFound)
}

func TestAllocateReference_RejectedCreditRefused(t *testing.T) {
	// A rejected deposit holds no funds; allocating from it must fail
	// without touching the booking or the entry.
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, e, _, err := svc.DepositOnAccount(ctx, brokerID, branchID, ledger.DepositInput{
		Amount:           amt(5000),
		Mode:             ledger.ModeBank,
		SubPaymentModeID: "sub-neft",
		BankID:           "bank-hdfc",
		ReferenceNumber:  "NEFT-9",
	})
	require.NoError(t, err)
	_, _, err = svc.Reject(ctx, brokerID, branchID, e.ID, "manager-1", "amount mismatch")
	require.NoError(t, err)

	bookingDebit(t, svc, 3000, "bk-1", day(2))

	_, events, err := svc.AllocateReference(ctx, brokerID, branchID, "NEFT-9", []ledger.AllocationRequest{
		{BookingID: "bk-1", Amount: amt(3000)},
	})
	assert.ErrorIs(t, err, ledger.ErrCreditNotApproved)
	assert.Empty(t, events)

	l, err := svc.Ledger(ctx, brokerID, branchID)
	require.NoError(t, err)
	assert.True(t, l.Outstanding("bk-1").Equal(amt(3000)), "outstanding unchanged")
	assert.Empty(t, l.EntryByReference("NEFT-9").Allocations, "no dead allocation records")
	requireConsistent(t, l)
}

func TestAllocateReference_PendingCreditRefused(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, e, _, err := svc.DepositOnAccount(ctx, brokerID, branchID, ledger.DepositInput{
		Amount:           amt(5000),
		Mode:             ledger.ModeBank,
		SubPaymentModeID: "sub-neft",
		BankID:           "bank-hdfc",
		ReferenceNumber:  "NEFT-10",
	})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPending, e.Status)

	bookingDebit(t, svc, 3000, "bk-1", day(2))

	_, _, err = svc.AllocateReference(ctx, brokerID, branchID, "NEFT-10", []ledger.AllocationRequest{
		{BookingID: "bk-1", Amount: amt(3000)},
	})
	assert.ErrorIs(t, err, ledger.ErrCreditNotApproved)
}

func TestAllocateReference_ExceedsRemaining(t *testing.T) {
	// GIVEN: R1 has 2000 remaining, bk-1 and bk-2 owe 3000 each
	// WHEN: a manual allocation asks R1 to cover 1500 + 1500
	// THEN: the whole request fails and nothing is applied

	svc, _ := newTestService(t)
	ctx := context.Background()

	bookingDebit(t, svc, 3000, "bk-1", day(1))
	bookingDebit(t, svc, 3000, "bk-2", day(2))
	depositCash(t, svc, 4000, "R1", day(3)) // auto-sweeps bk-1 3000, bk-2 1000

	l, err := svc.Ledger(ctx, brokerID, branchID)
	require.NoError(t, err)
	r1 := l.EntryByReference("R1")
	require.True(t, r1.Remaining().IsZero(), "setup: R1 fully swept")

	depositCash(t, svc, 1000, "R2", day(4)) // sweeps 1000 more of bk-2

	// bk-2 still owes 1000; ask R2 (now empty) for more than it has left.
	_, _, err = svc.AllocateReference(ctx, brokerID, branchID, "R2", []ledger.AllocationRequest{
		{BookingID: "bk-2", Amount: amt(500)},
	})
	var allocErr *ledger.AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, "exceeds_remaining_credit", allocErr.Reason)

	// And nothing moved.
	l, err = svc.Ledger(ctx, brokerID, branchID)
	require.NoError(t, err)
	assert.True(t, l.Outstanding("bk-2").Equal(amt(1000)))
	requireConsistent(t, l)
}

func TestPendingDebits_OrderedOldestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bookingDebit(t, svc, 2000, "bk-2", day(4))
	bookingDebit(t, svc, 1000, "bk-1", day(2))
	bookingDebit(t, svc, 3000, "bk-3", day(6))

	result, err := svc.PendingDebits(ctx, brokerID, branchID)
	require.NoError(t, err)

	require.Len(t, result.Debits, 3)
	assert.Equal(t, "bk-1", result.Debits[0].BookingID)
	assert.Equal(t, "bk-2", result.Debits[1].BookingID)
	assert.Equal(t, "bk-3", result.Debits[2].BookingID)
	assert.True(t, result.Debits[2].Outstanding.Equal(amt(3000)))
	assert.True(t, result.OnAccountBalance.IsZero())
}

func TestPendingDebits_DropsSettledBookings(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bookingDebit(t, svc, 2000, "bk-1", day(1))
	bookingDebit(t, svc, 4000, "bk-2", day(2))
	depositCash(t, svc, 2000, "R1", day(3)) // settles bk-1 exactly

	result, err := svc.PendingDebits(ctx, brokerID, branchID)
	require.NoError(t, err)

	require.Len(t, result.Debits, 1)
	assert.Equal(t, "bk-2", result.Debits[0].BookingID)
	assert.True(t, result.Debits[0].Outstanding.Equal(amt(4000)))
}
