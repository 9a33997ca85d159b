/*
balance.go - Derived balance computations

All balances are Approved-only. Pending and Rejected entries never count.

  ComputedBalance  = sum(approved CREDIT) - sum(approved DEBIT)
  OnAccountBalance = sum(approved on-account CREDIT) - their allocations
  Outstanding(bk)  = sum(approved DEBIT for bk) - sum(allocations for bk)

OnAccountBalance is the authoritative on-account figure. The OnAccount
field on BrokerLedger is a running cache kept in lockstep by the mutation
paths; Reconcile() reports any drift between the two.
*/
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ComputedBalance recomputes the net balance from approved entries.
// CurrentBalance must always equal this after an operation completes.
func (l *BrokerLedger) ComputedBalance() decimal.Decimal {
	balance := decimal.Zero
	for i := range l.Entries {
		e := &l.Entries[i]
		if !e.IsApproved() {
			continue
		}
		switch e.Type {
		case Credit:
			balance = balance.Add(e.Amount)
		case Debit:
			balance = balance.Sub(e.Amount)
		}
	}
	return balance
}

// OnAccountBalance derives the unallocated approved on-account credit.
// Never negative: allocation amounts are bounded by each credit's amount.
func (l *BrokerLedger) OnAccountBalance() decimal.Decimal {
	balance := decimal.Zero
	for i := range l.Entries {
		e := &l.Entries[i]
		if e.Type != Credit || !e.IsApproved() || !e.OnAccount {
			continue
		}
		balance = balance.Add(e.Remaining())
	}
	return balance
}

// Reconcile returns the drift between the cached OnAccount counter and the
// derived OnAccountBalance. Zero means the cache is consistent.
func (l *BrokerLedger) Reconcile() decimal.Decimal {
	return l.OnAccount.Sub(l.OnAccountBalance())
}

// =============================================================================
// OUTSTANDING DEBITS
// =============================================================================

// PendingDebit is one booking with money still owed against it.
type PendingDebit struct {
	BookingID   string          `json:"booking_id"`
	TotalDebit  decimal.Decimal `json:"total_debit"`
	Allocated   decimal.Decimal `json:"allocated"`
	Outstanding decimal.Decimal `json:"outstanding"`

	// OldestDebit orders the allocation queue: oldest obligation first.
	OldestDebit time.Time `json:"oldest_debit"`
}

// AllocatedToBooking sums every allocation pointing at the booking across
// all non-rejected credit entries, regardless of allocation type.
func (l *BrokerLedger) AllocatedToBooking(bookingID string) decimal.Decimal {
	total := decimal.Zero
	for i := range l.Entries {
		e := &l.Entries[i]
		if e.Type != Credit || e.Status == StatusRejected {
			continue
		}
		for _, a := range e.Allocations {
			if a.BookingID == bookingID {
				total = total.Add(a.Amount)
			}
		}
	}
	return total
}

// Outstanding returns the unpaid remainder for one booking.
func (l *BrokerLedger) Outstanding(bookingID string) decimal.Decimal {
	debit := decimal.Zero
	for i := range l.Entries {
		e := &l.Entries[i]
		if e.Type == Debit && e.IsApproved() && e.BookingID == bookingID {
			debit = debit.Add(e.Amount)
		}
	}
	return debit.Sub(l.AllocatedToBooking(bookingID))
}

// PendingDebits builds the allocation queue: every booking with a positive
// outstanding balance, sorted by the earliest debit recorded for it.
func (l *BrokerLedger) PendingDebits() []PendingDebit {
	type acc struct {
		total  decimal.Decimal
		oldest time.Time
	}
	byBooking := make(map[string]*acc)

	for i := range l.Entries {
		e := &l.Entries[i]
		if e.Type != Debit || !e.IsApproved() || e.BookingID == "" {
			continue
		}
		a, ok := byBooking[e.BookingID]
		if !ok {
			byBooking[e.BookingID] = &acc{total: e.Amount, oldest: e.Date}
			continue
		}
		a.total = a.total.Add(e.Amount)
		if e.Date.Before(a.oldest) {
			a.oldest = e.Date
		}
	}

	var pending []PendingDebit
	for bookingID, a := range byBooking {
		allocated := l.AllocatedToBooking(bookingID)
		outstanding := a.total.Sub(allocated)
		if !outstanding.IsPositive() {
			continue
		}
		pending = append(pending, PendingDebit{
			BookingID:   bookingID,
			TotalDebit:  a.total,
			Allocated:   allocated,
			Outstanding: outstanding,
			OldestDebit: a.oldest,
		})
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].OldestDebit.Equal(pending[j].OldestDebit) {
			return pending[i].BookingID < pending[j].BookingID
		}
		return pending[i].OldestDebit.Before(pending[j].OldestDebit)
	})
	return pending
}
