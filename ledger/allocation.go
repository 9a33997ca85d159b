/*
allocation.go - The on-account allocation engine

PURPOSE:
  Matches unallocated on-account deposits against outstanding booking
  debits. Runs automatically after every approval event and can also be
  triggered explicitly (auto) or targeted at one deposit (manual).

ALGORITHM (auto):
  1. Derive the on-account balance; if nothing is available, no-op.
  2. Build the pending-debits queue, oldest obligation first.
  3. For each pending debit, draw from eligible credits oldest-first.
     A credit whose remaining balance covers the needed amount is
     preferred; otherwise the engine falls back to partial draws across
     multiple credits until the debit is covered or funds run out.
  4. Every draw appends an AUTO allocation to the credit it came from and
     decrements the cached OnAccount counter.

IDEMPOTENCY:
  Re-running with no new funds or debits performs no mutation: fully
  allocated credits fail the eligibility filter and fully covered
  bookings fail the pending-debit filter.

ELIGIBILITY:
  Only approved, on-account credits carrying a deposit reference are
  drawn from. Credits without a reference still count toward the
  on-account balance but cannot be targeted, so they are skipped here
  as well - otherwise the two figures would disagree.
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// AllocationEvent describes one draw applied by the engine, for audit
// logging and API responses.
type AllocationEvent struct {
	EntryID         string          `json:"entry_id"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
	BookingID       string          `json:"booking_id"`
	Amount          decimal.Decimal `json:"amount"`
	Type            AllocationType  `json:"type"`
}

// AutoAllocate greedily matches on-account funds to outstanding debits,
// mutating the ledger in place. Returns the applied allocations; empty
// when there was nothing to do.
func (l *BrokerLedger) AutoAllocate(now time.Time, newID func() string) []AllocationEvent {
	var applied []AllocationEvent

	// Allocatable funds, not total on-account: credits without a deposit
	// reference cannot be drawn from.
	available := decimal.Zero
	for i := range l.Entries {
		if l.Entries[i].IsAllocatable() {
			available = available.Add(l.Entries[i].Remaining())
		}
	}
	if !available.IsPositive() {
		return nil
	}

	for _, debit := range l.PendingDebits() {
		if !available.IsPositive() {
			break
		}
		need := decimal.Min(available, debit.Outstanding)

		for need.IsPositive() {
			credit := l.pickCredit(need)
			if credit == nil {
				return applied // no eligible credit left
			}

			draw := decimal.Min(need, credit.Remaining())
			l.applyAllocation(credit, Allocation{
				ID:        newID(),
				BookingID: debit.BookingID,
				Amount:    draw,
				Date:      now,
				Type:      AllocationAuto,
			})

			applied = append(applied, AllocationEvent{
				EntryID:         credit.ID,
				ReferenceNumber: credit.ReferenceNumber,
				BookingID:       debit.BookingID,
				Amount:          draw,
				Type:            AllocationAuto,
			})

			need = need.Sub(draw)
			available = available.Sub(draw)
		}
	}
	return applied
}

// pickCredit selects the credit to draw from: prefer the oldest credit
// whose remaining balance covers the needed amount, else fall back to the
// oldest credit with any remaining balance.
func (l *BrokerLedger) pickCredit(need decimal.Decimal) *Entry {
	var covering, oldest *Entry
	for i := range l.Entries {
		e := &l.Entries[i]
		if !e.IsAllocatable() {
			continue
		}
		if oldest == nil || e.Date.Before(oldest.Date) {
			oldest = e
		}
		if e.Remaining().GreaterThanOrEqual(need) {
			if covering == nil || e.Date.Before(covering.Date) {
				covering = e
			}
		}
	}
	if covering != nil {
		return covering
	}
	return oldest
}

// applyAllocation appends the allocation, decrements the cached on-account
// counter and updates the credit's auto-allocation progress marker.
func (l *BrokerLedger) applyAllocation(credit *Entry, a Allocation) {
	credit.Allocations = append(credit.Allocations, a)
	// Only approved on-account credit is part of the on-account balance,
	// so only those draws move the cached counter.
	if credit.OnAccount && credit.IsApproved() {
		l.OnAccount = l.OnAccount.Sub(a.Amount)
	}

	if credit.Remaining().IsZero() {
		credit.AutoAllocation = AutoAllocationCompleted
	} else {
		credit.AutoAllocation = AutoAllocationPartial
	}
}

// =============================================================================
// MANUAL ALLOCATION
// =============================================================================

// AllocationRequest is one requested (booking, amount) pair.
type AllocationRequest struct {
	BookingID string          `json:"booking"`
	Amount    decimal.Decimal `json:"amount"`
}

// AllocateReference applies MANUAL allocations from the credit identified
// by a deposit reference. The whole request is validated before anything
// is applied: either every allocation lands or none do.
func (l *BrokerLedger) AllocateReference(ref string, reqs []AllocationRequest, now time.Time, newID func() string) ([]AllocationEvent, error) {
	credit := l.EntryByReference(ref)
	if credit == nil || credit.Type != Credit {
		return nil, ErrReferenceNotFound
	}
	if !credit.IsApproved() {
		return nil, ErrCreditNotApproved
	}

	total := decimal.Zero
	perBooking := map[string]decimal.Decimal{}
	for _, r := range reqs {
		if !r.Amount.IsPositive() {
			return nil, ErrInvalidAmount
		}
		total = total.Add(r.Amount)
		perBooking[r.BookingID] = perBooking[r.BookingID].Add(r.Amount)
	}
	if remaining := credit.Remaining(); total.GreaterThan(remaining) {
		return nil, &AllocationError{
			Requested: total,
			Available: remaining,
			Reason:    "exceeds_remaining_credit",
		}
	}
	for bookingID, requested := range perBooking {
		if out := l.Outstanding(bookingID); requested.GreaterThan(out) {
			return nil, &AllocationError{
				BookingID: bookingID,
				Requested: requested,
				Available: out,
				Reason:    "exceeds_outstanding",
			}
		}
	}

	var applied []AllocationEvent
	for _, r := range reqs {
		l.applyAllocation(credit, Allocation{
			ID:        newID(),
			BookingID: r.BookingID,
			Amount:    r.Amount,
			Date:      now,
			Type:      AllocationManual,
		})
		applied = append(applied, AllocationEvent{
			EntryID:         credit.ID,
			ReferenceNumber: ref,
			BookingID:       r.BookingID,
			Amount:          r.Amount,
			Type:            AllocationManual,
		})
	}
	return applied, nil
}
