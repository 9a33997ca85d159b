/*
statement.go - Cross-branch broker statement

Merges every ledger a broker holds into one date-ordered view with a
running balance. Approved-only semantics apply: pending and rejected
entries are excluded from the lines and from every total.
*/
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// StatementLine is one approved entry in the merged statement.
type StatementLine struct {
	Date            time.Time       `json:"date"`
	BranchID        string          `json:"branch_id"`
	EntryID         string          `json:"entry_id"`
	Type            EntryType       `json:"type"`
	Mode            PaymentMode     `json:"mode_of_payment"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
	BookingID       string          `json:"booking_id,omitempty"`
	Remark          string          `json:"remark,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	RunningBalance  decimal.Decimal `json:"running_balance"`
}

// Statement is the merged cross-branch view with summary totals.
type Statement struct {
	BrokerID         string          `json:"broker_id"`
	From             *time.Time      `json:"from,omitempty"`
	To               *time.Time      `json:"to,omitempty"`
	Lines            []StatementLine `json:"lines"`
	TotalCredit      decimal.Decimal `json:"total_credit"`
	TotalDebit       decimal.Decimal `json:"total_debit"`
	NetBalance       decimal.Decimal `json:"net_balance"`
	OnAccountBalance decimal.Decimal `json:"on_account_balance"`
}

// Statement merges all of the broker's ledgers into one running-balance
// view. The running balance always starts from the beginning of history;
// from/to only filter which lines are returned.
func (s *Service) Statement(ctx context.Context, brokerID string, from, to *time.Time) (*Statement, error) {
	if _, err := s.store.GetBroker(ctx, brokerID); err != nil {
		return nil, err
	}
	ledgers, err := s.store.LedgersByBroker(ctx, brokerID)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	onAccount := decimal.Zero
	for _, l := range ledgers {
		onAccount = onAccount.Add(l.OnAccountBalance())
		for _, e := range l.Entries {
			if e.IsApproved() {
				entries = append(entries, e)
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Date.Equal(entries[j].Date) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].Date.Before(entries[j].Date)
	})

	st := &Statement{
		BrokerID:         brokerID,
		From:             from,
		To:               to,
		Lines:            []StatementLine{},
		TotalCredit:      decimal.Zero,
		TotalDebit:       decimal.Zero,
		OnAccountBalance: onAccount,
	}

	running := decimal.Zero
	for _, e := range entries {
		switch e.Type {
		case Credit:
			running = running.Add(e.Amount)
		case Debit:
			running = running.Sub(e.Amount)
		}
		if from != nil && e.Date.Before(*from) {
			continue
		}
		if to != nil && e.Date.After(*to) {
			continue
		}
		switch e.Type {
		case Credit:
			st.TotalCredit = st.TotalCredit.Add(e.Amount)
		case Debit:
			st.TotalDebit = st.TotalDebit.Add(e.Amount)
		}
		st.Lines = append(st.Lines, StatementLine{
			Date:            e.Date,
			BranchID:        e.BranchID,
			EntryID:         e.ID,
			Type:            e.Type,
			Mode:            e.Mode,
			ReferenceNumber: e.ReferenceNumber,
			BookingID:       e.BookingID,
			Remark:          e.Remark,
			Amount:          e.Amount,
			RunningBalance:  running,
		})
	}
	st.NetBalance = running
	return st, nil
}
