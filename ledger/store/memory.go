// Package store provides an in-memory ledger.Store implementation for
// tests and development. Aggregates are deep-copied on every read so a
// caller's mutations never leak into the store before SaveLedger, and
// saves enforce the same optimistic version check as the SQL stores.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/warp/dealer-ledger/ids"
	"github.com/warp/dealer-ledger/ledger"
)

type key struct {
	BrokerID string
	BranchID string
}

type Memory struct {
	mu      sync.RWMutex
	ledgers map[key]*ledger.BrokerLedger

	brokers       map[string]ledger.Broker
	branches      map[string]ledger.Branch
	bookings      map[string]ledger.Booking
	banks         map[string]ledger.Bank
	cashLocations map[string]ledger.CashLocation
	subModes      map[string]ledger.SubPaymentMode
}

var _ ledger.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		ledgers:       make(map[key]*ledger.BrokerLedger),
		brokers:       make(map[string]ledger.Broker),
		branches:      make(map[string]ledger.Branch),
		bookings:      make(map[string]ledger.Booking),
		banks:         make(map[string]ledger.Bank),
		cashLocations: make(map[string]ledger.CashLocation),
		subModes:      make(map[string]ledger.SubPaymentMode),
	}
}

// =============================================================================
// LEDGERS
// =============================================================================

func (m *Memory) GetOrCreateLedger(_ context.Context, brokerID, branchID string) (*ledger.BrokerLedger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{BrokerID: brokerID, BranchID: branchID}
	if l, ok := m.ledgers[k]; ok {
		return copyLedger(l), nil
	}
	now := time.Now().UTC()
	l := &ledger.BrokerLedger{
		ID:        ids.New(),
		BrokerID:  brokerID,
		BranchID:  branchID,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.ledgers[k] = l
	return copyLedger(l), nil
}

func (m *Memory) GetLedger(_ context.Context, brokerID, branchID string) (*ledger.BrokerLedger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.ledgers[key{BrokerID: brokerID, BranchID: branchID}]
	if !ok {
		return nil, ledger.ErrLedgerNotFound
	}
	return copyLedger(l), nil
}

func (m *Memory) LedgersByBroker(_ context.Context, brokerID string) ([]*ledger.BrokerLedger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*ledger.BrokerLedger
	for k, l := range m.ledgers {
		if k.BrokerID == brokerID {
			result = append(result, copyLedger(l))
		}
	}
	return result, nil
}

func (m *Memory) SaveLedger(_ context.Context, l *ledger.BrokerLedger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{BrokerID: l.BrokerID, BranchID: l.BranchID}
	existing, ok := m.ledgers[k]
	if !ok {
		return ledger.ErrLedgerNotFound
	}
	if existing.Version != l.Version {
		return ledger.ErrConcurrentModification
	}

	saved := copyLedger(l)
	saved.Version = l.Version + 1
	m.ledgers[k] = saved
	l.Version = saved.Version
	return nil
}

func copyLedger(l *ledger.BrokerLedger) *ledger.BrokerLedger {
	out := *l
	out.Entries = make([]ledger.Entry, len(l.Entries))
	copy(out.Entries, l.Entries)
	for i := range out.Entries {
		if n := len(out.Entries[i].Allocations); n > 0 {
			allocs := make([]ledger.Allocation, n)
			copy(allocs, out.Entries[i].Allocations)
			out.Entries[i].Allocations = allocs
		}
		if at := out.Entries[i].ApprovedAt; at != nil {
			t := *at
			out.Entries[i].ApprovedAt = &t
		}
		if at := out.Entries[i].RejectedAt; at != nil {
			t := *at
			out.Entries[i].RejectedAt = &t
		}
	}
	return &out
}

// =============================================================================
// MASTER RECORDS
// =============================================================================

func (m *Memory) GetBroker(_ context.Context, id string) (*ledger.Broker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.brokers[id]
	if !ok {
		return nil, ledger.ErrBrokerNotFound
	}
	return &b, nil
}

func (m *Memory) GetBranch(_ context.Context, id string) (*ledger.Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.branches[id]
	if !ok {
		return nil, ledger.ErrBranchNotFound
	}
	return &b, nil
}

func (m *Memory) GetBooking(_ context.Context, id string) (*ledger.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ledger.ErrBookingNotFound
	}
	return &b, nil
}

func (m *Memory) GetBank(_ context.Context, id string) (*ledger.Bank, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.banks[id]
	if !ok {
		return nil, ledger.ErrBankNotFound
	}
	return &b, nil
}

func (m *Memory) GetCashLocation(_ context.Context, id string) (*ledger.CashLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cashLocations[id]
	if !ok {
		return nil, ledger.ErrCashLocationNotFound
	}
	return &c, nil
}

func (m *Memory) GetSubPaymentMode(_ context.Context, id string) (*ledger.SubPaymentMode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subModes[id]
	if !ok {
		return nil, ledger.ErrSubPaymentModeNotFound
	}
	return &s, nil
}

func (m *Memory) SaveBroker(_ context.Context, b ledger.Broker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brokers[b.ID] = b
	return nil
}

func (m *Memory) SaveBranch(_ context.Context, b ledger.Branch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.branches[b.ID] = b
	return nil
}

func (m *Memory) SaveBooking(_ context.Context, b ledger.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = b
	return nil
}

func (m *Memory) SaveBank(_ context.Context, b ledger.Bank) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.banks[b.ID] = b
	return nil
}

func (m *Memory) SaveCashLocation(_ context.Context, c ledger.CashLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cashLocations[c.ID] = c
	return nil
}

func (m *Memory) SaveSubPaymentMode(_ context.Context, s ledger.SubPaymentMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subModes[s.ID] = s
	return nil
}
