/*
store.go - Persistence interface for ledgers and master records

PURPOSE:
  Defines the interface between the domain logic and the database.
  A BrokerLedger is saved as one aggregate: the whole read-modify-write
  cycle happens in memory and SaveLedger persists it atomically.

CONCURRENCY CONTRACT:
  SaveLedger performs an optimistic version check: it fails with
  ErrConcurrentModification when the stored version differs from the
  version the aggregate was loaded with, and increments the version on
  success. The Service additionally serializes writers per
  (broker, branch), so the version check is a cross-process backstop.

IMPLEMENTATIONS:
  - ledger/store (memory): in-memory, for tests and development
  - store/sqlite: single-node production store
  - store/postgres: pgx-backed store

SEE ALSO:
  - service.go: the only caller of the mutation methods
*/
package ledger

import "context"

// Store handles persistence of broker ledgers and lookup of the master
// records the ledger validates against.
type Store interface {
	// GetOrCreateLedger returns the ledger for (broker, branch), creating
	// it with zero balances on first access. Idempotent.
	GetOrCreateLedger(ctx context.Context, brokerID, branchID string) (*BrokerLedger, error)

	// GetLedger returns the ledger or ErrLedgerNotFound.
	GetLedger(ctx context.Context, brokerID, branchID string) (*BrokerLedger, error)

	// LedgersByBroker returns every ledger the broker holds, across branches.
	LedgersByBroker(ctx context.Context, brokerID string) ([]*BrokerLedger, error)

	// SaveLedger persists the aggregate atomically with a version check.
	SaveLedger(ctx context.Context, l *BrokerLedger) error

	// Master record lookups. Each returns its not-found sentinel.
	GetBroker(ctx context.Context, id string) (*Broker, error)
	GetBranch(ctx context.Context, id string) (*Branch, error)
	GetBooking(ctx context.Context, id string) (*Booking, error)
	GetBank(ctx context.Context, id string) (*Bank, error)
	GetCashLocation(ctx context.Context, id string) (*CashLocation, error)
	GetSubPaymentMode(ctx context.Context, id string) (*SubPaymentMode, error)

	// Master record writes, used by seeding and back-office CRUD.
	SaveBroker(ctx context.Context, b Broker) error
	SaveBranch(ctx context.Context, b Branch) error
	SaveBooking(ctx context.Context, b Booking) error
	SaveBank(ctx context.Context, b Bank) error
	SaveCashLocation(ctx context.Context, c CashLocation) error
	SaveSubPaymentMode(ctx context.Context, m SubPaymentMode) error
}
