/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Persists broker ledgers, their entries and allocations, plus the master
  records the service validates against. The same patterns apply to the
  PostgreSQL store - only minor SQL dialect differences.

KEY TABLES:
  broker_ledgers:     One row per (broker, branch) running account
  ledger_entries:     Credit/debit entries belonging to a ledger
  entry_allocations:  Draws from a credit entry toward a booking
  brokers, broker_branches, branches, bookings, banks,
  cash_locations, sub_payment_modes: master records

CONCURRENCY:
  SaveLedger rewrites the aggregate in one transaction guarded by an
  optimistic version check (UPDATE ... WHERE version = ?). A stale save
  touches zero rows and surfaces ledger.ErrConcurrentModification.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := ledger.NewService(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definition
  - ledger/store/memory.go: In-memory implementation for testing
  - store/postgres: pgx-backed implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/dealer-ledger/ids"
	"github.com/warp/dealer-ledger/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Running accounts, one per (broker, branch)
	CREATE TABLE IF NOT EXISTS broker_ledgers (
		id TEXT PRIMARY KEY,
		broker_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		current_balance TEXT NOT NULL,
		on_account TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(broker_id, branch_id)
	);

	-- Credit/debit entries
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		ledger_id TEXT NOT NULL REFERENCES broker_ledgers(id),
		entry_date TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		mode_of_payment TEXT NOT NULL,
		sub_payment_mode_id TEXT,
		bank_id TEXT,
		cash_location_id TEXT,
		reference_number TEXT,
		booking_id TEXT,
		branch_id TEXT NOT NULL,
		on_account BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL,
		auto_allocation TEXT,
		approved_by TEXT,
		approved_at TEXT,
		rejected_by TEXT,
		rejected_at TEXT,
		rejection_reason TEXT,
		remark TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL,
		seq INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_ledger
		ON ledger_entries(ledger_id, seq);
	CREATE INDEX IF NOT EXISTS idx_entries_status
		ON ledger_entries(status);
	CREATE INDEX IF NOT EXISTS idx_entries_booking
		ON ledger_entries(booking_id) WHERE booking_id IS NOT NULL;

	-- Deposit references are unique inside one ledger
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_reference
		ON ledger_entries(ledger_id, reference_number)
		WHERE reference_number IS NOT NULL AND reference_number != '';

	-- Draws from a credit toward a booking
	CREATE TABLE IF NOT EXISTS entry_allocations (
		id TEXT PRIMARY KEY,
		entry_id TEXT NOT NULL REFERENCES ledger_entries(id),
		booking_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		alloc_date TEXT NOT NULL,
		alloc_type TEXT NOT NULL,
		seq INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_entry
		ON entry_allocations(entry_id, seq);
	CREATE INDEX IF NOT EXISTS idx_allocations_booking
		ON entry_allocations(booking_id);

	-- Master records
	CREATE TABLE IF NOT EXISTS brokers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS broker_branches (
		broker_id TEXT NOT NULL REFERENCES brokers(id),
		branch_id TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (broker_id, branch_id)
	);

	CREATE TABLE IF NOT EXISTS branches (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		city TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		customer_name TEXT,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS banks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cash_locations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		branch_id TEXT
	);

	CREATE TABLE IF NOT EXISTS sub_payment_modes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGERS
// =============================================================================

func (s *Store) GetOrCreateLedger(ctx context.Context, brokerID, branchID string) (*ledger.BrokerLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.loadLedger(ctx, brokerID, branchID)
	if err == nil {
		return l, nil
	}
	if err != ledger.ErrLedgerNotFound {
		return nil, err
	}

	now := time.Now().UTC()
	l = &ledger.BrokerLedger{
		ID:             ids.New(),
		BrokerID:       brokerID,
		BranchID:       branchID,
		CurrentBalance: decimal.Zero,
		OnAccount:      decimal.Zero,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO broker_ledgers
		(id, broker_id, branch_id, current_balance, on_account, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.BrokerID, l.BranchID,
		l.CurrentBalance.String(), l.OnAccount.String(), l.Version,
		l.CreatedAt.Format(time.RFC3339), l.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			// Lost a race with a concurrent creator; read theirs.
			return s.loadLedger(ctx, brokerID, branchID)
		}
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}
	return l, nil
}

func (s *Store) GetLedger(ctx context.Context, brokerID, branchID string) (*ledger.BrokerLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadLedger(ctx, brokerID, branchID)
}

func (s *Store) LedgersByBroker(ctx context.Context, brokerID string) ([]*ledger.BrokerLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT branch_id FROM broker_ledgers WHERE broker_id = ? ORDER BY branch_id", brokerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledgers: %w", err)
	}
	defer rows.Close()

	var branchIDs []string
	for rows.Next() {
		var branchID string
		if err := rows.Scan(&branchID); err != nil {
			return nil, err
		}
		branchIDs = append(branchIDs, branchID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var result []*ledger.BrokerLedger
	for _, branchID := range branchIDs {
		l, err := s.loadLedger(ctx, brokerID, branchID)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, nil
}

// SaveLedger rewrites the aggregate in one transaction. The version check
// is the concurrency guard: a save based on a stale read matches zero
// rows and is rejected.
func (s *Store) SaveLedger(ctx context.Context, l *ledger.BrokerLedger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE broker_ledgers
		SET current_balance = ?, on_account = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		l.CurrentBalance.String(), l.OnAccount.String(),
		l.UpdatedAt.Format(time.RFC3339), l.ID, l.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update ledger: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM broker_ledgers WHERE id = ?", l.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ledger.ErrLedgerNotFound
		}
		return ledger.ErrConcurrentModification
	}

	// Entries and allocations are rewritten wholesale. The aggregate is
	// small (one broker's activity at one branch) and this keeps the
	// store free of per-entry dirty tracking.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM entry_allocations WHERE entry_id IN (SELECT id FROM ledger_entries WHERE ledger_id = ?)",
		l.ID); err != nil {
		return fmt.Errorf("failed to clear allocations: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM ledger_entries WHERE ledger_id = ?", l.ID); err != nil {
		return fmt.Errorf("failed to clear entries: %w", err)
	}

	for i := range l.Entries {
		e := &l.Entries[i]
		var approvedAt, rejectedAt sql.NullString
		if e.ApprovedAt != nil {
			approvedAt = sql.NullString{String: e.ApprovedAt.Format(time.RFC3339), Valid: true}
		}
		if e.RejectedAt != nil {
			rejectedAt = sql.NullString{String: e.RejectedAt.Format(time.RFC3339), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_entries
			(id, ledger_id, entry_date, entry_type, amount, mode_of_payment,
			 sub_payment_mode_id, bank_id, cash_location_id, reference_number,
			 booking_id, branch_id, on_account, status, auto_allocation,
			 approved_by, approved_at, rejected_by, rejected_at,
			 rejection_reason, remark, created_by, created_at, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, l.ID, e.Date.Format(time.RFC3339), string(e.Type),
			e.Amount.String(), string(e.Mode),
			nullString(e.SubPaymentModeID), nullString(e.BankID),
			nullString(e.CashLocationID), nullString(e.ReferenceNumber),
			nullString(e.BookingID), e.BranchID, e.OnAccount,
			string(e.Status), nullString(string(e.AutoAllocation)),
			nullString(e.ApprovedBy), approvedAt,
			nullString(e.RejectedBy), rejectedAt,
			nullString(e.RejectionReason), nullString(e.Remark),
			nullString(e.CreatedBy), e.CreatedAt.Format(time.RFC3339), i,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return ledger.ErrDuplicateReference
			}
			return fmt.Errorf("failed to insert entry: %w", err)
		}

		for j, a := range e.Allocations {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO entry_allocations
				(id, entry_id, booking_id, amount, alloc_date, alloc_type, seq)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				a.ID, e.ID, a.BookingID, a.Amount.String(),
				a.Date.Format(time.RFC3339), string(a.Type), j,
			); err != nil {
				return fmt.Errorf("failed to insert allocation: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger save: %w", err)
	}
	l.Version++
	return nil
}

func (s *Store) loadLedger(ctx context.Context, brokerID, branchID string) (*ledger.BrokerLedger, error) {
	var (
		l                    ledger.BrokerLedger
		balance, onAccount   string
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, broker_id, branch_id, current_balance, on_account, version, created_at, updated_at
		FROM broker_ledgers WHERE broker_id = ? AND branch_id = ?`,
		brokerID, branchID,
	).Scan(&l.ID, &l.BrokerID, &l.BranchID, &balance, &onAccount, &l.Version, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrLedgerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	if l.CurrentBalance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("bad balance %q: %w", balance, err)
	}
	if l.OnAccount, err = decimal.NewFromString(onAccount); err != nil {
		return nil, fmt.Errorf("bad on-account %q: %w", onAccount, err)
	}
	if l.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, err
	}
	if l.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, err
	}

	if l.Entries, err = s.loadEntries(ctx, l.ID); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) loadEntries(ctx context.Context, ledgerID string) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entry_date, entry_type, amount, mode_of_payment,
		       sub_payment_mode_id, bank_id, cash_location_id, reference_number,
		       booking_id, branch_id, on_account, status, auto_allocation,
		       approved_by, approved_at, rejected_by, rejected_at,
		       rejection_reason, remark, created_by, created_at
		FROM ledger_entries WHERE ledger_id = ? ORDER BY seq`, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var (
			e                                     ledger.Entry
			date, entryType, amount, mode, status string
			subMode, bank, cashLoc, ref, booking  sql.NullString
			autoAlloc, approvedBy, approvedAt     sql.NullString
			rejectedBy, rejectedAt                sql.NullString
			rejection, remark, createdBy          sql.NullString
			createdAt                             string
		)
		if err := rows.Scan(&e.ID, &date, &entryType, &amount, &mode,
			&subMode, &bank, &cashLoc, &ref, &booking, &e.BranchID,
			&e.OnAccount, &status, &autoAlloc, &approvedBy, &approvedAt,
			&rejectedBy, &rejectedAt,
			&rejection, &remark, &createdBy, &createdAt); err != nil {
			return nil, err
		}

		if e.Date, err = time.Parse(time.RFC3339, date); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("bad amount %q: %w", amount, err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, err
		}
		e.Type = ledger.EntryType(entryType)
		e.Mode = ledger.PaymentMode(mode)
		e.Status = ledger.ApprovalStatus(status)
		e.AutoAllocation = ledger.AutoAllocationStatus(autoAlloc.String)
		e.SubPaymentModeID = subMode.String
		e.BankID = bank.String
		e.CashLocationID = cashLoc.String
		e.ReferenceNumber = ref.String
		e.BookingID = booking.String
		e.ApprovedBy = approvedBy.String
		e.RejectedBy = rejectedBy.String
		e.RejectionReason = rejection.String
		e.Remark = remark.String
		e.CreatedBy = createdBy.String
		if approvedAt.Valid {
			t, err := time.Parse(time.RFC3339, approvedAt.String)
			if err != nil {
				return nil, err
			}
			e.ApprovedAt = &t
		}
		if rejectedAt.Valid {
			t, err := time.Parse(time.RFC3339, rejectedAt.String)
			if err != nil {
				return nil, err
			}
			e.RejectedAt = &t
		}

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range entries {
		allocs, err := s.loadAllocations(ctx, entries[i].ID)
		if err != nil {
			return nil, err
		}
		entries[i].Allocations = allocs
	}
	return entries, nil
}

func (s *Store) loadAllocations(ctx context.Context, entryID string) ([]ledger.Allocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, booking_id, amount, alloc_date, alloc_type
		FROM entry_allocations WHERE entry_id = ? ORDER BY seq`, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var allocs []ledger.Allocation
	for rows.Next() {
		var (
			a            ledger.Allocation
			amount, date string
			allocType    string
		)
		if err := rows.Scan(&a.ID, &a.BookingID, &amount, &date, &allocType); err != nil {
			return nil, err
		}
		if a.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("bad allocation amount %q: %w", amount, err)
		}
		if a.Date, err = time.Parse(time.RFC3339, date); err != nil {
			return nil, err
		}
		a.Type = ledger.AllocationType(allocType)
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

// =============================================================================
// MASTER RECORDS
// =============================================================================

func (s *Store) GetBroker(ctx context.Context, id string) (*ledger.Broker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		b         ledger.Broker
		phone     sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, phone, created_at FROM brokers WHERE id = ?", id,
	).Scan(&b.ID, &b.Name, &phone, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrBrokerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load broker: %w", err)
	}
	b.Phone = phone.String
	if b.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT branch_id, active FROM broker_branches WHERE broker_id = ? ORDER BY branch_id", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load broker branches: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var bb ledger.BrokerBranch
		if err := rows.Scan(&bb.BranchID, &bb.Active); err != nil {
			return nil, err
		}
		b.Branches = append(b.Branches, bb)
	}
	return &b, rows.Err()
}

func (s *Store) SaveBroker(ctx context.Context, b ledger.Broker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO brokers (id, name, phone, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, phone = excluded.phone`,
		b.ID, b.Name, nullString(b.Phone), createdAt.Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("failed to save broker: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM broker_branches WHERE broker_id = ?", b.ID); err != nil {
		return err
	}
	for _, bb := range b.Branches {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO broker_branches (broker_id, branch_id, active) VALUES (?, ?, ?)",
			b.ID, bb.BranchID, bb.Active,
		); err != nil {
			return fmt.Errorf("failed to save broker branch: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetBranch(ctx context.Context, id string) (*ledger.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		b         ledger.Branch
		city      sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, city, created_at FROM branches WHERE id = ?", id,
	).Scan(&b.ID, &b.Name, &city, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrBranchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load branch: %w", err)
	}
	b.City = city.String
	if b.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) SaveBranch(ctx context.Context, b ledger.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, name, city, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, city = excluded.city`,
		b.ID, b.Name, nullString(b.City), createdAt.Format(time.RFC3339))
	return err
}

func (s *Store) GetBooking(ctx context.Context, id string) (*ledger.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		b            ledger.Booking
		customerName sql.NullString
		amount       string
		createdAt    string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, number, branch_id, customer_name, amount, created_at FROM bookings WHERE id = ?", id,
	).Scan(&b.ID, &b.Number, &b.BranchID, &customerName, &amount, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	b.CustomerName = customerName.String
	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("bad booking amount %q: %w", amount, err)
	}
	if b.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) SaveBooking(ctx context.Context, b ledger.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (id, number, branch_id, customer_name, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number, branch_id = excluded.branch_id,
			customer_name = excluded.customer_name, amount = excluded.amount`,
		b.ID, b.Number, b.BranchID, nullString(b.CustomerName),
		b.Amount.String(), createdAt.Format(time.RFC3339))
	return err
}

func (s *Store) GetBank(ctx context.Context, id string) (*ledger.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b ledger.Bank
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name FROM banks WHERE id = ?", id).Scan(&b.ID, &b.Name)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrBankNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bank: %w", err)
	}
	return &b, nil
}

func (s *Store) SaveBank(ctx context.Context, b ledger.Bank) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO banks (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`, b.ID, b.Name)
	return err
}

func (s *Store) GetCashLocation(ctx context.Context, id string) (*ledger.CashLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		c        ledger.CashLocation
		branchID sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, branch_id FROM cash_locations WHERE id = ?", id,
	).Scan(&c.ID, &c.Name, &branchID)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrCashLocationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cash location: %w", err)
	}
	c.BranchID = branchID.String
	return &c, nil
}

func (s *Store) SaveCashLocation(ctx context.Context, c ledger.CashLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_locations (id, name, branch_id) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, branch_id = excluded.branch_id`,
		c.ID, c.Name, nullString(c.BranchID))
	return err
}

func (s *Store) GetSubPaymentMode(ctx context.Context, id string) (*ledger.SubPaymentMode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sm ledger.SubPaymentMode
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, active FROM sub_payment_modes WHERE id = ?", id,
	).Scan(&sm.ID, &sm.Name, &sm.Active)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrSubPaymentModeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sub payment mode: %w", err)
	}
	return &sm, nil
}

func (s *Store) SaveSubPaymentMode(ctx context.Context, sm ledger.SubPaymentMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sub_payment_modes (id, name, active) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, active = excluded.active`,
		sm.ID, sm.Name, sm.Active)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
