// Package postgres provides a PostgreSQL-backed ledger.Store built on
// database/sql with the pgx stdlib driver. Schema mirrors the SQLite
// store; SaveLedger relies on the same optimistic version check, with
// database-level concurrency instead of an in-process mutex.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/warp/dealer-ledger/ids"
	"github.com/warp/dealer-ledger/ledger"
)

type Store struct {
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

// Open connects to PostgreSQL and applies the schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an existing connection without migrating. Used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS broker_ledgers (
		id TEXT PRIMARY KEY,
		broker_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		current_balance NUMERIC(18,2) NOT NULL,
		on_account NUMERIC(18,2) NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE(broker_id, branch_id)
	);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		ledger_id TEXT NOT NULL REFERENCES broker_ledgers(id),
		entry_date TIMESTAMPTZ NOT NULL,
		entry_type TEXT NOT NULL,
		amount NUMERIC(18,2) NOT NULL,
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
		approved_at TIMESTAMPTZ,
		rejected_by TEXT,
		rejected_at TIMESTAMPTZ,
		rejection_reason TEXT,
		remark TEXT,
		created_by TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		seq INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_ledger ON ledger_entries(ledger_id, seq);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_reference
		ON ledger_entries(ledger_id, reference_number)
		WHERE reference_number IS NOT NULL AND reference_number != '';

	CREATE TABLE IF NOT EXISTS entry_allocations (
		id TEXT PRIMARY KEY,
		entry_id TEXT NOT NULL REFERENCES ledger_entries(id),
		booking_id TEXT NOT NULL,
		amount NUMERIC(18,2) NOT NULL,
		alloc_date TIMESTAMPTZ NOT NULL,
		alloc_type TEXT NOT NULL,
		seq INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_entry ON entry_allocations(entry_id, seq);

	CREATE TABLE IF NOT EXISTS brokers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT,
		created_at TIMESTAMPTZ NOT NULL
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
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		customer_name TEXT,
		amount NUMERIC(18,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
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
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// LEDGERS
// =============================================================================

func (s *Store) GetOrCreateLedger(ctx context.Context, brokerID, branchID string) (*ledger.BrokerLedger, error) {
	l, err := s.loadLedger(ctx, brokerID, branchID)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, ledger.ErrLedgerNotFound) {
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
		insert into broker_ledgers
		(id, broker_id, branch_id, current_balance, on_account, version, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
		on conflict (broker_id, branch_id) do nothing`,
		l.ID, l.BrokerID, l.BranchID,
		l.CurrentBalance.String(), l.OnAccount.String(), l.Version,
		l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}
	// Re-read in case of a racing creator.
	return s.loadLedger(ctx, brokerID, branchID)
}

func (s *Store) GetLedger(ctx context.Context, brokerID, branchID string) (*ledger.BrokerLedger, error) {
	return s.loadLedger(ctx, brokerID, branchID)
}

func (s *Store) LedgersByBroker(ctx context.Context, brokerID string) ([]*ledger.BrokerLedger, error) {
	rows, err := s.db.QueryContext(ctx,
		`select branch_id from broker_ledgers where broker_id=$1 order by branch_id`, brokerID)
	if err != nil {
		return nil, err
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

func (s *Store) SaveLedger(ctx context.Context, l *ledger.BrokerLedger) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update broker_ledgers
		set current_balance=$1, on_account=$2, version=version+1, updated_at=$3
		where id=$4 and version=$5`,
		l.CurrentBalance.String(), l.OnAccount.String(), l.UpdatedAt, l.ID, l.Version,
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
			`select count(*) from broker_ledgers where id=$1`, l.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ledger.ErrLedgerNotFound
		}
		return ledger.ErrConcurrentModification
	}

	if _, err := tx.ExecContext(ctx,
		`delete from entry_allocations where entry_id in (select id from ledger_entries where ledger_id=$1)`,
		l.ID); err != nil {
		return fmt.Errorf("failed to clear allocations: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`delete from ledger_entries where ledger_id=$1`, l.ID); err != nil {
		return fmt.Errorf("failed to clear entries: %w", err)
	}

	for i := range l.Entries {
		e := &l.Entries[i]
		var approvedAt, rejectedAt *time.Time
		if e.ApprovedAt != nil {
			t := e.ApprovedAt.UTC()
			approvedAt = &t
		}
		if e.RejectedAt != nil {
			t := e.RejectedAt.UTC()
			rejectedAt = &t
		}
		if _, err := tx.ExecContext(ctx, `
			insert into ledger_entries
			(id, ledger_id, entry_date, entry_type, amount, mode_of_payment,
			 sub_payment_mode_id, bank_id, cash_location_id, reference_number,
			 booking_id, branch_id, on_account, status, auto_allocation,
			 approved_by, approved_at, rejected_by, rejected_at,
			 rejection_reason, remark, created_by, created_at, seq)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
			e.ID, l.ID, e.Date, string(e.Type), e.Amount.String(), string(e.Mode),
			nullString(e.SubPaymentModeID), nullString(e.BankID),
			nullString(e.CashLocationID), nullString(e.ReferenceNumber),
			nullString(e.BookingID), e.BranchID, e.OnAccount,
			string(e.Status), nullString(string(e.AutoAllocation)),
			nullString(e.ApprovedBy), approvedAt,
			nullString(e.RejectedBy), rejectedAt,
			nullString(e.RejectionReason), nullString(e.Remark),
			nullString(e.CreatedBy), e.CreatedAt, i,
		); err != nil {
			return fmt.Errorf("failed to insert entry: %w", err)
		}

		for j, a := range e.Allocations {
			if _, err := tx.ExecContext(ctx, `
				insert into entry_allocations
				(id, entry_id, booking_id, amount, alloc_date, alloc_type, seq)
				values ($1,$2,$3,$4,$5,$6,$7)`,
				a.ID, e.ID, a.BookingID, a.Amount.String(), a.Date, string(a.Type), j,
			); err != nil {
				return fmt.Errorf("failed to insert allocation: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	l.Version++
	return nil
}

func (s *Store) loadLedger(ctx context.Context, brokerID, branchID string) (*ledger.BrokerLedger, error) {
	var (
		l                  ledger.BrokerLedger
		balance, onAccount string
	)
	err := s.db.QueryRowContext(ctx, `
		select id, broker_id, branch_id, current_balance, on_account, version, created_at, updated_at
		from broker_ledgers where broker_id=$1 and branch_id=$2`,
		brokerID, branchID,
	).Scan(&l.ID, &l.BrokerID, &l.BranchID, &balance, &onAccount, &l.Version, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrLedgerNotFound
	}
	if err != nil {
		return nil, err
	}

	if l.CurrentBalance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("bad balance %q: %w", balance, err)
	}
	if l.OnAccount, err = decimal.NewFromString(onAccount); err != nil {
		return nil, fmt.Errorf("bad on-account %q: %w", onAccount, err)
	}

	if l.Entries, err = s.loadEntries(ctx, l.ID); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) loadEntries(ctx context.Context, ledgerID string) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, entry_date, entry_type, amount, mode_of_payment,
		       sub_payment_mode_id, bank_id, cash_location_id, reference_number,
		       booking_id, branch_id, on_account, status, auto_allocation,
		       approved_by, approved_at, rejected_by, rejected_at,
		       rejection_reason, remark, created_by, created_at
		from ledger_entries where ledger_id=$1 order by seq`, ledgerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var (
			e                                    ledger.Entry
			entryType, amount, mode, status      string
			subMode, bank, cashLoc, ref, booking sql.NullString
			autoAlloc, approvedBy, rejectedBy    sql.NullString
			approvedAt, rejectedAt               sql.NullTime
			rejection, remark, createdBy         sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Date, &entryType, &amount, &mode,
			&subMode, &bank, &cashLoc, &ref, &booking, &e.BranchID,
			&e.OnAccount, &status, &autoAlloc, &approvedBy, &approvedAt,
			&rejectedBy, &rejectedAt,
			&rejection, &remark, &createdBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("bad amount %q: %w", amount, err)
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
			t := approvedAt.Time
			e.ApprovedAt = &t
		}
		if rejectedAt.Valid {
			t := rejectedAt.Time
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
		select id, booking_id, amount, alloc_date, alloc_type
		from entry_allocations where entry_id=$1 order by seq`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var allocs []ledger.Allocation
	for rows.Next() {
		var (
			a                 ledger.Allocation
			amount, allocType string
		)
		if err := rows.Scan(&a.ID, &a.BookingID, &amount, &a.Date, &allocType); err != nil {
			return nil, err
		}
		if a.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("bad allocation amount %q: %w", amount, err)
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
	var (
		b     ledger.Broker
		phone sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`select id, name, phone, created_at from brokers where id=$1`, id,
	).Scan(&b.ID, &b.Name, &phone, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrBrokerNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Phone = phone.String

	rows, err := s.db.QueryContext(ctx,
		`select branch_id, active from broker_branches where broker_id=$1 order by branch_id`, id)
	if err != nil {
		return nil, err
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, `
		insert into brokers (id, name, phone, created_at) values ($1,$2,$3,$4)
		on conflict (id) do update set name=excluded.name, phone=excluded.phone`,
		b.ID, b.Name, nullString(b.Phone), createdAt,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`delete from broker_branches where broker_id=$1`, b.ID); err != nil {
		return err
	}
	for _, bb := range b.Branches {
		if _, err := tx.ExecContext(ctx,
			`insert into broker_branches (broker_id, branch_id, active) values ($1,$2,$3)`,
			b.ID, bb.BranchID, bb.Active,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetBranch(ctx context.Context, id string) (*ledger.Branch, error) {
	var (
		b    ledger.Branch
		city sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`select id, name, city, created_at from branches where id=$1`, id,
	).Scan(&b.ID, &b.Name, &city, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrBranchNotFound
	}
	if err != nil {
		return nil, err
	}
	b.City = city.String
	return &b, nil
}

func (s *Store) SaveBranch(ctx context.Context, b ledger.Branch) error {
	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into branches (id, name, city, created_at) values ($1,$2,$3,$4)
		on conflict (id) do update set name=excluded.name, city=excluded.city`,
		b.ID, b.Name, nullString(b.City), createdAt)
	return err
}

func (s *Store) GetBooking(ctx context.Context, id string) (*ledger.Booking, error) {
	var (
		b            ledger.Booking
		customerName sql.NullString
		amount       string
	)
	err := s.db.QueryRowContext(ctx,
		`select id, number, branch_id, customer_name, amount, created_at from bookings where id=$1`, id,
	).Scan(&b.ID, &b.Number, &b.BranchID, &customerName, &amount, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	b.CustomerName = customerName.String
	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("bad booking amount %q: %w", amount, err)
	}
	return &b, nil
}

func (s *Store) SaveBooking(ctx context.Context, b ledger.Booking) error {
	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into bookings (id, number, branch_id, customer_name, amount, created_at)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (id) do update set
			number=excluded.number, branch_id=excluded.branch_id,
			customer_name=excluded.customer_name, amount=excluded.amount`,
		b.ID, b.Number, b.BranchID, nullString(b.CustomerName), b.Amount.String(), createdAt)
	return err
}

func (s *Store) GetBank(ctx context.Context, id string) (*ledger.Bank, error) {
	var b ledger.Bank
	err := s.db.QueryRowContext(ctx,
		`select id, name from banks where id=$1`, id).Scan(&b.ID, &b.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrBankNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) SaveBank(ctx context.Context, b ledger.Bank) error {
	_, err := s.db.ExecContext(ctx, `
		insert into banks (id, name) values ($1,$2)
		on conflict (id) do update set name=excluded.name`, b.ID, b.Name)
	return err
}

func (s *Store) GetCashLocation(ctx context.Context, id string) (*ledger.CashLocation, error) {
	var (
		c        ledger.CashLocation
		branchID sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`select id, name, branch_id from cash_locations where id=$1`, id,
	).Scan(&c.ID, &c.Name, &branchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrCashLocationNotFound
	}
	if err != nil {
		return nil, err
	}
	c.BranchID = branchID.String
	return &c, nil
}

func (s *Store) SaveCashLocation(ctx context.Context, c ledger.CashLocation) error {
	_, err := s.db.ExecContext(ctx, `
		insert into cash_locations (id, name, branch_id) values ($1,$2,$3)
		on conflict (id) do update set name=excluded.name, branch_id=excluded.branch_id`,
		c.ID, c.Name, nullString(c.BranchID))
	return err
}

func (s *Store) GetSubPaymentMode(ctx context.Context, id string) (*ledger.SubPaymentMode, error) {
	var sm ledger.SubPaymentMode
	err := s.db.QueryRowContext(ctx,
		`select id, name, active from sub_payment_modes where id=$1`, id,
	).Scan(&sm.ID, &sm.Name, &sm.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrSubPaymentModeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sm, nil
}

func (s *Store) SaveSubPaymentMode(ctx context.Context, sm ledger.SubPaymentMode) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sub_payment_modes (id, name, active) values ($1,$2,$3)
		on conflict (id) do update set name=excluded.name, active=excluded.active`,
		sm.ID, sm.Name, sm.Active)
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
