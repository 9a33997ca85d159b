package store_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/dealer-ledger/ledger"
	"github.com/warp/dealer-ledger/ledger/store"
)

func TestMemory_GetOrCreateLedger(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	l1, err := mem.GetOrCreateLedger(ctx, "b1", "br1")
	require.NoError(t, err)
	assert.NotEmpty(t, l1.ID)
	assert.Equal(t, 1, l1.Version)

	l2, err := mem.GetOrCreateLedger(ctx, "b1", "br1")
	require.NoError(t, err)
	assert.Equal(t, l1.ID, l2.ID)

	_, err = mem.GetLedger(ctx, "b1", "elsewhere")
	assert.ErrorIs(t, err, ledger.ErrLedgerNotFound)
}

func TestMemory_SaveLedger_VersionCheck(t *testing.T) {
	// Two readers of the same version: first save wins, second conflicts.

	mem := store.NewMemory()
	ctx := context.Background()

	_, err := mem.GetOrCreateLedger(ctx, "b1", "br1")
	require.NoError(t, err)

	a, err := mem.GetLedger(ctx, "b1", "br1")
	require.NoError(t, err)
	b, err := mem.GetLedger(ctx, "b1", "br1")
	require.NoError(t, err)

	a.CurrentBalance = decimal.NewFromInt(100)
	require.NoError(t, mem.SaveLedger(ctx, a))
	assert.Equal(t, 2, a.Version, "save bumps the caller's version")

	b.CurrentBalance = decimal.NewFromInt(999)
	err = mem.SaveLedger(ctx, b)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	latest, err := mem.GetLedger(ctx, "b1", "br1")
	require.NoError(t, err)
	assert.True(t, latest.CurrentBalance.Equal(decimal.NewFromInt(100)))
}

func TestMemory_ReadsAreIsolated(t *testing.T) {
	// Mutating a returned aggregate must not change the stored copy
	// until SaveLedger.

	mem := store.NewMemory()
	ctx := context.Background()

	l, err := mem.GetOrCreateLedger(ctx, "b1", "br1")
	require.NoError(t, err)
	l.Entries = append(l.Entries, ledger.Entry{ID: "e1", Type: ledger.Credit, Amount: decimal.NewFromInt(50)})

	stored, err := mem.GetLedger(ctx, "b1", "br1")
	require.NoError(t, err)
	assert.Empty(t, stored.Entries)

	require.NoError(t, mem.SaveLedger(ctx, l))
	stored, err = mem.GetLedger(ctx, "b1", "br1")
	require.NoError(t, err)
	assert.Len(t, stored.Entries, 1)
}

func TestMemory_LedgersByBroker(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	_, err := mem.GetOrCreateLedger(ctx, "b1", "north")
	require.NoError(t, err)
	_, err = mem.GetOrCreateLedger(ctx, "b1", "south")
	require.NoError(t, err)
	_, err = mem.GetOrCreateLedger(ctx, "b2", "north")
	require.NoError(t, err)

	ledgers, err := mem.LedgersByBroker(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, ledgers, 2)
}

func TestMemory_MasterRecords(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	_, err := mem.GetBroker(ctx, "nope")
	assert.ErrorIs(t, err, ledger.ErrBrokerNotFound)

	require.NoError(t, mem.SaveBroker(ctx, ledger.Broker{ID: "b1", Name: "Sharma Motors"}))
	b, err := mem.GetBroker(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "Sharma Motors", b.Name)

	require.NoError(t, mem.SaveSubPaymentMode(ctx, ledger.SubPaymentMode{ID: "s1", Name: "NEFT", Active: true}))
	sm, err := mem.GetSubPaymentMode(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, sm.Active)
}
