package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashN(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

func setupLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "data", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedger_RecordAndConfirm(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	hash := hashN(0xabc)
	e := &Entry{
		TxHash:    hash,
		Kind:      KindPurchase,
		Account:   "0x00000000000000000000000000000000000000aa",
		Tier:      "medium",
		Quantity:  4,
		AmountWei: "12000000000000000",
	}
	require.NoError(t, l.Record(ctx, e))
	assert.NotZero(t, e.ID)

	got, err := l.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	require.NoError(t, l.MarkConfirmed(ctx, hash, 42))
	got, err = l.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, uint64(42), got.Block)
	assert.Equal(t, "12000000000000000", got.AmountWei)
}

func TestLedger_MarkFailed(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	hash := hashN(0xdef)
	require.NoError(t, l.Record(ctx, &Entry{TxHash: hash, Kind: KindWithdraw}))

	require.NoError(t, l.MarkFailed(ctx, hash, "execution reverted"))
	got, err := l.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "execution reverted", got.Error)
}

func TestLedger_UnknownHash(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	assert.ErrorIs(t, l.MarkConfirmed(ctx, "0xmissing", 1), ErrNotFound)
	_, err := l.Get(ctx, "0xmissing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Error(t, l.Record(ctx, &Entry{}))
}

func TestLedger_DuplicateHash(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Record(ctx, &Entry{TxHash: hashN(1), Kind: KindPurchase}))
	assert.Error(t, l.Record(ctx, &Entry{TxHash: hashN(1), Kind: KindPurchase}))
}

func TestLedger_RecentNewestFirst(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Record(ctx, &Entry{TxHash: hashN(i), Kind: KindPurchase}))
	}

	entries, err := l.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, hashN(4), entries[0].TxHash)
	assert.Equal(t, hashN(2), entries[2].TxHash)
}

func TestLedger_RejectsMalformedEntries(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	for name, e := range map[string]*Entry{
		"short hash":    {TxHash: "0xabc", Kind: KindPurchase},
		"no prefix":     {TxHash: hashN(7)[2:], Kind: KindPurchase},
		"non-hex hash":  {TxHash: "0x" + strings.Repeat("zz", 32), Kind: KindWithdraw},
		"short account": {TxHash: hashN(8), Kind: KindPurchase, Account: "0xaa"},
		"non-hex account": {
			TxHash:  hashN(9),
			Kind:    KindPurchase,
			Account: "0x" + strings.Repeat("g", 40),
		},
	} {
		assert.Error(t, l.Record(ctx, e), name)
	}

	entries, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
