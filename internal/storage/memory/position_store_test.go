package memory

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leverage-sync/internal/domain"
	"leverage-sync/internal/storage"
)

var (
	traderA = common.HexToAddress("0x000000000000000000000000000000000000000A")
	traderB = common.HexToAddress("0x000000000000000000000000000000000000000B")
)

func position(id uint64, trader common.Address, feed string) domain.Position {
	return domain.Position{
		ID:            id,
		Trader:        trader,
		Amount:        big.NewInt(100_000_000),
		EntryPrice:    new(big.Int).Mul(big.NewInt(50_000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)),
		Leverage:      50_000,
		Direction:     domain.Long,
		Feed:          feed,
		OpenTimestamp: 1_700_000_000,
	}
}

func TestPositionStore_ApplyOpenedIdempotent(t *testing.T) {
	store := NewPositionStore()

	inserted, err := store.ApplyOpened(position(1, traderA, "BTCUSD"))
	require.NoError(t, err)
	assert.True(t, inserted)

	before := store.SnapshotForTrader(traderA)

	altered := position(1, traderA, "BTCUSD")
	altered.Amount = big.NewInt(1)
	inserted, err = store.ApplyOpened(altered)
	require.NoError(t, err)
	assert.False(t, inserted, "re-application must be a no-op")

	assert.Equal(t, before, store.SnapshotForTrader(traderA))
	assert.Equal(t, 1, store.Len())
}

func TestPositionStore_ApplyOpenedInvalid(t *testing.T) {
	store := NewPositionStore()

	tests := []struct {
		name   string
		mutate func(*domain.Position)
	}{
		{"zero amount", func(p *domain.Position) { p.Amount = big.NewInt(0) }},
		{"zero entry price", func(p *domain.Position) { p.EntryPrice = big.NewInt(0) }},
		{"zero leverage", func(p *domain.Position) { p.Leverage = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := position(7, traderA, "BTCUSD")
			tt.mutate(&pos)

			inserted, err := store.ApplyOpened(pos)
			assert.False(t, inserted)
			assert.True(t, errors.Is(err, storage.ErrInvalidPosition), "got %v", err)
		})
	}
	assert.Equal(t, 0, store.Len())
}

func TestPositionStore_CloseAndLiquidate(t *testing.T) {
	store := NewPositionStore()
	_, err := store.ApplyOpened(position(1, traderA, "BTCUSD"))
	require.NoError(t, err)
	_, err = store.ApplyOpened(position(2, traderA, "ETHUSD"))
	require.NoError(t, err)

	closed, ok := store.ApplyClosed(1)
	require.True(t, ok)
	assert.Equal(t, uint64(1), closed.ID)

	_, ok = store.ApplyClosed(1)
	assert.False(t, ok, "closing an absent id is silently ignored")

	_, ok = store.ApplyLiquidated(2)
	assert.True(t, ok)

	_, ok = store.ApplyLiquidated(99)
	assert.False(t, ok)

	assert.Empty(t, store.SnapshotForTrader(traderA))
	assert.Empty(t, store.Traders())
	assert.Empty(t, store.PositionsOnFeed("BTCUSD"))
}

func TestPositionStore_Indexes(t *testing.T) {
	store := NewPositionStore()
	for _, p := range []domain.Position{
		position(3, traderA, "BTCUSD"),
		position(1, traderA, "ETHUSD"),
		position(2, traderB, "BTCUSD"),
	} {
		_, err := store.ApplyOpened(p)
		require.NoError(t, err)
	}

	onBTC := store.PositionsOnFeed("BTCUSD")
	require.Len(t, onBTC, 2)
	assert.Equal(t, uint64(2), onBTC[0].ID)
	assert.Equal(t, uint64(3), onBTC[1].ID)

	forA := store.SnapshotForTrader(traderA)
	require.Len(t, forA, 2)
	assert.Equal(t, uint64(1), forA[0].ID)

	assert.Equal(t, []common.Address{traderA, traderB}, store.Traders())
	assert.Len(t, store.All(), 3)
}

func TestPositionStore_SetPnL(t *testing.T) {
	store := NewPositionStore()
	_, err := store.ApplyOpened(position(1, traderA, "BTCUSD"))
	require.NoError(t, err)

	pnl := big.NewInt(50_000_000)
	require.True(t, store.SetPnL(1, pnl))
	pnl.SetInt64(0)

	got, ok := store.Get(1)
	require.True(t, ok)
	assert.Equal(t, int64(50_000_000), got.CurrentPnL.Int64(), "store must not alias caller values")

	assert.False(t, store.SetPnL(42, big.NewInt(1)))
}

func TestPositionStore_SnapshotIsCopy(t *testing.T) {
	store := NewPositionStore()
	_, err := store.ApplyOpened(position(1, traderA, "BTCUSD"))
	require.NoError(t, err)

	snap := store.SnapshotForTrader(traderA)
	snap[0].Amount.SetInt64(1)

	got, _ := store.Get(1)
	assert.Equal(t, int64(100_000_000), got.Amount.Int64())
}

func TestPositionStore_ReconcileEqualSetIsNoop(t *testing.T) {
	store := NewPositionStore()
	for _, p := range []domain.Position{position(1, traderA, "BTCUSD"), position(2, traderA, "ETHUSD")} {
		_, err := store.ApplyOpened(p)
		require.NoError(t, err)
	}
	require.True(t, store.SetPnL(1, big.NewInt(5)))

	before := store.SnapshotForTrader(traderA)
	res := store.Reconcile(traderA, store.SnapshotForTrader(traderA), func(domain.Position) *big.Int {
		t.Fatal("valuate must not be called for unchanged positions")
		return nil
	}, nil)

	assert.False(t, res.Divergent())
	assert.Empty(t, res.Inserted)
	assert.Empty(t, res.Removed)
	assert.Empty(t, res.Replaced)
	assert.Equal(t, before, store.SnapshotForTrader(traderA))
}

func TestPositionStore_ReconcileInsertsAndRemoves(t *testing.T) {
	store := NewPositionStore()
	_, err := store.ApplyOpened(position(1, traderA, "BTCUSD"))
	require.NoError(t, err)
	_, err = store.ApplyOpened(position(9, traderB, "BTCUSD"))
	require.NoError(t, err)

	valuate := func(p domain.Position) *big.Int {
		if p.Feed == "BTCUSD" {
			return big.NewInt(77)
		}
		return nil
	}

	res := store.Reconcile(traderA, []domain.Position{
		position(2, traderA, "BTCUSD"),
		position(3, traderA, "ETHUSD"),
	}, valuate, nil)

	require.True(t, res.Divergent())
	require.Len(t, res.Removed, 1)
	assert.Equal(t, uint64(1), res.Removed[0].ID)
	require.Len(t, res.Inserted, 2)
	assert.Equal(t, uint64(2), res.Inserted[0].ID)
	assert.Equal(t, int64(77), res.Inserted[0].CurrentPnL.Int64())
	assert.Nil(t, res.Inserted[1].CurrentPnL, "no price known for ETHUSD")

	_, ok := store.Get(9)
	assert.True(t, ok, "other traders are untouched")
}

func TestPositionStore_ReconcileReplacesDifferentTerms(t *testing.T) {
	store := NewPositionStore()
	_, err := store.ApplyOpened(position(1, traderA, "BTCUSD"))
	require.NoError(t, err)

	auth := position(1, traderA, "BTCUSD")
	auth.Direction = domain.Short
	res := store.Reconcile(traderA, []domain.Position{auth}, nil, nil)

	require.Len(t, res.Replaced, 1)
	got, _ := store.Get(1)
	assert.Equal(t, domain.Short, got.Direction)
}

func TestPositionStore_ReconcileRejectsInvalid(t *testing.T) {
	store := NewPositionStore()

	bad := position(5, traderA, "BTCUSD")
	bad.Leverage = 0
	res := store.Reconcile(traderA, []domain.Position{bad}, nil, nil)

	require.Len(t, res.Rejected, 1)
	assert.False(t, res.Divergent())
	assert.Equal(t, 0, store.Len())
}

func TestPositionStore_ReconcileAfterClose(t *testing.T) {
	store := NewPositionStore()
	_, err := store.ApplyOpened(position(1, traderA, "BTCUSD"))
	require.NoError(t, err)
	_, ok := store.ApplyClosed(1)
	require.True(t, ok)

	res := store.Reconcile(traderA, nil, nil, nil)
	assert.Empty(t, res.Removed)
	assert.False(t, res.Divergent())
}

func TestPositionStore_ReconcileLeavesSkippedIDs(t *testing.T) {
	store := NewPositionStore()
	_, err := store.ApplyOpened(position(1, traderA, "BTCUSD"))
	require.NoError(t, err)
	_, err = store.ApplyOpened(position(2, traderA, "BTCUSD"))
	require.NoError(t, err)

	auth := position(3, traderA, "ETHUSD")
	skip := func(id uint64) bool { return id == 1 || id == 3 }
	res := store.Reconcile(traderA, []domain.Position{auth}, nil, skip)

	require.Len(t, res.Removed, 1)
	assert.Equal(t, uint64(2), res.Removed[0].ID)
	assert.Empty(t, res.Inserted)

	_, ok := store.Get(1)
	assert.True(t, ok, "skipped local position is kept")
	_, ok = store.Get(3)
	assert.False(t, ok, "skipped authoritative position is not inserted")
}
