package pnl

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leverage-sync/internal/codec/codectest"
	"leverage-sync/internal/domain"
)

func btcPosition(dir domain.Direction) domain.Position {
	return domain.Position{
		ID:         1,
		Trader:     common.HexToAddress("0xA"),
		Amount:     codectest.Pow10(100, 6),
		EntryPrice: codectest.Pow10(50_000, 18),
		Leverage:   50_000,
		Direction:  dir,
		Feed:       "BTCUSD",
	}
}

func TestCompute_Scenarios(t *testing.T) {
	tests := []struct {
		name  string
		dir   domain.Direction
		price *big.Int
		want  *big.Int
	}{
		{"long 10% up at 5x", domain.Long, codectest.Pow10(55_000, 18), codectest.Pow10(50, 6)},
		{"short 10% up at 5x", domain.Short, codectest.Pow10(55_000, 18), codectest.Pow10(-50, 6)},
		{"long 10% down at 5x", domain.Long, codectest.Pow10(45_000, 18), codectest.Pow10(-50, 6)},
		{"short 10% down at 5x", domain.Short, codectest.Pow10(45_000, 18), codectest.Pow10(50, 6)},
		{"flat", domain.Long, codectest.Pow10(50_000, 18), big.NewInt(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(btcPosition(tt.dir), tt.price)
			require.NoError(t, err)
			assert.Equal(t, 0, got.Cmp(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

func TestCompute_FractionalLeverage(t *testing.T) {
	pos := btcPosition(domain.Long)
	pos.Leverage = 25_000 // 2.5x

	got, err := Compute(pos, codectest.Pow10(55_000, 18))
	require.NoError(t, err)
	assert.Equal(t, int64(25_000_000), got.Int64())
}

func TestCompute_RoundsAwayFromZero(t *testing.T) {
	pos := btcPosition(domain.Long)
	pos.Amount = big.NewInt(1) // 0.000001 collateral

	up := new(big.Int).Add(pos.EntryPrice, big.NewInt(1))
	got, err := Compute(pos, up)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Int64())

	down := new(big.Int).Sub(pos.EntryPrice, big.NewInt(1))
	got, err = Compute(pos, down)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), got.Int64())
}

func TestCompute_SignMatchesDirection(t *testing.T) {
	entry := codectest.Pow10(2_000, 18)
	offsets := []int64{-1_999, -500, -1, 1, 7, 333, 10_000}

	for _, dir := range []domain.Direction{domain.Long, domain.Short} {
		for _, off := range offsets {
			pos := btcPosition(dir)
			pos.EntryPrice = entry
			price := new(big.Int).Add(entry, codectest.Pow10(off, 15))

			got, err := Compute(pos, price)
			require.NoError(t, err)

			favourable := price.Cmp(entry) > 0
			if dir == domain.Short {
				favourable = price.Cmp(entry) < 0
			}
			assert.Equal(t, favourable, got.Sign() > 0, "%s offset %d: pnl %s", dir, off, got)
			assert.NotZero(t, got.Sign())
		}
	}
}

func TestCompute_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.Position)
		price   *big.Int
		wantErr error
	}{
		{"zero entry", func(p *domain.Position) { p.EntryPrice = big.NewInt(0) }, big.NewInt(1), ErrInvalidPosition},
		{"nil entry", func(p *domain.Position) { p.EntryPrice = nil }, big.NewInt(1), ErrInvalidPosition},
		{"zero amount", func(p *domain.Position) { p.Amount = big.NewInt(0) }, big.NewInt(1), ErrInvalidPosition},
		{"zero leverage", func(p *domain.Position) { p.Leverage = 0 }, big.NewInt(1), ErrInvalidPosition},
		{"bad direction", func(p *domain.Position) { p.Direction = "sideways" }, big.NewInt(1), ErrInvalidPosition},
		{"nil price", func(p *domain.Position) {}, nil, ErrInvalidPrice},
		{"zero price", func(p *domain.Position) {}, big.NewInt(0), ErrInvalidPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := btcPosition(domain.Long)
			tt.mutate(&pos)
			_, err := Compute(pos, tt.price)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}
