package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leverage-sync/internal/codec"
	"leverage-sync/internal/domain"
)

type onchainPosition struct {
	trader   common.Address
	amount   *big.Int
	entry    *big.Int
	leverage *big.Int
	isLong   bool
	opened   *big.Int
	feed     string
}

// fakeContract answers eth_call with ABI-encoded outputs.
type fakeContract struct {
	abi       abi.ABI
	positions map[uint64]onchainPosition
	byTrader  map[common.Address][]*big.Int
	prices    map[string][2]*big.Int
	err       error
	blocks    []uint64
}

func newFakeContract() *fakeContract {
	return &fakeContract{
		abi:       codec.TradingABI(),
		positions: make(map[uint64]onchainPosition),
		byTrader:  make(map[common.Address][]*big.Int),
		prices:    make(map[string][2]*big.Int),
	}
}

func (f *fakeContract) CallContract(_ context.Context, _ common.Address, data []byte, block uint64) ([]byte, error) {
	f.blocks = append(f.blocks, block)
	if f.err != nil {
		return nil, f.err
	}
	method, err := f.abi.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case codec.MethodGetUserPositions:
		ids := f.byTrader[args[0].(common.Address)]
		if ids == nil {
			ids = []*big.Int{}
		}
		return method.Outputs.Pack(ids)
	case codec.MethodPositions:
		p, ok := f.positions[args[0].(*big.Int).Uint64()]
		if !ok {
			p = onchainPosition{amount: new(big.Int), entry: new(big.Int), leverage: new(big.Int), opened: new(big.Int)}
		}
		return method.Outputs.Pack(p.trader, p.amount, p.entry, p.leverage, p.isLong, p.opened, p.feed)
	case codec.MethodGetOraclePrices:
		feeds := args[0].([]string)
		values := make([]*big.Int, len(feeds))
		stamps := make([]*big.Int, len(feeds))
		for i, feed := range feeds {
			if v, ok := f.prices[feed]; ok {
				values[i], stamps[i] = v[0], v[1]
			} else {
				values[i], stamps[i] = new(big.Int), new(big.Int)
			}
		}
		return method.Outputs.Pack(values, stamps)
	}
	return nil, fmt.Errorf("unexpected method %s", method.Name)
}

func pow10(v, exp int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil))
}

func TestContractReader_ReadOpenPositions(t *testing.T) {
	trader := common.HexToAddress("0x000000000000000000000000000000000000000A")
	fc := newFakeContract()
	fc.byTrader[trader] = []*big.Int{big.NewInt(1), big.NewInt(2)}
	fc.positions[1] = onchainPosition{
		trader:   trader,
		amount:   pow10(100, 6),
		entry:    pow10(50_000, 18),
		leverage: big.NewInt(50_000),
		isLong:   true,
		opened:   big.NewInt(1_700_000_000),
		feed:     "BTCUSD",
	}
	// Position 2 is closed on-chain: zero amount.
	fc.positions[2] = onchainPosition{
		trader:   trader,
		amount:   new(big.Int),
		entry:    pow10(3_000, 18),
		leverage: big.NewInt(20_000),
		opened:   big.NewInt(1_700_000_100),
		feed:     "ETHUSD",
	}

	reader := NewContractReader(fc, common.HexToAddress("0x2"))
	positions, err := reader.ReadOpenPositions(context.Background(), trader, 42)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, []uint64{42, 42, 42}, fc.blocks, "every call pinned to the same block")

	p := positions[0]
	assert.Equal(t, uint64(1), p.ID)
	assert.Equal(t, trader, p.Trader)
	assert.Equal(t, 0, p.Amount.Cmp(pow10(100, 6)))
	assert.Equal(t, 0, p.EntryPrice.Cmp(pow10(50_000, 18)))
	assert.Equal(t, uint64(50_000), p.Leverage)
	assert.Equal(t, domain.Long, p.Direction)
	assert.Equal(t, "BTCUSD", p.Feed)
	assert.Equal(t, int64(1_700_000_000), p.OpenTimestamp)
	assert.NoError(t, p.Validate())
}

func TestContractReader_NoPositions(t *testing.T) {
	reader := NewContractReader(newFakeContract(), common.Address{})
	positions, err := reader.ReadOpenPositions(context.Background(), common.HexToAddress("0xB"), Latest)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestContractReader_ReadLatestPrices(t *testing.T) {
	fc := newFakeContract()
	fc.prices["BTCUSD"] = [2]*big.Int{pow10(55_000, 18), big.NewInt(1_700_000_500)}

	reader := NewContractReader(fc, common.Address{})
	prices, err := reader.ReadLatestPrices(context.Background(), []string{"BTCUSD", "ETHUSD"})
	require.NoError(t, err)

	require.Contains(t, prices, "BTCUSD")
	assert.NotContains(t, prices, "ETHUSD", "zero price means no data")
	assert.Equal(t, 0, prices["BTCUSD"].Price.Cmp(pow10(55_000, 18)))
	assert.Equal(t, int64(1_700_000_500), prices["BTCUSD"].Timestamp)

	empty, err := reader.ReadLatestPrices(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestContractReader_PropagatesTransportError(t *testing.T) {
	fc := newFakeContract()
	fc.err = &TransportError{Op: "eth_call", Err: errors.New("connection refused")}

	reader := NewContractReader(fc, common.Address{})
	_, err := reader.ReadOpenPositions(context.Background(), common.HexToAddress("0xA"), Latest)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
