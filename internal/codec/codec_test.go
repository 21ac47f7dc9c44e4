package codec_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leverage-sync/internal/codec"
	"leverage-sync/internal/codec/codectest"
	"leverage-sync/internal/domain"
)

var (
	oracle  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	trading = common.HexToAddress("0x2000000000000000000000000000000000000002")
	trader  = common.HexToAddress("0x000000000000000000000000000000000000000A")
)

func newCodec() *codec.Codec {
	return codec.New(codec.NewFeedTable("BTCUSD", "ETHUSD"), oracle, trading)
}

func TestDecode_PriceUpdated(t *testing.T) {
	c := newCodec()
	price := codectest.Pow10(55_000, 18)
	rec := codectest.PriceUpdated(oracle, "BTCUSD", price, 1_700_000_000, codectest.TxHash(1), 4)

	ev, err := c.Decode(rec)
	require.NoError(t, err)
	require.NotNil(t, ev)

	pu, ok := ev.(*domain.PriceUpdated)
	require.True(t, ok)
	assert.Equal(t, "BTCUSD", pu.Tick.Feed)
	assert.Equal(t, 0, pu.Tick.Price.Cmp(price))
	assert.Equal(t, int64(1_700_000_000), pu.Tick.Timestamp)
	assert.Equal(t, domain.EventKey{Kind: domain.KindPriceUpdated, TxHash: codectest.TxHash(1), LogIndex: 4}, pu.Key())
}

func TestDecode_UnknownFeedIdentifier(t *testing.T) {
	c := newCodec()
	rec := codectest.PriceUpdated(oracle, "DOGEUSD", big.NewInt(1), 1, codectest.TxHash(1), 0)

	ev, err := c.Decode(rec)
	assert.Nil(t, ev)
	assert.ErrorIs(t, err, codec.ErrUnknownFeedIdentifier)
}

func TestDecode_PositionLifecycle(t *testing.T) {
	c := newCodec()
	pos := domain.Position{
		ID:            7,
		Trader:        trader,
		Amount:        codectest.Pow10(100, 6),
		EntryPrice:    codectest.Pow10(50_000, 18),
		Leverage:      50_000,
		Direction:     domain.Short,
		Feed:          "BTCUSD",
		OpenTimestamp: 1_700_000_000,
	}

	ev, err := c.Decode(codectest.PositionOpened(trading, pos, codectest.TxHash(2), 0))
	require.NoError(t, err)
	opened, ok := ev.(*domain.PositionOpened)
	require.True(t, ok)
	assert.True(t, pos.SameTerms(opened.Position))
	assert.Equal(t, int64(1_700_000_000), opened.Position.OpenTimestamp)

	pnl := big.NewInt(-12_500_000)
	ev, err = c.Decode(codectest.PositionClosed(trading, 7, trader, pnl, codectest.Pow10(51_000, 18), codectest.TxHash(3), 1))
	require.NoError(t, err)
	closed, ok := ev.(*domain.PositionClosed)
	require.True(t, ok)
	assert.Equal(t, uint64(7), closed.PositionID)
	assert.Equal(t, trader, closed.Trader)
	assert.Equal(t, 0, closed.PnL.Cmp(pnl))

	ev, err = c.Decode(codectest.PositionLiquidated(trading, 7, trader, codectest.Pow10(60_000, 18), codectest.TxHash(4), 2))
	require.NoError(t, err)
	liq, ok := ev.(*domain.PositionLiquidated)
	require.True(t, ok)
	assert.Equal(t, domain.KindPositionLiquidated, liq.Kind())
}

func TestDecode_Ignored(t *testing.T) {
	c := newCodec()
	price := codectest.Pow10(1, 18)

	tests := []struct {
		name string
		rec  domain.LogRecord
	}{
		{
			name: "unknown address",
			rec:  codectest.PriceUpdated(common.HexToAddress("0xdead"), "BTCUSD", price, 1, codectest.TxHash(1), 0),
		},
		{
			name: "oracle event from trading contract",
			rec:  codectest.PriceUpdated(trading, "BTCUSD", price, 1, codectest.TxHash(1), 0),
		},
		{
			name: "unknown signature",
			rec: domain.LogRecord{
				Address: oracle,
				Topics:  []common.Hash{common.HexToHash("0xbeef")},
			},
		},
		{
			name: "no topics",
			rec:  domain.LogRecord{Address: oracle},
		},
		{
			name: "removed by reorg",
			rec: func() domain.LogRecord {
				r := codectest.PriceUpdated(oracle, "BTCUSD", price, 1, codectest.TxHash(1), 0)
				r.Removed = true
				return r
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := c.Decode(tt.rec)
			assert.NoError(t, err)
			assert.Nil(t, ev)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	c := newCodec()

	truncated := codectest.PriceUpdated(oracle, "BTCUSD", big.NewInt(1), 1, codectest.TxHash(1), 0)
	truncated.Data = truncated.Data[:32]

	missingTopic := codectest.PositionLiquidated(trading, 1, trader, big.NewInt(1), codectest.TxHash(1), 0)
	missingTopic.Topics = missingTopic.Topics[:2]

	for name, rec := range map[string]domain.LogRecord{
		"truncated data": truncated,
		"missing topic":  missingTopic,
	} {
		t.Run(name, func(t *testing.T) {
			ev, err := c.Decode(rec)
			assert.Nil(t, ev)
			assert.ErrorIs(t, err, codec.ErrDecode)
		})
	}
}

func TestFeedTable(t *testing.T) {
	table := codec.NewFeedTable("ETHUSD", "BTCUSD", "BTCUSD", "")

	assert.Equal(t, []string{"BTCUSD", "ETHUSD"}, table.Names())
	assert.Equal(t, 2, table.Len())

	name, ok := table.Lookup(codec.FeedHash("ETHUSD"))
	assert.True(t, ok)
	assert.Equal(t, "ETHUSD", name)

	_, ok = table.Lookup(codec.FeedHash("SOLUSD"))
	assert.False(t, ok)
}
