package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leverage-sync/internal/chain/stub"
	"leverage-sync/internal/codec/codectest"
	"leverage-sync/internal/domain"
)

func TestRun_PrintsValuedPositions(t *testing.T) {
	trader := common.HexToAddress("0x000000000000000000000000000000000000000A")
	ledger := stub.NewLedger()
	ledger.SetPosition(domain.Position{
		ID:         3,
		Trader:     trader,
		Amount:     codectest.Pow10(100, 6),
		EntryPrice: codectest.Pow10(50_000, 18),
		Leverage:   50_000,
		Direction:  domain.Short,
		Feed:       "BTCUSD",
	})
	ledger.SetPrice(domain.PriceTick{Feed: "BTCUSD", Price: codectest.Pow10(55_000, 18), Timestamp: 1})

	var buf bytes.Buffer
	require.NoError(t, run(context.Background(), ledger, []common.Address{trader}, nil, &buf))

	out := buf.String()
	assert.Contains(t, out, "BTCUSD")
	assert.Contains(t, out, "short")
	assert.Contains(t, out, "5x")
	assert.Contains(t, out, "55000.00")
	assert.Contains(t, out, "-50")
	assert.Contains(t, out, "1 open positions")
}
