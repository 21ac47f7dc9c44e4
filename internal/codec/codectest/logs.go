// Package codectest builds ABI-encoded logs for tests.
package codectest

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"leverage-sync/internal/codec"
	"leverage-sync/internal/domain"
)

// Pow10 returns v * 10^exp.
func Pow10(v int64, exp int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil))
}

// TxHash returns a deterministic transaction hash for n.
func TxHash(n uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(n))
}

// PriceUpdated encodes an oracle PriceUpdated log.
func PriceUpdated(oracle common.Address, feed string, price *big.Int, ts int64, tx common.Hash, logIndex uint) domain.LogRecord {
	ev := codec.OracleABI().Events["PriceUpdated"]
	data, err := ev.Inputs.NonIndexed().Pack(price, big.NewInt(ts))
	if err != nil {
		panic(err)
	}
	return domain.LogRecord{
		Address:        oracle,
		Topics:         []common.Hash{ev.ID, codec.FeedHash(feed)},
		Data:           data,
		TxHash:         tx,
		LogIndex:       logIndex,
		BlockTimestamp: ts,
	}
}

// PositionOpened encodes a PositionOpened log for pos.
func PositionOpened(trading common.Address, pos domain.Position, tx common.Hash, logIndex uint) domain.LogRecord {
	ev := codec.TradingABI().Events["PositionOpened"]
	data, err := ev.Inputs.NonIndexed().Pack(
		pos.Amount,
		pos.EntryPrice,
		new(big.Int).SetUint64(pos.Leverage),
		pos.Direction == domain.Long,
		pos.Feed,
	)
	if err != nil {
		panic(err)
	}
	return domain.LogRecord{
		Address:        trading,
		Topics:         positionTopics(ev.ID, pos.ID, pos.Trader),
		Data:           data,
		TxHash:         tx,
		LogIndex:       logIndex,
		BlockTimestamp: pos.OpenTimestamp,
	}
}

// PositionClosed encodes a PositionClosed log.
func PositionClosed(trading common.Address, id uint64, trader common.Address, pnl, exit *big.Int, tx common.Hash, logIndex uint) domain.LogRecord {
	ev := codec.TradingABI().Events["PositionClosed"]
	data, err := ev.Inputs.NonIndexed().Pack(pnl, exit)
	if err != nil {
		panic(err)
	}
	return domain.LogRecord{
		Address:  trading,
		Topics:   positionTopics(ev.ID, id, trader),
		Data:     data,
		TxHash:   tx,
		LogIndex: logIndex,
	}
}

// PositionLiquidated encodes a PositionLiquidated log.
func PositionLiquidated(trading common.Address, id uint64, trader common.Address, exit *big.Int, tx common.Hash, logIndex uint) domain.LogRecord {
	ev := codec.TradingABI().Events["PositionLiquidated"]
	data, err := ev.Inputs.NonIndexed().Pack(exit)
	if err != nil {
		panic(err)
	}
	return domain.LogRecord{
		Address:  trading,
		Topics:   positionTopics(ev.ID, id, trader),
		Data:     data,
		TxHash:   tx,
		LogIndex: logIndex,
	}
}

func positionTopics(sig common.Hash, id uint64, trader common.Address) []common.Hash {
	return []common.Hash{
		sig,
		common.BigToHash(new(big.Int).SetUint64(id)),
		common.BytesToHash(trader.Bytes()),
	}
}
