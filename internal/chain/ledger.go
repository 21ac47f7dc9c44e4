package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"leverage-sync/internal/codec"
	"leverage-sync/internal/domain"
)

// Latest selects the chain head in block-pinned reads.
const Latest uint64 = 0

// LedgerReader is the pull interface: synchronous authoritative reads.
// Implementations return *TransportError for retryable failures.
type LedgerReader interface {
	// ReadOpenPositions returns the trader's open positions as of block,
	// or as of the head when block is Latest.
	ReadOpenPositions(ctx context.Context, trader common.Address, block uint64) ([]domain.Position, error)
	// ReadLatestPrices returns the latest oracle tick per feed. Feeds without
	// a price are omitted.
	ReadLatestPrices(ctx context.Context, feeds []string) (map[string]domain.PriceTick, error)
}

// ContractCaller executes read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, to common.Address, data []byte, block uint64) ([]byte, error)
}

// ContractReader implements LedgerReader against the trading contract,
// which also proxies oracle prices.
type ContractReader struct {
	caller  ContractCaller
	trading common.Address
	abi     abi.ABI
}

var _ LedgerReader = (*ContractReader)(nil)

// NewContractReader creates a reader for the trading contract at trading.
func NewContractReader(caller ContractCaller, trading common.Address) *ContractReader {
	return &ContractReader{
		caller:  caller,
		trading: trading,
		abi:     codec.TradingABI(),
	}
}

// ReadOpenPositions lists position ids for the trader and reads each one,
// all at the same block. Entries with zero amount are closed on-chain and
// skipped.
func (r *ContractReader) ReadOpenPositions(ctx context.Context, trader common.Address, block uint64) ([]domain.Position, error) {
	out, err := r.call(ctx, block, codec.MethodGetUserPositions, trader)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s: unexpected output arity %d", codec.MethodGetUserPositions, len(out))
	}
	ids, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected output type %T", codec.MethodGetUserPositions, out[0])
	}

	positions := make([]domain.Position, 0, len(ids))
	for _, id := range ids {
		pos, open, err := r.readPosition(ctx, id, block)
		if err != nil {
			return nil, err
		}
		if open {
			positions = append(positions, pos)
		}
	}
	return positions, nil
}

func (r *ContractReader) readPosition(ctx context.Context, id *big.Int, block uint64) (domain.Position, bool, error) {
	if !id.IsUint64() {
		return domain.Position{}, false, fmt.Errorf("%s: position id %s out of range", codec.MethodPositions, id)
	}

	out, err := r.call(ctx, block, codec.MethodPositions, id)
	if err != nil {
		return domain.Position{}, false, err
	}
	if len(out) != 7 {
		return domain.Position{}, false, fmt.Errorf("%s(%s): unexpected output arity %d", codec.MethodPositions, id, len(out))
	}

	trader, ok1 := out[0].(common.Address)
	amount, ok2 := out[1].(*big.Int)
	entry, ok3 := out[2].(*big.Int)
	lev, ok4 := out[3].(*big.Int)
	isLong, ok5 := out[4].(bool)
	opened, ok6 := out[5].(*big.Int)
	feed, ok7 := out[6].(string)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return domain.Position{}, false, fmt.Errorf("%s(%s): unexpected output types", codec.MethodPositions, id)
	}

	if amount.Sign() == 0 {
		return domain.Position{}, false, nil
	}
	if !lev.IsUint64() || !opened.IsInt64() {
		return domain.Position{}, false, fmt.Errorf("%s(%s): leverage or timestamp out of range", codec.MethodPositions, id)
	}

	return domain.Position{
		ID:            id.Uint64(),
		Trader:        trader,
		Amount:        amount,
		EntryPrice:    entry,
		Leverage:      lev.Uint64(),
		Direction:     domain.DirectionFromIsLong(isLong),
		Feed:          feed,
		OpenTimestamp: opened.Int64(),
	}, true, nil
}

// ReadLatestPrices reads all feeds in one getOraclePrices call.
func (r *ContractReader) ReadLatestPrices(ctx context.Context, feeds []string) (map[string]domain.PriceTick, error) {
	prices := make(map[string]domain.PriceTick, len(feeds))
	if len(feeds) == 0 {
		return prices, nil
	}

	out, err := r.call(ctx, Latest, codec.MethodGetOraclePrices, feeds)
	if err != nil {
		return nil, err
	}
	if len(out) != 2 {
		return nil, fmt.Errorf("%s: unexpected output arity %d", codec.MethodGetOraclePrices, len(out))
	}
	values, ok1 := out[0].([]*big.Int)
	stamps, ok2 := out[1].([]*big.Int)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%s: unexpected output types", codec.MethodGetOraclePrices)
	}
	if len(values) != len(feeds) || len(stamps) != len(feeds) {
		return nil, fmt.Errorf("%s: got %d prices and %d timestamps for %d feeds",
			codec.MethodGetOraclePrices, len(values), len(stamps), len(feeds))
	}

	for i, feed := range feeds {
		if values[i].Sign() <= 0 || !stamps[i].IsInt64() {
			continue
		}
		prices[feed] = domain.PriceTick{
			Feed:      feed,
			Price:     values[i],
			Timestamp: stamps[i].Int64(),
		}
	}
	return prices, nil
}

func (r *ContractReader) call(ctx context.Context, block uint64, method string, args ...interface{}) ([]interface{}, error) {
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	res, err := r.caller.CallContract(ctx, r.trading, data, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := r.abi.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}
