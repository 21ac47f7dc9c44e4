// Package codec decodes raw EVM logs into domain events.
package codec

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"leverage-sync/internal/domain"
)

var (
	// ErrDecode is returned for malformed logs from a known source.
	ErrDecode = errors.New("decode error")
	// ErrUnknownFeedIdentifier is returned when an indexed feed hash is not
	// in the forward mapping.
	ErrUnknownFeedIdentifier = errors.New("unknown feed identifier")
)

type decoderKey struct {
	address   common.Address
	signature common.Hash
}

type decodeFunc func(rec domain.LogRecord) (domain.Event, error)

// Codec decodes logs by (source address, event signature).
// Stateless after construction and safe for concurrent use.
type Codec struct {
	feeds    *FeedTable
	decoders map[decoderKey]decodeFunc
}

// New creates a codec for the given oracle and trading contracts.
func New(feeds *FeedTable, oracle, trading common.Address) *Codec {
	if feeds == nil {
		feeds = NewFeedTable()
	}
	c := &Codec{
		feeds:    feeds,
		decoders: make(map[decoderKey]decodeFunc),
	}

	c.register(oracle, oracleABI.Events["PriceUpdated"], c.decodePriceUpdated)
	c.register(trading, tradingABI.Events["PositionOpened"], c.decodePositionOpened)
	c.register(trading, tradingABI.Events["PositionClosed"], c.decodePositionClosed)
	c.register(trading, tradingABI.Events["PositionLiquidated"], c.decodePositionLiquidated)

	return c
}

func (c *Codec) register(addr common.Address, ev abi.Event, fn decodeFunc) {
	c.decoders[decoderKey{address: addr, signature: ev.ID}] = fn
}

// Feeds returns the forward mapping the codec was built with.
func (c *Codec) Feeds() *FeedTable { return c.feeds }

// Decode turns a log into a domain event.
// Returns (nil, nil) for logs the codec does not handle: unknown
// (address, signature) pairs and logs removed by a reorg.
func (c *Codec) Decode(rec domain.LogRecord) (domain.Event, error) {
	if rec.Removed || len(rec.Topics) == 0 {
		return nil, nil
	}
	fn, ok := c.decoders[decoderKey{address: rec.Address, signature: rec.Topics[0]}]
	if !ok {
		return nil, nil
	}
	return fn(rec)
}

func (c *Codec) decodePriceUpdated(rec domain.LogRecord) (domain.Event, error) {
	if len(rec.Topics) != 2 {
		return nil, fmt.Errorf("%w: PriceUpdated: want 2 topics, got %d", ErrDecode, len(rec.Topics))
	}
	feed, ok := c.feeds.Lookup(rec.Topics[1])
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeedIdentifier, rec.Topics[1].Hex())
	}

	values := make(map[string]interface{})
	if err := oracleABI.UnpackIntoMap(values, "PriceUpdated", rec.Data); err != nil {
		return nil, fmt.Errorf("%w: PriceUpdated: %v", ErrDecode, err)
	}
	price, err := bigField(values, "price")
	if err != nil {
		return nil, err
	}
	ts, err := bigField(values, "timestamp")
	if err != nil {
		return nil, err
	}
	if !ts.IsInt64() {
		return nil, fmt.Errorf("%w: PriceUpdated: timestamp out of range", ErrDecode)
	}

	timestamp := ts.Int64()
	if timestamp == 0 {
		timestamp = rec.BlockTimestamp
	}

	return &domain.PriceUpdated{
		EventMeta: domain.MetaFrom(rec),
		Tick: domain.PriceTick{
			Feed:      feed,
			Price:     price,
			Timestamp: timestamp,
		},
	}, nil
}

func (c *Codec) decodePositionOpened(rec domain.LogRecord) (domain.Event, error) {
	id, trader, err := positionTopics("PositionOpened", rec)
	if err != nil {
		return nil, err
	}

	values := make(map[string]interface{})
	if err := tradingABI.UnpackIntoMap(values, "PositionOpened", rec.Data); err != nil {
		return nil, fmt.Errorf("%w: PositionOpened: %v", ErrDecode, err)
	}
	amount, err := bigField(values, "amount")
	if err != nil {
		return nil, err
	}
	entry, err := bigField(values, "entryPrice")
	if err != nil {
		return nil, err
	}
	lev, err := bigField(values, "leverage")
	if err != nil {
		return nil, err
	}
	if !lev.IsUint64() {
		return nil, fmt.Errorf("%w: PositionOpened: leverage out of range", ErrDecode)
	}
	isLong, ok := values["isLong"].(bool)
	if !ok {
		return nil, fmt.Errorf("%w: PositionOpened: isLong", ErrDecode)
	}
	feed, ok := values["feedId"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: PositionOpened: feedId", ErrDecode)
	}

	return &domain.PositionOpened{
		EventMeta: domain.MetaFrom(rec),
		Position: domain.Position{
			ID:            id,
			Trader:        trader,
			Amount:        amount,
			EntryPrice:    entry,
			Leverage:      lev.Uint64(),
			Direction:     domain.DirectionFromIsLong(isLong),
			Feed:          feed,
			OpenTimestamp: rec.BlockTimestamp,
		},
	}, nil
}

func (c *Codec) decodePositionClosed(rec domain.LogRecord) (domain.Event, error) {
	id, trader, err := positionTopics("PositionClosed", rec)
	if err != nil {
		return nil, err
	}

	values := make(map[string]interface{})
	if err := tradingABI.UnpackIntoMap(values, "PositionClosed", rec.Data); err != nil {
		return nil, fmt.Errorf("%w: PositionClosed: %v", ErrDecode, err)
	}
	pnl, err := bigField(values, "pnl")
	if err != nil {
		return nil, err
	}
	exit, err := bigField(values, "exitPrice")
	if err != nil {
		return nil, err
	}

	return &domain.PositionClosed{
		EventMeta:  domain.MetaFrom(rec),
		PositionID: id,
		Trader:     trader,
		PnL:        pnl,
		ExitPrice:  exit,
	}, nil
}

func (c *Codec) decodePositionLiquidated(rec domain.LogRecord) (domain.Event, error) {
	id, trader, err := positionTopics("PositionLiquidated", rec)
	if err != nil {
		return nil, err
	}

	values := make(map[string]interface{})
	if err := tradingABI.UnpackIntoMap(values, "PositionLiquidated", rec.Data); err != nil {
		return nil, fmt.Errorf("%w: PositionLiquidated: %v", ErrDecode, err)
	}
	exit, err := bigField(values, "exitPrice")
	if err != nil {
		return nil, err
	}

	return &domain.PositionLiquidated{
		EventMeta:  domain.MetaFrom(rec),
		PositionID: id,
		Trader:     trader,
		ExitPrice:  exit,
	}, nil
}

// positionTopics extracts (positionId, trader) from topics[1] and topics[2].
func positionTopics(event string, rec domain.LogRecord) (uint64, common.Address, error) {
	if len(rec.Topics) != 3 {
		return 0, common.Address{}, fmt.Errorf("%w: %s: want 3 topics, got %d", ErrDecode, event, len(rec.Topics))
	}
	id := new(big.Int).SetBytes(rec.Topics[1].Bytes())
	if !id.IsUint64() {
		return 0, common.Address{}, fmt.Errorf("%w: %s: position id out of range", ErrDecode, event)
	}
	return id.Uint64(), common.BytesToAddress(rec.Topics[2].Bytes()), nil
}

func bigField(values map[string]interface{}, name string) (*big.Int, error) {
	v, ok := values[name].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: field %q missing or not an integer", ErrDecode, name)
	}
	return v, nil
}
