package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind tags a decoded event variant.
type EventKind string

const (
	KindPriceUpdated       EventKind = "PriceUpdated"
	KindPositionOpened     EventKind = "PositionOpened"
	KindPositionClosed     EventKind = "PositionClosed"
	KindPositionLiquidated EventKind = "PositionLiquidated"
)

// EventKey identifies a decoded event across redeliveries of the same log.
type EventKey struct {
	Kind     EventKind
	TxHash   common.Hash
	LogIndex uint
}

func (k EventKey) String() string {
	return fmt.Sprintf("%s:%s:%d", k.Kind, k.TxHash.Hex(), k.LogIndex)
}

// Event is a decoded domain event.
type Event interface {
	Kind() EventKind
	Key() EventKey
	// Block returns the block number the event was emitted in.
	Block() uint64
}

// EventMeta carries the log coordinates shared by every variant.
type EventMeta struct {
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
	Timestamp   int64
}

// MetaFrom extracts the identity coordinates of a log.
func MetaFrom(rec LogRecord) EventMeta {
	return EventMeta{
		TxHash:      rec.TxHash,
		LogIndex:    rec.LogIndex,
		BlockNumber: rec.BlockNumber,
		Timestamp:   rec.BlockTimestamp,
	}
}

func (m EventMeta) key(kind EventKind) EventKey {
	return EventKey{Kind: kind, TxHash: m.TxHash, LogIndex: m.LogIndex}
}

// PriceUpdated is emitted by the oracle for every feed update.
type PriceUpdated struct {
	EventMeta
	Tick PriceTick
}

func (e *PriceUpdated) Kind() EventKind { return KindPriceUpdated }
func (e *PriceUpdated) Key() EventKey   { return e.key(KindPriceUpdated) }
func (e *PriceUpdated) Block() uint64   { return e.BlockNumber }

// PositionOpened carries the full terms of a new position.
type PositionOpened struct {
	EventMeta
	Position Position
}

func (e *PositionOpened) Kind() EventKind { return KindPositionOpened }
func (e *PositionOpened) Key() EventKey   { return e.key(KindPositionOpened) }
func (e *PositionOpened) Block() uint64   { return e.BlockNumber }

// PositionClosed reports a voluntary close with realized PnL.
type PositionClosed struct {
	EventMeta
	PositionID uint64
	Trader     common.Address
	PnL        *big.Int // 6 decimals, signed
	ExitPrice  *big.Int // 18 decimals
}

func (e *PositionClosed) Kind() EventKind { return KindPositionClosed }
func (e *PositionClosed) Key() EventKey   { return e.key(KindPositionClosed) }
func (e *PositionClosed) Block() uint64   { return e.BlockNumber }

// PositionLiquidated reports a forced close.
type PositionLiquidated struct {
	EventMeta
	PositionID uint64
	Trader     common.Address
	ExitPrice  *big.Int // 18 decimals
}

func (e *PositionLiquidated) Kind() EventKind { return KindPositionLiquidated }
func (e *PositionLiquidated) Key() EventKey   { return e.key(KindPositionLiquidated) }
func (e *PositionLiquidated) Block() uint64   { return e.BlockNumber }

var (
	_ Event = (*PriceUpdated)(nil)
	_ Event = (*PositionOpened)(nil)
	_ Event = (*PositionClosed)(nil)
	_ Event = (*PositionLiquidated)(nil)
)
