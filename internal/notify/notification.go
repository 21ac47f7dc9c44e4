// Package notify fans engine changes out to read-only consumers.
package notify

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"leverage-sync/internal/domain"
)

// Kind is the notification type.
type Kind string

const (
	KindPositionOpened     Kind = "PositionOpened"
	KindPositionClosed     Kind = "PositionClosed"
	KindPositionLiquidated Kind = "PositionLiquidated"
	KindPriceUpdated       Kind = "PriceUpdated"
	KindPnLRecomputed      Kind = "PnLRecomputed"
)

// Origin says which path produced a change.
type Origin string

const (
	OriginStream    Origin = "stream"
	OriginReconcile Origin = "reconcile"
)

// Notification describes one applied state change. Consumers get copies
// and cannot reach engine state through them.
type Notification struct {
	ID      uuid.UUID
	EventID string // deterministic id, stable across redeliveries
	Kind    Kind
	Origin  Origin
	Key     *domain.EventKey // nil for reconciliation changes
	Cycle   uint64           // reconciliation cycle, 0 for stream changes
	Block   uint64           // block of the source log, 0 for reconciliation changes

	Trader     common.Address
	PositionID uint64
	Position   *domain.Position  // opened, closed, liquidated, pnl
	Tick       *domain.PriceTick // price updates
	PnL        *big.Int          // current PnL, or realized PnL on close
	ExitPrice  *big.Int

	At time.Time
}

// Feed returns the feed the notification concerns, if any.
func (n Notification) Feed() string {
	switch {
	case n.Tick != nil:
		return n.Tick.Feed
	case n.Position != nil:
		return n.Position.Feed
	default:
		return ""
	}
}

type wirePosition struct {
	ID            uint64 `json:"id"`
	Trader        string `json:"trader"`
	Amount        string `json:"amount"`
	EntryPrice    string `json:"entry_price"`
	Leverage      uint64 `json:"leverage"`
	Direction     string `json:"direction"`
	Feed          string `json:"feed"`
	OpenTimestamp int64  `json:"open_timestamp"`
	CurrentPnL    string `json:"current_pnl,omitempty"`
}

type wireTick struct {
	Feed      string `json:"feed"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

type wireNotification struct {
	ID         string        `json:"id"`
	EventID    string        `json:"event_id"`
	Kind       Kind          `json:"kind"`
	Origin     Origin        `json:"origin"`
	TxHash     string        `json:"tx_hash,omitempty"`
	LogIndex   *uint         `json:"log_index,omitempty"`
	Cycle      uint64        `json:"cycle,omitempty"`
	Block      uint64        `json:"block,omitempty"`
	Trader     string        `json:"trader,omitempty"`
	PositionID uint64        `json:"position_id,omitempty"`
	Position   *wirePosition `json:"position,omitempty"`
	Tick       *wireTick     `json:"tick,omitempty"`
	PnL        string        `json:"pnl,omitempty"`
	ExitPrice  string        `json:"exit_price,omitempty"`
	At         time.Time     `json:"at"`
}

// MarshalJSON encodes fixed-point values as decimal integer strings.
func (n Notification) MarshalJSON() ([]byte, error) {
	w := wireNotification{
		ID:         n.ID.String(),
		EventID:    n.EventID,
		Kind:       n.Kind,
		Origin:     n.Origin,
		Cycle:      n.Cycle,
		Block:      n.Block,
		PositionID: n.PositionID,
		PnL:        bigString(n.PnL),
		ExitPrice:  bigString(n.ExitPrice),
		At:         n.At,
	}
	if n.Key != nil {
		w.TxHash = n.Key.TxHash.Hex()
		idx := n.Key.LogIndex
		w.LogIndex = &idx
	}
	if n.Trader != (common.Address{}) {
		w.Trader = n.Trader.Hex()
	}
	if p := n.Position; p != nil {
		w.Position = &wirePosition{
			ID:            p.ID,
			Trader:        p.Trader.Hex(),
			Amount:        bigString(p.Amount),
			EntryPrice:    bigString(p.EntryPrice),
			Leverage:      p.Leverage,
			Direction:     string(p.Direction),
			Feed:          p.Feed,
			OpenTimestamp: p.OpenTimestamp,
			CurrentPnL:    bigString(p.CurrentPnL),
		}
	}
	if t := n.Tick; t != nil {
		w.Tick = &wireTick{Feed: t.Feed, Price: bigString(t.Price), Timestamp: t.Timestamp}
	}
	return json.Marshal(w)
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// clone deep-copies the mutable parts so subscribers never share values.
func (n Notification) clone() Notification {
	c := n
	if n.Key != nil {
		k := *n.Key
		c.Key = &k
	}
	if n.Position != nil {
		p := n.Position.Clone()
		c.Position = &p
	}
	if n.Tick != nil {
		t := n.Tick.Clone()
		c.Tick = &t
	}
	if n.PnL != nil {
		c.PnL = new(big.Int).Set(n.PnL)
	}
	if n.ExitPrice != nil {
		c.ExitPrice = new(big.Int).Set(n.ExitPrice)
	}
	return c
}
