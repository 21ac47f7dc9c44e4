package idhash

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"leverage-sync/internal/domain"
)

func TestComputeEventID(t *testing.T) {
	base := domain.EventKey{
		Kind:     domain.KindPositionOpened,
		TxHash:   common.HexToHash("0xabc"),
		LogIndex: 2,
	}

	tests := []struct {
		name     string
		key      domain.EventKey
		sameAsID bool
	}{
		{"identical key", base, true},
		{"different kind", domain.EventKey{Kind: domain.KindPositionClosed, TxHash: base.TxHash, LogIndex: 2}, false},
		{"different tx", domain.EventKey{Kind: base.Kind, TxHash: common.HexToHash("0xabd"), LogIndex: 2}, false},
		{"different log index", domain.EventKey{Kind: base.Kind, TxHash: base.TxHash, LogIndex: 3}, false},
	}

	want := ComputeEventID(base)
	if len(want) != 64 {
		t.Fatalf("ComputeEventID() length = %d, want 64", len(want))
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeEventID(tt.key)
			if (got == want) != tt.sameAsID {
				t.Errorf("ComputeEventID(%v) = %s, same as base = %v, want %v", tt.key, got, got == want, tt.sameAsID)
			}
		})
	}
}

func TestComputeReconcileID(t *testing.T) {
	a := ComputeReconcileID("PositionOpened", 1, 10)
	b := ComputeReconcileID("PositionOpened", 1, 10)
	c := ComputeReconcileID("PositionOpened", 1, 11)
	d := ComputeReconcileID("PositionClosed", 1, 10)

	if a != b {
		t.Error("ComputeReconcileID should be deterministic")
	}
	if a == c || a == d {
		t.Error("ComputeReconcileID should differ by cycle and kind")
	}
}

func TestComputeTickID(t *testing.T) {
	tick := domain.PriceTick{Feed: "BTCUSD", Price: big.NewInt(5), Timestamp: 100}
	other := domain.PriceTick{Feed: "BTCUSD", Price: big.NewInt(6), Timestamp: 100}

	if ComputeTickID(tick) != ComputeTickID(tick.Clone()) {
		t.Error("ComputeTickID should be deterministic")
	}
	if ComputeTickID(tick) == ComputeTickID(other) {
		t.Error("ComputeTickID should differ by price")
	}
}
