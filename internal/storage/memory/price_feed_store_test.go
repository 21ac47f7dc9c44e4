package memory

import (
	"math/big"
	"testing"

	"leverage-sync/internal/domain"
	"leverage-sync/internal/storage"
)

func tick(feed string, price int64, ts int64) domain.PriceTick {
	return domain.PriceTick{Feed: feed, Price: big.NewInt(price), Timestamp: ts}
}

func TestPriceFeedStore_UpdateAndLatest(t *testing.T) {
	store := NewPriceFeedStore(10)

	if _, ok := store.Latest("BTCUSD"); ok {
		t.Fatal("expected no latest tick for empty store")
	}

	if res := store.Update(tick("BTCUSD", 100, 1)); res != storage.UpdateAccepted {
		t.Fatalf("expected accepted, got %s", res)
	}
	if res := store.Update(tick("BTCUSD", 110, 2)); res != storage.UpdateAccepted {
		t.Fatalf("expected accepted, got %s", res)
	}

	latest, ok := store.Latest("BTCUSD")
	if !ok {
		t.Fatal("expected latest tick")
	}
	if latest.Price.Int64() != 110 || latest.Timestamp != 2 {
		t.Errorf("unexpected latest: %+v", latest)
	}
}

func TestPriceFeedStore_RejectsStale(t *testing.T) {
	store := NewPriceFeedStore(10)
	store.Update(tick("ETHUSD", 100, 10))

	if res := store.Update(tick("ETHUSD", 90, 9)); res != storage.UpdateStale {
		t.Fatalf("expected stale, got %s", res)
	}

	latest, _ := store.Latest("ETHUSD")
	if latest.Price.Int64() != 100 {
		t.Errorf("stale tick replaced latest: %+v", latest)
	}
	if got := len(store.History("ETHUSD")); got != 1 {
		t.Errorf("stale tick edited history, len=%d", got)
	}
}

func TestPriceFeedStore_EqualTimestamp(t *testing.T) {
	store := NewPriceFeedStore(10)
	store.Update(tick("ETHUSD", 100, 10))

	if res := store.Update(tick("ETHUSD", 100, 10)); res != storage.UpdateDuplicate {
		t.Errorf("expected duplicate, got %s", res)
	}
	if res := store.Update(tick("ETHUSD", 101, 10)); res != storage.UpdateAccepted {
		t.Errorf("expected accepted for same timestamp with new price, got %s", res)
	}
	if got := len(store.History("ETHUSD")); got != 2 {
		t.Errorf("expected 2 history entries, got %d", got)
	}
}

func TestPriceFeedStore_Invalid(t *testing.T) {
	store := NewPriceFeedStore(10)

	tests := []struct {
		name string
		tick domain.PriceTick
	}{
		{"empty feed", tick("", 100, 1)},
		{"nil price", domain.PriceTick{Feed: "BTCUSD", Timestamp: 1}},
		{"zero price", tick("BTCUSD", 0, 1)},
		{"negative price", tick("BTCUSD", -5, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := store.Update(tt.tick); res != storage.UpdateInvalid {
				t.Errorf("expected invalid, got %s", res)
			}
		})
	}

	if feeds := store.Feeds(); len(feeds) != 0 {
		t.Errorf("invalid ticks created feeds: %v", feeds)
	}
}

func TestPriceFeedStore_HistoryBounded(t *testing.T) {
	const capacity = 5
	store := NewPriceFeedStore(capacity)

	for i := int64(1); i <= 12; i++ {
		store.Update(tick("BTCUSD", 100+i, i))

		history := store.History("BTCUSD")
		if len(history) > capacity {
			t.Fatalf("history exceeded capacity: %d", len(history))
		}
		for j := 1; j < len(history); j++ {
			if history[j].Timestamp < history[j-1].Timestamp {
				t.Fatalf("history not timestamp-ordered at %d: %+v", j, history)
			}
		}
	}

	history := store.History("BTCUSD")
	if len(history) != capacity {
		t.Fatalf("expected %d entries, got %d", capacity, len(history))
	}
	if history[0].Timestamp != 8 || history[capacity-1].Timestamp != 12 {
		t.Errorf("oldest entries not evicted first: first=%d last=%d",
			history[0].Timestamp, history[capacity-1].Timestamp)
	}
}

func TestPriceFeedStore_HistoryIsSnapshot(t *testing.T) {
	store := NewPriceFeedStore(10)
	store.Update(tick("BTCUSD", 100, 1))

	snap := store.History("BTCUSD")
	snap[0].Price.SetInt64(1)
	store.Update(tick("BTCUSD", 200, 2))

	if len(snap) != 1 {
		t.Errorf("snapshot grew after update: %d", len(snap))
	}
	latest := store.History("BTCUSD")[0]
	if latest.Price.Int64() != 100 {
		t.Errorf("mutating snapshot changed store: %s", latest.Price)
	}
}

func TestPriceFeedStore_DefaultCapacity(t *testing.T) {
	store := NewPriceFeedStore(0)
	if store.Capacity() != DefaultHistoryCapacity {
		t.Errorf("expected default capacity %d, got %d", DefaultHistoryCapacity, store.Capacity())
	}
}

func TestPriceFeedStore_Feeds(t *testing.T) {
	store := NewPriceFeedStore(10)
	store.Update(tick("ETHUSD", 1, 1))
	store.Update(tick("BTCUSD", 1, 1))

	feeds := store.Feeds()
	if len(feeds) != 2 || feeds[0] != "BTCUSD" || feeds[1] != "ETHUSD" {
		t.Errorf("unexpected feeds: %v", feeds)
	}
}
