package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"leverage-sync/internal/domain"
)

// ComputeEventID computes a deterministic id for a push-derived event.
// Formula: SHA256(kind|tx_hash|log_index)
// Returns hex-encoded hash (64 characters).
func ComputeEventID(key domain.EventKey) string {
	data := fmt.Sprintf("%s|%s|%d",
		string(key.Kind),
		key.TxHash.Hex(),
		key.LogIndex,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeReconcileID computes a deterministic id for a change made by a
// reconciliation cycle.
// Formula: SHA256(reconcile|kind|position_id|cycle)
func ComputeReconcileID(kind string, positionID uint64, cycle uint64) string {
	data := fmt.Sprintf("reconcile|%s|%d|%d",
		kind,
		positionID,
		cycle,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeTickID computes a deterministic id for a price observation.
// Formula: SHA256(tick|feed|timestamp|price)
func ComputeTickID(tick domain.PriceTick) string {
	price := ""
	if tick.Price != nil {
		price = tick.Price.String()
	}
	data := fmt.Sprintf("tick|%s|%d|%s",
		tick.Feed,
		tick.Timestamp,
		price,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
