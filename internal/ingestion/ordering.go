package ingestion

import (
	"errors"
	"sort"

	"leverage-sync/internal/domain"
)

// ErrInvalidOrdering is returned when logs are not properly ordered.
var ErrInvalidOrdering = errors.New("logs are not in chain order")

// SortLogs orders logs by (block ASC, log_index ASC, tx_hash ASC).
// Log index is block-scoped, so tx hash only breaks ties between
// malformed or duplicated records.
func SortLogs(logs []domain.LogRecord) {
	sort.SliceStable(logs, func(i, j int) bool {
		return compareLogs(&logs[i], &logs[j]) < 0
	})
}

// ValidateLogOrdering checks that logs are strictly increasing in chain order.
// Returns ErrInvalidOrdering if not.
func ValidateLogOrdering(logs []domain.LogRecord) error {
	for i := 1; i < len(logs); i++ {
		if compareLogs(&logs[i-1], &logs[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// compareLogs returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
func compareLogs(a, b *domain.LogRecord) int {
	if a.BlockNumber != b.BlockNumber {
		if a.BlockNumber < b.BlockNumber {
			return -1
		}
		return 1
	}
	if a.LogIndex != b.LogIndex {
		if a.LogIndex < b.LogIndex {
			return -1
		}
		return 1
	}
	return a.TxHash.Cmp(b.TxHash)
}
