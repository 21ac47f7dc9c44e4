package stub

import (
	"context"
	"sync"

	"leverage-sync/internal/chain"
	"leverage-sync/internal/domain"
)

// LogFetcher serves eth_blockNumber and eth_getLogs from memory.
type LogFetcher struct {
	mu      sync.Mutex
	head    uint64
	logs    []domain.LogRecord
	queries []chain.LogQuery

	// Err, when set, is returned by every call.
	Err error
}

// NewLogFetcher creates an empty fetcher.
func NewLogFetcher() *LogFetcher {
	return &LogFetcher{}
}

// Append adds a historical log and advances head to its block.
func (f *LogFetcher) Append(rec domain.LogRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, rec)
	if rec.BlockNumber > f.head {
		f.head = rec.BlockNumber
	}
}

// SetHead sets the current head block.
func (f *LogFetcher) SetHead(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = n
}

// Queries returns the GetLogs queries received so far.
func (f *LogFetcher) Queries() []chain.LogQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]chain.LogQuery, len(f.queries))
	copy(out, f.queries)
	return out
}

// BlockNumber returns the head block.
func (f *LogFetcher) BlockNumber(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	return f.head, nil
}

// GetLogs returns logs within the query's block range and addresses.
func (f *LogFetcher) GetLogs(_ context.Context, q chain.LogQuery) ([]domain.LogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.Err != nil {
		return nil, f.Err
	}
	filter := chain.LogsFilter{Addresses: q.Addresses}
	var out []domain.LogRecord
	for _, l := range f.logs {
		if l.BlockNumber < q.FromBlock || l.BlockNumber > q.ToBlock {
			continue
		}
		if matches(filter, l.Address) {
			out = append(out, l)
		}
	}
	return out, nil
}
