package ingestion

import (
	"errors"
	"testing"

	"leverage-sync/internal/codec/codectest"
	"leverage-sync/internal/domain"
)

func rec(block uint64, idx uint, tx uint64) domain.LogRecord {
	return domain.LogRecord{BlockNumber: block, LogIndex: idx, TxHash: codectest.TxHash(tx)}
}

func TestSortLogs(t *testing.T) {
	logs := []domain.LogRecord{
		rec(12, 0, 5),
		rec(10, 3, 1),
		rec(10, 1, 2),
		rec(11, 0, 3),
	}

	SortLogs(logs)

	want := []struct {
		block uint64
		idx   uint
	}{{10, 1}, {10, 3}, {11, 0}, {12, 0}}
	for i, w := range want {
		if logs[i].BlockNumber != w.block || logs[i].LogIndex != w.idx {
			t.Errorf("position %d: got (%d,%d), want (%d,%d)",
				i, logs[i].BlockNumber, logs[i].LogIndex, w.block, w.idx)
		}
	}

	if err := ValidateLogOrdering(logs); err != nil {
		t.Errorf("sorted logs failed validation: %v", err)
	}
}

func TestValidateLogOrdering(t *testing.T) {
	tests := []struct {
		name    string
		logs    []domain.LogRecord
		wantErr bool
	}{
		{"empty", nil, false},
		{"single", []domain.LogRecord{rec(1, 0, 1)}, false},
		{"ordered", []domain.LogRecord{rec(1, 0, 1), rec(1, 1, 1), rec(2, 0, 2)}, false},
		{"block regression", []domain.LogRecord{rec(2, 0, 1), rec(1, 0, 1)}, true},
		{"index regression", []domain.LogRecord{rec(1, 2, 1), rec(1, 1, 1)}, true},
		{"duplicate", []domain.LogRecord{rec(1, 0, 1), rec(1, 0, 1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLogOrdering(tt.logs)
			if tt.wantErr && !errors.Is(err, ErrInvalidOrdering) {
				t.Errorf("expected ErrInvalidOrdering, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
