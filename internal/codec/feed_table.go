package codec

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// FeedHash returns the topic value emitted for an indexed feed string.
func FeedHash(feed string) common.Hash {
	return crypto.Keccak256Hash([]byte(feed))
}

// FeedTable is the forward mapping from an indexed feed hash to its name.
// It is built once at startup and never mutated.
type FeedTable struct {
	byHash map[common.Hash]string
	names  []string
}

// NewFeedTable builds a table from feed names. Duplicates are collapsed.
func NewFeedTable(feeds ...string) *FeedTable {
	t := &FeedTable{byHash: make(map[common.Hash]string, len(feeds))}
	for _, f := range feeds {
		if f == "" {
			continue
		}
		h := FeedHash(f)
		if _, ok := t.byHash[h]; ok {
			continue
		}
		t.byHash[h] = f
		t.names = append(t.names, f)
	}
	sort.Strings(t.names)
	return t
}

// Lookup resolves a feed hash.
func (t *FeedTable) Lookup(h common.Hash) (string, bool) {
	f, ok := t.byHash[h]
	return f, ok
}

// Names returns the known feeds in sorted order.
func (t *FeedTable) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Len returns the number of feeds.
func (t *FeedTable) Len() int { return len(t.names) }
