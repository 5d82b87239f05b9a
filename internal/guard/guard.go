// Package guard provides a probabilistic pre-check over known codes and
// aliases. A negative answer is definitive; a positive answer must be
// confirmed against the authoritative store.
package guard

import (
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	// minCapacity keeps the filter usefully sized even when the store
	// is empty at startup.
	minCapacity = 100000

	falsePositiveRate = 0.01
)

// ExistenceGuard is an append-only membership filter. Entries are never
// removed; the false-positive rate drifts upward over the process
// lifetime and resets on restart, when the filter is rebuilt from the
// store.
type ExistenceGuard struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// New sizes the filter for the expected number of keys. Pass the
// authoritative row count at startup; a generous floor is applied.
func New(expectedKeys uint) *ExistenceGuard {
	capacity := expectedKeys * 2
	if capacity < minCapacity {
		capacity = minCapacity
	}
	return &ExistenceGuard{
		filter: bloom.NewWithEstimates(capacity, falsePositiveRate),
	}
}

// Add records a key. Idempotent. Keys are matched case-insensitively,
// like codes and aliases in the store.
func (g *ExistenceGuard) Add(key string) {
	if key == "" {
		return
	}
	g.mu.Lock()
	g.filter.AddString(normalize(key))
	g.mu.Unlock()
}

// MightContain reports whether key may be present. False means the key
// is definitely absent; true requires an authoritative store check.
func (g *ExistenceGuard) MightContain(key string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.filter.TestString(normalize(key))
}

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
