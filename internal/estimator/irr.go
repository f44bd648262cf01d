package estimator

import (
	"math/bits"
	"sync"
)

// irrTracker measures inter-reference recency: the number of references
// between two touches of the same key. Deltas are collected into a log2
// histogram; bucket i counts deltas d with 2^(i-1) <= d < 2^i.
//
// The tracker holds exact last-seen indexes, so its key population is capped.
// Once the cap is reached, keys not already tracked stop being added; the
// WSS path is unaffected.
type irrTracker struct {
	mu      sync.Mutex
	last    map[string]uint64
	hist    [65]uint64
	maxKeys uint64
	skipped uint64
}

func newIRRTracker(maxKeys uint64) *irrTracker {
	return &irrTracker{
		last:    make(map[string]uint64),
		maxKeys: maxKeys,
	}
}

func (t *irrTracker) observe(key string, ref uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.last[key]; ok {
		t.hist[bits.Len64(ref-prev)]++
		t.last[key] = ref
		return
	}
	if uint64(len(t.last)) >= t.maxKeys {
		t.skipped++
		return
	}
	t.last[key] = ref
}

func (t *irrTracker) histogram() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]uint64, len(t.hist))
	copy(out, t.hist[:])
	return out
}
