package ccf

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Displacement relies on the alternate-bucket mapping being an involution:
// applying it twice with the same tag returns the original bucket.
func TestAltIndexReciprocity(t *testing.T) {
	f := newTestFilter(t, func(c *Config) {
		c.NumBuckets = 1 << 10
		c.TagBits = 12
	})

	for i := 0; i < 10000; i++ {
		tag, i1 := f.index([]byte(fmt.Sprintf("key-%d", i)))
		i2 := f.altIndex(i1, tag)
		assert.Equal(t, i1, f.altIndex(i2, tag), "reciprocity broken for key-%d", i)
	}
}

func TestIndexRanges(t *testing.T) {
	f := newTestFilter(t, nil)

	for i := 0; i < 5000; i++ {
		tag, i1 := f.index([]byte(fmt.Sprintf("key-%d", i)))
		require.NotZero(t, tag, "tag zero is reserved for empty slots")
		require.LessOrEqual(t, tag, f.tagMask)
		require.Less(t, i1, f.cfg.NumBuckets)
		require.Less(t, f.altIndex(i1, tag), f.cfg.NumBuckets)
	}
}

func TestIndexDeterminism(t *testing.T) {
	f := newTestFilter(t, nil)

	tag1, b1 := f.index([]byte("stable"))
	tag2, b2 := f.index([]byte("stable"))
	assert.Equal(t, tag1, tag2)
	assert.Equal(t, b1, b2)
}

func TestHashFunctionSelection(t *testing.T) {
	xx := newTestFilter(t, func(c *Config) { c.HashFunction = HashXXHash })
	x3 := newTestFilter(t, func(c *Config) { c.HashFunction = HashXXH3 })

	// Both hashes drive a working filter; the mappings themselves differ.
	key := []byte("payload")
	xx.Put(key, 7)
	x3.Put(key, 7)

	size, ok := xx.SizeOf(key)
	require.True(t, ok)
	assert.Equal(t, uint64(7), size)

	size, ok = x3.SizeOf(key)
	require.True(t, ok)
	assert.Equal(t, uint64(7), size)
}
