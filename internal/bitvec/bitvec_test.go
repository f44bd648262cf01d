package bitvec

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetSingleWord(t *testing.T) {
	v := New(256)

	v.Set(0, 8, 0xAB)
	assert.Equal(t, uint64(0xAB), v.Get(0, 8))

	v.Set(8, 8, 0xCD)
	assert.Equal(t, uint64(0xCD), v.Get(8, 8))
	assert.Equal(t, uint64(0xAB), v.Get(0, 8), "neighbor write must not disturb earlier bits")

	v.Set(3, 5, 0x1F)
	assert.Equal(t, uint64(0x1F), v.Get(3, 5))
}

func TestGetSetCrossWord(t *testing.T) {
	v := New(256)

	// A 16-bit value straddling the first word boundary: 8 bits in word 0,
	// 8 bits in word 1.
	v.Set(56, 16, 0xBEEF)
	assert.Equal(t, uint64(0xBEEF), v.Get(56, 16))

	// Composition order: lower bits come from the starting word.
	assert.Equal(t, uint64(0xEF), v.Get(56, 8))
	assert.Equal(t, uint64(0xBE), v.Get(64, 8))
}

func TestSetPreservesSurroundingBits(t *testing.T) {
	v := New(192)
	v.SetRange(0, 192)

	v.Set(60, 10, 0)
	assert.Equal(t, uint64(0), v.Get(60, 10))
	assert.Equal(t, widthMask(60), v.Get(0, 60))
	assert.Equal(t, widthMask(64), v.Get(70, 64))
}

func TestSetTruncatesToWidth(t *testing.T) {
	v := New(64)
	v.Set(4, 4, 0xFFFF)
	assert.Equal(t, uint64(0xF), v.Get(4, 4))
	assert.Equal(t, uint64(0), v.Get(0, 4))
	assert.Equal(t, uint64(0), v.Get(8, 8))
}

func TestFullWidthValues(t *testing.T) {
	v := New(256)

	v.Set(0, 64, ^uint64(0))
	assert.Equal(t, ^uint64(0), v.Get(0, 64))

	// 64-bit value across a word boundary.
	v.Set(96, 64, 0x0123456789ABCDEF)
	assert.Equal(t, uint64(0x0123456789ABCDEF), v.Get(96, 64))
}

func TestRoundTripRandomized(t *testing.T) {
	const nbits = 4096
	rng := rand.New(rand.NewSource(42))

	v := New(nbits)
	for i := 0; i < 10000; i++ {
		width := uint64(rng.Intn(64)) + 1
		off := uint64(rng.Intn(int(nbits - width + 1)))
		val := rng.Uint64() & widthMask(width)

		before := uint64(0)
		if off > 0 {
			w := off
			if w > 64 {
				w = 64
			}
			before = v.Get(off-w, w)
		}

		v.Set(off, width, val)
		require.Equal(t, val, v.Get(off, width), "round trip at off=%d width=%d", off, width)

		if off > 0 {
			w := off
			if w > 64 {
				w = 64
			}
			require.Equal(t, before, v.Get(off-w, w), "bits below off=%d disturbed", off)
		}
	}
}

func TestSetClearRange(t *testing.T) {
	v := New(300)

	v.SetRange(10, 150)
	assert.Equal(t, uint64(0), v.Get(0, 10))
	assert.Equal(t, widthMask(64), v.Get(10, 64))
	assert.Equal(t, widthMask(64), v.Get(96, 64))
	assert.Equal(t, uint64(0), v.Get(160, 64))

	v.ClearRange(10, 150)
	assert.Equal(t, uint64(0), v.Get(10, 64))
	assert.Equal(t, uint64(0), v.Get(96, 64))
}

func TestEmptyRangeIsNoop(t *testing.T) {
	v := New(64)
	v.Set(0, 64, 0x1234)
	v.SetRange(10, 0)
	v.ClearRange(10, 0)
	assert.Equal(t, uint64(0x1234), v.Get(0, 64))
}

func TestOutOfRangePanics(t *testing.T) {
	v := New(128)

	assert.Panics(t, func() { v.Get(120, 16) })
	assert.Panics(t, func() { v.Set(128, 1, 0) })
	assert.Panics(t, func() { v.Get(0, 0) })
	assert.Panics(t, func() { v.Get(0, 65) })
	assert.Panics(t, func() { v.SetRange(120, 16) })
}
