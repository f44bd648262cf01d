package table

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLayout() Layout {
	return Layout{
		TagBits:       8,
		SizeBits:      12,
		ClockBits:     2,
		ScopeBits:     2,
		TagsPerBucket: 4,
		NumBuckets:    16,
	}
}

func TestLayoutValidate(t *testing.T) {
	good := testLayout()
	assert.NoError(t, good.Validate())
	assert.Equal(t, uint64(24), good.SlotBits())

	bad := testLayout()
	bad.NumBuckets = 12
	assert.Error(t, bad.Validate(), "non-power-of-two bucket count")

	bad = testLayout()
	bad.TagBits = 0
	assert.Error(t, bad.Validate(), "zero tag width")

	bad = testLayout()
	bad.ClockBits = 0
	assert.Error(t, bad.Validate(), "zero clock width")

	bad = testLayout()
	bad.TagsPerBucket = 0
	assert.Error(t, bad.Validate())
}

func TestNewRejectsBadLockNumber(t *testing.T) {
	_, err := New(testLayout(), 3)
	assert.Error(t, err)
	_, err = New(testLayout(), 0)
	assert.Error(t, err)
}

func TestSlotRoundTrip(t *testing.T) {
	tbl, err := New(testLayout(), 4)
	require.NoError(t, err)

	want := Slot{Tag: 0xA5, Size: 0x7FF, Clock: 3, Scope: 2}
	tbl.WriteSlot(5, 2, want)
	assert.Equal(t, want, tbl.ReadSlot(5, 2))

	// Neighbors stay empty.
	assert.True(t, tbl.ReadSlot(5, 1).Empty())
	assert.True(t, tbl.ReadSlot(5, 3).Empty())
	assert.True(t, tbl.ReadSlot(4, 2).Empty())
	assert.True(t, tbl.ReadSlot(6, 2).Empty())
}

func TestFieldAccessorsAreIndependent(t *testing.T) {
	tbl, err := New(testLayout(), 4)
	require.NoError(t, err)

	tbl.WriteSlot(3, 0, Slot{Tag: 0x11, Size: 100, Clock: 2, Scope: 1})

	tbl.WriteClock(3, 0, 1)
	assert.Equal(t, Slot{Tag: 0x11, Size: 100, Clock: 1, Scope: 1}, tbl.ReadSlot(3, 0))

	tbl.WriteSize(3, 0, 200)
	assert.Equal(t, uint64(200), tbl.ReadSize(3, 0))
	assert.Equal(t, uint64(0x11), tbl.ReadTag(3, 0))

	tbl.WriteTag(3, 0, 0x22)
	assert.Equal(t, uint64(0x22), tbl.ReadTag(3, 0))
	assert.Equal(t, uint64(200), tbl.ReadSize(3, 0))
	assert.Equal(t, uint64(1), tbl.ReadClock(3, 0))
	assert.Equal(t, uint64(1), tbl.ReadScope(3, 0))
}

func TestClearSlot(t *testing.T) {
	tbl, err := New(testLayout(), 4)
	require.NoError(t, err)

	tbl.WriteSlot(7, 3, Slot{Tag: 0xFF, Size: 0xFFF, Clock: 3, Scope: 3})
	tbl.ClearSlot(7, 3)
	assert.Equal(t, Slot{}, tbl.ReadSlot(7, 3))
}

func TestScopelessLayout(t *testing.T) {
	layout := testLayout()
	layout.ScopeBits = 0
	tbl, err := New(layout, 4)
	require.NoError(t, err)

	tbl.WriteSlot(0, 0, Slot{Tag: 1, Size: 2, Clock: 3, Scope: 9})
	got := tbl.ReadSlot(0, 0)
	assert.Equal(t, uint64(0), got.Scope, "scope field absent, reads as zero")
	assert.Equal(t, uint64(1), got.Tag)

	tbl.WriteScope(0, 0, 5)
	assert.Equal(t, uint64(0), tbl.ReadScope(0, 0))
}

func TestMemoryBits(t *testing.T) {
	tbl, err := New(testLayout(), 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(16*4*24), tbl.MemoryBits())
}

// TestLockPairOrdering drives many concurrent pair acquisitions over a small
// stripe set; a violation of the ascending-order rule would deadlock the test.
func TestLockPairOrdering(t *testing.T) {
	tbl, err := New(testLayout(), 4)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			for i := uint64(0); i < 2000; i++ {
				b1 := (seed + i) % tbl.NumBuckets()
				b2 := (seed * 7 * (i + 1)) % tbl.NumBuckets()
				tbl.LockPair(b1, b2)
				tbl.WriteClock(b1, 0, i%4)
				tbl.WriteClock(b2, 0, i%4)
				tbl.UnlockPair(b1, b2)
			}
		}(uint64(g))
	}
	wg.Wait()
}

func TestLockSameStripePair(t *testing.T) {
	tbl, err := New(testLayout(), 4)
	require.NoError(t, err)

	// Buckets 1 and 5 share stripe 1 with four stripes; a double acquisition
	// of the same mutex would self-deadlock.
	tbl.LockPair(1, 5)
	tbl.UnlockPair(1, 5)

	tbl.LockPair(2, 2)
	tbl.UnlockPair(2, 2)
}
