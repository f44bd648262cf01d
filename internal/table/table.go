// Package table implements the bucketed slot table that backs the clock
// cuckoo filter. Slots are fixed-width packed records stored in a bit vector;
// buckets group a small number of slots and are the unit of mutual exclusion.
//
// Mutual exclusion uses a stripe of mutexes indexed by bucket. Operations that
// must hold two buckets acquire their stripes in ascending index order, which
// keeps concurrent two-bucket operations deadlock free.
package table

import (
	"fmt"
	"sync"

	"cuki/internal/bitvec"
)

// Layout describes the packed slot format and table geometry. Field widths
// are in bits; a slot packs tag, size, clock and scope contiguously, in that
// order.
type Layout struct {
	TagBits       uint64
	SizeBits      uint64
	ClockBits     uint64
	ScopeBits     uint64 // 0 disables the scope field
	TagsPerBucket uint64
	NumBuckets    uint64 // must be a power of two
}

// SlotBits returns the packed width of one slot.
func (l Layout) SlotBits() uint64 {
	return l.TagBits + l.SizeBits + l.ClockBits + l.ScopeBits
}

// Validate reports whether the layout is usable.
func (l Layout) Validate() error {
	if l.TagBits == 0 || l.TagBits > 32 {
		return fmt.Errorf("tag width must be in [1, 32], got %d", l.TagBits)
	}
	if l.SizeBits == 0 || l.SizeBits > 32 {
		return fmt.Errorf("size width must be in [1, 32], got %d", l.SizeBits)
	}
	if l.ClockBits == 0 || l.ClockBits > 8 {
		return fmt.Errorf("clock width must be in [1, 8], got %d", l.ClockBits)
	}
	if l.ScopeBits > 8 {
		return fmt.Errorf("scope width must be at most 8, got %d", l.ScopeBits)
	}
	if l.TagsPerBucket == 0 {
		return fmt.Errorf("tags per bucket must be at least 1")
	}
	if l.NumBuckets == 0 || l.NumBuckets&(l.NumBuckets-1) != 0 {
		return fmt.Errorf("bucket count must be a power of two, got %d", l.NumBuckets)
	}
	return nil
}

// Slot is the decoded view of one packed slot. A zero Tag marks a free slot;
// the remaining fields of a free slot carry no meaning.
type Slot struct {
	Tag   uint64
	Size  uint64
	Clock uint64
	Scope uint64
}

// Empty reports whether the slot is free.
func (s Slot) Empty() bool {
	return s.Tag == 0
}

// Table is a 2-D array of packed slots with per-bucket striped locking.
type Table struct {
	layout Layout
	bits   *bitvec.Vector

	stripes    []sync.Mutex
	stripeMask uint64

	// Precomputed field offsets within a slot.
	sizeOff  uint64
	clockOff uint64
	scopeOff uint64
	slotBits uint64
}

// New creates a zeroed table for the given layout with lockNumber stripe
// mutexes. lockNumber must be a power of two.
func New(layout Layout, lockNumber uint64) (*Table, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if lockNumber == 0 || lockNumber&(lockNumber-1) != 0 {
		return nil, fmt.Errorf("lock stripe count must be a power of two, got %d", lockNumber)
	}

	slotBits := layout.SlotBits()
	t := &Table{
		layout:     layout,
		bits:       bitvec.New(layout.NumBuckets * layout.TagsPerBucket * slotBits),
		stripes:    make([]sync.Mutex, lockNumber),
		stripeMask: lockNumber - 1,
		sizeOff:    layout.TagBits,
		clockOff:   layout.TagBits + layout.SizeBits,
		scopeOff:   layout.TagBits + layout.SizeBits + layout.ClockBits,
		slotBits:   slotBits,
	}
	return t, nil
}

// Layout returns the table's slot layout.
func (t *Table) Layout() Layout {
	return t.layout
}

// NumBuckets returns the bucket count.
func (t *Table) NumBuckets() uint64 {
	return t.layout.NumBuckets
}

// TagsPerBucket returns the slot count per bucket.
func (t *Table) TagsPerBucket() uint64 {
	return t.layout.TagsPerBucket
}

// MemoryBits returns the total packed storage in bits.
func (t *Table) MemoryBits() uint64 {
	return t.bits.Len()
}

func (t *Table) slotOffset(bucket, slot uint64) uint64 {
	return (bucket*t.layout.TagsPerBucket + slot) * t.slotBits
}

// ReadSlot returns the decoded slot at (bucket, slot).
func (t *Table) ReadSlot(bucket, slot uint64) Slot {
	off := t.slotOffset(bucket, slot)
	s := Slot{
		Tag:   t.bits.Get(off, t.layout.TagBits),
		Size:  t.bits.Get(off+t.sizeOff, t.layout.SizeBits),
		Clock: t.bits.Get(off+t.clockOff, t.layout.ClockBits),
	}
	if t.layout.ScopeBits > 0 {
		s.Scope = t.bits.Get(off+t.scopeOff, t.layout.ScopeBits)
	}
	return s
}

// WriteSlot stores the decoded slot at (bucket, slot).
func (t *Table) WriteSlot(bucket, slot uint64, s Slot) {
	off := t.slotOffset(bucket, slot)
	t.bits.Set(off, t.layout.TagBits, s.Tag)
	t.bits.Set(off+t.sizeOff, t.layout.SizeBits, s.Size)
	t.bits.Set(off+t.clockOff, t.layout.ClockBits, s.Clock)
	if t.layout.ScopeBits > 0 {
		t.bits.Set(off+t.scopeOff, t.layout.ScopeBits, s.Scope)
	}
}

// ClearSlot frees the slot at (bucket, slot), zeroing every field.
func (t *Table) ClearSlot(bucket, slot uint64) {
	t.bits.ClearRange(t.slotOffset(bucket, slot), t.slotBits)
}

// ReadTag returns just the tag field. This is the membership-scan hot path.
func (t *Table) ReadTag(bucket, slot uint64) uint64 {
	return t.bits.Get(t.slotOffset(bucket, slot), t.layout.TagBits)
}

// WriteTag stores just the tag field.
func (t *Table) WriteTag(bucket, slot, tag uint64) {
	t.bits.Set(t.slotOffset(bucket, slot), t.layout.TagBits, tag)
}

// ReadSize returns the encoded size field.
func (t *Table) ReadSize(bucket, slot uint64) uint64 {
	return t.bits.Get(t.slotOffset(bucket, slot)+t.sizeOff, t.layout.SizeBits)
}

// WriteSize stores the encoded size field.
func (t *Table) WriteSize(bucket, slot, size uint64) {
	t.bits.Set(t.slotOffset(bucket, slot)+t.sizeOff, t.layout.SizeBits, size)
}

// ReadClock returns the clock field.
func (t *Table) ReadClock(bucket, slot uint64) uint64 {
	return t.bits.Get(t.slotOffset(bucket, slot)+t.clockOff, t.layout.ClockBits)
}

// WriteClock stores the clock field.
func (t *Table) WriteClock(bucket, slot, clock uint64) {
	t.bits.Set(t.slotOffset(bucket, slot)+t.clockOff, t.layout.ClockBits, clock)
}

// ReadScope returns the scope field. Zero when the layout has no scope field.
func (t *Table) ReadScope(bucket, slot uint64) uint64 {
	if t.layout.ScopeBits == 0 {
		return 0
	}
	return t.bits.Get(t.slotOffset(bucket, slot)+t.scopeOff, t.layout.ScopeBits)
}

// WriteScope stores the scope field. No-op when the layout has no scope field.
func (t *Table) WriteScope(bucket, slot, scope uint64) {
	if t.layout.ScopeBits == 0 {
		return
	}
	t.bits.Set(t.slotOffset(bucket, slot)+t.scopeOff, t.layout.ScopeBits, scope)
}

// Lock acquires the stripe mutex covering bucket.
func (t *Table) Lock(bucket uint64) {
	t.stripes[bucket&t.stripeMask].Lock()
}

// Unlock releases the stripe mutex covering bucket.
func (t *Table) Unlock(bucket uint64) {
	t.stripes[bucket&t.stripeMask].Unlock()
}

// LockPair acquires the stripes covering both buckets in ascending stripe
// order. When both buckets map to the same stripe a single acquisition is
// performed.
func (t *Table) LockPair(b1, b2 uint64) {
	s1, s2 := b1&t.stripeMask, b2&t.stripeMask
	switch {
	case s1 == s2:
		t.stripes[s1].Lock()
	case s1 < s2:
		t.stripes[s1].Lock()
		t.stripes[s2].Lock()
	default:
		t.stripes[s2].Lock()
		t.stripes[s1].Lock()
	}
}

// UnlockPair releases the stripes acquired by LockPair.
func (t *Table) UnlockPair(b1, b2 uint64) {
	s1, s2 := b1&t.stripeMask, b2&t.stripeMask
	if s1 == s2 {
		t.stripes[s1].Unlock()
		return
	}
	t.stripes[s1].Unlock()
	t.stripes[s2].Unlock()
}
