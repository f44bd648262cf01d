package ccf

import (
	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"
)

// hashFunc is the 64-bit key hash resolved at construction.
type hashFunc func(key []byte) uint64

func resolveHash(name HashFunction) hashFunc {
	switch name {
	case HashXXH3:
		return xxh3.Hash
	default:
		return xxhash.Sum64
	}
}

// index derives the fingerprint and primary bucket from one 64-bit hash: the
// low bucket-index bits give the primary bucket, the next TagBits give the
// raw tag. A raw tag of zero is promoted to one; zero marks an empty slot.
func (f *Filter) index(key []byte) (tag, i1 uint64) {
	h := f.hash(key)
	i1 = h & f.bucketMask
	tag = (h >> f.bucketIndexBits) & f.tagMask
	if tag == 0 {
		tag = 1
	}
	return tag, i1
}

// altIndex returns the other candidate bucket for a tag. The tag is pushed
// through an integer mix before XOR so displaced entries spread over the
// whole table; because the bucket count is a power of two, the mapping is an
// involution: altIndex(altIndex(i, t), t) == i.
func (f *Filter) altIndex(i, tag uint64) uint64 {
	h := tag
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return (i ^ h) & f.bucketMask
}
