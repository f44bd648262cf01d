package ccf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero buckets", func(c *Config) { c.NumBuckets = 0 }},
		{"non-power-of-two buckets", func(c *Config) { c.NumBuckets = 12 }},
		{"non-power-of-two locks", func(c *Config) { c.LockNumber = 6 }},
		{"zero tag bits", func(c *Config) { c.TagBits = 0 }},
		{"zero size bits", func(c *Config) { c.SizeBits = 0 }},
		{"zero clock bits", func(c *Config) { c.ClockBits = 0 }},
		{"zero tags per bucket", func(c *Config) { c.TagsPerBucket = 0 }},
		{"zero window", func(c *Config) { c.WindowSize = 0 }},
		{"zero kicks", func(c *Config) { c.MaxKicks = 0 }},
		{"unknown encoding", func(c *Config) { c.SizeEncode = "exponential" }},
		{"unknown hash", func(c *Config) { c.HashFunction = "fnv" }},
		{"quantized size space too wide", func(c *Config) {
			c.SizeEncode = SizeEncodeBucket
			c.SizeBits = 20
			c.SizeBucketBits = 20
		}},
		{"scopes without scope bits", func(c *Config) { c.ScopeBits = 0; c.NumScope = 4 }},
		{"scope bits without scopes", func(c *Config) { c.ScopeBits = 2; c.NumScope = 1 }},
		{"scope overflow", func(c *Config) { c.ScopeBits = 1; c.NumScope = 3 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			assert.Error(t, err)
			assert.ErrorContains(t, err, "ccf config failed")
		})
	}
}

func TestAgingStride(t *testing.T) {
	cfg := DefaultConfig()

	cfg.WindowSize = 4
	cfg.ClockBits = 1
	assert.Equal(t, uint64(4), cfg.AgingStride())

	cfg.WindowSize = 100
	cfg.ClockBits = 2
	assert.Equal(t, uint64(33), cfg.AgingStride())

	// A window shorter than the clock range still ages every reference.
	cfg.WindowSize = 2
	cfg.ClockBits = 3
	assert.Equal(t, uint64(1), cfg.AgingStride())
}

func TestCapacityAndMemory(t *testing.T) {
	cfg := &Config{
		TagsPerBucket:  4,
		NumBuckets:     16,
		LockNumber:     4,
		TagBits:        8,
		SizeBits:       4,
		ClockBits:      2,
		SizeEncode:     SizeEncodeLinear,
		WindowSize:     64,
		MaxKicks:       500,
	}
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, uint64(64), cfg.Capacity())
	assert.Equal(t, uint64(64*(8+4+2)), cfg.MemoryBits())
}
