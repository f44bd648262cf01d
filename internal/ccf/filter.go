package ccf

import (
	"sync/atomic"

	"cuki/internal/table"
)

// PutOutcome describes how a Put landed in the table.
type PutOutcome int

const (
	// Refreshed means the key's tag was already present; its size and clock
	// were updated in place.
	Refreshed PutOutcome = iota
	// Inserted means the record filled a free slot in one of the two
	// candidate buckets.
	Inserted
	// Displaced means the record was placed by a successful cuckoo
	// displacement chain.
	Displaced
	// Dropped means the displacement chain exhausted its kick budget and the
	// last evicted record was discarded. The running sum is adjusted; this is
	// the graceful-degradation path, not an error.
	Dropped
)

func (o PutOutcome) String() string {
	switch o {
	case Refreshed:
		return "refreshed"
	case Inserted:
		return "inserted"
	case Displaced:
		return "displaced"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Filter is a concurrent clock-based counting cuckoo filter. Multiple
// goroutines may call Put, SizeOf and WSS concurrently; mutual exclusion is
// per bucket through the underlying table's lock stripes.
type Filter struct {
	cfg  Config
	tbl  *table.Table
	hash hashFunc
	rng  *fastrand

	bucketMask      uint64
	bucketIndexBits uint64
	tagMask         uint64
	clockMax        uint64
	sizeMax         uint64
	sizeQuantum     uint64 // bucket encoding only

	// Running sums, maintained incrementally on every slot create, destroy
	// and refresh. Updated with atomic add/sub only.
	wssBytes uint64
	scopeWSS []uint64

	// Statistics.
	occupied      uint64
	puts          uint64
	refreshes     uint64
	inserts       uint64
	displacements uint64
	drops         uint64
	kicks         uint64
	maxKickChain  uint32
	agedOut       uint64
	reconciles    uint64
	sweeps        uint64
}

// New constructs a filter from the configuration. The table is sized once
// here; there is no dynamic growth.
func New(cfg *Config) (*Filter, error) {
	if cfg == nil {
		return nil, ErrConfigInvalid
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	layout := table.Layout{
		TagBits:       cfg.TagBits,
		SizeBits:      cfg.SizeBits,
		ClockBits:     cfg.ClockBits,
		ScopeBits:     cfg.ScopeBits,
		TagsPerBucket: cfg.TagsPerBucket,
		NumBuckets:    cfg.NumBuckets,
	}
	tbl, err := table.New(layout, cfg.LockNumber)
	if err != nil {
		return nil, &FilterError{Operation: "create", Message: "table construction failed", Cause: err}
	}

	numScope := cfg.NumScope
	if numScope == 0 {
		numScope = 1
	}

	f := &Filter{
		cfg:             *cfg,
		tbl:             tbl,
		hash:            resolveHash(cfg.HashFunction),
		rng:             newFastrand(),
		bucketMask:      cfg.NumBuckets - 1,
		bucketIndexBits: cfg.bucketIndexBits(),
		tagMask:         uint64(1)<<cfg.TagBits - 1,
		clockMax:        uint64(1)<<cfg.ClockBits - 1,
		sizeMax:         uint64(1)<<cfg.SizeBits - 1,
		sizeQuantum:     uint64(1) << cfg.SizeBucketBits,
		scopeWSS:        make([]uint64, numScope),
	}
	return f, nil
}

// Config returns a copy of the filter's resolved configuration.
func (f *Filter) Config() Config {
	return f.cfg
}

// Capacity returns the total slot count.
func (f *Filter) Capacity() uint64 {
	return f.cfg.Capacity()
}

// encodeSize maps a byte count into the slot's size field.
func (f *Filter) encodeSize(size uint64) uint64 {
	if f.cfg.SizeEncode == SizeEncodeBucket {
		enc := (size + f.sizeQuantum - 1) >> f.cfg.SizeBucketBits
		if enc > f.sizeMax {
			enc = f.sizeMax
		}
		return enc
	}
	if size > f.sizeMax {
		return f.sizeMax
	}
	return size
}

// decodeSize maps a live slot's size field back to bytes. Under bucket
// encoding a live slot never decodes to zero.
func (f *Filter) decodeSize(enc uint64) uint64 {
	if f.cfg.SizeEncode == SizeEncodeBucket {
		if enc == 0 {
			enc = 1
		}
		return enc << f.cfg.SizeBucketBits
	}
	return enc
}

func (f *Filter) scopeIndex(scope uint64) uint64 {
	if scope >= uint64(len(f.scopeWSS)) {
		return 0
	}
	return scope
}

func (f *Filter) wssAdd(delta, scope uint64) {
	if delta == 0 {
		return
	}
	atomic.AddUint64(&f.wssBytes, delta)
	atomic.AddUint64(&f.scopeWSS[f.scopeIndex(scope)], delta)
}

func (f *Filter) wssSub(delta, scope uint64) {
	if delta == 0 {
		return
	}
	// Two's-complement subtract on the unsigned counters.
	atomic.AddUint64(&f.wssBytes, ^(delta - 1))
	atomic.AddUint64(&f.scopeWSS[f.scopeIndex(scope)], ^(delta - 1))
}

// Put records an access of key with the given byte size.
func (f *Filter) Put(key []byte, size uint64) PutOutcome {
	return f.PutScoped(key, size, 0)
}

// PutScoped records an access attributed to a scope. Scope indexes beyond the
// configured scope count fold into scope 0.
func (f *Filter) PutScoped(key []byte, size, scope uint64) PutOutcome {
	atomic.AddUint64(&f.puts, 1)
	scope = f.scopeIndex(scope)
	tag, i1 := f.index(key)
	i2 := f.altIndex(i1, tag)
	enc := f.encodeSize(size)

	if f.cfg.OpportunisticAging {
		return f.putOpportunistic(tag, i1, i2, enc, scope)
	}

	if out, ok := f.tryBucket(i1, tag, enc, scope); ok {
		return out
	}
	if out, ok := f.tryBucket(i2, tag, enc, scope); ok {
		return out
	}
	return f.displace(tag, i1, i2, enc, scope)
}

// tryBucket attempts a refresh or a free-slot insert in one bucket, under
// that bucket's lock.
func (f *Filter) tryBucket(b, tag, enc, scope uint64) (PutOutcome, bool) {
	f.tbl.Lock(b)

	freeSlot := int64(-1)
	for s := uint64(0); s < f.cfg.TagsPerBucket; s++ {
		stored := f.tbl.ReadTag(b, s)
		if stored == tag {
			f.refreshLocked(b, s, enc)
			f.tbl.Unlock(b)
			atomic.AddUint64(&f.refreshes, 1)
			return Refreshed, true
		}
		if stored == 0 && freeSlot < 0 {
			freeSlot = int64(s)
		}
	}

	if freeSlot >= 0 {
		f.tbl.WriteSlot(b, uint64(freeSlot), table.Slot{Tag: tag, Size: enc, Clock: f.clockMax, Scope: scope})
		f.tbl.Unlock(b)
		f.wssAdd(f.decodeSize(enc), scope)
		atomic.AddUint64(&f.occupied, 1)
		atomic.AddUint64(&f.inserts, 1)
		return Inserted, true
	}

	f.tbl.Unlock(b)
	return 0, false
}

// refreshLocked re-raises a matched slot's clock and grows its size to the
// larger of the stored and incoming values. Caller holds the bucket lock.
func (f *Filter) refreshLocked(b, s, enc uint64) {
	old := f.tbl.ReadSize(b, s)
	if enc > old {
		f.tbl.WriteSize(b, s, enc)
		f.wssAdd(f.decodeSize(enc)-f.decodeSize(old), f.tbl.ReadScope(b, s))
	}
	f.tbl.WriteClock(b, s, f.clockMax)
}

// putOpportunistic is the Put path when opportunistic aging is on: both
// candidate buckets are held together, their resident clocks are decremented
// first, then the usual refresh / insert / displace sequence runs.
func (f *Filter) putOpportunistic(tag, i1, i2, enc, scope uint64) PutOutcome {
	f.tbl.LockPair(i1, i2)

	f.decayBucketLocked(i1, tag)
	if i2 != i1 {
		f.decayBucketLocked(i2, tag)
	}

	candidates := [2]uint64{i1, i2}
	ncand := 2
	if i1 == i2 {
		ncand = 1
	}

	for _, b := range candidates[:ncand] {
		for s := uint64(0); s < f.cfg.TagsPerBucket; s++ {
			if f.tbl.ReadTag(b, s) == tag {
				f.refreshLocked(b, s, enc)
				f.tbl.UnlockPair(i1, i2)
				atomic.AddUint64(&f.refreshes, 1)
				return Refreshed
			}
		}
	}

	for _, b := range candidates[:ncand] {
		if s, ok := f.findFreeLocked(b); ok {
			f.tbl.WriteSlot(b, s, table.Slot{Tag: tag, Size: enc, Clock: f.clockMax, Scope: scope})
			f.tbl.UnlockPair(i1, i2)
			f.wssAdd(f.decodeSize(enc), scope)
			atomic.AddUint64(&f.occupied, 1)
			atomic.AddUint64(&f.inserts, 1)
			return Inserted
		}
	}

	f.tbl.UnlockPair(i1, i2)
	return f.displace(tag, i1, i2, enc, scope)
}

// decayBucketLocked decrements the clock of every live slot in the bucket,
// clearing slots that reach zero. Slots holding skipTag are exempt; the
// incoming key refreshes its own clock immediately afterwards anyway. Caller
// holds the bucket lock.
func (f *Filter) decayBucketLocked(b, skipTag uint64) {
	for s := uint64(0); s < f.cfg.TagsPerBucket; s++ {
		tag := f.tbl.ReadTag(b, s)
		if tag == 0 || tag == skipTag {
			continue
		}
		clock := f.tbl.ReadClock(b, s)
		if clock <= 1 {
			f.clearSlotLocked(b, s)
			continue
		}
		f.tbl.WriteClock(b, s, clock-1)
	}
}

// clearSlotLocked frees a live slot, counting its size out of the running
// sums. Caller holds the bucket lock.
func (f *Filter) clearSlotLocked(b, s uint64) {
	size := f.tbl.ReadSize(b, s)
	scope := f.tbl.ReadScope(b, s)
	f.tbl.ClearSlot(b, s)
	f.wssSub(f.decodeSize(size), scope)
	atomic.AddUint64(&f.occupied, ^uint64(0))
	atomic.AddUint64(&f.agedOut, 1)
}

func (f *Filter) findFreeLocked(b uint64) (uint64, bool) {
	for s := uint64(0); s < f.cfg.TagsPerBucket; s++ {
		if f.tbl.ReadTag(b, s) == 0 {
			return s, true
		}
	}
	return 0, false
}

// findDyingLocked returns a live slot whose clock is 1, i.e. the next slot
// the window would expire. Used by opportunistic aging to reclaim in place
// instead of kicking.
func (f *Filter) findDyingLocked(b uint64) (uint64, bool) {
	for s := uint64(0); s < f.cfg.TagsPerBucket; s++ {
		if f.tbl.ReadTag(b, s) != 0 && f.tbl.ReadClock(b, s) == 1 {
			return s, true
		}
	}
	return 0, false
}

// displace runs the bounded cuckoo loop. The in-flight record travels on the
// stack; each step swaps it into a victim slot and tries to re-place the
// victim in its alternate bucket. Both buckets of a swap are held together,
// acquired in ascending stripe order.
func (f *Filter) displace(tag, i1, i2, enc, scope uint64) PutOutcome {
	inflight := table.Slot{Tag: tag, Size: enc, Clock: f.clockMax, Scope: scope}

	// The record is logically part of the working set from here on; if the
	// chain exhausts, whatever record is then in flight is counted back out.
	f.wssAdd(f.decodeSize(enc), scope)
	atomic.AddUint64(&f.occupied, 1)

	cur := i1
	if f.rng.next()&1 == 1 {
		cur = i2
	}

	for kick := uint32(0); kick < f.cfg.MaxKicks; kick++ {
		atomic.AddUint64(&f.kicks, 1)

		victim := f.rng.next() % f.cfg.TagsPerBucket
		vtag := f.tbl.ReadTag(cur, victim) // unlocked peek, validated under lock below

		if vtag == 0 {
			// A slot freed up since the bucket was last scanned.
			f.tbl.Lock(cur)
			if f.tbl.ReadTag(cur, victim) == 0 {
				f.tbl.WriteSlot(cur, victim, inflight)
				f.tbl.Unlock(cur)
				f.finishDisplace(kick)
				return Displaced
			}
			f.tbl.Unlock(cur)
			continue
		}

		valt := f.altIndex(cur, vtag)
		f.tbl.LockPair(cur, valt)

		if f.tbl.ReadTag(cur, victim) != vtag {
			// Victim changed while unlocked; its alternate bucket no longer
			// matches the lock we hold.
			f.tbl.UnlockPair(cur, valt)
			continue
		}

		if f.cfg.OpportunisticAging {
			if s, ok := f.findDyingLocked(cur); ok {
				f.clearSlotLocked(cur, s)
				f.tbl.WriteSlot(cur, s, inflight)
				f.tbl.UnlockPair(cur, valt)
				f.finishDisplace(kick)
				return Displaced
			}
		}

		evicted := f.tbl.ReadSlot(cur, victim)
		f.tbl.WriteSlot(cur, victim, inflight)

		if s, ok := f.findFreeLocked(valt); ok {
			f.tbl.WriteSlot(valt, s, evicted)
			f.tbl.UnlockPair(cur, valt)
			f.finishDisplace(kick + 1)
			return Displaced
		}

		f.tbl.UnlockPair(cur, valt)
		inflight = evicted
		cur = valt
	}

	// Kick budget exhausted: drop the record currently in flight.
	f.wssSub(f.decodeSize(inflight.Size), inflight.Scope)
	atomic.AddUint64(&f.occupied, ^uint64(0))
	atomic.AddUint64(&f.drops, 1)
	return Dropped
}

func (f *Filter) finishDisplace(chain uint32) {
	atomic.AddUint64(&f.displacements, 1)
	for {
		prev := atomic.LoadUint32(&f.maxKickChain)
		if chain <= prev || atomic.CompareAndSwapUint32(&f.maxKickChain, prev, chain) {
			return
		}
	}
}

// SizeOf returns the decoded byte size attributed to key, if present. The
// two candidate buckets are checked one at a time under their locks.
func (f *Filter) SizeOf(key []byte) (uint64, bool) {
	tag, i1 := f.index(key)
	i2 := f.altIndex(i1, tag)

	for _, b := range [2]uint64{i1, i2} {
		f.tbl.Lock(b)
		for s := uint64(0); s < f.cfg.TagsPerBucket; s++ {
			if f.tbl.ReadTag(b, s) == tag {
				size := f.decodeSize(f.tbl.ReadSize(b, s))
				f.tbl.Unlock(b)
				return size, true
			}
		}
		f.tbl.Unlock(b)
		if i2 == i1 {
			break
		}
	}
	return 0, false
}

// WSS returns the running sum of decoded sizes over all live slots.
func (f *Filter) WSS() uint64 {
	return atomic.LoadUint64(&f.wssBytes)
}

// ScopeWSS returns the running sum attributed to one scope.
func (f *Filter) ScopeWSS(scope uint64) uint64 {
	return atomic.LoadUint64(&f.scopeWSS[f.scopeIndex(scope)])
}

// Age performs one window-driven aging sweep: every live slot's clock is
// decremented by one, and slots reaching zero are freed. The sweep holds one
// bucket lock at a time, so writers are only ever delayed by one bucket's
// worth of work. The caller (the estimator) invokes Age every AgingStride
// references, which yields 2^ClockBits-1 sweeps per window: an un-refreshed
// entry expires approximately one window after its last touch.
func (f *Filter) Age() {
	for b := uint64(0); b < f.cfg.NumBuckets; b++ {
		f.tbl.Lock(b)
		for s := uint64(0); s < f.cfg.TagsPerBucket; s++ {
			if f.tbl.ReadTag(b, s) == 0 {
				continue
			}
			clock := f.tbl.ReadClock(b, s)
			if clock <= 1 {
				f.clearSlotLocked(b, s)
				continue
			}
			f.tbl.WriteClock(b, s, clock-1)
		}
		f.tbl.Unlock(b)
	}
	atomic.AddUint64(&f.sweeps, 1)
}

// Reconcile recomputes the running sums from the live slots, replacing the
// incrementally maintained values. Concurrent puts of the same new key can
// each insert a slot (at most one per candidate bucket); such duplicates are
// counted once here, keyed on the lower-indexed bucket of the pair.
// Concurrent writers may race individual buckets during the walk; the result
// bounds drift rather than being exact at an instant.
func (f *Filter) Reconcile() uint64 {
	var total uint64
	var occupied uint64
	scopes := make([]uint64, len(f.scopeWSS))

	for b := uint64(0); b < f.cfg.NumBuckets; b++ {
		f.tbl.Lock(b)
		for s := uint64(0); s < f.cfg.TagsPerBucket; s++ {
			tag := f.tbl.ReadTag(b, s)
			if tag == 0 {
				continue
			}
			occupied++
			if f.duplicateOfEarlier(b, s, tag) {
				continue
			}
			size := f.decodeSize(f.tbl.ReadSize(b, s))
			total += size
			scopes[f.scopeIndex(f.tbl.ReadScope(b, s))] += size
		}
		f.tbl.Unlock(b)
	}

	atomic.StoreUint64(&f.wssBytes, total)
	atomic.StoreUint64(&f.occupied, occupied)
	for i := range scopes {
		atomic.StoreUint64(&f.scopeWSS[i], scopes[i])
	}
	atomic.AddUint64(&f.reconciles, 1)
	return total
}

// duplicateOfEarlier reports whether the live slot (b, s) holding tag repeats
// an occurrence that the reconciliation walk has already counted: an earlier
// slot of the same bucket, or any slot of the pair's lower-indexed bucket.
// The alternate bucket is read without its lock; reconciliation tolerates the
// races it loses.
func (f *Filter) duplicateOfEarlier(b, s, tag uint64) bool {
	for s2 := uint64(0); s2 < s; s2++ {
		if f.tbl.ReadTag(b, s2) == tag {
			return true
		}
	}
	alt := f.altIndex(b, tag)
	if alt >= b {
		return false
	}
	for s2 := uint64(0); s2 < f.cfg.TagsPerBucket; s2++ {
		if f.tbl.ReadTag(alt, s2) == tag {
			return true
		}
	}
	return false
}

// Stats is a point-in-time snapshot of the filter's counters.
type Stats struct {
	Occupied      uint64  `json:"occupied"`
	Capacity      uint64  `json:"capacity"`
	LoadFactor    float64 `json:"load_factor"`
	WSSBytes      uint64  `json:"wss_bytes"`
	Puts          uint64  `json:"puts"`
	Refreshes     uint64  `json:"refreshes"`
	Inserts       uint64  `json:"inserts"`
	Displacements uint64  `json:"displacements"`
	Drops         uint64  `json:"drops"`
	Kicks         uint64  `json:"kicks"`
	MaxKickChain  uint32  `json:"max_kick_chain"`
	AgedOut       uint64  `json:"aged_out"`
	Sweeps        uint64  `json:"sweeps"`
	Reconciles    uint64  `json:"reconciles"`
}

// Stats returns a snapshot of the filter's counters.
func (f *Filter) Stats() Stats {
	occupied := atomic.LoadUint64(&f.occupied)
	capacity := f.Capacity()
	return Stats{
		Occupied:      occupied,
		Capacity:      capacity,
		LoadFactor:    float64(occupied) / float64(capacity),
		WSSBytes:      atomic.LoadUint64(&f.wssBytes),
		Puts:          atomic.LoadUint64(&f.puts),
		Refreshes:     atomic.LoadUint64(&f.refreshes),
		Inserts:       atomic.LoadUint64(&f.inserts),
		Displacements: atomic.LoadUint64(&f.displacements),
		Drops:         atomic.LoadUint64(&f.drops),
		Kicks:         atomic.LoadUint64(&f.kicks),
		MaxKickChain:  atomic.LoadUint32(&f.maxKickChain),
		AgedOut:       atomic.LoadUint64(&f.agedOut),
		Sweeps:        atomic.LoadUint64(&f.sweeps),
		Reconciles:    atomic.LoadUint64(&f.reconciles),
	}
}
