package ccf

import (
	"sync/atomic"
	"time"
)

// fastrand is a tiny splitmix-style generator used for victim selection in
// the displacement loop. The state is a single atomic counter, so concurrent
// callers draw from one shared sequence without locking.
type fastrand struct {
	state uint64
}

func newFastrand() *fastrand {
	return &fastrand{state: 0x49f6428a + uint64(time.Now().UnixNano())}
}

func (r *fastrand) next() uint64 {
	x := atomic.AddUint64(&r.state, 0x9e3779b97f4a7c15)
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
