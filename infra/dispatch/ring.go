package dispatch

import (
	"sync/atomic"

	"shmpool/domain/threshold"
)

// Ring is a lock-free SPSC ring buffer of events.
type Ring struct {
	head  uint64
	_pad1 [56]byte
	tail  uint64
	_pad2 [56]byte
	buf   []threshold.Event
	mask  uint64
}

func NewRing(size uint64) *Ring {
	if size == 0 || size&(size-1) != 0 {
		panic("dispatch: ring size must be a power of two")
	}
	return &Ring{
		buf:  make([]threshold.Event, size),
		mask: size - 1,
	}
}

// Enqueue is called by the producer only. It reports false when full.
func (r *Ring) Enqueue(ev threshold.Event) bool {
	h := atomic.LoadUint64(&r.head)
	t := atomic.LoadUint64(&r.tail)
	if h-t == uint64(len(r.buf)) {
		return false
	}
	r.buf[h&r.mask] = ev
	atomic.StoreUint64(&r.head, h+1)
	return true
}

// Dequeue is called by the consumer only.
func (r *Ring) Dequeue() (threshold.Event, bool) {
	t := atomic.LoadUint64(&r.tail)
	h := atomic.LoadUint64(&r.head)
	if t == h {
		return threshold.Event{}, false
	}
	ev := r.buf[t&r.mask]
	r.buf[t&r.mask] = threshold.Event{}
	atomic.StoreUint64(&r.tail, t+1)
	return ev, true
}

// Len is the number of queued events.
func (r *Ring) Len() int {
	return int(atomic.LoadUint64(&r.head) - atomic.LoadUint64(&r.tail))
}
