package usage

import (
	"math/bits"
	"sync/atomic"
)

const (
	// Granularity is the rounding step of exact size classes.
	Granularity = 16

	// ExactLimit is the largest size with its own exact class.
	ExactLimit = 4096

	exactClasses = ExactLimit / Granularity
	logBase      = 13 // first power-of-two class covers (4096, 8192]
	logClasses   = 64 - logBase + 1

	// Classes is the total number of histogram buckets.
	Classes = exactClasses + logClasses
)

// ClassOf maps a requested size to its histogram bucket.
// Sizes up to ExactLimit are rounded up to Granularity; larger ones
// fall into power-of-two buckets.
func ClassOf(size uint64) int {
	if size <= Granularity {
		return 0
	}
	if size <= ExactLimit {
		return int((size+Granularity-1)/Granularity) - 1
	}
	return exactClasses + bits.Len64(size-1) - logBase
}

// ClassSize returns the representative (largest) size of a bucket.
// ClassOf(ClassSize(c)) == c for every class but the last.
func ClassSize(class int) uint64 {
	if class < exactClasses {
		return uint64(class+1) * Granularity
	}
	shift := class - exactClasses + logBase
	if shift >= 64 {
		return 1 << 63
	}
	return 1 << shift
}

// Histogram counts allocation requests per size class.
// Record is called under the pool guard; counters are atomic so
// readers never need it.
type Histogram struct {
	counts [Classes]atomic.Uint64
}

func NewHistogram() *Histogram {
	return &Histogram{}
}

// Record counts one allocation request of the given size.
func (h *Histogram) Record(size uint64) {
	h.counts[ClassOf(size)].Add(1)
}

// Count returns the number of requests recorded for a class.
func (h *Histogram) Count(class int) uint64 {
	if class < 0 || class >= Classes {
		return 0
	}
	return h.counts[class].Load()
}

// Total returns the number of requests recorded across all classes.
func (h *Histogram) Total() uint64 {
	var n uint64
	for i := range h.counts {
		n += h.counts[i].Load()
	}
	return n
}

// Pattern returns the non-empty buckets ordered by size.
func (h *Histogram) Pattern() Pattern {
	var p Pattern
	for i := range h.counts {
		if n := h.counts[i].Load(); n > 0 {
			p = append(p, Entry{Size: ClassSize(i), Count: n})
		}
	}
	return p
}

// Each calls fn for every non-empty bucket in size order.
func (h *Histogram) Each(fn func(class int, size, count uint64)) {
	for i := range h.counts {
		if n := h.counts[i].Load(); n > 0 {
			fn(i, ClassSize(i), n)
		}
	}
}
