package alloc

import (
	"sync/atomic"
	"unsafe"
)

// Ptr is the offset of a block payload from the region base.
type Ptr uint64

// Nil is the null Ptr.
const Nil Ptr = 0

const (
	poolMagic   = 0x53484d504f4f4c31 // "SHMPOOL1"
	poolVersion = 1

	// pool header word offsets
	phMagic     = 0
	phVersion   = 8 // uint32 version, uint32 shards
	phShards    = 12
	phSize      = 16
	phUsed      = 24
	phMaxUsed   = 32
	phQuickMax  = 40
	phThrLast   = 48
	phThrPend   = 56 // uint32 pending, uint32 above
	phThrAbove  = 60
	phGroups    = 64
	phLockWords = 72
)

// MaxGroups bounds the accounting groups, group ids live in the top 16
// bits of a boundary tag.
const MaxGroups = 1 << 16

const (
	groupShift = 48
	sizeMask   = 1<<groupShift - 1

	// per group: live fragments, used, real used
	groupWords = 3
	grFrags    = 0
	grUsed     = 8
	grRealUsed = 16
)

const (
	align    = 16
	tagSize  = 8
	overhead = 2 * tagSize
	minBlock = 32 // hdr + next + prev + ftr
)

// Overhead is the bookkeeping cost of one fragment in bytes.
const Overhead = overhead

func roundUp(n, to uint64) uint64 {
	return (n + to - 1) / to * to
}

// groupBase is where the group table starts: after one lock word per
// shard plus one for the threshold state.
func groupBase(shards int) uint64 {
	return roundUp(phLockWords+4*uint64(shards+1), 8)
}

// headerSize is the pool header length for a shard and group count.
func headerSize(shards, groups int) uint64 {
	return roundUp(groupBase(shards)+8*groupWords*uint64(groups), align)
}

// region wraps the raw mapping with typed word access.
type region struct {
	mem []byte
}

func (r region) u64(off uint64) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.mem[off]))
}

func (r region) i64(off uint64) *int64 {
	return (*int64)(unsafe.Pointer(&r.mem[off]))
}

func (r region) u32(off uint64) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.mem[off]))
}

func (r region) load(off uint64) uint64 {
	return atomic.LoadUint64(r.u64(off))
}

func (r region) store(off, v uint64) {
	atomic.StoreUint64(r.u64(off), v)
}

// -------------------- Pool header --------------------

type header struct {
	region
	gbase  uint64
	groups uint64
}

func newHeader(r region, shards, groups int) header {
	return header{region: r, gbase: groupBase(shards), groups: uint64(groups)}
}

func (h header) init(size uint64, shards int, quickMax uint64) {
	h.store(phSize, size)
	h.store(phUsed, 0)
	h.store(phMaxUsed, 0)
	h.store(phQuickMax, quickMax)
	atomic.StoreInt64(h.i64(phThrLast), 0)
	atomic.StoreUint32(h.u32(phThrPend), 0)
	atomic.StoreUint32(h.u32(phThrAbove), 0)
	h.store(phGroups, h.groups)
	for off := h.gbase; off < h.gbase+8*groupWords*h.groups; off += 8 {
		h.store(off, 0)
	}
	atomic.StoreUint32(h.u32(phVersion), poolVersion)
	atomic.StoreUint32(h.u32(phShards), uint32(shards))
	// magic last: a reader that sees it sees a complete header
	h.store(phMagic, poolMagic)
}

func (h header) valid() bool {
	return h.load(phMagic) == poolMagic &&
		atomic.LoadUint32(h.u32(phVersion)) == poolVersion
}

func (h header) shards() int {
	return int(atomic.LoadUint32(h.u32(phShards)))
}

// addUsed moves the global used counter and raises the peak.
func (h header) addUsed(delta int64) {
	used := atomic.AddUint64(h.u64(phUsed), uint64(delta))
	maxp := h.u64(phMaxUsed)
	for {
		m := atomic.LoadUint64(maxp)
		if used <= m || atomic.CompareAndSwapUint64(maxp, m, used) {
			return
		}
	}
}

// addGroup moves the counters of group g. Unknown groups count as the
// default group.
func (h header) addGroup(g uint64, frags, used, real int64) {
	if g >= h.groups {
		g = 0
	}
	off := h.gbase + 8*groupWords*g
	atomic.AddUint64(h.u64(off+grFrags), uint64(frags))
	atomic.AddUint64(h.u64(off+grUsed), uint64(used))
	atomic.AddUint64(h.u64(off+grRealUsed), uint64(real))
}

func (h header) group(g uint64) GroupStats {
	off := h.gbase + 8*groupWords*g
	return GroupStats{
		Fragments: h.load(off + grFrags),
		Used:      h.load(off + grUsed),
		RealUsed:  h.load(off + grRealUsed),
	}
}

func (h header) lockWord(i int) *uint32 {
	return h.u32(phLockWords + 4*uint64(i))
}
