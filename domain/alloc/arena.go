package alloc

const (
	arenaMagic = 0x53484d4152454e41 // "SHMARENA"

	// arena header word offsets, relative to the arena base
	ahMagic    = 0
	ahStart    = 8
	ahEnd      = 16
	ahUsed     = 24
	ahRealUsed = 32
	ahFrags    = 40
	ahFreeHead = 48
	ahQuickN   = 56
	ahQuick    = 64
)

// fragment states, kept in the low bits of each boundary tag
const (
	stateFree  = 0
	stateUsed  = 1
	stateQuick = 2
	stateMask  = align - 1
)

// Arena is one independently locked allocation area. Free fragments
// live on a doubly linked list and are coalesced with free neighbours.
// Freed fragments small enough for a quick list skip coalescing and
// are reused by exact size; they go back to the main list only when a
// first-fit search fails.
type Arena struct {
	region
	hdr    header
	index  int
	base   uint64
	start  uint64
	end    uint64
	quickN uint64
}

// GroupStats is the accounting of one allocation group across all
// arenas: its live fragments and the bytes they hold.
type GroupStats struct {
	Fragments uint64
	Used      uint64
	RealUsed  uint64
}

// Stats is a snapshot of one arena's counters.
type Stats struct {
	Size      uint64
	Used      uint64
	RealUsed  uint64
	Fragments uint64
}

func arenaHeaderSize(quickN uint64) uint64 {
	return roundUp(ahQuick+8*quickN, align)
}

// newArena lays out an empty arena over [base, end).
func newArena(r region, hdr header, index int, base, end, quickN uint64) *Arena {
	a := &Arena{region: r, hdr: hdr, index: index, base: base, quickN: quickN}
	a.start = base + arenaHeaderSize(quickN)
	a.end = a.start + (end-a.start)/align*align

	a.store(base+ahStart, a.start)
	a.store(base+ahEnd, a.end)
	a.store(base+ahUsed, 0)
	a.store(base+ahRealUsed, a.start-base)
	a.store(base+ahFrags, 1)
	a.store(base+ahFreeHead, 0)
	a.store(base+ahQuickN, quickN)
	for c := uint64(0); c < quickN; c++ {
		a.store(base+ahQuick+8*c, 0)
	}

	a.setTags(a.start, a.end-a.start, stateFree)
	a.pushFree(a.start)
	a.store(base+ahMagic, arenaMagic)
	return a
}

// openArena attaches to an arena laid out by another process.
func openArena(r region, hdr header, index int, base uint64) (*Arena, bool) {
	if r.load(base+ahMagic) != arenaMagic {
		return nil, false
	}
	return &Arena{
		region: r,
		hdr:    hdr,
		index:  index,
		base:   base,
		start:  r.load(base + ahStart),
		end:    r.load(base + ahEnd),
		quickN: r.load(base + ahQuickN),
	}, true
}

// blockSize is the fragment size serving a request of n bytes, or 0
// when n cannot be represented.
func blockSize(n uint64) uint64 {
	if n > sizeMask>>1 {
		return 0
	}
	b := roundUp(n, align) + overhead
	if b < minBlock {
		b = minBlock
	}
	return b
}

// -------------------- Tags & links --------------------

func (a *Arena) tag(b uint64) (size, state uint64) {
	v := *a.u64(b)
	return v & sizeMask &^ stateMask, v & stateMask
}

func (a *Arena) groupOf(b uint64) uint64 {
	return *a.u64(b) >> groupShift
}

// setTags writes both boundary tags of a fragment outside any group.
func (a *Arena) setTags(b, size, state uint64) {
	*a.u64(b) = size | state
	*a.u64(b + size - tagSize) = size | state
}

func (a *Arena) setUsed(b, size, group uint64) {
	v := group<<groupShift | size | stateUsed
	*a.u64(b) = v
	*a.u64(b + size - tagSize) = v
}

func (a *Arena) next(b uint64) uint64      { return *a.u64(b + tagSize) }
func (a *Arena) prev(b uint64) uint64      { return *a.u64(b + 2*tagSize) }
func (a *Arena) setNext(b, v uint64)       { *a.u64(b + tagSize) = v }
func (a *Arena) setPrev(b, v uint64)       { *a.u64(b + 2*tagSize) = v }
func (a *Arena) quickHead(c uint64) uint64 { return *a.u64(a.base + ahQuick + 8*c) }
func (a *Arena) setQuickHead(c, v uint64)  { *a.u64(a.base + ahQuick + 8*c) = v }

func (a *Arena) pushFree(b uint64) {
	head := a.load(a.base + ahFreeHead)
	a.setNext(b, head)
	a.setPrev(b, 0)
	if head != 0 {
		a.setPrev(head, b)
	}
	a.store(a.base+ahFreeHead, b)
}

func (a *Arena) unlinkFree(b uint64) {
	n, p := a.next(b), a.prev(b)
	if p != 0 {
		a.setNext(p, n)
	} else {
		a.store(a.base+ahFreeHead, n)
	}
	if n != 0 {
		a.setPrev(n, p)
	}
}

// quickClass returns the quick list serving a payload size.
func (a *Arena) quickClass(payload uint64) (uint64, bool) {
	if a.quickN == 0 || payload == 0 {
		return 0, false
	}
	c := payload/align - 1
	return c, c < a.quickN
}

func (a *Arena) pushQuick(c, b uint64) {
	a.setNext(b, a.quickHead(c))
	a.setQuickHead(c, b)
}

func (a *Arena) popQuick(c uint64) uint64 {
	b := a.quickHead(c)
	if b != 0 {
		a.setQuickHead(c, a.next(b))
	}
	return b
}

// -------------------- Counters --------------------

func (a *Arena) account(group uint64, blocks, used, real int64) {
	a.store(a.base+ahUsed, a.load(a.base+ahUsed)+uint64(used))
	a.store(a.base+ahRealUsed, a.load(a.base+ahRealUsed)+uint64(real))
	a.hdr.addUsed(used)
	a.hdr.addGroup(group, blocks, used, real)
}

func (a *Arena) addFrags(n int64) {
	a.store(a.base+ahFrags, a.load(a.base+ahFrags)+uint64(n))
}

// Stats reads the arena counters without the guard.
func (a *Arena) Stats() Stats {
	return Stats{
		Size:      a.end - a.base,
		Used:      a.load(a.base + ahUsed),
		RealUsed:  a.load(a.base + ahRealUsed),
		Fragments: a.load(a.base + ahFrags),
	}
}

// Contains reports whether p lies inside the arena's fragment area.
func (a *Arena) Contains(p Ptr) bool {
	return uint64(p) > a.start && uint64(p) < a.end
}

// -------------------- Operations --------------------

// Alloc returns a block of at least size bytes or Nil.
func (a *Arena) Alloc(size uint64) Ptr {
	return a.AllocGroup(size, 0)
}

// AllocGroup is Alloc charging the block to an accounting group.
func (a *Arena) AllocGroup(size uint64, group uint16) Ptr {
	need := blockSize(size)
	if need == 0 {
		return Nil
	}
	g := uint64(group)
	if g >= a.hdr.groups {
		g = 0
	}

	if c, ok := a.quickClass(need - overhead); ok {
		if b := a.popQuick(c); b != 0 {
			a.setUsed(b, need, g)
			a.account(g, 1, int64(need-overhead), int64(need))
			return Ptr(b + tagSize)
		}
	}

	b := a.firstFit(need)
	if b == 0 && a.flushQuick() > 0 {
		b = a.firstFit(need)
	}
	if b == 0 {
		return Nil
	}

	a.unlinkFree(b)
	have, _ := a.tag(b)
	if have-need >= minBlock {
		a.setTags(b+need, have-need, stateFree)
		a.pushFree(b + need)
		a.addFrags(1)
		have = need
	}
	a.setUsed(b, have, g)
	a.account(g, 1, int64(have-overhead), int64(have))
	return Ptr(b + tagSize)
}

// Free returns p to the arena. p must come from Alloc or Resize on
// this arena and must not have been freed already.
func (a *Arena) Free(p Ptr) {
	b := uint64(p) - tagSize
	size, _ := a.tag(b)
	a.account(a.groupOf(b), -1, -int64(size-overhead), -int64(size))

	if c, ok := a.quickClass(size - overhead); ok {
		a.setTags(b, size, stateQuick)
		a.pushQuick(c, b)
		return
	}
	a.release(b, size)
}

// ResizeInPlace grows or shrinks p without moving it. Content up to
// min(old, new) is preserved. It reports false when the block cannot
// be resized where it is; p is then untouched.
func (a *Arena) ResizeInPlace(p Ptr, size uint64) bool {
	b := uint64(p) - tagSize
	cur, _ := a.tag(b)
	g := a.groupOf(b)
	need := blockSize(size)
	if need == 0 {
		return false
	}

	if need <= cur {
		if rest := cur - need; rest >= minBlock {
			a.setUsed(b, need, g)
			a.account(g, 0, -int64(rest), -int64(rest))
			a.addFrags(1)
			a.release(b+need, rest)
		}
		return true
	}

	r := b + cur
	if r >= a.end {
		return false
	}
	rs, st := a.tag(r)
	if st != stateFree || cur+rs < need {
		return false
	}
	a.unlinkFree(r)
	a.addFrags(-1)

	total := cur + rs
	if total-need >= minBlock {
		a.setTags(b+need, total-need, stateFree)
		a.pushFree(b + need)
		a.addFrags(1)
		total = need
	}
	a.setUsed(b, total, g)
	a.account(g, 0, int64(total-cur), int64(total-cur))
	return true
}

// Group returns the accounting group p is charged to.
func (a *Arena) Group(p Ptr) uint16 {
	return uint16(a.groupOf(uint64(p) - tagSize))
}

// UsableSize returns the payload capacity of p.
func (a *Arena) UsableSize(p Ptr) uint64 {
	size, _ := a.tag(uint64(p) - tagSize)
	return size - overhead
}

func (a *Arena) firstFit(need uint64) uint64 {
	for b := a.load(a.base + ahFreeHead); b != 0; b = a.next(b) {
		if size, _ := a.tag(b); size >= need {
			return b
		}
	}
	return 0
}

// release coalesces a fragment with its free neighbours and puts the
// result on the free list.
func (a *Arena) release(b, size uint64) {
	if r := b + size; r < a.end {
		if rs, st := a.tag(r); st == stateFree {
			a.unlinkFree(r)
			size += rs
			a.addFrags(-1)
		}
	}
	if b > a.start {
		if ls, st := a.tag(b - tagSize); st == stateFree {
			l := b - ls
			a.unlinkFree(l)
			b = l
			size += ls
			a.addFrags(-1)
		}
	}
	a.setTags(b, size, stateFree)
	a.pushFree(b)
}

// flushQuick moves every quick-listed fragment back to the free list.
func (a *Arena) flushQuick() int {
	n := 0
	for c := uint64(0); c < a.quickN; c++ {
		for b := a.popQuick(c); b != 0; b = a.popQuick(c) {
			size, _ := a.tag(b)
			a.release(b, size)
			n++
		}
	}
	return n
}
