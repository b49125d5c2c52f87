package alloc

// Check walks every fragment of the arena and verifies its invariants:
// fragments tile [start, end) exactly, both boundary tags agree, no two
// free fragments are adjacent, the free and quick lists hold exactly
// the fragments in those states, and the counters match the walk.
// It returns the fragment count. The caller holds the arena's guard.
func (a *Arena) Check() (int, error) {
	return a.check(nil)
}

// check is Check adding the used fragments of each group to acc when
// acc is not nil.
func (a *Arena) check(acc []GroupStats) (int, error) {
	var (
		frags, used, real uint64
		nFree, nQuick     uint64
		prevFree          bool
	)

	b := a.start
	for b < a.end {
		size, st := a.tag(b)
		if size < minBlock || size%align != 0 || size > a.end-b {
			return 0, corrupt(a.index, b, "bad fragment size %d", size)
		}
		fsize, fst := a.tag(b + size - tagSize)
		if fsize != size || fst != st {
			return 0, corrupt(a.index, b, "boundary tags disagree: hdr %d/%d ftr %d/%d", size, st, fsize, fst)
		}
		g := a.groupOf(b)
		if fg := a.groupOf(b + size - tagSize); fg != g {
			return 0, corrupt(a.index, b, "boundary tags disagree on group: hdr %d ftr %d", g, fg)
		}
		if g != 0 && st != stateUsed {
			return 0, corrupt(a.index, b, "group %d on a fragment in state %d", g, st)
		}

		switch st {
		case stateUsed:
			used += size - overhead
			real += size
			prevFree = false
			if acc != nil {
				if g >= uint64(len(acc)) {
					return 0, corrupt(a.index, b, "unknown group %d", g)
				}
				acc[g].Fragments++
				acc[g].Used += size - overhead
				acc[g].RealUsed += size
			}
		case stateFree:
			if prevFree {
				return 0, corrupt(a.index, b, "adjacent free fragments")
			}
			nFree++
			prevFree = true
		case stateQuick:
			nQuick++
			prevFree = false
		default:
			return 0, corrupt(a.index, b, "unknown fragment state %d", st)
		}
		frags++
		b += size
	}
	if b != a.end {
		return 0, corrupt(a.index, b, "fragments overrun arena end %#x", a.end)
	}

	var listed, last uint64
	for f := a.load(a.base + ahFreeHead); f != 0; f = a.next(f) {
		if listed++; listed > nFree {
			return 0, corrupt(a.index, f, "free list longer than %d free fragments", nFree)
		}
		if f < a.start || f >= a.end {
			return 0, corrupt(a.index, f, "free list entry outside arena")
		}
		if _, st := a.tag(f); st != stateFree {
			return 0, corrupt(a.index, f, "free list entry in state %d", st)
		}
		if a.prev(f) != last {
			return 0, corrupt(a.index, f, "free list back link %#x, want %#x", a.prev(f), last)
		}
		last = f
	}
	if listed != nFree {
		return 0, corrupt(a.index, a.base, "free list holds %d of %d free fragments", listed, nFree)
	}

	listed = 0
	for c := uint64(0); c < a.quickN; c++ {
		for f := a.quickHead(c); f != 0; f = a.next(f) {
			if listed++; listed > nQuick {
				return 0, corrupt(a.index, f, "quick lists longer than %d quick fragments", nQuick)
			}
			if f < a.start || f >= a.end {
				return 0, corrupt(a.index, f, "quick list entry outside arena")
			}
			size, st := a.tag(f)
			if st != stateQuick {
				return 0, corrupt(a.index, f, "quick list entry in state %d", st)
			}
			if qc, _ := a.quickClass(size - overhead); qc != c {
				return 0, corrupt(a.index, f, "fragment of class %d on quick list %d", qc, c)
			}
		}
	}
	if listed != nQuick {
		return 0, corrupt(a.index, a.base, "quick lists hold %d of %d quick fragments", listed, nQuick)
	}

	st := a.Stats()
	if st.Used != used {
		return 0, corrupt(a.index, a.base, "used counter %d, walk %d", st.Used, used)
	}
	if st.RealUsed != real+(a.start-a.base) {
		return 0, corrupt(a.index, a.base, "real used counter %d, walk %d", st.RealUsed, real+(a.start-a.base))
	}
	if st.Fragments != frags {
		return 0, corrupt(a.index, a.base, "fragment counter %d, walk %d", st.Fragments, frags)
	}
	return int(frags), nil
}
