package usage

// Entry is one persisted histogram bucket.
type Entry struct {
	Size  uint64
	Count uint64
}

// Pattern is the ordered list of (size, count) pairs written at
// shutdown and replayed at startup.
type Pattern []Entry

// Store persists a Pattern between process lifetimes.
// Load reports ok=false when nothing was stored yet.
type Store interface {
	Save(Pattern) error
	Load() (p Pattern, ok bool, err error)
}

// Requests returns the total number of allocation requests in p.
func (p Pattern) Requests() uint64 {
	var n uint64
	for _, e := range p {
		n += e.Count
	}
	return n
}

// Demand estimates the bytes needed to hold every request of p live at
// once, given a fixed per-fragment overhead.
func (p Pattern) Demand(overhead uint64) uint64 {
	var n uint64
	for _, e := range p {
		n += (e.Size + overhead) * e.Count
	}
	return n
}

// Scale returns a copy of p whose counts are multiplied by num/den,
// rounding down. Entries scaled to zero are dropped.
func (p Pattern) Scale(num, den uint64) Pattern {
	if den == 0 || num >= den {
		out := make(Pattern, len(p))
		copy(out, p)
		return out
	}
	out := make(Pattern, 0, len(p))
	for _, e := range p {
		c := e.Count / den * num
		c += (e.Count % den) * num / den
		if c > 0 {
			out = append(out, Entry{Size: e.Size, Count: c})
		}
	}
	return out
}

// Counts folds p into per-class totals.
func (p Pattern) Counts() map[int]uint64 {
	m := make(map[int]uint64, len(p))
	for _, e := range p {
		m[ClassOf(e.Size)] += e.Count
	}
	return m
}
