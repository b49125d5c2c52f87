package alloc

import (
	"unsafe"

	"github.com/pkg/errors"
)

// DefaultQuickMax is the largest payload served from quick lists.
const DefaultQuickMax = 1024

// Options tune the layout written by Init.
type Options struct {
	// QuickMax is the largest payload kept on exact-size quick lists;
	// 0 disables them. Rounded down to 16 bytes, capped at 4 KiB.
	QuickMax uint64
	// Tag labels the allocator in logs and errors.
	Tag string
	// Groups is the number of accounting groups, the default group 0
	// included. 0 means just the default group.
	Groups int
}

// Adapter is the allocator laid over one region: the pool header, the
// arenas and the strategy that routes requests between them.
type Adapter struct {
	r         region
	hdr       header
	strategy  Strategy
	tag       string
	hdrEnd    uint64
	arenaSpan uint64
	arenas    []*Arena
}

// ThresholdWords are the threshold-notifier fields stored in the pool
// header so every process sharing the region sees the same state.
type ThresholdWords struct {
	Last    *int64
	Pending *uint32
	Above   *uint32
}

// Init lays out a fresh allocator over mem.
func Init(mem []byte, s Strategy, opts Options) (*Adapter, error) {
	if s == nil {
		return nil, errors.Wrap(ErrInitFailed, "no strategy")
	}
	shards := s.Shards()
	if shards < 1 || shards > MaxShards {
		return nil, errors.Wrapf(ErrInitFailed, "%s: shard count %d", s.Name(), shards)
	}
	if len(mem) == 0 || uintptr(unsafe.Pointer(&mem[0]))%8 != 0 {
		return nil, errors.Wrap(ErrInitFailed, "region base not aligned")
	}

	groups := opts.Groups
	if groups == 0 {
		groups = 1
	}
	if groups < 0 || groups > MaxGroups {
		return nil, errors.Wrapf(ErrInitFailed, "group count %d", groups)
	}

	quickMax := opts.QuickMax / align * align
	if quickMax > 4096 {
		quickMax = 4096
	}
	quickN := quickMax / align

	size := uint64(len(mem))
	hdrEnd := headerSize(shards, groups)
	if size <= hdrEnd {
		return nil, errors.Wrapf(ErrInitFailed, "region of %d bytes too small for header", size)
	}
	span := (size - hdrEnd) / uint64(shards) / align * align
	if span < arenaHeaderSize(quickN)+minBlock {
		return nil, errors.Wrapf(ErrInitFailed, "region of %d bytes too small for %d arenas", size, shards)
	}

	r := region{mem: mem}
	a := &Adapter{
		r:         r,
		hdr:       newHeader(r, shards, groups),
		strategy:  s,
		tag:       opts.Tag,
		hdrEnd:    hdrEnd,
		arenaSpan: span,
		arenas:    make([]*Arena, shards),
	}
	for i := 0; i < shards; i++ {
		base := hdrEnd + uint64(i)*span
		end := base + span
		if i == shards-1 {
			end = size
		}
		a.arenas[i] = newArena(r, a.hdr, i, base, end, quickN)
	}
	a.hdr.init(size, shards, quickMax)
	return a, nil
}

// Open attaches to an allocator another process laid out over mem.
func Open(mem []byte, s Strategy, tag string) (*Adapter, error) {
	if len(mem) < phLockWords {
		return nil, errors.Wrap(ErrInitFailed, "region too small")
	}
	r := region{mem: mem}
	raw := header{region: r}
	if !raw.valid() {
		return nil, errors.Wrap(ErrInitFailed, "no pool header in region")
	}
	shards := raw.shards()
	if shards != s.Shards() {
		return nil, errors.Wrapf(ErrInitFailed, "region has %d shards, strategy %s wants %d", shards, s.Name(), s.Shards())
	}
	groups := raw.load(phGroups)
	if groups < 1 || groups > MaxGroups {
		return nil, errors.Wrapf(ErrInitFailed, "region has %d groups", groups)
	}
	hdr := newHeader(r, shards, int(groups))

	hdrEnd := headerSize(shards, int(groups))
	if uint64(len(mem)) <= hdrEnd {
		return nil, errors.Wrap(ErrInitFailed, "region too small for its header")
	}
	span := (uint64(len(mem)) - hdrEnd) / uint64(shards) / align * align
	a := &Adapter{
		r:         r,
		hdr:       hdr,
		strategy:  s,
		tag:       tag,
		hdrEnd:    hdrEnd,
		arenaSpan: span,
		arenas:    make([]*Arena, shards),
	}
	for i := range a.arenas {
		ar, ok := openArena(r, hdr, i, hdrEnd+uint64(i)*span)
		if !ok {
			return nil, errors.Wrapf(ErrInitFailed, "arena %d not initialized", i)
		}
		a.arenas[i] = ar
	}
	return a, nil
}

func (a *Adapter) Groups() int        { return int(a.hdr.groups) }
func (a *Adapter) Tag() string        { return a.tag }
func (a *Adapter) Strategy() Strategy { return a.strategy }
func (a *Adapter) Shards() int        { return len(a.arenas) }
func (a *Adapter) Arena(i int) *Arena { return a.arenas[i] }

// ShardForSize routes an allocation request.
func (a *Adapter) ShardForSize(size uint64) int {
	return a.strategy.ShardForSize(size)
}

// ShardForPtr returns the arena owning p.
func (a *Adapter) ShardForPtr(p Ptr) int {
	if uint64(p) < a.hdrEnd {
		return 0
	}
	i := int((uint64(p) - a.hdrEnd) / a.arenaSpan)
	if i >= len(a.arenas) {
		i = len(a.arenas) - 1
	}
	return i
}

// GroupOf returns the accounting group p is charged to.
func (a *Adapter) GroupOf(p Ptr) uint16 {
	return a.arenas[a.ShardForPtr(p)].Group(p)
}

// LockWords returns the guard words: one per arena, then one for the
// threshold state.
func (a *Adapter) LockWords() []*uint32 {
	words := make([]*uint32, len(a.arenas)+1)
	for i := range words {
		words[i] = a.hdr.lockWord(i)
	}
	return words
}

func (a *Adapter) ThresholdWords() ThresholdWords {
	return ThresholdWords{
		Last:    a.hdr.i64(phThrLast),
		Pending: a.hdr.u32(phThrPend),
		Above:   a.hdr.u32(phThrAbove),
	}
}

// Bytes returns the payload of p. The slice aliases shared memory and
// is valid until p is freed or moved by a resize.
func (a *Adapter) Bytes(p Ptr) []byte {
	if p == Nil {
		return nil
	}
	n := a.arenas[a.ShardForPtr(p)].UsableSize(p)
	return a.r.mem[p : uint64(p)+n : uint64(p)+n]
}

// -------------------- Statistics --------------------

// TotalSize is the size of the whole region.
func (a *Adapter) TotalSize() uint64 {
	return a.hdr.load(phSize)
}

// UsedSize is the payload bytes of live allocations.
func (a *Adapter) UsedSize() uint64 {
	return a.hdr.load(phUsed)
}

// MaxUsedSize is the peak of UsedSize since init.
func (a *Adapter) MaxUsedSize() uint64 {
	return a.hdr.load(phMaxUsed)
}

// RealUsedSize is UsedSize plus every byte of bookkeeping: headers,
// boundary tags and layout padding.
func (a *Adapter) RealUsedSize() uint64 {
	return a.TotalSize() - a.FreeSize()
}

// FreeSize is the bytes not held by live allocations or bookkeeping.
func (a *Adapter) FreeSize() uint64 {
	var free uint64
	for _, ar := range a.arenas {
		st := ar.Stats()
		free += st.Size - st.RealUsed
	}
	return free
}

// Fragments is the number of fragments across all arenas.
func (a *Adapter) Fragments() uint64 {
	var n uint64
	for _, ar := range a.arenas {
		n += ar.Stats().Fragments
	}
	return n
}

// GroupStats reads the counters of group g without the guard.
func (a *Adapter) GroupStats(g int) GroupStats {
	if g < 0 || g >= a.Groups() {
		return GroupStats{}
	}
	return a.hdr.group(uint64(g))
}

// Check walks every arena. The caller holds every arena guard.
func (a *Adapter) Check() (int, error) {
	total := 0
	acc := make([]GroupStats, a.Groups())
	for _, ar := range a.arenas {
		n, err := ar.check(acc)
		if err != nil {
			return 0, err
		}
		total += n
	}
	if used := a.sumUsed(); used != a.UsedSize() {
		return 0, corrupt(-1, phUsed, "pool used counter %d, arenas %d", a.UsedSize(), used)
	}
	for g, walked := range acc {
		if st := a.hdr.group(uint64(g)); st != walked {
			return 0, corrupt(-1, a.hdr.gbase+8*groupWords*uint64(g),
				"group %d counters %+v, walk %+v", g, st, walked)
		}
	}
	return total, nil
}

func (a *Adapter) sumUsed() uint64 {
	var n uint64
	for _, ar := range a.arenas {
		n += ar.Stats().Used
	}
	return n
}
