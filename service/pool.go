package service

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"shmpool/domain/alloc"
	"shmpool/domain/threshold"
	"shmpool/domain/usage"
	"shmpool/infra/guard"
	"shmpool/infra/region"
	"shmpool/infra/sequence"
)

// Config fixes the pool layout for the life of the region.
type Config struct {
	Size             uint64
	Backing          region.Kind
	Strategy         alloc.Strategy
	QuickMax         uint64
	ThresholdPercent uint64
	Tag              string
	// Groups names the accounting groups allocations can be charged to,
	// besides DefaultGroup.
	Groups []string
}

// DefaultGroup is the accounting group of blocks allocated without one.
const DefaultGroup = "default"

func (c Config) validateGroups() error {
	if len(c.Groups)+1 > alloc.MaxGroups {
		return errors.Errorf("service: %d groups, at most %d", len(c.Groups), alloc.MaxGroups-1)
	}
	seen := map[string]bool{DefaultGroup: true}
	for _, g := range c.Groups {
		if g == "" || seen[g] {
			return errors.Errorf("service: duplicate or empty group %q", g)
		}
		seen[g] = true
	}
	return nil
}

/*
Pool is the shared-memory allocator context.

It owns:
- the region (through the provisioner)
- the allocator laid over it
- the guard words serializing it
- the usage histogram and threshold notifier

A Pool is usable only between a successful New/Attach and Destroy.
Using it outside that window is a programming error and panics.
*/
type Pool struct {
	cfg    Config
	logger log.Logger

	prov     Provisioner
	region   *region.Region
	alloc    *alloc.Adapter
	guard    *guard.Guard // one word per arena
	state    *guard.Guard // threshold state word
	hist     *usage.Histogram
	notifier *threshold.Notifier
	owner    bool

	publisher threshold.Publisher
	patterns  usage.Store
	seq       threshold.Sequence
	abort     func(error)
	eventCtx  context.Context

	ready       atomic.Bool
	destroyOnce sync.Once
	destroyErr  error
}

func newPool(cfg Config, opts []Option) *Pool {
	p := &Pool{
		cfg:      cfg,
		logger:   log.NewNopLogger(),
		hist:     usage.NewHistogram(),
		eventCtx: context.Background(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.prov == nil {
		p.prov = region.New(cfg.Backing, p.logger)
	}
	p.logger = log.With(p.logger, "component", "shm")
	if p.cfg.Strategy == nil {
		p.cfg.Strategy = alloc.Simple{}
	}
	if p.seq == nil {
		p.seq = sequence.New(0)
	}
	if p.abort == nil {
		p.abort = exitOnCorruption(p.logger)
	}
	return p
}

// New acquires a fresh region and lays the allocator over it. On any
// failure everything acquired so far is released.
func New(cfg Config, opts ...Option) (*Pool, error) {
	if err := cfg.validateGroups(); err != nil {
		return nil, err
	}
	p := newPool(cfg, opts)
	p.owner = true

	r, err := p.prov.Acquire(int(cfg.Size))
	if err != nil {
		return nil, err
	}
	p.region = r

	a, err := alloc.Init(r.Mem, p.cfg.Strategy, alloc.Options{
		QuickMax: cfg.QuickMax,
		Tag:      cfg.Tag,
		Groups:   len(cfg.Groups) + 1,
	})
	if err != nil {
		level.Error(p.logger).Log("msg", "allocator init failed", "err", err)
		p.Destroy()
		return nil, errors.Wrap(err, "service: init")
	}
	p.alloc = a

	words := a.LockWords()
	p.guard = guard.New(words[:a.Shards()])
	p.state = guard.New(words[a.Shards():])
	p.start()

	level.Info(p.logger).Log("msg", "shared pool ready",
		"size", a.TotalSize(), "strategy", p.cfg.Strategy.Name(), "shards", a.Shards(),
		"threshold_percent", cfg.ThresholdPercent)
	return p, nil
}

// Attach joins a pool created by another process through its System V
// segment id. cfg.Strategy must match the creator's.
func Attach(cfg Config, shmid int, opts ...Option) (*Pool, error) {
	if err := cfg.validateGroups(); err != nil {
		return nil, err
	}
	p := newPool(cfg, opts)

	r, err := p.prov.Attach(shmid)
	if err != nil {
		return nil, err
	}
	p.region = r

	a, err := alloc.Open(r.Mem, p.cfg.Strategy, cfg.Tag)
	if err != nil {
		p.Destroy()
		return nil, errors.Wrap(err, "service: attach")
	}
	if a.Groups() != len(cfg.Groups)+1 {
		p.Destroy()
		return nil, errors.Wrapf(ErrInitFailed, "service: attach: region has %d groups, config %d", a.Groups(), len(cfg.Groups)+1)
	}
	p.alloc = a

	words := a.LockWords()
	p.guard = guard.Attach(words[:a.Shards()])
	p.state = guard.Attach(words[a.Shards():])
	p.start()
	return p, nil
}

func (p *Pool) start() {
	st := p.alloc.ThresholdWords()
	p.notifier = threshold.New(
		p.cfg.ThresholdPercent,
		threshold.State{Last: st.Last, Pending: st.Pending, Above: st.Above},
		p.state.Word(0),
		p.publisher,
		threshold.WithLogger(p.logger),
		threshold.WithSequence(p.seq),
		threshold.WithContext(p.eventCtx),
	)
	p.ready.Store(true)
}

func (p *Pool) mustReady() {
	if !p.ready.Load() {
		panic("service: shared pool used before init or after destroy")
	}
}

// -------------------- Allocation --------------------

// Allocate returns a block of at least size bytes, or alloc.Nil when
// the pool cannot satisfy it.
func (p *Pool) Allocate(size uint64) alloc.Ptr {
	p.mustReady()
	return p.allocate(size, 0, true)
}

// AllocateIn is Allocate charging the block to group, an id returned
// by GroupID.
func (p *Pool) AllocateIn(group uint16, size uint64) alloc.Ptr {
	p.mustReady()
	return p.allocate(size, group, true)
}

// TryAllocate is Allocate with ErrExhausted instead of Nil.
func (p *Pool) TryAllocate(size uint64) (alloc.Ptr, error) {
	if ptr := p.Allocate(size); ptr != alloc.Nil {
		return ptr, nil
	}
	return alloc.Nil, errors.Wrapf(ErrExhausted, "%d bytes", size)
}

func (p *Pool) allocate(size uint64, group uint16, notify bool) alloc.Ptr {
	shard := p.alloc.ShardForSize(size)

	p.guard.Lock(shard)
	p.hist.Record(size)
	ptr := p.alloc.Arena(shard).AllocGroup(size, group)
	if ptr != alloc.Nil && notify {
		p.observe(shard, shard)
	}
	p.guard.Unlock(shard)

	if ptr != alloc.Nil || p.alloc.Shards() == 1 {
		return ptr
	}

	// preferred arena is full, try the others one at a time
	for i := 1; i < p.alloc.Shards(); i++ {
		s := (shard + i) % p.alloc.Shards()
		p.guard.Lock(s)
		ptr = p.alloc.Arena(s).AllocGroup(size, group)
		if ptr != alloc.Nil && notify {
			p.observe(s, s)
		}
		p.guard.Unlock(s)
		if ptr != alloc.Nil {
			return ptr
		}
	}
	return alloc.Nil
}

// Free returns ptr to the pool. Freeing Nil is a no-op.
func (p *Pool) Free(ptr alloc.Ptr) {
	p.mustReady()
	p.free(ptr, true)
}

func (p *Pool) free(ptr alloc.Ptr, notify bool) {
	if ptr == alloc.Nil {
		return
	}
	shard := p.alloc.ShardForPtr(ptr)
	p.guard.Lock(shard)
	p.alloc.Arena(shard).Free(ptr)
	if notify {
		p.observe(shard, shard)
	}
	p.guard.Unlock(shard)
}

// Resize changes the size of ptr. Resizing Nil allocates. The block is
// grown or shrunk in place when possible, keeping its content;
// otherwise it is freed and a new block allocated, and the content is
// not carried over. Nil is returned when no block of the new size is
// available; the old block is gone in that case too.
func (p *Pool) Resize(ptr alloc.Ptr, size uint64) alloc.Ptr {
	p.mustReady()
	if ptr == alloc.Nil {
		level.Debug(p.logger).Log("msg", "resize of nil block, allocating", "size", size)
		return p.allocate(size, 0, true)
	}

	from := p.alloc.ShardForPtr(ptr)
	to := p.alloc.ShardForSize(size)
	p.guard.LockPair(from, to)
	defer p.guard.UnlockPair(from, to)

	if p.alloc.Arena(from).ResizeInPlace(ptr, size) {
		p.observe(from, to)
		return ptr
	}

	group := p.alloc.GroupOf(ptr)
	p.alloc.Arena(from).Free(ptr)
	p.hist.Record(size)
	out := p.alloc.Arena(to).AllocGroup(size, group)
	if out == alloc.Nil && to != from {
		out = p.alloc.Arena(from).AllocGroup(size, group)
	}
	p.observe(from, to)
	return out
}

// observe runs the threshold check. The caller holds the guard words
// of arenas a and b.
func (p *Pool) observe(a, b int) {
	p.notifier.Observe(p.alloc.UsedSize, p.alloc.TotalSize(),
		func() { p.guard.UnlockPair(a, b) },
		func() { p.guard.LockPair(a, b) },
	)
}

// Bytes returns the payload of ptr. The slice aliases shared memory.
func (p *Pool) Bytes(ptr alloc.Ptr) []byte {
	p.mustReady()
	return p.alloc.Bytes(ptr)
}

// -------------------- Statistics --------------------

func (p *Pool) TotalSize() uint64    { return p.stat((*alloc.Adapter).TotalSize) }
func (p *Pool) UsedSize() uint64     { return p.stat((*alloc.Adapter).UsedSize) }
func (p *Pool) RealUsedSize() uint64 { return p.stat((*alloc.Adapter).RealUsedSize) }
func (p *Pool) MaxUsedSize() uint64  { return p.stat((*alloc.Adapter).MaxUsedSize) }
func (p *Pool) FreeSize() uint64     { return p.stat((*alloc.Adapter).FreeSize) }
func (p *Pool) Fragments() uint64    { return p.stat((*alloc.Adapter).Fragments) }

// stat reads a counter without the guard; 0 once the pool is gone.
func (p *Pool) stat(fn func(*alloc.Adapter) uint64) uint64 {
	if !p.ready.Load() {
		return 0
	}
	return fn(p.alloc)
}

// -------------------- Groups --------------------

// GroupID returns the id of a configured group. DefaultGroup is 0.
func (p *Pool) GroupID(name string) (uint16, bool) {
	if name == DefaultGroup {
		return 0, true
	}
	for i, g := range p.cfg.Groups {
		if g == name {
			return uint16(i + 1), true
		}
	}
	return 0, false
}

// GroupStats returns the accounting of one group, read without the guard.
func (p *Pool) GroupStats(name string) (alloc.GroupStats, bool) {
	id, ok := p.GroupID(name)
	if !ok || !p.ready.Load() {
		return alloc.GroupStats{}, false
	}
	return p.alloc.GroupStats(int(id)), true
}

// EachGroup calls fn for every group, DefaultGroup first.
func (p *Pool) EachGroup(fn func(name string, fragments, used, realUsed uint64)) {
	if !p.ready.Load() {
		return
	}
	for i, name := range append([]string{DefaultGroup}, p.cfg.Groups...) {
		st := p.alloc.GroupStats(i)
		fn(name, st.Fragments, st.Used, st.RealUsed)
	}
}

// Histogram is the allocation request histogram since startup.
func (p *Pool) Histogram() *usage.Histogram { return p.hist }

// RegionID is the System V segment id workers attach to, or -1.
func (p *Pool) RegionID() int {
	p.mustReady()
	return p.region.ID()
}

// Shards is the number of independently locked arenas.
func (p *Pool) Shards() int {
	p.mustReady()
	return p.alloc.Shards()
}

// -------------------- Diagnostics --------------------

// Check walks the whole pool with every arena locked and returns the
// fragment count. A broken invariant is fatal: the abort hook runs and
// Check returns 0 only if the hook returns.
func (p *Pool) Check() int {
	p.mustReady()
	p.guard.LockAll()
	n, err := p.alloc.Check()
	p.guard.UnlockAll()

	if err != nil {
		p.abort(err)
		return 0
	}
	level.Debug(p.logger).Log("msg", "pool check passed", "fragments", n)
	return n
}

// -------------------- Teardown --------------------

// Destroy persists the usage pattern, clears the threshold state,
// destroys the guard and releases the region, in that order. Steps
// that fail are logged and do not stop the rest. Only the first call
// does anything.
func (p *Pool) Destroy() error {
	p.destroyOnce.Do(func() {
		p.destroyErr = p.teardown()
	})
	return p.destroyErr
}

func (p *Pool) teardown() error {
	p.ready.Store(false)
	var errs []error

	if p.owner && p.alloc != nil && p.patterns != nil {
		pat := p.hist.Pattern()
		if err := p.patterns.Save(pat); err != nil {
			level.Error(p.logger).Log("msg", "saving usage pattern failed", "err", err)
			errs = append(errs, err)
		} else {
			level.Info(p.logger).Log("msg", "usage pattern saved", "classes", len(pat), "requests", pat.Requests())
		}
	}
	if p.owner && p.notifier != nil {
		p.notifier.Reset()
	}
	if p.owner && p.guard != nil {
		p.guard.Destroy()
		p.state.Destroy()
	}
	if p.region != nil {
		if err := p.prov.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	level.Info(p.logger).Log("msg", "shared pool destroyed")
	if len(errs) > 0 {
		return errors.Wrap(stderrors.Join(errs...), "service: destroy")
	}
	return nil
}
