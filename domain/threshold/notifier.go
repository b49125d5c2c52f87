package threshold

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// State points at the threshold words in the shared pool header.
// Every field is read and written under the state lock.
type State struct {
	Last    *int64
	Pending *uint32
	Above   *uint32
}

// Notifier implements the threshold protocol over a shared State.
type Notifier struct {
	percent uint64
	st      State
	lock    sync.Locker
	pub     Publisher
	seq     Sequence
	logger  log.Logger
	now     func() time.Time
	ctx     context.Context
}

type Option func(*Notifier)

func WithLogger(l log.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

func WithSequence(s Sequence) Option {
	return func(n *Notifier) { n.seq = s }
}

func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// WithContext sets the context handed to Publish.
func WithContext(ctx context.Context) Option {
	return func(n *Notifier) { n.ctx = ctx }
}

// New builds a notifier firing at percent (1..100). percent 0 disables
// it. lock guards st and must be ordered after the pool guard words.
func New(percent uint64, st State, lock sync.Locker, pub Publisher, opts ...Option) *Notifier {
	n := &Notifier{
		percent: percent,
		st:      st,
		lock:    lock,
		pub:     pub,
		logger:  log.NewNopLogger(),
		now:     time.Now,
		ctx:     context.Background(),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Enabled reports whether a threshold is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.percent > 0 && n.pub != nil
}

func (n *Notifier) Percent() uint64 { return n.percent }

// Observe evaluates usage after a mutation. The caller holds the pool
// guard; release and reacquire drop and retake it around the publish
// call. When no event fires neither callback runs.
//
// used is read under the state lock: callers holding different arena
// guards reach it in any order, and each must see the counter as of its
// own turn or a stale reading can undo a newer re-arm.
func (n *Notifier) Observe(used func() uint64, total uint64, release, reacquire func()) {
	if !n.Enabled() || total == 0 {
		return
	}

	n.lock.Lock()
	cur := used()
	perc := cur * 100 / total
	if perc < n.percent {
		atomic.StoreUint32(n.st.Above, 0)
		n.lock.Unlock()
		return
	}
	if atomic.LoadUint32(n.st.Above) != 0 || atomic.LoadUint32(n.st.Pending) != 0 {
		n.lock.Unlock()
		return
	}
	atomic.StoreUint32(n.st.Pending, 1)
	atomic.StoreInt64(n.st.Last, int64(perc))
	atomic.StoreUint32(n.st.Above, 1)
	n.lock.Unlock()

	ev := Event{
		UsagePercent:     perc,
		ThresholdPercent: n.percent,
		UsedBytes:        cur,
		TotalBytes:       total,
		Time:             n.now().UTC(),
	}
	if n.seq != nil {
		ev.Seq = n.seq.Next()
	}

	release()
	n.publish(ev)
	reacquire()

	n.lock.Lock()
	atomic.StoreUint32(n.st.Pending, 0)
	n.lock.Unlock()
}

func (n *Notifier) publish(ev Event) {
	if p, ok := n.pub.(Prober); ok && !p.Subscribed() {
		level.Debug(n.logger).Log("msg", "threshold crossed, no subscribers", "usage_percent", ev.UsagePercent)
		return
	}
	if err := n.pub.Publish(n.ctx, ev); err != nil {
		level.Warn(n.logger).Log("msg", "threshold event dropped", "usage_percent", ev.UsagePercent, "seq", ev.Seq, "err", err)
		return
	}
	level.Info(n.logger).Log("msg", "threshold event published", "usage_percent", ev.UsagePercent, "threshold_percent", ev.ThresholdPercent, "seq", ev.Seq)
}

// Snapshot reads the shared state.
func (n *Notifier) Snapshot() (last int64, pending, above bool) {
	n.lock.Lock()
	defer n.lock.Unlock()
	return atomic.LoadInt64(n.st.Last), atomic.LoadUint32(n.st.Pending) != 0, atomic.LoadUint32(n.st.Above) != 0
}

// Reset clears the shared state. Called once at teardown.
func (n *Notifier) Reset() {
	n.lock.Lock()
	atomic.StoreInt64(n.st.Last, 0)
	atomic.StoreUint32(n.st.Pending, 0)
	atomic.StoreUint32(n.st.Above, 0)
	n.lock.Unlock()
}
