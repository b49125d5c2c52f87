package threshold

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events     []Event
	err        error
	subscribed *bool
	during     func(Event)
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	if r.during != nil {
		r.during(ev)
	}
	r.events = append(r.events, ev)
	return r.err
}

type probedRecorder struct{ *recorder }

func (p probedRecorder) Subscribed() bool { return *p.subscribed }

type counter uint64

func (c *counter) Next() uint64 { *c++; return uint64(*c) }

func newState() State {
	var (
		last           int64
		pending, above uint32
	)
	return State{Last: &last, Pending: &pending, Above: &above}
}

func noop() {}

func fixed(v uint64) func() uint64 {
	return func() uint64 { return v }
}

// heldLock tracks whether it is held.
type heldLock struct {
	mu   sync.Mutex
	held bool
}

func (l *heldLock) Lock()   { l.mu.Lock(); l.held = true }
func (l *heldLock) Unlock() { l.held = false; l.mu.Unlock() }

func TestNotifier_EdgeTriggered(t *testing.T) {
	rec := &recorder{}
	var seq counter
	n := New(80, newState(), &sync.Mutex{}, rec, WithSequence(&seq))

	for _, used := range []uint64{79, 81, 75, 85} {
		n.Observe(fixed(used), 100, noop, noop)
	}

	require.Len(t, rec.events, 2)
	require.Equal(t, uint64(81), rec.events[0].UsagePercent)
	require.Equal(t, uint64(85), rec.events[1].UsagePercent)
	require.Equal(t, uint64(80), rec.events[1].ThresholdPercent)
	require.Equal(t, []uint64{1, 2}, []uint64{rec.events[0].Seq, rec.events[1].Seq})

	last, pending, above := n.Snapshot()
	require.Equal(t, int64(85), last)
	require.False(t, pending)
	require.True(t, above)
}

func TestNotifier_StaysQuietWhileAbove(t *testing.T) {
	rec := &recorder{}
	n := New(50, newState(), &sync.Mutex{}, rec)
	for _, used := range []uint64{50, 60, 99, 100, 51} {
		n.Observe(fixed(used), 100, noop, noop)
	}
	require.Len(t, rec.events, 1)
	require.Equal(t, uint64(50), rec.events[0].UsagePercent)
}

func TestNotifier_ReleasesGuardAroundPublish(t *testing.T) {
	var held bool
	var order []string
	rec := &recorder{during: func(Event) {
		require.False(t, held, "publish must run without the pool guard")
		order = append(order, "publish")
	}}
	n := New(90, newState(), &sync.Mutex{}, rec)

	held = true
	n.Observe(fixed(950), 1000,
		func() { held = false; order = append(order, "release") },
		func() { held = true; order = append(order, "reacquire") },
	)
	require.Equal(t, []string{"release", "publish", "reacquire"}, order)
	require.True(t, held)
}

func TestNotifier_PendingBlocksSecondFire(t *testing.T) {
	rec := &recorder{}
	n := New(90, newState(), &sync.Mutex{}, rec)
	rec.during = func(Event) {
		if len(rec.events) > 0 {
			return
		}
		n.Observe(fixed(10), 100, noop, noop) // re-arms
		n.Observe(fixed(95), 100, noop, noop) // pending: must not fire
		_, pending, _ := n.Snapshot()
		require.True(t, pending)
	}

	n.Observe(fixed(92), 100, noop, noop)
	require.Len(t, rec.events, 1)

	_, pending, above := n.Snapshot()
	require.False(t, pending)
	require.False(t, above, "re-armed during the pending window")

	n.Observe(fixed(93), 100, noop, noop)
	require.Len(t, rec.events, 2)
}

func TestNotifier_PublishFailureIsDropped(t *testing.T) {
	rec := &recorder{err: errors.New("broker down")}
	n := New(90, newState(), &sync.Mutex{}, rec)

	n.Observe(fixed(91), 100, noop, noop)
	n.Observe(fixed(99), 100, noop, noop)
	require.Len(t, rec.events, 1)

	_, pending, above := n.Snapshot()
	require.False(t, pending)
	require.True(t, above)
}

func TestNotifier_Disabled(t *testing.T) {
	rec := &recorder{}
	st := newState()
	n := New(0, st, &sync.Mutex{}, rec)
	require.False(t, n.Enabled())

	n.Observe(fixed(100), 100, func() { t.Fatal("release called") }, noop)
	require.Empty(t, rec.events)
	require.Zero(t, *st.Above)

	require.False(t, New(90, newState(), &sync.Mutex{}, nil).Enabled())
}

func TestNotifier_SkipsPublishWithoutSubscribers(t *testing.T) {
	subscribed := false
	rec := &recorder{subscribed: &subscribed}
	n := New(90, newState(), &sync.Mutex{}, probedRecorder{rec})

	n.Observe(fixed(95), 100, noop, noop)
	require.Empty(t, rec.events)
	_, _, above := n.Snapshot()
	require.True(t, above)

	subscribed = true
	n.Observe(fixed(10), 100, noop, noop)
	n.Observe(fixed(95), 100, noop, noop)
	require.Len(t, rec.events, 1)
}

func TestNotifier_EventFields(t *testing.T) {
	rec := &recorder{}
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	n := New(90, newState(), &sync.Mutex{}, rec, WithClock(func() time.Time { return at }))

	n.Observe(fixed(970000), 1048576, noop, noop)
	require.Equal(t, Event{
		UsagePercent:     92,
		ThresholdPercent: 90,
		UsedBytes:        970000,
		TotalBytes:       1048576,
		Time:             at.UTC(),
	}, rec.events[0])

	n.Reset()
	last, pending, above := n.Snapshot()
	require.Zero(t, last)
	require.False(t, pending)
	require.False(t, above)
}

func TestNotifier_ReadsUsageUnderStateLock(t *testing.T) {
	rec := &recorder{}
	lock := &heldLock{}
	n := New(90, newState(), lock, rec)

	reads := 0
	used := func() uint64 {
		require.True(t, lock.held, "usage read outside the state lock")
		reads++
		return 95
	}
	n.Observe(used, 100, noop, noop)
	require.Equal(t, 1, reads)
	require.Len(t, rec.events, 1)
	require.Equal(t, uint64(95), rec.events[0].UsedBytes)
}

func TestNotifier_LateObserverSeesCurrentUsage(t *testing.T) {
	rec := &recorder{}
	n := New(90, newState(), &sync.Mutex{}, rec)

	// The allocation pushing usage to 91% and the free bringing it to
	// 75% both finished before either caller reached the state lock.
	// Whatever order they take it in, both see 75% and nothing fires.
	var used uint64 = 75
	counter := func() uint64 { return used }
	n.Observe(counter, 100, noop, noop)
	n.Observe(counter, 100, noop, noop)
	require.Empty(t, rec.events)

	_, _, above := n.Snapshot()
	require.False(t, above)

	used = 92
	n.Observe(counter, 100, noop, noop)
	require.Len(t, rec.events, 1, "next real crossing still fires")
}
