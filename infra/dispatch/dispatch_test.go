package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"shmpool/domain/threshold"
	"shmpool/infra/events"
)

func TestRing_FIFOAndFull(t *testing.T) {
	r := NewRing(4)
	for i := uint64(1); i <= 4; i++ {
		require.True(t, r.Enqueue(threshold.Event{Seq: i}))
	}
	require.False(t, r.Enqueue(threshold.Event{Seq: 5}))
	require.Equal(t, 4, r.Len())

	for i := uint64(1); i <= 4; i++ {
		ev, ok := r.Dequeue()
		require.True(t, ok)
		require.Equal(t, i, ev.Seq)
	}
	_, ok := r.Dequeue()
	require.False(t, ok)
}

func TestRing_SizeMustBePowerOfTwo(t *testing.T) {
	require.Panics(t, func() { NewRing(3) })
	require.Panics(t, func() { NewRing(0) })
}

func TestRing_SPSC(t *testing.T) {
	r := NewRing(8)
	const n = 10000

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(1); i <= n; {
			if r.Enqueue(threshold.Event{Seq: i}) {
				i++
			}
		}
	}()

	next := uint64(1)
	for next <= n {
		if ev, ok := r.Dequeue(); ok {
			require.Equal(t, next, ev.Seq)
			next++
		}
	}
	<-done
}

func TestAsync_ForwardsEvents(t *testing.T) {
	var (
		mu  sync.Mutex
		got []uint64
	)
	sink := events.Func(func(_ context.Context, ev threshold.Event) error {
		mu.Lock()
		got = append(got, ev.Seq)
		mu.Unlock()
		return nil
	})
	a := NewAsync(sink, 16, log.NewNopLogger())
	require.True(t, a.Subscribed(), "events queued before Run are delivered")
	require.NoError(t, a.Publish(context.Background(), threshold.Event{Seq: 1}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	for i := uint64(2); i <= 3; i++ {
		require.NoError(t, a.Publish(context.Background(), threshold.Event{Seq: i}))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.False(t, a.Subscribed())
	require.Equal(t, []uint64{1, 2, 3}, got)
}

func TestAsync_FullQueueDrops(t *testing.T) {
	a := NewAsync(events.Func(func(context.Context, threshold.Event) error { return nil }), 2, nil)
	require.NoError(t, a.Publish(context.Background(), threshold.Event{Seq: 1}))
	require.NoError(t, a.Publish(context.Background(), threshold.Event{Seq: 2}))
	require.ErrorIs(t, a.Publish(context.Background(), threshold.Event{Seq: 3}), ErrFull)
	require.Equal(t, uint64(1), a.Dropped())

	// a cancelled Run still flushes the backlog
	var n int
	a.next = events.Func(func(context.Context, threshold.Event) error { n++; return nil })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))
	require.Equal(t, 2, n)
}

func TestAsync_KeepsEventFiredBeforeRun(t *testing.T) {
	var got []threshold.Event
	sink := events.Func(func(_ context.Context, ev threshold.Event) error {
		got = append(got, ev)
		return nil
	})
	a := NewAsync(sink, 4, nil)

	var (
		last           int64
		pending, above uint32
	)
	n := threshold.New(90, threshold.State{Last: &last, Pending: &pending, Above: &above}, &sync.Mutex{}, a)
	n.Observe(func() uint64 { return 95 }, 100, func() {}, func() {})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))
	require.Len(t, got, 1)
	require.Equal(t, uint64(95), got[0].UsagePercent)
	require.False(t, a.Subscribed())
}
