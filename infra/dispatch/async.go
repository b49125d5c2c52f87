package dispatch

import (
	"context"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"shmpool/domain/threshold"
)

// ErrFull is returned by Publish when the ring has no room.
var ErrFull = errors.New("dispatch: queue full")

// Async queues events for a background goroutine that forwards them to
// the wrapped publisher.
//
// The ring has a single producer. That holds because the pool's pending
// flag lets only one Publish run at a time within a process; Async must
// not be shared by publishers outside that protocol.
type Async struct {
	ring    *Ring
	next    threshold.Publisher
	wake    chan struct{}
	stopped atomic.Bool
	dropped atomic.Uint64
	logger  log.Logger
}

func NewAsync(next threshold.Publisher, size uint64, logger log.Logger) *Async {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Async{
		ring:   NewRing(size),
		next:   next,
		wake:   make(chan struct{}, 1),
		logger: log.With(logger, "component", "dispatch"),
	}
}

// Publish enqueues ev without blocking.
func (a *Async) Publish(_ context.Context, ev threshold.Event) error {
	if !a.ring.Enqueue(ev) {
		a.dropped.Add(1)
		return ErrFull
	}
	select {
	case a.wake <- struct{}{}:
	default:
	}
	return nil
}

// Subscribed reports whether queued events will still be delivered:
// true from construction, so events queued before Run starts are kept,
// and false once Run has returned.
func (a *Async) Subscribed() bool {
	return !a.stopped.Load()
}

// Dropped counts events rejected because the queue was full.
func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

// Run forwards queued events until ctx is done, then flushes what is
// left with a background context.
func (a *Async) Run(ctx context.Context) error {
	defer a.stopped.Store(true)

	for {
		select {
		case <-ctx.Done():
			a.drain(context.Background())
			return nil
		case <-a.wake:
			a.drain(ctx)
		}
	}
}

func (a *Async) drain(ctx context.Context) {
	for {
		ev, ok := a.ring.Dequeue()
		if !ok {
			return
		}
		if err := a.next.Publish(ctx, ev); err != nil {
			level.Warn(a.logger).Log("msg", "event delivery failed", "seq", ev.Seq, "err", err)
		}
	}
}
