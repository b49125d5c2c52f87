package service

import (
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"shmpool/domain/alloc"
)

/*
WarmUp replays the stored usage pattern into the pool.

Every entry is allocated Count times, then every block is freed in
reverse order. Small blocks land on the quick lists, so the pool starts
with the free-list shape the previous run left behind.

- a pattern larger than the free space is scaled down
- replay stops at the first allocation the pool cannot satisfy
- replayed requests are recorded, so the saved pattern accumulates
- no threshold events fire during replay

It returns the number of blocks replayed. It must run before the pool
serves traffic.
*/
func (p *Pool) WarmUp() (int, error) {
	p.mustReady()
	if p.patterns == nil {
		return 0, nil
	}

	pat, ok, err := p.patterns.Load()
	if err != nil {
		return 0, errors.Wrap(err, "service: warm up")
	}
	if !ok || len(pat) == 0 {
		level.Info(p.logger).Log("msg", "no usage pattern stored, cold start")
		return 0, nil
	}

	free := p.FreeSize()
	if need := pat.Demand(alloc.Overhead); need > free {
		level.Info(p.logger).Log("msg", "usage pattern larger than pool, scaling down", "need", need, "free", free)
		pat = pat.Scale(free, need)
	}

	ptrs := make([]alloc.Ptr, 0, pat.Requests())
	var stopped error
replay:
	for _, e := range pat {
		for i := uint64(0); i < e.Count; i++ {
			ptr := p.allocate(e.Size, 0, false)
			if ptr == alloc.Nil {
				stopped = errors.Wrapf(ErrExhausted, "replaying %d byte blocks", e.Size)
				break replay
			}
			ptrs = append(ptrs, ptr)
		}
	}
	for i := len(ptrs) - 1; i >= 0; i-- {
		p.free(ptrs[i], false)
	}

	if stopped != nil {
		level.Warn(p.logger).Log("msg", "warm up stopped early", "replayed", len(ptrs), "err", stopped)
	} else {
		level.Info(p.logger).Log("msg", "warm up done", "replayed", len(ptrs), "fragments", p.Fragments())
	}
	return len(ptrs), nil
}
