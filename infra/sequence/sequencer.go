package sequence

import "sync/atomic"

// Sequencer numbers threshold events. IDs are strictly increasing
// within a process; a restart seeds it from the highest id the outbox
// still holds so ids never repeat across runs.
type Sequencer struct {
	last atomic.Uint64
}

// New starts after the given id: 0 on a fresh start, the outbox's
// last id on restart.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

// Next returns the next event id.
func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last id handed out.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Advance moves the sequencer forward to at least v. It never moves
// it back.
func (s *Sequencer) Advance(v uint64) {
	for {
		cur := s.last.Load()
		if v <= cur || s.last.CompareAndSwap(cur, v) {
			return
		}
	}
}
