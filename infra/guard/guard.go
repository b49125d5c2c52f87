package guard

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

const (
	unlocked  uint32 = 0
	locked    uint32 = 1
	destroyed uint32 = 0xdead

	spinsBeforeYield = 64
)

// Guard is a fixed set of lock words. Word i guards arena i.
type Guard struct {
	words []*uint32
}

// New takes ownership of words and resets them to unlocked. Only the
// process that laid out the region calls New.
func New(words []*uint32) *Guard {
	for _, w := range words {
		atomic.StoreUint32(w, unlocked)
	}
	return &Guard{words: words}
}

// Attach wraps lock words already initialized by another process.
func Attach(words []*uint32) *Guard {
	return &Guard{words: words}
}

// Len is the number of lock words.
func (g *Guard) Len() int { return len(g.words) }

// Lock blocks until word i is held by the caller.
func (g *Guard) Lock(i int) {
	w := g.words[i]
	for spins := 0; ; spins++ {
		switch atomic.LoadUint32(w) {
		case unlocked:
			if atomic.CompareAndSwapUint32(w, unlocked, locked) {
				return
			}
		case destroyed:
			panic(fmt.Sprintf("guard: lock %d used after destroy", i))
		}
		if spins >= spinsBeforeYield {
			runtime.Gosched()
			spins = 0
		}
	}
}

// Unlock releases word i. Releasing a word that is not held is a bug
// in the caller and panics.
func (g *Guard) Unlock(i int) {
	if !atomic.CompareAndSwapUint32(g.words[i], locked, unlocked) {
		panic(fmt.Sprintf("guard: unlock of lock %d in state %#x", i, atomic.LoadUint32(g.words[i])))
	}
}

// LockPair takes words i and j in index order. i == j takes one word.
func (g *Guard) LockPair(i, j int) {
	if i > j {
		i, j = j, i
	}
	g.Lock(i)
	if j != i {
		g.Lock(j)
	}
}

func (g *Guard) UnlockPair(i, j int) {
	if i > j {
		i, j = j, i
	}
	if j != i {
		g.Unlock(j)
	}
	g.Unlock(i)
}

// LockAll takes every word in index order.
func (g *Guard) LockAll() {
	for i := range g.words {
		g.Lock(i)
	}
}

func (g *Guard) UnlockAll() {
	for i := len(g.words) - 1; i >= 0; i-- {
		g.Unlock(i)
	}
}

// Destroy marks every word destroyed. Any later Lock panics. The
// caller makes sure no one holds or waits on the guard.
func (g *Guard) Destroy() {
	for _, w := range g.words {
		atomic.StoreUint32(w, destroyed)
	}
}

// Word adapts one lock word to sync.Locker.
func (g *Guard) Word(i int) Word {
	return Word{g: g, i: i}
}

// Word is a single lock of a Guard.
type Word struct {
	g *Guard
	i int
}

func (w Word) Lock()   { w.g.Lock(w.i) }
func (w Word) Unlock() { w.g.Unlock(w.i) }
