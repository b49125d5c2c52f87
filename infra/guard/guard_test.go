package guard

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newWords(n int) []*uint32 {
	backing := make([]uint32, n)
	words := make([]*uint32, n)
	for i := range backing {
		backing[i] = 7 // garbage left by a previous owner
		words[i] = &backing[i]
	}
	return words
}

func TestGuard_MutualExclusion(t *testing.T) {
	g := New(newWords(1))

	var (
		wg      sync.WaitGroup
		counter int
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				g.Lock(0)
				counter++
				g.Unlock(0)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 16000, counter)
}

func TestGuard_LockPairOrdering(t *testing.T) {
	g := New(newWords(4))

	var wg sync.WaitGroup
	sums := make([]int, 4)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				a, b := (w+i)%4, (w+2*i+1)%4
				g.LockPair(a, b)
				sums[a]++
				if b != a {
					sums[b]++
				}
				g.UnlockPair(b, a)
			}
		}(w)
	}
	wg.Wait()

	total := 0
	for _, s := range sums {
		total += s
	}
	require.GreaterOrEqual(t, total, 8000)
}

func TestGuard_LockAll(t *testing.T) {
	g := New(newWords(3))
	g.LockAll()
	for _, w := range g.words {
		require.Equal(t, locked, *w)
	}
	g.UnlockAll()
	for _, w := range g.words {
		require.Equal(t, unlocked, *w)
	}
}

func TestGuard_AttachKeepsState(t *testing.T) {
	words := newWords(2)
	g := New(words)
	g.Lock(1)

	other := Attach(words)
	require.Equal(t, 2, other.Len())
	require.Equal(t, locked, *words[1], "attach must not reset held locks")
	other.Unlock(1)
}

func TestGuard_DestroyPanicsOnUse(t *testing.T) {
	g := New(newWords(2))
	g.Destroy()
	require.Panics(t, func() { g.Lock(0) })
	require.Panics(t, func() { g.Unlock(1) })
}

func TestGuard_UnlockUnheldPanics(t *testing.T) {
	g := New(newWords(1))
	require.Panics(t, func() { g.Unlock(0) })
}

func TestWord_Locker(t *testing.T) {
	g := New(newWords(2))
	var l sync.Locker = g.Word(1)
	l.Lock()
	require.Equal(t, locked, *g.words[1])
	require.Equal(t, unlocked, *g.words[0])
	l.Unlock()
}
