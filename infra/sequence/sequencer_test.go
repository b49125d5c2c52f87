package sequence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequencer_Monotonic(t *testing.T) {
	s := New(41)
	require.Equal(t, uint64(42), s.Next())
	require.Equal(t, uint64(42), s.Current())

	s.Advance(10)
	require.Equal(t, uint64(42), s.Current(), "never moves back")
	s.Advance(100)
	require.Equal(t, uint64(101), s.Next())
}

func TestSequencer_ConcurrentUnique(t *testing.T) {
	s := New(0)
	var (
		mu   sync.Mutex
		seen = map[uint64]bool{}
		wg   sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := s.Next()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, 4000)
	require.Equal(t, uint64(4000), s.Current())
}
