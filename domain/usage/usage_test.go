package usage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassOf(t *testing.T) {
	cases := []struct {
		size  uint64
		class int
	}{
		{0, 0},
		{1, 0},
		{16, 0},
		{17, 1},
		{32, 1},
		{4095, 255},
		{4096, 255},
		{4097, 256},
		{8192, 256},
		{8193, 257},
		{1 << 20, 256 + 20 - 13},
		{^uint64(0), Classes - 1},
	}
	for _, c := range cases {
		require.Equal(t, c.class, ClassOf(c.size), "size %d", c.size)
	}
}

func TestClassSize_RoundTrips(t *testing.T) {
	for c := 0; c < Classes-1; c++ {
		s := ClassSize(c)
		require.Equal(t, c, ClassOf(s), "class %d size %d", c, s)
		require.GreaterOrEqual(t, s, uint64(Granularity))
	}
}

func TestHistogram_RecordConcurrent(t *testing.T) {
	h := NewHistogram()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				h.Record(100)
				h.Record(10000)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, uint64(8000), h.Count(ClassOf(100)))
	require.Equal(t, uint64(8000), h.Count(ClassOf(10000)))
	require.Equal(t, uint64(16000), h.Total())
	require.Zero(t, h.Count(-1))
	require.Zero(t, h.Count(Classes))
}

func TestHistogram_Pattern(t *testing.T) {
	h := NewHistogram()
	h.Record(5000)
	h.Record(10)
	h.Record(12)
	h.Record(100)

	p := h.Pattern()
	require.Equal(t, Pattern{
		{Size: 16, Count: 2},
		{Size: 112, Count: 1},
		{Size: 8192, Count: 1},
	}, p)
	require.Equal(t, uint64(4), p.Requests())

	var classes []int
	h.Each(func(class int, size, count uint64) {
		classes = append(classes, class)
		require.Equal(t, ClassSize(class), size)
	})
	require.Equal(t, []int{0, 6, 256}, classes)
}

func TestPattern_Demand(t *testing.T) {
	p := Pattern{{Size: 16, Count: 10}, {Size: 1024, Count: 2}}
	require.Equal(t, uint64(10*(16+16)+2*(1024+16)), p.Demand(16))
	require.Zero(t, Pattern(nil).Demand(16))
}

func TestPattern_Scale(t *testing.T) {
	p := Pattern{{Size: 16, Count: 10}, {Size: 64, Count: 1}, {Size: 128, Count: 7}}

	half := p.Scale(1, 2)
	require.Equal(t, Pattern{{Size: 16, Count: 5}, {Size: 128, Count: 3}}, half)

	same := p.Scale(3, 2)
	require.Equal(t, p, same)
	same[0].Count = 0
	require.Equal(t, uint64(10), p[0].Count, "Scale returns a copy")
}

func TestPattern_Counts(t *testing.T) {
	p := Pattern{{Size: 10, Count: 1}, {Size: 16, Count: 2}, {Size: 5000, Count: 3}}
	require.Equal(t, map[int]uint64{0: 3, 256: 3}, p.Counts())
}
