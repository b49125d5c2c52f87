//go:build linux || darwin

package region

import (
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
)

func TestAcquire_AnonMapping(t *testing.T) {
	p := New(KindAnon, log.NewNopLogger())
	r, err := p.Acquire(1 << 20)
	require.NoError(t, err)
	require.Len(t, r.Mem, 1<<20)

	r.Mem[0], r.Mem[len(r.Mem)-1] = 1, 2
	require.Equal(t, byte(2), r.Mem[len(r.Mem)-1])
	require.NoError(t, p.Release())
	require.NoError(t, p.Release())
}
