package region

import (
	"testing"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// fakeOps records OS calls and fails the ones it is told to.
type fakeOps struct {
	fail    map[string]bool
	calls   []string
	removed []int
	nextID  int
}

func (f *fakeOps) call(name string) error {
	f.calls = append(f.calls, name)
	if f.fail[name] {
		return errors.Errorf("%s: injected failure", name)
	}
	return nil
}

func (f *fakeOps) mmapAnon(size int) ([]byte, error) {
	if err := f.call("mmapAnon"); err != nil {
		return nil, err
	}
	return make([]byte, size), nil
}

func (f *fakeOps) mmapZero(size int) ([]byte, error) {
	if err := f.call("mmapZero"); err != nil {
		return nil, err
	}
	return make([]byte, size), nil
}

func (f *fakeOps) shmGet(int) (int, error) {
	if err := f.call("shmGet"); err != nil {
		return -1, err
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeOps) shmAttach(int) ([]byte, error) {
	if err := f.call("shmAttach"); err != nil {
		return nil, err
	}
	return make([]byte, 4096), nil
}

func (f *fakeOps) shmDetach([]byte) error { return f.call("shmDetach") }
func (f *fakeOps) munmap([]byte) error    { return f.call("munmap") }

func (f *fakeOps) shmRemove(id int) error {
	f.removed = append(f.removed, id)
	return f.call("shmRemove")
}

func newFake(kind Kind, fail ...string) (*Provisioner, *fakeOps) {
	ops := &fakeOps{fail: map[string]bool{}}
	for _, f := range fail {
		ops.fail[f] = true
	}
	p := New(kind, log.NewNopLogger())
	p.ops = ops
	return p, ops
}

func TestAcquire_SecondCallFails(t *testing.T) {
	p, _ := newFake(KindAuto)
	r, err := p.Acquire(1 << 20)
	require.NoError(t, err)
	require.Equal(t, KindAnon, r.Kind)
	require.Equal(t, -1, r.ID())

	_, err = p.Acquire(1 << 20)
	require.ErrorIs(t, err, ErrAlreadyInitialized)
	require.Same(t, r, p.Region(), "first region untouched")
	require.Len(t, r.Mem, 1<<20)
}

func TestAcquire_RoundsToPage(t *testing.T) {
	p, _ := newFake(KindAnon)
	r, err := p.Acquire(100)
	require.NoError(t, err)
	require.Greater(t, r.Size(), 100)
	require.Zero(t, r.Size()%4096)
}

func TestAcquire_FallsBack(t *testing.T) {
	p, ops := newFake(KindAuto, "mmapAnon", "mmapZero")
	r, err := p.Acquire(1 << 16)
	require.NoError(t, err)
	require.Equal(t, KindSysV, r.Kind)
	require.Equal(t, 1, r.ID())
	require.Equal(t, []string{"mmapAnon", "mmapZero", "shmGet", "shmAttach"}, ops.calls)
}

func TestAcquire_AttachFailureRemovesSegment(t *testing.T) {
	p, ops := newFake(KindSysV, "shmAttach")
	_, err := p.Acquire(1 << 16)
	require.ErrorIs(t, err, ErrResource)
	require.Equal(t, []int{1}, ops.removed)
	require.Nil(t, p.Region())

	// provisioner stays usable
	delete(ops.fail, "shmAttach")
	_, err = p.Acquire(1 << 16)
	require.NoError(t, err)
}

func TestAcquire_AllBackingsFail(t *testing.T) {
	p, _ := newFake(KindAuto, "mmapAnon", "mmapZero", "shmGet")
	_, err := p.Acquire(1 << 16)
	require.ErrorIs(t, err, ErrResource)
	require.Contains(t, err.Error(), "anon")
	require.Contains(t, err.Error(), "sysv")

	_, err = p.Acquire(0)
	require.ErrorIs(t, err, ErrResource)
}

func TestRelease_Idempotent(t *testing.T) {
	p, ops := newFake(KindSysV)
	require.NoError(t, p.Release(), "release before acquire")

	_, err := p.Acquire(1 << 16)
	require.NoError(t, err)
	require.NoError(t, p.Release())
	require.NoError(t, p.Release())
	require.Equal(t, []string{"shmGet", "shmAttach", "shmDetach", "shmRemove"}, ops.calls)
	require.Nil(t, p.Region())
}

func TestRelease_ContinuesAfterFailure(t *testing.T) {
	p, ops := newFake(KindSysV, "shmDetach")
	_, err := p.Acquire(1 << 16)
	require.NoError(t, err)

	err = p.Release()
	require.Error(t, err)
	require.Equal(t, []int{1}, ops.removed, "segment removed even though detach failed")
	require.Nil(t, p.Region())
	require.NoError(t, p.Release())
}

func TestAttach_DoesNotRemoveSegment(t *testing.T) {
	p, ops := newFake(KindAuto)
	r, err := p.Attach(42)
	require.NoError(t, err)
	require.Equal(t, 42, r.ID())

	_, err = p.Attach(42)
	require.ErrorIs(t, err, ErrAlreadyInitialized)

	require.NoError(t, p.Release())
	require.Empty(t, ops.removed)
	require.Equal(t, []string{"shmAttach", "shmDetach"}, ops.calls)
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindAuto, KindAnon, KindZero, KindSysV} {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		require.Equal(t, k, got)
	}
	_, err := ParseKind("posix")
	require.Error(t, err)
}
