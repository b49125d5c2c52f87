package outbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"shmpool/domain/threshold"
	"shmpool/infra/events"
)

func open(t *testing.T, dir string) *Outbox {
	t.Helper()
	o, err := Open(dir)
	require.NoError(t, err)
	return o
}

func collect(t *testing.T, o *Outbox, st State) []Record {
	t.Helper()
	var recs []Record
	require.NoError(t, o.ScanByState(st, func(r Record) error {
		recs = append(recs, r)
		return nil
	}))
	return recs
}

func TestOutbox_PublishAndScan(t *testing.T) {
	o := open(t, t.TempDir())
	defer o.Close()
	ctx := context.Background()

	require.NoError(t, o.Publish(ctx, threshold.Event{UsagePercent: 91, Seq: 5}))
	require.NoError(t, o.Publish(ctx, threshold.Event{UsagePercent: 95}))

	recs := collect(t, o, StateNew)
	require.Len(t, recs, 2)
	require.Equal(t, uint64(5), recs[0].Seq)
	require.Equal(t, uint64(6), recs[1].Seq, "unnumbered events continue the sequence")

	ev, err := events.Decode(recs[1].Payload)
	require.NoError(t, err)
	require.Equal(t, uint64(95), ev.UsagePercent)
	require.Equal(t, uint64(6), ev.Seq)
}

func TestOutbox_StateTransitions(t *testing.T) {
	o := open(t, t.TempDir())
	defer o.Close()
	require.NoError(t, o.Publish(context.Background(), threshold.Event{Seq: 1}))

	require.NoError(t, o.MarkSent(1))
	rec, err := o.Get(1)
	require.NoError(t, err)
	require.Equal(t, StateSent, rec.State)
	require.Equal(t, uint32(1), rec.Retries)
	require.NotZero(t, rec.LastAttempt)
	require.Empty(t, collect(t, o, StateNew))

	require.NoError(t, o.MarkAcked(1))
	require.Len(t, collect(t, o, StateAcked), 1)

	require.NoError(t, o.Delete(1))
	_, err = o.Get(1)
	require.Error(t, err)
}

func TestOutbox_LastSeqSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	o := open(t, dir)
	last, err := o.LastSeq()
	require.NoError(t, err)
	require.Zero(t, last)

	for i := 0; i < 3; i++ {
		require.NoError(t, o.Publish(context.Background(), threshold.Event{}))
	}
	for s := uint64(1); s <= 3; s++ {
		require.NoError(t, o.MarkAcked(s))
	}
	n, err := o.Prune()
	require.NoError(t, err)
	require.Equal(t, 2, n, "newest record kept")
	require.NoError(t, o.Close())

	o = open(t, dir)
	defer o.Close()
	last, err = o.LastSeq()
	require.NoError(t, err)
	require.Equal(t, uint64(3), last)

	require.NoError(t, o.Publish(context.Background(), threshold.Event{}))
	recs := collect(t, o, StateNew)
	require.Len(t, recs, 1)
	require.Equal(t, uint64(4), recs[0].Seq)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "NEW", StateNew.String())
	require.Equal(t, "ACKED", StateAcked.String())
	require.Equal(t, "UNKNOWN", State(9).String())
}
