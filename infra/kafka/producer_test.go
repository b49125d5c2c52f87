package kafka

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"shmpool/domain/threshold"
	"shmpool/infra/events"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w}

	ev := threshold.Event{UsagePercent: 91, ThresholdPercent: 90, UsedBytes: 955008, TotalBytes: 1048576, Seq: 2}
	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)
	require.Equal(t, threshold.Key, string(w.msgs[0].Key))

	got, err := events.Decode(w.msgs[0].Value)
	require.NoError(t, err)
	require.Equal(t, ev.UsedBytes, got.UsedBytes)
	require.Equal(t, ev.Seq, got.Seq)

	require.NoError(t, p.Close())
	require.True(t, w.closed)
}

func TestProducer_PublishError(t *testing.T) {
	boom := errors.New("leader not available")
	p := &Producer{writer: &fakeWriter{err: boom}}
	require.ErrorIs(t, p.Publish(context.Background(), threshold.Event{}), boom)
}

func TestNewProducer_Config(t *testing.T) {
	p := NewProducer([]string{"127.0.0.1:9092"}, "shm-events")
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	require.Equal(t, "shm-events", w.Topic)
	require.Equal(t, kafka.RequireAll, w.RequiredAcks)
}
