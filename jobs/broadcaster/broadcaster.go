package broadcaster

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"shmpool/domain/threshold"
	"shmpool/infra/events"
	"shmpool/infra/outbox"
)

// DefaultMaxRetries is how many delivery attempts a record gets before
// it is parked as FAILED.
const DefaultMaxRetries = 5

// Broadcaster drains the event outbox to Kafka.
type Broadcaster struct {
	outbox     *outbox.Outbox
	producer   sarama.SyncProducer
	topic      string
	interval   time.Duration
	maxRetries uint32
	logger     log.Logger
}

// ------------------------------------------------
// CONSTRUCTOR
// ------------------------------------------------

func New(
	ob *outbox.Outbox,
	producer sarama.SyncProducer,
	topic string,
	interval time.Duration,
	logger log.Logger,
) *Broadcaster {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Broadcaster{
		outbox:     ob,
		producer:   producer,
		topic:      topic,
		interval:   interval,
		maxRetries: DefaultMaxRetries,
		logger:     log.With(logger, "component", "broadcaster"),
	}
}

// Dial connects a sarama producer and builds the broadcaster.
func Dial(
	ob *outbox.Outbox,
	brokers []string,
	topic string,
	interval time.Duration,
	logger log.Logger,
) (*Broadcaster, error) {
	producer, err := sarama.NewSyncProducer(brokers, events.NewSaramaConfig())
	if err != nil {
		return nil, errors.Wrap(err, "broadcaster: producer")
	}
	return New(ob, producer, topic, interval, logger), nil
}

// ------------------------------------------------
// RUN LOOP
// ------------------------------------------------

// Run drains the outbox every interval until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	level.Info(b.logger).Log("msg", "started", "topic", b.topic, "interval", b.interval)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			level.Info(b.logger).Log("msg", "stopped")
			return nil
		case <-ticker.C:
			b.DrainOnce()
		}
	}
}

// ------------------------------------------------
// DRAIN
// ------------------------------------------------

// DrainOnce sends every NEW record and retries every SENT record that
// was not acknowledged. It returns the number acknowledged.
func (b *Broadcaster) DrainOnce() int {
	var pending []outbox.Record
	for _, st := range []outbox.State{outbox.StateNew, outbox.StateSent} {
		err := b.outbox.ScanByState(st, func(r outbox.Record) error {
			pending = append(pending, r)
			return nil
		})
		if err != nil {
			level.Error(b.logger).Log("msg", "outbox scan failed", "state", st, "err", err)
			return 0
		}
	}

	acked := 0
	for _, rec := range pending {
		if b.deliver(rec) {
			acked++
		}
	}

	if acked > 0 {
		if n, err := b.outbox.Prune(); err != nil {
			level.Warn(b.logger).Log("msg", "outbox prune failed", "err", err)
		} else {
			level.Debug(b.logger).Log("msg", "outbox pruned", "records", n)
		}
	}
	return acked
}

func (b *Broadcaster) deliver(rec outbox.Record) bool {
	if rec.Retries >= b.maxRetries {
		if err := b.outbox.UpdateState(rec.Seq, outbox.StateFailed, rec.Retries); err != nil {
			level.Error(b.logger).Log("msg", "marking record failed", "seq", rec.Seq, "err", err)
		}
		level.Error(b.logger).Log("msg", "event undeliverable", "seq", rec.Seq, "retries", rec.Retries)
		return false
	}

	// mark SENT before the attempt so a crash mid-send is retried
	if err := b.outbox.MarkSent(rec.Seq); err != nil {
		level.Error(b.logger).Log("msg", "marking record sent failed", "seq", rec.Seq, "err", err)
		return false
	}

	_, _, err := b.producer.SendMessage(&sarama.ProducerMessage{
		Topic: b.topic,
		Key:   sarama.StringEncoder(threshold.Key),
		Value: sarama.ByteEncoder(rec.Payload),
	})
	if err != nil {
		level.Warn(b.logger).Log("msg", "send failed, will retry", "seq", rec.Seq, "err", err)
		return false
	}

	if err := b.outbox.MarkAcked(rec.Seq); err != nil {
		level.Error(b.logger).Log("msg", "marking record acked failed", "seq", rec.Seq, "err", err)
		return false
	}
	return true
}

// ------------------------------------------------
// SHUTDOWN
// ------------------------------------------------

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
