package kafka

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"shmpool/domain/threshold"
	"shmpool/infra/events"
)

// messageWriter is the part of kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes threshold events to a Kafka topic.
type Producer struct {
	writer messageWriter
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Send writes one message and waits for the broker acknowledgement.
func (p *Producer) Send(ctx context.Context, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
	})
}

// Publish implements threshold.Publisher.
func (p *Producer) Publish(ctx context.Context, ev threshold.Event) error {
	payload, err := events.Encode(ev)
	if err != nil {
		return err
	}
	return errors.Wrap(p.Send(ctx, []byte(threshold.Key), payload), "kafka: publish")
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
