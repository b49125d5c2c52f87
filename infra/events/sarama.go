package events

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/pkg/errors"

	"shmpool/domain/threshold"
)

// Sarama publishes events synchronously through a sarama producer.
type Sarama struct {
	producer sarama.SyncProducer
	topic    string
}

// NewSaramaConfig is the producer configuration used for events.
func NewSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	return cfg
}

// DialSarama connects a sync producer to brokers.
func DialSarama(brokers []string, topic string) (*Sarama, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewSaramaConfig())
	if err != nil {
		return nil, errors.Wrap(err, "events: sarama producer")
	}
	return NewSarama(producer, topic), nil
}

func NewSarama(producer sarama.SyncProducer, topic string) *Sarama {
	return &Sarama{producer: producer, topic: topic}
}

func (s *Sarama) Publish(_ context.Context, ev threshold.Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(threshold.Key),
		Value: sarama.ByteEncoder(payload),
	})
	return errors.Wrap(err, "events: sarama send")
}

func (s *Sarama) Close() error {
	return s.producer.Close()
}
