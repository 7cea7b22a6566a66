package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// KafkaPublisher writes status events to a Kafka topic keyed by
// attempt id so all transitions of one attempt land on one partition.
type KafkaPublisher struct {
	logger   zerolog.Logger
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time
}

// KafkaOption customises the publisher.
type KafkaOption func(*KafkaPublisher)

// WithClock overrides the clock used to default event timestamps.
func WithClock(now func() time.Time) KafkaOption {
	return func(p *KafkaPublisher) {
		if now != nil {
			p.now = now
		}
	}
}

// NewKafkaPublisher constructs a publisher backed by a sync producer.
func NewKafkaPublisher(brokers []string, topic string, logger zerolog.Logger, opts ...KafkaOption) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher: at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("kafka publisher: topic is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: create producer: %w", err)
	}

	p := &KafkaPublisher{
		logger:   logger,
		producer: producer,
		topic:    topic,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, event StatusEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka publisher: encode event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.AttemptID),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka publisher: send: %w", err)
	}
	return nil
}

// Close releases the underlying producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
