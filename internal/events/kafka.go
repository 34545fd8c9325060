package events

import (
	"context"
	"time"

	"github.com/gocomet/ride-dispatch/internal/observability"
	"github.com/gocomet/ride-dispatch/pkg/logger"
	"github.com/segmentio/kafka-go"
)

const publishTimeout = 2 * time.Second

// KafkaPublisher writes events to one topic, keyed by the event key so events
// for the same ride or driver stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *logger.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log *logger.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w, logger: log}
}

func (k *KafkaPublisher) Publish(ctx context.Context, e Event) {
	payload, err := e.Encode()
	if err != nil {
		k.fail(e, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	})
	if err != nil {
		k.fail(e, err)
	}
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

func (k *KafkaPublisher) fail(e Event, err error) {
	observability.EventPublishFailures.Inc()
	k.logger.Warn("Failed to publish dispatch event",
		logger.String("type", string(e.Type)),
		logger.String("key", e.Key),
		logger.Err(err),
	)
}
