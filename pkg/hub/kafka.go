package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes each message to a topic, keyed by source.
type KafkaPublisher struct {
	writer messageWriter
	key    []byte
}

func NewKafkaPublisher(brokers []string, topic, key string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		key: []byte(key),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, payload []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   p.key,
		Value: payload,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
