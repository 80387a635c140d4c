package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type ProducerConfig struct {
	Brokers      []string
	BatchTimeout time.Duration // default 10ms
	WriteTimeout time.Duration // default 5s
}

// Producer is a thin wrapper around segmentio/kafka-go Writer. The topic is
// chosen per message.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(c ProducerConfig) *Producer {

	w := &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           orDuration(c.BatchTimeout, 10*time.Millisecond),
		WriteTimeout:           orDuration(c.WriteTimeout, 5*time.Second),
		AllowAutoTopicCreation: true,
	}
	return &Producer{w: w}
}

// Write sends raw values keyed for partitioning.
func (p *Producer) Write(ctx context.Context, topic, key string, value []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{Topic: topic, Key: []byte(key), Value: value})
}

// Publish marshals payload as JSON.
func (p *Producer) Publish(ctx context.Context, topic, key string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}
	return p.Write(ctx, topic, key, b)
}

func (p *Producer) Close() error { return p.w.Close() }
