package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// ResultCreated is published after a swap result has been stored.
type ResultCreated struct {
	ID             string    `json:"id"`
	ResultPath     string    `json:"resultPath"`
	SourceFilename string    `json:"sourceFilename"`
	TargetFilename string    `json:"targetFilename"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Publisher interface {
	PublishResultCreated(ctx context.Context, event ResultCreated) error
	Close() error
}

// NewPublisher returns a Kafka publisher, or a no-op one when no brokers are configured.
func NewPublisher(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return NoopPublisher{}
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	slog.Info("result events enabled", "brokers", brokers, "topic", topic)
	return &KafkaPublisher{writer: writer}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
}

func (p *KafkaPublisher) PublishResultCreated(ctx context.Context, event ResultCreated) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for result %s: %w", event.ID, err)
	}
	msg := kafka.Message{
		Key:   []byte(event.ID),
		Value: payload,
		Time:  event.CreatedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event for result %s: %w", event.ID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type NoopPublisher struct{}

func (NoopPublisher) PublishResultCreated(ctx context.Context, event ResultCreated) error {
	return nil
}

func (NoopPublisher) Close() error {
	return nil
}
