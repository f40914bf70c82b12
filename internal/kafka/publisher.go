// Package kafka streams transparency events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"pitaxi/internal/config"
	"pitaxi/internal/domain"
)

// messageWriter is the subset of *kafka.Writer used by Publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes transparency log entries as JSON messages keyed by trip.
type Publisher struct {
	writer messageWriter
}

// NewPublisher creates a publisher for the configured brokers and topic.
func NewPublisher(cfg config.KafkaConfig) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

type eventMessage struct {
	ID          string         `json:"id"`
	EventType   string         `json:"event_type"`
	TripID      string         `json:"trip_id,omitempty"`
	Description string         `json:"description"`
	PublicData  map[string]any `json:"public_data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Publish writes one event. Events without a trip are keyed by event type.
func (p *Publisher) Publish(ctx context.Context, entry *domain.TransparencyLog) error {
	payload, err := json.Marshal(eventMessage{
		ID:          entry.ID,
		EventType:   string(entry.EventType),
		TripID:      entry.TripID,
		Description: entry.Description,
		PublicData:  entry.PublicData,
		CreatedAt:   entry.CreatedAt,
	})
	if err != nil {
		return err
	}

	key := entry.TripID
	if key == "" {
		key = string(entry.EventType)
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  entry.CreatedAt,
	})
}

// Close flushes pending writes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
