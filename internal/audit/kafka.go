package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used here.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaRepo publishes audit events for downstream security tooling.
// Messages are keyed by user id so one user's events stay ordered.
type KafkaRepo struct {
	w MessageWriter
}

func NewKafkaRepo(w MessageWriter) *KafkaRepo {
	return &KafkaRepo{w: w}
}

// NewKafkaWriter builds a writer for the audit topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		// Audit writes sit on the login path; do not wait for a full batch.
		BatchTimeout: 10 * time.Millisecond,
	}
}

func (r *KafkaRepo) Append(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: encode event: %w", err)
	}
	key := e.UserID
	if key == "" {
		key = e.IPAddress
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "severity", Value: []byte(e.Severity)},
		},
	}
	if err := r.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("audit: publish: %w", err)
	}
	return nil
}
