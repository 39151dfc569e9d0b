package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"marquee/internal/config"
)

// MessageWriter is the subset of kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON records for downstream consumers.
// Records are keyed by the affected entity so one entity's events stay ordered.
type KafkaSink struct {
	writer MessageWriter
	now    func() time.Time
}

type record struct {
	Event      Event     `json:"event"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    Payload   `json:"payload"`
}

// NewKafkaSink builds a synchronous writer for the configured brokers and topic.
func NewKafkaSink(cfg config.Notifications) *KafkaSink {
	writeTimeout := time.Duration(cfg.KafkaWriteTimeout) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	attempts := cfg.KafkaMaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return NewKafkaSinkWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: writeTimeout,
		MaxAttempts:  attempts,
		RequiredAcks: kafka.RequireOne,
	})
}

// NewKafkaSinkWithWriter wraps an existing writer.
func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w, now: time.Now}
}

// Publish implements Sink.
func (k *KafkaSink) Publish(ctx context.Context, event Event, payload Payload) error {
	value, err := json.Marshal(record{Event: event, OccurredAt: k.now().UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal kafka record: %w", err)
	}
	msg := kafka.Message{Key: []byte(recordKey(event, payload)), Value: value, Time: k.now().UTC()}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka record: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

func recordKey(event Event, p Payload) string {
	for _, key := range []string{"payoutId", "assetId", "cycleId"} {
		if v := p.str(key); v != "" {
			return v
		}
	}
	return string(event)
}
