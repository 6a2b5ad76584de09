// Package deadletter parks settlement events that could not be applied so a
// retry worker can replay them.
package deadletter

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/wash-hup/internal/models"
)

// Failure is one charge event that failed reconciliation.
type Failure struct {
	Event    models.ChargeEvent `json:"event"`
	Reason   string             `json:"reason"`
	Attempts int                `json:"attempts"`
	FailedAt time.Time          `json:"failed_at"`
}

type Publisher interface {
	Publish(ctx context.Context, f Failure) error
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &KafkaProducer{writer: w}
}

// Publish keys by reference so retries of one payment stay ordered.
func (k *KafkaProducer) Publish(ctx context.Context, f Failure) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(f.Event.Reference), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

func Decode(m kafka.Message) (Failure, error) {
	var f Failure
	err := json.Unmarshal(m.Value, &f)
	return f, err
}

// LogSink keeps failures in memory and logs them at error level. It stands
// in when no Kafka brokers are configured.
type LogSink struct {
	mu       sync.Mutex
	logger   *slog.Logger
	failures []Failure
}

func NewLogSink(logger *slog.Logger) *LogSink { return &LogSink{logger: logger} }

func (s *LogSink) Publish(_ context.Context, f Failure) error {
	s.mu.Lock()
	s.failures = append(s.failures, f)
	s.mu.Unlock()
	s.logger.Error("settlement dead-lettered", "reference", f.Event.Reference, "provider", f.Event.Provider, "reason", f.Reason, "attempts", f.Attempts)
	return nil
}

func (s *LogSink) Failures() []Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Failure(nil), s.failures...)
}
