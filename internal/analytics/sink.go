package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each event as a JSON message keyed by session ID so a
// visitor's events land on one partition.
type KafkaSink struct {
	w messageWriter
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (s *KafkaSink) Write(ctx context.Context, events []Event) error {
	msgs, err := toMessages(events)
	if err != nil {
		return err
	}
	if err := s.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write analytics messages: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.w.Close()
}

func toMessages(events []Event) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode analytics event %s: %w", e.Name, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.SessionID),
			Value: value,
			Time:  e.Timestamp,
			Headers: []kafka.Header{
				{Key: "event", Value: []byte(e.Name)},
			},
		})
	}
	return msgs, nil
}

// LogSink writes batches to the application log when no broker is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(_ context.Context, events []Event) error {
	for _, e := range events {
		s.logger.Info("analytics event",
			zap.String("name", e.Name),
			zap.String("session_id", e.SessionID),
			zap.String("path", e.Path),
			zap.Time("timestamp", e.Timestamp),
			zap.Any("properties", e.Properties))
	}
	return nil
}

func (s *LogSink) Close() error {
	return nil
}
