package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes events keyed by bet id, so one bet's events stay in
// one partition and keep their order.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Record(ctx context.Context, e Event) error {
	data, err := e.marshal()
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(e.BetID),
		Value: data,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error { return s.writer.Close() }
